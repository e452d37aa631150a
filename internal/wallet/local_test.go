package wallet

import (
	"context"
	"strings"
	"testing"

	"github.com/hopwise/traderoute/internal/chains"
	clierr "github.com/hopwise/traderoute/internal/errors"
	"github.com/hopwise/traderoute/internal/id"
	"github.com/hopwise/traderoute/internal/quote"
)

// Well-known test mnemonic; never holds funds.
const testMnemonic = "test test test test test test test test test test test junk"

func TestNewLocalRejectsInvalidMnemonic(t *testing.T) {
	if _, err := NewLocal("not a mnemonic", nil); clierr.CodeOf(err) != clierr.CodeSigner {
		t.Fatalf("expected signer error, got %v", err)
	}
}

func TestDeriveAddressMatchesKnownVector(t *testing.T) {
	w, err := NewLocal(testMnemonic, nil)
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	chain, _ := id.ParseChain("ethereum")

	addr, err := w.DeriveAddress(context.Background(), chain, 0)
	if err != nil {
		t.Fatalf("DeriveAddress failed: %v", err)
	}
	if !strings.EqualFold(addr, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266") {
		t.Fatalf("unexpected account 0 address: %s", addr)
	}

	addr1, err := w.DeriveAddress(context.Background(), chain, 1)
	if err != nil {
		t.Fatalf("DeriveAddress(1) failed: %v", err)
	}
	if strings.EqualFold(addr, addr1) {
		t.Fatal("distinct accounts must derive distinct addresses")
	}
}

func TestDeriveAddressNonEVMUnsupported(t *testing.T) {
	w, err := NewLocal(testMnemonic, nil)
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	chain, _ := id.ParseChain("bitcoin")
	if _, err := w.DeriveAddress(context.Background(), chain, 0); clierr.CodeOf(err) != clierr.CodeUnsupported {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestSignMessage(t *testing.T) {
	w, err := NewLocal(testMnemonic, nil)
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	chain, _ := id.ParseChain("ethereum")

	payload, err := w.Sign(context.Background(), chains.SignRequest{
		Family:  chains.FamilyMessage,
		Chain:   chain,
		Message: []byte("order-payload"),
	})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if len(payload.Raw) != 65 {
		t.Fatalf("expected 65-byte recoverable signature, got %d bytes", len(payload.Raw))
	}

	if _, err := w.Sign(context.Background(), chains.SignRequest{Family: chains.FamilyMessage, Chain: chain}); err == nil {
		t.Fatal("expected error for empty message")
	}
}

func TestSignUnsupportedFamily(t *testing.T) {
	w, err := NewLocal(testMnemonic, nil)
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	chain, _ := id.ParseChain("bitcoin")
	_, err = w.Sign(context.Background(), chains.SignRequest{Family: chains.FamilyUTXO, Chain: chain})
	if clierr.CodeOf(err) != clierr.CodeUnsupported {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestSignEVMRequiresEndpoint(t *testing.T) {
	w, err := NewLocal(testMnemonic, nil)
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	chain, _ := id.ParseChain("ethereum")
	tx := quote.TxRequest{To: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"}
	_, err = w.Sign(context.Background(), chains.SignRequest{
		Family: chains.FamilyEVM,
		Chain:  chain,
		Tx:     &tx,
	})
	if clierr.CodeOf(err) != clierr.CodeUsage {
		t.Fatalf("expected usage error for missing rpc endpoint, got %v", err)
	}
}
