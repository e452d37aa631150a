package providers

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hopwise/traderoute/internal/id"
	"github.com/hopwise/traderoute/internal/quote"
)

func fixedRateRequest(t *testing.T) quote.Request {
	t.Helper()
	sellChain, err := id.ParseChain("ethereum")
	if err != nil {
		t.Fatalf("ParseChain failed: %v", err)
	}
	sellAsset, err := id.ParseAsset(sellChain, "ETH")
	if err != nil {
		t.Fatalf("ParseAsset failed: %v", err)
	}
	buyChain, err := id.ParseChain("bitcoin")
	if err != nil {
		t.Fatalf("ParseChain failed: %v", err)
	}
	buyAsset, err := id.ParseAsset(buyChain, "BTC")
	if err != nil {
		t.Fatalf("ParseAsset failed: %v", err)
	}
	return quote.Request{
		SellAsset:      sellAsset,
		BuyAsset:       buyAsset,
		SellAmount:     big.NewInt(2_000_000_000_000_000_000), // 2 ETH
		ReceiveAddress: "bc1qreceiver",
		SlippageBps:    100,
	}
}

func TestFixedRateQuoteShape(t *testing.T) {
	swapper := NewFixedRate(Thorchain, FixedRateConfig{
		Rate:          decimal.RequireFromString("0.05"),
		NetworkFee:    big.NewInt(1_000),
		EstimatedTime: time.Minute,
	})
	route, err := swapper.Quote(context.Background(), fixedRateRequest(t))
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if err := route.Validate(); err != nil {
		t.Fatalf("route invalid: %v", err)
	}
	if route.Provider != Thorchain || len(route.Hops) != 1 {
		t.Fatalf("unexpected route: %+v", route)
	}

	hop := route.Hops[0]
	// 2 ETH at 0.05 into 8-decimal BTC units.
	if hop.BuyAmountBeforeFees.String() != "10000000" {
		t.Fatalf("unexpected buy amount: %s", hop.BuyAmountBeforeFees)
	}
	if hop.Fees.NetworkFeeAsset.Symbol != "ETH" {
		t.Fatalf("fee asset should be the sell chain native asset, got %s", hop.Fees.NetworkFeeAsset.Symbol)
	}
	if hop.Source != Thorchain {
		t.Fatalf("unexpected hop source: %s", hop.Source)
	}
}

func TestFixedRateIdentityRate(t *testing.T) {
	swapper := NewFixedRate(Relay, FixedRateConfig{Rate: decimal.NewFromInt(1)})
	req := fixedRateRequest(t)
	route, err := swapper.Quote(context.Background(), req)
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	hop := route.Hops[0]
	if hop.BuyAmountBeforeFees.Cmp(hop.BuyAmountAfterFees) != 0 {
		t.Fatalf("identity rate must not introduce a fee spread: %s vs %s",
			hop.BuyAmountBeforeFees, hop.BuyAmountAfterFees)
	}
	// 2 ETH (18 decimals) -> 2 BTC (8 decimals) at rate 1.
	if hop.BuyAmountBeforeFees.String() != "200000000" {
		t.Fatalf("unexpected identity conversion: %s", hop.BuyAmountBeforeFees)
	}
}

func TestFixedRateRejectsNonPositiveAmount(t *testing.T) {
	swapper := NewFixedRate(Chainflip, FixedRateConfig{})
	req := fixedRateRequest(t)
	req.SellAmount = big.NewInt(0)
	if _, err := swapper.Quote(context.Background(), req); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestFixedRateSignedMessagePayload(t *testing.T) {
	swapper := NewFixedRate(CowSwap, FixedRateConfig{UsesSignedMessage: true})
	route, err := swapper.Quote(context.Background(), fixedRateRequest(t))
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	hop := route.Hops[0]
	if !hop.UsesSignedMessage {
		t.Fatal("hop should be tagged as signed-message")
	}
	if len(hop.Tx.Data) == 0 {
		t.Fatal("signed-message hop must carry an order payload")
	}
}

func TestFixedRateStatusAndSubmit(t *testing.T) {
	swapper := NewFixedRate(Thorchain, FixedRateConfig{})
	status, err := swapper.Status(context.Background(), "route-1", "0xsell")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != quote.TradeStatusCompleted || status.BuyTxHash == "" {
		t.Fatalf("unexpected status: %+v", status)
	}

	orderID, err := swapper.SubmitSigned(context.Background(), "route-1", []byte("sig"))
	if err != nil {
		t.Fatalf("SubmitSigned failed: %v", err)
	}
	if orderID != "order-route-1" {
		t.Fatalf("unexpected order id: %s", orderID)
	}
	if _, err := swapper.SubmitSigned(context.Background(), "route-1", nil); err == nil {
		t.Fatal("expected error for empty signed payload")
	}
}
