package chains

import (
	"context"

	"github.com/hopwise/traderoute/internal/id"
	"github.com/hopwise/traderoute/internal/quote"
)

// SignRequest is what the execution controller hands to the wallet. Exactly
// one of Tx or Message is set: Tx for on-chain families, Message for
// off-chain signed orders.
type SignRequest struct {
	Family        Family
	Chain         id.Chain
	AccountNumber uint32
	From          string
	Tx            *quote.TxRequest
	Message       []byte
}

// SignedPayload is the wallet's output: the raw signed bytes plus, for
// transaction families, the hash the broadcast will be identified by.
type SignedPayload struct {
	Raw    []byte
	TxHash string
}

// Wallet is the externally-owned signing capability. The engine never
// constructs raw protocol bytes beyond the generic transaction request; all
// cryptography lives behind this boundary. Sign may block indefinitely
// awaiting out-of-band user approval, so it must honor context cancellation.
type Wallet interface {
	DeriveAddress(ctx context.Context, chain id.Chain, accountNumber uint32) (string, error)
	Sign(ctx context.Context, req SignRequest) (SignedPayload, error)
	Broadcast(ctx context.Context, chain id.Chain, payload SignedPayload) (string, error)
}
