package quote

import (
	"context"
	"fmt"

	clierr "github.com/hopwise/traderoute/internal/errors"
)

// Swapper is the contract every swap backend implements. Quote must not
// mutate shared state or submit transactions; expected failures are reported
// as a structured *Error, never a raw transport error.
type Swapper interface {
	ID() ProviderID

	// Quote returns a route for the request, or an *Error describing why the
	// provider cannot serve it.
	Quote(ctx context.Context, req Request) (*Route, error)

	// Status reports progress of a previously broadcast (or submitted) hop.
	Status(ctx context.Context, routeID, sellTxHash string) (TradeStatus, error)
}

// SignedOrderSubmitter is implemented by providers whose hops are executed by
// submitting an off-chain signed order instead of broadcasting a transaction.
// It returns the provider-side order/transaction identifier.
type SignedOrderSubmitter interface {
	SubmitSigned(ctx context.Context, routeID string, signed []byte) (string, error)
}

// TradeStatusState is the provider-reported lifecycle of an in-flight hop.
type TradeStatusState string

const (
	TradeStatusPending   TradeStatusState = "pending"
	TradeStatusCompleted TradeStatusState = "completed"
	TradeStatusFailed    TradeStatusState = "failed"
)

type TradeStatus struct {
	State     TradeStatusState `json:"state"`
	Message   string           `json:"message,omitempty"`
	BuyTxHash string           `json:"buy_tx_hash,omitempty"`
}

// ErrorKind classifies expected per-provider quote failures.
type ErrorKind int

const (
	ErrUnsupportedTradePair ErrorKind = iota + 1
	ErrInsufficientLiquidity
	ErrFeeEstimation
	ErrValidation
)

func (k ErrorKind) String() string {
	switch k {
	case ErrUnsupportedTradePair:
		return "unsupported trade pair"
	case ErrInsufficientLiquidity:
		return "insufficient liquidity"
	case ErrFeeEstimation:
		return "network fee estimation failed"
	case ErrValidation:
		return "validation failed"
	}
	return "unknown"
}

// Error is the structured quote failure a provider reports. It is recorded
// per provider and never removes the provider from later refreshes.
type Error struct {
	Kind     ErrorKind
	Provider ProviderID
	Detail   string
	Cause    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Code maps the kind onto the stable engine error codes.
func (e *Error) Code() clierr.Code {
	switch e.Kind {
	case ErrUnsupportedTradePair:
		return clierr.CodeUnsupportedTradePair
	case ErrInsufficientLiquidity:
		return clierr.CodeInsufficientLiquidity
	case ErrFeeEstimation:
		return clierr.CodeFeeEstimation
	default:
		return clierr.CodeQuoteValidation
	}
}

func NewError(provider ProviderID, kind ErrorKind, detail string) *Error {
	return &Error{Kind: kind, Provider: provider, Detail: detail}
}

func WrapError(provider ProviderID, kind ErrorKind, detail string, cause error) *Error {
	return &Error{Kind: kind, Provider: provider, Detail: detail, Cause: cause}
}
