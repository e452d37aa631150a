package quote

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	clierr "github.com/hopwise/traderoute/internal/errors"
	"github.com/hopwise/traderoute/internal/id"
)

// ProviderID names a swap backend. The set of valid identities is closed and
// declared in internal/providers.
type ProviderID string

// Request describes a desired conversion. It is immutable once issued; the
// aggregator treats any change to its defining parameters as a new request.
type Request struct {
	SellAsset      id.Asset `json:"sell_asset"`
	BuyAsset       id.Asset `json:"buy_asset"`
	SellAmount     *big.Int `json:"sell_amount"`
	AccountNumber  uint32   `json:"account_number"`
	ReceiveAddress string   `json:"receive_address"`
	SendAddress    string   `json:"send_address,omitempty"`
	SlippageBps    int64    `json:"slippage_bps"`
	AffiliateBps   int64    `json:"affiliate_bps"`
	// Wallet capability flags forwarded to providers.
	CanBumpFees bool `json:"can_bump_fees"`
}

// Key identifies the request by its defining parameters. Responses tagged
// with a different key are stale and must be discarded.
func (r Request) Key() string {
	amount := "0"
	if r.SellAmount != nil {
		amount = r.SellAmount.String()
	}
	return fmt.Sprintf("%s|%s|%s|%d", r.SellAsset.AssetID, r.BuyAsset.AssetID, amount, r.AccountNumber)
}

// TxRequest is the generic unsigned-transaction shape a provider attaches to
// a hop. Chain adapters turn it into the chain-native form; for providers
// using off-chain signed orders, Data carries the order payload to sign.
type TxRequest struct {
	To       string   `json:"to"`
	Value    *big.Int `json:"value,omitempty"`
	Data     []byte   `json:"data,omitempty"`
	Memo     string   `json:"memo,omitempty"`
	GasLimit uint64   `json:"gas_limit,omitempty"`
}

// FeeData carries a hop's fees. NetworkFee is denominated in base units of
// NetworkFeeAsset (the sell-side fee asset); ProtocolFees are keyed by
// CAIP-19 asset id.
type FeeData struct {
	NetworkFee      *big.Int            `json:"network_fee"`
	NetworkFeeAsset id.Asset            `json:"network_fee_asset"`
	ProtocolFees    map[string]*big.Int `json:"protocol_fees,omitempty"`
}

// Hop is one atomic transfer within a route.
type Hop struct {
	SellAsset           id.Asset        `json:"sell_asset"`
	BuyAsset            id.Asset        `json:"buy_asset"`
	AccountNumber       uint32          `json:"account_number"`
	SellAmountInclFees  *big.Int        `json:"sell_amount_incl_fees"`
	BuyAmountBeforeFees *big.Int        `json:"buy_amount_before_fees"`
	BuyAmountAfterFees  *big.Int        `json:"buy_amount_after_fees"`
	Rate                decimal.Decimal `json:"rate"`
	Fees                FeeData         `json:"fees"`
	EstimatedExecution  time.Duration   `json:"estimated_execution_ns"`
	Source              ProviderID      `json:"source"`
	AllowanceContract   string          `json:"allowance_contract,omitempty"`
	// BridgeDirection tags hops that cross a chain bridge; only such hops
	// may break buy/sell asset contiguity with their neighbor.
	BridgeDirection string `json:"bridge_direction,omitempty"`
	// UsesSignedMessage selects the off-chain message-signing flow instead
	// of an on-chain broadcast.
	UsesSignedMessage bool      `json:"uses_signed_message,omitempty"`
	Tx                TxRequest `json:"tx"`
}

// Route is an executable conversion plan: an ordered, non-empty hop sequence.
type Route struct {
	ID                string          `json:"id"`
	Provider          ProviderID      `json:"provider"`
	Hops              []Hop           `json:"hops"`
	Rate              decimal.Decimal `json:"rate"`
	AffiliateBps      int64           `json:"affiliate_bps"`
	SlippageTolerance decimal.Decimal `json:"slippage_tolerance"`
	ReceiveAddress    string          `json:"receive_address"`
	Warnings          []string        `json:"warnings,omitempty"`
}

// Validate checks route invariants: a non-empty hop sequence whose hops are
// contiguous except across explicitly tagged bridge boundaries.
func (r *Route) Validate() error {
	if r == nil || r.ID == "" {
		return clierr.New(clierr.CodeQuoteValidation, "route is missing an id")
	}
	if len(r.Hops) == 0 {
		return clierr.New(clierr.CodeQuoteValidation, fmt.Sprintf("route %s has no hops", r.ID))
	}
	for i := 1; i < len(r.Hops); i++ {
		prev, cur := r.Hops[i-1], r.Hops[i]
		if prev.BridgeDirection != "" || cur.BridgeDirection != "" {
			continue
		}
		if prev.BuyAsset.AssetID != cur.SellAsset.AssetID {
			return clierr.New(clierr.CodeQuoteValidation,
				fmt.Sprintf("route %s: hop %d buys %s but hop %d sells %s", r.ID, i-1, prev.BuyAsset, i, cur.SellAsset))
		}
	}
	return nil
}

// TotalEstimatedExecution sums per-hop execution estimates.
func (r *Route) TotalEstimatedExecution() time.Duration {
	var total time.Duration
	for _, hop := range r.Hops {
		total += hop.EstimatedExecution
	}
	return total
}

// Clone deep-copies the route so a confirmed snapshot cannot be mutated by
// later aggregator refreshes.
func (r *Route) Clone() *Route {
	if r == nil {
		return nil
	}
	out := *r
	out.Hops = make([]Hop, len(r.Hops))
	for i, hop := range r.Hops {
		h := hop
		h.SellAmountInclFees = cloneBig(hop.SellAmountInclFees)
		h.BuyAmountBeforeFees = cloneBig(hop.BuyAmountBeforeFees)
		h.BuyAmountAfterFees = cloneBig(hop.BuyAmountAfterFees)
		h.Fees.NetworkFee = cloneBig(hop.Fees.NetworkFee)
		if hop.Fees.ProtocolFees != nil {
			h.Fees.ProtocolFees = make(map[string]*big.Int, len(hop.Fees.ProtocolFees))
			for k, v := range hop.Fees.ProtocolFees {
				h.Fees.ProtocolFees[k] = cloneBig(v)
			}
		}
		if hop.Tx.Value != nil {
			h.Tx.Value = cloneBig(hop.Tx.Value)
		}
		if hop.Tx.Data != nil {
			h.Tx.Data = append([]byte(nil), hop.Tx.Data...)
		}
		out.Hops[i] = h
	}
	if r.Warnings != nil {
		out.Warnings = append([]string(nil), r.Warnings...)
	}
	return &out
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
