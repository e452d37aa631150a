package providers

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hopwise/traderoute/internal/id"
	"github.com/hopwise/traderoute/internal/quote"
)

// FixedRateConfig shapes the deterministic quotes a FixedRate swapper emits.
type FixedRateConfig struct {
	Rate decimal.Decimal
	// NetworkFee in base units of the sell chain's native asset.
	NetworkFee        *big.Int
	EstimatedTime     time.Duration
	UsesSignedMessage bool
}

// FixedRate is an in-process swapper producing single-hop routes at a fixed
// rate. It never touches the network; the CLI dry-run mode and tests bind it
// through the registry exactly like an injected integration.
type FixedRate struct {
	pid quote.ProviderID
	cfg FixedRateConfig
}

func NewFixedRate(pid quote.ProviderID, cfg FixedRateConfig) *FixedRate {
	if cfg.Rate.IsZero() {
		cfg.Rate = decimal.NewFromInt(1)
	}
	if cfg.NetworkFee == nil {
		cfg.NetworkFee = big.NewInt(0)
	}
	if cfg.EstimatedTime <= 0 {
		cfg.EstimatedTime = 30 * time.Second
	}
	return &FixedRate{pid: pid, cfg: cfg}
}

func (f *FixedRate) ID() quote.ProviderID { return f.pid }

func (f *FixedRate) Quote(ctx context.Context, req quote.Request) (*quote.Route, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.SellAmount == nil || req.SellAmount.Sign() <= 0 {
		return nil, quote.NewError(f.pid, quote.ErrValidation, "sell amount must be positive")
	}

	sellChain, ok := id.ChainByCAIP2(req.SellAsset.ChainID)
	if !ok {
		return nil, quote.NewError(f.pid, quote.ErrUnsupportedTradePair, fmt.Sprintf("unknown sell chain %s", req.SellAsset.ChainID))
	}
	feeAsset, err := id.NativeAsset(sellChain)
	if err != nil {
		return nil, quote.WrapError(f.pid, quote.ErrFeeEstimation, "resolve fee asset", err)
	}

	buyAmount := convertAtRate(req.SellAmount, f.cfg.Rate, req.SellAsset.Decimals, req.BuyAsset.Decimals)

	routeID := uuid.NewString()
	tx := quote.TxRequest{
		To:   req.ReceiveAddress,
		Memo: fmt.Sprintf("=:%s:%s", req.BuyAsset.Symbol, req.ReceiveAddress),
	}
	if f.cfg.UsesSignedMessage {
		// The order payload the user signs off-chain.
		tx.Data = []byte(fmt.Sprintf("order:%s:%s:%s", routeID, req.BuyAsset.AssetID, buyAmount.String()))
	}

	hop := quote.Hop{
		SellAsset:           req.SellAsset,
		BuyAsset:            req.BuyAsset,
		AccountNumber:       req.AccountNumber,
		SellAmountInclFees:  new(big.Int).Set(req.SellAmount),
		BuyAmountBeforeFees: buyAmount,
		BuyAmountAfterFees:  new(big.Int).Set(buyAmount),
		Rate:                f.cfg.Rate,
		Fees: quote.FeeData{
			NetworkFee:      new(big.Int).Set(f.cfg.NetworkFee),
			NetworkFeeAsset: feeAsset,
		},
		EstimatedExecution: f.cfg.EstimatedTime,
		Source:             f.pid,
		UsesSignedMessage:  f.cfg.UsesSignedMessage,
		Tx:                 tx,
	}

	route := &quote.Route{
		ID:                routeID,
		Provider:          f.pid,
		Hops:              []quote.Hop{hop},
		Rate:              f.cfg.Rate,
		AffiliateBps:      req.AffiliateBps,
		SlippageTolerance: decimal.New(req.SlippageBps, -4),
		ReceiveAddress:    req.ReceiveAddress,
	}
	return route, nil
}

func (f *FixedRate) Status(ctx context.Context, routeID, sellTxHash string) (quote.TradeStatus, error) {
	if err := ctx.Err(); err != nil {
		return quote.TradeStatus{}, err
	}
	return quote.TradeStatus{
		State:     quote.TradeStatusCompleted,
		Message:   "swap complete",
		BuyTxHash: "buy-" + sellTxHash,
	}, nil
}

func (f *FixedRate) SubmitSigned(ctx context.Context, routeID string, signed []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(signed) == 0 {
		return "", quote.NewError(f.pid, quote.ErrValidation, "empty signed order")
	}
	return "order-" + routeID, nil
}

// convertAtRate scales a sell amount into buy base units, accounting for the
// decimal difference between the two assets.
func convertAtRate(sellAmount *big.Int, rate decimal.Decimal, sellDecimals, buyDecimals int) *big.Int {
	sell := decimal.NewFromBigInt(sellAmount, int32(-sellDecimals))
	buy := sell.Mul(rate).Shift(int32(buyDecimals))
	return buy.Truncate(0).BigInt()
}
