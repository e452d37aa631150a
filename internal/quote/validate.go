package quote

import (
	"context"
	"fmt"
	"math/big"

	clierr "github.com/hopwise/traderoute/internal/errors"
	"github.com/hopwise/traderoute/internal/id"
)

// BalanceFunc looks up the spendable balance for an asset/account pair.
type BalanceFunc func(ctx context.Context, asset id.Asset, accountNumber uint32) (*big.Int, error)

// Preconditions are the request-level checks that run once before provider
// fan-out. A failure here short-circuits the whole request.
type Preconditions struct {
	WalletConnected bool
	// Balance is optional; when nil the sufficient-balance check is skipped
	// (the host may not index balances).
	Balance BalanceFunc
}

// ValidateRequest runs the request-level precondition checks. On failure no
// provider is invoked and the returned error is the single top-level failure.
func ValidateRequest(ctx context.Context, req Request, pre Preconditions) error {
	if !pre.WalletConnected {
		return clierr.New(clierr.CodeWalletDisconnected, "wallet is not connected")
	}
	if req.SellAsset.IsZero() || req.BuyAsset.IsZero() {
		return clierr.New(clierr.CodeUsage, "sell and buy assets are required")
	}
	if _, ok := id.ChainByCAIP2(req.SellAsset.ChainID); !ok {
		return clierr.New(clierr.CodeUnsupportedChain, fmt.Sprintf("unsupported sell chain %s", req.SellAsset.ChainID))
	}
	if _, ok := id.ChainByCAIP2(req.BuyAsset.ChainID); !ok {
		return clierr.New(clierr.CodeUnsupportedChain, fmt.Sprintf("unsupported buy chain %s", req.BuyAsset.ChainID))
	}
	if req.SellAmount == nil || req.SellAmount.Sign() <= 0 {
		return clierr.New(clierr.CodeInvalidAmount, "sell amount must be greater than zero")
	}
	if req.ReceiveAddress == "" {
		return clierr.New(clierr.CodeUsage, "receive address is required")
	}

	if pre.Balance != nil {
		balance, err := pre.Balance(ctx, req.SellAsset, req.AccountNumber)
		if err != nil {
			return clierr.Wrap(clierr.CodeUnavailable, "look up sell asset balance", err)
		}
		if balance.Cmp(req.SellAmount) < 0 {
			return clierr.New(clierr.CodeInsufficientBalance,
				fmt.Sprintf("balance %s is below sell amount %s %s",
					id.FormatDecimal(balance, req.SellAsset.Decimals),
					id.FormatDecimal(req.SellAmount, req.SellAsset.Decimals),
					req.SellAsset.Symbol))
		}
	}
	return nil
}
