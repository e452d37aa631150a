// Package oracle supplies reference-currency rates for ranking. The engine
// only needs a point-in-time rate set; where the numbers come from is the
// host's concern.
package oracle

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/hopwise/traderoute/internal/id"
)

// Rates maps CAIP-19 asset ids to their value in the reference currency per
// whole unit of the asset.
type Rates map[string]decimal.Decimal

func (r Rates) Lookup(asset id.Asset) (decimal.Decimal, bool) {
	v, ok := r[asset.AssetID]
	return v, ok
}

// Oracle resolves rates for a set of assets.
type Oracle interface {
	Rates(ctx context.Context, assets []id.Asset) (Rates, error)
}

// Static serves a fixed rate table. Used offline and in tests.
type Static struct {
	rates Rates
}

func NewStatic(rates Rates) *Static {
	cp := make(Rates, len(rates))
	for k, v := range rates {
		cp[k] = v
	}
	return &Static{rates: cp}
}

func (s *Static) Rates(ctx context.Context, assets []id.Asset) (Rates, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(Rates, len(assets))
	for _, asset := range assets {
		if v, ok := s.rates[asset.AssetID]; ok {
			out[asset.AssetID] = v
		}
	}
	return out, nil
}
