// Package rank turns aggregated raw quotes into a single ordered list plus
// per-route financial projections. Everything here is a pure function of its
// inputs: identical state and rates always yield identical output.
package rank

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hopwise/traderoute/internal/aggregate"
	"github.com/hopwise/traderoute/internal/oracle"
	"github.com/hopwise/traderoute/internal/providers"
	"github.com/hopwise/traderoute/internal/quote"
)

// Metrics are a route's projections in the reference currency.
type Metrics struct {
	// BuyValue is the buy amount after fees, converted.
	BuyValue decimal.Decimal
	// NetworkFeeValue is the total network fee across all hops, converted.
	NetworkFeeValue decimal.Decimal
	// EffectiveValue = BuyValue - NetworkFeeValue; the ranking key.
	EffectiveValue decimal.Decimal
	TotalTime      time.Duration
}

type Ranked struct {
	Provider quote.ProviderID
	Route    *quote.Route
	Metrics  Metrics
}

// HopNetworkFeeValue converts one hop's network fee into the reference
// currency. A missing rate values the fee at zero rather than failing, so a
// partially priced state still ranks deterministically.
func HopNetworkFeeValue(hop quote.Hop, rates oracle.Rates) decimal.Decimal {
	if hop.Fees.NetworkFee == nil || hop.Fees.NetworkFee.Sign() == 0 {
		return decimal.Zero
	}
	rate, ok := rates.Lookup(hop.Fees.NetworkFeeAsset)
	if !ok {
		return decimal.Zero
	}
	fee := decimal.NewFromBigInt(hop.Fees.NetworkFee, int32(-hop.Fees.NetworkFeeAsset.Decimals))
	return fee.Mul(rate)
}

// RouteMetrics computes a route's projections.
func RouteMetrics(route *quote.Route, rates oracle.Rates) Metrics {
	m := Metrics{
		BuyValue:        decimal.Zero,
		NetworkFeeValue: decimal.Zero,
		TotalTime:       route.TotalEstimatedExecution(),
	}
	last := route.Hops[len(route.Hops)-1]
	if last.BuyAmountAfterFees != nil {
		if rate, ok := rates.Lookup(last.BuyAsset); ok {
			buy := decimal.NewFromBigInt(last.BuyAmountAfterFees, int32(-last.BuyAsset.Decimals))
			m.BuyValue = buy.Mul(rate)
		}
	}
	for _, hop := range route.Hops {
		m.NetworkFeeValue = m.NetworkFeeValue.Add(HopNetworkFeeValue(hop, rates))
	}
	m.EffectiveValue = m.BuyValue.Sub(m.NetworkFeeValue)
	return m
}

// Rank orders every usable route by descending effective received value.
// Ties break by ascending total estimated time, then by the canonical
// provider enumeration order, then by route id. Arrival order never matters.
func Rank(state *aggregate.State, rates oracle.Rates) []Ranked {
	routes := state.Routes()
	out := make([]Ranked, 0, len(routes))
	for _, route := range routes {
		out = append(out, Ranked{
			Provider: route.Provider,
			Route:    route,
			Metrics:  RouteMetrics(route, rates),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Metrics.EffectiveValue.Equal(b.Metrics.EffectiveValue) {
			return a.Metrics.EffectiveValue.GreaterThan(b.Metrics.EffectiveValue)
		}
		if a.Metrics.TotalTime != b.Metrics.TotalTime {
			return a.Metrics.TotalTime < b.Metrics.TotalTime
		}
		if pa, pb := providerOrder(a.Provider), providerOrder(b.Provider); pa != pb {
			return pa < pb
		}
		return a.Route.ID < b.Route.ID
	})
	return out
}

func providerOrder(pid quote.ProviderID) int {
	for i, known := range providers.All {
		if known == pid {
			return i
		}
	}
	return len(providers.All)
}
