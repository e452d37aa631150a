// Package session ties the engine together for one user trading session: it
// owns the aggregator and the single confirmed route, and is the only
// mutation path into either.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hopwise/traderoute/internal/aggregate"
	"github.com/hopwise/traderoute/internal/chains"
	clierr "github.com/hopwise/traderoute/internal/errors"
	"github.com/hopwise/traderoute/internal/execution"
	"github.com/hopwise/traderoute/internal/id"
	"github.com/hopwise/traderoute/internal/oracle"
	"github.com/hopwise/traderoute/internal/providers"
	"github.com/hopwise/traderoute/internal/quote"
	"github.com/hopwise/traderoute/internal/rank"
)

type Options struct {
	Preconditions  quote.Preconditions
	Oracle         oracle.Oracle
	Wallet         chains.Wallet
	Store          *execution.Store
	Logger         zerolog.Logger
	QuoteTimeout   time.Duration
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
}

// Pin is the user's explicit route choice: a (provider, route id) pointer
// into the aggregate state.
type Pin struct {
	Provider quote.ProviderID
	RouteID  string
}

type Session struct {
	reg  *providers.Registry
	agg  *aggregate.Aggregator
	opts Options

	mu         sync.Mutex
	req        *quote.Request
	pin        *Pin
	controller *execution.Controller
}

func New(reg *providers.Registry, opts Options) *Session {
	agg := aggregate.New(reg, aggregate.Options{
		Preconditions: opts.Preconditions,
		QuoteTimeout:  opts.QuoteTimeout,
		Logger:        opts.Logger,
	})
	return &Session{reg: reg, agg: agg, opts: opts}
}

// NewQuote issues a new quote request. The previous request's in-flight
// fetches are cancelled and the pin is dropped; a confirmed route, if any,
// is never cancelled by a new quote request.
func (s *Session) NewQuote(ctx context.Context, req quote.Request) error {
	s.mu.Lock()
	s.req = &req
	s.pin = nil
	s.mu.Unlock()
	return s.agg.Refresh(ctx, req)
}

// Wait blocks until every provider of the current request answered.
func (s *Session) Wait(ctx context.Context) error {
	return s.agg.Wait(ctx)
}

// Snapshot exposes the raw aggregate state, including per-provider errors
// for display. Callers must not mutate routes read from it.
func (s *Session) Snapshot() *aggregate.State {
	return s.agg.Snapshot()
}

// NoQuotes derives the top-level no-quotes error; nil while any provider is
// still pending or any usable route exists.
func (s *Session) NoQuotes() error {
	return s.agg.NoQuotes()
}

// rates fetches reference-currency rates for every asset the current state
// touches. With no oracle configured an empty rate set is used and ranking
// degrades to fee-blind ordering, still deterministically.
func (s *Session) rates(ctx context.Context, state *aggregate.State) (oracle.Rates, error) {
	if s.opts.Oracle == nil {
		return oracle.Rates{}, nil
	}
	seen := map[string]bool{}
	var assets []id.Asset
	add := func(a id.Asset) {
		if a.IsZero() || seen[a.AssetID] {
			return
		}
		seen[a.AssetID] = true
		assets = append(assets, a)
	}
	for _, route := range state.Routes() {
		for _, hop := range route.Hops {
			add(hop.BuyAsset)
			add(hop.Fees.NetworkFeeAsset)
		}
	}
	if len(assets) == 0 {
		return oracle.Rates{}, nil
	}
	return s.opts.Oracle.Rates(ctx, assets)
}

// CurrentRanking recomputes the deterministic ranking over the current
// aggregate state.
func (s *Session) CurrentRanking(ctx context.Context) ([]rank.Ranked, error) {
	state := s.agg.Snapshot()
	rates, err := s.rates(ctx, state)
	if err != nil {
		return nil, err
	}
	return rank.Rank(state, rates), nil
}

// ActiveRoute resolves, in order: the confirmed snapshot; the explicit pin
// if it still resolves; the top of the ranking; else nothing.
func (s *Session) ActiveRoute(ctx context.Context) (*quote.Route, bool) {
	s.mu.Lock()
	controller := s.controller
	pin := s.pin
	s.mu.Unlock()

	if controller != nil {
		return controller.Route(), true
	}

	state := s.agg.Snapshot()
	if pin != nil {
		if route, ok := state.Lookup(pin.Provider, pin.RouteID); ok {
			return route, true
		}
	}

	ranking, err := s.CurrentRanking(ctx)
	if err != nil || len(ranking) == 0 {
		return nil, false
	}
	return ranking[0].Route, true
}

// PinRoute records an explicit user selection. It must resolve in the
// current aggregate state.
func (s *Session) PinRoute(provider quote.ProviderID, routeID string) error {
	state := s.agg.Snapshot()
	if _, ok := state.Lookup(provider, routeID); !ok {
		return clierr.New(clierr.CodeUsage, "selected route is no longer available")
	}
	s.mu.Lock()
	s.pin = &Pin{Provider: provider, RouteID: routeID}
	s.mu.Unlock()
	return nil
}

func (s *Session) ClearPin() {
	s.mu.Lock()
	s.pin = nil
	s.mu.Unlock()
}

// ConfirmRoute snapshots the active route and locks it for execution. It is
// the sole transition into the execution-eligible state and fails if a
// confirmed route already exists.
func (s *Session) ConfirmRoute(ctx context.Context) (*execution.Controller, error) {
	s.mu.Lock()
	if s.controller != nil {
		s.mu.Unlock()
		return nil, clierr.New(clierr.CodeRouteConflict, "a confirmed route already exists")
	}
	s.mu.Unlock()

	route, ok := s.ActiveRoute(ctx)
	if !ok {
		return nil, clierr.New(clierr.CodeNoQuotes, "no active route to confirm")
	}

	controller, err := execution.NewController(route, execution.Deps{
		Wallet:         s.opts.Wallet,
		Registry:       s.reg,
		Store:          s.opts.Store,
		Logger:         s.opts.Logger,
		PollInterval:   s.opts.PollInterval,
		ConfirmTimeout: s.opts.ConfirmTimeout,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.controller != nil {
		return nil, clierr.New(clierr.CodeRouteConflict, "a confirmed route already exists")
	}
	s.controller = controller
	return controller, nil
}

// ExecuteHop starts the given hop of the confirmed route.
func (s *Session) ExecuteHop(ctx context.Context, hopIndex int) (<-chan execution.Event, context.CancelFunc, error) {
	s.mu.Lock()
	controller := s.controller
	s.mu.Unlock()
	if controller == nil {
		return nil, nil, clierr.New(clierr.CodeUsage, "no confirmed route")
	}
	return controller.ExecuteHop(ctx, hopIndex)
}

// Trade returns the confirmed trade record, if any.
func (s *Session) Trade() (execution.Trade, bool) {
	s.mu.Lock()
	controller := s.controller
	s.mu.Unlock()
	if controller == nil {
		return execution.Trade{}, false
	}
	return controller.Trade(), true
}

// ReleaseConfirmedRoute clears the confirmed route. Called on trade
// completion, trade failure, or explicit cancellation before execution —
// never by a background refresh.
func (s *Session) ReleaseConfirmedRoute() {
	s.mu.Lock()
	s.controller = nil
	s.mu.Unlock()
}

// Abandon tears the session down: in-flight quote fetches are cancelled and
// the confirmed route, if any, is released.
func (s *Session) Abandon() {
	s.agg.Stop()
	s.mu.Lock()
	s.controller = nil
	s.pin = nil
	s.req = nil
	s.mu.Unlock()
}
