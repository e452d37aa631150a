package aggregate

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	clierr "github.com/hopwise/traderoute/internal/errors"
	"github.com/hopwise/traderoute/internal/providers"
	"github.com/hopwise/traderoute/internal/quote"
)

// Options configures an Aggregator.
type Options struct {
	// Preconditions run once per Refresh, before any provider is invoked.
	Preconditions quote.Preconditions
	// QuoteTimeout bounds each individual provider call.
	QuoteTimeout time.Duration
	Logger       zerolog.Logger
	// OnUpdate fires after every state mutation (a provider answering). It
	// is called without the aggregator lock held.
	OnUpdate func()
}

// Aggregator fans a quote request out to every registered provider and
// records each outcome independently as it arrives. It never waits for all
// providers before exposing partial results.
type Aggregator struct {
	reg  *providers.Registry
	opts Options

	mu     sync.Mutex
	gen    uint64
	state  *State
	cancel context.CancelFunc
	// done is closed when every provider of the current generation answered.
	done      chan struct{}
	remaining int
}

func New(reg *providers.Registry, opts Options) *Aggregator {
	if opts.QuoteTimeout <= 0 {
		opts.QuoteTimeout = 20 * time.Second
	}
	return &Aggregator{reg: reg, opts: opts, state: newState("", nil)}
}

// Refresh issues a new quote request. Any previous non-execution fetch still
// in flight is cancelled and its late responses are discarded on arrival. A
// precondition failure short-circuits fan-out and is returned as the single
// top-level error.
func (a *Aggregator) Refresh(ctx context.Context, req quote.Request) error {
	enabled := a.reg.Enabled()

	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.gen++
	gen := a.gen
	a.state = newState(req.Key(), enabled)
	a.done = make(chan struct{})
	a.remaining = len(enabled)
	a.mu.Unlock()

	if err := quote.ValidateRequest(ctx, req, a.opts.Preconditions); err != nil {
		a.finishWithoutFanout()
		a.opts.Logger.Debug().Str("request", req.Key()).Err(err).Msg("quote request rejected before fan-out")
		return err
	}
	if len(enabled) == 0 {
		a.finishWithoutFanout()
		return clierr.New(clierr.CodeUsage, "no providers enabled")
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	for _, pid := range enabled {
		swapper, ok := a.reg.Get(pid)
		if !ok {
			continue
		}
		go a.fetch(fetchCtx, gen, req, swapper)
	}
	return nil
}

func (a *Aggregator) finishWithoutFanout() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remaining = 0
	if a.done != nil {
		close(a.done)
	}
}

func (a *Aggregator) fetch(ctx context.Context, gen uint64, req quote.Request, swapper quote.Swapper) {
	pid := swapper.ID()
	callCtx, cancel := context.WithTimeout(ctx, a.opts.QuoteTimeout)
	defer cancel()

	start := time.Now()
	route, err := swapper.Quote(callCtx, req)
	elapsed := time.Since(start)

	resp := Response{Provider: pid, AnsweredAt: time.Now()}
	switch {
	case err != nil:
		resp.Err = err
		a.opts.Logger.Debug().Str("provider", string(pid)).Dur("elapsed", elapsed).Err(err).Msg("provider quote failed")
	case route == nil:
		a.opts.Logger.Debug().Str("provider", string(pid)).Dur("elapsed", elapsed).Msg("provider returned no route")
	default:
		if verr := route.Validate(); verr != nil {
			resp.Err = quote.WrapError(pid, quote.ErrValidation, "provider returned an invalid route", verr)
		} else {
			resp.RouteID = route.ID
			resp.Route = route
			resp.Warnings = route.Warnings
			a.opts.Logger.Debug().Str("provider", string(pid)).Str("route", route.ID).Dur("elapsed", elapsed).Msg("provider quote recorded")
		}
	}

	a.record(gen, req.Key(), resp)
}

// record stores a provider outcome, discarding responses tagged with a
// superseded generation or request key.
func (a *Aggregator) record(gen uint64, requestKey string, resp Response) {
	a.mu.Lock()
	if gen != a.gen || a.state.RequestKey != requestKey {
		a.mu.Unlock()
		a.opts.Logger.Debug().Str("provider", string(resp.Provider)).Msg("discarded stale provider response")
		return
	}
	a.state.record(resp)
	a.remaining--
	if a.remaining == 0 && a.done != nil {
		close(a.done)
	}
	notify := a.opts.OnUpdate
	a.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// Snapshot returns a copy of the current aggregate state.
func (a *Aggregator) Snapshot() *State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Clone()
}

// Wait blocks until every provider of the current refresh has answered, or
// the context is done.
func (a *Aggregator) Wait(ctx context.Context) error {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	if done == nil {
		return clierr.New(clierr.CodeUsage, "no quote request in flight")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return clierr.Wrap(clierr.CodeUnavailable, "waiting for provider responses", ctx.Err())
	}
}

// NoQuotes derives the top-level no-quotes condition: it is non-nil only
// once every enabled provider has answered and none produced a usable route.
func (a *Aggregator) NoQuotes() error {
	state := a.Snapshot()
	if !state.Complete() {
		return nil
	}
	if len(state.Routes()) > 0 {
		return nil
	}
	return clierr.New(clierr.CodeNoQuotes, "no provider returned a usable route")
}

// Stop cancels any in-flight quote fetch. Confirmed or executing routes are
// unaffected; they hold their own snapshots.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}
