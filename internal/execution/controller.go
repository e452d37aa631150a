package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hopwise/traderoute/internal/chains"
	clierr "github.com/hopwise/traderoute/internal/errors"
	"github.com/hopwise/traderoute/internal/providers"
	"github.com/hopwise/traderoute/internal/quote"
)

// HopStatus is the persisted per-hop execution record.
type HopStatus struct {
	State      HopState `json:"state"`
	SellTxHash string   `json:"sell_tx_hash,omitempty"`
	BuyTxHash  string   `json:"buy_tx_hash,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// Trade is a confirmed route snapshot plus its hop execution state. Once
// created it is never touched by aggregator refreshes.
type Trade struct {
	ID        string      `json:"id"`
	Route     quote.Route `json:"route"`
	Hops      []HopStatus `json:"hops"`
	CreatedAt string      `json:"created_at"`
	UpdatedAt string      `json:"updated_at"`
}

func (t *Trade) touch() {
	t.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

// Completed reports whether every hop reached a terminal state.
func (t *Trade) Completed() bool {
	for _, hop := range t.Hops {
		if !hop.State.Terminal() {
			return false
		}
	}
	return len(t.Hops) > 0
}

// Deps are the capabilities the controller drives. Wallet and Registry are
// externally owned; Store is optional.
type Deps struct {
	Wallet         chains.Wallet
	Registry       *providers.Registry
	Store          *Store
	Logger         zerolog.Logger
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
}

// Controller walks a confirmed route's hops strictly in order. At most one
// hop is ever in a non-terminal state at a time; each ExecuteHop invocation
// gets its own event channel and cancellation handle.
type Controller struct {
	deps Deps

	mu     sync.Mutex
	trade  *Trade
	active bool
}

func NewController(route *quote.Route, deps Deps) (*Controller, error) {
	if route == nil {
		return nil, clierr.New(clierr.CodeInternal, "missing route")
	}
	if err := route.Validate(); err != nil {
		return nil, err
	}
	if deps.Wallet == nil {
		return nil, clierr.New(clierr.CodeSigner, "missing wallet capability")
	}
	if deps.Registry == nil {
		return nil, clierr.New(clierr.CodeInternal, "missing provider registry")
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = 5 * time.Second
	}
	if deps.ConfirmTimeout <= 0 {
		deps.ConfirmTimeout = 30 * time.Minute
	}

	snapshot := route.Clone()
	now := time.Now().UTC().Format(time.RFC3339)
	trade := &Trade{
		ID:        uuid.NewString(),
		Route:     *snapshot,
		Hops:      make([]HopStatus, len(snapshot.Hops)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i := range trade.Hops {
		trade.Hops[i] = HopStatus{State: HopIdle}
	}

	c := &Controller{deps: deps, trade: trade}
	c.persist()
	return c, nil
}

// ResumeController rebuilds a controller around a persisted trade so hop
// state survives a reload. Re-polling is restarted by the caller; it is
// best-effort, not a correctness guarantee.
func ResumeController(trade Trade, deps Deps) (*Controller, error) {
	if len(trade.Hops) != len(trade.Route.Hops) {
		return nil, clierr.New(clierr.CodeStore, "trade hop state does not match its route")
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = 5 * time.Second
	}
	if deps.ConfirmTimeout <= 0 {
		deps.ConfirmTimeout = 30 * time.Minute
	}
	t := trade
	// Reloaded mid-flight hops restart from idle; the chain-side state is
	// unknown until the next poll.
	for i, hop := range t.Hops {
		if !hop.State.Terminal() && hop.State != HopIdle {
			t.Hops[i].State = HopIdle
		}
	}
	return &Controller{deps: deps, trade: &t}, nil
}

// Route returns the confirmed snapshot. Callers must not mutate it.
func (c *Controller) Route() *quote.Route {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &c.trade.Route
}

// Trade returns a copy of the trade record.
func (c *Controller) Trade() Trade {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := *c.trade
	t.Hops = append([]HopStatus(nil), c.trade.Hops...)
	return t
}

// ExecuteHop starts hop execution and returns its event stream plus a cancel
// handle. A terminal event is always eventually emitted unless the handle is
// invoked first, in which case all further events for the hop are
// suppressed and the hop keeps whatever state it had.
func (c *Controller) ExecuteHop(ctx context.Context, hopIndex int) (<-chan Event, context.CancelFunc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hopIndex < 0 || hopIndex >= len(c.trade.Hops) {
		return nil, nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("hop index %d out of range", hopIndex))
	}
	if c.active {
		return nil, nil, clierr.New(clierr.CodeHopOrder, "another hop is already executing")
	}
	if state := c.trade.Hops[hopIndex].State; state != HopIdle {
		return nil, nil, clierr.New(clierr.CodeHopOrder, fmt.Sprintf("hop %d is %s, not idle", hopIndex, state))
	}
	if hopIndex > 0 && c.trade.Hops[hopIndex-1].State != HopSucceeded {
		return nil, nil, clierr.New(clierr.CodeHopOrder, fmt.Sprintf("hop %d cannot start before hop %d succeeds", hopIndex, hopIndex-1))
	}

	c.active = true
	events := make(chan Event, 16)
	runCtx, cancel := context.WithCancel(ctx)
	go c.runHop(runCtx, hopIndex, events)
	return events, cancel, nil
}

func (c *Controller) runHop(ctx context.Context, hopIndex int, events chan<- Event) {
	defer func() {
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
		close(events)
	}()

	hop := c.trade.Route.Hops[hopIndex]
	log := c.deps.Logger.With().Str("trade", c.trade.ID).Int("hop", hopIndex).Logger()

	family, err := chains.FamilyForHop(hop)
	if err != nil {
		c.failHop(ctx, hopIndex, events, EventError, "resolve chain family", err)
		return
	}
	adapter, err := chains.Dispatch(family)
	if err != nil {
		c.failHop(ctx, hopIndex, events, EventError, "dispatch chain adapter", err)
		return
	}
	swapper, ok := c.deps.Registry.Get(hop.Source)
	if !ok {
		c.failHop(ctx, hopIndex, events, EventError, "resolve hop provider",
			clierr.New(clierr.CodeInternal, fmt.Sprintf("provider %q is not registered", hop.Source)))
		return
	}

	c.setState(hopIndex, HopAwaitingSignature, "")
	log.Info().Str("family", family.String()).Msg("hop awaiting signature")

	chain, _ := hop.SellAsset.Chain()
	from, err := c.deps.Wallet.DeriveAddress(ctx, chain, hop.AccountNumber)
	if err != nil {
		c.failHop(ctx, hopIndex, events, EventError, "derive signing address", err)
		return
	}
	signReq, err := adapter.Prepare(hop, from)
	if err != nil {
		c.failHop(ctx, hopIndex, events, EventFailed, "build transaction", err)
		return
	}

	// May block indefinitely on out-of-band user approval; ctx cancels it.
	signed, err := c.deps.Wallet.Sign(ctx, signReq)
	if err != nil {
		c.failHop(ctx, hopIndex, events, EventFailed, "signature rejected", err)
		return
	}

	var sellTxID string
	if family == chains.FamilyMessage {
		// Signed orders skip broadcasting: the payload goes back to the
		// provider, which returns its order identifier.
		submitter, ok := swapper.(quote.SignedOrderSubmitter)
		if !ok {
			c.failHop(ctx, hopIndex, events, EventError, "submit signed order",
				clierr.New(clierr.CodeInternal, fmt.Sprintf("provider %q does not accept signed orders", hop.Source)))
			return
		}
		sellTxID, err = submitter.SubmitSigned(ctx, c.trade.Route.ID, signed.Raw)
		if err != nil {
			c.failHop(ctx, hopIndex, events, EventFailed, "signed order rejected", err)
			return
		}
	} else {
		c.setState(hopIndex, HopBroadcasting, "")
		sellTxID, err = c.deps.Wallet.Broadcast(ctx, chain, signed)
		if err != nil {
			c.failHop(ctx, hopIndex, events, EventFailed, "broadcast rejected", err)
			return
		}
	}

	c.setSellTx(hopIndex, sellTxID)
	if !c.emit(ctx, events, Event{HopIndex: hopIndex, Type: EventSellTxSubmitted, TxHash: sellTxID}) {
		return
	}
	log.Info().Str("tx", sellTxID).Msg("hop transaction submitted")

	c.setState(hopIndex, HopConfirming, "")
	c.confirmHop(ctx, hopIndex, swapper, sellTxID, events, log)
}

var errStillPending = clierr.New(clierr.CodeConfirmation, "hop still pending")

func (c *Controller) confirmHop(ctx context.Context, hopIndex int, swapper quote.Swapper, sellTxID string, events chan<- Event, log zerolog.Logger) {
	routeID := c.trade.Route.ID
	maxTries := uint(c.deps.ConfirmTimeout/c.deps.PollInterval) + 1

	operation := func() (quote.TradeStatus, error) {
		status, err := swapper.Status(ctx, routeID, sellTxID)
		if err != nil {
			// Transient provider faults retry until the attempt budget
			// runs out.
			log.Debug().Err(err).Msg("status poll failed")
			return quote.TradeStatus{}, err
		}
		if status.BuyTxHash != "" {
			c.setBuyTx(hopIndex, status.BuyTxHash)
		}
		if status.State == quote.TradeStatusPending {
			c.emit(ctx, events, Event{
				HopIndex:  hopIndex,
				Type:      EventStatusUpdate,
				Message:   status.Message,
				BuyTxHash: status.BuyTxHash,
			})
			return quote.TradeStatus{}, errStillPending
		}
		return status, nil
	}

	status, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.deps.PollInterval)),
		backoff.WithMaxTries(maxTries),
	)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled: suppress all further events, keep current state.
			return
		}
		c.failHop(ctx, hopIndex, events, EventError, "confirmation timed out", clierr.Wrap(clierr.CodeConfirmation, "poll hop status", err))
		return
	}

	if status.State == quote.TradeStatusFailed {
		msg := status.Message
		if msg == "" {
			msg = "provider reported the swap as failed"
		}
		c.failHop(ctx, hopIndex, events, EventFailed, msg, nil)
		return
	}

	if status.BuyTxHash == "" {
		// Confirmed with no destination transaction identifier is itself a
		// reportable fault, never silently ignored.
		c.failHop(ctx, hopIndex, events, EventError, "confirmed without a destination transaction",
			clierr.New(clierr.CodeMissingBuyTx, "provider reported completion without a buy-side transaction id"))
		return
	}

	c.setState(hopIndex, HopSucceeded, status.Message)
	c.emit(ctx, events, Event{HopIndex: hopIndex, Type: EventSucceeded, BuyTxHash: status.BuyTxHash, Message: status.Message})
	log.Info().Str("buy_tx", status.BuyTxHash).Msg("hop succeeded")
}

// failHop marks the hop terminal and emits the terminal event. Failures only
// affect the current hop; previously succeeded hops are untouched.
func (c *Controller) failHop(ctx context.Context, hopIndex int, events chan<- Event, evType EventType, msg string, cause error) {
	full := msg
	if cause != nil {
		full = fmt.Sprintf("%s: %v", msg, cause)
	}
	c.setState(hopIndex, HopFailed, full)
	c.deps.Logger.Error().Str("trade", c.trade.ID).Int("hop", hopIndex).Err(cause).Msg(msg)
	c.emit(ctx, events, Event{HopIndex: hopIndex, Type: evType, Message: full, Err: cause})
}

// emit delivers an event unless the invocation has been cancelled. It
// reports whether delivery happened.
func (c *Controller) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Controller) setState(hopIndex int, state HopState, message string) {
	c.mu.Lock()
	c.trade.Hops[hopIndex].State = state
	if message != "" {
		c.trade.Hops[hopIndex].Message = message
	}
	c.trade.touch()
	c.mu.Unlock()
	c.persist()
}

func (c *Controller) setSellTx(hopIndex int, txHash string) {
	c.mu.Lock()
	c.trade.Hops[hopIndex].SellTxHash = txHash
	c.trade.touch()
	c.mu.Unlock()
	c.persist()
}

func (c *Controller) setBuyTx(hopIndex int, txHash string) {
	c.mu.Lock()
	c.trade.Hops[hopIndex].BuyTxHash = txHash
	c.trade.touch()
	c.mu.Unlock()
	c.persist()
}

func (c *Controller) persist() {
	if c.deps.Store == nil {
		return
	}
	if err := c.deps.Store.Save(c.Trade()); err != nil {
		c.deps.Logger.Warn().Err(err).Str("trade", c.trade.ID).Msg("persist trade state")
	}
}
