package execution

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hopwise/traderoute/internal/chains"
	clierr "github.com/hopwise/traderoute/internal/errors"
	"github.com/hopwise/traderoute/internal/id"
	"github.com/hopwise/traderoute/internal/providers"
	"github.com/hopwise/traderoute/internal/quote"
)

type statusStep struct {
	status quote.TradeStatus
	err    error
}

// execSwapper serves a scripted status sequence; the last step repeats.
type execSwapper struct {
	pid     quote.ProviderID
	steps   []statusStep
	polls   atomic.Int64
	submits atomic.Int64
}

func (s *execSwapper) ID() quote.ProviderID { return s.pid }

func (s *execSwapper) Quote(ctx context.Context, req quote.Request) (*quote.Route, error) {
	return nil, quote.NewError(s.pid, quote.ErrValidation, "not used in execution tests")
}

func (s *execSwapper) Status(ctx context.Context, routeID, sellTxHash string) (quote.TradeStatus, error) {
	i := int(s.polls.Add(1)) - 1
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	step := s.steps[i]
	return step.status, step.err
}

func (s *execSwapper) SubmitSigned(ctx context.Context, routeID string, signed []byte) (string, error) {
	s.submits.Add(1)
	return "order-" + routeID, nil
}

type execWallet struct {
	broadcastErr error
	signErr      error
	broadcasts   atomic.Int64
}

func (w *execWallet) DeriveAddress(ctx context.Context, chain id.Chain, account uint32) (string, error) {
	return "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", nil
}

func (w *execWallet) Sign(ctx context.Context, req chains.SignRequest) (chains.SignedPayload, error) {
	if w.signErr != nil {
		return chains.SignedPayload{}, w.signErr
	}
	return chains.SignedPayload{Raw: []byte("signed"), TxHash: "0xsigned"}, nil
}

func (w *execWallet) Broadcast(ctx context.Context, chain id.Chain, payload chains.SignedPayload) (string, error) {
	if w.broadcastErr != nil {
		return "", w.broadcastErr
	}
	n := w.broadcasts.Add(1)
	if n == 1 {
		return "0xsell1", nil
	}
	return "0xsell2", nil
}

func execAsset(t *testing.T, chainRef, token string) id.Asset {
	t.Helper()
	chain, err := id.ParseChain(chainRef)
	if err != nil {
		t.Fatalf("ParseChain failed: %v", err)
	}
	asset, err := id.ParseAsset(chain, token)
	if err != nil {
		t.Fatalf("ParseAsset failed: %v", err)
	}
	return asset
}

func execHop(t *testing.T, pid quote.ProviderID, sellToken, buyToken string, signed bool) quote.Hop {
	t.Helper()
	hop := quote.Hop{
		SellAsset:          execAsset(t, "ethereum", sellToken),
		BuyAsset:           execAsset(t, "ethereum", buyToken),
		SellAmountInclFees: big.NewInt(1000),
		BuyAmountAfterFees: big.NewInt(990),
		Source:             pid,
		Tx:                 quote.TxRequest{To: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", Value: big.NewInt(1)},
	}
	if signed {
		hop.UsesSignedMessage = true
		hop.Tx.Data = []byte("order-payload")
	}
	return hop
}

func execRoute(t *testing.T, pid quote.ProviderID, hops ...quote.Hop) *quote.Route {
	t.Helper()
	return &quote.Route{ID: "route-1", Provider: pid, Hops: hops}
}

func execDeps(t *testing.T, wallet chains.Wallet, swappers ...quote.Swapper) Deps {
	t.Helper()
	reg, err := providers.NewRegistry(swappers...)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return Deps{
		Wallet:         wallet,
		Registry:       reg,
		Logger:         zerolog.Nop(),
		PollInterval:   5 * time.Millisecond,
		ConfirmTimeout: time.Second,
	}
}

// collect drains the event stream until it closes.
func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("event stream never closed; got %d events", len(out))
		}
	}
}

func TestExecuteHopHappyPath(t *testing.T) {
	swapper := &execSwapper{pid: providers.Thorchain, steps: []statusStep{
		{status: quote.TradeStatus{State: quote.TradeStatusPending, Message: "swapping"}},
		{status: quote.TradeStatus{State: quote.TradeStatusCompleted, BuyTxHash: "0xbuy1"}},
	}}
	wallet := &execWallet{}
	controller, err := NewController(execRoute(t, providers.Thorchain, execHop(t, providers.Thorchain, "ETH", "USDC", false)), execDeps(t, wallet, swapper))
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	events, cancel, err := controller.ExecuteHop(context.Background(), 0)
	if err != nil {
		t.Fatalf("ExecuteHop failed: %v", err)
	}
	defer cancel()

	got := collect(t, events)
	if len(got) < 3 {
		t.Fatalf("expected submit, update and terminal events, got %+v", got)
	}
	if got[0].Type != EventSellTxSubmitted || got[0].TxHash != "0xsell1" {
		t.Fatalf("first event must be the submit: %+v", got[0])
	}
	if got[1].Type != EventStatusUpdate || got[1].Message != "swapping" {
		t.Fatalf("expected a status update: %+v", got[1])
	}
	last := got[len(got)-1]
	if last.Type != EventSucceeded || last.BuyTxHash != "0xbuy1" {
		t.Fatalf("expected success terminal: %+v", last)
	}

	trade := controller.Trade()
	if trade.Hops[0].State != HopSucceeded || trade.Hops[0].SellTxHash != "0xsell1" || trade.Hops[0].BuyTxHash != "0xbuy1" {
		t.Fatalf("unexpected hop record: %+v", trade.Hops[0])
	}
	if !trade.Completed() {
		t.Fatal("single-hop trade must be completed")
	}
}

func TestExecuteHopBroadcastFailure(t *testing.T) {
	swapper := &execSwapper{pid: providers.Thorchain, steps: []statusStep{
		{status: quote.TradeStatus{State: quote.TradeStatusCompleted, BuyTxHash: "never"}},
	}}
	wallet := &execWallet{broadcastErr: clierr.New(clierr.CodeBroadcast, "mempool rejected tx")}
	controller, err := NewController(execRoute(t, providers.Thorchain, execHop(t, providers.Thorchain, "ETH", "USDC", false)), execDeps(t, wallet, swapper))
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	events, cancel, err := controller.ExecuteHop(context.Background(), 0)
	if err != nil {
		t.Fatalf("ExecuteHop failed: %v", err)
	}
	defer cancel()

	got := collect(t, events)
	if len(got) != 1 || got[0].Type != EventFailed {
		t.Fatalf("expected a single failure event, got %+v", got)
	}
	if controller.Trade().Hops[0].State != HopFailed {
		t.Fatal("hop must be terminal failed")
	}
	if swapper.polls.Load() != 0 {
		t.Fatal("no status polling may happen after a failed broadcast")
	}
}

func TestExecuteHopProviderReportsFailed(t *testing.T) {
	swapper := &execSwapper{pid: providers.Thorchain, steps: []statusStep{
		{status: quote.TradeStatus{State: quote.TradeStatusFailed, Message: "refunded"}},
	}}
	controller, err := NewController(execRoute(t, providers.Thorchain, execHop(t, providers.Thorchain, "ETH", "USDC", false)), execDeps(t, &execWallet{}, swapper))
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	events, cancel, err := controller.ExecuteHop(context.Background(), 0)
	if err != nil {
		t.Fatalf("ExecuteHop failed: %v", err)
	}
	defer cancel()

	got := collect(t, events)
	last := got[len(got)-1]
	if last.Type != EventFailed || last.Message != "refunded" {
		t.Fatalf("expected provider failure terminal: %+v", last)
	}
}

func TestExecuteHopCompletionWithoutBuyTxIsFault(t *testing.T) {
	swapper := &execSwapper{pid: providers.Thorchain, steps: []statusStep{
		{status: quote.TradeStatus{State: quote.TradeStatusCompleted}},
	}}
	controller, err := NewController(execRoute(t, providers.Thorchain, execHop(t, providers.Thorchain, "ETH", "USDC", false)), execDeps(t, &execWallet{}, swapper))
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	events, cancel, err := controller.ExecuteHop(context.Background(), 0)
	if err != nil {
		t.Fatalf("ExecuteHop failed: %v", err)
	}
	defer cancel()

	got := collect(t, events)
	last := got[len(got)-1]
	if last.Type != EventError {
		t.Fatalf("expected error terminal: %+v", last)
	}
	if clierr.CodeOf(last.Err) != clierr.CodeMissingBuyTx {
		t.Fatalf("expected missing-buy-tx code, got %v", last.Err)
	}
	if controller.Trade().Hops[0].State != HopFailed {
		t.Fatal("hop must be terminal failed")
	}
}

func TestExecuteHopCancellationSuppressesEvents(t *testing.T) {
	swapper := &execSwapper{pid: providers.Thorchain, steps: []statusStep{
		{status: quote.TradeStatus{State: quote.TradeStatusPending, Message: "still waiting"}},
	}}
	controller, err := NewController(execRoute(t, providers.Thorchain, execHop(t, providers.Thorchain, "ETH", "USDC", false)), execDeps(t, &execWallet{}, swapper))
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	events, cancel, err := controller.ExecuteHop(context.Background(), 0)
	if err != nil {
		t.Fatalf("ExecuteHop failed: %v", err)
	}

	// Wait for execution to reach confirming, then cancel mid-poll.
	for ev := range events {
		if ev.Type == EventStatusUpdate {
			cancel()
			break
		}
	}
	got := collect(t, events)
	for _, ev := range got {
		if ev.Terminal() {
			t.Fatalf("terminal event delivered after cancellation: %+v", ev)
		}
	}
}

func TestExecuteHopConfirmationTimeout(t *testing.T) {
	swapper := &execSwapper{pid: providers.Thorchain, steps: []statusStep{
		{err: errors.New("gateway flapping")},
	}}
	deps := execDeps(t, &execWallet{}, swapper)
	deps.PollInterval = 5 * time.Millisecond
	deps.ConfirmTimeout = 20 * time.Millisecond
	controller, err := NewController(execRoute(t, providers.Thorchain, execHop(t, providers.Thorchain, "ETH", "USDC", false)), deps)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	events, cancel, err := controller.ExecuteHop(context.Background(), 0)
	if err != nil {
		t.Fatalf("ExecuteHop failed: %v", err)
	}
	defer cancel()

	got := collect(t, events)
	last := got[len(got)-1]
	if last.Type != EventError || clierr.CodeOf(last.Err) != clierr.CodeConfirmation {
		t.Fatalf("expected confirmation timeout terminal: %+v", last)
	}
	if swapper.polls.Load() < 2 {
		t.Fatalf("expected repeated polls before giving up, got %d", swapper.polls.Load())
	}
}

func TestExecuteHopEnforcesStrictOrder(t *testing.T) {
	swapper := &execSwapper{pid: providers.Thorchain, steps: []statusStep{
		{status: quote.TradeStatus{State: quote.TradeStatusCompleted, BuyTxHash: "0xbuy"}},
	}}
	route := execRoute(t, providers.Thorchain,
		execHop(t, providers.Thorchain, "ETH", "USDC", false),
		execHop(t, providers.Thorchain, "USDC", "USDT", false),
	)
	controller, err := NewController(route, execDeps(t, &execWallet{}, swapper))
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	if _, _, err := controller.ExecuteHop(context.Background(), 1); clierr.CodeOf(err) != clierr.CodeHopOrder {
		t.Fatalf("expected hop order error, got %v", err)
	}
	if _, _, err := controller.ExecuteHop(context.Background(), 5); clierr.CodeOf(err) != clierr.CodeUsage {
		t.Fatalf("expected usage error for out-of-range index, got %v", err)
	}

	events, cancel, err := controller.ExecuteHop(context.Background(), 0)
	if err != nil {
		t.Fatalf("ExecuteHop(0) failed: %v", err)
	}
	defer cancel()
	collect(t, events)

	// Re-running a terminal hop is rejected.
	if _, _, err := controller.ExecuteHop(context.Background(), 0); clierr.CodeOf(err) != clierr.CodeHopOrder {
		t.Fatalf("expected hop order error for terminal hop, got %v", err)
	}

	events, cancel, err = controller.ExecuteHop(context.Background(), 1)
	if err != nil {
		t.Fatalf("ExecuteHop(1) failed after hop 0 success: %v", err)
	}
	defer cancel()
	got := collect(t, events)
	if got[len(got)-1].Type != EventSucceeded {
		t.Fatalf("second hop should succeed: %+v", got[len(got)-1])
	}
	finalTrade := controller.Trade()
	if !finalTrade.Completed() {
		t.Fatal("both hops terminal means completed")
	}
}

func TestExecuteHopSignedMessageSkipsBroadcast(t *testing.T) {
	swapper := &execSwapper{pid: providers.CowSwap, steps: []statusStep{
		{status: quote.TradeStatus{State: quote.TradeStatusCompleted, BuyTxHash: "0xsettle"}},
	}}
	wallet := &execWallet{}
	route := execRoute(t, providers.CowSwap, execHop(t, providers.CowSwap, "ETH", "USDC", true))
	controller, err := NewController(route, execDeps(t, wallet, swapper))
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	events, cancel, err := controller.ExecuteHop(context.Background(), 0)
	if err != nil {
		t.Fatalf("ExecuteHop failed: %v", err)
	}
	defer cancel()

	got := collect(t, events)
	if got[0].Type != EventSellTxSubmitted || got[0].TxHash != "order-route-1" {
		t.Fatalf("expected the provider order id as submit hash: %+v", got[0])
	}
	if wallet.broadcasts.Load() != 0 {
		t.Fatal("signed-order hops must never broadcast")
	}
	if swapper.submits.Load() != 1 {
		t.Fatalf("expected one signed submission, got %d", swapper.submits.Load())
	}
	if got[len(got)-1].Type != EventSucceeded {
		t.Fatalf("expected success terminal: %+v", got[len(got)-1])
	}
}

func TestResumeControllerResetsInFlightHops(t *testing.T) {
	route := execRoute(t, providers.Thorchain, execHop(t, providers.Thorchain, "ETH", "USDC", false))
	trade := Trade{
		ID:    "trade-1",
		Route: *route,
		Hops:  []HopStatus{{State: HopConfirming, SellTxHash: "0xsell"}},
	}
	swapper := &execSwapper{pid: providers.Thorchain, steps: []statusStep{
		{status: quote.TradeStatus{State: quote.TradeStatusCompleted, BuyTxHash: "0xbuy"}},
	}}
	controller, err := ResumeController(trade, execDeps(t, &execWallet{}, swapper))
	if err != nil {
		t.Fatalf("ResumeController failed: %v", err)
	}
	if controller.Trade().Hops[0].State != HopIdle {
		t.Fatalf("in-flight hop must restart idle, got %s", controller.Trade().Hops[0].State)
	}

	bad := trade
	bad.Hops = nil
	if _, err := ResumeController(bad, execDeps(t, &execWallet{}, swapper)); err == nil {
		t.Fatal("expected error for mismatched hop state")
	}
}
