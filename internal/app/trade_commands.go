package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	clierr "github.com/hopwise/traderoute/internal/errors"
	"github.com/hopwise/traderoute/internal/execution"
	"github.com/hopwise/traderoute/internal/id"
	"github.com/hopwise/traderoute/internal/quote"
)

func (s *runtimeState) newTradeCommand() *cobra.Command {
	var f tradeRequestFlags
	var providerArg string
	var routeArg string
	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Quote, confirm the best route, and execute every hop",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := s.buildRequest(f)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := s.fetchQuotes(ctx, req); err != nil {
				return err
			}
			if err := s.session.NoQuotes(); err != nil {
				return err
			}

			if routeArg != "" {
				if providerArg == "" {
					return clierr.New(clierr.CodeUsage, "--route requires --provider")
				}
				if err := s.session.PinRoute(quote.ProviderID(providerArg), routeArg); err != nil {
					return err
				}
			} else if providerArg != "" {
				if err := s.pinBestFromProvider(cmd, quote.ProviderID(providerArg)); err != nil {
					return err
				}
			}

			controller, err := s.session.ConfirmRoute(ctx)
			if err != nil {
				return err
			}
			route := controller.Route()
			_, _ = fmt.Fprintf(s.runner.stderr, "confirmed route %s via %s (%d hop(s))\n",
				route.ID, route.Provider, len(route.Hops))

			for i := range route.Hops {
				if err := s.runHop(cmd, i); err != nil {
					return err
				}
			}

			trade, _ := s.session.Trade()
			s.session.ReleaseConfirmedRoute()
			return s.renderTrade(trade)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&providerArg, "provider", "", "Execute this provider's best route instead of the top-ranked one")
	cmd.Flags().StringVar(&routeArg, "route", "", "Execute a specific route id (with --provider)")
	return cmd
}

// pinBestFromProvider pins the named provider's highest-ranked route.
func (s *runtimeState) pinBestFromProvider(cmd *cobra.Command, pid quote.ProviderID) error {
	ranking, err := s.session.CurrentRanking(cmd.Context())
	if err != nil {
		return err
	}
	for _, r := range ranking {
		if r.Provider == pid {
			return s.session.PinRoute(pid, r.Route.ID)
		}
	}
	return clierr.New(clierr.CodeUsage, fmt.Sprintf("provider %s returned no usable route", pid))
}

func (s *runtimeState) runHop(cmd *cobra.Command, hopIndex int) error {
	events, cancel, err := s.session.ExecuteHop(cmd.Context(), hopIndex)
	if err != nil {
		return err
	}
	defer cancel()

	for ev := range events {
		switch ev.Type {
		case execution.EventSellTxSubmitted:
			_, _ = fmt.Fprintf(s.runner.stderr, "hop %d: submitted %s\n", ev.HopIndex, ev.TxHash)
		case execution.EventStatusUpdate:
			msg := ev.Message
			if ev.BuyTxHash != "" {
				msg = fmt.Sprintf("%s (buy tx %s)", msg, ev.BuyTxHash)
			}
			_, _ = fmt.Fprintf(s.runner.stderr, "hop %d: %s\n", ev.HopIndex, msg)
		case execution.EventSucceeded:
			_, _ = fmt.Fprintf(s.runner.stderr, "hop %d: succeeded (buy tx %s)\n", ev.HopIndex, ev.BuyTxHash)
			return nil
		case execution.EventFailed:
			return clierr.New(clierr.CodeConfirmation, fmt.Sprintf("hop %d failed: %s", ev.HopIndex, ev.Message))
		case execution.EventError:
			if ev.Err != nil {
				return ev.Err
			}
			return clierr.New(clierr.CodeInternal, fmt.Sprintf("hop %d: %s", ev.HopIndex, ev.Message))
		}
	}
	return clierr.New(clierr.CodeInternal, fmt.Sprintf("hop %d: event stream closed without a terminal event", hopIndex))
}

type tradeModel struct {
	ID        string   `json:"id"`
	Provider  string   `json:"provider"`
	RouteID   string   `json:"route_id"`
	Completed bool     `json:"completed"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
	Hops      []struct {
		State      string `json:"state"`
		SellTxHash string `json:"sell_tx_hash,omitempty"`
		BuyTxHash  string `json:"buy_tx_hash,omitempty"`
		Message    string `json:"message,omitempty"`
	} `json:"hops"`
	Received       string `json:"received,omitempty"`
	ReceivedSymbol string `json:"received_symbol,omitempty"`
}

func newTradeModel(trade execution.Trade) tradeModel {
	m := tradeModel{
		ID:        trade.ID,
		Provider:  string(trade.Route.Provider),
		RouteID:   trade.Route.ID,
		Completed: trade.Completed(),
		CreatedAt: trade.CreatedAt,
		UpdatedAt: trade.UpdatedAt,
	}
	for _, hop := range trade.Hops {
		m.Hops = append(m.Hops, struct {
			State      string `json:"state"`
			SellTxHash string `json:"sell_tx_hash,omitempty"`
			BuyTxHash  string `json:"buy_tx_hash,omitempty"`
			Message    string `json:"message,omitempty"`
		}{string(hop.State), hop.SellTxHash, hop.BuyTxHash, hop.Message})
	}
	if len(trade.Route.Hops) > 0 {
		last := trade.Route.Hops[len(trade.Route.Hops)-1]
		m.Received = id.FormatDecimal(last.BuyAmountAfterFees, last.BuyAsset.Decimals)
		m.ReceivedSymbol = last.BuyAsset.Symbol
	}
	return m
}

func (s *runtimeState) renderTrade(trade execution.Trade) error {
	model := newTradeModel(trade)
	return s.emit(model, func(w *strings.Builder) {
		status := "in progress"
		if model.Completed {
			status = "completed"
		}
		fmt.Fprintf(w, "trade %s via %s: %s\n", model.ID, model.Provider, status)
		for i, hop := range model.Hops {
			fmt.Fprintf(w, "  hop %d: %s", i, hop.State)
			if hop.SellTxHash != "" {
				fmt.Fprintf(w, " sell=%s", hop.SellTxHash)
			}
			if hop.BuyTxHash != "" {
				fmt.Fprintf(w, " buy=%s", hop.BuyTxHash)
			}
			if hop.Message != "" {
				fmt.Fprintf(w, " (%s)", hop.Message)
			}
			fmt.Fprintln(w)
		}
		if model.Received != "" {
			fmt.Fprintf(w, "  received %s %s\n", model.Received, model.ReceivedSymbol)
		}
	})
}

func (s *runtimeState) newTradesCommand() *cobra.Command {
	root := &cobra.Command{Use: "trades", Short: "Persisted trade records"}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.store == nil {
				return clierr.New(clierr.CodeStore, "trade store is disabled")
			}
			trades, err := s.store.List(limit)
			if err != nil {
				return err
			}
			models := make([]tradeModel, 0, len(trades))
			for _, trade := range trades {
				models = append(models, newTradeModel(trade))
			}
			return s.emit(models, func(w *strings.Builder) {
				if len(models) == 0 {
					fmt.Fprintln(w, "no trades recorded")
					return
				}
				for _, m := range models {
					status := "in progress"
					if m.Completed {
						status = "completed"
					}
					fmt.Fprintf(w, "%s  %-10s %s (%d hop(s), updated %s)\n",
						m.ID, m.Provider, status, len(m.Hops), m.UpdatedAt)
				}
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Number of trades to return")
	root.AddCommand(list)

	show := &cobra.Command{
		Use:   "show <trade-id>",
		Short: "Show one trade's hop state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.store == nil {
				return clierr.New(clierr.CodeStore, "trade store is disabled")
			}
			trade, err := s.store.Get(args[0])
			if err != nil {
				return err
			}
			return s.renderTrade(trade)
		},
	}
	root.AddCommand(show)

	return root
}
