package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hopwise/traderoute/internal/id"
	"github.com/hopwise/traderoute/internal/quote"
	"github.com/hopwise/traderoute/internal/rank"
)

type tradeRequestFlags struct {
	sellChain     string
	sellAsset     string
	buyChain      string
	buyAsset      string
	amount        string
	amountDecimal string
	account       uint32
	receive       string
	send          string
}

func (f *tradeRequestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sellChain, "sell-chain", "", "Sell chain (slug or CAIP-2)")
	cmd.Flags().StringVar(&f.sellAsset, "sell", "", "Sell asset (symbol or contract address)")
	cmd.Flags().StringVar(&f.buyChain, "buy-chain", "", "Buy chain (slug or CAIP-2)")
	cmd.Flags().StringVar(&f.buyAsset, "buy", "", "Buy asset (symbol or contract address)")
	cmd.Flags().StringVar(&f.amount, "amount", "", "Sell amount in base units")
	cmd.Flags().StringVar(&f.amountDecimal, "amount-decimal", "", "Sell amount in decimal form")
	cmd.Flags().Uint32Var(&f.account, "account", 0, "Wallet account number")
	cmd.Flags().StringVar(&f.receive, "receive", "", "Receive address on the buy chain")
	cmd.Flags().StringVar(&f.send, "send", "", "Send address override on the sell chain")
	_ = cmd.MarkFlagRequired("sell-chain")
	_ = cmd.MarkFlagRequired("sell")
	_ = cmd.MarkFlagRequired("buy-chain")
	_ = cmd.MarkFlagRequired("buy")
}

func (s *runtimeState) buildRequest(f tradeRequestFlags) (quote.Request, error) {
	sellChain, err := id.ParseChain(f.sellChain)
	if err != nil {
		return quote.Request{}, err
	}
	sellAsset, err := id.ParseAsset(sellChain, f.sellAsset)
	if err != nil {
		return quote.Request{}, err
	}
	buyChain, err := id.ParseChain(f.buyChain)
	if err != nil {
		return quote.Request{}, err
	}
	buyAsset, err := id.ParseAsset(buyChain, f.buyAsset)
	if err != nil {
		return quote.Request{}, err
	}
	amount, _, err := id.NormalizeAmount(f.amount, f.amountDecimal, sellAsset.Decimals)
	if err != nil {
		return quote.Request{}, err
	}

	receive := f.receive
	if receive == "" {
		receive = s.settings.ReceiveAddress
	}
	if receive == "" && s.wallet != nil && buyChain.IsEVM() {
		derived, err := s.wallet.DeriveAddress(context.Background(), buyChain, f.account)
		if err == nil {
			receive = derived
		}
	}

	return quote.Request{
		SellAsset:      sellAsset,
		BuyAsset:       buyAsset,
		SellAmount:     amount,
		AccountNumber:  f.account,
		ReceiveAddress: receive,
		SendAddress:    f.send,
		SlippageBps:    int64(s.settings.SlippageBps),
		AffiliateBps:   int64(s.settings.AffiliateBps),
	}, nil
}

// fetchQuotes issues the request and blocks until every enabled provider
// answered or the wait deadline passes.
func (s *runtimeState) fetchQuotes(ctx context.Context, req quote.Request) error {
	if err := s.session.NewQuote(ctx, req); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.settings.QuoteTimeout+5*time.Second)
	defer cancel()
	return s.session.Wait(waitCtx)
}

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var f tradeRequestFlags
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Fetch and rank swap routes across providers",
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
			ranking, err := s.session.CurrentRanking(ctx)
			if err != nil {
				return err
			}
			active, _ := s.session.ActiveRoute(ctx)
			return s.renderRanking(req, ranking, active)
		},
	}
	f.register(cmd)
	return cmd
}

type rankedRouteModel struct {
	Rank            int      `json:"rank"`
	Active          bool     `json:"active"`
	Provider        string   `json:"provider"`
	RouteID         string   `json:"route_id"`
	BuyAmount       string   `json:"buy_amount"`
	BuySymbol       string   `json:"buy_symbol"`
	EffectiveValue  string   `json:"effective_value"`
	NetworkFeeValue string   `json:"network_fee_value"`
	EstimatedTime   string   `json:"estimated_time"`
	Hops            int      `json:"hops"`
	SignedMessage   bool     `json:"signed_message"`
	Warnings        []string `json:"warnings,omitempty"`
}

type quoteResultModel struct {
	Request struct {
		SellAsset  string `json:"sell_asset"`
		BuyAsset   string `json:"buy_asset"`
		SellAmount string `json:"sell_amount"`
	} `json:"request"`
	Routes         []rankedRouteModel `json:"routes"`
	ProviderErrors map[string]string  `json:"provider_errors,omitempty"`
}

func (s *runtimeState) renderRanking(req quote.Request, ranking []rank.Ranked, active *quote.Route) error {
	model := quoteResultModel{}
	model.Request.SellAsset = req.SellAsset.AssetID
	model.Request.BuyAsset = req.BuyAsset.AssetID
	model.Request.SellAmount = id.FormatDecimal(req.SellAmount, req.SellAsset.Decimals)

	for i, r := range ranking {
		last := r.Route.Hops[len(r.Route.Hops)-1]
		signed := false
		for _, hop := range r.Route.Hops {
			if hop.UsesSignedMessage {
				signed = true
			}
		}
		model.Routes = append(model.Routes, rankedRouteModel{
			Rank:            i + 1,
			Active:          active != nil && r.Route.ID == active.ID,
			Provider:        string(r.Provider),
			RouteID:         r.Route.ID,
			BuyAmount:       id.FormatDecimal(last.BuyAmountAfterFees, last.BuyAsset.Decimals),
			BuySymbol:       last.BuyAsset.Symbol,
			EffectiveValue:  r.Metrics.EffectiveValue.StringFixed(2),
			NetworkFeeValue: r.Metrics.NetworkFeeValue.StringFixed(2),
			EstimatedTime:   r.Metrics.TotalTime.String(),
			Hops:            len(r.Route.Hops),
			SignedMessage:   signed,
			Warnings:        r.Route.Warnings,
		})
	}

	state := s.session.Snapshot()
	for pid, err := range state.Errors() {
		if model.ProviderErrors == nil {
			model.ProviderErrors = map[string]string{}
		}
		model.ProviderErrors[string(pid)] = err.Error()
	}

	return s.emit(model, func(w *strings.Builder) {
		fmt.Fprintf(w, "Routes for %s %s -> %s\n\n",
			model.Request.SellAmount, req.SellAsset.Symbol, req.BuyAsset.Symbol)
		for _, r := range model.Routes {
			marker := " "
			if r.Active {
				marker = "*"
			}
			fmt.Fprintf(w, "%s %d. %-10s %s %s (value $%s, fees $%s, eta %s, %d hop(s))\n",
				marker, r.Rank, r.Provider, r.BuyAmount, r.BuySymbol,
				r.EffectiveValue, r.NetworkFeeValue, r.EstimatedTime, r.Hops)
			fmt.Fprintf(w, "     route %s\n", r.RouteID)
			for _, warning := range r.Warnings {
				fmt.Fprintf(w, "     warning: %s\n", warning)
			}
		}
		for provider, msg := range model.ProviderErrors {
			fmt.Fprintf(w, "\n%s: %s\n", provider, msg)
		}
	})
}
