package app

import (
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hopwise/traderoute/internal/chains"
	"github.com/hopwise/traderoute/internal/config"
	clierr "github.com/hopwise/traderoute/internal/errors"
	"github.com/hopwise/traderoute/internal/execution"
	"github.com/hopwise/traderoute/internal/oracle"
	"github.com/hopwise/traderoute/internal/providers"
	"github.com/hopwise/traderoute/internal/quote"
	"github.com/hopwise/traderoute/internal/session"
	"github.com/hopwise/traderoute/internal/version"
	"github.com/hopwise/traderoute/internal/wallet"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{stdout: stdout, stderr: stderr}
}

type runtimeState struct {
	runner   *Runner
	flags    config.GlobalFlags
	verbose  bool
	settings config.Settings
	logger   zerolog.Logger

	registry *providers.Registry
	wallet   chains.Wallet
	store    *execution.Store
	session  *session.Session
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	if state.session != nil {
		state.session.Abandon()
	}
	if state.store != nil {
		_ = state.store.Close()
	}
	if err == nil {
		return 0
	}
	state.renderError(err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Multi-provider swap route engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			level := zerolog.WarnLevel
			if s.verbose {
				level = zerolog.DebugLevel
			}
			s.logger = zerolog.New(zerolog.ConsoleWriter{Out: s.runner.stderr, TimeFormat: time.RFC3339}).
				Level(level).With().Timestamp().Logger()

			if s.registry == nil {
				registry, err := buildRegistry(settings.EnabledProviders)
				if err != nil {
					return err
				}
				s.registry = registry
			}

			if settings.Mnemonic != "" && s.wallet == nil {
				w, err := wallet.NewLocal(settings.Mnemonic, settings.RPCEndpoints)
				if err != nil {
					return err
				}
				s.wallet = w
			}

			if settings.StoreEnabled && s.store == nil && needsStore(cmd.Name()) {
				store, err := execution.OpenStore(settings.TradeStorePath, settings.TradeLockPath)
				if err != nil {
					return err
				}
				s.store = store
			}

			if s.session == nil {
				s.session = session.New(s.registry, session.Options{
					Preconditions: quote.Preconditions{
						WalletConnected: settings.Mnemonic != "",
					},
					Oracle:         buildOracle(settings),
					Wallet:         s.wallet,
					Store:          s.store,
					Logger:         s.logger,
					QuoteTimeout:   settings.QuoteTimeout,
					PollInterval:   settings.PollInterval,
					ConfirmTimeout: settings.ConfirmTimeout,
				})
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})
	// Accept underscore spellings of any flag.
	cmd.PersistentFlags().SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text (default)")
	cmd.PersistentFlags().StringVar(&s.flags.Providers, "providers", "", "Enabled providers (comma-separated)")
	cmd.PersistentFlags().IntVar(&s.flags.SlippageBps, "slippage-bps", -1, "Slippage tolerance in basis points")
	cmd.PersistentFlags().IntVar(&s.flags.AffiliateBps, "affiliate-bps", -1, "Affiliate fee in basis points")
	cmd.PersistentFlags().StringVar(&s.flags.QuoteTimeout, "quote-timeout", "", "Per-provider quote timeout")
	cmd.PersistentFlags().StringVar(&s.flags.PollInterval, "poll-interval", "", "Confirmation poll interval")
	cmd.PersistentFlags().StringVar(&s.flags.ConfirmTimeout, "confirm-timeout", "", "Confirmation timeout per hop")
	cmd.PersistentFlags().BoolVar(&s.flags.NoStore, "no-store", false, "Disable the trade store")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().BoolVar(&s.verbose, "verbose", false, "Enable debug logging")

	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newTradeCommand())
	cmd.AddCommand(s.newTradesCommand())
	cmd.AddCommand(s.newProvidersCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func needsStore(command string) bool {
	switch command {
	case "trade", "list", "show":
		return true
	default:
		return false
	}
}

// demoConfigs shapes the in-process swappers each provider identity binds to
// when no external integration is injected. Rates and fees differ per
// provider so ranking is meaningful in dry runs.
var demoConfigs = map[quote.ProviderID]providers.FixedRateConfig{
	providers.Thorchain: {
		Rate:          decimal.RequireFromString("0.994"),
		NetworkFee:    big.NewInt(2_000_000_000_000_000),
		EstimatedTime: 8 * time.Minute,
	},
	providers.Chainflip: {
		Rate:          decimal.RequireFromString("0.991"),
		NetworkFee:    big.NewInt(1_200_000_000_000_000),
		EstimatedTime: 6 * time.Minute,
	},
	providers.Relay: {
		Rate:          decimal.RequireFromString("0.988"),
		NetworkFee:    big.NewInt(900_000_000_000_000),
		EstimatedTime: 90 * time.Second,
	},
	providers.CowSwap: {
		Rate:              decimal.RequireFromString("0.996"),
		NetworkFee:        big.NewInt(0),
		EstimatedTime:     3 * time.Minute,
		UsesSignedMessage: true,
	},
}

func buildRegistry(enabled []string) (*providers.Registry, error) {
	ids := make([]quote.ProviderID, 0, len(enabled))
	if len(enabled) == 0 {
		ids = append(ids, providers.All...)
	} else {
		for _, name := range enabled {
			pid := quote.ProviderID(name)
			if !providers.Known(pid) {
				return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown provider %q", name))
			}
			ids = append(ids, pid)
		}
	}
	swappers := make([]quote.Swapper, 0, len(ids))
	for _, pid := range ids {
		swappers = append(swappers, providers.NewFixedRate(pid, demoConfigs[pid]))
	}
	return providers.NewRegistry(swappers...)
}

// defaultRates is the static oracle's reference-currency table, keyed by
// CAIP-19 asset id.
func defaultRates() oracle.Rates {
	return oracle.Rates{
		"eip155:1/slip44:60":     decimal.RequireFromString("2500"),
		"eip155:8453/slip44:60":  decimal.RequireFromString("2500"),
		"eip155:42161/slip44:60": decimal.RequireFromString("2500"),
		"eip155:43114/slip44:60": decimal.RequireFromString("22"),
		"eip155:137/slip44:60":   decimal.RequireFromString("0.40"),
		"eip155:1/erc20:0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48":    decimal.RequireFromString("1"),
		"eip155:1/erc20:0xdAC17F958D2ee523a2206206994597C13D831ec7":    decimal.RequireFromString("1"),
		"eip155:8453/erc20:0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913": decimal.RequireFromString("1"),
		"eip155:42161/erc20:0xaf88d065e77c8cC2239327C5EDb3A432268e5831": decimal.RequireFromString("1"),
		"eip155:1/erc20:0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2":     decimal.RequireFromString("2500"),
		"bip122:000000000019d6689c085ae165831e93/slip44:0": decimal.RequireFromString("60000"),
		"bip122:12a765e31ffd4059bada1e25190f6e98/slip44:2": decimal.RequireFromString("85"),
		"bip122:1a91e3dace36e2be3bf030a65679fe82/slip44:3": decimal.RequireFromString("0.12"),
		"cosmos:cosmoshub-4/slip44:118":                    decimal.RequireFromString("6.50"),
		"cosmos:osmosis-1/slip44:118":                      decimal.RequireFromString("0.55"),
		"cosmos:thorchain-1/slip44:931":                    decimal.RequireFromString("4.20"),
	}
}

func buildOracle(settings config.Settings) oracle.Oracle {
	if settings.OracleKind == "http" && settings.OracleEndpoint != "" {
		client, err := oracle.NewHTTPClient(oracle.HTTPOptions{
			Endpoint: settings.OracleEndpoint,
			APIKey:   settings.OracleAPIKey,
			Timeout:  10 * time.Second,
			Retries:  2,
			CacheTTL: settings.OracleCacheTTL,
		})
		if err == nil {
			return client
		}
	}
	return oracle.NewStatic(defaultRates())
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}
