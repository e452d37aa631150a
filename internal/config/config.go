package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GlobalFlags mirrors the root command's persistent flags. Flag values win
// over environment variables, which win over the config file.
type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Providers      string
	SlippageBps    int
	AffiliateBps   int
	QuoteTimeout   string
	PollInterval   string
	ConfirmTimeout string
	NoStore        bool
}

type Settings struct {
	OutputMode       string
	EnabledProviders []string
	SlippageBps      int
	AffiliateBps     int
	QuoteTimeout     time.Duration
	PollInterval     time.Duration
	ConfirmTimeout   time.Duration
	StoreEnabled     bool
	TradeStorePath   string
	TradeLockPath    string
	OracleKind       string
	OracleEndpoint   string
	OracleAPIKey     string
	OracleCacheTTL   time.Duration
	RPCEndpoints     map[string]string
	Mnemonic         string
	ReceiveAddress   string
}

type fileConfig struct {
	Output    string   `yaml:"output"`
	Providers []string `yaml:"providers"`
	Trade     struct {
		SlippageBps  *int `yaml:"slippage_bps"`
		AffiliateBps *int `yaml:"affiliate_bps"`
	} `yaml:"trade"`
	Quote struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"quote"`
	Execution struct {
		PollInterval   string `yaml:"poll_interval"`
		ConfirmTimeout string `yaml:"confirm_timeout"`
		StorePath      string `yaml:"store_path"`
		StoreLockPath  string `yaml:"store_lock_path"`
		StoreEnabled   *bool  `yaml:"store_enabled"`
	} `yaml:"execution"`
	Oracle struct {
		Kind      string `yaml:"kind"`
		Endpoint  string `yaml:"endpoint"`
		APIKey    string `yaml:"api_key"`
		APIKeyEnv string `yaml:"api_key_env"`
		CacheTTL  string `yaml:"cache_ttl"`
	} `yaml:"oracle"`
	Wallet struct {
		MnemonicEnv    string `yaml:"mnemonic_env"`
		ReceiveAddress string `yaml:"receive_address"`
	} `yaml:"wallet"`
	RPC map[string]string `yaml:"rpc"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "plain"
	}
	if settings.QuoteTimeout <= 0 {
		settings.QuoteTimeout = 20 * time.Second
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = 5 * time.Second
	}
	if settings.ConfirmTimeout <= 0 {
		settings.ConfirmTimeout = 30 * time.Minute
	}
	if settings.SlippageBps < 0 || settings.SlippageBps > 10_000 {
		return Settings{}, fmt.Errorf("slippage_bps must be between 0 and 10000")
	}
	if settings.AffiliateBps < 0 || settings.AffiliateBps > 10_000 {
		return Settings{}, fmt.Errorf("affiliate_bps must be between 0 and 10000")
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	storePath, lockPath, err := defaultStorePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:     "plain",
		SlippageBps:    100,
		AffiliateBps:   0,
		QuoteTimeout:   20 * time.Second,
		PollInterval:   5 * time.Second,
		ConfirmTimeout: 30 * time.Minute,
		StoreEnabled:   true,
		TradeStorePath: storePath,
		TradeLockPath:  lockPath,
		OracleKind:     "static",
		OracleCacheTTL: time.Minute,
		RPCEndpoints:   map[string]string{},
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "traderoute", "config.yaml"), nil
}

func defaultStorePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "traderoute")
	return filepath.Join(dir, "trades.db"), filepath.Join(dir, "trades.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if len(cfg.Providers) > 0 {
		settings.EnabledProviders = cfg.Providers
	}
	if cfg.Trade.SlippageBps != nil {
		settings.SlippageBps = *cfg.Trade.SlippageBps
	}
	if cfg.Trade.AffiliateBps != nil {
		settings.AffiliateBps = *cfg.Trade.AffiliateBps
	}
	if cfg.Quote.Timeout != "" {
		d, err := time.ParseDuration(cfg.Quote.Timeout)
		if err != nil {
			return fmt.Errorf("config quote.timeout: %w", err)
		}
		settings.QuoteTimeout = d
	}
	if cfg.Execution.PollInterval != "" {
		d, err := time.ParseDuration(cfg.Execution.PollInterval)
		if err != nil {
			return fmt.Errorf("config execution.poll_interval: %w", err)
		}
		settings.PollInterval = d
	}
	if cfg.Execution.ConfirmTimeout != "" {
		d, err := time.ParseDuration(cfg.Execution.ConfirmTimeout)
		if err != nil {
			return fmt.Errorf("config execution.confirm_timeout: %w", err)
		}
		settings.ConfirmTimeout = d
	}
	if cfg.Execution.StorePath != "" {
		settings.TradeStorePath = cfg.Execution.StorePath
	}
	if cfg.Execution.StoreLockPath != "" {
		settings.TradeLockPath = cfg.Execution.StoreLockPath
	}
	if cfg.Execution.StoreEnabled != nil {
		settings.StoreEnabled = *cfg.Execution.StoreEnabled
	}
	if cfg.Oracle.Kind != "" {
		settings.OracleKind = strings.ToLower(cfg.Oracle.Kind)
	}
	if cfg.Oracle.Endpoint != "" {
		settings.OracleEndpoint = cfg.Oracle.Endpoint
	}
	if cfg.Oracle.APIKey != "" {
		settings.OracleAPIKey = cfg.Oracle.APIKey
	}
	if cfg.Oracle.APIKeyEnv != "" {
		settings.OracleAPIKey = os.Getenv(cfg.Oracle.APIKeyEnv)
	}
	if cfg.Oracle.CacheTTL != "" {
		d, err := time.ParseDuration(cfg.Oracle.CacheTTL)
		if err != nil {
			return fmt.Errorf("config oracle.cache_ttl: %w", err)
		}
		settings.OracleCacheTTL = d
	}
	// Mnemonics never live in the config file, only the name of the env var
	// that carries one.
	if cfg.Wallet.MnemonicEnv != "" {
		settings.Mnemonic = os.Getenv(cfg.Wallet.MnemonicEnv)
	}
	if cfg.Wallet.ReceiveAddress != "" {
		settings.ReceiveAddress = cfg.Wallet.ReceiveAddress
	}
	for chainID, endpoint := range cfg.RPC {
		if endpoint != "" {
			settings.RPCEndpoints[chainID] = endpoint
		}
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("TRADEROUTE_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("TRADEROUTE_PROVIDERS"); v != "" {
		settings.EnabledProviders = splitList(v)
	}
	if v := os.Getenv("TRADEROUTE_SLIPPAGE_BPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.SlippageBps = n
		}
	}
	if v := os.Getenv("TRADEROUTE_AFFILIATE_BPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.AffiliateBps = n
		}
	}
	if v := os.Getenv("TRADEROUTE_QUOTE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.QuoteTimeout = d
		}
	}
	if v := os.Getenv("TRADEROUTE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.PollInterval = d
		}
	}
	if v := os.Getenv("TRADEROUTE_CONFIRM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.ConfirmTimeout = d
		}
	}
	if v := os.Getenv("TRADEROUTE_STORE_PATH"); v != "" {
		settings.TradeStorePath = v
	}
	if v := os.Getenv("TRADEROUTE_STORE_LOCK_PATH"); v != "" {
		settings.TradeLockPath = v
	}
	if v := os.Getenv("TRADEROUTE_NO_STORE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.StoreEnabled = !b
		}
	}
	if v := os.Getenv("TRADEROUTE_ORACLE_KIND"); v != "" {
		settings.OracleKind = strings.ToLower(v)
	}
	if v := os.Getenv("TRADEROUTE_ORACLE_ENDPOINT"); v != "" {
		settings.OracleEndpoint = v
	}
	if v := os.Getenv("TRADEROUTE_ORACLE_API_KEY"); v != "" {
		settings.OracleAPIKey = v
	}
	if v := os.Getenv("TRADEROUTE_MNEMONIC"); v != "" {
		settings.Mnemonic = v
	}
	if v := os.Getenv("TRADEROUTE_RECEIVE_ADDRESS"); v != "" {
		settings.ReceiveAddress = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Providers) != "" {
		settings.EnabledProviders = splitList(flags.Providers)
	}
	if flags.SlippageBps >= 0 {
		settings.SlippageBps = flags.SlippageBps
	}
	if flags.AffiliateBps >= 0 {
		settings.AffiliateBps = flags.AffiliateBps
	}
	if flags.QuoteTimeout != "" {
		d, err := time.ParseDuration(flags.QuoteTimeout)
		if err != nil {
			return fmt.Errorf("parse --quote-timeout: %w", err)
		}
		settings.QuoteTimeout = d
	}
	if flags.PollInterval != "" {
		d, err := time.ParseDuration(flags.PollInterval)
		if err != nil {
			return fmt.Errorf("parse --poll-interval: %w", err)
		}
		settings.PollInterval = d
	}
	if flags.ConfirmTimeout != "" {
		d, err := time.ParseDuration(flags.ConfirmTimeout)
		if err != nil {
			return fmt.Errorf("parse --confirm-timeout: %w", err)
		}
		settings.ConfirmTimeout = d
	}
	if flags.NoStore {
		settings.StoreEnabled = false
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		p := strings.TrimSpace(part)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
