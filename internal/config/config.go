// Package config holds the flat option set of the copy trader.
// Values are layered: defaults, then an optional YAML file, then .env and the
// process environment, then command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"solana-copy-trader/internal/solana"
)

// Submission modes.
const (
	SubmitAuto      = "auto"
	SubmitBundle    = "bundle"
	SubmitBroadcast = "broadcast"
)

// Aggregator swap modes for BUY quotes.
const (
	SwapModeExactIn  = "ExactIn"
	SwapModeExactOut = "ExactOut"
)

// Audit backends.
const (
	AuditMemory     = "memory"
	AuditPostgres   = "postgres"
	AuditClickhouse = "clickhouse"
	AuditSQLite     = "sqlite"
	AuditRedis      = "redis"
)

// Config is the complete configuration surface.
type Config struct {
	TargetWallet string `yaml:"target_wallet"`
	FeedEndpoint string `yaml:"feed_endpoint"`
	RPCEndpoint  string `yaml:"rpc_endpoint"`
	PrivateKey   string `yaml:"private_key"`
	Commitment   string `yaml:"commitment"`

	BuySizeSOL    decimal.Decimal `yaml:"buy_size_sol"`
	SellPercent   int             `yaml:"sell_percent"`
	MinReserveSOL decimal.Decimal `yaml:"min_reserve_sol"`
	CUPrice       uint64          `yaml:"cu_price_micro_lamports"`
	CULimit       uint32          `yaml:"cu_limit"`
	SlippageBps   int             `yaml:"slippage_bps"`
	Simulate      bool            `yaml:"simulate"`

	SubmissionMode      string          `yaml:"submission_mode"`
	JitoEndpoint        string          `yaml:"jito_endpoint"`
	JitoTipSOL          decimal.Decimal `yaml:"jito_tip_sol"`
	ConfirmPollInterval time.Duration   `yaml:"confirm_poll_interval"`

	AggregatorURL       string `yaml:"aggregator_url"`
	PriorityFeeLamports uint64 `yaml:"priority_fee_lamports"`
	BuySwapMode         string `yaml:"buy_swap_mode"`

	PoolResolveAttempts int           `yaml:"pool_resolve_attempts"`
	PoolResolveDelay    time.Duration `yaml:"pool_resolve_delay"`

	WatchNewPools   bool `yaml:"watch_new_pools"`
	UnwindRemainder bool `yaml:"unwind_remainder"`

	Audit AuditConfig `yaml:"audit"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// AuditConfig selects the write-only audit backends.
type AuditConfig struct {
	Backends      []string `yaml:"backends"`
	PostgresDSN   string   `yaml:"postgres_dsn"`
	ClickhouseDSN string   `yaml:"clickhouse_dsn"`
	SQLitePath    string   `yaml:"sqlite_path"`
	RedisAddr     string   `yaml:"redis_addr"`
	RedisPassword string   `yaml:"redis_password"`
	RedisDB       int      `yaml:"redis_db"`
	RedisPrefix   string   `yaml:"redis_prefix"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		RPCEndpoint:         "https://api.mainnet-beta.solana.com",
		FeedEndpoint:        "wss://api.mainnet-beta.solana.com",
		Commitment:          solana.CommitmentProcessed,
		BuySizeSOL:          decimal.RequireFromString("0.01"),
		SellPercent:         100,
		MinReserveSOL:       decimal.RequireFromString("0.01"),
		CUPrice:             100_000,
		CULimit:             200_000,
		SlippageBps:         1000,
		Simulate:            true,
		SubmissionMode:      SubmitAuto,
		JitoEndpoint:        "https://mainnet.block-engine.jito.wtf/api/v1/bundles",
		JitoTipSOL:          decimal.RequireFromString("0.0001"),
		ConfirmPollInterval: 500 * time.Millisecond,
		AggregatorURL:       "https://quote-api.jup.ag/v6",
		PriorityFeeLamports: 52_000,
		BuySwapMode:         SwapModeExactIn,
		PoolResolveAttempts: 2,
		PoolResolveDelay:    10 * time.Millisecond,
		UnwindRemainder:     true,
		Audit: AuditConfig{
			Backends:    []string{AuditMemory},
			SQLitePath:  "copytrader.db",
			RedisPrefix: "copytrader",
		},
		MetricsAddr: ":9090",
		LogLevel:    "info",
		LogFormat:   "json",
	}
}

// Load builds the configuration from args (without the program name).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("copytrader", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML config file")
	envFile := fs.String("env", ".env", "Path to .env file (missing file is ignored)")
	target := fs.String("target", "", "Target wallet address (overrides config)")
	rpcURL := fs.String("rpc", "", "Solana RPC endpoint (overrides config)")
	feedURL := fs.String("feed", "", "Feed websocket endpoint (overrides config)")
	metricsAddr := fs.String("metrics-addr", "", "Metrics server address (overrides config)")
	logLevel := fs.String("log-level", "", "Log level (overrides config)")
	mode := fs.String("submission-mode", "", "auto, bundle or broadcast (overrides config)")
	watchPools := fs.Bool("watch-new-pools", false, "Subscribe to the new-pool account filter")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			return nil, err
		}
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", *envFile, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "target":
			cfg.TargetWallet = *target
		case "rpc":
			cfg.RPCEndpoint = *rpcURL
		case "feed":
			cfg.FeedEndpoint = *feedURL
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "log-level":
			cfg.LogLevel = *logLevel
		case "submission-mode":
			cfg.SubmissionMode = *mode
		case "watch-new-pools":
			cfg.WatchNewPools = *watchPools
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays a YAML file onto c.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks required options and ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.TargetWallet == "" {
		errs = append(errs, errors.New("target wallet is required"))
	} else if _, err := solana.DecodeKey(c.TargetWallet); err != nil {
		errs = append(errs, fmt.Errorf("target wallet: %w", err))
	}
	if c.RPCEndpoint == "" {
		errs = append(errs, errors.New("rpc endpoint is required"))
	}
	if c.FeedEndpoint == "" {
		errs = append(errs, errors.New("feed endpoint is required"))
	}
	if c.PrivateKey == "" {
		errs = append(errs, errors.New("private key is required"))
	} else if _, err := c.TradingKey(); err != nil {
		errs = append(errs, err)
	}
	if c.SellPercent <= 0 || c.SellPercent > 100 {
		errs = append(errs, fmt.Errorf("sell percent must be in (0,100], got %d", c.SellPercent))
	}
	if c.BuySizeSOL.IsNegative() || c.BuySizeSOL.IsZero() {
		errs = append(errs, fmt.Errorf("buy size must be positive, got %s", c.BuySizeSOL))
	}
	if c.MinReserveSOL.IsNegative() {
		errs = append(errs, fmt.Errorf("min reserve must not be negative, got %s", c.MinReserveSOL))
	}
	if c.JitoTipSOL.IsNegative() {
		errs = append(errs, fmt.Errorf("jito tip must not be negative, got %s", c.JitoTipSOL))
	}
	if c.SlippageBps < 0 || c.SlippageBps > 10_000 {
		errs = append(errs, fmt.Errorf("slippage bps must be in [0,10000], got %d", c.SlippageBps))
	}
	switch c.SubmissionMode {
	case SubmitAuto, SubmitBundle, SubmitBroadcast:
	default:
		errs = append(errs, fmt.Errorf("unknown submission mode %q", c.SubmissionMode))
	}
	switch c.BuySwapMode {
	case SwapModeExactIn, SwapModeExactOut:
	default:
		errs = append(errs, fmt.Errorf("unknown buy swap mode %q", c.BuySwapMode))
	}
	switch c.Commitment {
	case solana.CommitmentProcessed, solana.CommitmentConfirmed, solana.CommitmentFinalized:
	default:
		errs = append(errs, fmt.Errorf("unknown commitment %q", c.Commitment))
	}
	if c.PoolResolveAttempts < 1 {
		errs = append(errs, fmt.Errorf("pool resolve attempts must be >= 1, got %d", c.PoolResolveAttempts))
	}
	if c.ConfirmPollInterval <= 0 {
		errs = append(errs, errors.New("confirm poll interval must be positive"))
	}
	for _, b := range c.Audit.Backends {
		switch b {
		case AuditMemory, AuditSQLite:
		case AuditPostgres:
			if c.Audit.PostgresDSN == "" {
				errs = append(errs, errors.New("postgres audit backend needs postgres_dsn"))
			}
		case AuditClickhouse:
			if c.Audit.ClickhouseDSN == "" {
				errs = append(errs, errors.New("clickhouse audit backend needs clickhouse_dsn"))
			}
		case AuditRedis:
			if c.Audit.RedisAddr == "" {
				errs = append(errs, errors.New("redis audit backend needs redis_addr"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown audit backend %q", b))
		}
	}
	return errors.Join(errs...)
}

// TradingKey parses the base58 private key.
func (c *Config) TradingKey() (solanago.PrivateKey, error) {
	key, err := solanago.PrivateKeyFromBase58(strings.TrimSpace(c.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	return key, nil
}

// BuyLamports is the fixed buy size in lamports.
func (c *Config) BuyLamports() uint64 { return solToLamports(c.BuySizeSOL) }

// ReserveLamports is the minimum balance kept in the wallet, in lamports.
func (c *Config) ReserveLamports() uint64 { return solToLamports(c.MinReserveSOL) }

// TipLamports is the bundle tip in lamports.
func (c *Config) TipLamports() uint64 { return solToLamports(c.JitoTipSOL) }

var lamportsPerSOL = decimal.NewFromInt(solana.LamportsPerSOL)

func solToLamports(sol decimal.Decimal) uint64 {
	if sol.IsNegative() {
		return 0
	}
	return uint64(sol.Mul(lamportsPerSOL).Floor().IntPart())
}
