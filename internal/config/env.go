package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

type envBinding struct {
	key   string
	apply func(c *Config, v string) error
}

func str(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func sol(dst func(c *Config) *decimal.Decimal) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

func integer(dst func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func unsigned(dst func(c *Config) *uint64) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func boolean(dst func(c *Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func duration(dst func(c *Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"TARGET_ADDRESS", str(func(c *Config) *string { return &c.TargetWallet })},
	{"FEED_ENDPOINT", str(func(c *Config) *string { return &c.FeedEndpoint })},
	{"RPC_ENDPOINT", str(func(c *Config) *string { return &c.RPCEndpoint })},
	{"PRIVATE_KEY", str(func(c *Config) *string { return &c.PrivateKey })},
	{"COMMITMENT", str(func(c *Config) *string { return &c.Commitment })},
	{"BUY_LIMIT", sol(func(c *Config) *decimal.Decimal { return &c.BuySizeSOL })},
	{"SELL_PERCENT", integer(func(c *Config) *int { return &c.SellPercent })},
	{"MIN_SOL_BALANCE", sol(func(c *Config) *decimal.Decimal { return &c.MinReserveSOL })},
	{"CU_PRICE", unsigned(func(c *Config) *uint64 { return &c.CUPrice })},
	{"CU_LIMIT", func(c *Config, v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return err
		}
		c.CULimit = uint32(n)
		return nil
	}},
	{"SLIPPAGE_BPS", integer(func(c *Config) *int { return &c.SlippageBps })},
	{"SIMULATE", boolean(func(c *Config) *bool { return &c.Simulate })},
	{"SUBMISSION_MODE", str(func(c *Config) *string { return &c.SubmissionMode })},
	// IS_JITO=false selects plain broadcast for every run
	{"IS_JITO", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		if !b {
			c.SubmissionMode = SubmitBroadcast
		}
		return nil
	}},
	{"JITO_ENDPOINT", str(func(c *Config) *string { return &c.JitoEndpoint })},
	{"JITO_TIP", sol(func(c *Config) *decimal.Decimal { return &c.JitoTipSOL })},
	{"CONFIRM_POLL_INTERVAL", duration(func(c *Config) *time.Duration { return &c.ConfirmPollInterval })},
	{"AGGREGATOR_URL", str(func(c *Config) *string { return &c.AggregatorURL })},
	{"PRIORITY_FEE_LAMPORTS", unsigned(func(c *Config) *uint64 { return &c.PriorityFeeLamports })},
	{"BUY_SWAP_MODE", str(func(c *Config) *string { return &c.BuySwapMode })},
	{"POOL_RESOLVE_ATTEMPTS", integer(func(c *Config) *int { return &c.PoolResolveAttempts })},
	{"POOL_RESOLVE_DELAY", duration(func(c *Config) *time.Duration { return &c.PoolResolveDelay })},
	{"WATCH_NEW_POOLS", boolean(func(c *Config) *bool { return &c.WatchNewPools })},
	{"UNWIND_REMAINDER", boolean(func(c *Config) *bool { return &c.UnwindRemainder })},
	{"AUDIT_BACKENDS", func(c *Config, v string) error {
		c.Audit.Backends = splitList(v)
		return nil
	}},
	{"POSTGRES_DSN", str(func(c *Config) *string { return &c.Audit.PostgresDSN })},
	{"CLICKHOUSE_DSN", str(func(c *Config) *string { return &c.Audit.ClickhouseDSN })},
	{"SQLITE_PATH", str(func(c *Config) *string { return &c.Audit.SQLitePath })},
	{"REDIS_ADDR", str(func(c *Config) *string { return &c.Audit.RedisAddr })},
	{"REDIS_PASSWORD", str(func(c *Config) *string { return &c.Audit.RedisPassword })},
	{"REDIS_DB", integer(func(c *Config) *int { return &c.Audit.RedisDB })},
	{"REDIS_PREFIX", str(func(c *Config) *string { return &c.Audit.RedisPrefix })},
	{"METRICS_ADDR", str(func(c *Config) *string { return &c.MetricsAddr })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.LogLevel })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.LogFormat })},
}

// ApplyEnv overlays environment variables onto c. Empty values are ignored.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	for _, b := range envBindings {
		v, ok := lookup(b.key)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if err := b.apply(c, v); err != nil {
			return fmt.Errorf("env %s: %w", b.key, err)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
