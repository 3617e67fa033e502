// Package config loads and validates the engine's configuration: accounts,
// markets, and strategies. Config is loaded from a YAML file (default:
// configs/config.yaml); MIRROR_DRY_RUN can force dry-run mode.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"mirrormaker/internal/errs"
)

// Config is the top-level configuration, mapping directly onto the YAML
// file structure.
type Config struct {
	DryRun     bool             `mapstructure:"dry_run"`
	Accounts   []AccountConfig  `mapstructure:"accounts"`
	Strategies []StrategyConfig `mapstructure:"strategies"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// AccountConfig describes one exchange credential set and the adapter
// driver that speaks for it.
type AccountConfig struct {
	ID         string `mapstructure:"id"`
	DriverName string `mapstructure:"driver_name"`

	// Credentials are adapter-specific and never logged; fields are
	// generic so any driver can use the subset it needs.
	PrivateKey string `mapstructure:"private_key"`
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	Passphrase string `mapstructure:"passphrase"`

	BaseURL       string  `mapstructure:"base_url"`
	WSPublicURL   string  `mapstructure:"ws_public_url"`
	WSPrivateURL  string  `mapstructure:"ws_private_url"`
	RateLimitRPS  float64 `mapstructure:"rate_limit_rps"`
	WSPublic      bool    `mapstructure:"ws_public"`
	WSPrivate     bool    `mapstructure:"ws_private"`
}

// MarketRef names one market on one account.
type MarketRef struct {
	AccountID string `mapstructure:"account_id"`
	MarketID  string `mapstructure:"market_id"`
}

// StrategyConfig is the external, stable strategy document from spec §6:
// scheduling parameters, target/sources, and the order-back parameter set.
type StrategyConfig struct {
	ID                string        `mapstructure:"id"`
	Period            time.Duration `mapstructure:"period"`
	PeriodRandomDelay time.Duration `mapstructure:"period_random_delay"`
	Delay             time.Duration `mapstructure:"delay"`
	DelayFirstExecute bool          `mapstructure:"delay_the_first_execute"`

	Target  MarketRef   `mapstructure:"target"`
	Sources []MarketRef `mapstructure:"sources"`

	Params OrderbackParams `mapstructure:"params"`

	FX *FXConfig `mapstructure:"fx"`
}

// OrderbackParams mirrors spec §4.2's enumerated strategy parameters.
type OrderbackParams struct {
	LevelsPriceStep         string `mapstructure:"levels_price_step"`
	LevelsPriceFunc         string `mapstructure:"levels_price_func"`
	LevelsCount             int    `mapstructure:"levels_count"`
	SpreadBids              string `mapstructure:"spread_bids"`
	SpreadAsks              string `mapstructure:"spread_asks"`
	Side                    string `mapstructure:"side"`
	EnableOrderback         bool   `mapstructure:"enable_orderback"`
	MinOrderBackAmount      string `mapstructure:"min_order_back_amount"`
	OrderbackGraceTime      float64 `mapstructure:"orderback_grace_time"`
	OrderbackType           string `mapstructure:"orderback_type"`
	ApplySafeLimitsOnSource bool   `mapstructure:"apply_safe_limits_on_source"`
	MaxAmountPerOrder       string `mapstructure:"max_amount_per_order"`
}

// FXConfig selects and configures the FX provider a strategy uses.
type FXConfig struct {
	Type string  `mapstructure:"type"`
	Rate float64 `mapstructure:"rate"` // used by the "static" provider
}

// MetricsConfig controls the Prometheus HTTP server.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// StoreConfig sets where the balance cache is persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file. Environment variables are bound
// through viper with the MIRROR_ prefix, and MIRROR_DRY_RUN set to "true"
// or "1" forces dry-run mode. Per-account credentials come from the file
// only; no per-account credential env vars are read anywhere.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if dr := os.Getenv("MIRROR_DRY_RUN"); dr == "true" || dr == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges, returning a
// ConfigurationError for the first violation found.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return &errs.ConfigurationError{Field: "accounts", Reason: "at least one account is required"}
	}
	seenAccounts := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.ID == "" {
			return &errs.ConfigurationError{Field: "accounts[].id", Reason: "required"}
		}
		if a.DriverName == "" {
			return &errs.ConfigurationError{Field: "accounts[].driver_name", Reason: "required"}
		}
		seenAccounts[a.ID] = true
	}

	if len(c.Strategies) == 0 {
		return &errs.ConfigurationError{Field: "strategies", Reason: "at least one strategy is required"}
	}
	for _, s := range c.Strategies {
		if s.ID == "" {
			return &errs.ConfigurationError{Field: "strategies[].id", Reason: "required"}
		}
		if s.Period <= 0 {
			return &errs.ConfigurationError{Field: "strategies[].period", Reason: "must be > 0"}
		}
		if len(s.Sources) != 1 {
			return &errs.ConfigurationError{Field: "strategies[].sources", Reason: "exactly one source is required"}
		}
		if !seenAccounts[s.Target.AccountID] {
			return &errs.ConfigurationError{Field: "strategies[].target.account_id", Reason: "unknown account: " + s.Target.AccountID}
		}
		for _, src := range s.Sources {
			if !seenAccounts[src.AccountID] {
				return &errs.ConfigurationError{Field: "strategies[].sources[].account_id", Reason: "unknown account: " + src.AccountID}
			}
		}
		if s.Params.LevelsCount < 1 {
			return &errs.ConfigurationError{Field: "strategies[].params.levels_count", Reason: "must be >= 1"}
		}
		switch s.Params.OrderbackType {
		case "", "limit", "market":
		default:
			return &errs.ConfigurationError{Field: "strategies[].params.orderback_type", Reason: "must be limit or market"}
		}
	}

	return nil
}
