// Package config provides configuration management for the condor bots.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Risk and sizing defaults applied when fields are unset.
const (
	// defaultIdempotencyTTL is the lifetime of an idempotency record.
	defaultIdempotencyTTL = 24 * time.Hour
	// defaultCleanupInterval is how often expired idempotency records are purged.
	defaultCleanupInterval = time.Hour
	// defaultMaxPositionPct caps proposed notional risk as a fraction of account value.
	defaultMaxPositionPct = 0.20
	// defaultMaxCorrelatedPct caps exposure concentrated in correlated symbols.
	defaultMaxCorrelatedPct = 0.50
	// defaultBasePremiumFrac seeds the synthetic credit estimator.
	defaultBasePremiumFrac = 0.25
	// defaultVolNormalizer is the VIX level at which the estimator scales 1:1.
	defaultVolNormalizer = 20.0
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Storage     StorageConfig     `yaml:"storage"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Risk        RiskConfig        `yaml:"risk"`
	Estimator   EstimatorConfig   `yaml:"estimator"`
	Bots        []BotConfig       `yaml:"bots"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	Provider    string `yaml:"provider"`
	APIKey      string `yaml:"api_key"`
	APIEndpoint string `yaml:"api_endpoint"`
	AccountID   string `yaml:"account_id"`
}

// StorageConfig defines the durable store. A DSN starting with postgres:// or
// postgresql:// selects the Postgres driver; anything else is treated as a
// SQLite path.
type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

// IdempotencyConfig defines the dedup record lifetime and the optional Redis
// cache in front of the durable store.
type IdempotencyConfig struct {
	TTL             string `yaml:"ttl"`              // e.g. "24h"
	CleanupInterval string `yaml:"cleanup_interval"` // e.g. "1h"
	RedisAddr       string `yaml:"redis_addr"`       // empty = in-memory cache
}

// RiskConfig defines process-wide risk limits and the symbol correlation table.
type RiskConfig struct {
	RiskPerTradePct  float64             `yaml:"risk_per_trade_pct"` // fraction of capital risked per trade
	MaxContracts     int                 `yaml:"max_contracts"`
	MaxPositionPct   float64             `yaml:"max_position_pct"`   // notional risk cap vs account value
	MaxCorrelatedPct float64             `yaml:"max_correlated_pct"` // correlated exposure cap
	Correlations     map[string][]string `yaml:"correlations"`       // symbol -> correlated symbols
}

// EstimatorConfig tunes the synthetic credit estimator used when no quote
// source is reachable. The coefficients are placeholders pending calibration,
// not a verified pricing model.
type EstimatorConfig struct {
	BasePremiumFrac float64 `yaml:"base_premium_frac"`
	VolNormalizer   float64 `yaml:"vol_normalizer"`
}

// BotConfig defines one autonomous bot instance.
type BotConfig struct {
	Name            string  `yaml:"name"`
	Symbol          string  `yaml:"symbol"`
	VolSymbol       string  `yaml:"vol_symbol"`       // e.g. VIX
	Schedule        string  `yaml:"schedule"`         // cron spec for the entry window
	SDMultiplier    float64 `yaml:"sd_multiplier"`    // distance multiplier for the STD_DEV fallback
	SpreadWidth     float64 `yaml:"spread_width"`     // long-strike offset, outward
	StrikeIncrement float64 `yaml:"strike_increment"` // e.g. 5
	TradingDays     int     `yaml:"trading_days"`     // days to expiration, 1 for 0DTE
	ProfitTarget    float64 `yaml:"profit_target"`    // fraction of credit, (0,1)
	StopLossPct     float64 `yaml:"stop_loss_pct"`    // multiple of credit, > 1
	MinCredit       float64 `yaml:"min_credit"`       // per-spread floor, dollars
	AdvisorURL      string  `yaml:"advisor_url"`      // empty = no ML/advisor source
	GEXEnabled      bool    `yaml:"gex_enabled"`
	GEXURL          string  `yaml:"gex_url"` // wall data endpoint, required when gex_enabled
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables so secrets stay out of the file
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required")
	}
	if c.Broker.AccountID == "" {
		return fmt.Errorf("broker.account_id is required")
	}

	if c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required")
	}

	c.normalize()

	if _, err := time.ParseDuration(c.Idempotency.TTL); err != nil {
		return fmt.Errorf("idempotency.ttl invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Idempotency.CleanupInterval); err != nil {
		return fmt.Errorf("idempotency.cleanup_interval invalid: %w", err)
	}

	if c.Risk.RiskPerTradePct <= 0 || c.Risk.RiskPerTradePct > 0.10 {
		return fmt.Errorf("risk.risk_per_trade_pct must be in (0, 0.10]")
	}
	if c.Risk.MaxContracts <= 0 {
		return fmt.Errorf("risk.max_contracts must be > 0")
	}
	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 1 {
		return fmt.Errorf("risk.max_position_pct must be in (0, 1]")
	}
	if c.Risk.MaxCorrelatedPct <= 0 || c.Risk.MaxCorrelatedPct > 1 {
		return fmt.Errorf("risk.max_correlated_pct must be in (0, 1]")
	}

	if c.Estimator.BasePremiumFrac <= 0 || c.Estimator.BasePremiumFrac > 0.35 {
		return fmt.Errorf("estimator.base_premium_frac must be in (0, 0.35]")
	}
	if c.Estimator.VolNormalizer <= 0 {
		return fmt.Errorf("estimator.vol_normalizer must be > 0")
	}

	if len(c.Bots) == 0 {
		return fmt.Errorf("at least one bot must be configured")
	}
	names := make(map[string]bool, len(c.Bots))
	for i := range c.Bots {
		if err := c.Bots[i].validate(); err != nil {
			return fmt.Errorf("bots[%d]: %w", i, err)
		}
		if names[c.Bots[i].Name] {
			return fmt.Errorf("bots[%d]: duplicate bot name %q", i, c.Bots[i].Name)
		}
		names[c.Bots[i].Name] = true
	}

	return nil
}

func (b *BotConfig) validate() error {
	if b.Name == "" {
		return fmt.Errorf("name is required")
	}
	if b.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if b.Schedule == "" {
		return fmt.Errorf("schedule is required")
	}
	if b.SDMultiplier < 1 {
		return fmt.Errorf("sd_multiplier must be >= 1 (got %.2f)", b.SDMultiplier)
	}
	if b.SpreadWidth <= 0 {
		return fmt.Errorf("spread_width must be > 0")
	}
	if b.StrikeIncrement <= 0 {
		return fmt.Errorf("strike_increment must be > 0")
	}
	if b.TradingDays <= 0 {
		return fmt.Errorf("trading_days must be > 0")
	}
	if b.ProfitTarget <= 0 || b.ProfitTarget >= 1 {
		return fmt.Errorf("profit_target must be in (0, 1)")
	}
	if b.StopLossPct <= 1 {
		return fmt.Errorf("stop_loss_pct must be > 1")
	}
	if b.MinCredit < 0 {
		return fmt.Errorf("min_credit must be >= 0")
	}
	if b.GEXEnabled && b.GEXURL == "" {
		return fmt.Errorf("gex_url is required when gex_enabled is true")
	}
	return nil
}

// normalize fills documented defaults for unset optional fields.
func (c *Config) normalize() {
	if c.Idempotency.TTL == "" {
		c.Idempotency.TTL = defaultIdempotencyTTL.String()
	}
	if c.Idempotency.CleanupInterval == "" {
		c.Idempotency.CleanupInterval = defaultCleanupInterval.String()
	}
	if c.Risk.MaxPositionPct == 0 {
		c.Risk.MaxPositionPct = defaultMaxPositionPct
	}
	if c.Risk.MaxCorrelatedPct == 0 {
		c.Risk.MaxCorrelatedPct = defaultMaxCorrelatedPct
	}
	if c.Risk.Correlations == nil {
		c.Risk.Correlations = DefaultCorrelations()
	}
	if c.Estimator.BasePremiumFrac == 0 {
		c.Estimator.BasePremiumFrac = defaultBasePremiumFrac
	}
	if c.Estimator.VolNormalizer == 0 {
		c.Estimator.VolNormalizer = defaultVolNormalizer
	}
	for i := range c.Bots {
		if c.Bots[i].VolSymbol == "" {
			c.Bots[i].VolSymbol = "VIX"
		}
	}
}

// DefaultCorrelations is the built-in symbol correlation table. It can be
// overridden wholesale from YAML; the mapping is symmetric by convention but
// each direction is listed explicitly.
func DefaultCorrelations() map[string][]string {
	return map[string][]string{
		"SPX": {"SPY", "XSP", "ES"},
		"SPY": {"SPX", "XSP", "ES"},
		"XSP": {"SPX", "SPY"},
		"NDX": {"QQQ", "NQ"},
		"QQQ": {"NDX", "NQ"},
		"RUT": {"IWM"},
		"IWM": {"RUT"},
	}
}

// IsPaperTrading returns true if the bots are configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// IdempotencyTTL returns the parsed idempotency record lifetime.
func (c *Config) IdempotencyTTL() time.Duration {
	d, err := time.ParseDuration(c.Idempotency.TTL)
	if err != nil {
		return defaultIdempotencyTTL
	}
	return d
}

// CleanupInterval returns the parsed idempotency GC interval.
func (c *Config) CleanupInterval() time.Duration {
	d, err := time.ParseDuration(c.Idempotency.CleanupInterval)
	if err != nil {
		return defaultCleanupInterval
	}
	return d
}
