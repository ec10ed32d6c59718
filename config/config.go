package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full bot configuration.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	Strategies StrategiesConfig `yaml:"strategies"`
	Risk       RiskConfig       `yaml:"risk"`
	Paper      PaperConfig      `yaml:"paper"`
	Feeds      FeedsConfig      `yaml:"feeds"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
}

// EngineConfig controls the cycle loop and the circuit breaker.
type EngineConfig struct {
	ScanIntervalSeconds    int     `yaml:"scan_interval_seconds"`
	RiskIntervalSeconds    int     `yaml:"risk_interval_seconds"`
	InitialCapital         float64 `yaml:"initial_capital"`
	BreakerLosses          int     `yaml:"breaker_losses"`           // consecutive losses before a cooldown
	BreakerCooldownMinutes int     `yaml:"breaker_cooldown_minutes"` // cooldown length
}

// StrategiesConfig holds the per-strategy sections.
type StrategiesConfig struct {
	CrossMarket CrossMarketConfig `yaml:"cross_market"`
	OddsValue   OddsValueConfig   `yaml:"odds_value"`
	Deviation   DeviationConfig   `yaml:"deviation"`
}

// StrategyConfig carries the runner knobs every strategy shares. Strategies
// run unless explicitly disabled, so the zero value stays useful.
type StrategyConfig struct {
	Disabled    bool    `yaml:"disabled"`
	Capital     float64 `yaml:"capital"`      // currency units the sizer draws from
	MaxFraction float64 `yaml:"max_fraction"` // cap on the capital fraction per trade
	MinSize     float64 `yaml:"min_size"`     // smallest share count worth placing
	Sizer       string  `yaml:"sizer"`        // fixed | kelly
	Fraction    float64 `yaml:"fraction"`     // stake fraction for the fixed sizer
}

// CrossMarketConfig tunes the YES/NO spread arbitrage.
type CrossMarketConfig struct {
	StrategyConfig `yaml:",inline"`
	MinSpread      float64 `yaml:"min_spread"`       // qualify when 1-(pYes+pNo) reaches this
	MinHoursToEnd  float64 `yaml:"min_hours_to_end"` // skip markets resolving sooner; negative disables
}

// OddsValueConfig tunes the odds-referenced value strategy.
type OddsValueConfig struct {
	StrategyConfig `yaml:",inline"`
	MinEdge        float64 `yaml:"min_edge"`      // fair probability minus price must reach this
	MaxOverround   float64 `yaml:"max_overround"` // skip references with a fatter margin
}

// DeviationConfig tunes the z-score mean-reversion strategy.
type DeviationConfig struct {
	StrategyConfig `yaml:",inline"`
	WindowSize     int     `yaml:"window_size"`
	MinSamples     int     `yaml:"min_samples"`
	EntryZ         float64 `yaml:"entry_z"`
	ExitZ          float64 `yaml:"exit_z"`
}

// RiskConfig sets the portfolio limits and the default exit rules attached
// to new positions. Percent values are plain percentages (20 = 20%).
type RiskConfig struct {
	MaxPositionSize      float64 `yaml:"max_position_size"`
	MaxTotalExposure     float64 `yaml:"max_total_exposure"`
	MaxDrawdownPercent   float64 `yaml:"max_drawdown_percent"`
	MaxPositions         int     `yaml:"max_positions"`
	MaxPerMarketExposure float64 `yaml:"max_per_market_exposure"`
	DailyLossLimit       float64 `yaml:"daily_loss_limit"`
	StopLossPercent      float64 `yaml:"stop_loss_percent"`
	TakeProfitPercent    float64 `yaml:"take_profit_percent"`
	TrailingStop         bool    `yaml:"trailing_stop"` // trail the stop instead of fixing it at entry
}

// PaperConfig tunes the simulated executor.
type PaperConfig struct {
	InitialCash float64 `yaml:"initial_cash"`
	FillRatio   float64 `yaml:"fill_ratio"` // share of each order that fills, (0,1]
	Slippage    float64 `yaml:"slippage"`   // adverse price move applied to fills
}

// FeedsConfig holds the market-data endpoints. The odds API key should come
// from the environment, not the file.
type FeedsConfig struct {
	CLOBBase            string `yaml:"clob_base"`
	OddsBase            string `yaml:"odds_base"`
	OddsAPIKey          string `yaml:"odds_api_key"`
	OddsCacheTTLSeconds int    `yaml:"odds_cache_ttl_seconds"`
}

// StorageConfig controls where data is persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config and the .env file if present. Environment
// variables override file values for the keys they cover. A missing config
// file is not an error: defaults alone describe a working paper session.
func Load(path string) (*Config, error) {
	// Load .env if present (silence the error when there is none).
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// ScanInterval returns the scan cycle interval as a time.Duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Engine.ScanIntervalSeconds) * time.Second
}

// RiskInterval returns the risk evaluation interval as a time.Duration.
func (c *Config) RiskInterval() time.Duration {
	return time.Duration(c.Engine.RiskIntervalSeconds) * time.Second
}

// BreakerCooldown returns the circuit breaker cooldown as a time.Duration.
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Engine.BreakerCooldownMinutes) * time.Minute
}

// OddsCacheTTL returns the odds feed cache lifetime as a time.Duration.
func (c *Config) OddsCacheTTL() time.Duration {
	return time.Duration(c.Feeds.OddsCacheTTLSeconds) * time.Second
}

// applyEnvOverrides overrides file values with environment variables when
// present.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("ODDS_API_KEY"); v != "" {
		cfg.Feeds.OddsAPIKey = v
	}
	if v := os.Getenv("EDGEBOT_DB"); v != "" {
		cfg.Storage.DSN = v
	}
}

// setDefaults fills required values that were left at zero.
func setDefaults(cfg *Config) {
	if cfg.Engine.ScanIntervalSeconds <= 0 {
		cfg.Engine.ScanIntervalSeconds = 30
	}
	if cfg.Engine.RiskIntervalSeconds <= 0 {
		cfg.Engine.RiskIntervalSeconds = 60
	}
	if cfg.Engine.InitialCapital <= 0 {
		cfg.Engine.InitialCapital = 1000
	}
	if cfg.Engine.BreakerLosses <= 0 {
		cfg.Engine.BreakerLosses = 3
	}
	if cfg.Engine.BreakerCooldownMinutes <= 0 {
		cfg.Engine.BreakerCooldownMinutes = 15
	}

	strategyDefaults(&cfg.Strategies.CrossMarket.StrategyConfig, cfg.Engine.InitialCapital, "fixed")
	if cfg.Strategies.CrossMarket.MinSpread <= 0 {
		cfg.Strategies.CrossMarket.MinSpread = 0.01
	}

	// Odds value carries a probability estimate, so Kelly applies.
	strategyDefaults(&cfg.Strategies.OddsValue.StrategyConfig, cfg.Engine.InitialCapital, "kelly")
	if cfg.Strategies.OddsValue.MinEdge <= 0 {
		cfg.Strategies.OddsValue.MinEdge = 0.03
	}
	if cfg.Strategies.OddsValue.MaxOverround <= 0 {
		cfg.Strategies.OddsValue.MaxOverround = 0.12
	}

	strategyDefaults(&cfg.Strategies.Deviation.StrategyConfig, cfg.Engine.InitialCapital, "fixed")
	if cfg.Strategies.Deviation.WindowSize <= 0 {
		cfg.Strategies.Deviation.WindowSize = 30
	}
	if cfg.Strategies.Deviation.MinSamples <= 0 {
		cfg.Strategies.Deviation.MinSamples = 10
	}
	if cfg.Strategies.Deviation.EntryZ <= 0 {
		cfg.Strategies.Deviation.EntryZ = 2.0
	}
	if cfg.Strategies.Deviation.ExitZ <= 0 {
		cfg.Strategies.Deviation.ExitZ = 0.5
	}

	if cfg.Risk.MaxPositionSize <= 0 {
		cfg.Risk.MaxPositionSize = cfg.Engine.InitialCapital * 0.25
	}
	if cfg.Risk.MaxTotalExposure <= 0 {
		cfg.Risk.MaxTotalExposure = cfg.Engine.InitialCapital * 0.80
	}
	if cfg.Risk.MaxDrawdownPercent <= 0 {
		cfg.Risk.MaxDrawdownPercent = 15
	}
	if cfg.Risk.MaxPositions <= 0 {
		cfg.Risk.MaxPositions = 10
	}
	if cfg.Risk.MaxPerMarketExposure <= 0 {
		cfg.Risk.MaxPerMarketExposure = cfg.Engine.InitialCapital * 0.40
	}
	if cfg.Risk.DailyLossLimit <= 0 {
		cfg.Risk.DailyLossLimit = cfg.Engine.InitialCapital * 0.10
	}
	if cfg.Risk.StopLossPercent <= 0 {
		cfg.Risk.StopLossPercent = 20
	}
	if cfg.Risk.TakeProfitPercent <= 0 {
		cfg.Risk.TakeProfitPercent = 50
	}

	if cfg.Paper.InitialCash <= 0 {
		cfg.Paper.InitialCash = cfg.Engine.InitialCapital
	}
	if cfg.Paper.FillRatio <= 0 || cfg.Paper.FillRatio > 1 {
		cfg.Paper.FillRatio = 1
	}

	if cfg.Feeds.CLOBBase == "" {
		cfg.Feeds.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.Feeds.OddsBase == "" {
		cfg.Feeds.OddsBase = "https://api.the-odds-api.com/v4"
	}
	if cfg.Feeds.OddsCacheTTLSeconds <= 0 {
		cfg.Feeds.OddsCacheTTLSeconds = 120
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "edgebot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func strategyDefaults(sc *StrategyConfig, capital float64, sizer string) {
	if sc.Capital <= 0 {
		sc.Capital = capital
	}
	if sc.MaxFraction <= 0 {
		sc.MaxFraction = 0.25
	}
	if sc.MinSize <= 0 {
		sc.MinSize = 1
	}
	if sc.Sizer == "" {
		sc.Sizer = sizer
	}
	if sc.Fraction <= 0 {
		sc.Fraction = 0.02
	}
}
