// Package config loads and validates the YAML configuration for the
// polytrader agent, with environment variable overrides.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the polytrader agent.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Markets  MarketsConfig  `yaml:"markets"`
	Signals  SignalsConfig  `yaml:"signals"`
	Decision DecisionConfig `yaml:"decision"`
	Sizing   SizingConfig   `yaml:"sizing"`
	Risk     RiskConfig     `yaml:"risk"`
	Trading  TradingConfig  `yaml:"trading"`
	Advisory AdvisoryConfig `yaml:"advisory"`
	CLOB     CLOBConfig     `yaml:"clob"`
	Notify   NotifyConfig   `yaml:"notify"`
	Server   ServerConfig   `yaml:"server"`
	Logging  Logging        `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// MarketsConfig controls market scanning.
type MarketsConfig struct {
	CandidateLimit int     `yaml:"candidate_limit"`
	MinBid         float64 `yaml:"min_bid"`
	MaxAsk         float64 `yaml:"max_ask"`
	MinDepthUSD    float64 `yaml:"min_depth_usd"`
}

// SignalsConfig holds the signal weights and candidate thresholds.
// Weights must sum to 1.
type SignalsConfig struct {
	WeightImbalance  float64 `yaml:"weight_imbalance"`
	WeightMomentum   float64 `yaml:"weight_momentum"`
	WeightNews       float64 `yaml:"weight_news"`
	WeightResolution float64 `yaml:"weight_resolution"`
	BuyThreshold     float64 `yaml:"buy_threshold"`
	SellThreshold    float64 `yaml:"sell_threshold"`
	MomentumWindow   int     `yaml:"momentum_window"` // history points
}

// DecisionConfig controls the decision validator.
type DecisionConfig struct {
	MinConfidence float64 `yaml:"min_confidence"`
	// MaxDivergence is the allowed gap between the advisory's implied
	// direction and the composite score. Negative means "reject only on
	// opposite sign".
	MaxDivergence    float64 `yaml:"max_divergence"`
	MaxSpread        float64 `yaml:"max_spread"`
	MinDepthUSD      float64 `yaml:"min_depth_usd"`
	AdvisoryTimeoutS int     `yaml:"advisory_timeout_s"`
}

// AdvisoryTimeout returns the advisory timeout as a duration.
func (c DecisionConfig) AdvisoryTimeout() time.Duration {
	return time.Duration(c.AdvisoryTimeoutS) * time.Second
}

// SizingConfig controls Kelly-based position sizing.
type SizingConfig struct {
	KellyFractionCap    float64 `yaml:"kelly_fraction_cap"`
	PayoffRatio         float64 `yaml:"payoff_ratio"`
	MaxPositionPct      float64 `yaml:"max_position_pct"`
	MaxPositionUSD      float64 `yaml:"max_position_usd"`
	MinOrderUSD         float64 `yaml:"min_order_usd"`
	MaxConcentrationPct float64 `yaml:"max_concentration_pct"`
}

// RiskConfig holds the risk engine limits.
type RiskConfig struct {
	MaxDailyLoss          float64 `yaml:"max_daily_loss"`
	MaxWeeklyLoss         float64 `yaml:"max_weekly_loss"`
	MaxDrawdownPct        float64 `yaml:"max_drawdown_pct"`
	MaxConsecutiveLosses  int     `yaml:"max_consecutive_losses"`
	BreakerCooldownS      int     `yaml:"breaker_cooldown_s"`
	TradeCooldownS        int     `yaml:"trade_cooldown_s"`
	MaxOpenPositions      int     `yaml:"max_open_positions"`
	ReconcileMismatchRate int     `yaml:"reconcile_mismatch_rate"` // escalation threshold per day
}

// BreakerCooldown returns the circuit breaker cooldown as a duration.
func (c RiskConfig) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownS) * time.Second
}

// TradeCooldown returns the minimum gap between entries as a duration.
func (c RiskConfig) TradeCooldown() time.Duration {
	return time.Duration(c.TradeCooldownS) * time.Second
}

// TradingConfig defines execution parameters.
type TradingConfig struct {
	PaperMode     bool    `yaml:"paper_mode"`
	TickIntervalS int     `yaml:"tick_interval_s"`
	MaxHoldS      int     `yaml:"max_hold_s"`
	PollTimeoutS  int     `yaml:"poll_timeout_s"`
	TakeProfitPct float64 `yaml:"take_profit_pct"`
	StopLossPct   float64 `yaml:"stop_loss_pct"`
	TrailingPct   float64 `yaml:"trailing_pct"`
	InitialCash   float64 `yaml:"initial_cash"`
}

// TickInterval returns the scheduler interval as a duration.
func (c TradingConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalS) * time.Second
}

// MaxHold returns the GTC order expiry window as a duration.
func (c TradingConfig) MaxHold() time.Duration {
	return time.Duration(c.MaxHoldS) * time.Second
}

// PollTimeout returns the per-order fill poll timeout as a duration.
func (c TradingConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutS) * time.Second
}

// AdvisoryConfig holds the external advisory endpoint.
type AdvisoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	APIKey  string `yaml:"api_key"`
}

// CLOBConfig holds credentials and endpoints for the exchange API.
type CLOBConfig struct {
	BaseURL         string `yaml:"base_url"`
	GammaURL        string `yaml:"gamma_url"`
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	APIPassphrase   string `yaml:"api_passphrase"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// NotifyConfig holds the alert webhook.
type NotifyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// ServerConfig controls the status HTTP API.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Defaults and loading
// ---------------------------------------------------------------------------

// Default returns a Config populated with the documented defaults. Load
// starts from these so a sparse YAML file only overrides what it names.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/polytrader.db",
		},
		Markets: MarketsConfig{
			CandidateLimit: 120,
			MinBid:         0.05,
			MaxAsk:         0.95,
			MinDepthUSD:    10,
		},
		Signals: SignalsConfig{
			WeightImbalance:  0.30,
			WeightMomentum:   0.25,
			WeightNews:       0.25,
			WeightResolution: 0.20,
			BuyThreshold:     0.60,
			SellThreshold:    0.40,
			MomentumWindow:   20,
		},
		Decision: DecisionConfig{
			MinConfidence:    0.55,
			MaxDivergence:    -1, // opposite-sign rule
			MaxSpread:        0.05,
			MinDepthUSD:      50,
			AdvisoryTimeoutS: 8,
		},
		Sizing: SizingConfig{
			KellyFractionCap:    0.25,
			PayoffRatio:         1.0,
			MaxPositionPct:      0.20,
			MaxPositionUSD:      100,
			MinOrderUSD:         5,
			MaxConcentrationPct: 0.60,
		},
		Risk: RiskConfig{
			MaxDailyLoss:          50,
			MaxWeeklyLoss:         200,
			MaxDrawdownPct:        0.15,
			MaxConsecutiveLosses:  5,
			BreakerCooldownS:      3600,
			TradeCooldownS:        5,
			MaxOpenPositions:      3,
			ReconcileMismatchRate: 10,
		},
		Trading: TradingConfig{
			PaperMode:     true,
			TickIntervalS: 60,
			MaxHoldS:      180,
			PollTimeoutS:  5,
			TakeProfitPct: 0.01,
			StopLossPct:   0.01,
			TrailingPct:   0.005,
			InitialCash:   1000,
		},
		Advisory: AdvisoryConfig{
			Enabled: false,
		},
		CLOB: CLOBConfig{
			BaseURL:         "https://clob.polymarket.com",
			GammaURL:        "https://gamma-api.polymarket.com",
			RateLimitPerMin: 60,
		},
		Notify: NotifyConfig{
			Enabled: false,
		},
		Server: ServerConfig{
			Enabled: false,
			Addr:    ":8942",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML configuration file at the given path, parses it over
// the defaults, applies environment variable overrides, and validates the
// result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Secrets commonly live in a .env file during development.
	_ = godotenv.Load()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("CLOB_HOST"); v != "" {
		cfg.CLOB.BaseURL = v
	}
	if v := os.Getenv("GAMMA_HOST"); v != "" {
		cfg.CLOB.GammaURL = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.CLOB.APIKey = v
	}
	if v := os.Getenv("API_SECRET"); v != "" {
		cfg.CLOB.APISecret = v
	}
	if v := os.Getenv("API_PASSPHRASE"); v != "" {
		cfg.CLOB.APIPassphrase = v
	}

	if v := os.Getenv("ADVISORY_URL"); v != "" {
		cfg.Advisory.URL = v
		cfg.Advisory.Enabled = true
	}
	if v := os.Getenv("ADVISORY_API_KEY"); v != "" {
		cfg.Advisory.APIKey = v
	}

	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
		cfg.Notify.Enabled = true
	}

	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
		cfg.Server.Enabled = true
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("MODE"); v != "" {
		cfg.Trading.PaperMode = v != "live"
	}
	if v := os.Getenv("KELLY_FRACTION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Sizing.KellyFractionCap = f
		}
	}
	if v := os.Getenv("MAX_DAILY_LOSS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Risk.MaxDailyLoss = f
		}
	}
	if v := os.Getenv("MAX_HOLD_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Trading.MaxHoldS = n
		}
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks that every tunable is inside its documented range. Signal
// weights must sum to 1 and limits must be positive; a config that fails here
// must not be used to trade.
func (c *Config) Validate() error {
	s := c.Signals
	sum := s.WeightImbalance + s.WeightMomentum + s.WeightNews + s.WeightResolution
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("signal weights must sum to 1, got %v", sum)
	}
	for name, w := range map[string]float64{
		"weight_imbalance":  s.WeightImbalance,
		"weight_momentum":   s.WeightMomentum,
		"weight_news":       s.WeightNews,
		"weight_resolution": s.WeightResolution,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s out of range [0,1]: %v", name, w)
		}
	}
	if s.BuyThreshold <= s.SellThreshold {
		return fmt.Errorf("buy_threshold (%v) must exceed sell_threshold (%v)", s.BuyThreshold, s.SellThreshold)
	}

	if c.Decision.MinConfidence < 0 || c.Decision.MinConfidence > 1 {
		return fmt.Errorf("min_confidence out of range [0,1]: %v", c.Decision.MinConfidence)
	}

	z := c.Sizing
	if z.KellyFractionCap <= 0 || z.KellyFractionCap > 1 {
		return fmt.Errorf("kelly_fraction_cap out of range (0,1]: %v", z.KellyFractionCap)
	}
	if z.PayoffRatio <= 0 {
		return fmt.Errorf("payoff_ratio must be positive: %v", z.PayoffRatio)
	}
	if z.MaxPositionPct <= 0 || z.MaxPositionPct > 1 {
		return fmt.Errorf("max_position_pct out of range (0,1]: %v", z.MaxPositionPct)
	}
	if z.MaxPositionUSD <= 0 {
		return fmt.Errorf("max_position_usd must be positive: %v", z.MaxPositionUSD)
	}
	if z.MaxConcentrationPct <= 0 || z.MaxConcentrationPct > 1 {
		return fmt.Errorf("max_concentration_pct out of range (0,1]: %v", z.MaxConcentrationPct)
	}

	r := c.Risk
	if r.MaxDailyLoss <= 0 || r.MaxWeeklyLoss <= 0 {
		return fmt.Errorf("loss limits must be positive: daily %v, weekly %v", r.MaxDailyLoss, r.MaxWeeklyLoss)
	}
	if r.MaxDrawdownPct <= 0 || r.MaxDrawdownPct >= 1 {
		return fmt.Errorf("max_drawdown_pct out of range (0,1): %v", r.MaxDrawdownPct)
	}
	if r.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("max_consecutive_losses must be positive: %d", r.MaxConsecutiveLosses)
	}
	if r.MaxOpenPositions <= 0 {
		return fmt.Errorf("max_open_positions must be positive: %d", r.MaxOpenPositions)
	}

	t := c.Trading
	if t.TickIntervalS <= 0 {
		return fmt.Errorf("tick_interval_s must be positive: %d", t.TickIntervalS)
	}
	if t.MaxHoldS <= 0 {
		return fmt.Errorf("max_hold_s must be positive: %d", t.MaxHoldS)
	}
	if t.InitialCash <= 0 {
		return fmt.Errorf("initial_cash must be positive: %v", t.InitialCash)
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr required when the status API is enabled")
	}

	return nil
}

// SignalWeights returns the configured weights keyed by signal name.
func (c *Config) SignalWeights() map[string]float64 {
	return map[string]float64{
		"imbalance":  c.Signals.WeightImbalance,
		"momentum":   c.Signals.WeightMomentum,
		"news":       c.Signals.WeightNews,
		"resolution": c.Signals.WeightResolution,
	}
}
