package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Symbols    []string `yaml:"symbols"`
	Timeframes []string `yaml:"timeframes"`

	Telegram struct {
		BotToken   string `yaml:"bot_token"`
		ChatID     string `yaml:"chat_id"`
		MaxRetries int    `yaml:"max_retries"`
	} `yaml:"telegram"`
	DataSource struct {
		BaseURL     string        `yaml:"base_url"`
		Mock        bool          `yaml:"mock"`
		CandleLimit int           `yaml:"candle_limit"`
		Benchmark   string        `yaml:"benchmark"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"data_source"`
	Stream   Stream   `yaml:"stream"`
	Schedule Schedule `yaml:"schedule"`
	Scoring  Scoring  `yaml:"scoring"`
	Levels   Levels   `yaml:"levels"`
	Monitor  Monitor  `yaml:"monitor"`

	Indicators Indicators `yaml:"indicators"`
	Database   struct {
		SQLitePath  string `yaml:"sqlite_path"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"database"`
	State struct {
		File string `yaml:"file"`
	} `yaml:"state"`
	API struct {
		Addr string `yaml:"addr"`
	} `yaml:"api"`
	Log   Log `yaml:"log"`
	Trace struct {
		Enabled     bool   `yaml:"enabled"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"trace"`
	Profiling struct {
		ServerAddress string `yaml:"server_address"`
	} `yaml:"profiling"`
	Proxy string `yaml:"proxy"`
}

// Stream configures the live tick stream.
type Stream struct {
	BaseURL      string        `yaml:"base_url"`
	PongWait     time.Duration `yaml:"pong_wait"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
	HandshakeTTL time.Duration `yaml:"handshake_timeout"`
}

// Schedule holds cron expressions (with seconds) and per-collaborator timeouts.
type Schedule struct {
	EvaluateCron   string        `yaml:"evaluate_cron"`
	DailyResetCron string        `yaml:"daily_reset_cron"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
}

// Weights scale each scoring component.
type Weights struct {
	RSI     float64 `yaml:"rsi"`
	MACD    float64 `yaml:"macd"`
	MA      float64 `yaml:"ma"`
	Pattern float64 `yaml:"pattern"`
	Volume  float64 `yaml:"volume"`
	ML      float64 `yaml:"ml"`
}

// QualityFilters are hard rejects applied after indicator, pattern and volume scoring.
type QualityFilters struct {
	MinVolumeRatio       float64 `yaml:"min_volume_ratio"`
	StrictRSIBand        bool    `yaml:"strict_rsi_band"`
	NeutralRSILow        float64 `yaml:"neutral_rsi_low"`
	NeutralRSIHigh       float64 `yaml:"neutral_rsi_high"`
	RequireConfirmations bool    `yaml:"require_confirmations"`
	MinConfirmations     int     `yaml:"min_confirmations"`
	MinMACDHistPct       float64 `yaml:"min_macd_hist_pct"`
}

// FactorPoints are the raw points of the indicator factors before weighting.
type FactorPoints struct {
	RSIExtreme  float64 `yaml:"rsi_extreme"`
	RSIZone     float64 `yaml:"rsi_zone"`
	RSIMild     float64 `yaml:"rsi_mild"`
	RSIMildLow  float64 `yaml:"rsi_mild_low"`
	RSIMildHigh float64 `yaml:"rsi_mild_high"`

	// MACD and MA points are base + scale*magnitude, capped.
	MACDBase  float64 `yaml:"macd_base"`
	MACDScale float64 `yaml:"macd_scale"`
	MACDCap   float64 `yaml:"macd_cap"`
	MABase    float64 `yaml:"ma_base"`
	MAScale   float64 `yaml:"ma_scale"`
	MACap     float64 `yaml:"ma_cap"`
}

// PatternPoints are the raw points of detected patterns.
type PatternPoints struct {
	Breakout       float64 `yaml:"breakout"`
	StrongBreakout float64 `yaml:"strong_breakout_confidence"`
	Reversal       float64 `yaml:"reversal"`
	Continuation   float64 `yaml:"continuation"`
	Candlestick    float64 `yaml:"candlestick"`
	CandlestickCap float64 `yaml:"candlestick_cap"`
}

// VolumeTiers map the volume ratio to points. Ratios above Elevated also count as a confirmation.
type VolumeTiers struct {
	Surge          float64 `yaml:"surge_ratio"`
	SurgePoints    float64 `yaml:"surge_points"`
	High           float64 `yaml:"high_ratio"`
	HighPoints     float64 `yaml:"high_points"`
	Elevated       float64 `yaml:"elevated_ratio"`
	ElevatedPoints float64 `yaml:"elevated_points"`
	Thin           float64 `yaml:"thin_ratio"`
	ThinPoints     float64 `yaml:"thin_points"`
	Dry            float64 `yaml:"dry_ratio"`
	DryPoints      float64 `yaml:"dry_points"`
}

// ReversalPoints build the 0..100 reversal strength of a counter-trend signal.
type ReversalPoints struct {
	ExtremeRSI       float64 `yaml:"extreme_rsi"`
	RSIZone          float64 `yaml:"rsi_zone"`
	Divergence       float64 `yaml:"divergence"`
	Pattern          float64 `yaml:"pattern"`
	Volume           float64 `yaml:"volume"`
	VolumeRatio      float64 `yaml:"volume_ratio"`
	Confirmations    float64 `yaml:"confirmations"`
	MinConfirmations int     `yaml:"min_confirmations"`
}

// CounterTrend governs signals that oppose the effective trend.
type CounterTrend struct {
	DailyCap                int           `yaml:"daily_cap"`
	Cooldown                time.Duration `yaml:"cooldown"`
	BlockedMultiplier       float64       `yaml:"blocked_multiplier"`
	BlockedScoreCap         float64       `yaml:"blocked_score_cap"`
	CooldownMultiplier      float64       `yaml:"cooldown_multiplier"`
	MinReversalStrength     float64       `yaml:"min_reversal_strength"`
	ExtremeReversalStrength float64       `yaml:"extreme_reversal_strength"`
	WeakReversalMultiplier  float64       `yaml:"weak_reversal_multiplier"`
	ExtremeReversalBonus    float64       `yaml:"extreme_reversal_bonus"`
	ModerateReversalBonus   float64       `yaml:"moderate_reversal_bonus"`
	DivergenceLookback      int           `yaml:"divergence_lookback"`

	Reversal ReversalPoints `yaml:"reversal_points"`
}

// Scoring configures the composite scoring engine.
type Scoring struct {
	ValidityThreshold float64       `yaml:"validity_threshold"`
	HysteresisBand    float64       `yaml:"hysteresis_band"`
	HysteresisTTL     time.Duration `yaml:"hysteresis_ttl"`

	Weights  Weights        `yaml:"weights"`
	Filters  QualityFilters `yaml:"filters"`
	Factors  FactorPoints   `yaml:"factors"`
	Patterns PatternPoints  `yaml:"patterns"`
	Volume   VolumeTiers    `yaml:"volume"`

	RSIOversold          float64 `yaml:"rsi_oversold"`
	RSIOverbought        float64 `yaml:"rsi_overbought"`
	RSIExtremeOversold   float64 `yaml:"rsi_extreme_oversold"`
	RSIExtremeOverbought float64 `yaml:"rsi_extreme_overbought"`
	StrongMACDHistPct    float64 `yaml:"strong_macd_hist_pct"`
	MinMASeparationPct   float64 `yaml:"min_ma_separation_pct"`
	StrongTrendPct       float64 `yaml:"strong_trend_pct"`
	PatternBaseScore     float64 `yaml:"pattern_base_score"`

	RegimeAlignedPct        float64 `yaml:"regime_aligned_pct"`
	RegimeOpposedPct        float64 `yaml:"regime_opposed_pct"`
	RegimeVolatilePct       float64 `yaml:"regime_volatile_pct"`
	MaxRegimeAdjustPct      float64 `yaml:"max_regime_adjust_pct"`
	CorrelationBonusPct     float64 `yaml:"correlation_bonus_pct"`
	CorrelationPenaltyPct   float64 `yaml:"correlation_penalty_pct"`
	WeakCorrelation         float64 `yaml:"weak_correlation"`
	MaxCorrelationAdjustPct float64 `yaml:"max_correlation_adjust_pct"`
	ConfirmationBonus       float64 `yaml:"confirmation_bonus"`

	TrendDeadBandPct           float64 `yaml:"trend_dead_band_pct"`
	TrendAlignBonus            float64 `yaml:"trend_align_bonus"`
	TrendAlignCorrelationBonus float64 `yaml:"trend_align_correlation_bonus"`
	SidewaysBreakoutBonus      float64 `yaml:"sideways_breakout_bonus"`

	CounterTrend CounterTrend `yaml:"counter_trend"`
}

// Levels configures the target/stop ladder.
type Levels struct {
	TargetPercents     []float64 `yaml:"target_percents"`
	StopLossPercent    float64   `yaml:"stop_loss_percent"`
	TargetATRMultiples []float64 `yaml:"target_atr_multiples"`
	StopATRMultiple    float64   `yaml:"stop_atr_multiple"`
	TickSize           float64   `yaml:"tick_size"`
}

// Monitor configures the position monitor.
type Monitor struct {
	Leverage        float64 `yaml:"leverage"`
	CloseOnShutdown bool    `yaml:"close_on_shutdown"`
}

// Tuning configures asynchronous indicator parameter tuning.
type Tuning struct {
	Enabled  bool          `yaml:"enabled"`
	Cooldown time.Duration `yaml:"cooldown"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Indicators configures the indicator aggregator.
type Indicators struct {
	RSIPeriod  int                      `yaml:"rsi_period"`
	MACDFast   int                      `yaml:"macd_fast"`
	MACDSlow   int                      `yaml:"macd_slow"`
	MACDSignal int                      `yaml:"macd_signal"`
	ShortMA    int                      `yaml:"short_ma"`
	LongMA     int                      `yaml:"long_ma"`
	VolumeMA   int                      `yaml:"volume_ma"`
	ATRPeriod  int                      `yaml:"atr_period"`
	MinCandles int                      `yaml:"min_candles"`
	CacheTTL   map[string]time.Duration `yaml:"cache_ttl"`
	Tuning     Tuning                   `yaml:"tuning"`
}

// Log configures the zap logger.
type Log struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load reads config from a YAML file, then applies environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	cfg.ApplyDefaults()
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

func applyEnv(cfg *Config) {
	// Environment variable overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("BINANCE_BASE_URL"); v != "" {
		cfg.DataSource.BaseURL = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Database.PostgresDSN = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		cfg.Symbols = splitList(v)
	}
	if v := os.Getenv("TIMEFRAMES"); v != "" {
		cfg.Timeframes = splitList(v)
	}
	if v := os.Getenv("LEVERAGE"); v != "" {
		if lev, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Monitor.Leverage = lev
		}
	}
	if v := os.Getenv("CRON_EVALUATE"); v != "" {
		cfg.Schedule.EvaluateCron = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if os.Getenv("MOCK_DATA") == "true" {
		cfg.DataSource.Mock = true
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}

// ApplyDefaults fills every zero value with its default.
func (c *Config) ApplyDefaults() {
	if len(c.Symbols) == 0 {
		c.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	}
	if len(c.Timeframes) == 0 {
		c.Timeframes = []string{"15m", "1h"}
	}
	if c.Telegram.MaxRetries == 0 {
		c.Telegram.MaxRetries = 3
	}
	if c.DataSource.BaseURL == "" {
		c.DataSource.BaseURL = "https://fapi.binance.com"
	}
	if c.DataSource.CandleLimit == 0 {
		c.DataSource.CandleLimit = 200
	}
	if c.DataSource.Benchmark == "" {
		c.DataSource.Benchmark = "BTCUSDT"
	}
	if c.DataSource.Timeout == 0 {
		c.DataSource.Timeout = 30 * time.Second
	}
	if c.Stream.BaseURL == "" {
		c.Stream.BaseURL = "wss://fstream.binance.com/ws"
	}
	if c.Stream.PongWait == 0 {
		c.Stream.PongWait = 60 * time.Second
	}
	if c.Stream.MaxBackoff == 0 {
		c.Stream.MaxBackoff = 30 * time.Second
	}
	if c.Stream.HandshakeTTL == 0 {
		c.Stream.HandshakeTTL = 10 * time.Second
	}
	if c.Schedule.EvaluateCron == "" {
		c.Schedule.EvaluateCron = "5 */5 * * * *"
	}
	if c.Schedule.DailyResetCron == "" {
		c.Schedule.DailyResetCron = "0 0 0 * * *"
	}
	if c.Schedule.MaxConcurrency == 0 {
		c.Schedule.MaxConcurrency = 4
	}
	if c.Schedule.CallTimeout == 0 {
		c.Schedule.CallTimeout = 10 * time.Second
	}
	c.Scoring.applyDefaults()
	c.Levels.applyDefaults()
	if c.Monitor.Leverage == 0 {
		c.Monitor.Leverage = 10
	}
	c.Indicators.applyDefaults()
	if c.State.File == "" {
		c.State.File = "data/adaptive_state.json"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/perp_sentinel.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 50
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 14
	}
	if c.Trace.ServiceName == "" {
		c.Trace.ServiceName = "perp-sentinel"
	}
}

func (s *Scoring) applyDefaults() {
	setF := func(p *float64, v float64) {
		if *p == 0 {
			*p = v
		}
	}
	setF(&s.ValidityThreshold, 65)
	setF(&s.HysteresisBand, 3)
	if s.HysteresisTTL == 0 {
		s.HysteresisTTL = 24 * time.Hour
	}

	setF(&s.Weights.RSI, 1)
	setF(&s.Weights.MACD, 1)
	setF(&s.Weights.MA, 1)
	setF(&s.Weights.Pattern, 1)
	setF(&s.Weights.Volume, 1)
	setF(&s.Weights.ML, 20)

	setF(&s.Filters.MinVolumeRatio, 1.0)
	setF(&s.Filters.NeutralRSILow, 40)
	setF(&s.Filters.NeutralRSIHigh, 60)
	if s.Filters.MinConfirmations == 0 {
		s.Filters.MinConfirmations = 2
	}
	setF(&s.Filters.MinMACDHistPct, 0.05)

	f := &s.Factors
	setF(&f.RSIExtreme, 20)
	setF(&f.RSIZone, 15)
	setF(&f.RSIMild, 5)
	setF(&f.RSIMildLow, 45)
	setF(&f.RSIMildHigh, 55)
	setF(&f.MACDBase, 5)
	setF(&f.MACDScale, 20)
	setF(&f.MACDCap, 15)
	setF(&f.MABase, 5)
	setF(&f.MAScale, 5)
	setF(&f.MACap, 15)

	pp := &s.Patterns
	setF(&pp.Breakout, 15)
	setF(&pp.StrongBreakout, 0.7)
	setF(&pp.Reversal, 12)
	setF(&pp.Continuation, 8)
	setF(&pp.Candlestick, 3)
	setF(&pp.CandlestickCap, 9)

	v := &s.Volume
	setF(&v.Surge, 3)
	setF(&v.SurgePoints, 15)
	setF(&v.High, 2)
	setF(&v.HighPoints, 10)
	setF(&v.Elevated, 1.5)
	setF(&v.ElevatedPoints, 5)
	setF(&v.Thin, 0.8)
	setF(&v.ThinPoints, -5)
	setF(&v.Dry, 0.5)
	setF(&v.DryPoints, -10)

	setF(&s.RSIOversold, 30)
	setF(&s.RSIOverbought, 70)
	setF(&s.RSIExtremeOversold, 20)
	setF(&s.RSIExtremeOverbought, 80)
	setF(&s.StrongMACDHistPct, 0.2)
	setF(&s.MinMASeparationPct, 0.1)
	setF(&s.StrongTrendPct, 2)
	setF(&s.PatternBaseScore, 5)

	setF(&s.RegimeAlignedPct, 10)
	setF(&s.RegimeOpposedPct, 10)
	setF(&s.RegimeVolatilePct, 5)
	setF(&s.MaxRegimeAdjustPct, 15)
	setF(&s.CorrelationBonusPct, 8)
	setF(&s.CorrelationPenaltyPct, 8)
	setF(&s.WeakCorrelation, 0.3)
	setF(&s.MaxCorrelationAdjustPct, 10)
	setF(&s.ConfirmationBonus, 3)

	setF(&s.TrendDeadBandPct, 0.1)
	setF(&s.TrendAlignBonus, 10)
	setF(&s.TrendAlignCorrelationBonus, 5)
	setF(&s.SidewaysBreakoutBonus, 8)

	ct := &s.CounterTrend
	if ct.DailyCap == 0 {
		ct.DailyCap = 3
	}
	if ct.Cooldown == 0 {
		ct.Cooldown = 4 * time.Hour
	}
	setF(&ct.BlockedMultiplier, 0.3)
	setF(&ct.BlockedScoreCap, 25)
	setF(&ct.CooldownMultiplier, 0.6)
	setF(&ct.MinReversalStrength, 40)
	setF(&ct.ExtremeReversalStrength, 75)
	setF(&ct.WeakReversalMultiplier, 0.5)
	setF(&ct.ExtremeReversalBonus, 10)
	setF(&ct.ModerateReversalBonus, 5)
	if ct.DivergenceLookback == 0 {
		ct.DivergenceLookback = 14
	}
	rp := &ct.Reversal
	setF(&rp.ExtremeRSI, 30)
	setF(&rp.RSIZone, 15)
	setF(&rp.Divergence, 20)
	setF(&rp.Pattern, 25)
	setF(&rp.Volume, 15)
	setF(&rp.VolumeRatio, 2)
	setF(&rp.Confirmations, 10)
	if rp.MinConfirmations == 0 {
		rp.MinConfirmations = 3
	}
}

func (l *Levels) applyDefaults() {
	if len(l.TargetPercents) == 0 {
		l.TargetPercents = []float64{1.5, 3, 5}
	}
	if l.StopLossPercent == 0 {
		l.StopLossPercent = 2
	}
	if len(l.TargetATRMultiples) == 0 {
		l.TargetATRMultiples = []float64{1, 2, 3}
	}
	if l.StopATRMultiple == 0 {
		l.StopATRMultiple = 1.5
	}
}

func (i *Indicators) applyDefaults() {
	setI := func(p *int, v int) {
		if *p == 0 {
			*p = v
		}
	}
	setI(&i.RSIPeriod, 14)
	setI(&i.MACDFast, 12)
	setI(&i.MACDSlow, 26)
	setI(&i.MACDSignal, 9)
	setI(&i.ShortMA, 20)
	setI(&i.LongMA, 50)
	setI(&i.VolumeMA, 20)
	setI(&i.ATRPeriod, 14)
	setI(&i.MinCandles, 50)
	if i.Tuning.Cooldown == 0 {
		i.Tuning.Cooldown = 30 * time.Minute
	}
	if i.Tuning.Timeout == 0 {
		i.Tuning.Timeout = 20 * time.Second
	}
}

// Validate checks required fields and cross-field constraints.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols is required")
	}
	if len(c.Timeframes) == 0 {
		return fmt.Errorf("timeframes is required")
	}
	s := c.Scoring
	if s.ValidityThreshold <= 0 || s.ValidityThreshold >= 100 {
		return fmt.Errorf("scoring.validity_threshold must be in (0, 100)")
	}
	if s.HysteresisBand < 0 || s.HysteresisBand >= s.ValidityThreshold {
		return fmt.Errorf("scoring.hysteresis_band must be in [0, validity_threshold)")
	}
	if s.CounterTrend.BlockedScoreCap >= s.ValidityThreshold-s.HysteresisBand {
		return fmt.Errorf("scoring.counter_trend.blocked_score_cap must be below validity_threshold - hysteresis_band")
	}
	v := s.Volume
	if !(v.Surge > v.High && v.High > v.Elevated && v.Thin > v.Dry) {
		return fmt.Errorf("scoring.volume ratios must satisfy surge > high > elevated and thin > dry")
	}
	if s.CounterTrend.DailyCap < 0 {
		return fmt.Errorf("scoring.counter_trend.daily_cap must not be negative")
	}
	if len(c.Levels.TargetPercents) == 0 || c.Levels.StopLossPercent <= 0 {
		return fmt.Errorf("levels.target_percents and levels.stop_loss_percent are required")
	}
	if c.Monitor.Leverage < 1 {
		return fmt.Errorf("monitor.leverage must be >= 1")
	}
	if c.Indicators.ShortMA >= c.Indicators.LongMA {
		return fmt.Errorf("indicators.short_ma must be below indicators.long_ma")
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, expr := range map[string]string{
		"schedule.evaluate_cron":    c.Schedule.EvaluateCron,
		"schedule.daily_reset_cron": c.Schedule.DailyResetCron,
	} {
		if _, err := parser.Parse(expr); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required when telegram.bot_token is set")
	}
	return nil
}
