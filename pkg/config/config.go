package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"PatternMemory/internal/domain/models"
)

type Config struct {
	Environment string            `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Server      ServerConfig      `yaml:"server"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	ClickHouse  ClickHouseConfig  `yaml:"clickhouse"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
	Instruments InstrumentsConfig `yaml:"instruments"`
	Detection   DetectionConfig   `yaml:"detection"`
	Memory      MemoryConfig      `yaml:"memory"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Confluence  ConfluenceConfig  `yaml:"confluence"`
	Emitter     EmitterConfig     `yaml:"emitter"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	RateLimit       struct {
		Enabled         bool    `yaml:"enabled"`
		Capacity        int     `yaml:"capacity" default:"50" validate:"gte=1"`
		RefillPerSecond float64 `yaml:"refill_per_second" default:"10" validate:"gt=0"`
	} `yaml:"rate_limit"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" default:"/metrics"`
}

type LoggingConfig struct {
	Level     string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format    string `yaml:"format" default:"console" validate:"oneof=console json"`
	Output    string `yaml:"output" default:"stdout"`
	Collector struct {
		Enabled   bool          `yaml:"enabled"`
		Topic     string        `yaml:"topic" default:"patmem.logs"`
		Interval  time.Duration `yaml:"interval" default:"30s"`
		Threshold int           `yaml:"threshold" default:"100" validate:"gte=1"`
	} `yaml:"collector"`
}

type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	SignalsTopic  string   `yaml:"signals_topic" default:"patmem.signals"`
	CandlesTopic  string   `yaml:"candles_topic" default:"patmem.candles"`
	OutcomesTopic string   `yaml:"outcomes_topic" default:"patmem.outcomes"`
	RequiredAcks  int      `yaml:"required_acks" default:"-1" validate:"oneof=-1 0 1"`
	Compression   string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	Producer      struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3" validate:"gte=1"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"10ms"`
		BatchSize    int           `yaml:"batch_size" default:"100" validate:"gte=1"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"patmem-engine"`
		Workers    int           `yaml:"workers" default:"4" validate:"gte=1"`
		RetryMax   int           `yaml:"retry_max" default:"3" validate:"gte=0"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
		DLQTopic   string        `yaml:"dlq_topic"`
		MinBytes   int           `yaml:"min_bytes" default:"1"`
		MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host" default:"localhost"`
	Port         int           `yaml:"port" default:"9000"`
	Database     string        `yaml:"database" default:"patmem"`
	User         string        `yaml:"user" default:"default"`
	Password     string        `yaml:"password"`
	DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"30s"`
	CandlesTable string        `yaml:"candles_table" default:"candles"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"patmem"`
}

type PostgresConfig struct {
	DSN          string        `yaml:"dsn"`
	Timeout      time.Duration `yaml:"timeout" default:"5s"`
	MaxOpenConns int           `yaml:"max_open_conns" default:"5" validate:"gte=1"`
}

// WebhookConfig posts emitted signals to an HTTP endpoint when URL is set.
type WebhookConfig struct {
	URL     string        `yaml:"url" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" default:"5s"`
}

// AnalysisConfig drives scheduled analysis of stored candles.
type AnalysisConfig struct {
	Symbols    []string      `yaml:"symbols"`
	Timeframes []string      `yaml:"timeframes" default:"[\"15m\",\"1h\",\"4h\"]" validate:"min=1"`
	Interval   time.Duration `yaml:"interval" default:"1m"`
	Candles    int           `yaml:"candles" default:"300" validate:"gte=10"`
	Schedule   bool          `yaml:"schedule"`
}

type InstrumentsConfig struct {
	DefaultPipSize float64            `yaml:"default_pip_size" default:"0.0001" validate:"gt=0"`
	PipSizes       map[string]float64 `yaml:"pip_sizes" validate:"dive,gt=0"`
}

type DetectionConfig struct {
	ATRPeriod       int                   `yaml:"atr_period" default:"14" validate:"gte=1"`
	Swing           SwingConfig           `yaml:"swing"`
	Structure       StructureConfig       `yaml:"structure"`
	CharacterChange CharacterChangeConfig `yaml:"character_change"`
	Imbalance       ImbalanceConfig       `yaml:"imbalance"`
	Gap             GapConfig             `yaml:"gap"`
}

type SwingConfig struct {
	Lookback int `yaml:"lookback" default:"3" validate:"gte=1"`
}

type StructureConfig struct {
	// distance in ATR multiples that earns the full distance score
	DistanceATRCap float64 `yaml:"distance_atr_cap" default:"1" validate:"gt=0"`
	VolumeWindow   int     `yaml:"volume_window" default:"20" validate:"gte=1"`
	VolumeWeight   float64 `yaml:"volume_weight" default:"0.3" validate:"gte=0,lte=1"`
}

type CharacterChangeConfig struct {
	MinSwingPips float64 `yaml:"min_swing_pips" default:"20" validate:"gte=0"`
}

type ImbalanceConfig struct {
	ImpulseMultiplier float64 `yaml:"impulse_multiplier" default:"1.5" validate:"gt=0"`
	MaxRun            int     `yaml:"max_run" default:"3" validate:"gte=1"`
	OriginSearch      int     `yaml:"origin_search" default:"3" validate:"gte=1"`
	FullStrengthATR   float64 `yaml:"full_strength_atr" default:"3" validate:"gt=0"`
	HalfLifeBars      float64 `yaml:"half_life_bars" default:"50" validate:"gt=0"`
	MinStrength       float64 `yaml:"min_strength" default:"0.1" validate:"gte=0,lte=1"`
}

type GapConfig struct {
	MinSizePips     float64 `yaml:"min_size_pips" default:"3" validate:"gte=0"`
	MaxSizePips     float64 `yaml:"max_size_pips" default:"1000" validate:"gt=0"`
	FullStrengthATR float64 `yaml:"full_strength_atr" default:"1" validate:"gt=0"`
	MinStrength     float64 `yaml:"min_strength" default:"0.1" validate:"gte=0,lte=1"`
}

type MemoryConfig struct {
	Backend            string        `yaml:"backend" default:"file" validate:"oneof=none file redis clickhouse postgres"`
	SnapshotPath       string        `yaml:"snapshot_path" default:"data/memory.json"`
	SnapshotInterval   time.Duration `yaml:"snapshot_interval" default:"5m"`
	BucketPips         float64       `yaml:"bucket_pips" default:"10" validate:"gt=0"`
	TolerancePips      float64       `yaml:"tolerance_pips" default:"10" validate:"gte=0"`
	RetentionHorizon   time.Duration `yaml:"retention_horizon" default:"2160h"`
	MaxRecordsPerGroup int           `yaml:"max_records_per_group" default:"5000" validate:"gte=1"`
	Timeout            time.Duration `yaml:"timeout" default:"250ms"`
	PersistTimeout     time.Duration `yaml:"persist_timeout" default:"10s"`
	OutcomeHorizonBars int           `yaml:"outcome_horizon_bars" default:"10" validate:"gte=0"`
	Breaker            struct {
		MaxFailures uint32        `yaml:"max_failures" default:"5" validate:"gte=1"`
		OpenTimeout time.Duration `yaml:"open_timeout" default:"30s"`
	} `yaml:"breaker"`
}

type ScoringConfig struct {
	MinSamples  int     `yaml:"min_samples" default:"10" validate:"gte=1"`
	Sensitivity float64 `yaml:"sensitivity" default:"0.5" validate:"gte=0"`
	MaxBonus    float64 `yaml:"max_bonus" default:"20" validate:"gte=0,lte=100"`
}

type ConfluenceConfig struct {
	Threshold        float64            `yaml:"threshold" default:"20" validate:"gte=0,lte=100"`
	Window           time.Duration      `yaml:"window" default:"24h"`
	MinPatternTypes  int                `yaml:"min_pattern_types" default:"2" validate:"gte=2"`
	TimeframeWeights map[string]float64 `yaml:"timeframe_weights" validate:"dive,gt=0"`
	PatternWeights   map[string]float64 `yaml:"pattern_weights" default:"{\"STRUCTURE_BREAK\":1,\"CHARACTER_CHANGE\":1.5,\"IMBALANCE_ZONE\":1.2,\"GAP_ZONE\":1}" validate:"dive,gt=0"`
	RewardRatio      float64            `yaml:"reward_ratio" default:"2" validate:"gt=0"`
	StopATR          float64            `yaml:"stop_atr" default:"1" validate:"gt=0"`
}

type EmitterConfig struct {
	// one signal per (symbol, direction) within this window
	Window    time.Duration `yaml:"window" default:"4h"`
	QueueSize int           `yaml:"queue_size" default:"64" validate:"gte=1"`
}

// Default returns a configuration with every default applied and no file loaded.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	c.fillDerived()
	return &c
}

// Load reads and parses a YAML configuration file. Values absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes over the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.fillDerived()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PATMEM_SYMBOLS"); v != "" {
		c.Analysis.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("PATMEM_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("PATMEM_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("PATMEM_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("PATMEM_CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("PATMEM_CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("PATMEM_POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("PATMEM_WEBHOOK_URL"); v != "" {
		c.Webhook.URL = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// fillDerived gives every analysis timeframe a weight when the file omits one.
// Higher timeframes weigh more.
func (c *Config) fillDerived() {
	if c.Confluence.TimeframeWeights == nil {
		c.Confluence.TimeframeWeights = make(map[string]float64)
	}
	for _, tf := range c.Analysis.Timeframes {
		if _, ok := c.Confluence.TimeframeWeights[tf]; ok {
			continue
		}
		if r := models.Timeframe(tf).Rank(); r >= 0 {
			c.Confluence.TimeframeWeights[tf] = float64(r + 1)
		}
	}
}

var validate = validator.New()

// Validate checks struct tags and cross-field rules. Every failure wraps models.ErrConfiguration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return models.ConfigError("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return models.ConfigError("%v", err)
	}

	for _, tf := range c.Analysis.Timeframes {
		if !models.IsValidTimeframe(models.Timeframe(tf)) {
			return models.ConfigError("analysis.timeframes: unsupported timeframe %q", tf)
		}
		if c.Confluence.TimeframeWeights[tf] <= 0 {
			return models.ConfigError("confluence.timeframe_weights: missing weight for %q", tf)
		}
	}
	for _, pt := range models.PatternTypes {
		if c.Confluence.PatternWeights[string(pt)] <= 0 {
			return models.ConfigError("confluence.pattern_weights: missing weight for %s", pt)
		}
	}
	if c.Detection.Gap.MinSizePips >= c.Detection.Gap.MaxSizePips {
		return models.ConfigError("detection.gap: min_size_pips (%v) must be below max_size_pips (%v)",
			c.Detection.Gap.MinSizePips, c.Detection.Gap.MaxSizePips)
	}
	if c.Memory.Timeout <= 0 || c.Memory.PersistTimeout <= 0 {
		return models.ConfigError("memory.timeout and memory.persist_timeout must be positive")
	}
	if c.Memory.RetentionHorizon < 0 {
		return models.ConfigError("memory.retention_horizon cannot be negative")
	}
	if c.Confluence.Window <= 0 || c.Emitter.Window <= 0 {
		return models.ConfigError("confluence.window and emitter.window must be positive")
	}

	switch c.Memory.Backend {
	case "file":
		if c.Memory.SnapshotPath == "" {
			return models.ConfigError("memory.snapshot_path is required for the file backend")
		}
	case "redis":
		if !c.Redis.Enabled {
			return models.ConfigError("memory.backend redis requires redis.enabled")
		}
	case "clickhouse":
		if !c.ClickHouse.Enabled {
			return models.ConfigError("memory.backend clickhouse requires clickhouse.enabled")
		}
	case "postgres":
		if c.Postgres.DSN == "" {
			return models.ConfigError("memory.backend postgres requires postgres.dsn")
		}
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return models.ConfigError("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Analysis.Schedule {
		if !c.ClickHouse.Enabled {
			return models.ConfigError("analysis.schedule requires clickhouse.enabled")
		}
		if len(c.Analysis.Symbols) == 0 {
			return models.ConfigError("analysis.symbols cannot be empty when scheduling")
		}
	}
	return nil
}

// PipSize returns the instrument's pip size, falling back to the default.
func (i InstrumentsConfig) PipSize(symbol string) float64 {
	if p, ok := i.PipSizes[symbol]; ok && p > 0 {
		return p
	}
	return i.DefaultPipSize
}

// AnalysisTimeframes returns the configured timeframes ordered as listed.
func (c *Config) AnalysisTimeframes() []models.Timeframe {
	out := make([]models.Timeframe, 0, len(c.Analysis.Timeframes))
	for _, tf := range c.Analysis.Timeframes {
		out = append(out, models.Timeframe(tf))
	}
	return out
}
