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
)

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Symbol      string           `yaml:"symbol" validate:"required"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Logging     LoggingConfig    `yaml:"logging"`
	Stream      StreamConfig     `yaml:"stream"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Redis       RedisConfig      `yaml:"redis"`
	Signal      SignalConfig     `yaml:"signal"`
	Quote       QuoteConfig      `yaml:"quote"`
	Risk        RiskConfig       `yaml:"risk"`
	Cycle       CycleConfig      `yaml:"cycle"`
}

type ServerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"250ms"`
	CORS            bool          `yaml:"cors"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LoggingConfig struct {
	Level  string       `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string       `yaml:"format" default:"json" validate:"oneof=json console"`
	Output string       `yaml:"output" default:"stdout"`
	Alerts AlertsConfig `yaml:"alerts"`
}

// AlertsConfig batches warn/error logs and publishes them to Kafka.
type AlertsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Topic          string        `yaml:"topic" default:"quoteflow.alerts"`
	Interval       time.Duration `yaml:"interval" default:"10s"`
	CountThreshold int           `yaml:"count_threshold" default:"50" validate:"gt=0"`
}

type StreamConfig struct {
	Enabled          bool          `yaml:"enabled"`
	URL              string        `yaml:"url" validate:"required_if=Enabled true"`
	Subscribe        string        `yaml:"subscribe"`
	PingInterval     time.Duration `yaml:"ping_interval" default:"15s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"60s"`
	BufferSize       int           `yaml:"buffer_size" default:"1024" validate:"gt=0"`
	ReconnectInitial time.Duration `yaml:"reconnect_initial" default:"500ms"`
	ReconnectMax     time.Duration `yaml:"reconnect_max" default:"30s"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers" validate:"required_if=Enabled true"`
	RequiredAcks int      `yaml:"required_acks" default:"-1" validate:"oneof=-1 0 1"`
	Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	AutoCreate   bool     `yaml:"auto_create_topics"`
	Topics       struct {
		Events string `yaml:"events" default:"quoteflow.events"`
		Fills  string `yaml:"fills" default:"quoteflow.fills"`
		Quotes string `yaml:"quotes" default:"quoteflow.quotes"`
	} `yaml:"topics"`
	Producer struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"5"`
		Linger       time.Duration `yaml:"linger" default:"10ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"5s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID         string        `yaml:"group_id" default:"quoteflow"`
		RetryMax        int           `yaml:"retry_max" default:"5"`
		BackoffMin      time.Duration `yaml:"backoff_min" default:"100ms"`
		BackoffMax      time.Duration `yaml:"backoff_max" default:"5s"`
		SubmitWait      time.Duration `yaml:"submit_wait" default:"2s"`
		DLQTopic        string        `yaml:"dlq_topic" default:"quoteflow.dlq"`
		MinBytes        int           `yaml:"min_bytes" default:"1"`
		MaxBytes        int           `yaml:"max_bytes" default:"10485760"`
		AutoOffsetReset string        `yaml:"auto_offset_reset" default:"latest" validate:"oneof=earliest latest"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"quoteflow"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxOpenConns     int           `yaml:"max_open_conns" default:"4" validate:"gt=0"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	PingWait         time.Duration `yaml:"ping_wait" default:"5s"`
	BatchSize        int           `yaml:"batch_size" default:"500" validate:"gt=0"`
	BatchTimeout     time.Duration `yaml:"batch_timeout" default:"1s"`
	SnapshotEvery    int           `yaml:"snapshot_every" default:"1" validate:"gt=0"`
}

type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr" default:"localhost:6379"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Prefix       string        `yaml:"prefix" default:"quoteflow"`
	SnapshotTTL  time.Duration `yaml:"snapshot_ttl" default:"1m"`
	DialTimeout  time.Duration `yaml:"dial_timeout" default:"2s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"500ms"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"500ms"`
}

type SignalConfig struct {
	DecayTau           time.Duration `yaml:"decay_tau" default:"5s"`
	VolatilityTau      time.Duration `yaml:"volatility_tau" default:"30s"`
	FillTau            time.Duration `yaml:"fill_tau" default:"10s"`
	TWAPWindow         time.Duration `yaml:"twap_window" default:"60s"`
	TWAPMaxSamples     int           `yaml:"twap_max_samples" default:"120" validate:"gte=1"`
	MomentumWindow     int           `yaml:"momentum_window" default:"10" validate:"gte=1"`
	DepthLevels        int           `yaml:"depth_levels" default:"5" validate:"gte=0"`
	NormVolScale       float64       `yaml:"norm_vol_scale" default:"100" validate:"gte=0"`
	FillScale          float64       `yaml:"fill_scale" default:"1" validate:"gt=0"`
	AggressiveSlide    float64       `yaml:"aggressive_slide" default:"0.4" validate:"gte=0,lt=1"`
	AggressiveFill     float64       `yaml:"aggressive_fill" default:"0.5" validate:"gte=0,lt=1"`
	DeviationThreshold float64       `yaml:"deviation_threshold" default:"0.002" validate:"gte=0"`
}

type QuoteConfig struct {
	MinSpread    float64 `yaml:"min_spread" default:"1" validate:"gt=0"`
	VolSpreadK   float64 `yaml:"vol_spread_k" default:"50" validate:"gte=0"`
	SkewFraction float64 `yaml:"skew_fraction" default:"0.25" validate:"gte=0,lte=1"`
	BaseSize     float64 `yaml:"base_size" default:"1" validate:"gt=0"`
	VolSizeK     float64 `yaml:"vol_size_k" default:"50" validate:"gte=0"`
	FillSizeK    float64 `yaml:"fill_size_k" default:"1" validate:"gte=0"`
	MinSize      float64 `yaml:"min_size" default:"0.1" validate:"gt=0"`
	MaxSize      float64 `yaml:"max_size" default:"5" validate:"gt=0"`
	TickSize     float64 `yaml:"tick_size" validate:"gte=0"`
}

type RiskConfig struct {
	MaxLong    float64 `yaml:"max_long" default:"10" validate:"gt=0"`
	MaxShort   float64 `yaml:"max_short" default:"10" validate:"gt=0"`
	MaxLoss    float64 `yaml:"max_loss" validate:"gte=0"`
	KillSwitch bool    `yaml:"kill_switch"`
}

type CycleConfig struct {
	FillPolicy   string  `yaml:"fill_policy" default:"external" validate:"oneof=instant external"`
	RequoteOnly  bool    `yaml:"requote_only"`
	PublishRate  float64 `yaml:"publish_rate" validate:"gte=0"`
	PublishBurst float64 `yaml:"publish_burst" default:"10" validate:"gte=1"`
	QueueSize    int     `yaml:"queue_size" default:"4096" validate:"gt=0"`
}

var validate = validator.New()

// Load reads a YAML configuration file, applies defaults and validates it.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func read(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("QUOTEFLOW_SYMBOL"); v != "" {
		c.Symbol = v
	}
	if v := os.Getenv("STREAM_URL"); v != "" {
		c.Stream.URL = v
		c.Stream.Enabled = true
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// Validate checks field rules and the cross-section constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed on %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return err
	}
	q := c.Quote
	if q.MaxSize < q.MinSize {
		return fmt.Errorf("quote.max_size %v below quote.min_size %v", q.MaxSize, q.MinSize)
	}
	if q.BaseSize < q.MinSize || q.BaseSize > q.MaxSize {
		return fmt.Errorf("quote.base_size %v outside [%v, %v]", q.BaseSize, q.MinSize, q.MaxSize)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty")
	}
	if c.Logging.Alerts.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("logging.alerts requires kafka")
	}
	if c.Stream.ReconnectMax < c.Stream.ReconnectInitial {
		return fmt.Errorf("stream.reconnect_max %s below reconnect_initial %s", c.Stream.ReconnectMax, c.Stream.ReconnectInitial)
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
