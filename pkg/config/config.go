package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"LiveTicks/internal/domain/models"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"0s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		CORS            bool          `yaml:"cors" default:"true"`
		SendRate        float64       `yaml:"send_rate" default:"5"`
		SendBurst       int           `yaml:"send_burst" default:"10"`
		MaxWSClients    int           `yaml:"max_ws_clients" default:"256"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output string `yaml:"output" default:"stdout"`
		// Ship aggregated warn/error lines to this kafka topic when set.
		CollectTopic    string        `yaml:"collect_topic"`
		CollectInterval time.Duration `yaml:"collect_interval" default:"30s"`
	} `yaml:"log"`
	Stream struct {
		Endpoint             string        `yaml:"endpoint" validate:"required"`
		MaxReconnectAttempts uint          `yaml:"max_reconnect_attempts" default:"5"`
		InitialBackoff       time.Duration `yaml:"initial_backoff" default:"1s"`
		MaxBackoff           time.Duration `yaml:"max_backoff" default:"30s"`
		HeartbeatInterval    time.Duration `yaml:"heartbeat_interval" default:"30s"`
		FlushInterval        time.Duration `yaml:"flush_interval" default:"100ms"`
		DialTimeout          time.Duration `yaml:"dial_timeout" default:"10s"`
		WriteTimeout         time.Duration `yaml:"write_timeout" default:"5s"`
		OutboundQueueSize    int           `yaml:"outbound_queue_size" default:"256" validate:"gte=1"`
		AutoConnect          bool          `yaml:"auto_connect" default:"true"`
	} `yaml:"stream"`
	Settings    models.AppSettings `yaml:"settings"`
	Persistence struct {
		Backend      string        `yaml:"backend" default:"memory" validate:"oneof=none memory redis layered"`
		SaveInterval time.Duration `yaml:"save_interval" default:"2s"`
		MemoryItems  int           `yaml:"memory_items" default:"16"`
		MemorySweep  time.Duration `yaml:"memory_sweep" default:"1m"`
		Redis        struct {
			Addr        string        `yaml:"addr" default:"localhost:6379"`
			Password    string        `yaml:"password"`
			DB          int           `yaml:"db"`
			Prefix      string        `yaml:"prefix" default:"liveticks"`
			PoolSize    int           `yaml:"pool_size" default:"10"`
			MinIdle     int           `yaml:"min_idle" default:"2"`
			PoolTimeout time.Duration `yaml:"pool_timeout" default:"30s"`
		} `yaml:"redis"`
	} `yaml:"persistence"`
	Sink struct {
		Backend      string        `yaml:"backend" default:"none" validate:"oneof=none kafka clickhouse"`
		BatchSize    int           `yaml:"batch_size" default:"500" validate:"gte=1"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"1s"`
		BufferSize   int           `yaml:"buffer_size" default:"64" validate:"gte=1"`
		MaxRetries   uint64        `yaml:"max_retries" default:"3"`
		// Archive enables GET /history; it needs the clickhouse section.
		Archive bool `yaml:"archive"`
	} `yaml:"sink"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"liveticks.ticks"`
		RequiredAcks int      `yaml:"required_acks" default:"1" validate:"oneof=-1 0 1"`
		Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchSize    int           `yaml:"batch_size" default:"500"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		AutoCreateTopic bool `yaml:"auto_create_topic"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"liveticks"`
		Table            string        `yaml:"table" default:"ticks"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file. Missing keys take their
// default values.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, applies defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
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
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("STREAM_ENDPOINT"); v != "" {
		c.Stream.Endpoint = v
	}
	if v := getenv("PERSISTENCE_BACKEND"); v != "" {
		c.Persistence.Backend = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Persistence.Redis.Addr = v
	}
	if v := getenv("SINK_BACKEND"); v != "" {
		c.Sink.Backend = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks field rules and the constraints between sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Stream.MaxBackoff < c.Stream.InitialBackoff {
		return errors.New("stream.max_backoff must not be below stream.initial_backoff")
	}
	needsKafka := c.Sink.Backend == "kafka" || c.Log.CollectTopic != ""
	if needsKafka && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers cannot be empty when kafka is used")
	}
	if c.Sink.Backend == "kafka" && c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required for the kafka sink")
	}
	if (c.Persistence.Backend == "redis" || c.Persistence.Backend == "layered") && c.Persistence.Redis.Addr == "" {
		return errors.New("persistence.redis.addr is required for the redis backend")
	}
	return nil
}

// UsesClickHouse reports whether any component needs a ClickHouse client.
func (c *Config) UsesClickHouse() bool {
	return c.Sink.Backend == "clickhouse" || c.Sink.Archive
}

// StreamConfig converts the stream section for the connection manager.
func (c *Config) StreamConfig() models.StreamConfig {
	return models.StreamConfig{
		Endpoint:             c.Stream.Endpoint,
		MaxReconnectAttempts: c.Stream.MaxReconnectAttempts,
		InitialBackoff:       c.Stream.InitialBackoff,
		MaxBackoff:           c.Stream.MaxBackoff,
		HeartbeatInterval:    c.Stream.HeartbeatInterval,
		FlushInterval:        c.Stream.FlushInterval,
		DialTimeout:          c.Stream.DialTimeout,
		WriteTimeout:         c.Stream.WriteTimeout,
		OutboundQueueSize:    c.Stream.OutboundQueueSize,
	}
}
