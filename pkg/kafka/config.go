package kafka

import (
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// ProducerConfig is the writer setup shared by the tick publisher and the
// log collector.
type ProducerConfig struct {
	Brokers []string
	// RequiredAcks is -1 (all replicas), 0 (none) or 1 (leader).
	RequiredAcks int
	Compression  string
	MaxAttempts  int

	WriteTimeout time.Duration
	ReadTimeout  time.Duration

	// Writer-side batching on top of whatever the caller already batched.
	BatchSize    int
	BatchBytes   int64
	BatchTimeout time.Duration

	Async bool
	// HashByKey pins every key to one partition so a stream stays ordered.
	HashByKey       bool
	AutoCreateTopic bool
}

type ProducerOption func(*ProducerConfig)

func defaultProducerConfig() *ProducerConfig {
	return &ProducerConfig{
		RequiredAcks: -1,
		Compression:  "gzip",
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		BatchSize:    100,
		BatchBytes:   1 << 20,
		BatchTimeout: time.Second,
	}
}

func (c *ProducerConfig) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	return nil
}

func (c *ProducerConfig) balancer() kafka.Balancer {
	if c.HashByKey {
		return &kafka.Hash{}
	}
	return &kafka.LeastBytes{}
}

// writer builds the kafka-go writer. Topic is left empty so each message
// carries its own.
func (c *ProducerConfig) writer() *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Balancer:               c.balancer(),
		RequiredAcks:           kafka.RequiredAcks(c.RequiredAcks),
		Compression:            parseCompression(c.Compression),
		MaxAttempts:            c.MaxAttempts,
		WriteTimeout:           c.WriteTimeout,
		ReadTimeout:            c.ReadTimeout,
		BatchSize:              c.BatchSize,
		BatchBytes:             c.BatchBytes,
		BatchTimeout:           c.BatchTimeout,
		Async:                  c.Async,
		AllowAutoTopicCreation: c.AutoCreateTopic,
	}
}

func WithBrokers(brokers []string) ProducerOption {
	return func(c *ProducerConfig) { c.Brokers = brokers }
}

// WithCompression selects none, gzip, snappy, lz4 or zstd. Empty keeps the
// default.
func WithCompression(compression string) ProducerOption {
	return func(c *ProducerConfig) {
		if compression != "" {
			c.Compression = compression
		}
	}
}

func WithRequiredAcks(acks int) ProducerOption {
	return func(c *ProducerConfig) { c.RequiredAcks = acks }
}

func WithMaxAttempts(n int) ProducerOption {
	return func(c *ProducerConfig) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithBatching sets the writer's own batch size and linger.
func WithBatching(size int, linger time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		if size > 0 {
			c.BatchSize = size
		}
		if linger > 0 {
			c.BatchTimeout = linger
		}
	}
}

// WithTimeouts sets broker write and read timeouts; zero keeps the default.
func WithTimeouts(write, read time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		if write > 0 {
			c.WriteTimeout = write
		}
		if read > 0 {
			c.ReadTimeout = read
		}
	}
}

// WithAsync makes writes fire-and-forget; delivery errors are then only
// visible in the writer stats.
func WithAsync(async bool) ProducerOption {
	return func(c *ProducerConfig) { c.Async = async }
}

func WithHashByKey(hash bool) ProducerOption {
	return func(c *ProducerConfig) { c.HashByKey = hash }
}

func WithAutoCreateTopic(v bool) ProducerOption {
	return func(c *ProducerConfig) { c.AutoCreateTopic = v }
}
