package clickhouse

import (
	"errors"
	"strconv"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClientConfig describes the archive connection.
type ClientConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	// UseHTTP selects the HTTP interface instead of the native protocol.
	UseHTTP bool

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	DialTimeout     time.Duration
	ReadTimeout     time.Duration

	// Server-side settings sent with every query.
	AsyncInsert  bool
	WaitForAsync bool
	MaxExecTime  time.Duration

	// Schema is run in order right after the first ping.
	Schema []string
}

type ClientOption func(*ClientConfig)

func defaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Port:            9000,
		Database:        "default",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     10 * time.Second,
	}
}

func (c *ClientConfig) validate() error {
	if c.Host == "" {
		return errors.New("clickhouse: host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("clickhouse: port out of range")
	}
	return nil
}

func (c *ClientConfig) addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// options translates the config into driver options.
func (c *ClientConfig) options() *clickhouse.Options {
	settings := clickhouse.Settings{}
	if c.MaxExecTime > 0 {
		settings["max_execution_time"] = int(c.MaxExecTime / time.Second)
	}
	if c.AsyncInsert {
		settings["async_insert"] = 1
		if c.WaitForAsync {
			settings["wait_for_async_insert"] = 1
		} else {
			settings["wait_for_async_insert"] = 0
		}
	}

	protocol := clickhouse.Native
	if c.UseHTTP {
		protocol = clickhouse.HTTP
	}
	return &clickhouse.Options{
		Protocol: protocol,
		Addr:     []string{c.addr()},
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.User,
			Password: c.Password,
		},
		Settings:        settings,
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.ReadTimeout,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

// WithAddress sets the server. A non-positive port keeps the native default.
func WithAddress(host string, port int) ClientOption {
	return func(c *ClientConfig) {
		c.Host = host
		if port > 0 {
			c.Port = port
		}
	}
}

func WithDatabase(database string) ClientOption {
	return func(c *ClientConfig) {
		if database != "" {
			c.Database = database
		}
	}
}

func WithCredentials(user, password string) ClientOption {
	return func(c *ClientConfig) {
		c.User, c.Password = user, password
	}
}

// WithMaxConnections sizes the pool.
func WithMaxConnections(maxOpen, maxIdle int) ClientOption {
	return func(c *ClientConfig) {
		if maxOpen > 0 {
			c.MaxOpenConns = maxOpen
		}
		if maxIdle >= 0 {
			c.MaxIdleConns = maxIdle
		}
	}
}

// WithTimeouts sets dial and read timeouts; zero keeps the default.
func WithTimeouts(dial, read time.Duration) ClientOption {
	return func(c *ClientConfig) {
		if dial > 0 {
			c.DialTimeout = dial
		}
		if read > 0 {
			c.ReadTimeout = read
		}
	}
}

func WithHTTP(useHTTP bool) ClientOption {
	return func(c *ClientConfig) { c.UseHTTP = useHTTP }
}

// WithAsyncInsert turns on server-side insert buffering. With wait the
// server acknowledges only after the buffer is flushed.
func WithAsyncInsert(enabled, wait bool) ClientOption {
	return func(c *ClientConfig) {
		c.AsyncInsert, c.WaitForAsync = enabled, wait
	}
}

// WithMaxExecutionTime caps each query, rounded down to whole seconds.
func WithMaxExecutionTime(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.MaxExecTime = d }
}

func WithSchema(stmts []string) ClientOption {
	return func(c *ClientConfig) { c.Schema = stmts }
}
