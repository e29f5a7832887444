package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsNativeProtocol(t *testing.T) {
	cfg := defaultClientConfig()
	for _, opt := range []ClientOption{
		WithAddress("ch.local", 0),
		WithDatabase("liveticks"),
		WithCredentials("app", "p@ss"),
		WithAsyncInsert(true, true),
		WithMaxExecutionTime(30 * time.Second),
		WithTimeouts(0, 20*time.Second),
	} {
		opt(cfg)
	}

	o := cfg.options()
	assert.Equal(t, clickhouse.Native, o.Protocol)
	assert.Equal(t, []string{"ch.local:9000"}, o.Addr)
	assert.Equal(t, "liveticks", o.Auth.Database)
	assert.Equal(t, "app", o.Auth.Username)
	assert.Equal(t, "p@ss", o.Auth.Password)
	assert.Equal(t, 5*time.Second, o.DialTimeout)
	assert.Equal(t, 20*time.Second, o.ReadTimeout)
	assert.Equal(t, 30, o.Settings["max_execution_time"])
	assert.Equal(t, 1, o.Settings["async_insert"])
	assert.Equal(t, 1, o.Settings["wait_for_async_insert"])
}

func TestOptionsHTTPWithoutServerSettings(t *testing.T) {
	cfg := defaultClientConfig()
	WithAddress("ch.local", 8123)(cfg)
	WithHTTP(true)(cfg)
	WithMaxConnections(0, 0)(cfg)

	o := cfg.options()
	assert.Equal(t, clickhouse.HTTP, o.Protocol)
	assert.Equal(t, []string{"ch.local:8123"}, o.Addr)
	assert.Empty(t, o.Settings)
	assert.Equal(t, 10, o.MaxOpenConns)
	assert.Equal(t, 0, o.MaxIdleConns)
}

func TestNewClientValidatesAddress(t *testing.T) {
	_, err := NewClient(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host is required")

	_, err = NewClient(context.Background(), WithAddress("ch.local", 70000))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port out of range")
}

func TestNewClientUnreachable(t *testing.T) {
	_, err := NewClient(context.Background(),
		WithAddress("127.0.0.1", 1),
		WithTimeouts(200*time.Millisecond, 0),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clickhouse ping 127.0.0.1:1")
}
