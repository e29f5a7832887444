package di

import (
	"context"
	"fmt"
	"time"

	"LiveTicks/internal/domain/repository"
	"LiveTicks/internal/handler/api"
	mid "LiveTicks/internal/middleware"
	internalrepo "LiveTicks/internal/repository"
	"LiveTicks/internal/service/feed"
	"LiveTicks/internal/usecase"
	"LiveTicks/pkg/cache"
	pkgch "LiveTicks/pkg/clickhouse"
	"LiveTicks/pkg/config"
	xhttp "LiveTicks/pkg/http"
	pkgkafka "LiveTicks/pkg/kafka"
	applogger "LiveTicks/pkg/logger"
	"LiveTicks/pkg/metrics"
	"LiveTicks/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
)

const serviceName = "liveticks"

// ProvideLogger creates the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("service", serviceName), applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideKafkaProducer creates a Kafka producer when the sink or the log
// collector needs one, and returns nil otherwise.
func ProvideKafkaProducer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if cfg.Sink.Backend != usecase.SinkKafka && cfg.Log.CollectTopic == "" {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithAutoCreateTopic(cfg.Kafka.AutoCreateTopic),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}

	if cfg.Log.CollectTopic != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval: cfg.Log.CollectInterval,
			Topic:        cfg.Log.CollectTopic,
			Service:      serviceName,
			Publisher:    producer,
		})
	}
	l.Info("kafka producer ready",
		applogger.Any("brokers", cfg.Kafka.Brokers),
		applogger.String("topic", cfg.Kafka.Topic))

	cleanup := func() {
		l.RemoveCollector()
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close", applogger.Error(err))
		}
	}
	return producer, cleanup, nil
}

func tickTable(cfg *config.Config) string {
	return cfg.ClickHouse.Database + "." + cfg.ClickHouse.Table
}

// ProvideClickHouseClient connects to ClickHouse and creates the database
// when the sink or the archive uses it, and returns nil otherwise.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, func(), error) {
	if !cfg.UsesClickHouse() {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddress(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		pkgch.WithSchema([]string{"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	l.Info("clickhouse ready", applogger.String("table", tickTable(cfg)))

	cleanup := func() {
		if err := client.Close(); err != nil {
			l.Warn("clickhouse close", applogger.Error(err))
		}
	}
	return client, cleanup, nil
}

// ProvideSnapshotStore builds the persistence backend for the series and
// settings. It returns nil for backend "none".
func ProvideSnapshotStore(cfg *config.Config, l *applogger.Logger) (repository.SnapshotStore, func(), error) {
	p := cfg.Persistence
	var svc cache.Service
	switch p.Backend {
	case "none":
		return nil, func() {}, nil
	case "memory":
		svc = cache.NewMemoryCache(cache.WithMemoryMaxSize(p.MemoryItems), cache.WithMemoryCleanup(p.MemorySweep))
	case "redis", "layered":
		rc, err := cache.NewRedisCache(
			cache.WithRedisAddr(p.Redis.Addr),
			cache.WithRedisPassword(p.Redis.Password),
			cache.WithRedisDB(p.Redis.DB),
			cache.WithRedisPrefix(p.Redis.Prefix),
			cache.WithRedisPool(p.Redis.PoolSize, p.Redis.MinIdle, p.Redis.PoolTimeout),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("snapshot store: %w", err)
		}
		svc = rc
		if p.Backend == "layered" {
			svc = cache.NewLayeredCache(rc, cache.WithLayeredMemorySize(p.MemoryItems))
		}
	default:
		return nil, nil, fmt.Errorf("snapshot store: unknown backend %q", p.Backend)
	}
	l.Info("snapshot store ready", applogger.String("backend", p.Backend))

	cleanup := func() {
		if err := svc.Close(); err != nil {
			l.Warn("snapshot store close", applogger.Error(err))
		}
	}
	return internalrepo.NewSnapshotCache(svc), cleanup, nil
}

// ProvideTickStorage creates the ClickHouse tick repository and its table, or
// returns nil without a client.
func ProvideTickStorage(ch *pkgch.Client, cfg *config.Config, l *applogger.Logger) (repository.Storage, error) {
	if ch == nil {
		return nil, nil
	}
	store := internalrepo.NewClickHouseStorage(ch, tickTable(cfg), streamName(cfg), l)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("tick storage: %w", err)
	}
	return store, nil
}

// ProvideTickPublisher creates the Kafka tick publisher, or nil when the sink
// does not use Kafka.
func ProvideTickPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	if producer == nil || cfg.Sink.Backend != usecase.SinkKafka {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic, streamName(cfg))
}

// streamName labels archived and published ticks with the endpoint.
func streamName(cfg *config.Config) string {
	return cfg.Stream.Endpoint
}

// ProvideSinkPipeline builds the async sink, or nil for backend "none".
func ProvideSinkPipeline(
	pub repository.Publisher,
	store repository.Storage,
	m repository.Metrics,
	cfg *config.Config,
	l *applogger.Logger,
) *mid.SinkPipeline {
	if cfg.Sink.Backend == usecase.SinkNone {
		return nil
	}
	proc := usecase.NewSinkProcessor(pub, store, m, cfg.Sink.Backend)
	return mid.NewSinkPipeline(proc, m,
		mid.WithBatching(cfg.Sink.BatchSize, cfg.Sink.BatchTimeout),
		mid.WithBufferSize(cfg.Sink.BufferSize),
		mid.WithRetry(cfg.Sink.MaxRetries, 200*time.Millisecond, 5*time.Second),
		mid.WithLogger(l),
	)
}

// ProvideDialer creates the websocket dialer for the feed.
func ProvideDialer(cfg *config.Config) repository.Dialer {
	return feed.NewWSDialer(cfg.Stream.DialTimeout, cfg.Stream.WriteTimeout)
}

// ProvideStreamService assembles the façade with its optional collaborators.
func ProvideStreamService(
	cfg *config.Config,
	dialer repository.Dialer,
	snaps repository.SnapshotStore,
	sink *mid.SinkPipeline,
	store repository.Storage,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.StreamService {
	opts := []usecase.ServiceOption{
		usecase.WithServiceLogger(l),
		usecase.WithServiceMetrics(m),
		usecase.WithAutoConnect(cfg.Stream.AutoConnect),
	}
	if snaps != nil {
		opts = append(opts, usecase.WithSnapshotStore(snaps, cfg.Persistence.SaveInterval))
	}
	if sink != nil {
		opts = append(opts, usecase.WithSink(sink))
	}
	if store != nil && cfg.Sink.Archive {
		opts = append(opts, usecase.WithArchive(store))
	}
	return usecase.NewStreamService(cfg.StreamConfig(), cfg.Settings, dialer, opts...)
}

// ProvideHub creates the websocket push hub.
func ProvideHub(cfg *config.Config, l *applogger.Logger, svc *usecase.StreamService) *api.Hub {
	return api.NewHub(l, svc, cfg.Server.MaxWSClients)
}

// ProvideStreamHandler creates the HTTP adapter for the service.
func ProvideStreamHandler(cfg *config.Config, l *applogger.Logger, svc *usecase.StreamService, hub *api.Hub) *api.StreamEchoHandler {
	return api.NewStreamEchoHandler(l, svc, hub, cfg.Server.SendRate, cfg.Server.SendBurst)
}

// ProvideHTTPServer creates the Echo server with every handler registered.
func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, h *api.StreamEchoHandler) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(l, []xhttp.Handler{h},
		xhttp.WithAddress(cfg.Server.Host, cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithMetrics(metricsPath, prometheus.DefaultGatherer),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	svc *usecase.StreamService,
	httpServer *xhttp.Server,
	hub *api.Hub,
) *server.App {
	return server.New(cfg, l, svc, httpServer, hub)
}
