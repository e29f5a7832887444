package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"LiveTicks/internal/domain/models"
	domrepo "LiveTicks/internal/domain/repository"
	applogger "LiveTicks/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

// BatchProc is the downstream the pipeline feeds.
type BatchProc interface {
	ProcessBatch(ctx context.Context, points []models.DataPoint) error
}

// SinkPipeline sits between committed batches and a slow downstream. Enqueue
// never blocks: batches are queued, coalesced up to a size or age limit and
// delivered by one worker that retries with capped exponential backoff. When
// the queue is full new batches are dropped.
type SinkPipeline struct {
	proc    BatchProc
	metrics domrepo.Metrics
	log     *applogger.Logger

	batchSize    int
	batchTimeout time.Duration
	bufSize      int
	maxRetries   uint64
	retryBase    time.Duration
	retryMax     time.Duration

	in   chan []models.DataPoint
	stop chan struct{}
	done chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

type PipelineOption func(*SinkPipeline)

// WithBatching sets how many points are coalesced and for how long.
func WithBatching(size int, timeout time.Duration) PipelineOption {
	return func(p *SinkPipeline) {
		if size > 0 {
			p.batchSize = size
		}
		if timeout > 0 {
			p.batchTimeout = timeout
		}
	}
}

// WithBufferSize sets how many batches may wait for the worker.
func WithBufferSize(n int) PipelineOption {
	return func(p *SinkPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithRetry sets the delivery retry budget and backoff bounds.
func WithRetry(maxRetries uint64, base, max time.Duration) PipelineOption {
	return func(p *SinkPipeline) {
		p.maxRetries = maxRetries
		if base > 0 {
			p.retryBase = base
		}
		if max > 0 {
			p.retryMax = max
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l *applogger.Logger) PipelineOption {
	return func(p *SinkPipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// NewSinkPipeline creates a stopped pipeline.
func NewSinkPipeline(proc BatchProc, metrics domrepo.Metrics, opts ...PipelineOption) *SinkPipeline {
	p := &SinkPipeline{
		proc:         proc,
		metrics:      metrics,
		log:          applogger.Nop(),
		batchSize:    500,
		batchTimeout: time.Second,
		bufSize:      1000,
		maxRetries:   3,
		retryBase:    50 * time.Millisecond,
		retryMax:     2 * time.Second,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.in = make(chan []models.DataPoint, p.bufSize)
	return p
}

// Start launches the delivery worker. The worker keeps ctx's values but not
// its cancellation: it runs until Stop, so batches committed during shutdown
// are still delivered.
func (p *SinkPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	go p.run(context.WithoutCancel(ctx))
}

// Stop delivers what is pending and waits for the worker to exit. Every
// pipeline that was started must be stopped.
func (p *SinkPipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	started := p.started
	p.mu.Unlock()

	close(p.stop)
	if started {
		<-p.done
	}
}

// Enqueue hands a committed batch to the pipeline. Invalid points are
// filtered out. It reports false when the batch was dropped.
func (p *SinkPipeline) Enqueue(batch []models.DataPoint) bool {
	batch = validPoints(batch)
	if len(batch) == 0 {
		return true
	}
	select {
	case <-p.stop:
		p.metrics.RecordError("sink_stopped")
		return false
	default:
	}
	select {
	case p.in <- batch:
		return true
	default:
		p.metrics.RecordError("sink_buffer_full")
		p.log.Warn("sink queue full, dropping batch", applogger.Int("points", len(batch)))
		return false
	}
}

func (p *SinkPipeline) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.batchTimeout)
	defer ticker.Stop()

	var pending []models.DataPoint
	for {
		select {
		case <-p.stop:
		drain:
			for {
				select {
				case b := <-p.in:
					pending = append(pending, b...)
				default:
					break drain
				}
			}
			p.deliver(ctx, pending)
			return
		case b := <-p.in:
			pending = append(pending, b...)
			if len(pending) >= p.batchSize {
				p.deliver(ctx, pending)
				pending = nil
			}
		case <-ticker.C:
			if len(pending) > 0 {
				p.deliver(ctx, pending)
				pending = nil
			}
		}
	}
}

func (p *SinkPipeline) deliver(ctx context.Context, points []models.DataPoint) {
	if len(points) == 0 {
		return
	}
	start := time.Now()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.retryBase
	eb.MaxInterval = p.retryMax
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, p.maxRetries), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := p.proc.ProcessBatch(ctx, points); err != nil {
			if errors.Is(err, errUnknownBackend) {
				return backoff.Permanent(err)
			}
			p.metrics.RecordError("sink_retry")
			return err
		}
		return nil
	}, policy)
	if err != nil {
		p.metrics.RecordError("sink_drop")
		p.log.Error("sink delivery failed, dropping points",
			applogger.Int("points", len(points)),
			applogger.Int("attempts", attempt),
			applogger.Error(err),
		)
		return
	}
	p.metrics.RecordLatency("sink_deliver", time.Since(start).Seconds())
}

var errUnknownBackend = errors.New("unknown sink backend")

// UnknownBackend wraps errUnknownBackend so the pipeline does not retry it.
func UnknownBackend(name string) error {
	return fmt.Errorf("%w: %q", errUnknownBackend, name)
}

func validPoints(batch []models.DataPoint) []models.DataPoint {
	out := batch[:0:0]
	for _, dp := range batch {
		if dp.Timestamp <= 0 || math.IsNaN(dp.Value) || math.IsInf(dp.Value, 0) {
			continue
		}
		out = append(out, dp)
	}
	return out
}
