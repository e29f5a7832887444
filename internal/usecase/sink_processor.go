package usecase

import (
	"context"
	"fmt"
	"time"

	"LiveTicks/internal/domain/models"
	drepo "LiveTicks/internal/domain/repository"
	mid "LiveTicks/internal/middleware"
)

// Sink backends.
const (
	SinkNone       = "none"
	SinkKafka      = "kafka"
	SinkClickHouse = "clickhouse"
)

// SinkProcessor routes committed batches to the configured backend.
type SinkProcessor struct {
	pub     drepo.Publisher
	store   drepo.Storage
	metrics drepo.Metrics
	backend string
}

// NewSinkProcessor creates a SinkProcessor. pub or store may be nil when the
// backend does not use them.
func NewSinkProcessor(pub drepo.Publisher, store drepo.Storage, metrics drepo.Metrics, backend string) *SinkProcessor {
	return &SinkProcessor{pub: pub, store: store, metrics: metrics, backend: backend}
}

// ProcessBatch delivers points to the backend in one call.
func (p *SinkProcessor) ProcessBatch(ctx context.Context, points []models.DataPoint) error {
	if len(points) == 0 {
		return nil
	}

	start := time.Now()
	var err error
	switch {
	case p.backend == SinkKafka && p.pub != nil:
		err = p.pub.PublishBatch(ctx, points)
	case p.backend == SinkClickHouse && p.store != nil:
		err = p.store.StoreBatch(ctx, points)
	case p.backend == SinkNone:
		return nil
	default:
		return mid.UnknownBackend(p.backend)
	}

	if err != nil {
		p.metrics.RecordError("sink_" + p.backend)
		return fmt.Errorf("sink %s: %w", p.backend, err)
	}
	p.metrics.RecordLatency("sink_"+p.backend, time.Since(start).Seconds())
	return nil
}
