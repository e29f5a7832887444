package repository

import (
	"context"
	"time"

	"LiveTicks/internal/domain/models"
)

// Dialer opens a transport session to the feed endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Conn is one live frame-based transport session.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteText(data []byte) error
	Close() error
}

// SnapshotStore persists the series and settings between runs.
type SnapshotStore interface {
	SaveSeries(ctx context.Context, points []models.DataPoint) error
	LoadSeries(ctx context.Context) ([]models.DataPoint, error)
	ClearSeries(ctx context.Context) error
	SaveSettings(ctx context.Context, s models.AppSettings) error
	LoadSettings(ctx context.Context) (*models.AppSettings, error)
}

// Publisher forwards committed batches to a message broker.
type Publisher interface {
	PublishBatch(ctx context.Context, points []models.DataPoint) error
	Close() error
}

// Storage archives committed batches.
type Storage interface {
	Init(ctx context.Context) error
	StoreBatch(ctx context.Context, points []models.DataPoint) error
	Query(ctx context.Context, from, to time.Time, limit int) ([]models.DataPoint, error)
	Health(ctx context.Context) error
	Close() error
}

type Metrics interface {
	RecordFrame()
	RecordParseError()
	RecordReconnect(attempt int)
	RecordFlush(points int)
	RecordStatus(status models.ConnectionStatus)
	RecordError(kind string)
	RecordLastPrice(price float64)
	RecordLatency(op string, seconds float64)
}
