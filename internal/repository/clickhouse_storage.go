package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"LiveTicks/internal/domain/models"
	domrepo "LiveTicks/internal/domain/repository"
	pkgch "LiveTicks/pkg/clickhouse"
	applogger "LiveTicks/pkg/logger"
)

// ClickHouseStorage archives committed points in a MergeTree table.
type ClickHouseStorage struct {
	db     *sql.DB
	table  string
	stream string
	l      *applogger.Logger
}

// NewClickHouseStorage creates ClickHouse storage for one stream.
func NewClickHouseStorage(ch *pkgch.Client, table, stream string, l *applogger.Logger) domrepo.Storage {
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseStorage{db: ch.DB(), table: table, stream: stream, l: l}
}

// SchemaStatements returns the idempotent DDL for table.
func SchemaStatements(table string) []string {
	return []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            ts      DateTime64(3, 'UTC'),
            stream  LowCardinality(String),
            price   Float64,
            seq     UInt64
        )
        ENGINE = ReplacingMergeTree
        PARTITION BY toYYYYMMDD(ts)
        ORDER BY (stream, ts, seq)
    `, table)}
}

func (s *ClickHouseStorage) Init(ctx context.Context) error {
	for _, stmt := range SchemaStatements(s.table) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init %s: %w", s.table, err)
		}
	}
	return nil
}

// rows per INSERT statement
const chunkSize = 2000

func (s *ClickHouseStorage) StoreBatch(ctx context.Context, points []models.DataPoint) error {
	for start := 0; start < len(points); start += chunkSize {
		end := min(start+chunkSize, len(points))
		q, args := buildInsert(s.table, s.stream, points[start:end])
		if q == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse insert failed",
				applogger.String("table", s.table),
				applogger.Int("rows", end-start),
				applogger.Error(err),
			)
			return fmt.Errorf("insert %d rows: %w", end-start, err)
		}
	}
	return nil
}

// buildInsert renders one multi-row INSERT. Points without a timestamp are
// skipped; seq keeps same-millisecond ticks distinct.
func buildInsert(table, stream string, points []models.DataPoint) (string, []interface{}) {
	values := make([]string, 0, len(points))
	args := make([]interface{}, 0, len(points)*4)
	for i, dp := range points {
		if dp.Timestamp <= 0 {
			continue
		}
		values = append(values, "(?, ?, ?, ?)")
		args = append(args, time.UnixMilli(dp.Timestamp).UTC(), stream, dp.Value, uint64(dp.Timestamp)*1000+uint64(i%1000))
	}
	if len(values) == 0 {
		return "", nil
	}
	q := fmt.Sprintf("INSERT INTO %s (ts, stream, price, seq) VALUES %s", table, strings.Join(values, ","))
	return q, args
}

// Query returns points in [from, to] oldest first, at most limit rows.
func (s *ClickHouseStorage) Query(ctx context.Context, from, to time.Time, limit int) ([]models.DataPoint, error) {
	q := fmt.Sprintf("SELECT ts, price FROM %s FINAL WHERE stream = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC, seq ASC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, s.stream, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}
	defer rows.Close()

	out := make([]models.DataPoint, 0, limit)
	for rows.Next() {
		var (
			ts time.Time
			dp models.DataPoint
		)
		if err := rows.Scan(&ts, &dp.Value); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		dp.Timestamp = ts.UnixMilli()
		out = append(out, dp)
	}
	return out, rows.Err()
}

func (s *ClickHouseStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to pkg/clickhouse.Client.
func (s *ClickHouseStorage) Close() error {
	return nil
}
