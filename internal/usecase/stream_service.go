package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"LiveTicks/internal/domain/models"
	drepo "LiveTicks/internal/domain/repository"
	mid "LiveTicks/internal/middleware"
	"LiveTicks/internal/service/feed"
	"LiveTicks/internal/service/state"
	"LiveTicks/pkg/logger"
	"LiveTicks/pkg/metrics"
)

// ErrNoArchive is returned by History when no archive backend is configured.
var ErrNoArchive = errors.New("no archive configured")

const restoreTimeout = 3 * time.Second

// StreamService is the entry point for display clients. It owns the state
// store and the connection manager for one feed, and optionally persists the
// series and forwards committed batches to a sink.
type StreamService struct {
	store *state.Store
	mgr   *feed.Manager

	snaps        drepo.SnapshotStore
	saveInterval time.Duration
	sink         *mid.SinkPipeline
	archive      drepo.Storage
	log          *logger.Logger
	metrics      drepo.Metrics
	feedOpts     []feed.Option
	autoConnect  bool

	dirty     atomic.Bool
	runOnce   sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

type ServiceOption func(*StreamService)

// WithSnapshotStore persists the series and settings every interval when
// they changed, and once more on Close.
func WithSnapshotStore(s drepo.SnapshotStore, interval time.Duration) ServiceOption {
	return func(svc *StreamService) {
		svc.snaps = s
		if interval > 0 {
			svc.saveInterval = interval
		}
	}
}

// WithSink forwards every committed batch to p.
func WithSink(p *mid.SinkPipeline) ServiceOption {
	return func(svc *StreamService) { svc.sink = p }
}

// WithArchive enables History queries against s.
func WithArchive(s drepo.Storage) ServiceOption {
	return func(svc *StreamService) { svc.archive = s }
}

func WithServiceLogger(l *logger.Logger) ServiceOption {
	return func(svc *StreamService) {
		if l != nil {
			svc.log = l
		}
	}
}

func WithServiceMetrics(m drepo.Metrics) ServiceOption {
	return func(svc *StreamService) {
		if m != nil {
			svc.metrics = m
		}
	}
}

// WithFeedOptions passes extra options to the connection manager.
func WithFeedOptions(opts ...feed.Option) ServiceOption {
	return func(svc *StreamService) { svc.feedOpts = append(svc.feedOpts, opts...) }
}

// WithAutoConnect makes Run connect as soon as it starts.
func WithAutoConnect(v bool) ServiceOption {
	return func(svc *StreamService) { svc.autoConnect = v }
}

// NewStreamService builds a disconnected service. A persisted snapshot, if
// any, is restored before the service is returned.
func NewStreamService(cfg models.StreamConfig, settings models.AppSettings, dialer drepo.Dialer, opts ...ServiceOption) *StreamService {
	s := &StreamService{
		saveInterval: 2 * time.Second,
		log:          logger.Nop(),
		metrics:      metrics.Noop{},
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.store = state.New(settings)
	s.restore()

	mopts := append([]feed.Option{
		feed.WithLogger(s.log),
		feed.WithMetrics(s.metrics),
	}, s.feedOpts...)
	mopts = append(mopts, feed.WithCommitHook(s.onCommit))
	s.mgr = feed.NewManager(cfg, dialer, s.store, mopts...)
	return s
}

func (s *StreamService) restore() {
	if s.snaps == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()

	series, err := s.snaps.LoadSeries(ctx)
	if err != nil {
		s.log.Warn("could not restore series", logger.Error(err))
		series = nil
	}
	settings, err := s.snaps.LoadSettings(ctx)
	if err != nil {
		s.log.Warn("could not restore settings", logger.Error(err))
		settings = nil
	}
	if series == nil && settings == nil {
		return
	}
	s.store.Restore(series, settings)
	s.log.Info("restored snapshot", logger.Int("points", len(s.store.Series())))
}

// onCommit runs under the manager lock and must not block.
func (s *StreamService) onCommit(batch []models.DataPoint) {
	if s.sink != nil {
		s.sink.Enqueue(batch)
	}
	s.dirty.Store(true)
}

// Run starts background work and blocks until ctx is done, then closes the
// service.
func (s *StreamService) Run(ctx context.Context) error {
	s.runOnce.Do(func() {
		if s.sink != nil {
			s.sink.Start(ctx)
		}
		if s.snaps != nil {
			s.wg.Add(1)
			go s.saveLoop()
		}
		if s.autoConnect {
			s.mgr.Connect()
		}
	})

	select {
	case <-ctx.Done():
	case <-s.stop:
		return nil
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Close(closeCtx)
}

func (s *StreamService) saveLoop() {
	defer s.wg.Done()
	t := time.NewTicker(s.saveInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			if !s.dirty.Swap(false) {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.saveInterval)
			if err := s.save(ctx); err != nil {
				s.dirty.Store(true)
				s.metrics.RecordError("persist")
				s.log.Warn("snapshot save failed", logger.Error(err))
			}
			cancel()
		}
	}
}

func (s *StreamService) save(ctx context.Context) error {
	snap := s.store.Snapshot()
	if err := s.snaps.SaveSeries(ctx, snap.Series); err != nil {
		return err
	}
	return s.snaps.SaveSettings(ctx, snap.Settings)
}

// Connect starts (or restarts) the feed session. It does not wait for the
// transport to open; progress is visible through Snapshot and Subscribe.
func (s *StreamService) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mgr.Connect()
	return nil
}

// Disconnect closes the session on purpose. Safe to call in any state.
func (s *StreamService) Disconnect() {
	s.mgr.Disconnect()
}

// TogglePause flips the pause flag and returns the new value.
func (s *StreamService) TogglePause() bool {
	return s.store.TogglePause()
}

// UpdateSettings merges patch into the settings and returns the result.
func (s *StreamService) UpdateSettings(patch models.SettingsPatch) models.AppSettings {
	out := s.store.UpdateSettings(patch)
	s.dirty.Store(true)
	return out
}

// Send hands msg to the live session writer, or queues it until the next
// open. It reports whether a transport was open.
func (s *StreamService) Send(msg []byte) bool {
	return s.mgr.Send(msg)
}

func (s *StreamService) Snapshot() models.Snapshot {
	return s.store.Snapshot()
}

// Subscribe delivers the latest snapshot after every change.
func (s *StreamService) Subscribe() (<-chan models.Snapshot, func()) {
	return s.store.Subscribe()
}

func (s *StreamService) IsConnected() bool {
	return s.mgr.IsConnected()
}

// Stats summarizes the current series.
func (s *StreamService) Stats() models.SeriesStats {
	return ComputeStats(s.store.Series())
}

// ClearSeries empties the series and its persisted copy.
func (s *StreamService) ClearSeries(ctx context.Context) error {
	s.store.ClearDataPoints()
	if s.snaps == nil {
		return nil
	}
	if err := s.snaps.ClearSeries(ctx); err != nil {
		return fmt.Errorf("clear persisted series: %w", err)
	}
	return nil
}

// History reads archived points in [from, to].
func (s *StreamService) History(ctx context.Context, from, to time.Time, limit int) ([]models.DataPoint, error) {
	if s.archive == nil {
		return nil, ErrNoArchive
	}
	return s.archive.Query(ctx, from, to, limit)
}

// Close disconnects, drains the sink and saves a final snapshot. Later calls
// return nil.
func (s *StreamService) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.mgr.Disconnect()
		close(s.stop)
		s.wg.Wait()
		if s.sink != nil {
			s.sink.Stop()
		}
		if s.snaps != nil {
			if serr := s.save(ctx); serr != nil {
				err = fmt.Errorf("final snapshot: %w", serr)
			}
		}
		s.log.Info("stream service closed")
	})
	return err
}
