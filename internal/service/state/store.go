// Package state holds the bounded series together with connection, pause,
// settings and error state. Every command is serialized by one mutex, and
// subscribers only ever observe whole snapshots taken after a command.
package state

import (
	"sync"

	"LiveTicks/internal/domain/models"
)

type Store struct {
	mu       sync.RWMutex
	status   models.ConnectionStatus
	series   []models.DataPoint
	paused   bool
	settings models.AppSettings
	err      *string
	version  uint64

	subs   map[int]chan models.Snapshot
	nextID int
}

// New creates an empty, disconnected store.
func New(settings models.AppSettings) *Store {
	if settings.MaxDataPoints == 0 {
		settings.MaxDataPoints = models.DefaultSettings().MaxDataPoints
	}
	return &Store{
		status:   models.StatusDisconnected,
		settings: settings,
		subs:     make(map[int]chan models.Snapshot),
	}
}

// Snapshot returns a consistent copy of the whole state.
func (s *Store) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) Status() models.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Series returns a copy of the committed points, newest last.
func (s *Store) Series() []models.DataPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.DataPoint(nil), s.series...)
}

func (s *Store) IsPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

func (s *Store) Settings() models.AppSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Error returns the current user-visible error, or nil.
func (s *Store) Error() *string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyErr(s.err)
}

// SetConnectionStatus records the connection health.
func (s *Store) SetConnectionStatus(status models.ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == status {
		return
	}
	s.status = status
	s.commitLocked()
}

// AddDataPoints appends batch in order and evicts from the front until the
// series fits MaxDataPoints. It is a no-op while paused and returns the
// number of points committed.
func (s *Store) AddDataPoints(batch []models.DataPoint) int {
	if len(batch) == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return 0
	}
	s.series = append(s.series, batch...)
	s.evictLocked()
	s.commitLocked()
	return len(batch)
}

// ClearDataPoints empties the series.
func (s *Store) ClearDataPoints() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series = nil
	s.commitLocked()
}

// TogglePause flips the pause flag and returns the new value. Points that
// arrive while paused are discarded, not queued.
func (s *Store) TogglePause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = !s.paused
	s.commitLocked()
	return s.paused
}

// UpdateSettings merges patch into the settings. Shrinking MaxDataPoints
// evicts the oldest points immediately.
func (s *Store) UpdateSettings(patch models.SettingsPatch) models.AppSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = patch.Apply(s.settings)
	s.evictLocked()
	s.commitLocked()
	return s.settings
}

// SetError replaces the user-visible error. Latest wins.
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = &msg
	s.commitLocked()
}

func (s *Store) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return
	}
	s.err = nil
	s.commitLocked()
}

// Restore seeds the store from a persisted snapshot. A nil settings keeps
// the current ones.
func (s *Store) Restore(series []models.DataPoint, settings *models.AppSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if settings != nil && settings.MaxDataPoints > 0 {
		s.settings = *settings
	}
	s.series = append([]models.DataPoint(nil), series...)
	s.evictLocked()
	s.commitLocked()
}

// Subscribe returns a channel that receives the latest snapshot after each
// command. A slow reader skips intermediate snapshots but never sees a
// partial one. Call cancel to release the subscription.
func (s *Store) Subscribe() (<-chan models.Snapshot, func()) {
	ch := make(chan models.Snapshot, 1)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) evictLocked() {
	max := int(s.settings.MaxDataPoints)
	if max <= 0 || len(s.series) <= max {
		return
	}
	// copy so the dropped prefix can be collected
	s.series = append([]models.DataPoint(nil), s.series[len(s.series)-max:]...)
}

func (s *Store) commitLocked() {
	s.version++
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (s *Store) snapshotLocked() models.Snapshot {
	return models.Snapshot{
		Status:   s.status,
		Series:   append([]models.DataPoint(nil), s.series...),
		IsPaused: s.paused,
		Settings: s.settings,
		Error:    copyErr(s.err),
		Version:  s.version,
	}
}

func copyErr(e *string) *string {
	if e == nil {
		return nil
	}
	v := *e
	return &v
}
