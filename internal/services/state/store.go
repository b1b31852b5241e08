// Package state holds the published metrics snapshot, collection status and cycle state,
// and persists the snapshot across restarts.
package state

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fgeck/goduplicity-exporter/internal/models"
	"github.com/rs/zerolog"
)

// ErrLocked is returned when another process holds the metrics file lock.
var ErrLocked = errors.New("metrics file is locked by another process")

// Store publishes immutable snapshots for concurrent readers.
// Writers are serialized; readers never block.
type Store struct {
	name   string
	path   string
	logger zerolog.Logger

	mu         sync.Mutex
	metrics    atomic.Pointer[models.MetricsSnapshot]
	collection atomic.Pointer[models.CollectionStatus]
	state      atomic.Int32
	cycleID    atomic.Pointer[string]
	nextRun    atomic.Pointer[time.Time]
}

// New creates a store for the backup job name, persisting to path.
func New(logger zerolog.Logger, name, path string) *Store {
	s := &Store{
		name:   name,
		path:   path,
		logger: logger,
	}
	s.metrics.Store(&models.MetricsSnapshot{})
	s.collection.Store(&models.CollectionStatus{})
	return s
}

// Load reads the persisted snapshot. A missing or invalid file leaves the zero snapshot
// in place; the error is returned for logging only.
func (s *Store) Load() error {
	m, exists, err := loadSnapshot(s.path)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("failed to load persisted metrics, starting from zero")
		return err
	}
	if !exists {
		s.logger.Info().Str("path", s.path).Msg("no persisted metrics found, starting from zero")
		return nil
	}

	s.metrics.Store(&m)
	s.logger.Info().
		Str("path", s.path).
		Bool("success", m.Success).
		Int64("last_backup", m.LastBackupEpoch).
		Msg("loaded persisted metrics")
	return nil
}

// Metrics returns the current snapshot.
func (s *Store) Metrics() models.MetricsSnapshot {
	return *s.metrics.Load()
}

// Update derives a new snapshot with fn, publishes it and persists it.
// The new snapshot is published even when persisting fails.
func (s *Store) Update(fn func(models.MetricsSnapshot) models.MetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := fn(*s.metrics.Load())
	s.metrics.Store(&next)

	if s.path == "" {
		return nil
	}
	return saveSnapshot(s.path, next)
}

// Collection returns the last published collection status.
func (s *Store) Collection() models.CollectionStatus {
	return *s.collection.Load()
}

// SetCollection publishes a new collection status.
func (s *Store) SetCollection(c models.CollectionStatus) {
	s.collection.Store(&c)
}

// State returns the current cycle state.
func (s *Store) State() models.CycleState {
	return models.CycleState(s.state.Load())
}

// SetState publishes a new cycle state.
func (s *Store) SetState(st models.CycleState) {
	s.state.Store(int32(st))
}

// CycleID returns the id of the current or last cycle, or "".
func (s *Store) CycleID() string {
	if id := s.cycleID.Load(); id != nil {
		return *id
	}
	return ""
}

// SetCycleID publishes the id of the cycle in progress.
func (s *Store) SetCycleID(id string) {
	s.cycleID.Store(&id)
}

// NextRun returns the next scheduled cycle start, if one is known.
func (s *Store) NextRun() (time.Time, bool) {
	if t := s.nextRun.Load(); t != nil {
		return *t, true
	}
	return time.Time{}, false
}

// SetNextRun publishes the next scheduled cycle start.
func (s *Store) SetNextRun(t time.Time) {
	s.nextRun.Store(&t)
}

// Name returns the backup job name.
func (s *Store) Name() string {
	return s.name
}

// Status returns a point-in-time report of everything the store holds.
func (s *Store) Status() models.StatusReport {
	report := models.StatusReport{
		Name:       s.name,
		State:      s.State().String(),
		CycleID:    s.CycleID(),
		Metrics:    s.Metrics(),
		Collection: s.Collection(),
	}
	if next, ok := s.NextRun(); ok {
		report.NextRun = &next
	}
	return report
}
