package persistence

import (
	"errors"
	"fmt"
	"time"

	"github.com/codefionn/ryxsurf/internal/logger"
	"github.com/codefionn/ryxsurf/internal/loop"
	"github.com/codefionn/ryxsurf/internal/metrics"
	"github.com/codefionn/ryxsurf/internal/session"
)

// DefaultAutosaveInterval is the autosave period when none is configured.
const DefaultAutosaveInterval = 30 * time.Second

// Manager binds a Store to the hierarchy it persists. Every method must run
// on the goroutine that owns the hierarchy.
type Manager struct {
	store     *Store
	hierarchy *session.Manager
	metrics   *metrics.Metrics
	autosave  *loop.Ticket
	log       *logger.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records saves and loads on mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager takes ownership of store.
func NewManager(store *Store, hierarchy *session.Manager, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		hierarchy: hierarchy,
		log:       logger.Global().WithPrefix("persistence"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() *Store {
	return m.store
}

// SaveAll replaces the stored hierarchy with the in-memory one.
func (m *Manager) SaveAll() error {
	start := time.Now()
	err := m.store.SaveRecords(m.hierarchy.Snapshot())
	m.metrics.Save(err, time.Since(start))
	if err != nil {
		return fmt.Errorf("save hierarchy: %w", err)
	}
	m.log.Debug("hierarchy saved in %s", time.Since(start))
	return nil
}

// LoadAll replaces the in-memory hierarchy with the stored one. On failure the
// hierarchy is reset to the default workspace and the error is returned.
func (m *Manager) LoadAll() error {
	records, err := m.store.LoadRecords()
	m.metrics.Load(err)
	if err != nil {
		m.log.Error("load failed, starting from the default workspace: %v", err)
		m.hierarchy.Restore(nil)
		return fmt.Errorf("load hierarchy: %w", err)
	}
	m.hierarchy.Restore(records)
	return nil
}

// EnableAutosave saves the hierarchy on l every interval, replacing any
// running autosave. A failed save is retried on the next tick.
func (m *Manager) EnableAutosave(l *loop.Loop, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	m.DisableAutosave()
	m.autosave = l.Every(interval, "autosave", func() {
		if err := m.SaveAll(); err != nil {
			if errors.Is(err, ErrStoreLocked) {
				m.log.Debug("autosave skipped: %v", err)
				return
			}
			m.log.Warn("autosave failed, retrying next tick: %v", err)
		}
	})
	m.log.Info("autosave every %s", interval)
}

// DisableAutosave cancels the autosave timer, if any.
func (m *Manager) DisableAutosave() {
	if m.autosave == nil {
		return
	}
	m.autosave.Cancel()
	m.autosave = nil
}

// AutosaveEnabled reports whether the autosave timer is running.
func (m *Manager) AutosaveEnabled() bool {
	return m.autosave != nil
}

// SetMasterPassword re-seals the store and then writes the current hierarchy
// under the new key.
func (m *Manager) SetMasterPassword(password string) error {
	if err := m.store.SetMasterPassword(password); err != nil {
		return err
	}
	return m.SaveAll()
}

// Close cancels autosave, performs a final synchronous save and closes the store.
func (m *Manager) Close() error {
	m.DisableAutosave()

	var saveErr error
	if m.store.Locked() {
		m.log.Warn("skipping final save: %v", ErrStoreLocked)
	} else {
		saveErr = m.SaveAll()
	}
	return errors.Join(saveErr, m.store.Close())
}
