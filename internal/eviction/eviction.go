// Package eviction reclaims rendering resources from idle or excess tabs of
// the visible session.
package eviction

import (
	"context"
	"sort"
	"time"

	"github.com/codefionn/ryxsurf/internal/logger"
	"github.com/codefionn/ryxsurf/internal/metrics"
	"github.com/codefionn/ryxsurf/internal/session"
)

const (
	// DefaultUnloadTimeout is how long a tab may stay idle before it is unloaded.
	DefaultUnloadTimeout = 120 * time.Second
	// DefaultMaxLoadedTabs is the soft cap on live resources per session.
	DefaultMaxLoadedTabs = 3
	// DefaultSweepInterval is the period of the recurring sweep.
	DefaultSweepInterval = 60 * time.Second
)

// Config holds the eviction thresholds.
type Config struct {
	UnloadTimeout time.Duration
	MaxLoadedTabs int
	Snapshots     bool
}

// DefaultConfig returns the memory-conservative defaults.
func DefaultConfig() Config {
	return Config{
		UnloadTimeout: DefaultUnloadTimeout,
		MaxLoadedTabs: DefaultMaxLoadedTabs,
	}
}

func (c Config) normalized() Config {
	if c.UnloadTimeout <= 0 {
		c.UnloadTimeout = DefaultUnloadTimeout
	}
	if c.MaxLoadedTabs <= 0 {
		c.MaxLoadedTabs = DefaultMaxLoadedTabs
	}
	return c
}

// Snapshotter captures a tab before it is unloaded and drops captures that a
// newer one replaced.
type Snapshotter interface {
	Capture(ctx context.Context, tab *session.Tab) (string, error)
	Delete(ref string) error
}

// Manager applies the eviction policy. It runs on the goroutine that owns
// the hierarchy.
type Manager struct {
	cfg       Config
	snapshots Snapshotter
	clock     session.Clock
	metrics   *metrics.Metrics
	log       *logger.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithSnapshotter sets the collaborator used when snapshots are enabled.
func WithSnapshotter(s Snapshotter) Option {
	return func(m *Manager) { m.snapshots = s }
}

// WithClock replaces time.Now.
func WithClock(clock session.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithMetrics records evictions on mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// New creates a manager. Non-positive thresholds fall back to the defaults.
func New(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:   cfg.normalized(),
		clock: time.Now,
		log:   logger.Global().WithPrefix("eviction"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the active thresholds.
func (m *Manager) Config() Config {
	return m.cfg
}

// SetConfig replaces the thresholds.
func (m *Manager) SetConfig(cfg Config) {
	m.cfg = cfg.normalized()
	m.log.Info("eviction config: timeout=%s max_loaded=%d snapshots=%v",
		m.cfg.UnloadTimeout, m.cfg.MaxLoadedTabs, m.cfg.Snapshots)
}

// eligible lists tabs that may be unloaded, in session order.
func eligible(s *session.Session) []*session.Tab {
	var out []*session.Tab
	active := s.ActiveIndex()
	for i, t := range s.Tabs() {
		if i == active || !t.IsLoaded() || t.IsUnloaded() {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Sweep runs one policy pass over s and returns the ids of unloaded tabs.
// Above the cap the oldest eligible tabs are unloaded until the cap holds;
// otherwise every eligible tab idle for at least the timeout is unloaded.
func (m *Manager) Sweep(ctx context.Context, s *session.Session) []string {
	if s == nil {
		return nil
	}
	start := time.Now()
	defer func() { m.metrics.Sweep(time.Since(start)) }()

	loaded := s.LoadedCount()
	candidates := eligible(s)
	var evicted []string

	if loaded > m.cfg.MaxLoadedTabs {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].LastActive().Before(candidates[j].LastActive())
		})
		excess := loaded - m.cfg.MaxLoadedTabs
		for i := 0; i < excess && i < len(candidates); i++ {
			if m.evict(ctx, candidates[i], metrics.ReasonOverflow) {
				evicted = append(evicted, candidates[i].ID())
			}
		}
	} else {
		now := m.clock()
		for _, t := range candidates {
			if t.IdleFor(now) >= m.cfg.UnloadTimeout {
				if m.evict(ctx, t, metrics.ReasonIdle) {
					evicted = append(evicted, t.ID())
				}
			}
		}
	}

	if len(evicted) > 0 {
		m.log.Debug("sweep of %q unloaded %d of %d loaded tabs", s.Name(), len(evicted), loaded)
	}
	return evicted
}

// EvictAllButActive unloads every eligible tab of s regardless of count or idle time.
func (m *Manager) EvictAllButActive(ctx context.Context, s *session.Session) []string {
	if s == nil {
		return nil
	}
	var evicted []string
	for _, t := range eligible(s) {
		if m.evict(ctx, t, metrics.ReasonLowMemory) {
			evicted = append(evicted, t.ID())
		}
	}
	if len(evicted) > 0 {
		m.log.Info("low memory: unloaded %d tabs of %q", len(evicted), s.Name())
	}
	return evicted
}

func (m *Manager) evict(ctx context.Context, t *session.Tab, reason string) bool {
	if m.cfg.Snapshots && m.snapshots != nil {
		ref, err := m.snapshots.Capture(ctx, t)
		if err != nil {
			m.metrics.SnapshotFailed()
			m.log.Warn("snapshot of %s failed, unloading anyway: %v", t.URL(), err)
		} else {
			if old := t.SnapshotRef(); old != "" && old != ref {
				if err := m.snapshots.Delete(old); err != nil {
					m.log.Warn("drop superseded snapshot %s: %v", old, err)
				}
			}
			t.SetSnapshotRef(ref)
		}
	}
	if !t.Unload() {
		return false
	}
	m.metrics.Eviction(reason)
	return true
}
