// Package browser wires the hierarchy, eviction, persistence and vault onto a
// single event loop and owns their lifecycle.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/ryxsurf/internal/config"
	"github.com/codefionn/ryxsurf/internal/engine"
	"github.com/codefionn/ryxsurf/internal/eviction"
	"github.com/codefionn/ryxsurf/internal/features"
	"github.com/codefionn/ryxsurf/internal/lockfile"
	"github.com/codefionn/ryxsurf/internal/logger"
	"github.com/codefionn/ryxsurf/internal/loop"
	"github.com/codefionn/ryxsurf/internal/metrics"
	"github.com/codefionn/ryxsurf/internal/persistence"
	"github.com/codefionn/ryxsurf/internal/secrets"
	"github.com/codefionn/ryxsurf/internal/session"
	"github.com/codefionn/ryxsurf/internal/snapshot"
	"github.com/codefionn/ryxsurf/internal/vault"
)

// DefaultContainer is the slot views attach to when none is given.
const DefaultContainer = engine.NamedContainer("main")

// ErrNotStarted is returned by operations that need the loop before Start.
var ErrNotStarted = errors.New("browser not started")

// Options configures New.
type Options struct {
	Config *config.Config
	// ConfigPath enables hot reload of the file when set.
	ConfigPath string
	// Engine overrides the engine selected by Config.
	Engine    engine.Engine
	Container engine.Container
	Metrics   *metrics.Metrics
	Clock     session.Clock
}

// Browser is the composition root. All browsing state lives on its loop;
// exported methods marshal onto it.
type Browser struct {
	cfg            *config.Config
	configPath     string
	masterPassword string

	flags   *features.FeatureFlags
	metrics *metrics.Metrics
	lock    *lockfile.Lockfile
	loop    *loop.Loop
	engine  engine.Engine

	hierarchy *session.Manager
	evictor   *eviction.Manager
	snapshots *snapshot.Manager
	persist   *persistence.Manager
	vault     *vault.Vault

	watcher     *config.Watcher
	sweep       *loop.Ticket
	unsubscribe func()
	onRefresh   func()

	started      atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
	log          *logger.Logger
}

// New acquires the data directory and opens every manager. Nothing runs until Start.
func New(opts Options) (b *Browser, err error) {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if err := secrets.Init(); err != nil {
		return nil, err
	}

	cfg := opts.Config
	b = &Browser{
		cfg:            cfg,
		configPath:     opts.ConfigPath,
		masterPassword: cfg.MasterPassword(),
		flags:          features.NewFeatureFlags(),
		metrics:        opts.Metrics,
		lock:           lockfile.New(cfg.LockPath()),
		loop:           loop.New("browser", loop.DefaultMailboxSize),
		log:            logger.Global().WithPrefix("browser"),
	}
	if b.metrics == nil {
		b.metrics = metrics.New()
	}
	b.flags.Set(features.Snapshots, cfg.Eviction.Snapshots)
	b.flags.Set(features.Autofill, cfg.Vault.Autofill)
	b.flags.Set(features.Autosave, cfg.Persistence.Autosave)

	if err := b.lock.TryAcquire(); err != nil {
		return nil, err
	}

	var closers []func() error
	defer func() {
		if err == nil {
			return
		}
		errs := []error{err}
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		errs = append(errs, b.lock.Release())
		err = errors.Join(errs...)
		b = nil
	}()

	b.engine = opts.Engine
	if b.engine == nil {
		b.engine, err = newEngine(cfg, b.dispatch)
		if err != nil {
			return nil, err
		}
	}
	closers = append(closers, b.engine.Close)

	container := opts.Container
	if container == nil {
		container = DefaultContainer
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	b.hierarchy = session.NewManager(
		session.WithEngine(engine.NewContext(b.engine, container)),
		session.WithClock(clock),
	)

	b.snapshots, err = snapshot.New(cfg.SnapshotDir(), snapshot.Options{
		Enabled: cfg.Eviction.Snapshots,
		Clock:   clock,
	})
	if err != nil {
		return nil, err
	}
	closers = append(closers, b.snapshots.Close)

	b.evictor = eviction.New(evictionConfig(cfg),
		eviction.WithSnapshotter(b.snapshots),
		eviction.WithMetrics(b.metrics),
		eviction.WithClock(clock),
	)

	store, err := persistence.Open(persistence.Options{
		Path:           cfg.SessionsDBPath(),
		MasterPassword: cfg.MasterPassword(),
	})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	closers = append(closers, store.Close)
	b.persist = persistence.NewManager(store, b.hierarchy, persistence.WithMetrics(b.metrics))

	b.vault, err = vault.Open(vault.Options{
		Path:           cfg.PasswordsDBPath(),
		MasterPassword: cfg.MasterPassword(),
		PreferKeyring:  cfg.Vault.PreferKeyring,
		Autofill:       cfg.Vault.Autofill,
		Metrics:        b.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}

	return b, nil
}

func evictionConfig(cfg *config.Config) eviction.Config {
	return eviction.Config{
		UnloadTimeout: cfg.UnloadTimeout(),
		MaxLoadedTabs: cfg.Eviction.MaxLoadedTabs,
		Snapshots:     cfg.Eviction.Snapshots,
	}
}

// dispatch hands engine callbacks to the loop.
func (b *Browser) dispatch(fn func()) {
	if err := b.loop.Post(fn); err != nil {
		b.log.Debug("dropped engine callback: %v", err)
	}
}

// OnRefresh registers fn to run on the loop after every hierarchy change.
// Call before Start.
func (b *Browser) OnRefresh(fn func()) {
	b.onRefresh = fn
}

// Metrics returns the collectors.
func (b *Browser) Metrics() *metrics.Metrics { return b.metrics }

// Features returns the runtime feature flags.
func (b *Browser) Features() *features.FeatureFlags { return b.flags }

// Start runs the loop, restores the stored hierarchy and schedules the sweep
// and autosave timers. A store that cannot be read leaves the default
// workspace in place; that error is logged, not returned.
func (b *Browser) Start(ctx context.Context) error {
	b.loop.Start(ctx)
	b.started.Store(true)

	err := b.loop.Call(ctx, func() error {
		if err := b.persist.LoadAll(); err != nil {
			b.log.Warn("starting without stored sessions: %v", err)
		} else {
			b.pruneSnapshots()
		}
		b.unsubscribe = b.hierarchy.Subscribe(b.refresh)
		b.refresh()

		b.sweep = b.loop.Every(b.cfg.SweepInterval(), "eviction", b.runSweep)
		if b.flags.IsEnabled(features.Autosave) {
			b.persist.EnableAutosave(b.loop, b.cfg.AutosaveInterval())
		}
		if err := b.hierarchy.ActivateCurrentTab(); err != nil {
			b.log.Warn("activate restored tab: %v", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if b.configPath != "" {
		w, err := config.Watch(b.configPath, func(cfg *config.Config) {
			cfg.SetMasterPassword(b.masterPassword)
			if err := b.loop.Post(func() { b.applyConfig(cfg) }); err != nil {
				b.log.Warn("config change dropped: %v", err)
			}
		})
		if err != nil {
			b.log.Warn("config hot reload disabled: %v", err)
		} else {
			b.watcher = w
		}
	}

	b.log.Info("browser started with engine %s", b.engine.Name())
	return nil
}

func (b *Browser) refresh() {
	total := 0
	for _, ws := range b.hierarchy.Workspaces() {
		for _, s := range ws.Sessions() {
			total += s.TabCount()
		}
	}
	b.metrics.Tabs(total, len(b.hierarchy.LoadedTabs()))
	if b.onRefresh != nil {
		b.onRefresh()
	}
}

// pruneSnapshots deletes every capture no tab refers to. A locked or
// in-memory store may hide tabs that still hold refs, so nothing is pruned then.
func (b *Browser) pruneSnapshots() {
	store := b.persist.Store()
	if store.Locked() || store.Degraded() != nil {
		return
	}
	keep := make(map[string]bool)
	for _, ws := range b.hierarchy.Snapshot() {
		for _, s := range ws.Sessions {
			for _, t := range s.Tabs {
				if t.SnapshotRef != "" {
					keep[t.SnapshotRef] = true
				}
			}
		}
	}
	n, err := b.snapshots.Prune(keep)
	if err != nil {
		b.log.Warn("prune snapshots: %v", err)
	}
	if n > 0 {
		b.log.Debug("pruned %d unreferenced snapshots", n)
	}
}

func (b *Browser) runSweep() {
	if !b.flags.IsEnabled(features.Eviction) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.SweepInterval())
	defer cancel()
	if evicted := b.evictor.Sweep(ctx, b.hierarchy.CurrentSession()); len(evicted) > 0 {
		b.refresh()
	}
}

// applyConfig adopts a reloaded configuration. Runs on the loop.
func (b *Browser) applyConfig(cfg *config.Config) {
	old := b.cfg
	b.cfg = cfg

	b.evictor.SetConfig(evictionConfig(cfg))
	b.flags.Set(features.Snapshots, cfg.Eviction.Snapshots)
	b.snapshots.SetEnabled(cfg.Eviction.Snapshots)
	b.flags.Set(features.Autofill, cfg.Vault.Autofill)
	b.vault.SetAutofill(cfg.Vault.Autofill)

	if cfg.SweepInterval() != old.SweepInterval() && b.sweep != nil {
		b.sweep.Cancel()
		b.sweep = b.loop.Every(cfg.SweepInterval(), "eviction", b.runSweep)
	}

	autosaveChanged := cfg.Persistence.Autosave != old.Persistence.Autosave ||
		cfg.AutosaveInterval() != old.AutosaveInterval()
	b.flags.Set(features.Autosave, cfg.Persistence.Autosave)
	if autosaveChanged {
		if cfg.Persistence.Autosave {
			b.persist.EnableAutosave(b.loop, cfg.AutosaveInterval())
		} else {
			b.persist.DisableAutosave()
		}
	}
	b.log.Info("configuration reloaded")
}

// Do runs fn with the hierarchy on the loop and waits for it. Observers see
// the changes fn makes before Do returns.
func (b *Browser) Do(ctx context.Context, fn func(h *session.Manager) error) error {
	if !b.started.Load() {
		return ErrNotStarted
	}
	return b.loop.Call(ctx, func() error {
		return fn(b.hierarchy)
	})
}

// NewTab opens url in the current session and shows it.
func (b *Browser) NewTab(ctx context.Context, url string) (string, error) {
	var id string
	err := b.Do(ctx, func(h *session.Manager) error {
		id = h.NewTab(url).ID()
		return h.ActivateCurrentTab()
	})
	return id, err
}

// SaveNow writes the hierarchy immediately.
func (b *Browser) SaveNow(ctx context.Context) error {
	return b.Do(ctx, func(*session.Manager) error {
		return b.persist.SaveAll()
	})
}

// LowMemory unloads every tab of the visible session except the active one.
func (b *Browser) LowMemory(ctx context.Context) ([]string, error) {
	var evicted []string
	err := b.Do(ctx, func(h *session.Manager) error {
		evicted = b.evictor.EvictAllButActive(ctx, h.CurrentSession())
		if len(evicted) > 0 {
			b.refresh()
		}
		return nil
	})
	return evicted, err
}

// HandleLoad is called when a page at origin finished loading. It returns the
// credential to fill in, if autofill applies, and marks it used.
func (b *Browser) HandleLoad(ctx context.Context, origin string) (vault.Credential, bool, error) {
	var (
		cred vault.Credential
		ok   bool
	)
	err := b.Do(ctx, func(*session.Manager) error {
		if !b.flags.IsEnabled(features.Autofill) {
			return nil
		}
		cred, ok = b.vault.Autofill(origin)
		return nil
	})
	return cred, ok, err
}

// CredentialAvailable tells the UI whether origin already has a stored login.
func (b *Browser) CredentialAvailable(ctx context.Context, origin string) (bool, error) {
	var ok bool
	err := b.Do(ctx, func(*session.Manager) error {
		ok = b.vault.CredentialAvailable(origin)
		return nil
	})
	return ok, err
}

// SaveCredential stores a login captured by the UI.
func (b *Browser) SaveCredential(ctx context.Context, origin, username, password string) error {
	return b.Do(ctx, func(*session.Manager) error {
		return b.vault.Save(origin, username, password)
	})
}

// Shutdown stops the timers and the loop, saves the hierarchy one last time
// and releases every resource. Safe to call more than once.
func (b *Browser) Shutdown(ctx context.Context) error {
	b.shutdownOnce.Do(func() {
		b.shutdownErr = b.shutdown(ctx)
	})
	return b.shutdownErr
}

func (b *Browser) shutdown(ctx context.Context) error {
	var errs []error

	stopTimers := func() error {
		b.sweep.Cancel()
		b.sweep = nil
		b.persist.DisableAutosave()
		return nil
	}
	if b.started.Load() {
		if err := b.loop.Call(ctx, stopTimers); err != nil {
			errs = append(errs, fmt.Errorf("stop timers: %w", err))
		}
	}

	if b.watcher != nil {
		errs = append(errs, b.watcher.Close())
	}
	if err := b.loop.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop loop: %w", err))
	}

	// The loop has exited: this goroutine owns the hierarchy from here on.
	_ = stopTimers()
	if b.unsubscribe != nil {
		b.unsubscribe()
	}
	if err := b.persist.Close(); err != nil {
		errs = append(errs, fmt.Errorf("final save: %w", err))
	} else {
		b.pruneSnapshots()
	}
	errs = append(errs, b.vault.Close())
	b.hierarchy.Reset(false)
	errs = append(errs, b.snapshots.Close())
	if err := b.engine.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close engine: %w", err))
	}
	errs = append(errs, b.lock.Release())

	err := errors.Join(errs...)
	if err != nil {
		b.log.Error("shutdown: %v", err)
	} else {
		b.log.Info("browser stopped")
	}
	return err
}
