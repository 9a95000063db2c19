package browser

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/codefionn/ryxsurf/internal/config"
	"github.com/codefionn/ryxsurf/internal/engine/memory"
	"github.com/codefionn/ryxsurf/internal/features"
	"github.com/codefionn/ryxsurf/internal/lockfile"
	"github.com/codefionn/ryxsurf/internal/session"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	keyring.MockInit()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Engine = config.EngineMemory
	return cfg
}

func startBrowser(t *testing.T, opts Options) *Browser {
	t.Helper()
	b, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })
	return b
}

func TestStartWithEmptyStoreShowsDefaultWorkspace(t *testing.T) {
	b := startBrowser(t, Options{Config: testConfig(t)})

	require.NoError(t, b.Do(context.Background(), func(h *session.Manager) error {
		assert.Equal(t, 1, h.WorkspaceCount())
		assert.True(t, h.CurrentWorkspace().IsUntouchedDefault())
		return nil
	}))
}

func TestHierarchySurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	var refreshes atomic.Int32
	b, err := New(Options{Config: cfg})
	require.NoError(t, err)
	b.OnRefresh(func() { refreshes.Add(1) })
	require.NoError(t, b.Start(ctx))

	_, err = b.NewTab(ctx, "https://example.com")
	require.NoError(t, err)
	_, err = b.NewTab(ctx, "https://go.dev")
	require.NoError(t, err)
	assert.Positive(t, refreshes.Load())
	require.NoError(t, b.Shutdown(ctx))

	eng := memory.New()
	b = startBrowser(t, Options{Config: cfg, Engine: eng})
	require.NoError(t, b.Do(ctx, func(h *session.Manager) error {
		s := h.CurrentSession()
		require.NotNil(t, s)
		require.Equal(t, 2, s.TabCount())
		assert.Equal(t, "https://example.com", s.Tab(0).URL())
		assert.Equal(t, "https://go.dev", s.Tab(1).URL())
		assert.Equal(t, 1, s.ActiveIndex())
		assert.True(t, s.Tab(1).IsLoaded())
		assert.False(t, s.Tab(0).IsLoaded())
		return nil
	}))
	assert.Equal(t, 1, eng.Live())
}

func TestSecondInstanceIsRefused(t *testing.T) {
	cfg := testConfig(t)
	startBrowser(t, Options{Config: cfg})

	_, err := New(Options{Config: cfg})
	assert.ErrorIs(t, err, lockfile.ErrLocked)
}

func TestLowMemoryKeepsActiveTab(t *testing.T) {
	ctx := context.Background()
	eng := memory.New()
	b := startBrowser(t, Options{Config: testConfig(t), Engine: eng})

	var ids []string
	for _, url := range []string{"https://a.example", "https://b.example", "https://c.example"} {
		id, err := b.NewTab(ctx, url)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, b.Do(ctx, func(h *session.Manager) error {
		for i := range ids {
			require.True(t, h.SwitchTab(i))
			require.NoError(t, h.ActivateCurrentTab())
		}
		return nil
	}))
	require.Equal(t, 3, eng.Live())

	evicted, err := b.LowMemory(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids[:2], evicted)
	assert.Equal(t, 1, eng.Live())

	require.NoError(t, b.Do(ctx, func(h *session.Manager) error {
		tab := h.CurrentTab()
		assert.Equal(t, ids[2], tab.ID())
		assert.True(t, tab.IsLoaded())
		return nil
	}))
}

func TestAutofillAndCredentialAvailable(t *testing.T) {
	ctx := context.Background()
	b := startBrowser(t, Options{Config: testConfig(t)})

	ok, err := b.CredentialAvailable(ctx, "https://example.com/login")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.SaveCredential(ctx, "https://example.com/login", "alice", "p1"))

	ok, err = b.CredentialAvailable(ctx, "https://example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	cred, ok, err := b.HandleLoad(ctx, "https://example.com/account")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", cred.Username)
	assert.Equal(t, "p1", cred.Password)

	b.Features().Disable(features.Autofill)
	_, ok, err = b.HandleLoad(ctx, "https://example.com/account")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplyConfigUpdatesManagers(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	b := startBrowser(t, Options{Config: cfg})

	next := *cfg
	next.Eviction.MaxLoadedTabs = 7
	next.Eviction.Snapshots = true
	next.Persistence.Autosave = false
	next.Vault.Autofill = false

	require.NoError(t, b.Do(ctx, func(*session.Manager) error {
		assert.True(t, b.persist.AutosaveEnabled())
		b.applyConfig(&next)
		assert.Equal(t, 7, b.evictor.Config().MaxLoadedTabs)
		assert.True(t, b.evictor.Config().Snapshots)
		assert.True(t, b.snapshots.Enabled())
		assert.False(t, b.persist.AutosaveEnabled())
		assert.False(t, b.vault.AutofillEnabled())
		return nil
	}))
	assert.True(t, b.Features().IsEnabled(features.Snapshots))
	assert.False(t, b.Features().IsEnabled(features.Autosave))
}

func TestConfigFileHotReload(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	path := filepath.Join(cfg.DataDir, "config.toml")
	require.NoError(t, cfg.Save(path))

	b := startBrowser(t, Options{Config: cfg, ConfigPath: path})

	cfg.Eviction.MaxLoadedTabs = 9
	require.NoError(t, cfg.Save(path))

	require.Eventually(t, func() bool {
		var n int
		_ = b.Do(ctx, func(*session.Manager) error {
			n = b.evictor.Config().MaxLoadedTabs
			return nil
		})
		return n == 9
	}, 5*time.Second, 20*time.Millisecond)
}

func TestShutdownIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	b, err := New(Options{Config: cfg})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, b.Shutdown(context.Background()))
	require.NoError(t, b.Shutdown(context.Background()))
	assert.Error(t, b.Do(context.Background(), func(*session.Manager) error { return nil }))

	_, err = os.Stat(cfg.SessionsDBPath())
	assert.NoError(t, err)

	b, err = New(Options{Config: cfg})
	require.NoError(t, err, "lock must be released on shutdown")
	require.NoError(t, b.Shutdown(context.Background()))
}

func TestDoBeforeStart(t *testing.T) {
	b, err := New(Options{Config: testConfig(t)})
	require.NoError(t, err)
	defer b.Shutdown(context.Background())

	assert.ErrorIs(t, b.Do(context.Background(), func(*session.Manager) error { return nil }), ErrNotStarted)
}

func writeSnapshotFiles(t *testing.T, dir string, refs ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o700))
	for _, ref := range refs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, ref+".json.zst"), []byte("x"), 0o600))
		require.NoError(t, os.WriteFile(filepath.Join(dir, ref+".png"), []byte("x"), 0o600))
	}
}

func TestUnreferencedSnapshotsArePruned(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	dir := cfg.SnapshotDir()

	b := startBrowser(t, Options{Config: cfg})
	_, err := b.NewTab(ctx, "https://example.com")
	require.NoError(t, err)
	require.NoError(t, b.Do(ctx, func(h *session.Manager) error {
		h.CurrentSession().Tab(0).SetSnapshotRef("kept_1")
		return nil
	}))
	writeSnapshotFiles(t, dir, "kept_1", "stale_1")
	require.NoError(t, b.Shutdown(ctx))

	assert.FileExists(t, filepath.Join(dir, "kept_1.json.zst"))
	assert.FileExists(t, filepath.Join(dir, "kept_1.png"))
	assert.NoFileExists(t, filepath.Join(dir, "stale_1.json.zst"))
	assert.NoFileExists(t, filepath.Join(dir, "stale_1.png"))

	writeSnapshotFiles(t, dir, "stale_2")
	b = startBrowser(t, Options{Config: cfg})
	assert.FileExists(t, filepath.Join(dir, "kept_1.json.zst"))
	assert.NoFileExists(t, filepath.Join(dir, "stale_2.json.zst"))
	require.NoError(t, b.Do(ctx, func(h *session.Manager) error {
		assert.Equal(t, "kept_1", h.CurrentSession().Tab(0).SnapshotRef())
		return nil
	}))
}

func TestLockedStoreKeepsSnapshots(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	cfg.SetMasterPassword("right")
	b := startBrowser(t, Options{Config: cfg})
	_, err := b.NewTab(ctx, "https://example.com")
	require.NoError(t, err)
	require.NoError(t, b.Shutdown(ctx))

	writeSnapshotFiles(t, cfg.SnapshotDir(), "sealed_1")
	cfg.SetMasterPassword("wrong")
	b = startBrowser(t, Options{Config: cfg})
	require.NoError(t, b.Shutdown(ctx))
	assert.FileExists(t, filepath.Join(cfg.SnapshotDir(), "sealed_1.json.zst"))
}
