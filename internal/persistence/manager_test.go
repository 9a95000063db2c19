package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/ryxsurf/internal/loop"
	"github.com/codefionn/ryxsurf/internal/metrics"
	"github.com/codefionn/ryxsurf/internal/session"
)

func buildHierarchy(t *testing.T) *session.Manager {
	t.Helper()
	h := session.NewManager()
	h.NewTab("https://example.com")
	h.NewTab("https://go.dev")

	_, err := h.AddWorkspace("Work")
	require.NoError(t, err)
	require.True(t, h.SwitchWorkspace(1))
	_, err = h.AddSession("Tickets")
	require.NoError(t, err)
	_, err = h.AddTab("https://tracker.example.org/1")
	require.NoError(t, err)
	return h
}

func TestManagerSaveAllThenLoadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	h := buildHierarchy(t)
	want := h.Snapshot()

	store := openStore(t, path, "pw")
	mt := metrics.New()
	pm := NewManager(store, h, WithMetrics(mt))
	require.NoError(t, pm.SaveAll())
	require.NoError(t, pm.Close())

	fresh := session.NewManager()
	pm = NewManager(openStore(t, path, "pw"), fresh)
	require.NoError(t, pm.LoadAll())
	assertRecordsEqual(t, want, fresh.Snapshot())

	ws := fresh.Workspace(0)
	require.NotNil(t, ws)
	s := ws.ActiveSession()
	require.NotNil(t, s)
	assert.Equal(t, s.TabCount()-1, s.ActiveIndex())
	for _, tab := range s.Tabs() {
		assert.Equal(t, session.StateUnrealized, tab.State())
	}
}

func TestManagerLoadAllEmptyStoreYieldsDefault(t *testing.T) {
	h := buildHierarchy(t)
	pm := NewManager(openStore(t, "", ""), h)
	require.NoError(t, pm.LoadAll())

	require.Equal(t, 1, h.WorkspaceCount())
	assert.True(t, h.CurrentWorkspace().IsUntouchedDefault())
}

func TestManagerLoadAllWrongPasswordFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	pm := NewManager(openStore(t, path, "right"), buildHierarchy(t))
	require.NoError(t, pm.Close())

	h := session.NewManager()
	pm = NewManager(openStore(t, path, "wrong"), h)
	assert.ErrorIs(t, pm.LoadAll(), ErrStoreLocked)
	assert.True(t, h.CurrentWorkspace().IsUntouchedDefault())

	h.NewTab("https://lost.example")
	assert.ErrorIs(t, pm.SaveAll(), ErrStoreLocked)
	require.NoError(t, pm.Close())

	restored := session.NewManager()
	pm = NewManager(openStore(t, path, "right"), restored)
	require.NoError(t, pm.LoadAll())
	assert.Equal(t, 2, restored.WorkspaceCount())
}

func TestManagerCloseSavesFinalState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	h := buildHierarchy(t)
	pm := NewManager(openStore(t, path, ""), h)
	require.NoError(t, pm.SaveAll())

	h.NewTab("https://late.example")
	want := h.Snapshot()
	require.NoError(t, pm.Close())

	s := openStore(t, path, "")
	got, err := s.LoadRecords()
	require.NoError(t, err)
	assertRecordsEqual(t, want, got)
}

func TestManagerAutosave(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	l := loop.New("test", loop.DefaultMailboxSize)
	l.Start(ctx)
	defer func() { _ = l.Stop(ctx) }()

	h := session.NewManager()
	store := openStore(t, "", "")
	pm := NewManager(store, h)

	require.NoError(t, l.Call(ctx, func() error {
		pm.EnableAutosave(l, 10*time.Millisecond)
		h.NewTab("https://autosaved.example")
		return nil
	}))
	assert.True(t, pm.AutosaveEnabled())

	require.Eventually(t, func() bool {
		var n int
		_ = l.Call(ctx, func() error {
			recs, err := store.LoadRecords()
			if err == nil && len(recs) == 1 {
				n = len(recs[0].Sessions)
			}
			return err
		})
		return n == 2
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, l.Call(ctx, func() error {
		pm.DisableAutosave()
		return nil
	}))
	assert.False(t, pm.AutosaveEnabled())
}
