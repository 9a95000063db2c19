package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	m, _, clk := newTestManager(t)
	m.NewTab("https://a.example")
	m.NewTab("https://b.example")
	m.CurrentTab().SetSnapshotRef("abc_1")
	_, err := m.AddWorkspace("Work")
	require.NoError(t, err)
	m.SwitchWorkspace(1)
	m.NewTab("https://work.example")

	records := m.Snapshot()
	require.Len(t, records, 2)

	clk.Advance(time.Hour)
	restored := NewManager(WithClock(clk.Now))
	restored.Restore(records)

	require.Equal(t, 2, restored.WorkspaceCount())
	main := restored.Workspace(0)
	assert.Equal(t, "Main", main.Name())
	require.Equal(t, 2, main.SessionCount())
	assert.True(t, main.Session(0).IsOverview())
	assert.Equal(t, "Session 1", main.Session(1).Name())
	require.Equal(t, 2, main.Session(1).TabCount())
	assert.Equal(t, "https://a.example", main.Session(1).Tab(0).URL())
	assert.Equal(t, "https://b.example", main.Session(1).Tab(1).URL())
	assert.Equal(t, "abc_1", main.Session(1).Tab(1).SnapshotRef())
	assert.Equal(t, StateUnrealized, main.Session(1).Tab(0).State())
	assert.Equal(t, 1, main.ActiveIndex())
	assert.Equal(t, 1, main.Session(1).ActiveIndex())

	orig := m.Workspace(0)
	assert.Equal(t, orig.CreatedAt(), main.CreatedAt())
	assert.Equal(t, orig.Session(1).Tab(0).LastActiveWall(), main.Session(1).Tab(0).LastActiveWall())

	assert.Equal(t, "Work", restored.Workspace(1).Name())
}

func TestRestoreEmptyCreatesDefault(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.NewTab("https://a.example")

	m.Restore(nil)
	require.Equal(t, 1, m.WorkspaceCount())
	assert.True(t, m.CurrentWorkspace().IsUntouchedDefault())
}

func TestTabRecordPrefersLiveURL(t *testing.T) {
	m, eng, _ := newTestManager(t)
	m.NewTab("https://a.example")
	require.NoError(t, m.ActivateCurrentTab())
	eng.Views()[0].Navigate("https://a.example/moved")

	rec := m.CurrentTab().ToRecord()
	assert.Equal(t, "https://a.example/moved", rec.URL)
}
