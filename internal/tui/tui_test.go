package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/ryxsurf/internal/engine"
	"github.com/codefionn/ryxsurf/internal/engine/memory"
	"github.com/codefionn/ryxsurf/internal/session"
)

type fakeController struct {
	h        *session.Manager
	saves    int
	evicted  []string
	failWith error
}

func newFakeController() *fakeController {
	eng := memory.New()
	return &fakeController{
		h: session.NewManager(session.WithEngine(engine.NewContext(eng, engine.NamedContainer("main")))),
	}
}

func (f *fakeController) Do(_ context.Context, fn func(h *session.Manager) error) error {
	if f.failWith != nil {
		return f.failWith
	}
	return fn(f.h)
}

func (f *fakeController) LowMemory(context.Context) ([]string, error) {
	return f.evicted, f.failWith
}

func (f *fakeController) SaveNow(context.Context) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.saves++
	return nil
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// send feeds msg to the model and then the message produced by its command.
func send(t *testing.T, m *Model, msg tea.Msg) tea.Msg {
	t.Helper()
	_, cmd := m.Update(msg)
	if cmd == nil {
		return nil
	}
	out := cmd()
	m.Update(out)
	return out
}

func submitInput(t *testing.T, m *Model, value string) {
	t.Helper()
	m.input.SetValue(value)
	send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
}

func TestLoadViewShowsDefaultWorkspace(t *testing.T) {
	m := New(newFakeController(), nil)
	m.Update(m.loadView()())

	require.Len(t, m.view.Workspaces, 1)
	assert.Equal(t, session.DefaultWorkspaceName, m.view.Workspaces[0].Name)
	assert.Contains(t, m.View(), session.DefaultWorkspaceName)
	assert.Contains(t, m.View(), "No tabs")
}

func TestOpenURLCreatesAndActivatesTab(t *testing.T) {
	ctrl := newFakeController()
	m := New(ctrl, nil)

	m.Update(runes("t"))
	assert.Equal(t, inputURL, m.mode)
	assert.Contains(t, m.View(), "Open URL")

	submitInput(t, m, "example.com")
	assert.Equal(t, inputNone, m.mode)

	tab := ctrl.h.CurrentTab()
	require.NotNil(t, tab)
	assert.Equal(t, "https://example.com", tab.URL())
	assert.True(t, tab.IsLoaded())

	s := m.view.session()
	require.NotNil(t, s)
	require.Len(t, s.Tabs, 1)
	assert.Contains(t, m.View(), "https://example.com")
}

func TestEmptyInputIsIgnored(t *testing.T) {
	ctrl := newFakeController()
	m := New(ctrl, nil)

	m.Update(runes("t"))
	submitInput(t, m, "   ")

	assert.Nil(t, ctrl.h.CurrentTab())
}

func TestEscapeCancelsInput(t *testing.T) {
	m := New(newFakeController(), nil)
	m.Update(runes("W"))
	require.Equal(t, inputWorkspace, m.mode)

	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, inputNone, m.mode)
}

func TestTabNavigation(t *testing.T) {
	ctrl := newFakeController()
	ctrl.h.NewTab("https://a.example")
	ctrl.h.NewTab("https://b.example")
	require.Equal(t, 1, ctrl.h.CurrentSession().ActiveIndex())
	m := New(ctrl, nil)

	send(t, m, runes("j"))
	assert.Equal(t, 0, ctrl.h.CurrentSession().ActiveIndex())
	assert.Equal(t, 0, m.view.session().Active)

	send(t, m, runes("k"))
	assert.Equal(t, 1, ctrl.h.CurrentSession().ActiveIndex())

	send(t, m, runes("x"))
	assert.Equal(t, 1, ctrl.h.CurrentSession().TabCount())
	assert.Equal(t, "https://a.example", ctrl.h.CurrentTab().URL())
}

func TestNewWorkspaceSwitchesToIt(t *testing.T) {
	ctrl := newFakeController()
	m := New(ctrl, nil)

	m.Update(runes("W"))
	submitInput(t, m, "Work")

	assert.Equal(t, 2, ctrl.h.WorkspaceCount())
	assert.Equal(t, "Work", ctrl.h.CurrentWorkspace().Name())
	assert.Equal(t, 1, m.view.Current)

	send(t, m, runes("}"))
	assert.Equal(t, 0, ctrl.h.CurrentWorkspaceIndex())
	send(t, m, runes("{"))
	assert.Equal(t, 1, ctrl.h.CurrentWorkspaceIndex())
}

func TestNewSessionAndDuplicateError(t *testing.T) {
	ctrl := newFakeController()
	m := New(ctrl, nil)

	m.Update(runes("s"))
	submitInput(t, m, "Research")
	assert.NotNil(t, ctrl.h.CurrentWorkspace().SessionByName("Research"))
	assert.Nil(t, m.err)

	m.Update(runes("s"))
	submitInput(t, m, "Research")
	require.Error(t, m.err)
	assert.ErrorIs(t, m.err, session.ErrDuplicateName)
	assert.Contains(t, m.View(), "Error:")
}

func TestSaveAndLowMemoryReportStatus(t *testing.T) {
	ctrl := newFakeController()
	ctrl.evicted = []string{"a", "b"}
	m := New(ctrl, nil)

	send(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.Equal(t, 1, ctrl.saves)
	assert.Equal(t, "Saved", m.status)

	send(t, m, runes("m"))
	assert.Equal(t, "Unloaded 2 tabs", m.status)
}

func TestControllerErrorIsShown(t *testing.T) {
	ctrl := newFakeController()
	ctrl.failWith = errors.New("loop stopped")
	m := New(ctrl, nil)

	send(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	require.Error(t, m.err)
	assert.Contains(t, m.View(), "loop stopped")

	m.errVisibleUntil = time.Now().Add(-time.Second)
	assert.NotContains(t, m.View(), "loop stopped")
}

func TestQuit(t *testing.T) {
	m := New(newFakeController(), nil)
	_, cmd := m.Update(runes("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestNotifierCoalescesAndTriggersRefresh(t *testing.T) {
	n := NewNotifier()
	n.Notify()
	n.Notify()
	assert.Len(t, n.ch, 1)

	m := New(newFakeController(), n)
	msg := m.waitForRefresh()()
	assert.IsType(t, refreshMsg{}, msg)
	assert.Empty(t, n.ch)

	_, cmd := m.Update(msg)
	assert.NotNil(t, cmd)
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"example.com":        "https://example.com",
		"http://example.com": "http://example.com",
		"about:blank":        "about:blank",
		"file:///tmp/x.html": "file:///tmp/x.html",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeURL(in), in)
	}
}
