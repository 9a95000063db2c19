// Package session holds the workspace/session/tab hierarchy and its
// navigation rules. A Manager is owned by a single goroutine and is not safe
// for concurrent use.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codefionn/ryxsurf/internal/engine"
	"github.com/codefionn/ryxsurf/internal/logger"
)

const (
	// DefaultWorkspaceName names the workspace created for an empty hierarchy.
	DefaultWorkspaceName = "Main"
	// OverviewSessionName names the placeholder session of the default workspace.
	OverviewSessionName = "Overview"
	// sessionNamePrefix is used when new_tab has to create a session.
	sessionNamePrefix = "Session "
)

var (
	// ErrEmptyName is returned for blank workspace or session names.
	ErrEmptyName = errors.New("name must not be empty")
	// ErrDuplicateName is returned when a sibling already uses the name.
	ErrDuplicateName = errors.New("name already in use")
	// ErrNoSession is returned when the current workspace has no session.
	ErrNoSession = errors.New("no current session")
	// ErrOverviewSession is returned when adding a tab to the overview placeholder.
	ErrOverviewSession = errors.New("overview session cannot host tabs")
)

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(clock Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithEngine sets the engine context tabs materialize from.
func WithEngine(ctx *engine.Context) Option {
	return func(m *Manager) {
		m.engine = ctx
	}
}

// Manager owns all workspaces and exposes navigation to the UI layer.
type Manager struct {
	workspaces []*Workspace
	current    int
	visible    *Tab

	engine *engine.Context
	clock  Clock
	log    *logger.Logger

	observers map[int]func()
	nextObs   int
}

// NewManager returns a manager holding the default workspace.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		clock:     time.Now,
		log:       logger.Global().WithPrefix("session"),
		observers: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ensureDefault()
	return m
}

// Engine returns the engine context or nil.
func (m *Manager) Engine() *engine.Context {
	return m.engine
}

// Now returns the manager's notion of the current instant.
func (m *Manager) Now() time.Time {
	return m.clock()
}

// Subscribe registers fn to run after every hierarchy mutation.
func (m *Manager) Subscribe(fn func()) (unsubscribe func()) {
	m.nextObs++
	id := m.nextObs
	m.observers[id] = fn
	return func() { delete(m.observers, id) }
}

func (m *Manager) notify() {
	for _, fn := range m.observers {
		fn()
	}
}

func (m *Manager) ensureDefault() {
	if len(m.workspaces) > 0 {
		return
	}
	ws := newWorkspace(DefaultWorkspaceName, m.clock)
	ws.appendSession(newSession(OverviewSessionName, true, m.clock))
	m.workspaces = append(m.workspaces, ws)
	m.current = 0
}

func (m *Manager) newTab(url string) *Tab {
	t := newTab(url, m.clock)
	t.onChange = m.notify
	return t
}

// Workspaces returns the workspaces in order. The slice is a copy.
func (m *Manager) Workspaces() []*Workspace {
	return append([]*Workspace(nil), m.workspaces...)
}

// WorkspaceCount returns the number of workspaces.
func (m *Manager) WorkspaceCount() int { return len(m.workspaces) }

// CurrentWorkspaceIndex returns the index of the current workspace.
func (m *Manager) CurrentWorkspaceIndex() int { return m.current }

// Workspace returns the workspace at i or nil.
func (m *Manager) Workspace(i int) *Workspace {
	if i < 0 || i >= len(m.workspaces) {
		return nil
	}
	return m.workspaces[i]
}

// CurrentWorkspace returns the current workspace, recreating the default one
// when the hierarchy is empty.
func (m *Manager) CurrentWorkspace() *Workspace {
	m.ensureDefault()
	if m.current >= len(m.workspaces) {
		m.current = 0
	}
	return m.workspaces[m.current]
}

// CurrentSession returns the visible session or nil.
func (m *Manager) CurrentSession() *Session {
	return m.CurrentWorkspace().ActiveSession()
}

// CurrentTab returns the visible tab or nil.
func (m *Manager) CurrentTab() *Tab {
	s := m.CurrentSession()
	if s == nil {
		return nil
	}
	return s.ActiveTab()
}

// FindTab locates a tab by id across the hierarchy.
func (m *Manager) FindTab(id string) (*Tab, bool) {
	for _, ws := range m.workspaces {
		for _, s := range ws.sessions {
			if i := s.IndexOf(id); i >= 0 {
				return s.tabs[i], true
			}
		}
	}
	return nil, false
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	return name, nil
}

// AddWorkspace appends an empty workspace and returns its index.
func (m *Manager) AddWorkspace(name string) (int, error) {
	name, err := validName(name)
	if err != nil {
		return 0, err
	}
	for _, ws := range m.workspaces {
		if ws.name == name {
			return 0, fmt.Errorf("workspace %q: %w", name, ErrDuplicateName)
		}
	}

	m.workspaces = append(m.workspaces, newWorkspace(name, m.clock))
	m.log.Debug("added workspace %q", name)
	m.notify()
	return len(m.workspaces) - 1, nil
}

// RemoveWorkspace destroys the workspace at i. Out of range is a no-op.
func (m *Manager) RemoveWorkspace(i int) bool {
	if i < 0 || i >= len(m.workspaces) {
		return false
	}
	m.workspaces[i].destroy()
	m.workspaces = append(m.workspaces[:i], m.workspaces[i+1:]...)
	switch {
	case len(m.workspaces) == 0:
		m.current = 0
	case m.current >= len(m.workspaces):
		m.current = len(m.workspaces) - 1
	}
	m.ensureDefault()
	m.notify()
	return true
}

// SwitchWorkspace makes the workspace at i current.
func (m *Manager) SwitchWorkspace(i int) bool {
	if i < 0 || i >= len(m.workspaces) {
		return false
	}
	m.current = i
	m.markVisible()
	m.notify()
	return true
}

// AddSession appends a session to the current workspace, makes it active and
// returns its index.
func (m *Manager) AddSession(name string) (int, error) {
	name, err := validName(name)
	if err != nil {
		return 0, err
	}
	ws := m.CurrentWorkspace()
	if ws.SessionByName(name) != nil {
		return 0, fmt.Errorf("session %q: %w", name, ErrDuplicateName)
	}

	idx := ws.appendSession(newSession(name, false, m.clock))
	m.notify()
	return idx, nil
}

// RemoveSession destroys the session at i in the current workspace.
func (m *Manager) RemoveSession(i int) bool {
	if !m.CurrentWorkspace().removeSession(i) {
		return false
	}
	m.notify()
	return true
}

// SwitchSession makes the session at i active in the current workspace.
func (m *Manager) SwitchSession(i int) bool {
	if !m.CurrentWorkspace().setActive(i) {
		return false
	}
	m.markVisible()
	m.notify()
	return true
}

// NextSession activates the following session, wrapping around.
func (m *Manager) NextSession() {
	ws := m.CurrentWorkspace()
	if n := ws.SessionCount(); n > 0 {
		m.SwitchSession((ws.active + 1) % n)
	}
}

// PreviousSession activates the preceding session, wrapping around.
func (m *Manager) PreviousSession() {
	ws := m.CurrentWorkspace()
	if n := ws.SessionCount(); n > 0 {
		m.SwitchSession((ws.active + n - 1) % n)
	}
}

// AddTab appends a tab for url to the current session and makes it active.
func (m *Manager) AddTab(url string) (int, error) {
	s := m.CurrentSession()
	if s == nil {
		return 0, ErrNoSession
	}
	if s.overview {
		return 0, ErrOverviewSession
	}
	idx := s.appendTab(m.newTab(url))
	m.notify()
	return idx, nil
}

// RemoveTab destroys the tab at i in the current session. A non-overview
// session left empty is removed as well.
func (m *Manager) RemoveTab(i int) bool {
	s := m.CurrentSession()
	if s == nil || !s.removeTab(i) {
		return false
	}
	m.dropIfEmpty(s)
	m.notify()
	return true
}

// RemoveTabByID removes the tab with id wherever it lives.
func (m *Manager) RemoveTabByID(id string) bool {
	for _, ws := range m.workspaces {
		for _, s := range ws.sessions {
			if i := s.IndexOf(id); i >= 0 {
				s.removeTab(i)
				if s.TabCount() == 0 && !s.overview {
					ws.removeSession(ws.indexOf(s))
				}
				m.notify()
				return true
			}
		}
	}
	return false
}

func (m *Manager) dropIfEmpty(s *Session) {
	if s.TabCount() > 0 || s.overview {
		return
	}
	ws := m.CurrentWorkspace()
	if i := ws.indexOf(s); i >= 0 {
		ws.removeSession(i)
		m.log.Debug("removed empty session %q", s.name)
	}
}

// SwitchTab activates the tab at i in the current session.
func (m *Manager) SwitchTab(i int) bool {
	s := m.CurrentSession()
	if s == nil || !s.setActive(i) {
		return false
	}
	m.notify()
	return true
}

// SwitchTabByID activates the tab with id in the current session.
func (m *Manager) SwitchTabByID(id string) bool {
	s := m.CurrentSession()
	if s == nil {
		return false
	}
	return m.SwitchTab(s.IndexOf(id))
}

// NextTab activates the following tab, wrapping around.
func (m *Manager) NextTab() {
	s := m.CurrentSession()
	if s == nil || s.TabCount() == 0 {
		return
	}
	m.SwitchTab((s.active + 1) % s.TabCount())
}

// PreviousTab activates the preceding tab, wrapping around.
func (m *Manager) PreviousTab() {
	s := m.CurrentSession()
	if s == nil || s.TabCount() == 0 {
		return
	}
	n := s.TabCount()
	m.SwitchTab((s.active + n - 1) % n)
}

// NewTab opens url in the current session. When there is no session, or the
// current one is the overview placeholder, a fresh session is created first.
func (m *Manager) NewTab(url string) *Tab {
	s := m.CurrentSession()
	if s == nil || s.overview {
		ws := m.CurrentWorkspace()
		ws.appendSession(newSession(m.freeSessionName(ws), false, m.clock))
		s = ws.ActiveSession()
	}
	t := m.newTab(url)
	s.appendTab(t)
	m.notify()
	return t
}

func (m *Manager) freeSessionName(ws *Workspace) string {
	for n := 1; ; n++ {
		name := fmt.Sprintf("%s%d", sessionNamePrefix, n)
		if ws.SessionByName(name) == nil {
			return name
		}
	}
}

// CloseCurrentTab removes the active tab of the current session.
func (m *Manager) CloseCurrentTab() {
	s := m.CurrentSession()
	if s == nil || s.TabCount() == 0 {
		return
	}
	m.RemoveTab(s.active)
}

// ActivateCurrentTab makes the current tab visible: the previously visible
// resource is hidden and the current one is materialized or restored.
func (m *Manager) ActivateCurrentTab() error {
	t := m.CurrentTab()
	if m.visible != nil && m.visible != t {
		m.visible.Hide()
	}
	m.visible = t
	if t == nil {
		return nil
	}

	var err error
	switch t.State() {
	case StateUnloaded:
		err = t.Restore(m.engine)
	case StateUnrealized:
		err = t.Materialize(m.engine)
	default:
		err = t.Show(m.engine)
	}
	if err != nil {
		return err
	}
	t.MarkActive()
	m.notify()
	return nil
}

func (m *Manager) markVisible() {
	if t := m.CurrentTab(); t != nil {
		t.MarkActive()
	}
}

// Reset destroys every workspace. With createDefault the default workspace
// and its overview session are recreated.
func (m *Manager) Reset(createDefault bool) {
	for _, ws := range m.workspaces {
		ws.destroy()
	}
	m.workspaces = nil
	m.current = 0
	m.visible = nil
	if createDefault {
		m.ensureDefault()
	}
	m.notify()
}

// LoadedTabs returns every tab across the hierarchy that holds a live resource.
func (m *Manager) LoadedTabs() []*Tab {
	var out []*Tab
	for _, ws := range m.workspaces {
		for _, s := range ws.sessions {
			for _, t := range s.tabs {
				if t.IsLoaded() {
					out = append(out, t)
				}
			}
		}
	}
	return out
}
