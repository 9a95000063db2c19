package session

import "time"

// Session is an ordered group of tabs with one active tab. An overview
// session is a placeholder that survives being empty.
type Session struct {
	name      string
	tabs      []*Tab
	active    int
	overview  bool
	createdAt time.Time
	updatedAt time.Time
	clock     Clock
}

func newSession(name string, overview bool, clock Clock) *Session {
	now := clock().Round(0)
	return &Session{
		name:      name,
		overview:  overview,
		createdAt: now,
		updatedAt: now,
		clock:     clock,
	}
}

func (s *Session) Name() string         { return s.name }
func (s *Session) IsOverview() bool     { return s.overview }
func (s *Session) CreatedAt() time.Time { return s.createdAt }
func (s *Session) UpdatedAt() time.Time { return s.updatedAt }
func (s *Session) TabCount() int        { return len(s.tabs) }
func (s *Session) ActiveIndex() int     { return s.active }

// Tabs returns the tabs in order. The slice is a copy.
func (s *Session) Tabs() []*Tab {
	return append([]*Tab(nil), s.tabs...)
}

// Tab returns the tab at i or nil.
func (s *Session) Tab(i int) *Tab {
	if i < 0 || i >= len(s.tabs) {
		return nil
	}
	return s.tabs[i]
}

// ActiveTab returns the active tab or nil when the session is empty.
func (s *Session) ActiveTab() *Tab {
	return s.Tab(s.active)
}

// IndexOf returns the index of the tab with id, or -1.
func (s *Session) IndexOf(id string) int {
	for i, t := range s.tabs {
		if t.id == id {
			return i
		}
	}
	return -1
}

// LoadedCount returns the number of tabs holding a live resource.
func (s *Session) LoadedCount() int {
	n := 0
	for _, t := range s.tabs {
		if t.IsLoaded() && !t.IsUnloaded() {
			n++
		}
	}
	return n
}

func (s *Session) touch() {
	s.updatedAt = s.clock().Round(0)
}

// appendTab adds t at the end and makes it active.
func (s *Session) appendTab(t *Tab) int {
	s.tabs = append(s.tabs, t)
	s.active = len(s.tabs) - 1
	t.MarkActive()
	s.touch()
	return s.active
}

func (s *Session) removeTab(i int) bool {
	if i < 0 || i >= len(s.tabs) {
		return false
	}
	s.tabs[i].destroy()
	s.tabs = append(s.tabs[:i], s.tabs[i+1:]...)
	s.clamp()
	s.touch()
	return true
}

func (s *Session) setActive(i int) bool {
	if i < 0 || i >= len(s.tabs) {
		return false
	}
	s.active = i
	s.tabs[i].MarkActive()
	s.touch()
	return true
}

func (s *Session) clamp() {
	switch {
	case len(s.tabs) == 0:
		s.active = 0
	case s.active >= len(s.tabs):
		s.active = len(s.tabs) - 1
	}
}

func (s *Session) destroy() {
	for _, t := range s.tabs {
		t.destroy()
	}
	s.tabs = nil
	s.active = 0
}
