package session

import "time"

// Workspace is an ordered group of sessions with one active session.
type Workspace struct {
	name      string
	sessions  []*Session
	active    int
	createdAt time.Time
	updatedAt time.Time
	clock     Clock
}

func newWorkspace(name string, clock Clock) *Workspace {
	now := clock().Round(0)
	return &Workspace{
		name:      name,
		createdAt: now,
		updatedAt: now,
		clock:     clock,
	}
}

func (w *Workspace) Name() string         { return w.name }
func (w *Workspace) CreatedAt() time.Time { return w.createdAt }
func (w *Workspace) UpdatedAt() time.Time { return w.updatedAt }
func (w *Workspace) SessionCount() int    { return len(w.sessions) }
func (w *Workspace) ActiveIndex() int     { return w.active }

// Sessions returns the sessions in order. The slice is a copy.
func (w *Workspace) Sessions() []*Session {
	return append([]*Session(nil), w.sessions...)
}

// Session returns the session at i or nil.
func (w *Workspace) Session(i int) *Session {
	if i < 0 || i >= len(w.sessions) {
		return nil
	}
	return w.sessions[i]
}

// ActiveSession returns the active session or nil.
func (w *Workspace) ActiveSession() *Session {
	return w.Session(w.active)
}

// SessionByName returns the session called name or nil.
func (w *Workspace) SessionByName(name string) *Session {
	for _, s := range w.sessions {
		if s.name == name {
			return s
		}
	}
	return nil
}

// IsUntouchedDefault reports whether the workspace is the default one holding
// nothing but one empty overview session.
func (w *Workspace) IsUntouchedDefault() bool {
	return w.name == DefaultWorkspaceName && len(w.sessions) == 1 &&
		w.sessions[0].overview && len(w.sessions[0].tabs) == 0
}

func (w *Workspace) touch() {
	w.updatedAt = w.clock().Round(0)
}

// appendSession adds s at the end and makes it active.
func (w *Workspace) appendSession(s *Session) int {
	w.sessions = append(w.sessions, s)
	w.active = len(w.sessions) - 1
	w.touch()
	return w.active
}

func (w *Workspace) removeSession(i int) bool {
	if i < 0 || i >= len(w.sessions) {
		return false
	}
	w.sessions[i].destroy()
	w.sessions = append(w.sessions[:i], w.sessions[i+1:]...)
	switch {
	case len(w.sessions) == 0:
		w.active = 0
	case w.active >= len(w.sessions):
		w.active = len(w.sessions) - 1
	}
	w.touch()
	return true
}

func (w *Workspace) setActive(i int) bool {
	if i < 0 || i >= len(w.sessions) {
		return false
	}
	w.active = i
	w.touch()
	return true
}

func (w *Workspace) indexOf(s *Session) int {
	for i, candidate := range w.sessions {
		if candidate == s {
			return i
		}
	}
	return -1
}

func (w *Workspace) destroy() {
	for _, s := range w.sessions {
		s.destroy()
	}
	w.sessions = nil
	w.active = 0
}
