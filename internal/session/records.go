package session

import "time"

// WorkspaceRecord is the storage form of a Workspace.
type WorkspaceRecord struct {
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
	Sessions  []SessionRecord
}

// SessionRecord is the storage form of a Session.
type SessionRecord struct {
	Name      string
	Overview  bool
	CreatedAt time.Time
	UpdatedAt time.Time
	Tabs      []TabRecord
}

// TabRecord is the storage form of a Tab. Position is implied by slice order.
type TabRecord struct {
	URL         string
	Title       string
	SnapshotRef string
	LastActive  time.Time
}

// IsUntouchedDefault mirrors Workspace.IsUntouchedDefault for stored records.
func (r WorkspaceRecord) IsUntouchedDefault() bool {
	return r.Name == DefaultWorkspaceName && len(r.Sessions) == 1 &&
		r.Sessions[0].Overview && len(r.Sessions[0].Tabs) == 0
}

// ToRecord converts a workspace to its storage form.
func (w *Workspace) ToRecord() WorkspaceRecord {
	rec := WorkspaceRecord{
		Name:      w.name,
		CreatedAt: w.createdAt,
		UpdatedAt: w.updatedAt,
		Sessions:  make([]SessionRecord, 0, len(w.sessions)),
	}
	for _, s := range w.sessions {
		rec.Sessions = append(rec.Sessions, s.ToRecord())
	}
	return rec
}

// ToRecord converts a session to its storage form.
func (s *Session) ToRecord() SessionRecord {
	rec := SessionRecord{
		Name:      s.name,
		Overview:  s.overview,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
		Tabs:      make([]TabRecord, 0, len(s.tabs)),
	}
	for _, t := range s.tabs {
		rec.Tabs = append(rec.Tabs, t.ToRecord())
	}
	return rec
}

// ToRecord converts a tab to its storage form. A live resource's current url
// is preferred over the last requested one.
func (t *Tab) ToRecord() TabRecord {
	url := t.url
	if t.view != nil {
		if current := t.view.CurrentURL(); current != "" {
			url = current
		}
	}
	return TabRecord{
		URL:         url,
		Title:       t.title,
		SnapshotRef: t.snapshotRef,
		LastActive:  t.activeWall,
	}
}

// Snapshot returns the storage form of the whole hierarchy in traversal order.
func (m *Manager) Snapshot() []WorkspaceRecord {
	out := make([]WorkspaceRecord, 0, len(m.workspaces))
	for _, ws := range m.workspaces {
		out = append(out, ws.ToRecord())
	}
	return out
}

// Restore replaces the hierarchy with records. Restored tabs are unrealized;
// the last session and tab of each container become active. An empty record
// set yields the default workspace.
func (m *Manager) Restore(records []WorkspaceRecord) {
	for _, ws := range m.workspaces {
		ws.destroy()
	}
	m.workspaces = nil
	m.current = 0
	m.visible = nil

	for _, wr := range records {
		ws := newWorkspace(wr.Name, m.clock)
		for _, sr := range wr.Sessions {
			s := newSession(sr.Name, sr.Overview, m.clock)
			for _, tr := range sr.Tabs {
				t := m.newTab(tr.URL)
				if tr.Title != "" {
					t.title = tr.Title
				}
				t.snapshotRef = tr.SnapshotRef
				if !tr.LastActive.IsZero() {
					t.activeWall = tr.LastActive
				}
				s.tabs = append(s.tabs, t)
			}
			if len(s.tabs) > 0 {
				s.active = len(s.tabs) - 1
			}
			s.createdAt, s.updatedAt = restoredTimes(sr.CreatedAt, sr.UpdatedAt, s.createdAt)
			ws.sessions = append(ws.sessions, s)
		}
		if len(ws.sessions) > 0 {
			ws.active = len(ws.sessions) - 1
		}
		ws.createdAt, ws.updatedAt = restoredTimes(wr.CreatedAt, wr.UpdatedAt, ws.createdAt)
		m.workspaces = append(m.workspaces, ws)
	}

	m.ensureDefault()
	m.log.Info("restored %d workspaces", len(m.workspaces))
	m.notify()
}

func restoredTimes(created, updated, fallback time.Time) (time.Time, time.Time) {
	if created.IsZero() {
		created = fallback
	}
	if updated.IsZero() {
		updated = created
	}
	return created, updated
}
