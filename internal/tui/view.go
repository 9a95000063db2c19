package tui

import (
	"github.com/codefionn/ryxsurf/internal/session"
)

// tabView is a copy of the tab state the UI renders.
type tabView struct {
	ID    string
	Title string
	URL   string
	State session.State
}

type sessionView struct {
	Name     string
	Overview bool
	Active   int
	Tabs     []tabView
}

type workspaceView struct {
	Name     string
	Active   int
	Sessions []sessionView
}

// hierarchyView is an immutable copy of the hierarchy taken on the loop.
type hierarchyView struct {
	Current    int
	Workspaces []workspaceView
}

func captureView(h *session.Manager) hierarchyView {
	v := hierarchyView{Current: h.CurrentWorkspaceIndex()}
	for _, ws := range h.Workspaces() {
		wv := workspaceView{Name: ws.Name(), Active: ws.ActiveIndex()}
		for _, s := range ws.Sessions() {
			sv := sessionView{Name: s.Name(), Overview: s.IsOverview(), Active: s.ActiveIndex()}
			for _, t := range s.Tabs() {
				sv.Tabs = append(sv.Tabs, tabView{
					ID:    t.ID(),
					Title: t.Title(),
					URL:   t.URL(),
					State: t.State(),
				})
			}
			wv.Sessions = append(wv.Sessions, sv)
		}
		v.Workspaces = append(v.Workspaces, wv)
	}
	return v
}

func (v hierarchyView) workspace() *workspaceView {
	if v.Current < 0 || v.Current >= len(v.Workspaces) {
		return nil
	}
	return &v.Workspaces[v.Current]
}

func (v hierarchyView) session() *sessionView {
	ws := v.workspace()
	if ws == nil || ws.Active < 0 || ws.Active >= len(ws.Sessions) {
		return nil
	}
	return &ws.Sessions[ws.Active]
}
