// Package tui is a terminal front-end over the browsing hierarchy.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/codefionn/ryxsurf/internal/session"
)

// errVisibleFor is how long an error stays in the footer.
const errVisibleFor = 5 * time.Second

// callTimeout bounds a single round trip to the loop.
const callTimeout = 5 * time.Second

// Controller is the part of the browser the UI drives.
type Controller interface {
	Do(ctx context.Context, fn func(h *session.Manager) error) error
	LowMemory(ctx context.Context) ([]string, error)
	SaveNow(ctx context.Context) error
}

// Notifier turns hierarchy refresh callbacks into UI updates without ever
// blocking the caller.
type Notifier struct {
	ch chan struct{}
}

// NewNotifier returns a notifier with room for one pending refresh.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Notify records that the hierarchy changed.
func (n *Notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

type inputMode int

const (
	inputNone inputMode = iota
	inputURL
	inputSession
	inputWorkspace
)

func (m inputMode) prompt() string {
	switch m {
	case inputURL:
		return "Open URL: "
	case inputSession:
		return "Session name: "
	case inputWorkspace:
		return "Workspace name: "
	default:
		return ""
	}
}

type (
	refreshMsg struct{}
	viewMsg    struct{ view hierarchyView }
	statusMsg  string
	errMsg     struct{ err error }
)

// Model is the bubbletea model.
type Model struct {
	ctrl     Controller
	notifier *Notifier

	view   hierarchyView
	keys   keyMap
	help   help.Model
	input  textinput.Model
	mode   inputMode
	width  int
	height int

	status          string
	err             error
	errVisibleUntil time.Time
}

// New creates the model. notifier may be nil when no refresh source exists.
func New(ctrl Controller, notifier *Notifier) *Model {
	in := textinput.New()
	in.CharLimit = 2048
	in.Width = 60

	return &Model{
		ctrl:     ctrl,
		notifier: notifier,
		keys:     defaultKeyMap(),
		help:     help.New(),
		input:    in,
	}
}

// Run shows the UI until the user quits or ctx is cancelled.
func Run(ctx context.Context, ctrl Controller, notifier *Notifier) error {
	p := tea.NewProgram(New(ctrl, notifier), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.loadView(), m.waitForRefresh())
}

func (m *Model) waitForRefresh() tea.Cmd {
	if m.notifier == nil {
		return nil
	}
	ch := m.notifier.ch
	return func() tea.Msg {
		<-ch
		return refreshMsg{}
	}
}

// call runs fn on the loop and then reloads the view.
func (m *Model) call(fn func(h *session.Manager) error) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()

		var v hierarchyView
		err := ctrl.Do(ctx, func(h *session.Manager) error {
			ferr := fn(h)
			v = captureView(h)
			return ferr
		})
		if err != nil {
			return errMsg{err: err}
		}
		return viewMsg{view: v}
	}
}

func (m *Model) loadView() tea.Cmd {
	return m.call(func(*session.Manager) error { return nil })
}

// activate wraps a navigation step so the newly current tab is shown.
func activate(step func(h *session.Manager)) func(h *session.Manager) error {
	return func(h *session.Manager) error {
		step(h)
		return h.ActivateCurrentTab()
	}
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.input.Width = max(msg.Width-20, 10)
		return m, nil

	case refreshMsg:
		return m, tea.Batch(m.loadView(), m.waitForRefresh())

	case viewMsg:
		m.view = msg.view
		return m, nil

	case statusMsg:
		m.status = string(msg)
		return m, nil

	case errMsg:
		m.err = msg.err
		m.errVisibleUntil = time.Now().Add(errVisibleFor)
		return m, nil

	case tea.KeyMsg:
		if m.mode != inputNone {
			return m.updateInput(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) startInput(mode inputMode) (tea.Model, tea.Cmd) {
	m.mode = mode
	m.input.Reset()
	m.input.Prompt = mode.prompt()
	return m, tea.Batch(m.input.Focus(), textinput.Blink)
}

func (m *Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+c":
		m.mode = inputNone
		m.input.Blur()
		return m, nil
	case "enter":
		value := strings.TrimSpace(m.input.Value())
		mode := m.mode
		m.mode = inputNone
		m.input.Blur()
		if value == "" {
			return m, nil
		}
		return m, m.submit(mode, value)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) submit(mode inputMode, value string) tea.Cmd {
	switch mode {
	case inputURL:
		return m.call(func(h *session.Manager) error {
			h.NewTab(normalizeURL(value))
			return h.ActivateCurrentTab()
		})
	case inputSession:
		return m.call(func(h *session.Manager) error {
			_, err := h.AddSession(value)
			return err
		})
	case inputWorkspace:
		return m.call(func(h *session.Manager) error {
			idx, err := h.AddWorkspace(value)
			if err != nil {
				return err
			}
			h.SwitchWorkspace(idx)
			return h.ActivateCurrentTab()
		})
	}
	return nil
}

// normalizeURL adds https:// to bare hosts typed by the user.
func normalizeURL(raw string) string {
	if strings.Contains(raw, "://") || strings.HasPrefix(raw, "about:") {
		return raw
	}
	return "https://" + raw
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.NewTab):
		return m.startInput(inputURL)
	case key.Matches(msg, m.keys.NewSession):
		return m.startInput(inputSession)
	case key.Matches(msg, m.keys.NewWorkspace):
		return m.startInput(inputWorkspace)
	case key.Matches(msg, m.keys.CloseTab):
		return m, m.call(activate(func(h *session.Manager) { h.CloseCurrentTab() }))
	case key.Matches(msg, m.keys.NextTab):
		return m, m.call(activate(func(h *session.Manager) { h.NextTab() }))
	case key.Matches(msg, m.keys.PrevTab):
		return m, m.call(activate(func(h *session.Manager) { h.PreviousTab() }))
	case key.Matches(msg, m.keys.NextSession):
		return m, m.call(activate(func(h *session.Manager) { h.NextSession() }))
	case key.Matches(msg, m.keys.PrevSession):
		return m, m.call(activate(func(h *session.Manager) { h.PreviousSession() }))
	case key.Matches(msg, m.keys.NextWorkspace):
		return m, m.call(activate(func(h *session.Manager) {
			if n := h.WorkspaceCount(); n > 0 {
				h.SwitchWorkspace((h.CurrentWorkspaceIndex() + 1) % n)
			}
		}))
	case key.Matches(msg, m.keys.PrevWorkspace):
		return m, m.call(activate(func(h *session.Manager) {
			if n := h.WorkspaceCount(); n > 0 {
				h.SwitchWorkspace((h.CurrentWorkspaceIndex() + n - 1) % n)
			}
		}))
	case key.Matches(msg, m.keys.LowMemory):
		ctrl := m.ctrl
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
			defer cancel()
			evicted, err := ctrl.LowMemory(ctx)
			if err != nil {
				return errMsg{err: err}
			}
			return statusMsg(fmt.Sprintf("Unloaded %d tabs", len(evicted)))
		}
	case key.Matches(msg, m.keys.Save):
		ctrl := m.ctrl
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
			defer cancel()
			if err := ctrl.SaveNow(ctx); err != nil {
				return errMsg{err: err}
			}
			return statusMsg("Saved")
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("ryxsurf"))
	sb.WriteString("\n")
	sb.WriteString(m.renderBar())
	sb.WriteString("\n\n")
	sb.WriteString(m.renderTabs())
	sb.WriteString("\n")
	if m.mode != inputNone {
		sb.WriteString(promptStyle.Render(m.input.View()))
		sb.WriteString("\n")
	}
	sb.WriteString(m.renderFooter())
	sb.WriteString("\n")
	sb.WriteString(statusStyle.Render(m.help.View(m.keys)))
	return sb.String()
}

// renderBar shows workspaces on one line and the sessions of the current one below.
func (m *Model) renderBar() string {
	var workspaces []string
	for i, ws := range m.view.Workspaces {
		workspaces = append(workspaces, " "+styleFor(i == m.view.Current).Render(ws.Name)+" ")
	}

	var sessions []string
	if ws := m.view.workspace(); ws != nil {
		for i, s := range ws.Sessions {
			label := s.Name
			if s.Overview {
				label = "◇ " + label
			}
			sessions = append(sessions, " "+styleFor(i == ws.Active).Render(label)+" ")
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Left, workspaces...),
		lipgloss.JoinHorizontal(lipgloss.Left, sessions...),
	)
}

func styleFor(active bool) lipgloss.Style {
	if active {
		return activeTabStyle
	}
	return inactiveTabStyle
}

func (m *Model) renderTabs() string {
	s := m.view.session()
	if s == nil || len(s.Tabs) == 0 {
		return statusStyle.Render("No tabs. Press t to open a URL.")
	}

	var rows []string
	for i, t := range s.Tabs {
		marker := "  "
		style := rowStyle
		switch {
		case i == s.Active:
			marker = "▸ "
			style = selectedRowStyle
		case t.State == session.StateUnloaded:
			style = unloadedStyle
		}
		rows = append(rows, "  "+style.Render(fmt.Sprintf("%s%s  %s  [%s]", marker, t.Title, t.URL, t.State)))
	}
	return strings.Join(rows, "\n")
}

func (m *Model) renderFooter() string {
	if m.err != nil && time.Now().Before(m.errVisibleUntil) {
		return errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	}
	return statusStyle.Render(m.status)
}
