package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	NewTab        key.Binding
	CloseTab      key.Binding
	NextTab       key.Binding
	PrevTab       key.Binding
	NextSession   key.Binding
	PrevSession   key.Binding
	NewSession    key.Binding
	NextWorkspace key.Binding
	PrevWorkspace key.Binding
	NewWorkspace  key.Binding
	LowMemory     key.Binding
	Save          key.Binding
	Quit          key.Binding
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.NewTab, k.CloseTab, k.NextTab, k.NextSession, k.NextWorkspace, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.NewTab, k.CloseTab, k.NextTab, k.PrevTab},
		{k.NewSession, k.NextSession, k.PrevSession},
		{k.NewWorkspace, k.NextWorkspace, k.PrevWorkspace},
		{k.LowMemory, k.Save, k.Quit},
	}
}

func defaultKeyMap() keyMap {
	return keyMap{
		NewTab:        key.NewBinding(key.WithKeys("t", "ctrl+t"), key.WithHelp("t", "open url")),
		CloseTab:      key.NewBinding(key.WithKeys("x", "ctrl+w"), key.WithHelp("x", "close tab")),
		NextTab:       key.NewBinding(key.WithKeys("tab", "j", "down"), key.WithHelp("tab", "next tab")),
		PrevTab:       key.NewBinding(key.WithKeys("shift+tab", "k", "up"), key.WithHelp("shift+tab", "prev tab")),
		NextSession:   key.NewBinding(key.WithKeys("]", "l", "right"), key.WithHelp("]", "next session")),
		PrevSession:   key.NewBinding(key.WithKeys("[", "h", "left"), key.WithHelp("[", "prev session")),
		NewSession:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "new session")),
		NextWorkspace: key.NewBinding(key.WithKeys("}"), key.WithHelp("}", "next workspace")),
		PrevWorkspace: key.NewBinding(key.WithKeys("{"), key.WithHelp("{", "prev workspace")),
		NewWorkspace:  key.NewBinding(key.WithKeys("W"), key.WithHelp("W", "new workspace")),
		LowMemory:     key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "free memory")),
		Save:          key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "save")),
		Quit:          key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}
