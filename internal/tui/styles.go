package tui

import "github.com/charmbracelet/lipgloss"

var (
	// titleStyle is the style for the application title in the header
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			MarginLeft(2)

	// statusStyle is the style for status lines under the header and in the footer
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginLeft(2)

	// activeTabStyle is the style for the current session or workspace
	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("63"))

	// inactiveTabStyle is the style for background sessions or workspaces
	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("243"))

	// selectedRowStyle highlights the active tab in the tab list
	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("229"))

	rowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	// unloadedStyle dims tabs whose resource was released
	unloadedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	// errorStyle is the style for error messages in the footer
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			MarginLeft(2)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("170")).
			MarginLeft(2)
)
