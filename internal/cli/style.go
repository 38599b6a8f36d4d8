package cli

import "github.com/charmbracelet/lipgloss"

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#FAFAFA")).
	Background(lipgloss.Color("#7D56F4")).
	Padding(1, 5).
	MarginBottom(1).
	Align(lipgloss.Center).
	Border(lipgloss.RoundedBorder())

var (
	columnStyle = lipgloss.NewStyle().Width(18)
	labelStyle  = columnStyle.Bold(true)
	openStyle   = columnStyle.Foreground(lipgloss.Color("#FF5F87"))
	closedStyle = columnStyle.Foreground(lipgloss.Color("#04B575"))
)

// row renders cells in fixed-width columns.
func row(style lipgloss.Style, cells ...string) string {
	rendered := make([]string, len(cells))
	for i, c := range cells {
		rendered[i] = style.Render(c)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

// stateStyle colors a breaker state.
func stateStyle(healthy bool) lipgloss.Style {
	if healthy {
		return closedStyle
	}
	return openStyle
}
