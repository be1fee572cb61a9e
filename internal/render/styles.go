// Package render formats plugins, session output, and history for terminals
// and HTML.
package render

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	secondaryColor = lipgloss.Color("#10B981") // Green
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	errorColor     = lipgloss.Color("#EF4444") // Red
	warningColor   = lipgloss.Color("#F59E0B") // Amber

	headingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	okStyle = lipgloss.NewStyle().
		Foreground(secondaryColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	warningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	userStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	toolStyle = lipgloss.NewStyle().
			Foreground(warningColor)
)

// pluginStyle colors a plugin name with its manifest color, falling back
// to the primary color.
func pluginStyle(color string) lipgloss.Style {
	c := primaryColor
	if color != "" {
		c = lipgloss.Color(color)
	}
	return lipgloss.NewStyle().Bold(true).Foreground(c)
}
