package ui

import "github.com/charmbracelet/lipgloss"

// Color palette. One accent colour; everything else is grey scale.
const (
	ColorLime     = "154" // Accent: scores, headers
	ColorLimeDim  = "106" // Backend badges
	ColorWhite    = "255"
	ColorGray     = "245" // Labels, sources
	ColorDarkGray = "238" // Separators, snippets context
	ColorRed      = "196"
	ColorYellow   = "220"
)

// Styles holds the styles used by CLI output.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Label   lipgloss.Style

	// Search results
	Rank    lipgloss.Style
	Score   lipgloss.Style
	Source  lipgloss.Style
	Badge   lipgloss.Style
	Snippet lipgloss.Style
	Match   lipgloss.Style

	Progress lipgloss.Style
}

// DefaultStyles returns the coloured styles.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),

		Rank:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorWhite)),
		Score:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),
		Source:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Badge:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLimeDim)),
		Snippet: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorWhite)),
		Match:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),

		Progress: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),
	}
}

// NoColorStyles returns unstyled components for plain mode.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header:   plain,
		Success:  plain,
		Warning:  plain,
		Error:    plain,
		Dim:      plain,
		Label:    plain,
		Rank:     plain,
		Score:    plain,
		Source:   plain,
		Badge:    plain,
		Snippet:  plain,
		Match:    plain,
		Progress: plain,
	}
}

// GetStyles returns the appropriate styles based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
