package ui

import "github.com/charmbracelet/lipgloss"

// Color palette. Single lime accent, everything else neutral.
const (
	ColorLime     = "154" // primary accent
	ColorGray     = "245" // secondary text, labels
	ColorDarkGray = "238" // separators, dim text
	ColorRed      = "196" // errors
	ColorYellow   = "220" // warnings
)

// Styles holds the lipgloss styles used for console rendering.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Label   lipgloss.Style
	Score   lipgloss.Style
}

// DefaultStyles returns the colored style set.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Score:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),
	}
}

// NoColorStyles returns an unstyled set for plain output.
func NoColorStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle(),
		Success: lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Dim:     lipgloss.NewStyle(),
		Label:   lipgloss.NewStyle(),
		Score:   lipgloss.NewStyle(),
	}
}
