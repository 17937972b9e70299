// Package cli renders terminal, scan and transaction output for the till
// command using lipgloss.
package cli

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	primaryColor = lipgloss.Color("#5B8DEF")
	successColor = lipgloss.Color("#4ECDC4") // Teal
	warningColor = lipgloss.Color("#FFE66D") // Yellow
	errorColor   = lipgloss.Color("#FF6B6B") // Red
	infoColor    = lipgloss.Color("#95E1D3") // Light teal
	subtleColor  = lipgloss.Color("#666666") // Gray

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// SubtitleStyle is used for the line under a title.
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(subtleColor)

	// SuccessStyle formats success messages.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(successColor)

	// WarningStyle formats warning messages.
	WarningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	// ErrorStyle formats error messages.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	// InfoStyle formats informational messages.
	InfoStyle = lipgloss.NewStyle().
			Foreground(infoColor)

	// SubtleStyle formats less prominent text.
	SubtleStyle = lipgloss.NewStyle().
			Foreground(subtleColor)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333")).
			Padding(1, 2)

	// TableHeaderStyle is used for table headers. It stays on one line so
	// tabwriter can align the columns.
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(primaryColor)

	// CriticalStyle highlights failures that need the operator's attention.
	CriticalStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(errorColor)
)

// Icons.
const (
	successIcon = "✓"
	ErrorIcon   = "✗"
	warningIcon = "⚠️"
	infoIcon    = "ℹ️"
	tillIcon    = "💳"
	scanIcon    = "📡"
	OnlineIcon  = "●"
	OfflineIcon = "○"
)

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(successIcon + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return ErrorStyle.Render(ErrorIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(warningIcon + " " + message)
}

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string {
	return InfoStyle.Render(infoIcon + " " + message)
}

// FormatTitle formats a title with the till icon.
func FormatTitle(title string) string {
	return titleStyle.Render(tillIcon + " " + title)
}

// FormatScanTitle formats the heading of a network scan.
func FormatScanTitle(title string) string {
	return titleStyle.Render(scanIcon + " " + title)
}

// renderBox renders content under a title in a rounded box.
func renderBox(title, content string) string {
	boxTitle := titleStyle.
		UnsetMargins().
		Render(title)

	boxContent := lipgloss.JoinVertical(
		lipgloss.Left,
		boxTitle,
		content,
	)

	return boxStyle.Render(boxContent)
}
