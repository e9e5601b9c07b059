// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/invowk/wasmcc/internal/config"
)

// Color palette shared by all CLI output. Muted tones adapt to the terminal
// background, which ui.color_scheme can pin.
var (
	// ColorPrimary is purple, used for titles and headers.
	ColorPrimary = lipgloss.Color("#7C3AED")

	// ColorMuted is used for subtitles and de-emphasized content.
	ColorMuted = lipgloss.AdaptiveColor{Light: "#4B5563", Dark: "#6B7280"}

	// ColorSuccess is green.
	ColorSuccess = lipgloss.Color("#10B981")

	// ColorError is red.
	ColorError = lipgloss.Color("#EF4444")

	// ColorWarning is amber.
	ColorWarning = lipgloss.Color("#F59E0B")

	// ColorHighlight is blue, used for commands, paths and flags.
	ColorHighlight = lipgloss.Color("#3B82F6")

	// ColorVerbose is used for verbose output and supplementary details.
	ColorVerbose = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
)

var (
	// TitleStyle is for primary headers and section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	// SubtitleStyle is for secondary headers and descriptions.
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	// SuccessStyle is for success messages and positive indicators.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	// ErrorStyle is for error messages and failure indicators.
	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorError)

	// WarningStyle is for warning messages and caution indicators.
	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	// CmdStyle is for command names, paths and flags.
	CmdStyle = lipgloss.NewStyle().
			Foreground(ColorHighlight)

	// VerboseStyle is for verbose output and supplementary information.
	VerboseStyle = lipgloss.NewStyle().
			Foreground(ColorVerbose)

	// tableHeaderStyle is for the header row of listings.
	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorPrimary).
				Padding(0, 1)

	// tableCellStyle is for listing cells.
	tableCellStyle = lipgloss.NewStyle().
			Padding(0, 1)
)

// applyColorScheme pins the background detection used by adaptive colors
// and returns the glamour style matching it.
func applyColorScheme(scheme config.ColorScheme) string {
	switch scheme {
	case config.ColorSchemeLight:
		lipgloss.SetHasDarkBackground(false)
		return "light"
	case config.ColorSchemeDark:
		lipgloss.SetHasDarkBackground(true)
		return "dark"
	default:
		if lipgloss.HasDarkBackground() {
			return "dark"
		}
		return "light"
	}
}
