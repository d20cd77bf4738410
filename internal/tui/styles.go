package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorRed    = lipgloss.Color("#FF5555")
	colorGreen  = lipgloss.Color("#50FA7B")
	colorYellow = lipgloss.Color("#F1FA8C")
	colorCyan   = lipgloss.Color("#8BE9FD")
	colorGray   = lipgloss.Color("#666666")
	colorWhite  = lipgloss.Color("#F8F8F2")
	colorPurple = lipgloss.Color("#BD93F9")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	listeningDotStyle = lipgloss.NewStyle().
				Foreground(colorRed).
				Bold(true)

	idleDotStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	phaseStyle = lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true)

	partialStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	finalStyle = lipgloss.NewStyle().
			Foreground(colorWhite)

	userTurnStyle = lipgloss.NewStyle().
			Foreground(colorCyan)

	assistantTurnStyle = lipgloss.NewStyle().
				Foreground(colorWhite)

	pendingStyle = lipgloss.NewStyle().
			Foreground(colorGray).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	deliveredStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			Bold(true)

	footerDescStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	levelOnStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	levelOffStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	selectedStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)
)
