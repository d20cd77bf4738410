package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joss/vox/internal/domain"
)

// HistoryModel is a read-only browser over archived sessions, newest first.
type HistoryModel struct {
	records  []domain.Session
	cursor   int
	expanded bool
	height   int
}

func NewHistoryModel(records []domain.Session) HistoryModel {
	return HistoryModel{records: records}
}

func (m HistoryModel) Init() tea.Cmd { return nil }

func (m HistoryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "j", "down":
			if m.cursor < len(m.records)-1 {
				m.cursor++
			}
			m.expanded = false
		case "k", "up":
			if m.cursor > 0 {
				m.cursor--
			}
			m.expanded = false
		case "enter":
			m.expanded = !m.expanded
		}
	}
	return m, nil
}

func (m HistoryModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("vox history"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %d sessions", len(m.records))))
	b.WriteString("\n\n")

	if len(m.records) == 0 {
		b.WriteString(dimStyle.Render("nothing here yet"))
		b.WriteString("\n")
		return b.String()
	}

	for i, rec := range m.records {
		line := fmt.Sprintf("%s  %-20s  %s",
			rec.StartedAt.Format("Jan 02 15:04"),
			truncate(rec.AppContext.Name, 20),
			truncate(rec.Transcript(), 50))
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("▸ " + line))
		} else {
			b.WriteString("  " + dimStyle.Render(line))
		}
		b.WriteString("\n")
		if i == m.cursor && m.expanded {
			b.WriteString(m.detailView(rec))
		}
	}

	b.WriteString("\n")
	b.WriteString(footerKeyStyle.Render("j/k") + " " + footerDescStyle.Render("move") +
		footerDescStyle.Render("  ·  ") +
		footerKeyStyle.Render("enter") + " " + footerDescStyle.Render("detail") +
		footerDescStyle.Render("  ·  ") +
		footerKeyStyle.Render("q") + " " + footerDescStyle.Render("quit"))
	return b.String()
}

func (m HistoryModel) detailView(rec domain.Session) string {
	var b strings.Builder
	for _, t := range rec.Turns {
		prefix := "    you  "
		style := userTurnStyle
		if t.Role == domain.RoleAssistant {
			prefix = "      ↳  "
			style = assistantTurnStyle
		}
		b.WriteString(style.Render(prefix + t.Content))
		b.WriteString("\n")
	}
	if rec.ScreenshotRef != "" {
		b.WriteString(dimStyle.Render("    screenshot: " + rec.ScreenshotRef))
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render("    ended: " + string(rec.EndReason)))
	b.WriteString("\n")
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return "…"
	}
	return s[:n-1] + "…"
}
