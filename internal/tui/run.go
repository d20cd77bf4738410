// Package tui renders the capture surface and the history browser.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/joss/vox/internal/domain"
)

const triggerSource = "tui"

// Controller is the orchestrator surface the run model drives.
type Controller interface {
	Begin(ctx context.Context, source string) error
	End(ctx context.Context) error
	Cancel()
	Dismiss()
	SendToAI(ctx context.Context, prompt string) error
	BeginFollowUp(ctx context.Context) error
	EndFollowUp(ctx context.Context) error
	Phase() domain.SessionPhase
}

// RunModel is the root model for `vox run`. A terminal cannot observe key
// release, so the push-to-talk edge pair maps onto a space toggle.
type RunModel struct {
	ctrl Controller

	phase     domain.SessionPhase
	partial   string
	final     string
	turns     []domain.Turn
	delivered *domain.DeliveryResult
	level     float64
	errText   string
	followUp  bool

	draft  textarea.Model
	width  int
	height int
}

func NewRunModel(ctrl Controller) RunModel {
	ta := textarea.New()
	ta.Placeholder = "Ask about this…"
	ta.SetHeight(3)
	ta.CharLimit = 4000
	return RunModel{
		ctrl:  ctrl,
		phase: domain.PhaseIdle,
		draft: ta,
	}
}

func (m RunModel) Init() tea.Cmd { return nil }

func (m RunModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.draft.SetWidth(msg.Width - 4)
		return m, nil

	case phaseMsg:
		m.phase = msg.Phase
		if msg.Phase == domain.PhaseListening {
			m.final = ""
			m.delivered = nil
			m.errText = ""
			m.turns = nil
		}
		if msg.Phase == domain.PhaseIdle {
			m.partial = ""
			m.final = ""
			m.turns = nil
			m.delivered = nil
			m.draft.Reset()
		}
		return m, nil

	case partialMsg:
		m.partial = msg.Text
		return m, nil

	case finalMsg:
		m.final = msg.Text
		m.partial = ""
		return m, nil

	case draftMsg:
		m.draft.SetValue(msg.Text)
		return m, nil

	case turnsMsg:
		m.turns = msg.Turns
		return m, nil

	case deliveredMsg:
		res := msg.Result
		m.delivered = &res
		return m, nil

	case levelMsg:
		m.level = msg.Level
		return m, nil

	case errMsg:
		m.errText = msg.Message
		return m, nil

	case opDoneMsg:
		// Errors already arrive via errMsg; nothing extra to render.
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.draft, cmd = m.draft.Update(msg)
	return m, cmd
}

func (m RunModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	// The textarea owns most keys while focused; control keys still work.
	if m.draft.Focused() {
		switch key {
		case "esc":
			m.draft.Blur()
			return m, nil
		case "enter":
			prompt := strings.TrimSpace(m.draft.Value())
			if prompt == "" {
				return m, nil
			}
			m.draft.Reset()
			m.draft.Blur()
			return m, m.opCmd(func() error {
				return m.ctrl.SendToAI(context.Background(), prompt)
			})
		default:
			var cmd tea.Cmd
			m.draft, cmd = m.draft.Update(msg)
			return m, cmd
		}
	}

	switch key {
	case "q", "ctrl+c":
		m.ctrl.Cancel()
		return m, tea.Quit

	case " ":
		switch m.phase {
		case domain.PhaseListening:
			return m, m.opCmd(func() error { return m.ctrl.End(context.Background()) })
		default:
			return m, m.opCmd(func() error { return m.ctrl.Begin(context.Background(), triggerSource) })
		}

	case "f":
		if m.phase != domain.PhaseResponse {
			return m, nil
		}
		if m.followUp {
			m.followUp = false
			return m, m.opCmd(func() error { return m.ctrl.EndFollowUp(context.Background()) })
		}
		m.followUp = true
		return m, m.opCmd(func() error { return m.ctrl.BeginFollowUp(context.Background()) })

	case "i":
		if m.phase == domain.PhaseReview || m.phase == domain.PhaseResponse {
			m.draft.Focus()
		}
		return m, nil

	case "c":
		m.ctrl.Cancel()
		return m, nil

	case "esc":
		m.ctrl.Dismiss()
		return m, nil
	}
	return m, nil
}

// opCmd runs a blocking orchestrator call off the update loop.
func (m RunModel) opCmd(fn func() error) tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{Err: fn()}
	}
}

func (m RunModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("vox"))
	b.WriteString("  ")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	switch m.phase {
	case domain.PhaseListening:
		b.WriteString(levelMeter(m.level))
		b.WriteString("\n")
		if m.partial != "" {
			b.WriteString(partialStyle.Render(m.partial))
		} else {
			b.WriteString(dimStyle.Render("listening…"))
		}
		b.WriteString("\n")

	case domain.PhaseReview, domain.PhaseProcessing, domain.PhaseResponse:
		if m.final != "" {
			b.WriteString(finalStyle.Render(m.final))
			b.WriteString("\n")
		}
		if m.delivered != nil {
			b.WriteString(m.deliveryLine())
			b.WriteString("\n")
		}
		if len(m.turns) > 0 {
			b.WriteString("\n")
			b.WriteString(m.turnsView())
		}
		if m.followUp {
			b.WriteString("\n")
			b.WriteString(partialStyle.Render("◉ follow-up: " + m.draft.Value()))
			b.WriteString("\n")
		} else if m.phase != domain.PhaseProcessing {
			b.WriteString("\n")
			b.WriteString(m.draft.View())
			b.WriteString("\n")
		}

	case domain.PhaseError:
		b.WriteString(errorStyle.Render("✗ " + m.errText))
		b.WriteString("\n")

	default:
		b.WriteString(dimStyle.Render("press space to start a thought"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.footer())
	return b.String()
}

func (m RunModel) statusLine() string {
	switch m.phase {
	case domain.PhaseListening:
		return listeningDotStyle.Render("●") + " " + phaseStyle.Render("listening")
	case domain.PhaseProcessing:
		return phaseStyle.Render("thinking…")
	case domain.PhaseError:
		return errorStyle.Render("error")
	case domain.PhaseIdle:
		return idleDotStyle.Render("○") + " " + dimStyle.Render("idle")
	default:
		return phaseStyle.Render(string(m.phase))
	}
}

func (m RunModel) deliveryLine() string {
	if m.delivered.Success {
		return deliveredStyle.Render(fmt.Sprintf("✓ inserted (%s)", m.delivered.StrategyUsed))
	}
	return dimStyle.Render("copied to clipboard — paste manually")
}

func (m RunModel) turnsView() string {
	var b strings.Builder
	for _, t := range m.turns {
		switch {
		case t.Pending:
			b.WriteString(pendingStyle.Render("  …"))
		case t.Role == domain.RoleUser:
			b.WriteString(userTurnStyle.Render("you  ") + finalStyle.Render(t.Content))
		default:
			b.WriteString(assistantTurnStyle.Render("  ↳  " + t.Content))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m RunModel) footer() string {
	keys := [][2]string{
		{"space", "talk"},
		{"i", "type"},
		{"f", "follow-up"},
		{"c", "cancel"},
		{"esc", "dismiss"},
		{"q", "quit"},
	}
	var parts []string
	for _, k := range keys {
		parts = append(parts, footerKeyStyle.Render(k[0])+" "+footerDescStyle.Render(k[1]))
	}
	return strings.Join(parts, footerDescStyle.Render("  ·  "))
}

// levelMeter renders a 20-cell bar from a normalized RMS level.
func levelMeter(level float64) string {
	const cells = 20
	on := int(level * cells)
	if on > cells {
		on = cells
	}
	return levelOnStyle.Render(strings.Repeat("▰", on)) +
		levelOffStyle.Render(strings.Repeat("▱", cells-on))
}
