package tui

import (
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joss/vox/internal/domain"
)

// ProgramSink adapts orchestrator callbacks to bubbletea messages.
// program.Send is safe from any goroutine and never blocks the caller.
// Attach is called once the program exists; until then events are dropped,
// which only affects the instant before the first render.
type ProgramSink struct {
	p atomic.Pointer[tea.Program]
}

func NewProgramSink() *ProgramSink { return &ProgramSink{} }

func (s *ProgramSink) Attach(p *tea.Program) { s.p.Store(p) }

func (s *ProgramSink) send(msg tea.Msg) {
	if p := s.p.Load(); p != nil {
		p.Send(msg)
	}
}

func (s *ProgramSink) PhaseChanged(phase domain.SessionPhase) { s.send(phaseMsg{Phase: phase}) }
func (s *ProgramSink) PartialText(text string)                { s.send(partialMsg{Text: text}) }
func (s *ProgramSink) FinalText(text string)                  { s.send(finalMsg{Text: text}) }
func (s *ProgramSink) DraftText(text string)                  { s.send(draftMsg{Text: text}) }
func (s *ProgramSink) TurnsChanged(turns []domain.Turn)       { s.send(turnsMsg{Turns: turns}) }
func (s *ProgramSink) Delivered(res domain.DeliveryResult)    { s.send(deliveredMsg{Result: res}) }
func (s *ProgramSink) AudioLevel(level float64)               { s.send(levelMsg{Level: level}) }
func (s *ProgramSink) ErrorMessage(msg string)                { s.send(errMsg{Message: msg}) }
