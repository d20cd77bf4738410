package tui

import "github.com/joss/vox/internal/domain"

// phaseMsg carries a phase transition from the orchestrator.
type phaseMsg struct {
	Phase domain.SessionPhase
}

// partialMsg updates the live transcription line.
type partialMsg struct {
	Text string
}

// finalMsg carries the promoted transcript after a graceful stop.
type finalMsg struct {
	Text string
}

// draftMsg updates the follow-up input draft.
type draftMsg struct {
	Text string
}

// turnsMsg replaces the conversation view.
type turnsMsg struct {
	Turns []domain.Turn
}

// deliveredMsg reports the insertion outcome.
type deliveredMsg struct {
	Result domain.DeliveryResult
}

// levelMsg carries a capture level sample.
type levelMsg struct {
	Level float64
}

// errMsg surfaces an orchestrator error.
type errMsg struct {
	Message string
}

// opDoneMsg signals that an async orchestrator call returned.
type opDoneMsg struct {
	Err error
}
