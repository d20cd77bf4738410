package domain

// SessionPhase is the orchestrator-level state machine, distinct from
// EngineStateKind. Exactly one phase is active at a time; the presentation
// layer renders from it alone.
type SessionPhase string

const (
	PhaseIdle       SessionPhase = "idle"
	PhaseListening  SessionPhase = "listening"
	PhaseReview     SessionPhase = "review"
	PhaseProcessing SessionPhase = "processing"
	PhaseResponse   SessionPhase = "response"
	PhaseError      SessionPhase = "error"
)
