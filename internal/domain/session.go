package domain

import (
	"time"
)

// Session is one push-to-talk interaction plus its follow-up turns.
type Session struct {
	ID            string     `json:"id"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       time.Time  `json:"endedAt"`
	EndReason     EndReason  `json:"endReason"`
	AppContext    AppContext `json:"appContext"`
	ScreenshotRef string     `json:"screenshotRef,omitempty"`
	Turns         []Turn     `json:"turns"`
}

// EndReason records how a session terminated. Set exactly once at archival.
type EndReason string

const (
	EndCompleted   EndReason = "completed"
	EndCancelled   EndReason = "cancelled"
	EndInterrupted EndReason = "interrupted"
)

// AppContext is a snapshot of the foreground application taken at session
// start. It is the insertion target even if focus changes later.
type AppContext struct {
	Name     string `json:"name"`
	BundleID string `json:"bundleID"`
	PID      int    `json:"pid"`
	WindowID string `json:"windowID,omitempty"`
}

// Turn is one conversational unit. Turns are append-only; only the pending
// assistant placeholder is ever replaced in place.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Pending   bool      `json:"pending,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Transcript returns the first user turn, the derived projection of the
// legacy single-transcript field.
func (s *Session) Transcript() string {
	for _, t := range s.Turns {
		if t.Role == RoleUser {
			return t.Content
		}
	}
	return ""
}

// AIResponse returns the last non-pending assistant turn.
func (s *Session) AIResponse() string {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == RoleAssistant && !s.Turns[i].Pending {
			return s.Turns[i].Content
		}
	}
	return ""
}

// HasContent reports whether the session carries anything worth persisting.
// A session with no non-empty turn and no screenshot is never archived.
func (s *Session) HasContent() bool {
	if s.ScreenshotRef != "" {
		return true
	}
	for _, t := range s.Turns {
		if !t.Pending && t.Content != "" {
			return true
		}
	}
	return false
}
