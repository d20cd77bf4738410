// Package engine defines the pluggable transcription contract and its
// implementations, plus the coordinator that owns engine selection and the
// graceful-stop protocol.
package engine

import (
	"context"

	"github.com/joss/vox/internal/domain"
)

// Engine converts a live audio stream into incrementally improving text.
// Implementations publish their state continuously through Snapshot/Updates
// and know nothing about sessions.
//
// Lifecycle: Start (idle|stopped -> listening, may run model checks or
// connect a transport), Feed for each frame, EndStream once on stop, Release
// after the episode's text has been read, Reset to force idle from any state.
type Engine interface {
	Kind() domain.EngineKind

	// Start prepares the backend and begins accepting frames. It fails
	// with domain.ErrLocaleUnsupported, domain.ErrModelNotInstalled,
	// domain.ErrAudioFormatConversion or a wrapped transport error.
	Start(ctx context.Context) error

	// Feed hands off one PCM frame. It must never block the caller; frames
	// may be dropped under backpressure.
	Feed(frame []byte) error

	// EndStream signals end-of-audio to the backend. Batch engines start
	// their single transcription call here.
	EndStream() error

	Snapshot() domain.EngineSnapshot
	Updates() <-chan domain.EngineSnapshot

	// longestPartial exposes the promotion candidate retained by the
	// anti-regression tracker.
	longestPartial() string

	// Release frees episode resources (buffers, converters, sockets). It
	// is called unconditionally after finalize, keeps the published text,
	// and leaves the engine restartable.
	Release()

	// Reset forces idle and clears all text. Callable from any state;
	// always succeeds. Used for cancellation and hot-swap.
	Reset()
}

// Factory constructs a fresh engine instance for a kind. Swapping constructs
// a new instance rather than reusing the old one.
type Factory func() Engine
