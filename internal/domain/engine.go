package domain

import (
	"errors"
	"fmt"
)

// EngineKind selects a transcription backend implementation.
type EngineKind string

const (
	// EngineNative transcribes on-device with streaming partials.
	EngineNative EngineKind = "native"
	// EngineCloudStream streams audio over a websocket and receives
	// incremental re-evaluated partials.
	EngineCloudStream EngineKind = "cloud-stream"
	// EngineCloudBatch buffers the whole episode and transcribes it in a
	// single call after stop.
	EngineCloudBatch EngineKind = "cloud-batch"
	// EngineLegacyStream is the previous-generation streaming socket kept
	// for accounts not yet migrated.
	EngineLegacyStream EngineKind = "legacy-stream"
)

func ParseEngineKind(s string) (EngineKind, error) {
	switch EngineKind(s) {
	case EngineNative, EngineCloudStream, EngineCloudBatch, EngineLegacyStream:
		return EngineKind(s), nil
	}
	return "", fmt.Errorf("unknown engine kind %q", s)
}

// EngineStateKind is the lifecycle state published by the active engine.
type EngineStateKind string

const (
	EngineIdle      EngineStateKind = "idle"
	EngineListening EngineStateKind = "listening"
	// EngineProcessing exists only for batch engines, between stop and the
	// final transcription result.
	EngineProcessing EngineStateKind = "processing"
	EngineStopped    EngineStateKind = "stopped"
	EngineErrored    EngineStateKind = "error"
)

// EngineSnapshot is the continuously published view of an engine: state plus
// the current partial and final text.
type EngineSnapshot struct {
	State   EngineStateKind
	Message string // set when State == EngineErrored
	Partial string
	Final   string
}

// Engine error sentinels; transport errors stay wrapped instead.
var (
	ErrLocaleUnsupported        = errors.New("locale not supported by engine")
	ErrModelNotInstalled        = errors.New("transcription model not installed")
	ErrAudioFormatConversion    = errors.New("audio format conversion failed")
	ErrEngineBusy               = errors.New("engine is not idle or stopped")
	ErrNoTranscript             = errors.New("no transcript captured")
	ErrCapturePermissionMissing = errors.New("screen capture permission not granted")
)
