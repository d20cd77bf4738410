package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/joss/vox/internal/config"
	"github.com/joss/vox/internal/domain"
	"github.com/joss/vox/internal/logging"
)

// Recognizer is the on-device decoding backend. The production build links a
// native decoder; elsewhere a stub keeps the pipeline runnable.
type Recognizer interface {
	// TranscribeSegment processes a chunk of mono float32 samples and may
	// emit zero or more results.
	TranscribeSegment(samples []float32) ([]RecognizerResult, error)
	// Flush finalises the stream and emits any buffered results.
	Flush() ([]RecognizerResult, error)
	// Close releases underlying resources.
	Close() error
}

// RecognizerResult is one transcript emitted by the recognizer.
type RecognizerResult struct {
	Text  string
	Final bool
}

// RecognizerFactory opens a recognizer for a model file and locale.
type RecognizerFactory func(modelPath, locale string) (Recognizer, error)

// NativeConfig controls the on-device streaming engine.
type NativeConfig struct {
	Locale    string
	ModelPath string
	// Install downloads the model when it is missing. Nil means missing
	// models fail Start with domain.ErrModelNotInstalled.
	Install func(ctx context.Context, modelPath string) error
	// OpenRecognizer overrides the decoder backend; defaults to the stub.
	OpenRecognizer RecognizerFactory
}

var nativeLocales = map[string]bool{
	"en-US": true, "en-GB": true, "en-AU": true,
	"de-DE": true, "fr-FR": true, "es-ES": true,
}

// native runs transcription on-device with streaming partials. Frames are
// handed to a decode goroutine through a non-blocking channel so the capture
// side never waits on decoding.
type native struct {
	cfg NativeConfig
	pub *publisher
	log *logging.Logger

	mu         sync.Mutex
	frames     chan []byte
	decodeDone chan struct{}
	recognizer Recognizer
}

// NewNative builds the on-device streaming engine.
func NewNative(cfg NativeConfig) Engine {
	if cfg.Locale == "" {
		cfg.Locale = "en-US"
	}
	if cfg.ModelPath == "" {
		cfg.ModelPath = filepath.Join(config.GetPaths().Home, "models", "native-"+cfg.Locale+".bin")
	}
	if cfg.OpenRecognizer == nil {
		cfg.OpenRecognizer = openStubRecognizer
	}
	return &native{
		cfg: cfg,
		pub: newPublisher(),
		log: logging.New("engine").WithEngine(string(domain.EngineNative)),
	}
}

func (e *native) Kind() domain.EngineKind               { return domain.EngineNative }
func (e *native) Snapshot() domain.EngineSnapshot       { return e.pub.Snapshot() }
func (e *native) Updates() <-chan domain.EngineSnapshot { return e.pub.Updates() }
func (e *native) longestPartial() string                { return e.pub.longestPartial() }

// Start checks locale support and model availability, installing the model
// when an installer is configured, then opens the recognizer.
func (e *native) Start(ctx context.Context) error {
	snap := e.pub.Snapshot()
	if snap.State != domain.EngineIdle && snap.State != domain.EngineStopped {
		return domain.ErrEngineBusy
	}
	if !nativeLocales[e.cfg.Locale] {
		return fmt.Errorf("%w: %s", domain.ErrLocaleUnsupported, e.cfg.Locale)
	}

	if _, err := os.Stat(e.cfg.ModelPath); err != nil {
		if e.cfg.Install == nil {
			return fmt.Errorf("%w: %s", domain.ErrModelNotInstalled, e.cfg.ModelPath)
		}
		e.log.Info("model_install", map[string]interface{}{"path": e.cfg.ModelPath})
		if err := e.cfg.Install(ctx, e.cfg.ModelPath); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrModelNotInstalled, err)
		}
	}

	rec, err := e.cfg.OpenRecognizer(e.cfg.ModelPath, e.cfg.Locale)
	if err != nil {
		return fmt.Errorf("open recognizer: %w", err)
	}

	e.mu.Lock()
	e.recognizer = rec
	e.frames = make(chan []byte, 64)
	e.decodeDone = make(chan struct{})
	frames, done := e.frames, e.decodeDone
	e.mu.Unlock()

	e.pub.reset()
	e.pub.setState(domain.EngineListening, "")

	go e.decodeLoop(rec, frames, done)
	return nil
}

func (e *native) Feed(frame []byte) error {
	e.mu.Lock()
	frames := e.frames
	e.mu.Unlock()
	if frames == nil {
		return fmt.Errorf("engine not listening")
	}
	select {
	case frames <- frame:
	default:
		// Decoder behind; drop rather than stall the capture goroutine.
	}
	return nil
}

func (e *native) EndStream() error {
	e.mu.Lock()
	frames := e.frames
	e.frames = nil
	e.mu.Unlock()
	if frames != nil {
		close(frames)
	}
	return nil
}

func (e *native) decodeLoop(rec Recognizer, frames <-chan []byte, done chan struct{}) {
	defer close(done)

	for frame := range frames {
		samples, err := pcm16ToFloat32(frame)
		if err != nil {
			e.pub.setState(domain.EngineErrored, domain.ErrAudioFormatConversion.Error())
			return
		}
		results, err := rec.TranscribeSegment(samples)
		if err != nil {
			e.pub.setState(domain.EngineErrored, err.Error())
			return
		}
		e.publishResults(results)
	}

	results, err := rec.Flush()
	if err != nil {
		e.pub.setState(domain.EngineErrored, err.Error())
		return
	}
	e.publishResults(results)

	if final := e.pub.Snapshot().Final; final == "" {
		// The decoder produced no explicit final; the coordinator promotes
		// the longest partial.
		e.pub.setState(domain.EngineStopped, "")
		return
	}
	e.pub.setState(domain.EngineStopped, "")
}

func (e *native) publishResults(results []RecognizerResult) {
	for _, r := range results {
		if r.Final {
			e.pub.setFinal(r.Text)
		} else {
			e.pub.setPartial(r.Text)
		}
	}
}

func (e *native) Release() {
	e.EndStream()

	e.mu.Lock()
	rec, done := e.recognizer, e.decodeDone
	e.recognizer = nil
	e.decodeDone = nil
	e.mu.Unlock()

	if done != nil {
		<-done
	}
	if rec != nil {
		rec.Close()
	}
}

func (e *native) Reset() {
	e.Release()
	e.pub.reset()
}

// pcm16ToFloat32 converts little-endian 16-bit PCM to normalized float32.
func pcm16ToFloat32(frame []byte) ([]float32, error) {
	if len(frame)%2 != 0 {
		return nil, domain.ErrAudioFormatConversion
	}
	samples := make([]float32, len(frame)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(frame[i*2:]))
		samples[i] = float32(s) / math.MaxInt16
	}
	return samples, nil
}

// stubRecognizer stands in when no native decoder is linked. It consumes
// audio and produces no text, which surfaces downstream as "no transcript".
type stubRecognizer struct{}

func openStubRecognizer(modelPath, locale string) (Recognizer, error) {
	return &stubRecognizer{}, nil
}

func (s *stubRecognizer) TranscribeSegment([]float32) ([]RecognizerResult, error) { return nil, nil }
func (s *stubRecognizer) Flush() ([]RecognizerResult, error)                      { return nil, nil }
func (s *stubRecognizer) Close() error                                            { return nil }
