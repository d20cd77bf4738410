package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/joss/vox/internal/domain"
	"github.com/joss/vox/internal/logging"
)

// HTTPClient interface for HTTP requests (enables testing)
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// BatchConfig controls the cloud batch engine.
type BatchConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Language   string
	SampleRate int
	Client     HTTPClient
}

// batch buffers the whole episode and runs one transcription call after
// stop. It publishes no partials; between EndStream and the result it is in
// the processing state.
type batch struct {
	cfg BatchConfig
	pub *publisher
	log *logging.Logger

	mu      sync.Mutex
	buf     *bytes.Buffer
	procCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBatch builds the cloud batch engine.
func NewBatch(cfg BatchConfig) Engine {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Client == nil {
		// The transcription call is the only bound on a batch stop, so the
		// default client must not hang forever against a dead server.
		cfg.Client = &http.Client{Timeout: 60 * time.Second}
	}
	return &batch{
		cfg: cfg,
		pub: newPublisher(),
		log: logging.New("engine").WithEngine(string(domain.EngineCloudBatch)),
	}
}

func (e *batch) Kind() domain.EngineKind               { return domain.EngineCloudBatch }
func (e *batch) Snapshot() domain.EngineSnapshot       { return e.pub.Snapshot() }
func (e *batch) Updates() <-chan domain.EngineSnapshot { return e.pub.Updates() }
func (e *batch) longestPartial() string                { return e.pub.longestPartial() }

func (e *batch) Start(ctx context.Context) error {
	snap := e.pub.Snapshot()
	if snap.State != domain.EngineIdle && snap.State != domain.EngineStopped {
		return domain.ErrEngineBusy
	}
	if strings.TrimSpace(e.cfg.APIKey) == "" {
		return errors.New("batch transcription API key is not configured")
	}

	procCtx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.buf = &bytes.Buffer{}
	e.procCtx, e.cancel = procCtx, cancel
	e.done = nil
	e.mu.Unlock()

	e.pub.reset()
	e.pub.setState(domain.EngineListening, "")
	return nil
}

func (e *batch) Feed(frame []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buf == nil {
		return fmt.Errorf("engine not listening")
	}
	e.buf.Write(frame)
	return nil
}

// EndStream kicks off the single transcription call over the buffered audio.
func (e *batch) EndStream() error {
	e.mu.Lock()
	if e.buf == nil || e.done != nil {
		e.mu.Unlock()
		return nil
	}
	audio := e.buf.Bytes()
	e.buf = nil
	e.done = make(chan struct{})
	done, ctx := e.done, e.procCtx
	e.mu.Unlock()

	e.pub.setState(domain.EngineProcessing, "")

	go func() {
		defer close(done)
		text, err := e.transcribe(ctx, audio)
		if err != nil {
			e.pub.setState(domain.EngineErrored, err.Error())
			return
		}
		e.pub.setFinal(text)
		e.pub.setState(domain.EngineStopped, "")
	}()
	return nil
}

func (e *batch) transcribe(ctx context.Context, pcm []byte) (string, error) {
	if len(pcm) == 0 {
		return "", errors.New("no audio captured")
	}

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wavEncode(pcm, e.cfg.SampleRate)); err != nil {
		return "", err
	}
	w.WriteField("model", e.cfg.Model)
	if e.cfg.Language != "" {
		w.WriteField("language", e.cfg.Language)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, "POST",
		strings.TrimRight(e.cfg.BaseURL, "/")+"/audio/transcriptions", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := e.cfg.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("transcription API error %d: %s", resp.StatusCode, string(msg))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

func (e *batch) Release() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.buf = nil
	e.mu.Unlock()

	// Cancel before waiting: a release mid-request must abort it, not sit
	// behind it.
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (e *batch) Reset() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.buf = nil
	e.done = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	e.pub.reset()
}

// wavEncode wraps s16le mono PCM in a minimal RIFF header.
func wavEncode(pcm []byte, sampleRate int) []byte {
	buf := &bytes.Buffer{}
	dataLen := uint32(len(pcm))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}
