package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/joss/vox/internal/domain"
	"github.com/joss/vox/internal/logging"
)

// Dialer abstracts websocket dialing so tests can swap the transport.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// StreamConfig controls the cloud streaming engines.
type StreamConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Language   string
	SampleRate int
	Channels   int
}

func (c *StreamConfig) fill() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.deepgram.com/v1"
	}
	if c.Model == "" {
		c.Model = "nova-2"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
}

// cloudStream streams PCM over a websocket and receives incremental
// re-evaluated partials. The legacy variant speaks the older endpoint, which
// sends whole-transcript re-evaluations instead of interim segments; the
// anti-regression tracker absorbs the difference.
type cloudStream struct {
	kind   domain.EngineKind
	cfg    StreamConfig
	pub    *publisher
	log    *logging.Logger
	dialer Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	audio    chan []byte
	loopDone chan struct{}
	segments []string
	sendOnce *sync.Once
}

// NewCloudStream builds the current-generation streaming engine.
func NewCloudStream(cfg StreamConfig) Engine {
	return newCloudStream(domain.EngineCloudStream, cfg, websocket.DefaultDialer)
}

// NewLegacyStream builds the previous-generation streaming engine, kept for
// accounts not yet migrated off the old socket.
func NewLegacyStream(cfg StreamConfig) Engine {
	return newCloudStream(domain.EngineLegacyStream, cfg, websocket.DefaultDialer)
}

// NewCloudStreamWithDialer is the test constructor.
func NewCloudStreamWithDialer(kind domain.EngineKind, cfg StreamConfig, dialer Dialer) Engine {
	return newCloudStream(kind, cfg, dialer)
}

func newCloudStream(kind domain.EngineKind, cfg StreamConfig, dialer Dialer) *cloudStream {
	cfg.fill()
	return &cloudStream{
		kind:   kind,
		cfg:    cfg,
		pub:    newPublisher(),
		log:    logging.New("engine").WithEngine(string(kind)),
		dialer: dialer,
	}
}

func (e *cloudStream) Kind() domain.EngineKind               { return e.kind }
func (e *cloudStream) Snapshot() domain.EngineSnapshot       { return e.pub.Snapshot() }
func (e *cloudStream) Updates() <-chan domain.EngineSnapshot { return e.pub.Updates() }
func (e *cloudStream) longestPartial() string                { return e.pub.longestPartial() }

func (e *cloudStream) Start(ctx context.Context) error {
	snap := e.pub.Snapshot()
	if snap.State != domain.EngineIdle && snap.State != domain.EngineStopped {
		return domain.ErrEngineBusy
	}
	if strings.TrimSpace(e.cfg.APIKey) == "" {
		return errors.New("streaming API key is not configured")
	}

	wsURL, err := e.listenURL()
	if err != nil {
		return err
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+e.cfg.APIKey)

	conn, _, err := e.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return fmt.Errorf("connect transcription socket: %w", err)
	}

	e.mu.Lock()
	e.conn = conn
	e.audio = make(chan []byte, 32)
	e.loopDone = make(chan struct{})
	e.segments = nil
	e.sendOnce = &sync.Once{}
	audio, loopDone := e.audio, e.loopDone
	e.mu.Unlock()

	e.pub.reset()
	e.pub.setState(domain.EngineListening, "")

	go e.writeLoop(conn, audio)
	go e.readLoop(conn, loopDone)
	return nil
}

// Feed hands a frame to the write loop without blocking; under backpressure
// the frame is dropped rather than stalling the capture goroutine.
func (e *cloudStream) Feed(frame []byte) error {
	e.mu.Lock()
	audio := e.audio
	e.mu.Unlock()
	if audio == nil {
		return errors.New("engine not listening")
	}
	select {
	case audio <- frame:
	default:
		e.log.Debug("frame_dropped", map[string]interface{}{"bytes": len(frame)})
	}
	return nil
}

func (e *cloudStream) EndStream() error {
	e.mu.Lock()
	once, audio := e.sendOnce, e.audio
	e.mu.Unlock()
	if once == nil {
		return nil
	}
	once.Do(func() { close(audio) })
	return nil
}

func (e *cloudStream) writeLoop(conn *websocket.Conn, audio <-chan []byte) {
	for chunk := range audio {
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			return
		}
	}
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
}

func (e *cloudStream) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	var readErr error
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !isNormalClose(err) {
				readErr = err
			}
			break
		}

		var resp streamResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			continue
		}
		if strings.EqualFold(resp.Type, "Error") {
			msg := strings.TrimSpace(resp.Message)
			if msg == "" {
				msg = "transcription service returned an unknown error"
			}
			readErr = errors.New(msg)
			break
		}

		text := resp.transcript()
		if text == "" {
			continue
		}
		if resp.IsFinal || resp.SpeechFinal {
			e.mu.Lock()
			e.segments = append(e.segments, text)
			joined := strings.Join(e.segments, " ")
			e.mu.Unlock()
			e.pub.setPartial(joined)
		} else {
			e.mu.Lock()
			joined := strings.TrimSpace(strings.Join(append(append([]string{}, e.segments...), text), " "))
			e.mu.Unlock()
			e.pub.setPartial(joined)
		}
	}

	e.mu.Lock()
	finalText := strings.TrimSpace(strings.Join(e.segments, " "))
	e.mu.Unlock()

	if finalText != "" {
		e.pub.setFinal(finalText)
		e.pub.setState(domain.EngineStopped, "")
		return
	}
	if readErr != nil {
		e.pub.setState(domain.EngineErrored, readErr.Error())
		return
	}
	e.pub.setState(domain.EngineStopped, "")
}

func (e *cloudStream) Release() {
	e.mu.Lock()
	conn, loopDone := e.conn, e.loopDone
	e.conn = nil
	e.audio = nil
	e.sendOnce = nil
	e.loopDone = nil
	e.segments = nil
	e.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if loopDone != nil {
		<-loopDone
	}
}

func (e *cloudStream) Reset() {
	e.Release()
	e.pub.reset()
}

func (e *cloudStream) listenURL() (string, error) {
	base := strings.TrimSpace(e.cfg.BaseURL)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	path := "/listen"
	if e.kind == domain.EngineLegacyStream {
		path = "/streams"
	}
	u, err := url.Parse(base + path)
	if err != nil {
		return "", fmt.Errorf("invalid streaming base URL: %w", err)
	}

	q := u.Query()
	q.Set("model", e.cfg.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", e.cfg.SampleRate))
	q.Set("channels", fmt.Sprintf("%d", e.cfg.Channels))
	if e.kind == domain.EngineCloudStream {
		q.Set("interim_results", "true")
	}
	if e.cfg.Language != "" {
		q.Set("language", e.cfg.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

// streamResponse tolerates both the current and the legacy payload shapes.
type streamResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (r streamResponse) transcript() string {
	if len(r.Channel.Alternatives) > 0 {
		if t := strings.TrimSpace(r.Channel.Alternatives[0].Transcript); t != "" {
			return t
		}
	}
	if len(r.Results.Channels) > 0 && len(r.Results.Channels[0].Alternatives) > 0 {
		return strings.TrimSpace(r.Results.Channels[0].Alternatives[0].Transcript)
	}
	return ""
}
