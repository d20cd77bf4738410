package engine

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/vox/internal/audio"
	"github.com/joss/vox/internal/domain"
)

// fakeSession blocks reads until stopped, like a quiet microphone.
type fakeSession struct {
	once sync.Once
	stop chan struct{}
}

func newFakeSession() *fakeSession { return &fakeSession{stop: make(chan struct{})} }

func (s *fakeSession) Read(p []byte) (int, error) {
	<-s.stop
	return 0, io.EOF
}
func (s *fakeSession) Stop() error  { s.once.Do(func() { close(s.stop) }); return nil }
func (s *fakeSession) Close() error { return s.Stop() }

type fakeCapture struct {
	mu       sync.Mutex
	sessions []*fakeSession
	ctxs     []context.Context
}

func (c *fakeCapture) Start(ctx context.Context, cfg audio.Config) (audio.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := newFakeSession()
	c.sessions = append(c.sessions, s)
	c.ctxs = append(c.ctxs, ctx)
	return s, nil
}

// fakeEngine drives the shared publisher directly so tests can script
// arbitrary backend behavior.
type fakeEngine struct {
	*publisher
	kind domain.EngineKind

	mu        sync.Mutex
	started   int
	released  int
	resets    int
	streamEnd int
	onEnd     func(*fakeEngine)
}

func newFakeEngine(kind domain.EngineKind) *fakeEngine {
	return &fakeEngine{publisher: newPublisher(), kind: kind}
}

func (e *fakeEngine) Kind() domain.EngineKind { return e.kind }

func (e *fakeEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	e.started++
	e.mu.Unlock()
	e.setState(domain.EngineListening, "")
	return nil
}

func (e *fakeEngine) Feed(frame []byte) error { return nil }

func (e *fakeEngine) EndStream() error {
	e.mu.Lock()
	e.streamEnd++
	fn := e.onEnd
	e.mu.Unlock()
	if fn != nil {
		fn(e)
	}
	return nil
}

func (e *fakeEngine) Release() {
	e.mu.Lock()
	e.released++
	e.mu.Unlock()
}

func (e *fakeEngine) Reset() {
	e.mu.Lock()
	e.resets++
	e.mu.Unlock()
	e.reset()
}

func (e *fakeEngine) counts() (started, released, resets int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started, e.released, e.resets
}

func newTestCoordinator(t *testing.T, e *fakeEngine) *Coordinator {
	t.Helper()
	factories := map[domain.EngineKind]Factory{
		e.kind: func() Engine { return e },
	}
	return NewCoordinator(&fakeCapture{}, audio.Config{}, factories, e.kind,
		WithPollInterval(5*time.Millisecond))
}

func TestStopAndFinalizeUsesFinal(t *testing.T) {
	e := newFakeEngine(domain.EngineCloudStream)
	e.onEnd = func(e *fakeEngine) {
		e.setFinal("hello world")
		e.setState(domain.EngineStopped, "")
	}
	c := newTestCoordinator(t, e)

	require.NoError(t, c.Start(context.Background()))
	text, err := c.StopAndFinalize(context.Background(), 0, 200*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	_, released, _ := e.counts()
	assert.Equal(t, 1, released)
}

func TestStopAndFinalizePromotesLongestPartial(t *testing.T) {
	e := newFakeEngine(domain.EngineCloudStream)
	c := newTestCoordinator(t, e)

	require.NoError(t, c.Start(context.Background()))
	e.setPartial("the quick brown fox")
	e.setPartial("the quick") // shorter re-evaluation arrives last

	start := time.Now()
	text, err := c.StopAndFinalize(context.Background(), 0, 50*time.Millisecond)
	require.NoError(t, err)

	// Timed out waiting for a final: the longest partial is promoted, and
	// the wait respected the deadline.
	assert.Equal(t, "the quick brown fox", text)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestStopAndFinalizeDowngradesErrorWithText(t *testing.T) {
	e := newFakeEngine(domain.EngineCloudStream)
	c := newTestCoordinator(t, e)

	require.NoError(t, c.Start(context.Background()))
	e.setPartial("partial text before drop")
	e.onEnd = func(e *fakeEngine) {
		e.setState(domain.EngineErrored, "connection lost")
	}

	text, err := c.StopAndFinalize(context.Background(), 0, 200*time.Millisecond)
	require.NoError(t, err, "captured text must win over a late transport error")
	assert.Equal(t, "partial text before drop", text)
}

func TestStopAndFinalizeErrorWithoutText(t *testing.T) {
	e := newFakeEngine(domain.EngineCloudStream)
	e.onEnd = func(e *fakeEngine) {
		e.setState(domain.EngineErrored, "auth rejected")
	}
	c := newTestCoordinator(t, e)

	require.NoError(t, c.Start(context.Background()))
	_, err := c.StopAndFinalize(context.Background(), 0, 200*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth rejected")
}

func TestStopAndFinalizeNoTranscript(t *testing.T) {
	e := newFakeEngine(domain.EngineCloudStream)
	c := newTestCoordinator(t, e)

	require.NoError(t, c.Start(context.Background()))
	_, err := c.StopAndFinalize(context.Background(), 0, 30*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrNoTranscript)

	_, released, _ := e.counts()
	assert.Equal(t, 1, released, "release is unconditional")
}

func TestStopAndFinalizeBatchWaitsForProcessing(t *testing.T) {
	e := newFakeEngine(domain.EngineCloudBatch)
	e.onEnd = func(e *fakeEngine) {
		e.setState(domain.EngineProcessing, "")
		go func() {
			// Longer than the stream deadline: batch finalize is
			// governed by the transcription call, not finalWait.
			time.Sleep(80 * time.Millisecond)
			e.setFinal("batch result")
			e.setState(domain.EngineStopped, "")
		}()
	}
	c := newTestCoordinator(t, e)

	require.NoError(t, c.Start(context.Background()))
	text, err := c.StopAndFinalize(context.Background(), 0, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "batch result", text)
}

func TestSwapDeferredWhileListening(t *testing.T) {
	stream := newFakeEngine(domain.EngineCloudStream)
	batch := newFakeEngine(domain.EngineCloudBatch)
	factories := map[domain.EngineKind]Factory{
		domain.EngineCloudStream: func() Engine { return stream },
		domain.EngineCloudBatch:  func() Engine { return batch },
	}
	c := NewCoordinator(&fakeCapture{}, audio.Config{}, factories, domain.EngineCloudStream,
		WithPollInterval(5*time.Millisecond))

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Swap(domain.EngineCloudBatch))

	// The in-flight episode keeps its engine.
	assert.Equal(t, domain.EngineCloudStream, c.Kind())

	stream.setFinal("done")
	stream.setState(domain.EngineStopped, "")
	_, err := c.StopAndFinalize(context.Background(), 0, 100*time.Millisecond)
	require.NoError(t, err)

	// The deferred swap applies on the next start.
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, domain.EngineCloudBatch, c.Kind())

	started, _, _ := batch.counts()
	assert.Equal(t, 1, started)
}

func TestSwapImmediateWhenIdle(t *testing.T) {
	stream := newFakeEngine(domain.EngineCloudStream)
	batch := newFakeEngine(domain.EngineCloudBatch)
	factories := map[domain.EngineKind]Factory{
		domain.EngineCloudStream: func() Engine { return stream },
		domain.EngineCloudBatch:  func() Engine { return batch },
	}
	c := NewCoordinator(&fakeCapture{}, audio.Config{}, factories, domain.EngineCloudStream)

	require.NoError(t, c.Swap(domain.EngineCloudBatch))
	assert.Equal(t, domain.EngineCloudBatch, c.Kind())
}

func TestSwapUnknownKindRejected(t *testing.T) {
	e := newFakeEngine(domain.EngineCloudStream)
	c := newTestCoordinator(t, e)
	assert.Error(t, c.Swap(domain.EngineNative))
}

func TestCaptureOutlivesStartContext(t *testing.T) {
	e := newFakeEngine(domain.EngineCloudStream)
	cap := &fakeCapture{}
	factories := map[domain.EngineKind]Factory{e.kind: func() Engine { return e }}
	c := NewCoordinator(cap, audio.Config{}, factories, e.kind,
		WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	cancel()

	// The device is not tied to the caller's context; words spoken in the
	// tail window would be lost if cancellation killed the recorder here.
	cap.mu.Lock()
	capCtx := cap.ctxs[0]
	cap.mu.Unlock()
	assert.NoError(t, capCtx.Err(), "capture must survive the caller's context")

	e.setFinal("tail words")
	e.setState(domain.EngineStopped, "")
	text, err := c.StopAndFinalize(context.Background(), 0, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "tail words", text)

	assert.Error(t, capCtx.Err(), "stop releases the capture context")
}

func TestResetTearsDownCapture(t *testing.T) {
	e := newFakeEngine(domain.EngineCloudStream)
	cap := &fakeCapture{}
	factories := map[domain.EngineKind]Factory{e.kind: func() Engine { return e }}
	c := NewCoordinator(cap, audio.Config{}, factories, e.kind)

	require.NoError(t, c.Start(context.Background()))
	c.Reset()

	_, _, resets := e.counts()
	assert.Equal(t, 1, resets)

	// The microphone is released: the session saw a stop.
	cap.mu.Lock()
	defer cap.mu.Unlock()
	require.Len(t, cap.sessions, 1)
	select {
	case <-cap.sessions[0].stop:
	default:
		t.Fatal("capture session not stopped")
	}
}

func TestCoordinatorForwardsSnapshots(t *testing.T) {
	e := newFakeEngine(domain.EngineCloudStream)
	c := newTestCoordinator(t, e)

	require.NoError(t, c.Start(context.Background()))
	e.setPartial("hello")

	select {
	case snap := <-c.Updates():
		// First forwarded snapshot is the listening transition or the
		// partial depending on timing; drain until the partial shows.
		for snap.Partial != "hello" {
			select {
			case snap = <-c.Updates():
			case <-time.After(time.Second):
				t.Fatal("partial never forwarded")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot forwarded")
	}
}
