package engine

import (
	"context"
	"encoding/binary"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/vox/internal/domain"
)

type batchMockClient struct {
	status  int
	body    string
	lastReq *http.Request
}

func (m *batchMockClient) Do(req *http.Request) (*http.Response, error) {
	m.lastReq = req
	return &http.Response{
		StatusCode: m.status,
		Body:       io.NopCloser(strings.NewReader(m.body)),
		Header:     make(http.Header),
	}, nil
}

func TestBatchTranscribesBufferedAudio(t *testing.T) {
	client := &batchMockClient{status: http.StatusOK, body: `{"text":" hello from whisper "}`}
	e := NewBatch(BatchConfig{APIKey: "key", Client: client, Language: "en"})

	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Feed(pcmFrame(160)))
	require.NoError(t, e.Feed(pcmFrame(160)))
	require.NoError(t, e.EndStream())

	snap := waitState(t, e, domain.EngineStopped)
	assert.Equal(t, "hello from whisper", snap.Final, "response text is trimmed")

	// The upload is multipart with a WAV file and the model field.
	mediaType := client.lastReq.Header.Get("Content-Type")
	require.Contains(t, mediaType, "multipart/form-data")
	assert.Equal(t, "Bearer key", client.lastReq.Header.Get("Authorization"))
	assert.Contains(t, client.lastReq.URL.String(), "/audio/transcriptions")

	_, params, err := mime.ParseMediaType(mediaType)
	require.NoError(t, err)
	mr := multipart.NewReader(client.lastReq.Body, params["boundary"])
	form, err := mr.ReadForm(10 << 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"whisper-1"}, form.Value["model"])
	assert.Equal(t, []string{"en"}, form.Value["language"])
	require.Len(t, form.File["file"], 1)
}

func TestBatchProcessingStateBetweenStopAndResult(t *testing.T) {
	client := &batchMockClient{status: http.StatusOK, body: `{"text":"ok"}`}
	e := NewBatch(BatchConfig{APIKey: "key", Client: client})

	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Feed(pcmFrame(16)))
	require.NoError(t, e.EndStream())

	// Processing is observable at least transiently; the terminal state is
	// stopped with the final set.
	snap := waitState(t, e, domain.EngineStopped)
	assert.NotEmpty(t, snap.Final)
}

func TestBatchAPIErrorSurfacesAsEngineError(t *testing.T) {
	client := &batchMockClient{status: http.StatusBadRequest, body: `{"error":"bad audio"}`}
	e := NewBatch(BatchConfig{APIKey: "key", Client: client})

	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Feed(pcmFrame(16)))
	require.NoError(t, e.EndStream())

	snap := waitState(t, e, domain.EngineErrored)
	assert.Contains(t, snap.Message, "400")
}

func TestBatchWithoutKeyFailsStart(t *testing.T) {
	e := NewBatch(BatchConfig{Client: &batchMockClient{}})
	assert.Error(t, e.Start(context.Background()))
}

func TestBatchEmptyAudioErrors(t *testing.T) {
	client := &batchMockClient{status: http.StatusOK, body: `{"text":"x"}`}
	e := NewBatch(BatchConfig{APIKey: "key", Client: client})

	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.EndStream())

	snap := waitState(t, e, domain.EngineErrored)
	assert.Contains(t, snap.Message, "no audio")
	assert.Nil(t, client.lastReq, "no request without audio")
}

func TestBatchNoPartials(t *testing.T) {
	client := &batchMockClient{status: http.StatusOK, body: `{"text":"ok"}`}
	e := NewBatch(BatchConfig{APIKey: "key", Client: client})

	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Feed(pcmFrame(16)))
	assert.Empty(t, e.Snapshot().Partial)
	assert.Empty(t, e.longestPartial())
	e.Reset()
}

// blockingClient hangs until the request context is cancelled, like a dead
// transcription server.
type blockingClient struct{}

func (blockingClient) Do(req *http.Request) (*http.Response, error) {
	<-req.Context().Done()
	return nil, req.Context().Err()
}

func TestBatchReleaseAbortsInFlightRequest(t *testing.T) {
	e := NewBatch(BatchConfig{APIKey: "key", Client: blockingClient{}})

	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Feed(pcmFrame(16)))
	require.NoError(t, e.EndStream())

	released := make(chan struct{})
	go func() {
		e.Release()
		close(released)
	}()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("release stuck behind the in-flight transcription request")
	}
}

func TestBatchDefaultClientHasTimeout(t *testing.T) {
	e := NewBatch(BatchConfig{APIKey: "key"}).(*batch)
	client, ok := e.cfg.Client.(*http.Client)
	require.True(t, ok)
	assert.Greater(t, client.Timeout, time.Duration(0))
}

func TestWavEncodeHeader(t *testing.T) {
	pcm := pcmFrame(100)
	wav := wavEncode(pcm, 16000)

	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
	assert.Equal(t, len(pcm)+44, len(wav))
}
