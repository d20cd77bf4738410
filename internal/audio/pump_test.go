package audio

import (
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunkReader struct {
	chunks [][]byte
	pos    int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.chunks) {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[r.pos])
	r.pos++
	return n, nil
}

func (r *chunkReader) Stop() error  { return nil }
func (r *chunkReader) Close() error { return nil }

type collectSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *collectSink) Feed(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func TestPumpForwardsFramesAndCloses(t *testing.T) {
	session := &chunkReader{chunks: [][]byte{
		{1, 2, 3, 4},
		{5, 6},
	}}
	sink := &collectSink{}
	done := make(chan struct{})

	var levels []float64
	go Pump(session, sink, 4096, func(l float64) { levels = append(levels, l) }, done)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump never finished")
	}

	require.Len(t, sink.frames, 2)
	assert.Equal(t, []byte{1, 2, 3, 4}, sink.frames[0])
	assert.Equal(t, []byte{5, 6}, sink.frames[1])
	assert.Len(t, levels, 2)
}

func TestPumpCopiesFrames(t *testing.T) {
	// The pump must hand the sink its own copy; the read buffer is reused.
	session := &chunkReader{chunks: [][]byte{{1, 1}, {2, 2}}}
	sink := &collectSink{}
	done := make(chan struct{})

	go Pump(session, sink, 4096, nil, done)
	<-done

	assert.Equal(t, []byte{1, 1}, sink.frames[0], "first frame must not alias the second read")
}

func TestRMS16(t *testing.T) {
	silence := make([]byte, 8)
	assert.Zero(t, rms16(silence))

	loud := make([]byte, 4)
	max, min := int16(32767), int16(-32768)
	binary.LittleEndian.PutUint16(loud[0:], uint16(max))
	binary.LittleEndian.PutUint16(loud[2:], uint16(min))
	level := rms16(loud)
	assert.InDelta(t, 1.0, level, 0.01)

	assert.Zero(t, rms16(nil))
	assert.Zero(t, rms16([]byte{0x01}), "odd-length frames rate as silence")
}
