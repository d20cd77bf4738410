package audio

import (
	"encoding/binary"
	"math"
)

// FrameSink receives captured PCM frames. Feed must not block; frames may be
// dropped under backpressure.
type FrameSink interface {
	Feed(frame []byte) error
}

// LevelFunc receives the RMS level (0..1) of each pumped frame. May be nil.
type LevelFunc func(level float64)

// Pump reads frames from the capture session into the sink until the session
// ends. It runs on its own goroutine and never waits on the coordination
// side; the sink hand-off is non-blocking by contract.
func Pump(session Session, sink FrameSink, chunkSize int, level LevelFunc, done chan<- struct{}) {
	defer close(done)

	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := session.Read(buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			if level != nil {
				level(rms16(frame))
			}
			if sinkErr := sink.Feed(frame); sinkErr != nil {
				return
			}
		}
		if err != nil {
			// EOF is the normal stop path.
			return
		}
	}
}

// rms16 computes the root-mean-square level of little-endian 16-bit PCM,
// normalized to 0..1.
func rms16(frame []byte) float64 {
	if len(frame) < 2 {
		return 0
	}
	var sum float64
	count := len(frame) / 2
	for i := 0; i < count; i++ {
		s := int16(binary.LittleEndian.Uint16(frame[i*2:]))
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(count))
}
