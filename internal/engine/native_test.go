package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/vox/internal/domain"
)

// scriptRecognizer replays canned results per segment.
type scriptRecognizer struct {
	segments [][]RecognizerResult
	flush    []RecognizerResult
	calls    int
	closed   bool
}

func (r *scriptRecognizer) TranscribeSegment(samples []float32) ([]RecognizerResult, error) {
	if r.calls < len(r.segments) {
		out := r.segments[r.calls]
		r.calls++
		return out, nil
	}
	r.calls++
	return nil, nil
}

func (r *scriptRecognizer) Flush() ([]RecognizerResult, error) { return r.flush, nil }
func (r *scriptRecognizer) Close() error                       { r.closed = true; return nil }

func nativeTestConfig(t *testing.T, rec Recognizer) NativeConfig {
	t.Helper()
	model := filepath.Join(t.TempDir(), "native-en-US.bin")
	require.NoError(t, os.WriteFile(model, []byte("model"), 0644))
	return NativeConfig{
		Locale:    "en-US",
		ModelPath: model,
		OpenRecognizer: func(modelPath, locale string) (Recognizer, error) {
			return rec, nil
		},
	}
}

func pcmFrame(n int) []byte {
	frame := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(int16(1000)))
	}
	return frame
}

func waitState(t *testing.T, e Engine, want domain.EngineStateKind) domain.EngineSnapshot {
	t.Helper()
	var snap domain.EngineSnapshot
	require.Eventually(t, func() bool {
		snap = e.Snapshot()
		return snap.State == want
	}, time.Second, 2*time.Millisecond, "state never reached %s (last %+v)", want, snap)
	return snap
}

func TestNativeUnsupportedLocale(t *testing.T) {
	e := NewNative(NativeConfig{Locale: "xx-XX", ModelPath: "/nonexistent"})
	err := e.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrLocaleUnsupported)
}

func TestNativeMissingModelWithoutInstaller(t *testing.T) {
	e := NewNative(NativeConfig{Locale: "en-US", ModelPath: filepath.Join(t.TempDir(), "absent.bin")})
	err := e.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrModelNotInstalled)
}

func TestNativeInstallerRunsOnMissingModel(t *testing.T) {
	model := filepath.Join(t.TempDir(), "native-en-US.bin")
	installed := false
	e := NewNative(NativeConfig{
		Locale:    "en-US",
		ModelPath: model,
		Install: func(ctx context.Context, path string) error {
			installed = true
			return os.WriteFile(path, []byte("model"), 0644)
		},
		OpenRecognizer: openStubRecognizer,
	})

	require.NoError(t, e.Start(context.Background()))
	assert.True(t, installed)
	e.Reset()
}

func TestNativeInstallerFailureIsModelNotInstalled(t *testing.T) {
	e := NewNative(NativeConfig{
		Locale:    "en-US",
		ModelPath: filepath.Join(t.TempDir(), "absent.bin"),
		Install: func(ctx context.Context, path string) error {
			return errors.New("download failed")
		},
	})
	err := e.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrModelNotInstalled)
}

func TestNativeStreamsPartialsAndFinal(t *testing.T) {
	rec := &scriptRecognizer{
		segments: [][]RecognizerResult{
			{{Text: "hel"}},
			{{Text: "hello wor"}},
		},
		flush: []RecognizerResult{{Text: "hello world", Final: true}},
	}
	e := NewNative(nativeTestConfig(t, rec))

	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Feed(pcmFrame(160)))
	require.NoError(t, e.Feed(pcmFrame(160)))
	require.NoError(t, e.EndStream())

	snap := waitState(t, e, domain.EngineStopped)
	assert.Equal(t, "hello world", snap.Final)
	e.Release()
	assert.True(t, rec.closed)
}

func TestNativeOddFrameLengthErrors(t *testing.T) {
	rec := &scriptRecognizer{}
	e := NewNative(nativeTestConfig(t, rec))

	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Feed([]byte{0x01, 0x02, 0x03})) // odd byte count

	snap := waitState(t, e, domain.EngineErrored)
	assert.Equal(t, domain.ErrAudioFormatConversion.Error(), snap.Message)
	e.Reset()
}

func TestNativeBusyWhileListening(t *testing.T) {
	e := NewNative(nativeTestConfig(t, &scriptRecognizer{}))
	require.NoError(t, e.Start(context.Background()))
	assert.ErrorIs(t, e.Start(context.Background()), domain.ErrEngineBusy)
	e.Reset()
}

func TestNativeRestartableAfterRelease(t *testing.T) {
	cfgRec := &scriptRecognizer{flush: []RecognizerResult{{Text: "first", Final: true}}}
	model := filepath.Join(t.TempDir(), "native-en-US.bin")
	require.NoError(t, os.WriteFile(model, []byte("model"), 0644))
	opens := 0
	e := NewNative(NativeConfig{
		Locale:    "en-US",
		ModelPath: model,
		OpenRecognizer: func(modelPath, locale string) (Recognizer, error) {
			opens++
			if opens == 1 {
				return cfgRec, nil
			}
			return &scriptRecognizer{}, nil
		},
	})

	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.EndStream())
	waitState(t, e, domain.EngineStopped)
	e.Release()

	// Release keeps the text but leaves the engine restartable.
	assert.Equal(t, "first", e.Snapshot().Final)
	require.NoError(t, e.Start(context.Background()))
	assert.Empty(t, e.Snapshot().Final, "a new episode starts clean")
	e.Reset()
}

func TestPcm16ToFloat32(t *testing.T) {
	frame := make([]byte, 4)
	max, min := int16(32767), int16(-32768)
	binary.LittleEndian.PutUint16(frame[0:], uint16(max))
	binary.LittleEndian.PutUint16(frame[2:], uint16(min))

	samples, err := pcm16ToFloat32(frame)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.InDelta(t, 1.0, samples[0], 0.001)
	assert.InDelta(t, -1.0, samples[1], 0.001)

	_, err = pcm16ToFloat32([]byte{0x01})
	assert.ErrorIs(t, err, domain.ErrAudioFormatConversion)
}
