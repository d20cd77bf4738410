// Package audio captures microphone PCM and pumps frames into the active
// transcription engine without ever blocking the capture side.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

// Config describes how the microphone should be captured.
type Config struct {
	SampleRate int
	Channels   int
	Device     string
}

// Session is a live capture session. Read returns raw little-endian 16-bit
// PCM frames.
type Session interface {
	io.ReadCloser
	Stop() error
}

// Capture creates microphone capture sessions. The microphone has
// single-owner semantics: a session must be stopped before another starts.
type Capture interface {
	Start(ctx context.Context, cfg Config) (Session, error)
}

// FFmpegCapture records via an ffmpeg child process writing s16le PCM to its
// stdout.
type FFmpegCapture struct {
	// Binary overrides the ffmpeg executable, for tests.
	Binary string
}

func (f *FFmpegCapture) Start(ctx context.Context, cfg Config) (Session, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Device == "" {
		cfg.Device = "default"
	}
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, bin,
		"-hide_banner", "-loglevel", "error",
		"-f", "pulse", "-i", cfg.Device,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le", "-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start recorder: %w", err)
	}

	return &ffmpegSession{cmd: cmd, out: stdout}, nil
}

type ffmpegSession struct {
	cmd *exec.Cmd
	out io.ReadCloser

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.out.Read(p)
}

func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.cmd.Process != nil {
			s.stopErr = s.cmd.Process.Kill()
		}
		s.cmd.Wait()
	})
	if s.stopErr != nil && !errors.Is(s.stopErr, io.EOF) {
		return s.stopErr
	}
	return nil
}

func (s *ffmpegSession) Close() error {
	err := s.Stop()
	s.out.Close()
	return err
}
