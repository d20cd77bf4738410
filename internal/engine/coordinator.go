package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joss/vox/internal/audio"
	"github.com/joss/vox/internal/domain"
	"github.com/joss/vox/internal/logging"
)

var ErrNoActiveEngine = errors.New("no active engine")

// Coordinator owns engine selection and swap, the microphone, and the
// graceful-stop protocol. It republishes the active engine's snapshots
// uniformly so the orchestrator never subscribes to an engine directly.
type Coordinator struct {
	log       *logging.Logger
	capture   audio.Capture
	audioCfg  audio.Config
	factories map[domain.EngineKind]Factory
	interval  time.Duration

	out chan domain.EngineSnapshot

	mu        sync.Mutex
	kind      domain.EngineKind
	active    Engine
	pending   *domain.EngineKind
	session   audio.Session
	capCancel context.CancelFunc
	pumpDone  chan struct{}
	detach    chan struct{}
	level     audio.LevelFunc
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPollInterval overrides the finalize polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.interval = d }
}

// WithLevelFunc forwards per-frame audio levels to the presentation layer.
func WithLevelFunc(fn audio.LevelFunc) Option {
	return func(c *Coordinator) { c.level = fn }
}

// NewCoordinator builds a coordinator with the persisted engine selection.
func NewCoordinator(capture audio.Capture, audioCfg audio.Config, factories map[domain.EngineKind]Factory, kind domain.EngineKind, opts ...Option) *Coordinator {
	c := &Coordinator{
		log:       logging.New("coordinator"),
		capture:   capture,
		audioCfg:  audioCfg,
		factories: factories,
		kind:      kind,
		interval:  50 * time.Millisecond,
		out:       make(chan domain.EngineSnapshot, 256),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Updates is the uniform republished snapshot stream.
func (c *Coordinator) Updates() <-chan domain.EngineSnapshot { return c.out }

// Kind returns the currently selected engine kind.
func (c *Coordinator) Kind() domain.EngineKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kind
}

// Snapshot returns the active engine's published view, or idle when no
// engine is constructed.
func (c *Coordinator) Snapshot() domain.EngineSnapshot {
	c.mu.Lock()
	e := c.active
	c.mu.Unlock()
	if e == nil {
		return domain.EngineSnapshot{State: domain.EngineIdle}
	}
	return e.Snapshot()
}

// Start applies any deferred swap, starts the selected engine (model checks
// and transport connect happen inside), then acquires the microphone and
// begins pumping frames.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	c.applySwapLocked()
	if c.active == nil {
		factory, ok := c.factories[c.kind]
		if !ok {
			c.mu.Unlock()
			return fmt.Errorf("no factory for engine %q", c.kind)
		}
		c.attachLocked(factory())
	}
	e := c.active
	c.mu.Unlock()

	if err := e.Start(ctx); err != nil {
		return err
	}

	// The capture process lives on its own context, not the caller's: the
	// device must stay open through the tail window even after the caller's
	// episode has been torn down.
	capCtx, capCancel := context.WithCancel(context.Background())
	session, err := c.capture.Start(capCtx, c.audioCfg)
	if err != nil {
		capCancel()
		e.Reset()
		return fmt.Errorf("acquire microphone: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.session = session
	c.capCancel = capCancel
	c.pumpDone = done
	level := c.level
	c.mu.Unlock()

	go audio.Pump(session, e, 4096, level, done)
	c.log.WithEngine(string(e.Kind())).Info("engine_started", nil)
	return nil
}

// StopAndFinalize runs the graceful-stop protocol:
//
//  1. keep capturing for tail, catching words clipped by key-up timing
//  2. stop capture and release the input device
//  3. signal end-of-stream to the backend
//  4. poll at a fixed interval up to finalWait for a final or an error
//     (batch engines are governed by their own transcription call instead)
//  5. promote the longest observed partial on a timeout without final;
//     downgrade an engine error to stopped when usable text was captured
//  6. release engine resources unconditionally
func (c *Coordinator) StopAndFinalize(ctx context.Context, tail, finalWait time.Duration) (string, error) {
	c.mu.Lock()
	e := c.active
	session, pumpDone := c.session, c.pumpDone
	capCancel := c.capCancel
	c.session, c.pumpDone, c.capCancel = nil, nil, nil
	c.mu.Unlock()

	if e == nil {
		if capCancel != nil {
			capCancel()
		}
		return "", ErrNoActiveEngine
	}
	defer e.Release()

	sleepCtx(ctx, tail)

	if session != nil {
		if err := session.Stop(); err != nil {
			c.log.Warn("capture_stop", nil, err)
		}
		<-pumpDone
	}
	if capCancel != nil {
		capCancel()
	}

	if err := e.EndStream(); err != nil {
		c.log.Warn("end_stream", nil, err)
	}

	unbounded := e.Kind() == domain.EngineCloudBatch
	deadline := time.Now().Add(finalWait)
	for {
		snap := e.Snapshot()
		if snap.Final != "" || snap.State == domain.EngineErrored {
			break
		}
		if unbounded {
			if snap.State == domain.EngineStopped {
				break
			}
		} else if !time.Now().Before(deadline) {
			break
		}
		if !sleepCtx(ctx, c.interval) {
			break
		}
	}

	snap := e.Snapshot()
	text := snap.Final
	if text == "" {
		text = e.longestPartial()
	}
	if text != "" {
		if snap.State == domain.EngineErrored {
			// Loss of connection after capturing content is not a
			// user-facing failure.
			c.log.Warn("engine_error_downgraded", map[string]interface{}{"message": snap.Message}, nil)
		}
		return text, nil
	}
	if snap.State == domain.EngineErrored {
		return "", errors.New(snap.Message)
	}
	return "", domain.ErrNoTranscript
}

// Reset tears down any in-progress capture and forces the engine idle. Safe
// from any state; used for cancellation and before a swap.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	e := c.active
	session, pumpDone := c.session, c.pumpDone
	capCancel := c.capCancel
	c.session, c.pumpDone, c.capCancel = nil, nil, nil
	c.mu.Unlock()

	if session != nil {
		session.Stop()
		<-pumpDone
	}
	if capCancel != nil {
		capCancel()
	}
	if e != nil {
		e.Reset()
	}
}

// Swap selects a different engine implementation. While the engine is
// listening the change is deferred and applied on the next Start, never
// mid-listen.
func (c *Coordinator) Swap(kind domain.EngineKind) error {
	if _, ok := c.factories[kind]; !ok {
		return fmt.Errorf("no factory for engine %q", kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if kind == c.kind && c.pending == nil {
		return nil
	}
	if c.active != nil {
		state := c.active.Snapshot().State
		if state == domain.EngineListening || state == domain.EngineProcessing {
			c.pending = &kind
			c.log.Info("swap_deferred", map[string]interface{}{"to": string(kind)})
			return nil
		}
	}
	c.pending = &kind
	c.applySwapLocked()
	return nil
}

func (c *Coordinator) applySwapLocked() {
	if c.pending == nil {
		return
	}
	kind := *c.pending
	c.pending = nil

	if c.active != nil {
		c.active.Reset()
		if c.detach != nil {
			close(c.detach)
			c.detach = nil
		}
		c.active = nil
	}
	c.kind = kind
	c.log.Info("engine_swapped", map[string]interface{}{"to": string(kind)})
}

// attachLocked installs a new engine and forwards its snapshots to the
// coordinator stream until detached.
func (c *Coordinator) attachLocked(e Engine) {
	c.active = e
	stop := make(chan struct{})
	c.detach = stop
	updates := e.Updates()
	go func() {
		for {
			select {
			case snap := <-updates:
				select {
				case c.out <- snap:
				default:
				}
			case <-stop:
				return
			}
		}
	}()
}

// sleepCtx sleeps for d, returning false if the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
