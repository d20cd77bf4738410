// Package orchestrator ties the pipeline together: it reacts to trigger
// edges, drives the engine coordinator, requests screenshots, runs the
// insertion pipeline, archives to history and manages follow-up turns.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joss/vox/internal/domain"
	"github.com/joss/vox/internal/history"
	"github.com/joss/vox/internal/logging"
	"github.com/joss/vox/internal/permission"
	"github.com/joss/vox/internal/reason"
)

var (
	ErrNotListening = errors.New("no listening session to end")
	ErrBadPhase     = errors.New("operation not valid in current phase")
	ErrSurfaceGone  = errors.New("response surface is no longer open")
)

// Sink mirrors orchestrator state to the presentation layer. Callbacks are
// invoked from orchestrator goroutines and must not block.
type Sink interface {
	PhaseChanged(phase domain.SessionPhase)
	PartialText(text string)
	FinalText(text string)
	DraftText(text string)
	TurnsChanged(turns []domain.Turn)
	Delivered(res domain.DeliveryResult)
	AudioLevel(level float64)
	ErrorMessage(msg string)
}

// Coordinator is the engine-facing dependency, implemented by
// engine.Coordinator.
type Coordinator interface {
	Start(ctx context.Context) error
	StopAndFinalize(ctx context.Context, tail, finalWait time.Duration) (string, error)
	Reset()
	Updates() <-chan domain.EngineSnapshot
}

// Inserter delivers text into the target application.
type Inserter interface {
	Deliver(ctx context.Context, text string, target domain.AppContext) domain.DeliveryResult
}

// Archiver is the history-facing dependency.
type Archiver interface {
	Archive(rec domain.Session) error
	AppendTurn(id string, turn domain.Turn) error
	UpdateAssistantTurn(id, content string) error
}

// Screenshots captures the target window.
type Screenshots interface {
	CaptureWindow(ctx context.Context, app domain.AppContext) (string, error)
}

// Foreground snapshots the frontmost application.
type Foreground interface {
	Foreground(ctx context.Context) (domain.AppContext, error)
}

// Config carries the stop-protocol tuning. The ordering of the stop steps
// is the contract; the durations are empirical.
type Config struct {
	TailDuration      time.Duration
	FinalWaitDeadline time.Duration
}

func DefaultConfig() Config {
	return Config{
		TailDuration:      300 * time.Millisecond,
		FinalWaitDeadline: 2 * time.Second,
	}
}

// Orchestrator is the session state machine. All session and phase mutation
// is serialized under one mutex; suspending work runs between lock windows
// and commits only if its episode is still current.
type Orchestrator struct {
	coord    Coordinator
	inserter Inserter
	store    Archiver
	shots    Screenshots
	fg       Foreground
	perms    permission.Service
	backend  reason.Backend
	sink     Sink
	cfg      Config
	log      *logging.Logger

	mu          sync.Mutex
	phase       domain.SessionPhase
	session     *domain.Session
	archived    bool
	surfaceOpen bool
	followUp    bool
	source      string
	episode     int
	epCtx       context.Context
	cancelEp    context.CancelFunc
	cancelMir   context.CancelFunc
	mirrorDone  chan struct{}
}

func New(coord Coordinator, inserter Inserter, store Archiver, shots Screenshots, fg Foreground, perms permission.Service, backend reason.Backend, sink Sink, cfg Config) *Orchestrator {
	if cfg.TailDuration <= 0 {
		cfg = DefaultConfig()
	}
	return &Orchestrator{
		coord:    coord,
		inserter: inserter,
		store:    store,
		shots:    shots,
		fg:       fg,
		perms:    perms,
		backend:  backend,
		sink:     sink,
		cfg:      cfg,
		log:      logging.New("orchestrator"),
		phase:    domain.PhaseIdle,
	}
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() domain.SessionPhase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Session returns a copy of the live session, or nil.
func (o *Orchestrator) Session() *domain.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	cp := *o.session
	cp.Turns = append([]domain.Turn(nil), o.session.Turns...)
	return &cp
}

// Begin starts a new session. If a session is in flight it is interrupted
// first: archived with endReason interrupted and fully reset, so a new
// thought can always start. The capture permission is checked synchronously
// before any other side effect.
func (o *Orchestrator) Begin(ctx context.Context, source string) error {
	o.mu.Lock()
	if o.phase != domain.PhaseIdle {
		o.interruptLocked()
	}

	if !o.perms.Granted(permission.Capture) {
		o.phase = domain.PhaseError
		o.mu.Unlock()
		o.perms.Request(permission.Capture)
		o.sink.PhaseChanged(domain.PhaseError)
		o.sink.ErrorMessage(domain.ErrCapturePermissionMissing.Error())
		return domain.ErrCapturePermissionMissing
	}

	appCtx := domain.AppContext{}
	if o.fg != nil {
		snapCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		if app, err := o.fg.Foreground(snapCtx); err == nil {
			appCtx = app
		}
		cancel()
	}

	o.episode++
	ep := o.episode
	epCtx, cancel := context.WithCancel(context.Background())
	o.epCtx, o.cancelEp = epCtx, cancel
	o.session = &domain.Session{
		ID:         uuid.NewString(),
		StartedAt:  time.Now(),
		AppContext: appCtx,
	}
	o.archived = false
	o.surfaceOpen = true
	o.followUp = false
	o.source = source
	o.phase = domain.PhaseListening
	sessionID := o.session.ID
	o.mu.Unlock()

	o.log.WithSession(sessionID).Info("session_begin", map[string]interface{}{"app": appCtx.Name})
	o.sink.PhaseChanged(domain.PhaseListening)
	o.sink.PartialText("")

	o.startMirror(ep)

	// Screenshot and engine start are fire and forget; the transition does
	// not block on either. Both run on the episode context, which survives
	// End so the capture device stays open through the stop tail; it is
	// cancelled only when the session itself is torn down.
	go o.captureScreenshot(ep, epCtx, appCtx)
	go func() {
		if err := o.coord.Start(epCtx); err != nil {
			o.failEpisode(ep, err.Error())
		}
	}()
	return nil
}

// End finishes the listening episode: graceful stop, insertion into the app
// context captured at begin, archive, then review.
func (o *Orchestrator) End(ctx context.Context) error {
	o.mu.Lock()
	if o.phase != domain.PhaseListening {
		o.mu.Unlock()
		return ErrNotListening
	}
	ep := o.episode
	target := o.session.AppContext
	o.phase = domain.PhaseReview
	o.stopMirrorLocked()
	o.mu.Unlock()

	o.sink.PhaseChanged(domain.PhaseReview)

	text, err := o.coord.StopAndFinalize(ctx, o.cfg.TailDuration, o.cfg.FinalWaitDeadline)

	o.mu.Lock()
	if o.episode != ep {
		// A newer Begin interrupted us; it owns the state now.
		o.mu.Unlock()
		return nil
	}
	if err != nil {
		if errors.Is(err, domain.ErrNoTranscript) && o.session != nil && o.session.ScreenshotRef != "" {
			// Nothing was said but a screenshot exists; keep the
			// session so a follow-up can ask about the screen.
			o.archiveLocked(domain.EndCompleted)
			o.mu.Unlock()
			o.sink.FinalText("")
			o.setPhase(domain.PhaseReview)
			return nil
		}
		o.phase = domain.PhaseError
		o.resetSessionLocked()
		o.mu.Unlock()
		o.sink.PhaseChanged(domain.PhaseError)
		o.sink.ErrorMessage(err.Error())
		return err
	}

	o.session.Turns = append(o.session.Turns, domain.Turn{
		ID:        history.NewTurnID(),
		Role:      domain.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	})
	turns := append([]domain.Turn(nil), o.session.Turns...)
	o.mu.Unlock()

	o.sink.FinalText(text)
	o.sink.TurnsChanged(turns)

	// A failed delivery degrades to clipboard-only; the session still
	// archives as completed either way.
	res := o.inserter.Deliver(ctx, text, target)
	o.sink.Delivered(res)

	o.mu.Lock()
	if o.episode == ep {
		o.archiveLocked(domain.EndCompleted)
	}
	o.mu.Unlock()

	o.setPhase(domain.PhaseReview)
	return nil
}

// Cancel archives the session if it has content, resets the engine and
// returns to idle. Always safe to call.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	o.stopMirrorLocked()
	o.archiveLocked(domain.EndCancelled)
	o.resetSessionLocked()
	o.phase = domain.PhaseIdle
	o.mu.Unlock()

	o.coord.Reset()
	o.sink.PhaseChanged(domain.PhaseIdle)
}

// SendToAI appends a user turn plus a pending assistant placeholder, calls
// the reasoning backend and resolves the placeholder exactly once. On
// failure the placeholder is removed and the prompt can be retried.
func (o *Orchestrator) SendToAI(ctx context.Context, prompt string) error {
	o.mu.Lock()
	if o.session == nil || (o.phase != domain.PhaseReview && o.phase != domain.PhaseResponse) {
		o.mu.Unlock()
		return ErrBadPhase
	}
	ep := o.episode
	sessionID := o.session.ID
	shot := o.session.ScreenshotRef
	historyTurns := append([]domain.Turn(nil), o.session.Turns...)

	userTurn := domain.Turn{
		ID:        history.NewTurnID(),
		Role:      domain.RoleUser,
		Content:   prompt,
		Timestamp: time.Now(),
	}
	placeholder := domain.Turn{
		ID:        history.NewTurnID(),
		Role:      domain.RoleAssistant,
		Pending:   true,
		Timestamp: time.Now(),
	}
	o.session.Turns = append(o.session.Turns, userTurn, placeholder)
	turns := append([]domain.Turn(nil), o.session.Turns...)
	archived := o.archived
	o.phase = domain.PhaseProcessing
	o.mu.Unlock()

	o.sink.TurnsChanged(turns)
	o.sink.PhaseChanged(domain.PhaseProcessing)

	if archived {
		if err := o.store.AppendTurn(sessionID, userTurn); err != nil {
			o.log.Warn("append_turn", map[string]interface{}{"id": sessionID}, err)
		}
	}

	// The screenshot is attached only on the first exchange; later turns
	// rely on the conversation history.
	shotForCall := shot
	for _, t := range historyTurns {
		if t.Role == domain.RoleAssistant && !t.Pending {
			shotForCall = ""
			break
		}
	}

	answer, err := o.backend.Send(ctx, reason.Request{
		Prompt:         prompt,
		ScreenshotPath: shotForCall,
		History:        historyTurns,
	}, nil)

	o.mu.Lock()
	if o.episode != ep || o.session == nil {
		o.mu.Unlock()
		return nil
	}
	if err != nil {
		o.removePlaceholderLocked(placeholder.ID)
		turns := append([]domain.Turn(nil), o.session.Turns...)
		o.phase = domain.PhaseError
		o.mu.Unlock()
		o.sink.TurnsChanged(turns)
		o.sink.PhaseChanged(domain.PhaseError)
		o.sink.ErrorMessage(err.Error())
		return err
	}

	for i := range o.session.Turns {
		if o.session.Turns[i].ID == placeholder.ID {
			o.session.Turns[i].Content = answer
			o.session.Turns[i].Pending = false
			o.session.Turns[i].Timestamp = time.Now()
			break
		}
	}
	o.session.EndedAt = time.Now()
	turns = append([]domain.Turn(nil), o.session.Turns...)
	archived = o.archived
	o.phase = domain.PhaseResponse
	o.mu.Unlock()

	if archived {
		if err := o.store.UpdateAssistantTurn(sessionID, answer); err != nil {
			o.log.Warn("update_assistant_turn", map[string]interface{}{"id": sessionID}, err)
		}
	}

	o.sink.TurnsChanged(turns)
	o.sink.PhaseChanged(domain.PhaseResponse)
	return nil
}

// BeginFollowUp starts a nested listening episode from the response phase.
// Text streams into the draft input field instead of toward insertion. Once
// the surface is dismissed, Begin must be used for a fresh session.
func (o *Orchestrator) BeginFollowUp(ctx context.Context) error {
	o.mu.Lock()
	if o.phase != domain.PhaseResponse || o.session == nil {
		o.mu.Unlock()
		return ErrBadPhase
	}
	if !o.surfaceOpen {
		o.mu.Unlock()
		return ErrSurfaceGone
	}
	o.followUp = true
	ep := o.episode
	epCtx := o.epCtx
	if epCtx == nil {
		// Continued sessions have no live episode context.
		epCtx, o.cancelEp = context.WithCancel(context.Background())
		o.epCtx = epCtx
	}
	o.mu.Unlock()

	o.sink.DraftText("")
	o.startMirror(ep)

	if err := o.coord.Start(epCtx); err != nil {
		o.mu.Lock()
		o.followUp = false
		o.stopMirrorLocked()
		o.mu.Unlock()
		o.sink.ErrorMessage(err.Error())
		return err
	}
	return nil
}

// EndFollowUp finalizes the nested episode and feeds the result to SendToAI.
func (o *Orchestrator) EndFollowUp(ctx context.Context) error {
	o.mu.Lock()
	if !o.followUp {
		o.mu.Unlock()
		return ErrBadPhase
	}
	o.followUp = false
	o.stopMirrorLocked()
	o.mu.Unlock()

	text, err := o.coord.StopAndFinalize(ctx, o.cfg.TailDuration, o.cfg.FinalWaitDeadline)
	if err != nil {
		if errors.Is(err, domain.ErrNoTranscript) {
			o.sink.DraftText("")
			return nil
		}
		o.sink.ErrorMessage(err.Error())
		return err
	}

	o.sink.DraftText(text)
	return o.SendToAI(ctx, text)
}

// Dismiss closes the review/response surface. The session is archived by
// then; later triggers start a brand-new session.
func (o *Orchestrator) Dismiss() {
	o.mu.Lock()
	o.stopMirrorLocked()
	o.archiveLocked(domain.EndCompleted)
	o.resetSessionLocked()
	o.surfaceOpen = false
	o.phase = domain.PhaseIdle
	o.mu.Unlock()

	o.coord.Reset()
	o.sink.PhaseChanged(domain.PhaseIdle)
}

// ContinueSession loads an archived record back into live state, marked as
// already saved, and presents it in the response phase. This is the only
// path importing history into the orchestrator.
func (o *Orchestrator) ContinueSession(rec domain.Session) {
	o.mu.Lock()
	if o.phase != domain.PhaseIdle {
		o.interruptLocked()
	}
	o.episode++
	cp := rec
	cp.Turns = append([]domain.Turn(nil), rec.Turns...)
	o.session = &cp
	o.archived = true
	o.surfaceOpen = true
	o.followUp = false
	o.phase = domain.PhaseResponse
	turns := append([]domain.Turn(nil), cp.Turns...)
	o.mu.Unlock()

	o.sink.TurnsChanged(turns)
	o.sink.PhaseChanged(domain.PhaseResponse)
}

// TriggerBegan handles a trigger press. A began from the source already
// listening is a no-op; in the response phase with the surface open it
// starts a follow-up instead of a new session.
func (o *Orchestrator) TriggerBegan(ctx context.Context, source string) error {
	o.mu.Lock()
	phase, active, open, follow := o.phase, o.source, o.surfaceOpen, o.followUp
	hasSession := o.session != nil
	if phase == domain.PhaseResponse && open && hasSession && !follow {
		o.source = source
	}
	o.mu.Unlock()

	if follow || (phase == domain.PhaseListening && source == active) {
		return nil
	}
	if phase == domain.PhaseResponse && open && hasSession {
		return o.BeginFollowUp(ctx)
	}
	return o.Begin(ctx, source)
}

// TriggerEnded ignores releases that don't match the source that began the
// episode, so overlapping triggers cannot cut a session short.
func (o *Orchestrator) TriggerEnded(ctx context.Context, source string) error {
	o.mu.Lock()
	active, follow, phase := o.source, o.followUp, o.phase
	o.mu.Unlock()

	if source != active {
		return nil
	}
	if follow {
		return o.EndFollowUp(ctx)
	}
	if phase == domain.PhaseListening {
		return o.End(ctx)
	}
	return nil
}

// AudioLevel forwards capture levels while a listening episode is active.
func (o *Orchestrator) AudioLevel(level float64) {
	o.mu.Lock()
	active := o.phase == domain.PhaseListening || o.followUp
	o.mu.Unlock()
	if active {
		o.sink.AudioLevel(level)
	}
}

// interruptLocked archives the in-flight session as interrupted and resets
// to idle so Begin can proceed. There is no "begin ignored" dead state.
func (o *Orchestrator) interruptLocked() {
	o.stopMirrorLocked()
	o.archiveLocked(domain.EndInterrupted)
	o.resetSessionLocked()
	o.phase = domain.PhaseIdle
	o.coord.Reset()
}

// archiveLocked persists the session at most once, skipping sessions with
// neither a non-empty turn nor a screenshot.
func (o *Orchestrator) archiveLocked(reason domain.EndReason) {
	if o.session == nil || o.archived || !o.session.HasContent() {
		return
	}
	o.archived = true
	rec := *o.session
	rec.Turns = dropPending(rec.Turns)
	rec.EndReason = reason
	if rec.EndedAt.IsZero() {
		rec.EndedAt = time.Now()
	}
	if err := o.store.Archive(rec); err != nil {
		o.log.Error("archive", map[string]interface{}{"id": rec.ID}, err)
	}
}

func dropPending(turns []domain.Turn) []domain.Turn {
	out := make([]domain.Turn, 0, len(turns))
	for _, t := range turns {
		if !t.Pending {
			out = append(out, t)
		}
	}
	return out
}

func (o *Orchestrator) resetSessionLocked() {
	if o.cancelEp != nil {
		o.cancelEp()
		o.cancelEp = nil
	}
	o.epCtx = nil
	o.session = nil
	o.archived = false
	o.followUp = false
	o.source = ""
	o.episode++
}

func (o *Orchestrator) removePlaceholderLocked(id string) {
	turns := o.session.Turns[:0]
	for _, t := range o.session.Turns {
		if t.ID != id {
			turns = append(turns, t)
		}
	}
	o.session.Turns = turns
}

func (o *Orchestrator) setPhase(phase domain.SessionPhase) {
	o.mu.Lock()
	o.phase = phase
	o.mu.Unlock()
	o.sink.PhaseChanged(phase)
}

func (o *Orchestrator) failEpisode(ep int, msg string) {
	o.mu.Lock()
	if o.episode != ep || o.phase != domain.PhaseListening {
		o.mu.Unlock()
		return
	}
	o.phase = domain.PhaseError
	o.stopMirrorLocked()
	o.mu.Unlock()
	o.sink.PhaseChanged(domain.PhaseError)
	o.sink.ErrorMessage(msg)
}

// captureScreenshot runs off the session context and commits its result only
// if the episode is still current.
func (o *Orchestrator) captureScreenshot(ep int, ctx context.Context, app domain.AppContext) {
	if o.shots == nil {
		return
	}
	path, err := o.shots.CaptureWindow(ctx, app)
	if err != nil {
		o.log.Warn("screenshot", nil, err)
		return
	}
	o.mu.Lock()
	if o.episode == ep && o.session != nil && o.session.ScreenshotRef == "" {
		o.session.ScreenshotRef = path
	}
	o.mu.Unlock()
}

// startMirror forwards engine snapshots to the sink for one episode. The
// previous mirror is always stopped first so stale partials never leak into
// a new episode's UI state. The mirror runs on its own context: stopping it
// must not touch the episode context the capture process hangs off.
func (o *Orchestrator) startMirror(ep int) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.mu.Lock()
	o.cancelMir = cancel
	o.mirrorDone = done
	o.mu.Unlock()

	go func() {
		defer close(done)
		updates := o.coord.Updates()
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-updates:
				o.mu.Lock()
				stale := o.episode != ep
				follow := o.followUp
				o.mu.Unlock()
				if stale {
					return
				}
				if snap.Partial != "" {
					if follow {
						o.sink.DraftText(snap.Partial)
					} else {
						o.sink.PartialText(snap.Partial)
					}
				}
			}
		}
	}()
}

// stopMirrorLocked cancels the partial mirror and waits for it to drain, so
// no update from the old subscription lands after return. The episode
// context is left alone; the capture lifetime belongs to the coordinator's
// stop protocol.
func (o *Orchestrator) stopMirrorLocked() {
	if o.cancelMir != nil {
		o.cancelMir()
		o.cancelMir = nil
	}
	if o.mirrorDone != nil {
		done := o.mirrorDone
		o.mirrorDone = nil
		o.mu.Unlock()
		<-done
		o.mu.Lock()
	}
}
