package engine

import (
	"sync"

	"github.com/joss/vox/internal/domain"
)

// publisher holds the continuously published engine view and fans snapshots
// out to a single subscriber channel. Emission order matches mutation order;
// once a final is published no partial for the episode follows it.
type publisher struct {
	mu      sync.Mutex
	state   domain.EngineStateKind
	message string
	tracker regressionTracker
	final   string
	updates chan domain.EngineSnapshot
}

func newPublisher() *publisher {
	return &publisher{
		state:   domain.EngineIdle,
		updates: make(chan domain.EngineSnapshot, 256),
	}
}

func (p *publisher) Updates() <-chan domain.EngineSnapshot { return p.updates }

func (p *publisher) Snapshot() domain.EngineSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *publisher) snapshotLocked() domain.EngineSnapshot {
	return domain.EngineSnapshot{
		State:   p.state,
		Message: p.message,
		Partial: p.tracker.displayed,
		Final:   p.final,
	}
}

func (p *publisher) setState(state domain.EngineStateKind, message string) {
	p.mu.Lock()
	p.state = state
	p.message = message
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.emit(snap)
}

// setPartial runs the raw partial through the anti-regression tracker and
// publishes only when the displayed value actually changes.
func (p *publisher) setPartial(raw string) {
	p.mu.Lock()
	if p.final != "" {
		p.mu.Unlock()
		return
	}
	_, changed := p.tracker.observe(raw)
	snap := p.snapshotLocked()
	p.mu.Unlock()
	if changed {
		p.emit(snap)
	}
}

// setFinal publishes the final text at most once per episode.
func (p *publisher) setFinal(text string) {
	p.mu.Lock()
	if p.final != "" || text == "" {
		p.mu.Unlock()
		return
	}
	p.final = text
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.emit(snap)
}

// longestPartial returns the promotion candidate for a timed-out finalize.
func (p *publisher) longestPartial() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracker.best()
}

func (p *publisher) reset() {
	p.mu.Lock()
	p.state = domain.EngineIdle
	p.message = ""
	p.final = ""
	p.tracker.reset()
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.emit(snap)
}

// emit never blocks; under a stalled subscriber the newest snapshot is
// dropped, matching the lossy mirror semantics of the presentation layer.
func (p *publisher) emit(snap domain.EngineSnapshot) {
	select {
	case p.updates <- snap:
	default:
	}
}
