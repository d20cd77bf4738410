// Package insert delivers finalized text into the application that had input
// focus when the session began, trying strategies in fixed priority order
// with the clipboard as the universal safety net.
package insert

import (
	"context"
	"time"

	"github.com/joss/vox/internal/config"
	"github.com/joss/vox/internal/domain"
	"github.com/joss/vox/internal/logging"
	"github.com/joss/vox/internal/permission"
)

// Focus observes and controls which application is foreground.
type Focus interface {
	Foreground(ctx context.Context) (domain.AppContext, error)
	Activate(ctx context.Context, app domain.AppContext) error
	// InputReady reports whether a focused input element can be located in
	// the target application.
	InputReady(ctx context.Context, app domain.AppContext) bool
}

// Clipboard writes text into the shared system clipboard. Last writer wins;
// prior contents are not restored.
type Clipboard interface {
	Set(text string) error
}

// Injector performs the three insertion mechanisms.
type Injector interface {
	// ReplaceSelection programmatically replaces the focused element's
	// selected or caret text. Fastest and least disruptive; fails when the
	// target exposes no compatible focused element.
	ReplaceSelection(ctx context.Context, app domain.AppContext, text string) error
	// InvokePaste triggers the target application's own paste command.
	InvokePaste(ctx context.Context, app domain.AppContext) error
	// SyntheticPaste injects a global paste keystroke. Universal but
	// visibly flashes focus, so it is the last resort.
	SyntheticPaste(ctx context.Context) error
}

// Timing holds the settle-wait tuning. The asymmetry is load-bearing:
// waiting when already focused adds latency to every dictation, while
// under-waiting after activating another process causes silent failures.
type Timing struct {
	SettleFocused   time.Duration
	SettleActivated time.Duration
	PollInterval    time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		SettleFocused:   150 * time.Millisecond,
		SettleActivated: 900 * time.Millisecond,
		PollInterval:    30 * time.Millisecond,
	}
}

// Pipeline is stateless per call; its only state is injected collaborators.
type Pipeline struct {
	perms     permission.Service
	focus     Focus
	clip      Clipboard
	inj       Injector
	overrides []config.AppOverride
	timing    Timing
	log       *logging.Logger
}

func NewPipeline(perms permission.Service, focus Focus, clip Clipboard, inj Injector, overrides []config.AppOverride, timing Timing) *Pipeline {
	if timing.PollInterval <= 0 {
		timing = DefaultTiming()
	}
	return &Pipeline{
		perms:     perms,
		focus:     focus,
		clip:      clip,
		inj:       inj,
		overrides: overrides,
		timing:    timing,
		log:       logging.New("insert"),
	}
}

// Deliver attempts to insert text into the target process's focused input.
// The clipboard ends up holding text on every path.
func (p *Pipeline) Deliver(ctx context.Context, text string, target domain.AppContext) domain.DeliveryResult {
	if err := p.clip.Set(text); err != nil {
		p.log.Warn("clipboard_write", nil, err)
	}

	// Synthetic input without the accessibility permission is guaranteed
	// to fail; don't try, just leave the text on the clipboard and prompt.
	if !p.perms.Granted(permission.Accessibility) {
		p.perms.Request(permission.Accessibility)
		return domain.DeliveryResult{
			Success:      false,
			StrategyUsed: domain.StrategyNone,
			Details:      "accessibility permission not granted; text copied to clipboard",
		}
	}

	activated := false
	if fg, err := p.focus.Foreground(ctx); err != nil || !sameApp(fg, target) {
		if err := p.focus.Activate(ctx, target); err != nil {
			p.log.Warn("activate_target", map[string]interface{}{"app": target.Name}, err)
		}
		activated = true
	}

	settled := p.settle(ctx, target, activated)
	if !settled {
		p.log.Warn("settle_timeout", map[string]interface{}{
			"app":       target.Name,
			"activated": activated,
		}, nil)
	}

	for _, s := range p.strategies(target) {
		if err := s.attempt(ctx, text, target); err != nil {
			p.log.Debug("strategy_failed", map[string]interface{}{
				"strategy": string(s.name),
				"error":    err.Error(),
			})
			continue
		}
		return domain.DeliveryResult{Success: true, StrategyUsed: s.name}
	}

	return domain.DeliveryResult{
		Success:      false,
		StrategyUsed: domain.StrategyNone,
		Details:      "all insertion strategies failed; text remains on clipboard",
	}
}

// settle polls until the target is confirmed foreground and a focused input
// element is located, with a short deadline when no activation was needed
// and a longer one after activating.
func (p *Pipeline) settle(ctx context.Context, target domain.AppContext, activated bool) bool {
	deadline := p.timing.SettleFocused
	if activated {
		deadline = p.timing.SettleActivated
	}
	if ms := p.overrideSettle(target); ms > deadline {
		deadline = ms
	}

	end := time.Now().Add(deadline)
	for {
		fg, err := p.focus.Foreground(ctx)
		if err == nil && sameApp(fg, target) && p.focus.InputReady(ctx, target) {
			return true
		}
		if !time.Now().Before(end) {
			return false
		}
		select {
		case <-time.After(p.timing.PollInterval):
		case <-ctx.Done():
			return false
		}
	}
}

type strategy struct {
	name    domain.InsertStrategy
	attempt func(ctx context.Context, text string, app domain.AppContext) error
}

// strategies returns the fixed-priority chain, with per-app overrides
// filtering out strategies known not to work for the target.
func (p *Pipeline) strategies(target domain.AppContext) []strategy {
	skip := map[domain.InsertStrategy]bool{}
	for _, o := range p.overrides {
		if !o.Matches(target.BundleID, target.Name) {
			continue
		}
		for _, s := range o.SkipStrategies {
			skip[domain.InsertStrategy(s)] = true
		}
	}

	all := []strategy{
		{domain.StrategyDirect, func(ctx context.Context, text string, app domain.AppContext) error {
			return p.inj.ReplaceSelection(ctx, app, text)
		}},
		{domain.StrategyMenuPaste, func(ctx context.Context, _ string, app domain.AppContext) error {
			return p.inj.InvokePaste(ctx, app)
		}},
		{domain.StrategySynthetic, func(ctx context.Context, _ string, _ domain.AppContext) error {
			return p.inj.SyntheticPaste(ctx)
		}},
	}

	out := all[:0]
	for _, s := range all {
		if !skip[s.name] {
			out = append(out, s)
		}
	}
	return out
}

func (p *Pipeline) overrideSettle(target domain.AppContext) time.Duration {
	var d time.Duration
	for _, o := range p.overrides {
		if o.SettleMS > 0 && o.Matches(target.BundleID, target.Name) {
			if ms := time.Duration(o.SettleMS) * time.Millisecond; ms > d {
				d = ms
			}
		}
	}
	return d
}

func sameApp(a, b domain.AppContext) bool {
	if b.PID != 0 && a.PID == b.PID {
		return true
	}
	return b.WindowID != "" && a.WindowID == b.WindowID
}
