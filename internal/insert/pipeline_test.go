package insert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/vox/internal/config"
	"github.com/joss/vox/internal/domain"
	"github.com/joss/vox/internal/permission"
)

type fakeClipboard struct {
	text string
	sets int
}

func (c *fakeClipboard) Set(text string) error {
	c.text = text
	c.sets++
	return nil
}

type fakeFocus struct {
	foreground domain.AppContext
	activated  []domain.AppContext
	ready      bool
}

func (f *fakeFocus) Foreground(ctx context.Context) (domain.AppContext, error) {
	return f.foreground, nil
}

func (f *fakeFocus) Activate(ctx context.Context, app domain.AppContext) error {
	f.activated = append(f.activated, app)
	f.foreground = app
	return nil
}

func (f *fakeFocus) InputReady(ctx context.Context, app domain.AppContext) bool {
	return f.ready
}

type fakeInjector struct {
	directErr error
	pasteErr  error
	synthErr  error

	directCalls int
	pasteCalls  int
	synthCalls  int
}

func (i *fakeInjector) ReplaceSelection(ctx context.Context, app domain.AppContext, text string) error {
	i.directCalls++
	return i.directErr
}

func (i *fakeInjector) InvokePaste(ctx context.Context, app domain.AppContext) error {
	i.pasteCalls++
	return i.pasteErr
}

func (i *fakeInjector) SyntheticPaste(ctx context.Context) error {
	i.synthCalls++
	return i.synthErr
}

func grantAll() permission.Service {
	return permission.NewManagerWithProbes(map[permission.Kind]permission.Probe{
		permission.Capture:       func() bool { return true },
		permission.Accessibility: func() bool { return true },
		permission.Speech:        func() bool { return true },
	})
}

func denyAccessibility() permission.Service {
	return permission.NewManagerWithProbes(map[permission.Kind]permission.Probe{
		permission.Capture:       func() bool { return true },
		permission.Accessibility: func() bool { return false },
		permission.Speech:        func() bool { return true },
	})
}

func fastTiming() Timing {
	return Timing{
		SettleFocused:   20 * time.Millisecond,
		SettleActivated: 60 * time.Millisecond,
		PollInterval:    2 * time.Millisecond,
	}
}

var target = domain.AppContext{Name: "editor", PID: 42, WindowID: "0x1"}

func TestDeliverFirstStrategyWins(t *testing.T) {
	clip := &fakeClipboard{}
	inj := &fakeInjector{}
	p := NewPipeline(grantAll(), &fakeFocus{foreground: target, ready: true}, clip, inj, nil, fastTiming())

	res := p.Deliver(context.Background(), "hello", target)

	require.True(t, res.Success)
	assert.Equal(t, domain.StrategyDirect, res.StrategyUsed)
	assert.Equal(t, 1, inj.directCalls)
	assert.Zero(t, inj.pasteCalls, "later strategies never attempted after success")
	assert.Zero(t, inj.synthCalls)
	assert.Equal(t, "hello", clip.text, "clipboard is set before any attempt")
}

func TestDeliverFallsThroughInOrder(t *testing.T) {
	inj := &fakeInjector{directErr: errors.New("no direct")}
	p := NewPipeline(grantAll(), &fakeFocus{foreground: target, ready: true}, &fakeClipboard{}, inj, nil, fastTiming())

	res := p.Deliver(context.Background(), "hello", target)

	require.True(t, res.Success)
	assert.Equal(t, domain.StrategyMenuPaste, res.StrategyUsed)
	assert.Equal(t, 1, inj.directCalls)
	assert.Equal(t, 1, inj.pasteCalls)
	assert.Zero(t, inj.synthCalls)
}

func TestDeliverExhaustionLeavesClipboard(t *testing.T) {
	clip := &fakeClipboard{}
	inj := &fakeInjector{
		directErr: errors.New("x"),
		pasteErr:  errors.New("x"),
		synthErr:  errors.New("x"),
	}
	p := NewPipeline(grantAll(), &fakeFocus{foreground: target, ready: true}, clip, inj, nil, fastTiming())

	res := p.Deliver(context.Background(), "hello", target)

	assert.False(t, res.Success)
	assert.Equal(t, domain.StrategyNone, res.StrategyUsed)
	assert.Equal(t, "hello", clip.text)
	assert.Equal(t, 1, inj.synthCalls, "every strategy was tried once")
}

func TestDeliverWithoutAccessibilityNeverInjects(t *testing.T) {
	clip := &fakeClipboard{}
	inj := &fakeInjector{}
	p := NewPipeline(denyAccessibility(), &fakeFocus{foreground: target, ready: true}, clip, inj, nil, fastTiming())

	res := p.Deliver(context.Background(), "hello", target)

	assert.False(t, res.Success)
	assert.Equal(t, domain.StrategyNone, res.StrategyUsed)
	assert.Zero(t, inj.directCalls)
	assert.Zero(t, inj.pasteCalls)
	assert.Zero(t, inj.synthCalls)
	assert.Equal(t, "hello", clip.text, "clipboard safety net still applies")
}

func TestDeliverActivatesWhenTargetNotForeground(t *testing.T) {
	other := domain.AppContext{Name: "browser", PID: 7, WindowID: "0x2"}
	focus := &fakeFocus{foreground: other, ready: true}
	inj := &fakeInjector{}
	p := NewPipeline(grantAll(), focus, &fakeClipboard{}, inj, nil, fastTiming())

	res := p.Deliver(context.Background(), "hello", target)

	require.True(t, res.Success)
	require.Len(t, focus.activated, 1)
	assert.Equal(t, target.WindowID, focus.activated[0].WindowID)
}

func TestDeliverSettleAsymmetry(t *testing.T) {
	// InputReady never confirms, so Deliver pays the full settle deadline.
	// Activating a backgrounded target must wait longer than delivering to
	// the already-focused one.
	timing := fastTiming()

	focused := &fakeFocus{foreground: target, ready: false}
	p := NewPipeline(grantAll(), focused, &fakeClipboard{}, &fakeInjector{}, nil, timing)
	start := time.Now()
	p.Deliver(context.Background(), "x", target)
	focusedWait := time.Since(start)

	other := domain.AppContext{Name: "browser", PID: 7, WindowID: "0x2"}
	backgrounded := &fakeFocus{foreground: other, ready: false}
	// Activate switches foreground but InputReady stays false.
	p2 := NewPipeline(grantAll(), backgrounded, &fakeClipboard{}, &fakeInjector{}, nil, timing)
	start = time.Now()
	p2.Deliver(context.Background(), "x", target)
	activatedWait := time.Since(start)

	assert.GreaterOrEqual(t, focusedWait, timing.SettleFocused)
	assert.GreaterOrEqual(t, activatedWait, timing.SettleActivated)
	assert.Greater(t, activatedWait, focusedWait)
}

func TestDeliverPerAppOverrides(t *testing.T) {
	overrides := []config.AppOverride{
		{Pattern: "editor*", SkipStrategies: []string{"direct", "menuPaste"}},
	}
	inj := &fakeInjector{}
	p := NewPipeline(grantAll(), &fakeFocus{foreground: target, ready: true}, &fakeClipboard{}, inj, overrides, fastTiming())

	res := p.Deliver(context.Background(), "hello", target)

	require.True(t, res.Success)
	assert.Equal(t, domain.StrategySynthetic, res.StrategyUsed)
	assert.Zero(t, inj.directCalls)
	assert.Zero(t, inj.pasteCalls)
}

func TestOverrideSettleExtendsDeadline(t *testing.T) {
	overrides := []config.AppOverride{
		{Pattern: "editor*", SettleMS: 120},
	}
	p := NewPipeline(grantAll(), &fakeFocus{foreground: target, ready: false}, &fakeClipboard{}, &fakeInjector{}, overrides, fastTiming())

	start := time.Now()
	p.Deliver(context.Background(), "x", target)
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)
}

func TestSameApp(t *testing.T) {
	a := domain.AppContext{PID: 42, WindowID: "0x1"}
	assert.True(t, sameApp(a, domain.AppContext{PID: 42}))
	assert.True(t, sameApp(a, domain.AppContext{WindowID: "0x1"}))
	assert.False(t, sameApp(a, domain.AppContext{PID: 7, WindowID: "0x9"}))
	assert.False(t, sameApp(a, domain.AppContext{}))
}
