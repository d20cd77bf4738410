package insert

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"

	"github.com/joss/vox/internal/domain"
)

// SystemClipboard writes through the OS clipboard.
type SystemClipboard struct{}

func (SystemClipboard) Set(text string) error {
	return clipboard.WriteAll(text)
}

// DetectBackend returns the focus controller and injector for the current
// display server, or nils when none is available.
func DetectBackend() (Focus, Injector) {
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		if _, err := exec.LookPath("ydotool"); err == nil {
			return &waylandFocus{}, &waylandInjector{}
		}
		if _, err := exec.LookPath("wtype"); err == nil {
			return &waylandFocus{}, &waylandInjector{wtype: true}
		}
		return nil, nil
	}
	if _, err := exec.LookPath("xdotool"); err == nil {
		b := &xdoBackend{}
		return b, b
	}
	return nil, nil
}

// xdoBackend implements Focus and Injector for X11 via xdotool.
type xdoBackend struct{}

func (b *xdoBackend) Foreground(ctx context.Context) (domain.AppContext, error) {
	out, err := exec.CommandContext(ctx, "xdotool", "getactivewindow").Output()
	if err != nil {
		return domain.AppContext{}, fmt.Errorf("query active window: %w", err)
	}
	windowID := strings.TrimSpace(string(out))

	app := domain.AppContext{WindowID: windowID}
	if out, err := exec.CommandContext(ctx, "xdotool", "getwindowpid", windowID).Output(); err == nil {
		app.PID, _ = strconv.Atoi(strings.TrimSpace(string(out)))
	}
	if out, err := exec.CommandContext(ctx, "xdotool", "getwindowname", windowID).Output(); err == nil {
		app.Name = strings.TrimSpace(string(out))
	}
	return app, nil
}

func (b *xdoBackend) Activate(ctx context.Context, app domain.AppContext) error {
	if app.WindowID == "" {
		return fmt.Errorf("no window id for %q", app.Name)
	}
	return exec.CommandContext(ctx, "xdotool", "windowactivate", "--sync", app.WindowID).Run()
}

// InputReady approximates the focused-element check with the X focus: X11
// cannot see widgets, but a window holding input focus is the closest
// observable signal.
func (b *xdoBackend) InputReady(ctx context.Context, app domain.AppContext) bool {
	out, err := exec.CommandContext(ctx, "xdotool", "getwindowfocus").Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == app.WindowID
}

func (b *xdoBackend) ReplaceSelection(ctx context.Context, app domain.AppContext, text string) error {
	if app.WindowID == "" {
		return fmt.Errorf("no window id for direct insertion")
	}
	return exec.CommandContext(ctx, "xdotool", "type", "--window", app.WindowID, "--clearmodifiers", "--", text).Run()
}

func (b *xdoBackend) InvokePaste(ctx context.Context, app domain.AppContext) error {
	if app.WindowID == "" {
		return fmt.Errorf("no window id for targeted paste")
	}
	return exec.CommandContext(ctx, "xdotool", "key", "--window", app.WindowID, "--clearmodifiers", "ctrl+v").Run()
}

func (b *xdoBackend) SyntheticPaste(ctx context.Context) error {
	return exec.CommandContext(ctx, "xdotool", "key", "--clearmodifiers", "ctrl+v").Run()
}

// waylandFocus has no portable way to inspect or steer foreground windows;
// it reports the target as already foreground so the pipeline proceeds
// straight to injection.
type waylandFocus struct{}

func (waylandFocus) Foreground(ctx context.Context) (domain.AppContext, error) {
	return domain.AppContext{}, fmt.Errorf("foreground query unsupported on wayland")
}

func (waylandFocus) Activate(ctx context.Context, app domain.AppContext) error {
	return nil
}

func (waylandFocus) InputReady(ctx context.Context, app domain.AppContext) bool {
	return true
}

// waylandInjector types via wtype when present, ydotool otherwise.
type waylandInjector struct {
	wtype bool
}

func (w *waylandInjector) ReplaceSelection(ctx context.Context, _ domain.AppContext, text string) error {
	if w.wtype {
		return exec.CommandContext(ctx, "wtype", text).Run()
	}
	return exec.CommandContext(ctx, "ydotool", "type", "--", text).Run()
}

func (w *waylandInjector) InvokePaste(ctx context.Context, _ domain.AppContext) error {
	return fmt.Errorf("targeted paste unsupported on wayland")
}

func (w *waylandInjector) SyntheticPaste(ctx context.Context) error {
	if w.wtype {
		return exec.CommandContext(ctx, "wtype", "-M", "ctrl", "v", "-m", "ctrl").Run()
	}
	// key codes: 29 = LEFTCTRL, 47 = V
	return exec.CommandContext(ctx, "ydotool", "key", "29:1", "47:1", "47:0", "29:0").Run()
}
