// Package screenshot captures the target application's window to a persisted
// PNG under the vox data directory.
package screenshot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joss/vox/internal/config"
	"github.com/joss/vox/internal/domain"
)

// ErrCaptureUnavailable is returned when no capture backend can run. Callers
// are expected to precheck the capture permission instead of relying on this.
var ErrCaptureUnavailable = errors.New("screen capture unavailable")

// Provider captures window images.
type Provider interface {
	CaptureWindow(ctx context.Context, app domain.AppContext) (string, error)
}

// capturer interface for different screen capture implementations
type capturer interface {
	capture(ctx context.Context, output string, app domain.AppContext) error
}

// Capturer persists window captures as PNG files named by ULID so file order
// matches capture order.
type Capturer struct {
	dir     string
	backend capturer
	entropy *ulid.MonotonicEntropy
}

// New builds a capturer writing into the standard screenshots directory.
func New() *Capturer {
	return &Capturer{
		dir:     config.GetPaths().Screenshots,
		backend: detectCapturer(),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// CaptureWindow captures the window owned by app and returns the stored path.
func (c *Capturer) CaptureWindow(ctx context.Context, app domain.AppContext) (string, error) {
	if c.backend == nil {
		return "", ErrCaptureUnavailable
	}
	if err := config.EnsureDir(c.dir); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}

	id := ulid.MustNew(ulid.Timestamp(time.Now()), c.entropy)
	output := filepath.Join(c.dir, id.String()+".png")
	if err := c.backend.capture(ctx, output, app); err != nil {
		os.Remove(output)
		return "", fmt.Errorf("capture window: %w", err)
	}
	return output, nil
}

// detectCapturer finds the best available screen capture method
func detectCapturer() capturer {
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		if _, err := exec.LookPath("grim"); err == nil {
			return &grimCapturer{}
		}
		return nil
	}
	if _, err := exec.LookPath("import"); err == nil {
		return &importCapturer{}
	}
	if _, err := exec.LookPath("scrot"); err == nil {
		return &scrotCapturer{}
	}
	return nil
}

// grimCapturer captures the full output on Wayland; per-window capture is
// compositor specific and not attempted.
type grimCapturer struct{}

func (g *grimCapturer) capture(ctx context.Context, output string, _ domain.AppContext) error {
	return exec.CommandContext(ctx, "grim", output).Run()
}

// importCapturer uses imagemagick's import, targeting the app window when a
// window id is known.
type importCapturer struct{}

func (i *importCapturer) capture(ctx context.Context, output string, app domain.AppContext) error {
	if app.WindowID != "" {
		return exec.CommandContext(ctx, "import", "-window", app.WindowID, output).Run()
	}
	return exec.CommandContext(ctx, "import", "-window", "root", output).Run()
}

type scrotCapturer struct{}

func (s *scrotCapturer) capture(ctx context.Context, output string, app domain.AppContext) error {
	if app.WindowID != "" {
		// scrot has no window-id flag; -u captures the focused window,
		// which is the target right after activation.
		return exec.CommandContext(ctx, "scrot", "-u", output).Run()
	}
	return exec.CommandContext(ctx, "scrot", output).Run()
}
