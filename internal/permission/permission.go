// Package permission answers boolean queries for the capabilities vox needs
// and records which prompts the user has already seen, so OS-level dialogs
// are never spammed.
package permission

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/joss/vox/internal/config"
	"github.com/joss/vox/internal/logging"
)

// Kind identifies a capability.
type Kind string

const (
	// Capture is the screen capture permission, prechecked before any
	// screenshot is requested.
	Capture Kind = "capture"
	// Accessibility gates synthetic input into other applications.
	Accessibility Kind = "accessibility"
	// Speech gates microphone capture.
	Speech Kind = "speech"
)

// Service is the query surface consumed by the orchestrator and pipeline.
type Service interface {
	Granted(Kind) bool
	Request(Kind)
	Remediation(Kind) string
}

// Probe reports whether a capability is currently usable.
type Probe func() bool

// Manager probes the environment for each capability and persists which
// request prompts were already shown.
type Manager struct {
	probes map[Kind]Probe
	log    *logging.Logger

	mu        sync.Mutex
	requested map[Kind]time.Time
	persist   bool
}

// NewManager builds a manager with environment probes for the current
// desktop session.
func NewManager() *Manager {
	m := &Manager{
		probes: map[Kind]Probe{
			Capture:       captureProbe,
			Accessibility: accessibilityProbe,
			Speech:        speechProbe,
		},
		log:       logging.New("permission"),
		requested: make(map[Kind]time.Time),
		persist:   true,
	}
	m.load()
	return m
}

// NewManagerWithProbes builds a manager with injected probes and no
// persistence. Used by tests.
func NewManagerWithProbes(probes map[Kind]Probe) *Manager {
	return &Manager{
		probes:    probes,
		log:       logging.New("permission"),
		requested: make(map[Kind]time.Time),
	}
}

// Granted reports whether the capability is usable right now.
func (m *Manager) Granted(kind Kind) bool {
	probe, ok := m.probes[kind]
	if !ok {
		return false
	}
	return probe()
}

// Request records that the user was prompted for a capability. Each kind is
// surfaced at most once per day; repeats are suppressed.
func (m *Manager) Request(kind Kind) {
	m.mu.Lock()
	last, seen := m.requested[kind]
	if seen && time.Since(last) < 24*time.Hour {
		m.mu.Unlock()
		return
	}
	m.requested[kind] = time.Now()
	m.mu.Unlock()

	m.log.Warn("permission_needed", map[string]interface{}{
		"kind":        string(kind),
		"remediation": m.Remediation(kind),
	}, nil)
	m.save()
}

// Remediation returns a human instruction for enabling the capability.
func (m *Manager) Remediation(kind Kind) string {
	switch kind {
	case Capture:
		return "install a screenshot tool (grim on Wayland, scrot or imagemagick on X11) and make sure a display session is active"
	case Accessibility:
		return "install xdotool (X11) or ydotool/wtype (Wayland) so vox can deliver text into other applications"
	case Speech:
		return "install ffmpeg or alsa-utils and check that a microphone input device is available"
	}
	return ""
}

func captureProbe() bool {
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		_, err := exec.LookPath("grim")
		return err == nil
	}
	if os.Getenv("DISPLAY") == "" {
		return false
	}
	for _, tool := range []string{"scrot", "import", "gnome-screenshot"} {
		if _, err := exec.LookPath(tool); err == nil {
			return true
		}
	}
	return false
}

func accessibilityProbe() bool {
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		for _, tool := range []string{"ydotool", "wtype"} {
			if _, err := exec.LookPath(tool); err == nil {
				return true
			}
		}
		return false
	}
	_, err := exec.LookPath("xdotool")
	return err == nil
}

func speechProbe() bool {
	for _, tool := range []string{"ffmpeg", "arecord", "parec"} {
		if _, err := exec.LookPath(tool); err == nil {
			return true
		}
	}
	return false
}

type persisted struct {
	Requested map[Kind]time.Time `json:"requested"`
}

func (m *Manager) save() {
	if !m.persist {
		return
	}
	m.mu.Lock()
	data, err := json.MarshalIndent(persisted{Requested: m.requested}, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return
	}
	path := config.GetPaths().GrantsFile
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return
	}
	os.WriteFile(path, data, 0600)
}

func (m *Manager) load() {
	if !m.persist {
		return
	}
	data, err := os.ReadFile(config.GetPaths().GrantsFile)
	if err != nil {
		return
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range p.Requested {
		m.requested[k] = v
	}
}
