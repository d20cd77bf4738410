package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// AppOverride tunes insertion behavior for applications matching Pattern.
// Pattern is a doublestar glob matched case-insensitively against the target
// bundle identifier and name, e.g. "org.electron.*" or "code*".
type AppOverride struct {
	Pattern        string   `json:"pattern"`
	SkipStrategies []string `json:"skipStrategies,omitempty"`
	SettleMS       int      `json:"settleMs,omitempty"`
}

// Matches reports whether the override applies to the given app identity.
func (o AppOverride) Matches(bundleID, name string) bool {
	p := strings.ToLower(o.Pattern)
	if ok, err := doublestar.Match(p, strings.ToLower(bundleID)); err == nil && ok {
		return true
	}
	ok, err := doublestar.Match(p, strings.ToLower(name))
	return err == nil && ok
}

// Settings are the persisted user preferences. The file is rewritten
// wholesale on save.
type Settings struct {
	// Engine is the persisted engine selection, read at coordinator
	// construction and on a settings-changed signal.
	Engine string `json:"engine"`

	// Locale requested from the transcription engines (BCP-47).
	Locale string `json:"locale"`

	// APIKey is the reasoning backend credential stored by `vox auth`.
	// The ANTHROPIC_API_KEY environment variable takes precedence.
	APIKey string `json:"apiKey,omitempty"`

	// MaxHistory caps the number of retained history records.
	MaxHistory int `json:"maxHistory"`

	// Overrides adjust insertion strategy per target application.
	Overrides []AppOverride `json:"overrides,omitempty"`
}

// DefaultSettings returns the settings used before any file exists.
func DefaultSettings() Settings {
	return Settings{
		Engine:     "native",
		Locale:     "en-US",
		MaxHistory: 50,
	}
}

// LoadSettings reads the settings file, falling back to defaults when it is
// missing or unreadable.
func LoadSettings() Settings {
	s := DefaultSettings()
	data, err := os.ReadFile(GetPaths().SettingsFile)
	if err != nil {
		return s
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return DefaultSettings()
	}
	if s.MaxHistory <= 0 {
		s.MaxHistory = DefaultSettings().MaxHistory
	}
	return s
}

// SaveSettings rewrites the settings file atomically.
func SaveSettings(s Settings) error {
	path := GetPaths().SettingsFile
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return os.Rename(tmp, path)
}
