// Package config provides centralized configuration management.
package config

import (
	"os"
	"path/filepath"
	"sync"
)

// VoxEnv holds all vox environment variables.
type VoxEnv struct {
	// AnthropicKey is the reasoning backend API key (ANTHROPIC_API_KEY)
	AnthropicKey string

	// AnthropicBaseURL overrides the reasoning API base URL (ANTHROPIC_BASE_URL)
	AnthropicBaseURL string

	// Model is the default reasoning model (VOX_MODEL)
	Model string

	// DeepgramKey is the cloud streaming transcription key (DEEPGRAM_API_KEY)
	DeepgramKey string

	// WhisperKey is the cloud batch transcription key (OPENAI_API_KEY)
	WhisperKey string

	// Engine overrides the persisted engine selection (VOX_ENGINE)
	Engine string

	// AudioDevice is the capture device passed to the recorder (VOX_AUDIO_DEVICE)
	AudioDevice string

	// Debug enables debug logging (VOX_DEBUG)
	Debug bool
}

var (
	env     *VoxEnv
	envOnce sync.Once
)

// Env returns the singleton environment configuration.
// Thread-safe, loads once on first call.
func Env() *VoxEnv {
	envOnce.Do(func() {
		env = &VoxEnv{
			AnthropicKey:     os.Getenv("ANTHROPIC_API_KEY"),
			AnthropicBaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			Model:            getEnvDefault("VOX_MODEL", "claude-sonnet-4-20250514"),
			DeepgramKey:      os.Getenv("DEEPGRAM_API_KEY"),
			WhisperKey:       os.Getenv("OPENAI_API_KEY"),
			Engine:           os.Getenv("VOX_ENGINE"),
			AudioDevice:      getEnvDefault("VOX_AUDIO_DEVICE", "default"),
			Debug:            os.Getenv("VOX_DEBUG") == "1",
		}
	})
	return env
}

// ResetEnv resets the cached environment (for testing).
func ResetEnv() {
	envOnce = sync.Once{}
	env = nil
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Paths holds standard vox directory paths.
type Paths struct {
	// Home is the vox home directory (~/.vox)
	Home string

	// Data is the data directory (~/.vox/data)
	Data string

	// Screenshots is the screenshot directory (~/.vox/screenshots)
	Screenshots string

	// HistoryFile is the session history file (~/.vox/data/history.json)
	HistoryFile string

	// IndexFile is the history search index (~/.vox/data/history.db)
	IndexFile string

	// SettingsFile is the settings file path (~/.vox/settings.json)
	SettingsFile string

	// GrantsFile is the persisted permission grants file (~/.vox/grants.json)
	GrantsFile string
}

var (
	paths     *Paths
	pathsOnce sync.Once
)

// GetPaths returns the singleton paths configuration.
func GetPaths() *Paths {
	pathsOnce.Do(func() {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		voxHome := filepath.Join(home, ".vox")

		paths = &Paths{
			Home:         voxHome,
			Data:         filepath.Join(voxHome, "data"),
			Screenshots:  filepath.Join(voxHome, "screenshots"),
			HistoryFile:  filepath.Join(voxHome, "data", "history.json"),
			IndexFile:    filepath.Join(voxHome, "data", "history.db"),
			SettingsFile: filepath.Join(voxHome, "settings.json"),
			GrantsFile:   filepath.Join(voxHome, "grants.json"),
		}
	})
	return paths
}

// SetHome repoints all paths under dir. Tests use this to avoid touching the
// real home directory.
func SetHome(dir string) {
	pathsOnce.Do(func() {})
	paths = &Paths{
		Home:         dir,
		Data:         filepath.Join(dir, "data"),
		Screenshots:  filepath.Join(dir, "screenshots"),
		HistoryFile:  filepath.Join(dir, "data", "history.json"),
		IndexFile:    filepath.Join(dir, "data", "history.db"),
		SettingsFile: filepath.Join(dir, "settings.json"),
		GrantsFile:   filepath.Join(dir, "grants.json"),
	}
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
