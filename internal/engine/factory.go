package engine

import (
	"github.com/joss/vox/internal/config"
	"github.com/joss/vox/internal/domain"
)

// BuildFactories wires one factory per engine kind from the environment and
// persisted settings. Construction is deferred so a swap always gets a fresh
// instance.
func BuildFactories(env *config.VoxEnv, settings config.Settings) map[domain.EngineKind]Factory {
	return map[domain.EngineKind]Factory{
		domain.EngineNative: func() Engine {
			return NewNative(NativeConfig{Locale: settings.Locale})
		},
		domain.EngineCloudStream: func() Engine {
			return NewCloudStream(StreamConfig{
				APIKey:   env.DeepgramKey,
				Language: settings.Locale,
			})
		},
		domain.EngineLegacyStream: func() Engine {
			return NewLegacyStream(StreamConfig{
				APIKey:   env.DeepgramKey,
				Language: settings.Locale,
			})
		},
		domain.EngineCloudBatch: func() Engine {
			return NewBatch(BatchConfig{
				APIKey:   env.WhisperKey,
				Language: settings.Locale,
			})
		},
	}
}
