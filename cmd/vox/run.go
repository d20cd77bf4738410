package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/joss/vox/internal/audio"
	"github.com/joss/vox/internal/config"
	"github.com/joss/vox/internal/domain"
	"github.com/joss/vox/internal/engine"
	"github.com/joss/vox/internal/history"
	"github.com/joss/vox/internal/insert"
	"github.com/joss/vox/internal/orchestrator"
	"github.com/joss/vox/internal/permission"
	"github.com/joss/vox/internal/reason"
	"github.com/joss/vox/internal/screenshot"
	"github.com/joss/vox/internal/tui"
)

func runCmd() *cobra.Command {
	var engineFlag string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the capture surface",
		Long: `Start the interactive capture surface.

Space toggles listening; on release the transcript is inserted into
the application that was focused when listening began.

Examples:
  vox run                        # Use the configured engine
  vox run --engine cloud-stream  # Force a specific engine`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSurface(engineFlag)
		},
	}

	cmd.Flags().StringVar(&engineFlag, "engine", "", "Transcription engine (native, cloud-stream, cloud-batch, legacy-stream)")
	return cmd
}

func runSurface(engineFlag string) error {
	env := config.Env()
	settings := config.LoadSettings()
	paths := config.GetPaths()

	kindName := settings.Engine
	if env.Engine != "" {
		kindName = env.Engine
	}
	if engineFlag != "" {
		kindName = engineFlag
	}
	kind, err := domain.ParseEngineKind(kindName)
	if err != nil {
		return err
	}

	perms := permission.NewManager()

	var orch *orchestrator.Orchestrator
	coord := engine.NewCoordinator(
		&audio.FFmpegCapture{},
		audio.Config{SampleRate: 16000, Channels: 1, Device: env.AudioDevice},
		engine.BuildFactories(env, settings),
		kind,
		engine.WithLevelFunc(func(level float64) {
			if orch != nil {
				orch.AudioLevel(level)
			}
		}),
	)

	store := history.NewStore(paths.HistoryFile, settings.MaxHistory)
	if idx, err := history.OpenIndex(paths.IndexFile); err == nil {
		store.WithIndex(idx)
		defer idx.Close()
	}

	focus, injector := insert.DetectBackend()
	if focus == nil || injector == nil {
		return fmt.Errorf("no insertion backend found; run `vox doctor`")
	}
	pipeline := insert.NewPipeline(perms, focus, insert.SystemClipboard{}, injector,
		settings.Overrides, insert.DefaultTiming())

	apiKey := env.AnthropicKey
	if apiKey == "" {
		apiKey = settings.APIKey
	}
	backend := reason.NewAnthropic(apiKey, env.AnthropicBaseURL, env.Model)

	sink := tui.NewProgramSink()
	orch = orchestrator.New(coord, pipeline, store, screenshot.New(), focus,
		perms, backend, sink, orchestrator.DefaultConfig())

	p := tea.NewProgram(tui.NewRunModel(orch), tea.WithAltScreen())
	sink.Attach(p)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run surface: %w", err)
	}
	return nil
}
