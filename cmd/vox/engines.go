package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/joss/vox/internal/config"
	"github.com/joss/vox/internal/domain"
)

func enginesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engines",
		Short: "List and select transcription engines",
		RunE: func(cmd *cobra.Command, args []string) error {
			env := config.Env()
			settings := config.LoadSettings()

			green := color.New(color.FgGreen)
			dim := color.New(color.Faint)

			rows := []struct {
				kind  domain.EngineKind
				ready bool
				note  string
			}{
				{domain.EngineNative, true, "on-device, locale-gated"},
				{domain.EngineCloudStream, env.DeepgramKey != "", "needs DEEPGRAM_API_KEY"},
				{domain.EngineCloudBatch, env.WhisperKey != "", "needs OPENAI_API_KEY"},
				{domain.EngineLegacyStream, env.DeepgramKey != "", "needs DEEPGRAM_API_KEY"},
			}
			for _, r := range rows {
				marker := "  "
				if string(r.kind) == settings.Engine {
					marker = green.Sprint("* ")
				}
				status := green.Sprint("ready")
				if !r.ready {
					status = dim.Sprint(r.note)
				}
				fmt.Printf("%s%-15s %s\n", marker, r.kind, status)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <kind>",
		Short: "Persist the engine selection",
		Long: `Persist the engine selection.

The change applies to the next listening session; a session already
listening keeps its engine until it ends.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseEngineKind(args[0])
			if err != nil {
				return err
			}
			settings := config.LoadSettings()
			settings.Engine = string(kind)
			if err := config.SaveSettings(settings); err != nil {
				return err
			}
			fmt.Printf("engine set to %s\n", kind)
			return nil
		},
	})
	return cmd
}
