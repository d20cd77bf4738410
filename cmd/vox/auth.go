package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/joss/vox/internal/config"
)

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Store the reasoning backend API key",
		Long: `Store the Anthropic API key used for follow-up questions.

The key is read without echo and written to the settings file with
0600 permissions. ANTHROPIC_API_KEY in the environment takes
precedence over the stored key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print("Anthropic API key: ")
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("read key: %w", err)
			}
			key := strings.TrimSpace(string(raw))
			if key == "" {
				return fmt.Errorf("empty key")
			}

			settings := config.LoadSettings()
			settings.APIKey = key
			if err := config.SaveSettings(settings); err != nil {
				return err
			}
			fmt.Println("saved")
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the stored API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := config.LoadSettings()
			settings.APIKey = ""
			if err := config.SaveSettings(settings); err != nil {
				return err
			}
			fmt.Println("cleared")
			return nil
		},
	})
	return cmd
}
