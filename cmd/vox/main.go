// Package main provides the vox CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "vox",
		Short: "Push-to-talk transcription with insert-at-cursor",
		Long: `vox: hold a key, speak, release — the transcript lands in the
focused application. Follow up with a question and the response
surface answers it using a screenshot of what you were looking at.

Use 'vox run' to start the capture surface.
Use 'vox doctor' to check the host setup.`,
		Version: version,
	}

	rootCmd.AddCommand(
		runCmd(),
		historyCmd(),
		enginesCmd(),
		authCmd(),
		doctorCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
