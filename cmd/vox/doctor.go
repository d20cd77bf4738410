package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/joss/vox/internal/config"
	"github.com/joss/vox/internal/permission"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check host tools, credentials and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			env := config.Env()
			paths := config.GetPaths()
			perms := permission.NewManager()

			ok := color.New(color.FgGreen).SprintFunc()
			bad := color.New(color.FgRed).SprintFunc()
			warn := color.New(color.FgYellow).SprintFunc()
			head := color.New(color.Bold)

			check := func(label string, good bool, remedy string) {
				if good {
					fmt.Printf("  %s %s\n", ok("✓"), label)
				} else {
					fmt.Printf("  %s %s", bad("✗"), label)
					if remedy != "" {
						fmt.Printf("  %s", warn("("+remedy+")"))
					}
					fmt.Println()
				}
			}
			have := func(bin string) bool {
				_, err := exec.LookPath(bin)
				return err == nil
			}

			head.Println("tools")
			check("ffmpeg (audio capture)", have("ffmpeg"), "install ffmpeg")
			if os.Getenv("WAYLAND_DISPLAY") != "" {
				check("ydotool or wtype (insertion)", have("ydotool") || have("wtype"), "install ydotool")
				check("grim (screenshots)", have("grim"), "install grim")
			} else {
				check("xdotool (insertion)", have("xdotool"), "install xdotool")
				check("scrot or import (screenshots)", have("scrot") || have("import"), "install scrot")
			}

			head.Println("\ncredentials")
			check("Anthropic key (follow-up questions)",
				env.AnthropicKey != "" || config.LoadSettings().APIKey != "", "run vox auth")
			check("Deepgram key (cloud-stream engine)", env.DeepgramKey != "", "set DEEPGRAM_API_KEY")
			check("OpenAI key (cloud-batch engine)", env.WhisperKey != "", "set OPENAI_API_KEY")

			head.Println("\npermissions")
			for _, kind := range []permission.Kind{permission.Capture, permission.Accessibility, permission.Speech} {
				check(string(kind), perms.Granted(kind), perms.Remediation(kind))
			}

			head.Println("\npaths")
			fmt.Printf("  data:        %s\n", paths.Data)
			fmt.Printf("  history:     %s\n", paths.HistoryFile)
			fmt.Printf("  screenshots: %s\n", paths.Screenshots)
			return nil
		},
	}
}
