package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/joss/vox/internal/config"
	"github.com/joss/vox/internal/domain"
	"github.com/joss/vox/internal/history"
	"github.com/joss/vox/internal/tui"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse past sessions",
		Long: `List, inspect and search archived sessions.

Examples:
  vox history                  # Interactive browser
  vox history list             # Plain listing
  vox history show <id>        # Full conversation for one session
  vox history search "deploy"  # Search turn text
  vox history clear            # Delete everything`,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := openStore().List()
			if err != nil {
				return err
			}
			p := tea.NewProgram(tui.NewHistoryModel(records), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}

	cmd.AddCommand(
		historyListCmd(),
		historyShowCmd(),
		historySearchCmd(),
		historyClearCmd(),
	)
	return cmd
}

func openStore() *history.Store {
	paths := config.GetPaths()
	settings := config.LoadSettings()
	store := history.NewStore(paths.HistoryFile, settings.MaxHistory)
	if idx, err := history.OpenIndex(paths.IndexFile); err == nil {
		store.WithIndex(idx)
	}
	return store
}

func historyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := openStore().List()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no sessions yet")
				return nil
			}
			dim := color.New(color.Faint)
			for _, rec := range records {
				dim.Printf("%s  %s  ", rec.StartedAt.Format("2006-01-02 15:04"), rec.ID[:8])
				fmt.Printf("%-20s  %s\n", clip(rec.AppContext.Name, 20), clip(rec.Transcript(), 60))
			}
			return nil
		},
	}
}

func historyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one session's conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := openStore().List()
			if err != nil {
				return err
			}
			var rec *domain.Session
			for i := range records {
				if records[i].ID == args[0] || shortID(records[i].ID) == args[0] {
					rec = &records[i]
					break
				}
			}
			if rec == nil {
				return fmt.Errorf("no session %q", args[0])
			}

			bold := color.New(color.Bold)
			cyan := color.New(color.FgCyan)
			dim := color.New(color.Faint)

			bold.Printf("%s — %s\n", rec.StartedAt.Format("2006-01-02 15:04"), rec.AppContext.Name)
			dim.Printf("ended: %s\n\n", rec.EndReason)
			for _, t := range rec.Turns {
				if t.Role == domain.RoleUser {
					cyan.Print("you  ")
					fmt.Println(t.Content)
				} else {
					fmt.Printf("  ↳  %s\n", t.Content)
				}
			}
			if rec.ScreenshotRef != "" {
				dim.Printf("\nscreenshot: %s\n", rec.ScreenshotRef)
			}
			return nil
		},
	}
}

func historySearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search turn text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := config.GetPaths()
			idx, err := history.OpenIndex(paths.IndexFile)
			if err != nil {
				return fmt.Errorf("open search index: %w", err)
			}
			defer idx.Close()

			matches, err := idx.Search(context.Background(), args[0], limit)
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				fmt.Println("no matches")
				return nil
			}
			dim := color.New(color.Faint)
			for _, m := range matches {
				dim.Printf("%s  %-20s  ", shortID(m.ID), clip(m.App, 20))
				fmt.Println(m.Snippet)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum matches")
	return cmd
}

func historyClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all sessions and their screenshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing without --yes")
			}
			return openStore().Clear()
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
