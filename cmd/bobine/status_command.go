package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"bobine/internal/config"
	"bobine/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pipeline and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				pause, err := store.PauseState(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if pause.Paused {
					fmt.Fprintln(out, "Downloads: PAUSED")
				} else {
					fmt.Fprintln(out, "Downloads: running")
				}
				fmt.Fprintf(out, "Database:  %s\n\n", store.Path())

				rows := []table.Row{
					{"Pending", stats.ItemsPending},
					{"Active", stats.ItemsActive},
					{"Complete", stats.ItemsComplete},
					{"Failed", stats.ItemsFailed},
					{"Total", stats.ItemsTotal},
				}
				fmt.Fprintln(out, renderTable(table.Row{"Items", "Count"}, rows, 2))

				if stats.EntriesQueued+stats.EntriesActive+stats.EntriesFailed > 0 {
					fmt.Fprintf(out, "\nEntries: %d queued, %d active, %d failed\n",
						stats.EntriesQueued, stats.EntriesActive, stats.EntriesFailed)
				}
				if stats.RunsRunning > 0 {
					fmt.Fprintf(out, "Catalog scans in progress: %d\n", stats.RunsRunning)
				}
				return nil
			})
		},
	}
}

func newPauseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause download workers",
		Long:  "Pause download workers. Discovery and metadata stages keep running; queued downloads wait until resume.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				if err := store.SetPaused(cmd.Context(), true); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Downloads paused")
				return nil
			})
		},
	}
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume download workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				if err := store.SetPaused(cmd.Context(), false); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Downloads resumed")
				return nil
			})
		},
	}
}
