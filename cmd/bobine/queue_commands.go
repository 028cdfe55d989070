package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"bobine/internal/config"
	"bobine/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the work queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRunsCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueResetCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items in the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status queue.ItemStatus
			if trimmed := strings.TrimSpace(statusFlag); trimmed != "" {
				parsed, ok := queue.ParseItemStatus(trimmed)
				if !ok {
					return fmt.Errorf("unknown status %q", trimmed)
				}
				status = parsed
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				items, err := store.ListItems(cmd.Context(), status, limit)
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}

				rows := make([]table.Row, 0, len(items))
				for _, item := range items {
					stage := ""
					if entry, err := store.GetEntryForItem(cmd.Context(), item.ID); err == nil && entry != nil {
						stage = string(entry.Stage)
					}
					rows = append(rows, table.Row{
						item.ID,
						displayTitle(item),
						item.Author,
						string(item.Status),
						stage,
						truncate(item.ErrorMessage, 48),
					})
				}
				out := renderTable(
					table.Row{"ID", "Title", "Author", "Status", "Stage", "Error"},
					rows,
					1,
				)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by item status (pending, active, complete, failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of items to show")
	return cmd
}

func newQueueRunsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent catalog discovery runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No discovery runs recorded")
					return nil
				}

				rows := make([]table.Row, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, table.Row{
						run.ID,
						run.CreatedAt.Local().Format("2006-01-02 15:04"),
						string(run.Status),
						run.TotalCount,
						run.QueuedCount,
						run.SkippedCount,
						truncate(run.ErrorMessage, 48),
					})
				}
				out := renderTable(
					table.Row{"Run", "Started", "Status", "Found", "Queued", "Skipped", "Error"},
					rows,
					1, 4, 5, 6,
				)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of runs to show")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Requeue failed items with a fresh attempt budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				requeued, err := store.RetryFailed(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d failed item(s)\n", requeued)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-failed",
		Short: "Remove failed entries from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				removed, err := store.ClearEntries(cmd.Context(), queue.EntryFailed)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d failed entrie(s)\n", removed)
				return nil
			})
		},
	}
}

func newQueueResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-stuck",
		Short: "Requeue entries left active by a crashed daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				reset, err := store.ResetStuckActive(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d stuck entrie(s)\n", reset)
				return nil
			})
		},
	}
}

func displayTitle(item *queue.Item) string {
	if title := strings.TrimSpace(item.Title); title != "" {
		return truncate(title, 40)
	}
	return truncate(item.SourceURL, 40)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
