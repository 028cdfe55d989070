package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"bobine/internal/classify"
	"bobine/internal/config"
	"bobine/internal/fileutil"
	"bobine/internal/queue"
)

// defaultCatalogURL is the provider's audiobook index, used when discover is
// invoked without an argument.
const defaultCatalogURL = "https://ici.radio-canada.ca/ohdio/livres-audio"

func newAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <url>...",
		Short: "Submit one or more URLs to the pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				for _, raw := range args {
					if err := submitURL(cmd, cfg, store, raw); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newDiscoverCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "discover [catalog-url]",
		Short: "Scan the provider catalog for new audiobooks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalogURL := defaultCatalogURL
			if len(args) == 1 {
				catalogURL = strings.TrimSpace(args[0])
			}
			if classify.Classify(catalogURL) != classify.ProviderCatalog {
				return fmt.Errorf("%s is not a provider catalog URL", catalogURL)
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				return submitURL(cmd, cfg, store, catalogURL)
			})
		},
	}
}

// submitURL creates the item and its queue entry. Catalog URLs enter at the
// discovery stage; everything else goes straight to metadata extraction.
func submitURL(cmd *cobra.Command, cfg *config.Config, store *queue.Store, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("empty URL")
	}

	class := classify.Classify(raw)
	item, created, err := store.CreateItem(cmd.Context(), &queue.Item{
		SourceURL: raw,
		URLClass:  string(class),
	})
	if err != nil {
		return fmt.Errorf("submit %s: %w", raw, err)
	}

	out := cmd.OutOrStdout()
	if !created && item.Status == queue.ItemComplete {
		// The file on disk is the source of truth: a complete item whose
		// library file vanished goes back through the pipeline.
		if fileutil.FileExists(item.FilePath) {
			fmt.Fprintf(out, "Already downloaded: %s\n", raw)
			return nil
		}
		item.Status = queue.ItemPending
		item.FilePath = ""
		item.FileSize = 0
		item.ErrorMessage = ""
		if err := store.UpdateItem(cmd.Context(), item); err != nil {
			return fmt.Errorf("reset %s: %w", raw, err)
		}
		fmt.Fprintf(out, "Library file missing, re-acquiring: %s\n", raw)
	}

	entryStage := queue.StageMetadata
	if class == classify.ProviderCatalog {
		entryStage = queue.StageDiscovery
	}
	_, enqueued, err := store.Enqueue(cmd.Context(), item.ID, entryStage, 0, cfg.Queue.MaxAttempts)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", raw, err)
	}

	switch {
	case !enqueued:
		fmt.Fprintf(out, "Already queued: %s (item %d)\n", raw, item.ID)
	case entryStage == queue.StageDiscovery:
		fmt.Fprintf(out, "Queued catalog scan: %s (item %d)\n", raw, item.ID)
	default:
		fmt.Fprintf(out, "Queued: %s (item %d, %s)\n", raw, item.ID, class)
	}
	return nil
}
