// Package discovery implements the catalog scan stage: it fetches a provider
// listing page, extracts the audiobooks it advertises, and enqueues the new
// ones for metadata extraction.
package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"bobine/internal/classify"
	"bobine/internal/config"
	"bobine/internal/logging"
	"bobine/internal/notifications"
	"bobine/internal/queue"
	"bobine/internal/scrape"
	"bobine/internal/services"
	"bobine/internal/stage"
)

// PageFetcher is the subset of the fetch client the handler needs.
type PageFetcher interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// Handler drives one discovery run per claimed catalog entry.
type Handler struct {
	store    *queue.Store
	fetcher  PageFetcher
	parser   *scrape.Parser
	notifier notifications.Service
	logger   *slog.Logger

	maxAttempts int
}

// NewHandler constructs the discovery stage handler.
func NewHandler(cfg *config.Config, store *queue.Store, fetcher PageFetcher, notifier notifications.Service, logger *slog.Logger) *Handler {
	return &Handler{
		store:       store,
		fetcher:     fetcher,
		parser:      scrape.NewParser(logger),
		notifier:    notifier,
		logger:      logging.WithComponent(logger, "discovery"),
		maxAttempts: cfg.Queue.MaxAttempts,
	}
}

// Prepare rejects entries that are not catalog scans before any I/O happens.
func (h *Handler) Prepare(_ context.Context, item *queue.Item) error {
	if item.SourceURL == "" {
		return services.Wrap(services.ErrValidation, "discovery", "prepare", "catalog URL missing", nil)
	}
	if classify.Class(item.URLClass) != classify.ProviderCatalog {
		return services.Wrap(services.ErrValidation, "discovery", "prepare",
			fmt.Sprintf("%s is not a catalog URL", item.SourceURL), nil)
	}
	return nil
}

// Execute scans the catalog page. Every advertised audiobook not already
// known is created and enqueued for metadata; known source URLs are counted
// as skipped. The discovery run row records the outcome either way.
func (h *Handler) Execute(ctx context.Context, item *queue.Item) error {
	jobRef, _ := services.RequestIDFromContext(ctx)
	run, err := h.store.CreateRun(ctx, item.SourceURL, jobRef)
	if err != nil {
		return services.Wrap(services.ErrTransient, "discovery", "create run", "cannot record discovery run", err)
	}
	logger := logging.WithContext(ctx, h.logger).With(logging.Int64(logging.FieldRunID, run.ID))

	body, err := h.fetcher.Get(ctx, item.SourceURL)
	if err != nil {
		h.failRun(ctx, run, fmt.Sprintf("fetch catalog: %v", err))
		return err
	}

	discovered, err := h.parser.ParseCatalog(string(body), item.SourceURL)
	if err != nil {
		h.failRun(ctx, run, fmt.Sprintf("parse catalog: %v", err))
		return err
	}

	queued, skipped := 0, 0
	for _, found := range discovered {
		created, err := h.enqueueDiscovered(ctx, run.ID, found)
		if err != nil {
			h.failRun(ctx, run, fmt.Sprintf("enqueue %s: %v", found.SourceURL, err))
			return err
		}
		if created {
			queued++
		} else {
			skipped++
		}
	}

	run.Status = queue.RunCompleted
	run.TotalCount = len(discovered)
	run.QueuedCount = queued
	run.SkippedCount = skipped
	if err := h.store.UpdateRun(ctx, run); err != nil {
		return services.Wrap(services.ErrTransient, "discovery", "update run", "cannot finalize discovery run", err)
	}

	logger.Info("discovery run completed",
		logging.String(logging.FieldEventType, "discovery_complete"),
		logging.Int("total", run.TotalCount),
		logging.Int("queued", queued),
		logging.Int("skipped", skipped),
	)
	if h.notifier != nil {
		if err := h.notifier.NotifyDiscoveryCompleted(ctx, item.SourceURL, queued, skipped); err != nil {
			logger.Warn("discovery notification failed", logging.Error(err))
		}
	}
	return nil
}

func (h *Handler) enqueueDiscovered(ctx context.Context, runID int64, found scrape.Discovered) (bool, error) {
	item, created, err := h.store.CreateItem(ctx, &queue.Item{
		RunID:     runID,
		Title:     found.Title,
		SourceURL: found.SourceURL,
		URLClass:  string(classify.Classify(found.SourceURL)),
	})
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}
	if _, _, err := h.store.Enqueue(ctx, item.ID, queue.StageMetadata, 0, h.maxAttempts); err != nil {
		return false, err
	}
	return true, nil
}

func (h *Handler) failRun(ctx context.Context, run *queue.DiscoveryRun, message string) {
	run.Status = queue.RunFailed
	run.ErrorMessage = message
	if err := h.store.UpdateRun(ctx, run); err != nil {
		h.logger.Warn("failed to record discovery run failure", logging.Error(err))
	}
}

// HealthCheck reports readiness; discovery only needs the store, which the
// daemon has already opened by the time handlers register.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("discovery")
}
