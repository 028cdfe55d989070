package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bobine/internal/logging"
	"bobine/internal/progress"
	"bobine/internal/queue"
	"bobine/internal/services"
)

func (m *Manager) processEntry(ctx context.Context, logger *slog.Logger, entry *queue.QueueEntry, item *queue.Item) error {
	handler := m.handlerFor(entry.Stage)
	if handler == nil {
		err := fmt.Errorf("stage %s has no handler", entry.Stage)
		m.handleFailure(ctx, logger, entry, item, err)
		return err
	}

	stageCtx := services.WithRequestID(
		services.WithStage(services.WithItemID(ctx, item.ID), string(entry.Stage)),
		uuid.NewString(),
	)
	stageLogger := logging.WithContext(stageCtx, logger)

	stageStart := time.Now()
	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String(logging.FieldSourceURL, item.SourceURL),
		logging.Int("attempt", entry.Attempts+1),
		logging.Int("max_attempts", entry.MaxAttempts),
	)
	m.emit(progress.Event{
		Type: progress.EventStageStarted, Stage: string(entry.Stage),
		ItemID: item.ID, RunID: item.RunID, Title: item.Title,
	})

	if err := handler.Prepare(stageCtx, item); err != nil {
		m.handleFailure(stageCtx, stageLogger, entry, item, err)
		return err
	}
	if err := handler.Execute(stageCtx, item); err != nil {
		if errors.Is(err, context.Canceled) {
			stageLogger.Debug("stage interrupted by shutdown")
			return err
		}
		m.handleFailure(stageCtx, stageLogger, entry, item, err)
		return err
	}

	if err := m.advance(stageCtx, entry, item); err != nil {
		m.setLastError(err)
		stageLogger.Error("failed to persist stage result", logging.Error(err))
		return err
	}

	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)
	m.emit(progress.Event{
		Type: progress.EventStageCompleted, Stage: string(entry.Stage),
		ItemID: item.ID, RunID: item.RunID, Title: item.Title,
	})
	return nil
}

// advance moves the entry to its next station after a successful stage:
// discovery retires the catalog item, metadata feeds the entry into
// download, download completes both entry and item.
func (m *Manager) advance(ctx context.Context, entry *queue.QueueEntry, item *queue.Item) error {
	switch entry.Stage {
	case queue.StageDiscovery:
		// The catalog pseudo-item has served its purpose; the discovery run
		// row carries the durable record. Deleting cascades the entry away.
		if err := m.store.DeleteItem(ctx, item.ID); err != nil {
			return fmt.Errorf("retire catalog item: %w", err)
		}
		m.emit(progress.Event{
			Type: progress.EventRunCompleted, Stage: string(entry.Stage),
			ItemID: item.ID, Title: item.SourceURL,
		})
		return nil

	case queue.StageMetadata:
		item.Status = queue.ItemActive
		item.ErrorMessage = ""
		if err := m.store.UpdateItem(ctx, item); err != nil {
			return fmt.Errorf("persist metadata result: %w", err)
		}
		if err := m.store.RequeueForStage(ctx, entry.ID, queue.StageDownload); err != nil {
			return err
		}
		return nil

	case queue.StageDownload:
		item.Status = queue.ItemComplete
		item.ErrorMessage = ""
		if err := m.store.UpdateItem(ctx, item); err != nil {
			return fmt.Errorf("persist download result: %w", err)
		}
		if err := m.store.CompleteEntry(ctx, entry.ID); err != nil {
			return err
		}
		m.completed.Add(1)
		m.emit(progress.Event{
			Type: progress.EventItemCompleted, Stage: string(entry.Stage),
			ItemID: item.ID, RunID: item.RunID, Title: item.Title, Message: item.FilePath,
		})
		if err := m.notifier.NotifyItemCompleted(ctx, item.Title, item.Author, item.FilePath); err != nil {
			m.logger.Warn("item completion notification failed", logging.Error(err))
		}
		m.checkQueueDrained(ctx)
		return nil

	default:
		return fmt.Errorf("unknown stage %q", entry.Stage)
	}
}

// checkQueueDrained fires the drained notification once when no runnable or
// active work remains after a burst of processing.
func (m *Manager) checkQueueDrained(ctx context.Context) {
	if !m.queueActive.Load() {
		return
	}
	stats, err := m.store.Stats(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.logger.Warn("failed to read queue stats", logging.Error(err))
		}
		return
	}
	if stats.EntriesQueued > 0 || stats.EntriesActive > 0 {
		return
	}
	if !m.queueActive.CompareAndSwap(true, false) {
		return
	}

	completed := int(m.completed.Load())
	failed := int(m.failed.Load())
	duration := time.Duration(0)
	if start := m.queueStart.Load(); start > 0 {
		duration = time.Since(time.Unix(0, start))
	}
	m.logger.Info("queue drained",
		logging.String(logging.FieldEventType, "queue_drained"),
		logging.Int("completed", completed),
		logging.Int("failed", failed),
		logging.Duration("duration", duration),
	)
	m.emit(progress.Event{Type: progress.EventQueueDrained})
	if err := m.notifier.NotifyQueueDrained(ctx, completed, failed, duration); err != nil {
		m.logger.Warn("queue drained notification failed", logging.Error(err))
	}
}
