package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"bobine/internal/logging"
	"bobine/internal/progress"
	"bobine/internal/queue"
	"bobine/internal/services"
)

func (m *Manager) handleFailure(ctx context.Context, logger *slog.Logger, entry *queue.QueueEntry, item *queue.Item, stageErr error) {
	m.setLastError(stageErr)
	message := failureMessage(entry.Stage, stageErr)

	// Deterministic failures will break the same way on every attempt, so
	// they consume the whole budget at once.
	if !services.Retryable(stageErr) {
		entry.Attempts = entry.MaxAttempts - 1
	}

	terminal, err := m.store.FailEntry(ctx, entry, message, m.retryBackoff)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("shutdown interrupted failure bookkeeping")
			return
		}
		logger.Error("failed to persist stage failure", logging.Error(err))
		return
	}

	logger.Error("stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String("error_message", message),
		logging.Bool("terminal", terminal),
		logging.Int("attempt", entry.Attempts),
		logging.Int("max_attempts", entry.MaxAttempts),
		logging.Error(stageErr),
	)
	m.emit(progress.Event{
		Type: progress.EventStageFailed, Stage: string(entry.Stage),
		ItemID: item.ID, RunID: item.RunID, Title: item.Title, Message: message,
	})

	if !terminal {
		return
	}

	// FailEntry persisted the item failure; mirror it on the in-memory copy.
	item.SetFailed(message)
	m.failed.Add(1)
	m.emit(progress.Event{
		Type: progress.EventItemFailed, Stage: string(entry.Stage),
		ItemID: item.ID, RunID: item.RunID, Title: item.Title, Message: message,
	})
	if err := m.notifier.NotifyItemFailed(ctx, item.Title, string(entry.Stage), message); err != nil {
		m.logger.Warn("item failure notification failed", logging.Error(err))
	}
	m.checkQueueDrained(ctx)
}

func failureMessage(s queue.Stage, err error) string {
	if err == nil {
		return string(s) + " failed without error detail"
	}
	if message := strings.TrimSpace(err.Error()); message != "" {
		return message
	}
	return string(s) + " failed"
}
