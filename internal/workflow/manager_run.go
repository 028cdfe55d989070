package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"bobine/internal/logging"
	"bobine/internal/queue"
)

// Start launches the per-stage worker pools. Entries left active by an
// unclean shutdown are requeued first so no work is stranded.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.handlers) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	stages := make([]queue.Stage, 0, len(m.handlers))
	for s := range m.handlers {
		stages = append(stages, s)
	}
	m.mu.Unlock()

	if count, err := m.store.ResetStuckActive(runCtx); err != nil {
		m.logger.Warn("failed to requeue stuck entries", logging.Error(err))
	} else if count > 0 {
		m.logger.Info("requeued entries from previous run", logging.Int64("count", count))
	}

	for _, s := range stages {
		workers := m.workers[s]
		if workers < 1 {
			workers = 1
		}
		for i := 0; i < workers; i++ {
			m.wg.Add(1)
			worker := i
			go m.runWorker(runCtx, s, worker)
		}
		m.logger.Info("stage workers started",
			logging.String(logging.FieldStage, string(s)),
			logging.Int("workers", workers))
	}
	return nil
}

// Stop terminates background processing and waits for workers to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Running reports whether worker pools are active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Manager) runWorker(ctx context.Context, s queue.Stage, worker int) {
	defer m.wg.Done()
	logger := m.logger.With(
		logging.String(logging.FieldStage, string(s)),
		logging.Int("worker", worker),
	)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entry, item, err := m.store.NextForStage(ctx, s)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.setLastError(err)
			logger.Error("failed to fetch next queue entry", logging.Error(err))
			m.sleep(ctx, m.errorInterval)
			continue
		}
		if entry == nil {
			m.checkQueueDrained(ctx)
			m.sleep(ctx, m.pollInterval)
			continue
		}

		// Download is the pause-sensitive stage: a claimed entry is handed
		// back with its run_at pushed out, so pausing never burns an attempt.
		if s == queue.StageDownload && m.pausedNow(ctx, logger) {
			if err := m.store.DeferEntry(ctx, entry.ID, m.pauseRecheck); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Warn("failed to defer paused entry", logging.Error(err))
				}
			}
			continue
		}

		m.markQueueActive()
		if err := m.processEntry(ctx, logger, entry, item); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

func (m *Manager) pausedNow(ctx context.Context, logger *slog.Logger) bool {
	state, err := m.store.PauseState(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Warn("failed to read pause state", logging.Error(err))
		}
		return false
	}
	return state.Paused
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (m *Manager) markQueueActive() {
	if m.queueActive.CompareAndSwap(false, true) {
		m.queueStart.Store(time.Now().UnixNano())
		m.completed.Store(0)
		m.failed.Store(0)
	}
}
