package workflow

import (
	"context"

	"bobine/internal/queue"
	"bobine/internal/stage"
)

// Health reports the readiness of every registered stage handler.
func (m *Manager) Health(ctx context.Context) []stage.Health {
	m.mu.RLock()
	handlers := make(map[queue.Stage]stage.Handler, len(m.handlers))
	for s, h := range m.handlers {
		handlers[s] = h
	}
	m.mu.RUnlock()

	results := make([]stage.Health, 0, len(handlers))
	for _, s := range []queue.Stage{queue.StageDiscovery, queue.StageMetadata, queue.StageDownload} {
		handler, ok := handlers[s]
		if !ok {
			continue
		}
		results = append(results, handler.HealthCheck(ctx))
	}
	return results
}

// Status is a point-in-time snapshot of the pipeline.
type Status struct {
	Running bool
	Paused  bool
	Stats   queue.Stats
	LastErr string
}

// Snapshot gathers queue statistics and the pause flag for status displays.
func (m *Manager) Snapshot(ctx context.Context) (Status, error) {
	status := Status{Running: m.Running()}
	if err := m.LastError(); err != nil {
		status.LastErr = err.Error()
	}

	stats, err := m.store.Stats(ctx)
	if err != nil {
		return status, err
	}
	status.Stats = *stats

	pause, err := m.store.PauseState(ctx)
	if err != nil {
		return status, err
	}
	status.Paused = pause.Paused
	return status, nil
}
