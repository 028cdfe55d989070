// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"bobine/internal/config"
	"bobine/internal/queue"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DownloadDir = filepath.Join(base, "downloads")
	cfg.Paths.TempDir = filepath.Join(base, "tmp")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.DatabasePath = filepath.Join(base, "bobine.db")

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithMaxAttempts overrides the queue attempt budget on the test config.
func WithMaxAttempts(attempts int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Queue.MaxAttempts = attempts
	}
}

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// NewItem creates a pending item for tests using the provided store.
func NewItem(t testing.TB, store *queue.Store, sourceURL string) *queue.Item {
	t.Helper()

	item, _, err := store.CreateItem(context.Background(), &queue.Item{
		SourceURL: sourceURL,
		URLClass:  "provider-item",
		Title:     "Titre de test",
	})
	if err != nil {
		t.Fatalf("store.CreateItem: %v", err)
	}
	return item
}

// Enqueue creates the queue entry for an item at the given stage.
func Enqueue(t testing.TB, store *queue.Store, itemID int64, stage queue.Stage) *queue.QueueEntry {
	t.Helper()

	entry, _, err := store.Enqueue(context.Background(), itemID, stage, 0, 3)
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return entry
}
