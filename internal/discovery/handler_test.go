package discovery_test

import (
	"context"
	"errors"
	"testing"

	"bobine/internal/discovery"
	"bobine/internal/logging"
	"bobine/internal/queue"
	"bobine/internal/services"
	"bobine/internal/testsupport"
)

const catalogHTML = `<!DOCTYPE html>
<html><body>
<div class="index-grid">
  <div class="index-grid-item">
    <a href="/ohdio/livres-audio/9798/le-survenant"><span>Le Survenant</span></a>
  </div>
  <div class="index-grid-item">
    <a href="/ohdio/livres-audio/9811/bonheur-d-occasion"><span>Bonheur d'occasion</span></a>
  </div>
</div>
</body></html>`

type stubFetcher struct {
	body []byte
	err  error
	urls []string
}

func (s *stubFetcher) Get(_ context.Context, rawURL string) ([]byte, error) {
	s.urls = append(s.urls, rawURL)
	return s.body, s.err
}

func catalogItem(t *testing.T, store *queue.Store) *queue.Item {
	t.Helper()
	item, _, err := store.CreateItem(context.Background(), &queue.Item{
		SourceURL: "https://ici.radio-canada.ca/ohdio/livres-audio",
		URLClass:  "provider-catalog",
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	return item
}

func TestExecuteQueuesDiscoveredItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fetcher := &stubFetcher{body: []byte(catalogHTML)}
	handler := discovery.NewHandler(cfg, store, fetcher, nil, logging.NewNop())

	item := catalogItem(t, store)
	if err := handler.Prepare(context.Background(), item); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := handler.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	runs, err := store.ListRuns(context.Background(), 10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one run, got %v (%v)", runs, err)
	}
	run := runs[0]
	if run.Status != queue.RunCompleted || run.TotalCount != 2 || run.QueuedCount != 2 || run.SkippedCount != 0 {
		t.Fatalf("unexpected run %+v", run)
	}

	items, err := store.ListItems(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	// The catalog pseudo-item plus two discovered audiobooks.
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for _, it := range items {
		if it.ID == item.ID {
			continue
		}
		if it.RunID != run.ID {
			t.Fatalf("discovered item not linked to run: %+v", it)
		}
		entry, err := store.GetEntryForItem(context.Background(), it.ID)
		if err != nil || entry == nil {
			t.Fatalf("discovered item has no entry: %v", err)
		}
		if entry.Stage != queue.StageMetadata {
			t.Fatalf("discovered item queued at %q, want metadata", entry.Stage)
		}
	}
}

func TestExecuteSkipsKnownSourceURLs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fetcher := &stubFetcher{body: []byte(catalogHTML)}
	handler := discovery.NewHandler(cfg, store, fetcher, nil, logging.NewNop())

	// One of the two is already in the library.
	testsupport.NewItem(t, store, "https://ici.radio-canada.ca/ohdio/livres-audio/9798/le-survenant")

	item := catalogItem(t, store)
	if err := handler.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	runs, _ := store.ListRuns(context.Background(), 10)
	run := runs[0]
	if run.QueuedCount != 1 || run.SkippedCount != 1 {
		t.Fatalf("expected 1 queued 1 skipped, got %+v", run)
	}
}

func TestExecuteRecordsFetchFailureOnRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fetcher := &stubFetcher{err: services.Wrap(services.ErrTransient, "fetch", "get", "connection refused", nil)}
	handler := discovery.NewHandler(cfg, store, fetcher, nil, logging.NewNop())

	item := catalogItem(t, store)
	err := handler.Execute(context.Background(), item)
	if err == nil {
		t.Fatal("expected fetch error")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}

	runs, _ := store.ListRuns(context.Background(), 10)
	if len(runs) != 1 || runs[0].Status != queue.RunFailed || runs[0].ErrorMessage == "" {
		t.Fatalf("run failure not recorded: %+v", runs)
	}
}

func TestPrepareRejectsNonCatalogItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	handler := discovery.NewHandler(cfg, store, &stubFetcher{}, nil, logging.NewNop())

	item := testsupport.NewItem(t, store, "https://ici.radio-canada.ca/ohdio/livres-audio/1/a")
	err := handler.Prepare(context.Background(), item)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
