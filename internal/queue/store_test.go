package queue_test

import (
	"context"
	"testing"

	"bobine/internal/queue"
	"bobine/internal/testsupport"
)

func TestCreateItemDeduplicatesBySourceURL(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first, created, err := store.CreateItem(ctx, &queue.Item{
		SourceURL: "https://ici.radio-canada.ca/ohdio/livres-audio/1/a",
		URLClass:  "provider-item",
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if !created {
		t.Fatal("first insert should create")
	}

	second, created, err := store.CreateItem(ctx, &queue.Item{
		SourceURL: "https://ici.radio-canada.ca/ohdio/livres-audio/1/a",
		URLClass:  "provider-item",
	})
	if err != nil {
		t.Fatalf("CreateItem duplicate: %v", err)
	}
	if created {
		t.Fatal("duplicate source URL must not create a second item")
	}
	if second.ID != first.ID {
		t.Fatalf("expected existing item %d, got %d", first.ID, second.ID)
	}

	items, err := store.ListItems(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected exactly one item, got %d", len(items))
	}
}

func TestUpdateItemRequiresAuthorOncePastPending(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	item := testsupport.NewItem(t, store, "https://ici.radio-canada.ca/ohdio/livres-audio/2/b")

	item.Status = queue.ItemActive
	if err := store.UpdateItem(ctx, item); err == nil {
		t.Fatal("expected validation error without author")
	}

	item.Author = "Gabrielle Roy"
	if err := store.UpdateItem(ctx, item); err != nil {
		t.Fatalf("UpdateItem with author: %v", err)
	}

	// Still pending items may omit the author.
	pending := testsupport.NewItem(t, store, "https://ici.radio-canada.ca/ohdio/livres-audio/3/c")
	pending.Title = "Sans auteur"
	if err := store.UpdateItem(ctx, pending); err != nil {
		t.Fatalf("UpdateItem pending without author: %v", err)
	}
}

func TestItemMetadataFieldsRoundTrip(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	item := testsupport.NewItem(t, store, "https://ici.radio-canada.ca/ohdio/livres-audio/4/d")
	item.Author = "Germaine Guèvremont"
	item.Publisher = "Fides"
	item.PublishedAt = "2021-03-15"
	item.ArtworkURL = "https://images.radio-canada.ca/covers/le-survenant.jpg"
	if err := store.UpdateItem(ctx, item); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}

	loaded, err := store.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if loaded.PublishedAt != "2021-03-15" {
		t.Fatalf("published date not persisted: %+v", loaded)
	}
	if loaded.Publisher != "Fides" || loaded.ArtworkURL != item.ArtworkURL {
		t.Fatalf("metadata fields not persisted: %+v", loaded)
	}
}

func TestDiscoveryRunLifecycle(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	run, err := store.CreateRun(ctx, "https://ici.radio-canada.ca/ohdio/livres-audio", "job-123")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.Status != queue.RunRunning {
		t.Fatalf("new run should be running, got %q", run.Status)
	}
	if run.ExternalJobRef != "job-123" {
		t.Fatalf("unexpected job ref %q", run.ExternalJobRef)
	}

	run.Status = queue.RunCompleted
	run.TotalCount = 12
	run.QueuedCount = 10
	run.SkippedCount = 2
	if err := store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	loaded, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if loaded.Status != queue.RunCompleted || loaded.TotalCount != 12 || loaded.SkippedCount != 2 {
		t.Fatalf("run not persisted: %+v", loaded)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	item, err := store.GetItem(ctx, 9999)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if item != nil {
		t.Fatal("expected nil for missing item")
	}

	run, err := store.GetRun(ctx, 9999)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run != nil {
		t.Fatal("expected nil for missing run")
	}
}

func TestStats(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	a := testsupport.NewItem(t, store, "https://example.com/a")
	testsupport.NewItem(t, store, "https://example.com/b")
	testsupport.Enqueue(t, store, a.ID, queue.StageMetadata)

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ItemsTotal != 2 || stats.ItemsPending != 2 {
		t.Fatalf("unexpected item stats %+v", stats)
	}
	if stats.EntriesQueued != 1 {
		t.Fatalf("unexpected entry stats %+v", stats)
	}
}

func TestPauseControl(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	state, err := store.PauseState(ctx)
	if err != nil {
		t.Fatalf("PauseState: %v", err)
	}
	if state.Paused {
		t.Fatal("fresh database should not be paused")
	}

	if err := store.SetPaused(ctx, true); err != nil {
		t.Fatalf("SetPaused: %v", err)
	}
	state, err = store.PauseState(ctx)
	if err != nil {
		t.Fatalf("PauseState: %v", err)
	}
	if !state.Paused {
		t.Fatal("pause flag not persisted")
	}

	if err := store.SetMaxConcurrent(ctx, 7); err != nil {
		t.Fatalf("SetMaxConcurrent: %v", err)
	}
	state, err = store.PauseState(ctx)
	if err != nil {
		t.Fatalf("PauseState: %v", err)
	}
	if state.MaxConcurrent != 7 {
		t.Fatalf("expected max concurrent 7, got %d", state.MaxConcurrent)
	}
}
