package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bobine/internal/queue"
	"bobine/internal/testsupport"
)

func testContext(t *testing.T) *commandContext {
	t.Helper()
	ctx := newCommandContext(nil)
	ctx.config = testsupport.NewConfig(t)
	return ctx
}

func runCommand(t *testing.T, ctx *commandContext, args ...string) string {
	t.Helper()
	root := &cobraHarness{ctx: ctx}
	return root.run(t, args...)
}

type cobraHarness struct {
	ctx *commandContext
}

func (h *cobraHarness) run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer

	cmd := newAddCommand(h.ctx)
	switch args[0] {
	case "add":
	case "discover":
		cmd = newDiscoverCommand(h.ctx)
	case "pause":
		cmd = newPauseCommand(h.ctx)
	case "resume":
		cmd = newResumeCommand(h.ctx)
	case "status":
		cmd = newStatusCommand(h.ctx)
	default:
		t.Fatalf("unknown harness command %q", args[0])
	}
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args[1:])
	cmd.SetContext(context.Background())
	if err := cmd.Execute(); err != nil {
		t.Fatalf("%s: %v", args[0], err)
	}
	return out.String()
}

func TestAddRoutesCatalogToDiscovery(t *testing.T) {
	ctx := testContext(t)
	out := runCommand(t, ctx, "add", "https://ici.radio-canada.ca/ohdio/livres-audio")
	if !strings.Contains(out, "Queued catalog scan") {
		t.Fatalf("unexpected output %q", out)
	}

	store := testsupport.MustOpenStore(t, ctx.config)
	items, err := store.ListItems(context.Background(), "", 10)
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one item, got %v (%v)", items, err)
	}
	entry, err := store.GetEntryForItem(context.Background(), items[0].ID)
	if err != nil || entry == nil {
		t.Fatalf("missing entry: %v", err)
	}
	if entry.Stage != queue.StageDiscovery {
		t.Fatalf("catalog must enter at discovery, got %q", entry.Stage)
	}
}

func TestAddRoutesItemToMetadata(t *testing.T) {
	ctx := testContext(t)
	runCommand(t, ctx, "add", "https://ici.radio-canada.ca/ohdio/livres-audio/9798/le-survenant")

	store := testsupport.MustOpenStore(t, ctx.config)
	items, _ := store.ListItems(context.Background(), "", 10)
	if len(items) != 1 {
		t.Fatalf("expected one item, got %d", len(items))
	}
	if items[0].URLClass != "provider-item" {
		t.Fatalf("unexpected class %q", items[0].URLClass)
	}
	entry, _ := store.GetEntryForItem(context.Background(), items[0].ID)
	if entry == nil || entry.Stage != queue.StageMetadata {
		t.Fatalf("item must enter at metadata, got %+v", entry)
	}
}

func TestAddIsIdempotent(t *testing.T) {
	ctx := testContext(t)
	url := "https://www.youtube.com/watch?v=abc123"
	runCommand(t, ctx, "add", url)
	out := runCommand(t, ctx, "add", url)
	if !strings.Contains(out, "Already queued") {
		t.Fatalf("second add should report a duplicate, got %q", out)
	}
}

func TestDiscoverRejectsNonCatalogURL(t *testing.T) {
	ctx := testContext(t)
	cmd := newDiscoverCommand(ctx)
	cmd.SetArgs([]string{"https://www.youtube.com/watch?v=abc"})
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error for a non-catalog URL")
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	ctx := testContext(t)
	runCommand(t, ctx, "pause")

	store := testsupport.MustOpenStore(t, ctx.config)
	state, err := store.PauseState(context.Background())
	if err != nil || !state.Paused {
		t.Fatalf("pause flag not set: %+v (%v)", state, err)
	}
	store.Close()

	out := runCommand(t, ctx, "status")
	if !strings.Contains(out, "PAUSED") {
		t.Fatalf("status should report the pause, got %q", out)
	}

	runCommand(t, ctx, "resume")
	store = testsupport.MustOpenStore(t, ctx.config)
	state, err = store.PauseState(context.Background())
	if err != nil || state.Paused {
		t.Fatalf("pause flag not cleared: %+v (%v)", state, err)
	}
}

func completedItem(t *testing.T, ctx *commandContext, filePath string) *queue.Item {
	t.Helper()
	store := testsupport.MustOpenStore(t, ctx.config)
	item := testsupport.NewItem(t, store, "https://ici.radio-canada.ca/ohdio/livres-audio/9798/le-survenant")
	item.Author = "Germaine Guèvremont"
	item.Status = queue.ItemComplete
	item.FilePath = filePath
	if err := store.UpdateItem(context.Background(), item); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	return item
}

func TestAddSkipsWhenLibraryFileExists(t *testing.T) {
	ctx := testContext(t)
	libFile := filepath.Join(t.TempDir(), "Germaine Guevremont - Le Survenant.mp3")
	if err := os.WriteFile(libFile, []byte("audio"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	item := completedItem(t, ctx, libFile)

	out := runCommand(t, ctx, "add", item.SourceURL)
	if !strings.Contains(out, "Already downloaded") {
		t.Fatalf("unexpected output %q", out)
	}

	store := testsupport.MustOpenStore(t, ctx.config)
	entry, err := store.GetEntryForItem(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetEntryForItem: %v", err)
	}
	if entry != nil {
		t.Fatalf("no entry expected while the file is on disk, got %+v", entry)
	}
}

func TestAddReacquiresWhenLibraryFileMissing(t *testing.T) {
	ctx := testContext(t)
	item := completedItem(t, ctx, filepath.Join(t.TempDir(), "disparu.mp3"))

	out := runCommand(t, ctx, "add", item.SourceURL)
	if !strings.Contains(out, "re-acquiring") {
		t.Fatalf("unexpected output %q", out)
	}

	store := testsupport.MustOpenStore(t, ctx.config)
	refreshed, err := store.GetItem(context.Background(), item.ID)
	if err != nil || refreshed == nil {
		t.Fatalf("GetItem: %v", err)
	}
	if refreshed.Status != queue.ItemPending || refreshed.FilePath != "" {
		t.Fatalf("item not reset: %+v", refreshed)
	}
	entry, err := store.GetEntryForItem(context.Background(), item.ID)
	if err != nil || entry == nil {
		t.Fatalf("expected a fresh entry: %v", err)
	}
	if entry.Stage != queue.StageMetadata {
		t.Fatalf("re-acquisition must start at metadata, got %q", entry.Stage)
	}
}
