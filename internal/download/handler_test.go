package download_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"bobine/internal/config"
	"bobine/internal/download"
	"bobine/internal/logging"
	"bobine/internal/queue"
	"bobine/internal/services"
	"bobine/internal/services/ffmpeg"
	"bobine/internal/services/ytdlp"
	"bobine/internal/testsupport"
)

type stubDownloader struct {
	err    error
	called int
	source string
}

func (s *stubDownloader) Download(_ context.Context, sourceURL, destDir string, progress func(ytdlp.ProgressUpdate)) (string, error) {
	s.called++
	s.source = sourceURL
	if s.err != nil {
		return "", s.err
	}
	if progress != nil {
		progress(ytdlp.ProgressUpdate{Percent: 50})
		progress(ytdlp.ProgressUpdate{Percent: 100})
	}
	jobDir := filepath.Join(destDir, "job-test")
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(jobDir, "raw.mp3")
	return path, os.WriteFile(path, []byte("audio"), 0o644)
}

type stubTagger struct {
	err       error
	called    int
	tags      ffmpeg.Tags
	coverSize int
}

func (s *stubTagger) Tag(_ context.Context, _ string, tags ffmpeg.Tags) error {
	s.called++
	s.tags = tags
	// The cover lives in the job directory, which is gone after Execute;
	// record its size while it still exists.
	if tags.ArtworkPath != "" {
		if info, err := os.Stat(tags.ArtworkPath); err == nil {
			s.coverSize = int(info.Size())
		}
	}
	return s.err
}

func newItem() *queue.Item {
	return &queue.Item{
		ID:        1,
		Title:     "Le Survenant",
		Author:    "Germaine Guèvremont",
		Narrator:  "Vincent Graton",
		SourceURL: "https://ici.radio-canada.ca/ohdio/livres-audio/9798/le-survenant",
		StreamURL: "https://cdn.radio-canada.ca/hls/master.m3u8",
		Status:    queue.ItemActive,
	}
}

type stubArtwork struct {
	err    error
	data   []byte
	called int
	url    string
}

func (s *stubArtwork) Get(_ context.Context, rawURL string) ([]byte, error) {
	s.called++
	s.url = rawURL
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

func newHandler(t *testing.T, downloader *stubDownloader, tagger *stubTagger) (*download.Handler, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	handler := download.NewHandler(cfg, downloader, tagger, nil, nil, logging.NewNop())
	return handler, cfg
}

func newHandlerWithArtwork(t *testing.T, downloader *stubDownloader, tagger *stubTagger, artwork *stubArtwork) (*download.Handler, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	handler := download.NewHandler(cfg, downloader, tagger, artwork, nil, logging.NewNop())
	return handler, cfg
}

func TestExecuteDownloadsTagsAndFiles(t *testing.T) {
	downloader := &stubDownloader{}
	tagger := &stubTagger{}
	handler, cfg := newHandler(t, downloader, tagger)

	item := newItem()
	if err := handler.Prepare(context.Background(), item); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := handler.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := filepath.Join(cfg.Paths.DownloadDir, "Germaine Guevremont - Le Survenant.mp3")
	if item.FilePath != want {
		t.Fatalf("unexpected final path %q, want %q", item.FilePath, want)
	}
	if _, err := os.Stat(item.FilePath); err != nil {
		t.Fatalf("final file missing: %v", err)
	}
	if item.FileSize == 0 {
		t.Fatal("file size not recorded")
	}

	if downloader.source != item.StreamURL {
		t.Fatalf("resolved playlist must be preferred, got %q", downloader.source)
	}
	if tagger.called != 1 {
		t.Fatalf("tagger called %d times", tagger.called)
	}
	if tagger.tags.Artist != item.Author || tagger.tags.Narrator != item.Narrator {
		t.Fatalf("unexpected tags %+v", tagger.tags)
	}

	// The per-job temp directory must be cleaned up.
	entries, err := os.ReadDir(cfg.Paths.TempDir)
	if err != nil {
		t.Fatalf("ReadDir temp: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("job directory left behind: %v", entries)
	}
}

func TestExecuteShortCircuitsWhenFileExists(t *testing.T) {
	downloader := &stubDownloader{}
	tagger := &stubTagger{}
	handler, cfg := newHandler(t, downloader, tagger)

	if err := os.MkdirAll(cfg.Paths.DownloadDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	existing := filepath.Join(cfg.Paths.DownloadDir, "Germaine Guevremont - Le Survenant.mp3")
	if err := os.WriteFile(existing, []byte("already here"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	item := newItem()
	if err := handler.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if downloader.called != 0 || tagger.called != 0 {
		t.Fatal("existing file must skip download and tagging")
	}
	if item.FilePath != existing {
		t.Fatalf("unexpected file path %q", item.FilePath)
	}
}

func TestExecuteFallsBackToSourceURL(t *testing.T) {
	downloader := &stubDownloader{}
	handler, _ := newHandler(t, downloader, &stubTagger{})

	item := newItem()
	item.StreamURL = ""
	if err := handler.Prepare(context.Background(), item); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := handler.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if downloader.source != item.SourceURL {
		t.Fatalf("expected source URL fallback, got %q", downloader.source)
	}
}

func TestExecuteEmbedsCoverArtAndReleaseDate(t *testing.T) {
	downloader := &stubDownloader{}
	tagger := &stubTagger{}
	artwork := &stubArtwork{data: []byte("jpeg bytes")}
	handler, _ := newHandlerWithArtwork(t, downloader, tagger, artwork)

	item := newItem()
	item.ArtworkURL = "https://images.radio-canada.ca/covers/le-survenant.jpg?w=600"
	item.PublishedAt = "2021-03-15"
	if err := handler.Prepare(context.Background(), item); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := handler.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if artwork.called != 1 || artwork.url != item.ArtworkURL {
		t.Fatalf("artwork fetched %d times from %q", artwork.called, artwork.url)
	}
	if tagger.tags.Date != "2021-03-15" {
		t.Fatalf("release date not passed to tagger: %+v", tagger.tags)
	}
	if filepath.Base(tagger.tags.ArtworkPath) != "cover.jpg" {
		t.Fatalf("unexpected artwork path %q", tagger.tags.ArtworkPath)
	}
	if tagger.coverSize != len(artwork.data) {
		t.Fatalf("cover file had %d bytes at tag time, want %d", tagger.coverSize, len(artwork.data))
	}
}

func TestExecuteToleratesArtworkFetchFailure(t *testing.T) {
	downloader := &stubDownloader{}
	tagger := &stubTagger{}
	artwork := &stubArtwork{err: errors.New("404 not found")}
	handler, _ := newHandlerWithArtwork(t, downloader, tagger, artwork)

	item := newItem()
	item.ArtworkURL = "https://images.radio-canada.ca/covers/gone.jpg"
	if err := handler.Prepare(context.Background(), item); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := handler.Execute(context.Background(), item); err != nil {
		t.Fatalf("cover failure must not fail the stage: %v", err)
	}
	if tagger.called != 1 || tagger.tags.ArtworkPath != "" {
		t.Fatalf("expected tagging without artwork, got %+v", tagger.tags)
	}
}

func TestExecutePropagatesDownloaderFailure(t *testing.T) {
	boom := services.Wrap(services.ErrExternalTool, "download", "yt-dlp", "exit status 1", nil)
	handler, _ := newHandler(t, &stubDownloader{err: boom}, &stubTagger{})

	item := newItem()
	err := handler.Execute(context.Background(), item)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected downloader error, got %v", err)
	}
	if !services.Retryable(err) {
		t.Fatal("external tool failures should be retryable")
	}
}

func TestPrepareValidation(t *testing.T) {
	handler, _ := newHandler(t, &stubDownloader{}, &stubTagger{})

	missingURL := newItem()
	missingURL.SourceURL = ""
	missingURL.StreamURL = ""
	if err := handler.Prepare(context.Background(), missingURL); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing URL, got %v", err)
	}

	missingAuthor := newItem()
	missingAuthor.Author = ""
	if err := handler.Prepare(context.Background(), missingAuthor); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing author, got %v", err)
	}
}
