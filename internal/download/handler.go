// Package download implements the final pipeline stage: fetch the audio with
// yt-dlp, embed metadata with ffmpeg, and move the finished file into the
// library under a stable name.
package download

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"bobine/internal/config"
	"bobine/internal/fileutil"
	"bobine/internal/logging"
	"bobine/internal/preflight"
	"bobine/internal/progress"
	"bobine/internal/queue"
	"bobine/internal/services"
	"bobine/internal/services/ffmpeg"
	"bobine/internal/services/ytdlp"
	"bobine/internal/stage"
	"bobine/internal/textutil"
)

// ArtworkFetcher retrieves the cover image referenced by the item's page.
type ArtworkFetcher interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// Handler turns a resolved item into a tagged audio file in the library.
type Handler struct {
	cfg        *config.Config
	downloader ytdlp.Downloader
	tagger     ffmpeg.Tagger
	artwork    ArtworkFetcher
	emitter    progress.Emitter
	logger     *slog.Logger
}

// NewHandler constructs the download stage handler. artwork may be nil;
// cover embedding is then skipped.
func NewHandler(cfg *config.Config, downloader ytdlp.Downloader, tagger ffmpeg.Tagger, artwork ArtworkFetcher, emitter progress.Emitter, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:        cfg,
		downloader: downloader,
		tagger:     tagger,
		artwork:    artwork,
		emitter:    emitter,
		logger:     logging.WithComponent(logger, "download"),
	}
}

// Prepare validates the item and the target filesystem before the transfer.
func (h *Handler) Prepare(_ context.Context, item *queue.Item) error {
	if h.sourceFor(item) == "" {
		return services.Wrap(services.ErrValidation, "download", "prepare", "item has no downloadable URL", nil)
	}
	if strings.TrimSpace(item.Title) == "" || strings.TrimSpace(item.Author) == "" {
		return services.Wrap(services.ErrValidation, "download", "prepare", "item is missing title or author", nil)
	}
	if err := preflight.CheckTarget(h.cfg.Paths.DownloadDir, h.cfg.Downloader.MinFreeSpaceMB<<20); err != nil {
		return err
	}
	return preflight.CheckDirectoryAccess(h.cfg.Paths.TempDir)
}

// Execute downloads, tags, and files the audio. When the final file already
// exists the stage completes immediately without re-downloading.
func (h *Handler) Execute(ctx context.Context, item *queue.Item) error {
	logger := logging.WithContext(ctx, h.logger)

	finalPath := h.finalPath(item)
	if fileutil.FileExists(finalPath) {
		logger.Info("final file already present, skipping download",
			logging.String("file", finalPath))
		return h.recordResult(item, finalPath)
	}

	source := h.sourceFor(item)
	output, err := h.downloader.Download(ctx, source, h.cfg.Paths.TempDir, func(update ytdlp.ProgressUpdate) {
		if h.emitter == nil {
			return
		}
		h.emitter.Emit(progress.Event{
			Type:    progress.EventStageProgress,
			Stage:   string(queue.StageDownload),
			ItemID:  item.ID,
			RunID:   item.RunID,
			Title:   item.Title,
			Percent: update.Percent,
			Message: update.Message,
		})
	})
	if err != nil {
		return err
	}
	jobDir := filepath.Dir(output)
	defer os.RemoveAll(jobDir)

	tags := ffmpeg.Tags{
		Title:       item.Title,
		Artist:      item.Author,
		AlbumArtist: item.Author,
		Narrator:    item.Narrator,
		Description: item.Description,
		Publisher:   item.Publisher,
		Date:        item.PublishedAt,
		ArtworkPath: h.fetchArtwork(ctx, logger, item, jobDir),
	}
	if err := h.tagger.Tag(ctx, output, tags); err != nil {
		return err
	}

	if err := fileutil.MoveFile(output, finalPath); err != nil {
		return services.Wrap(services.ErrPrecondition, "download", "move to library",
			fmt.Sprintf("cannot place %s", finalPath), err)
	}

	logger.Info("download completed",
		logging.String(logging.FieldEventType, "download_complete"),
		logging.String("file", finalPath),
	)
	return h.recordResult(item, finalPath)
}

// fetchArtwork downloads the item's cover into the job directory and returns
// its path. Cover art is best effort: any failure logs and returns empty so
// the download still completes untagged of artwork.
func (h *Handler) fetchArtwork(ctx context.Context, logger *slog.Logger, item *queue.Item, jobDir string) string {
	artworkURL := strings.TrimSpace(item.ArtworkURL)
	if h.artwork == nil || artworkURL == "" {
		return ""
	}
	data, err := h.artwork.Get(ctx, artworkURL)
	if err != nil {
		logger.Debug("cover art unavailable", logging.Error(err))
		return ""
	}
	path := filepath.Join(jobDir, "cover"+artworkExt(artworkURL))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Debug("cover art not writable", logging.Error(err))
		return ""
	}
	return path
}

func artworkExt(rawURL string) string {
	switch strings.ToLower(filepath.Ext(strings.SplitN(rawURL, "?", 2)[0])) {
	case ".png":
		return ".png"
	case ".webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func (h *Handler) recordResult(item *queue.Item, finalPath string) error {
	item.FilePath = finalPath
	if info, err := os.Stat(finalPath); err == nil {
		item.FileSize = info.Size()
	}
	return nil
}

// sourceFor picks the download target: the resolved playlist when the
// provider pipeline produced one, the submitted URL otherwise.
func (h *Handler) sourceFor(item *queue.Item) string {
	if url := strings.TrimSpace(item.StreamURL); url != "" {
		return url
	}
	return strings.TrimSpace(item.SourceURL)
}

// finalPath builds the stable library path "<Author> - <Title>.<ext>".
func (h *Handler) finalPath(item *queue.Item) string {
	name := fmt.Sprintf("%s - %s", item.Author, item.Title)
	ext := strings.ToLower(strings.TrimSpace(h.cfg.Downloader.AudioFormat))
	if ext == "" {
		ext = "mp3"
	}
	return filepath.Join(h.cfg.Paths.DownloadDir, textutil.SanitizeFileName(name)+"."+ext)
}

// HealthCheck verifies the external tools and the library directory.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	if err := preflight.CheckBinary(h.cfg.Downloader.YtdlpBinary); err != nil {
		return stage.Unhealthy("download", err.Error())
	}
	if err := preflight.CheckBinary(h.cfg.Downloader.FFmpegBinary); err != nil {
		return stage.Unhealthy("download", err.Error())
	}
	if err := preflight.CheckDirectoryAccess(h.cfg.Paths.DownloadDir); err != nil {
		return stage.Unhealthy("download", err.Error())
	}
	return stage.Healthy("download")
}
