// Package metadata implements the second pipeline stage: fetch the item's
// page, extract descriptive metadata, and resolve the streamable playlist
// for provider-hosted audiobooks.
package metadata

import (
	"context"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"bobine/internal/classify"
	"bobine/internal/logging"
	"bobine/internal/queue"
	"bobine/internal/resolve"
	"bobine/internal/scrape"
	"bobine/internal/services"
	"bobine/internal/stage"
	"bobine/internal/textutil"
)

// placeholderAuthor fills the primary contributor for passthrough items
// whose pages expose no byline. Items cannot leave the pending state without
// one.
const placeholderAuthor = "Inconnu"

// PageFetcher is the subset of the fetch client the handler needs.
type PageFetcher interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// StreamResolver resolves provider page HTML to a playlist URL.
type StreamResolver interface {
	ResolveStream(ctx context.Context, pageHTML string) (string, error)
}

// Handler enriches a pending item with scraped metadata and a stream URL.
type Handler struct {
	fetcher  PageFetcher
	parser   *scrape.Parser
	resolver StreamResolver
	logger   *slog.Logger
}

// NewHandler constructs the metadata stage handler.
func NewHandler(fetcher PageFetcher, resolver StreamResolver, logger *slog.Logger) *Handler {
	return &Handler{
		fetcher:  fetcher,
		parser:   scrape.NewParser(logger),
		resolver: resolver,
		logger:   logging.WithComponent(logger, "metadata"),
	}
}

// Prepare validates the item before any network work.
func (h *Handler) Prepare(_ context.Context, item *queue.Item) error {
	if strings.TrimSpace(item.SourceURL) == "" {
		return services.Wrap(services.ErrValidation, "metadata", "prepare", "item has no source URL", nil)
	}
	return nil
}

// Execute fetches the item page and fills in whatever it can. Provider items
// must yield a playlist URL; passthrough items keep their source URL as the
// download target and tolerate sparse pages.
func (h *Handler) Execute(ctx context.Context, item *queue.Item) error {
	logger := logging.WithContext(ctx, h.logger)

	class := classify.Class(item.URLClass)
	if class == "" {
		class = classify.Classify(item.SourceURL)
		item.URLClass = string(class)
	}

	body, err := h.fetcher.Get(ctx, item.SourceURL)
	if err != nil {
		return err
	}
	html := string(body)

	meta, parseErr := h.parser.ParseItem(html)
	if parseErr != nil {
		if class == classify.ProviderItem {
			return parseErr
		}
		// Passthrough pages are allowed to be opaque; the downloader works
		// from the URL alone.
		logger.Debug("page metadata unavailable", logging.Error(parseErr))
		meta = &scrape.Metadata{}
	}
	h.merge(item, meta)

	if class == classify.ProviderItem {
		item.MediaID = resolve.ExtractMediaID(html)
		streamURL, err := h.resolver.ResolveStream(ctx, html)
		if err != nil {
			return err
		}
		item.StreamURL = streamURL
	}

	if strings.TrimSpace(item.Title) == "" {
		item.Title = titleFromURL(item.SourceURL)
	}
	if strings.TrimSpace(item.Author) == "" {
		item.Author = placeholderAuthor
	}

	logger.Info("metadata extracted",
		logging.String(logging.FieldEventType, "metadata_complete"),
		logging.String("title", item.Title),
		logging.String("author", item.Author),
		logging.Bool("stream_resolved", item.StreamURL != ""),
	)
	return nil
}

// merge copies scraped fields onto the item. The page's own title beats the
// anchor text discovery recorded; every other field only fills blanks.
func (h *Handler) merge(item *queue.Item, meta *scrape.Metadata) {
	if title := textutil.CleanTitle(meta.Title); title != "" {
		item.Title = title
	}
	if item.Author == "" && meta.Author != "" {
		item.Author = meta.Author
	}
	if item.Narrator == "" && meta.Narrator != "" {
		item.Narrator = meta.Narrator
	}
	if item.Description == "" && meta.Description != "" {
		item.Description = meta.Description
	}
	if item.ArtworkURL == "" && meta.ArtworkURL != "" {
		item.ArtworkURL = meta.ArtworkURL
	}
	if item.Publisher == "" && meta.Publisher != "" {
		item.Publisher = meta.Publisher
	}
	if item.ISBN == "" && meta.ISBN != "" {
		item.ISBN = meta.ISBN
	}
	if item.Series == "" && meta.Series != "" {
		item.Series = meta.Series
	}
	if item.PublishedAt == "" && meta.PublishedAt != "" {
		item.PublishedAt = meta.PublishedAt
	}
	if item.DurationSeconds == 0 && meta.DurationSeconds > 0 {
		item.DurationSeconds = meta.DurationSeconds
	}
}

// titleFromURL derives a last-resort display title from the URL path.
func titleFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" || parsed.Path == "/" {
		return rawURL
	}
	slug := path.Base(strings.TrimRight(parsed.Path, "/"))
	slug = strings.ReplaceAll(slug, "-", " ")
	slug = strings.ReplaceAll(slug, "_", " ")
	if slug = strings.TrimSpace(slug); slug == "" {
		return rawURL
	}
	return slug
}

// HealthCheck reports readiness; the handler has no external dependencies
// beyond HTTP, which is checked lazily per request.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("metadata")
}
