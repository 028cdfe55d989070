package resolve

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"

	"bobine/internal/logging"
	"bobine/internal/services"
)

// validationEndpoint is the provider's fixed media validation API.
const validationEndpoint = "https://services.radio-canada.ca/media/validation/v2/"

// Fetcher is the subset of the fetch client the resolver needs.
type Fetcher interface {
	GetJSON(ctx context.Context, rawURL string, params url.Values) ([]byte, error)
}

// Resolver resolves a media identifier to a streamable playlist URL.
type Resolver struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// New constructs a resolver.
func New(fetcher Fetcher, logger *slog.Logger) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		logger:  logging.WithComponent(logger, "resolve"),
	}
}

// ResolveStream extracts the media identifier from pageHTML and queries the
// validation API for the playlist URL. The API response is searched
// recursively for any string ending in .m3u8 regardless of nesting.
func (r *Resolver) ResolveStream(ctx context.Context, pageHTML string) (string, error) {
	mediaID := ExtractMediaID(pageHTML)
	if mediaID == "" {
		return "", services.Wrap(services.ErrMediaIDNotFound, "metadata", "extract media id", "no identifier in page", nil)
	}
	r.logger.Debug("media id extracted", logging.String("media_id", mediaID))
	return r.LookupPlaylist(ctx, mediaID)
}

// LookupPlaylist queries the validation API for mediaID and returns the
// playlist URL found in the response.
func (r *Resolver) LookupPlaylist(ctx context.Context, mediaID string) (string, error) {
	params := url.Values{}
	params.Set("appCode", "medianet")
	params.Set("connectionType", "hd")
	params.Set("deviceType", "ipad")
	params.Set("idMedia", mediaID)
	params.Set("multibitrate", "true")
	params.Set("output", "json")
	params.Set("tech", "hls")
	params.Set("manifestVersion", "2")

	body, err := r.fetcher.GetJSON(ctx, validationEndpoint, params)
	if err != nil {
		return "", services.Wrap(services.ErrAPIRequestFailed, "metadata", "validation api", "request failed for media "+mediaID, err)
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", services.Wrap(services.ErrAPIRequestFailed, "metadata", "validation api", "response is not JSON", err)
	}

	stream, ok := findString(payload, isPlaylistURL)
	if !ok {
		return "", services.Wrap(services.ErrPlaylistNotFound, "metadata", "validation api", "no playlist URL in response for media "+mediaID, nil)
	}
	return stream, nil
}

// isPlaylistURL matches HLS playlist URLs, tolerating query strings after the
// manifest suffix.
func isPlaylistURL(value string) bool {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "http") {
		return false
	}
	if idx := strings.IndexByte(value, '?'); idx >= 0 {
		value = value[:idx]
	}
	return strings.HasSuffix(value, ".m3u8")
}
