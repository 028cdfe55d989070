// Package classify maps submitted URLs to a handling class that decides how
// the pipeline routes them. Classification is a pure function over the URL
// text; it performs no I/O and never fails.
package classify

import (
	"net/url"
	"strings"
)

// Class is the handling class assigned to a submitted URL.
type Class string

const (
	// ProviderCatalog is a provider page listing multiple audiobooks.
	ProviderCatalog Class = "provider-catalog"
	// ProviderItem is a single audiobook page on the provider.
	ProviderItem Class = "provider-item"
	// ExternalGeneric is a host known to work with the general-purpose downloader.
	ExternalGeneric Class = "external-generic"
	// Unrecognized is everything else; still attempted via the general-purpose
	// downloader as a last resort.
	Unrecognized Class = "unrecognized"
)

// providerHosts are the hosts served by the OHdio-specific pipeline.
var providerHosts = map[string]struct{}{
	"ici.radio-canada.ca": {},
	"radio-canada.ca":     {},
}

// genericHosts are known to be handled well by the general-purpose downloader.
var genericHosts = map[string]struct{}{
	"youtube.com":    {},
	"youtu.be":       {},
	"soundcloud.com": {},
	"vimeo.com":      {},
}

const catalogPathMarker = "/ohdio/livres-audio"

// Classify assigns a handling class to raw. Invalid or empty input yields
// Unrecognized; the function is total over all inputs.
func Classify(raw string) Class {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Unrecognized
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return Unrecognized
	}

	host := strings.ToLower(strings.TrimPrefix(parsed.Hostname(), "www."))
	path := strings.TrimRight(parsed.EscapedPath(), "/")

	if _, ok := providerHosts[host]; ok {
		// The catalog pattern is a prefix of the item pattern, so it must be
		// tested first: /ohdio/livres-audio is the catalog, anything deeper
		// under it is an item page.
		switch {
		case strings.EqualFold(path, catalogPathMarker):
			return ProviderCatalog
		case containsFold(path, catalogPathMarker+"/"):
			return ProviderItem
		default:
			return Unrecognized
		}
	}

	if _, ok := genericHosts[host]; ok {
		return ExternalGeneric
	}
	return Unrecognized
}

// IsProvider reports whether the class belongs to the native provider pipeline.
func (c Class) IsProvider() bool {
	return c == ProviderCatalog || c == ProviderItem
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
