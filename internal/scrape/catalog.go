// Package scrape extracts audiobook listings and item metadata from provider
// HTML. Page structure on OHdio shifts between releases, so extraction runs
// several independent strategies and accepts whatever subset succeeds.
package scrape

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"bobine/internal/logging"
	"bobine/internal/services"
)

// Discovered is one catalog entry found on a listing page.
type Discovered struct {
	Title     string
	SourceURL string
}

// catalogStrategy inspects the document and returns zero or more candidates.
// Strategies run in priority order and are isolated from one another.
type catalogStrategy struct {
	name string
	run  func(doc *goquery.Document) []Discovered
}

var catalogStrategies = []catalogStrategy{
	{name: "grid", run: gridStrategy},
	{name: "common-selectors", run: commonSelectorStrategy},
	{name: "text-anchor", run: textAnchorStrategy},
	{name: "generic-links", run: genericLinkStrategy},
}

// Parser turns provider HTML into discovered items or item metadata.
type Parser struct {
	logger *slog.Logger
}

// NewParser constructs a parser.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: logging.WithComponent(logger, "scrape")}
}

// ParseCatalog extracts the deduplicated list of audiobooks from a catalog
// page. Each strategy runs independently; a strategy failure is logged and
// skipped. Results are merged and deduplicated by canonical absolute URL.
func (p *Parser) ParseCatalog(html string, baseURL string) ([]Discovered, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "discovery", "parse catalog", "document is not parseable HTML", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "discovery", "parse catalog", "invalid base URL", err)
	}

	var merged []Discovered
	for _, strategy := range catalogStrategies {
		results := p.runCatalogStrategy(strategy, doc)
		p.logger.Debug("catalog strategy finished",
			logging.String("strategy", strategy.name),
			logging.Int("candidates", len(results)))
		merged = append(merged, results...)
	}

	return dedupeByURL(merged, base), nil
}

// runCatalogStrategy isolates a single strategy so a panic inside one broken
// selector run never aborts the remaining strategies.
func (p *Parser) runCatalogStrategy(strategy catalogStrategy, doc *goquery.Document) (results []Discovered) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("catalog strategy panicked",
				logging.String("strategy", strategy.name),
				logging.Any("panic", r))
			results = nil
		}
	}()
	return strategy.run(doc)
}

// gridStrategy targets the structured index grid the catalog normally renders.
func gridStrategy(doc *goquery.Document) []Discovered {
	var out []Discovered
	doc.Find(".index-grid-item a[href], [class*='grid'] a[href*='livres-audio']").Each(func(_ int, sel *goquery.Selection) {
		if d, ok := discoveredFromAnchor(sel); ok {
			out = append(out, d)
		}
	})
	return out
}

// commonSelectorStrategy walks generic card/list containers.
func commonSelectorStrategy(doc *goquery.Document) []Discovered {
	var out []Discovered
	doc.Find("article a[href*='livres-audio'], .card a[href*='livres-audio'], li.media-item a[href]").Each(func(_ int, sel *goquery.Selection) {
		if d, ok := discoveredFromAnchor(sel); ok {
			out = append(out, d)
		}
	})
	return out
}

// textAnchorStrategy keys off the visible "Livre audio" label the provider
// places on audiobook tiles.
func textAnchorStrategy(doc *goquery.Document) []Discovered {
	var out []Discovered
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		text := strings.ToLower(sel.Text())
		if !strings.Contains(text, "livre audio") {
			return
		}
		if d, ok := discoveredFromAnchor(sel); ok {
			out = append(out, d)
		}
	})
	return out
}

// genericLinkStrategy is the last resort: any anchor whose href points into
// the audiobook section with an item slug.
func genericLinkStrategy(doc *goquery.Document) []Discovered {
	var out []Discovered
	doc.Find("a[href*='livres-audio']").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if !hasItemSlug(href) {
			return
		}
		if d, ok := discoveredFromAnchor(sel); ok {
			out = append(out, d)
		}
	})
	return out
}

func discoveredFromAnchor(sel *goquery.Selection) (Discovered, bool) {
	href, ok := sel.Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return Discovered{}, false
	}

	title := strings.TrimSpace(sel.AttrOr("title", ""))
	if title == "" {
		title = normalizeWhitespace(sel.Text())
	}
	if title == "" {
		if img := sel.Find("img[alt]").First(); img.Length() > 0 {
			title = strings.TrimSpace(img.AttrOr("alt", ""))
		}
	}

	return Discovered{Title: title, SourceURL: href}, true
}

// hasItemSlug reports whether href points at an individual audiobook rather
// than the section index.
func hasItemSlug(href string) bool {
	idx := strings.Index(href, "livres-audio")
	if idx < 0 {
		return false
	}
	rest := strings.Trim(href[idx+len("livres-audio"):], "/")
	return rest != ""
}

// dedupeByURL resolves hrefs against base and drops entries whose canonical
// absolute URL was already seen, preserving first-seen order.
func dedupeByURL(items []Discovered, base *url.URL) []Discovered {
	seen := make(map[string]struct{}, len(items))
	out := make([]Discovered, 0, len(items))
	for _, item := range items {
		canonical, ok := canonicalURL(item.SourceURL, base)
		if !ok {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		item.SourceURL = canonical
		out = append(out, item)
	}
	return out
}

// canonicalURL resolves href against base and normalizes it for comparison:
// lowercased host, no fragment, no trailing slash.
func canonicalURL(href string, base *url.URL) (string, bool) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	resolved := ref
	if base != nil {
		resolved = base.ResolveReference(ref)
	}
	if resolved.Host == "" {
		return "", false
	}
	resolved.Fragment = ""
	resolved.Host = strings.ToLower(resolved.Host)
	resolved.Path = strings.TrimRight(resolved.Path, "/")
	return resolved.String(), true
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
