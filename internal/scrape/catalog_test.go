package scrape

import (
	"fmt"
	"net/url"
	"strings"
	"testing"

	"bobine/internal/logging"
)

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return parsed
}

const catalogBase = "https://ici.radio-canada.ca/ohdio/livres-audio"

func TestParseCatalogGrid(t *testing.T) {
	html := `
<html><body>
<div class="index-grid-item"><a href="/ohdio/livres-audio/1234/le-survenant" title="Le Survenant">Le Survenant</a></div>
<div class="index-grid-item"><a href="/ohdio/livres-audio/5678/maria-chapdelaine" title="Maria Chapdelaine">Maria Chapdelaine</a></div>
</body></html>`

	parser := NewParser(logging.NewNop())
	items, err := parser.ParseCatalog(html, catalogBase)
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d: %+v", len(items), items)
	}
	if items[0].Title != "Le Survenant" {
		t.Fatalf("unexpected title %q", items[0].Title)
	}
	if items[0].SourceURL != "https://ici.radio-canada.ca/ohdio/livres-audio/1234/le-survenant" {
		t.Fatalf("relative href not resolved: %q", items[0].SourceURL)
	}
}

func TestParseCatalogGenericFallbackDeduplicates(t *testing.T) {
	// Three anchors reachable only via the generic-link fallback, one URL
	// duplicated: discovery must yield exactly two entries.
	html := `
<html><body>
<p><a href="/ohdio/livres-audio/1111/premier">Premier</a></p>
<p><a href="/ohdio/livres-audio/1111/premier">Premier encore</a></p>
<p><a href="/ohdio/livres-audio/2222/deuxieme">Deuxième</a></p>
</body></html>`

	parser := NewParser(logging.NewNop())
	items, err := parser.ParseCatalog(html, catalogBase)
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 deduplicated items, got %d: %+v", len(items), items)
	}
}

func TestParseCatalogDeduplicatesAcrossStrategies(t *testing.T) {
	// The same book discovered by the grid strategy and the text-anchor
	// strategy must appear once.
	html := `
<html><body>
<div class="index-grid-item"><a href="/ohdio/livres-audio/1234/le-survenant">Le Survenant</a></div>
<a href="https://ici.radio-canada.ca/ohdio/livres-audio/1234/le-survenant/">Livre audio : Le Survenant</a>
</body></html>`

	parser := NewParser(logging.NewNop())
	items, err := parser.ParseCatalog(html, catalogBase)
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item after dedup, got %d: %+v", len(items), items)
	}
}

func TestParseCatalogSkipsFragmentsAndScripts(t *testing.T) {
	html := `
<html><body>
<a href="#section">Livre audio ancre</a>
<a href="javascript:void(0)">Livre audio js</a>
<a href="/ohdio/livres-audio/3333/valide">Livre audio valide</a>
</body></html>`

	parser := NewParser(logging.NewNop())
	items, err := parser.ParseCatalog(html, catalogBase)
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected only the real link, got %+v", items)
	}
}

func TestParseCatalogEmptyPage(t *testing.T) {
	parser := NewParser(logging.NewNop())
	items, err := parser.ParseCatalog("<html><body></body></html>", catalogBase)
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %+v", items)
	}
}

func TestParseCatalogManyEntries(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, `<div class="index-grid-item"><a href="/ohdio/livres-audio/%d/titre-%d">Titre %d</a></div>`, i, i, i)
	}
	b.WriteString("</body></html>")

	parser := NewParser(logging.NewNop())
	items, err := parser.ParseCatalog(b.String(), catalogBase)
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	if len(items) != 50 {
		t.Fatalf("expected 50 items, got %d", len(items))
	}
}

func TestCanonicalURL(t *testing.T) {
	base := mustParseURL(t, catalogBase)
	cases := []struct {
		href   string
		expect string
		ok     bool
	}{
		{"/ohdio/livres-audio/1/x", "https://ici.radio-canada.ca/ohdio/livres-audio/1/x", true},
		{"/ohdio/livres-audio/1/x/", "https://ici.radio-canada.ca/ohdio/livres-audio/1/x", true},
		{"https://ICI.RADIO-CANADA.CA/ohdio/livres-audio/1/x#frag", "https://ici.radio-canada.ca/ohdio/livres-audio/1/x", true},
		{"::::", "", false},
	}
	for _, tc := range cases {
		got, ok := canonicalURL(tc.href, base)
		if ok != tc.ok || got != tc.expect {
			t.Fatalf("canonicalURL(%q) = (%q, %v), want (%q, %v)", tc.href, got, ok, tc.expect, tc.ok)
		}
	}
}
