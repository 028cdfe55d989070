package scrape

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"bobine/internal/logging"
	"bobine/internal/services"
	"bobine/internal/textutil"
)

// Metadata is the extended item information extracted from an audiobook page.
// Fields resolve independently; anything the page does not expose stays empty.
type Metadata struct {
	Title           string
	Author          string
	Narrator        string
	Description     string
	ArtworkURL      string
	DurationSeconds int64
	ISBN            string
	Publisher       string
	Series          string
	PublishedAt     string
}

const (
	minFieldLen = 2
	maxFieldLen = 300
	maxDescLen  = 2000
)

// fieldCandidate is one way to pull a field out of the document. Candidates
// run in order; the first non-trivial, length-bounded result wins.
type fieldCandidate struct {
	selector string
	attr     string // empty means element text
}

var titleCandidates = []fieldCandidate{
	{selector: `meta[property="og:title"]`, attr: "content"},
	{selector: "h1"},
	{selector: ".titre-episode"},
	{selector: "title"},
}

var authorCandidates = []fieldCandidate{
	{selector: `meta[name="author"]`, attr: "content"},
	{selector: ".auteur a"},
	{selector: ".auteur"},
	{selector: `[data-testid="author"]`},
	{selector: ".metadata-author"},
}

var narratorCandidates = []fieldCandidate{
	{selector: ".narrateur a"},
	{selector: ".narrateur"},
	{selector: `[data-testid="narrator"]`},
}

var descriptionCandidates = []fieldCandidate{
	{selector: `meta[property="og:description"]`, attr: "content"},
	{selector: `meta[name="description"]`, attr: "content"},
	{selector: ".description"},
	{selector: ".resume"},
}

var artworkCandidates = []fieldCandidate{
	{selector: `meta[property="og:image"]`, attr: "content"},
	{selector: ".visuel img", attr: "src"},
	{selector: "img.cover", attr: "src"},
}

var durationCandidates = []fieldCandidate{
	{selector: `meta[property="music:duration"]`, attr: "content"},
	{selector: ".duree"},
	{selector: `[data-testid="duration"]`},
}

var isbnCandidates = []fieldCandidate{
	{selector: `[data-testid="isbn"]`},
	{selector: ".isbn"},
}

var publisherCandidates = []fieldCandidate{
	{selector: `[data-testid="publisher"]`},
	{selector: ".editeur"},
}

var publishedCandidates = []fieldCandidate{
	{selector: `meta[property="article:published_time"]`, attr: "content"},
	{selector: `meta[itemprop="datePublished"]`, attr: "content"},
	{selector: "time[datetime]", attr: "datetime"},
	{selector: ".date-publication"},
}

var seriesCandidates = []fieldCandidate{
	{selector: `[data-testid="series"]`},
	{selector: ".serie a"},
	{selector: ".serie"},
}

// Contributor recovery over the raw document when no selector matches. The
// "written by" marker outranks "narrated by": the author is the primary
// contributor. A match is accepted only when it looks like a person's name
// (1 to 3 capitalized words within length bounds) to reject sentence
// fragments.
var (
	writtenByPattern  = regexp.MustCompile(`(?i)[ÉE]crit\s+par\s*:?\s*([^<\n,.]{2,50})`)
	narratedByPattern = regexp.MustCompile(`(?i)Lu\s+par\s*:?\s*([^<\n,.]{2,50})`)
	nameShapePattern  = regexp.MustCompile(`^\p{Lu}[\p{L}'-]*(?:\s+\p{Lu}[\p{L}'-]*){0,2}$`)
)

// ParseItem extracts one audiobook's metadata. Each field is resolved through
// its own candidate list, so one missing selector never blocks another field.
// It fails only when the document cannot be parsed, or when both title and
// author remain unresolved after every strategy.
func (p *Parser) ParseItem(html string) (*Metadata, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "metadata", "parse item", "document is not parseable HTML", err)
	}

	meta := &Metadata{
		Title:       textutil.CleanTitle(firstCandidate(doc, titleCandidates, maxFieldLen)),
		Author:      firstCandidate(doc, authorCandidates, maxFieldLen),
		Narrator:    firstCandidate(doc, narratorCandidates, maxFieldLen),
		Description: firstCandidate(doc, descriptionCandidates, maxDescLen),
		ArtworkURL:  firstCandidate(doc, artworkCandidates, maxFieldLen),
		ISBN:        firstCandidate(doc, isbnCandidates, maxFieldLen),
		Publisher:   firstCandidate(doc, publisherCandidates, maxFieldLen),
		Series:      firstCandidate(doc, seriesCandidates, maxFieldLen),
		PublishedAt: firstCandidate(doc, publishedCandidates, maxFieldLen),
	}
	meta.DurationSeconds = parseDuration(firstCandidate(doc, durationCandidates, maxFieldLen))

	if meta.Author == "" {
		if name, ok := contributorFromText(html, writtenByPattern); ok {
			p.logger.Debug("author recovered by regex fallback", logging.String("author", name))
			meta.Author = name
		}
	}
	if meta.Narrator == "" {
		if name, ok := contributorFromText(html, narratedByPattern); ok {
			meta.Narrator = name
		}
	}

	if meta.Title == "" && meta.Author == "" {
		return nil, services.Wrap(services.ErrValidation, "metadata", "parse item", "neither title nor author could be extracted", nil)
	}
	return meta, nil
}

func firstCandidate(doc *goquery.Document, candidates []fieldCandidate, maxLen int) string {
	for _, candidate := range candidates {
		sel := doc.Find(candidate.selector).First()
		if sel.Length() == 0 {
			continue
		}
		var value string
		if candidate.attr != "" {
			value = sel.AttrOr(candidate.attr, "")
		} else {
			value = sel.Text()
		}
		value = normalizeWhitespace(value)
		if len(value) >= minFieldLen && len(value) <= maxLen {
			return value
		}
	}
	return ""
}

// contributorFromText applies a marker regex over the raw document and keeps
// the match only when it has the shape of a short name.
func contributorFromText(html string, pattern *regexp.Regexp) (string, bool) {
	match := pattern.FindStringSubmatch(html)
	if len(match) < 2 {
		return "", false
	}
	name := normalizeWhitespace(match[1])
	if len(name) < minFieldLen || len(name) > 50 {
		return "", false
	}
	if !nameShapePattern.MatchString(name) {
		return "", false
	}
	return name, true
}

var durationPattern = regexp.MustCompile(`(?:(\d+)\s*h)?\s*(?:(\d+)\s*min)?\s*(?:(\d+)\s*s)?`)

// parseDuration understands plain seconds ("5400") and French display forms
// ("1 h 30 min", "45 min"). Unknown shapes yield zero.
func parseDuration(value string) int64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return secs
	}
	match := durationPattern.FindStringSubmatch(strings.ToLower(value))
	if match == nil {
		return 0
	}
	var total int64
	if match[1] != "" {
		hours, _ := strconv.ParseInt(match[1], 10, 64)
		total += hours * 3600
	}
	if match[2] != "" {
		minutes, _ := strconv.ParseInt(match[2], 10, 64)
		total += minutes * 60
	}
	if match[3] != "" {
		secs, _ := strconv.ParseInt(match[3], 10, 64)
		total += secs
	}
	return total
}
