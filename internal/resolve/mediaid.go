// Package resolve turns an audiobook page into a directly streamable URL.
// Resolution has two phases: extracting the opaque media identifier from the
// page, then asking the provider's validation API where the stream lives.
package resolve

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// mediaIDPatterns are tried in order against raw page text. The provider
// embeds the identifier in JSON blobs inside script tags under a handful of
// historical spellings.
var mediaIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"mediaId"\s*:\s*"(\d+)"`),
	regexp.MustCompile(`"mediaId"\s*:\s*(\d+)`),
	regexp.MustCompile(`"idMedia"\s*:\s*"(\d+)"`),
	regexp.MustCompile(`"idMedia"\s*:\s*(\d+)`),
	regexp.MustCompile(`mediaId=(\d+)`),
}

// mediaIDAttrs are data attributes found on known player elements.
var mediaIDAttrs = []string{"data-media-id", "data-mediaid", "data-id"}

// scriptTokenPattern is the last resort: any 7-8 digit numeric token inside a
// script tag looks enough like a media ID to try.
var scriptTokenPattern = regexp.MustCompile(`\b(\d{7,8})\b`)

// ExtractMediaID pulls the media identifier out of an item page. Strategies
// run in confidence order: JSON patterns, player data attributes, then a bare
// numeric token inside a script tag. Returns "" when everything fails.
func ExtractMediaID(html string) string {
	for _, pattern := range mediaIDPatterns {
		if match := pattern.FindStringSubmatch(html); len(match) > 1 {
			return match[1]
		}
	}

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		if id := mediaIDFromAttrs(doc); id != "" {
			return id
		}
		if id := mediaIDFromScripts(doc); id != "" {
			return id
		}
	}
	return ""
}

func mediaIDFromAttrs(doc *goquery.Document) string {
	var found string
	doc.Find("[data-media-id], [data-mediaid], audio[data-id], [class*='player'][data-id]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		for _, attr := range mediaIDAttrs {
			value := strings.TrimSpace(sel.AttrOr(attr, ""))
			if value != "" && isNumeric(value) {
				found = value
				return false
			}
		}
		return true
	})
	return found
}

func mediaIDFromScripts(doc *goquery.Document) string {
	var found string
	doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if match := scriptTokenPattern.FindStringSubmatch(sel.Text()); len(match) > 1 {
			found = match[1]
			return false
		}
		return true
	})
	return found
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
