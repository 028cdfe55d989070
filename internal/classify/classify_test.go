package classify

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		expect Class
	}{
		{"catalog", "https://ici.radio-canada.ca/ohdio/livres-audio", ProviderCatalog},
		{"catalog trailing slash", "https://ici.radio-canada.ca/ohdio/livres-audio/", ProviderCatalog},
		{"catalog www", "https://www.radio-canada.ca/ohdio/livres-audio", ProviderCatalog},
		{"item", "https://ici.radio-canada.ca/ohdio/livres-audio/9999/le-survenant", ProviderItem},
		{"item single segment", "https://ici.radio-canada.ca/ohdio/livres-audio/le-survenant", ProviderItem},
		{"provider non ohdio", "https://ici.radio-canada.ca/nouvelles", Unrecognized},
		{"youtube", "https://www.youtube.com/watch?v=abc", ExternalGeneric},
		{"youtu.be", "https://youtu.be/abc", ExternalGeneric},
		{"soundcloud", "https://soundcloud.com/artist/track", ExternalGeneric},
		{"unknown host", "https://example.com/audio", Unrecognized},
		{"empty", "", Unrecognized},
		{"whitespace", "   ", Unrecognized},
		{"no host", "/ohdio/livres-audio", Unrecognized},
		{"garbage", "::::not a url::::", Unrecognized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.input); got != tc.expect {
				t.Fatalf("Classify(%q) = %q, want %q", tc.input, got, tc.expect)
			}
		})
	}
}

func TestCatalogCheckedBeforeItem(t *testing.T) {
	// The catalog URL is itself a prefix of every item URL; a naive substring
	// match would tag it as an item.
	if got := Classify("https://ici.radio-canada.ca/ohdio/livres-audio"); got != ProviderCatalog {
		t.Fatalf("catalog URL classified as %q", got)
	}
}

func TestIsProvider(t *testing.T) {
	if !ProviderCatalog.IsProvider() || !ProviderItem.IsProvider() {
		t.Fatal("provider classes should report IsProvider")
	}
	if ExternalGeneric.IsProvider() || Unrecognized.IsProvider() {
		t.Fatal("non-provider classes should not report IsProvider")
	}
}
