package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/olx-listing-crawler/internal/listing"
)

// Candidate is one offer anchor together with the card element around it.
type Candidate struct {
	Anchor *goquery.Selection
	Card   *goquery.Selection
	Href   string
}

// LinkStrategy is one selector for finding offer anchors on a results page.
type LinkStrategy struct {
	Name     string
	Selector string
}

// FieldStrategy reads one field from a candidate. Strategies for a field are
// tried in order and the first ok value wins.
type FieldStrategy struct {
	Name    string
	Extract func(Candidate) (string, bool)
}

// DefaultLinkStrategies is the anchor cascade, most specific first.
func DefaultLinkStrategies() []LinkStrategy {
	return []LinkStrategy{
		{Name: "offer-href", Selector: `a[href*="/d/oferty/"], a[href*="/oferta/"]`},
		{Name: "card-anchor", Selector: `[data-cy="l-card"] a, [data-testid*="listing"] a`},
		{Name: "any-d-href", Selector: `a[href*="/d/"]`},
	}
}

const minTitleRunes = 3

func titleStrategies() []FieldStrategy {
	return []FieldStrategy{
		{Name: "anchor-h6", Extract: func(c Candidate) (string, bool) { return titleFrom(c.Anchor.Find("h6").First()) }},
		{Name: "anchor-h4", Extract: func(c Candidate) (string, bool) { return titleFrom(c.Anchor.Find("h4").First()) }},
		{Name: "anchor-text", Extract: func(c Candidate) (string, bool) { return titleFrom(c.Anchor) }},
		{Name: "card-title", Extract: func(c Candidate) (string, bool) {
			return titleFrom(c.Card.Find(`[data-cy="ad-card-title"]`).First())
		}},
	}
}

func titleFrom(sel *goquery.Selection) (string, bool) {
	if sel.Length() == 0 {
		return "", false
	}
	text := strings.TrimSpace(sel.Text())
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	text = collapseSpace(text)
	if utf8.RuneCountInString(text) < minTitleRunes {
		return "", false
	}
	return text, true
}

func priceStrategies(currency string) []FieldStrategy {
	return []FieldStrategy{
		{Name: "ad-price", Extract: func(c Candidate) (string, bool) {
			return textOf(c.Card.Find(`[data-testid="ad-price"]`).First())
		}},
		{Name: "p-with-span", Extract: func(c Candidate) (string, bool) {
			return textOf(c.Card.Find("p:has(span)").First())
		}},
		{Name: "p-currency", Extract: func(c Candidate) (string, bool) {
			if currency == "" {
				return "", false
			}
			return textOf(c.Card.Find("p").FilterFunction(func(_ int, s *goquery.Selection) bool {
				return strings.Contains(s.Text(), currency)
			}).First())
		}},
	}
}

var dayMonthPattern = regexp.MustCompile(`\b\d{1,2}\s\p{L}+`)

func locationStrategies(dates listing.DateVocabulary, currency string) []FieldStrategy {
	return []FieldStrategy{
		{Name: "location-date", Extract: func(c Candidate) (string, bool) {
			return textOf(c.Card.Find(`[data-testid="location-date"]`).First())
		}},
		{Name: "p-date-words", Extract: func(c Candidate) (string, bool) {
			return textOf(c.Card.Find("p").FilterFunction(func(_ int, s *goquery.Selection) bool {
				text := s.Text()
				if currency != "" && strings.Contains(text, currency) {
					return false
				}
				return dates.HasRelativeWord(text) || dayMonthPattern.MatchString(text)
			}).First())
		}},
	}
}

var backgroundURLPattern = regexp.MustCompile(`url\(['"]?([^'")]+)['"]?\)`)

func imageStrategies() []FieldStrategy {
	imgAttr := func(attr string) func(Candidate) (string, bool) {
		return func(c Candidate) (string, bool) {
			return usable(c.Card.Find("img").First().AttrOr(attr, ""))
		}
	}
	return []FieldStrategy{
		{Name: "img-src", Extract: imgAttr("src")},
		{Name: "img-data-src", Extract: imgAttr("data-src")},
		{Name: "img-data-lazy", Extract: imgAttr("data-lazy")},
		{Name: "img-data-original", Extract: imgAttr("data-original")},
		{Name: "img-data-lazyload", Extract: imgAttr("data-lazyload")},
		{Name: "img-srcset", Extract: func(c Candidate) (string, bool) {
			img := c.Card.Find("img").First()
			return usable(lastSrcsetCandidate(img.AttrOr("srcset", img.AttrOr("data-srcset", ""))))
		}},
		{Name: "background-image", Extract: func(c Candidate) (string, bool) {
			style := c.Card.Find(`[style*="background-image"]`).First().AttrOr("style", "")
			m := backgroundURLPattern.FindStringSubmatch(style)
			if m == nil {
				return "", false
			}
			return usable(m[1])
		}},
		{Name: "picture-source", Extract: func(c Candidate) (string, bool) {
			src := c.Card.Find("picture source").First()
			return usable(lastSrcsetCandidate(src.AttrOr("srcset", src.AttrOr("data-src", ""))))
		}},
	}
}

func usable(u string) (string, bool) {
	u = strings.TrimSpace(u)
	if !listing.UsableImage(u) {
		return "", false
	}
	return listing.NormalizeImageURL(u), true
}

func lastSrcsetCandidate(srcset string) string {
	srcset = strings.TrimSpace(srcset)
	if srcset == "" {
		return ""
	}
	parts := strings.Split(srcset, ",")
	last := strings.TrimSpace(parts[len(parts)-1])
	if fields := strings.Fields(last); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func textOf(sel *goquery.Selection) (string, bool) {
	if sel.Length() == 0 {
		return "", false
	}
	text := collapseSpace(sel.Text())
	return text, text != ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstOK(strategies []FieldStrategy, c Candidate) string {
	for _, s := range strategies {
		if v, ok := s.Extract(c); ok {
			return v
		}
	}
	return ""
}
