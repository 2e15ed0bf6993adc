package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/olx-listing-crawler/internal/market"
)

// Challenge is a detected anti-bot marker.
type Challenge struct {
	Kind   string
	Marker string
}

// ChallengeDetector recognises captcha, access-denied and rate-limit pages
// using the market's marker table.
type ChallengeDetector struct {
	rules     []market.ChallengeRule
	selectors []string
	results   []string
}

// NewChallengeDetector builds a detector from the market profile.
func NewChallengeDetector(profile market.Profile) *ChallengeDetector {
	rules := make([]market.ChallengeRule, 0, len(profile.ChallengeRules))
	for _, r := range profile.ChallengeRules {
		pattern := strings.ToLower(strings.TrimSpace(r.Pattern))
		if pattern == "" {
			continue
		}
		rules = append(rules, market.ChallengeRule{Pattern: pattern, Kind: r.Kind})
	}
	return &ChallengeDetector{
		rules:     rules,
		selectors: profile.ChallengeSelectors,
		results:   profile.ResultSelectors,
	}
}

// Detect inspects the rendered page. Challenge widgets always count; text
// markers only count when no result cards are present, so listings that
// mention a marker word do not trip the detector.
func (d *ChallengeDetector) Detect(html, title string) (Challenge, bool) {
	if d == nil {
		return Challenge{}, false
	}
	lowerTitle := strings.ToLower(title)
	if c, ok := d.matchText(lowerTitle); ok {
		return c, true
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		if c, ok := d.matchText(strings.ToLower(html)); ok {
			return c, true
		}
		return Challenge{}, false
	}
	for _, sel := range d.selectors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() > 0 {
			return Challenge{Kind: market.ChallengeCaptcha, Marker: sel}, true
		}
	}
	if d.hasResults(doc) {
		return Challenge{}, false
	}

	doc.Find("script, style, noscript").Remove()
	return d.matchText(strings.ToLower(doc.Text()))
}

func (d *ChallengeDetector) matchText(lower string) (Challenge, bool) {
	if lower == "" {
		return Challenge{}, false
	}
	for _, r := range d.rules {
		if strings.Contains(lower, r.Pattern) {
			return Challenge{Kind: r.Kind, Marker: r.Pattern}, true
		}
	}
	return Challenge{}, false
}

func (d *ChallengeDetector) hasResults(doc *goquery.Document) bool {
	for _, sel := range d.results {
		if sel != "" && doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}
