// Package market holds the per-marketplace constants and pattern tables that
// the crawler, extractor, enricher and normalizer are configured with.
package market

import (
	"time"

	"github.com/JakeFAU/olx-listing-crawler/internal/listing"
)

// Challenge kinds reported by the anti-bot detector.
const (
	ChallengeCaptcha      = "captcha"
	ChallengeAccessDenied = "access_denied"
	ChallengeRateLimited  = "rate_limited"
)

// ChallengeRule maps a lowercase text marker to a challenge kind.
type ChallengeRule struct {
	Pattern string
	Kind    string
}

// Profile describes one marketplace.
type Profile struct {
	Name             string
	BaseURL          string
	SearchPath       string
	OffersAPIPath    string
	Currency         string
	DefaultLocation  string
	PlaceholderImage string

	AcceptLanguage string
	Accept         string
	UserAgents     []string

	CookieConsentSelectors []string
	ResultSelectors        []string

	ChallengeRules     []ChallengeRule
	ChallengeSelectors []string

	OfferPathMarkers []string
	NonOfferMarkers  []string
	NonOfferSuffixes []string

	SellerRules      []listing.SellerRule
	DeliveryKeywords map[string]string
	Dates            listing.DateVocabulary
}

// Normalizer returns the offer normalizer configured for this market.
func (p Profile) Normalizer() listing.Normalizer {
	return listing.Normalizer{
		Marketplace:      p.Name,
		Currency:         p.Currency,
		DefaultLocation:  p.DefaultLocation,
		PlaceholderImage: p.PlaceholderImage,
		SellerRules:      p.SellerRules,
	}
}

// OLX returns the profile for www.olx.pl.
func OLX() Profile {
	return Profile{
		Name:             "olx",
		BaseURL:          "https://www.olx.pl",
		SearchPath:       "/d/oferty",
		OffersAPIPath:    "/api/v1/offers/",
		Currency:         "zł",
		DefaultLocation:  "Polska",
		PlaceholderImage: "https://images.unsplash.com/photo-1505740420928-5e560c06d30e?w=800&q=80",

		AcceptLanguage: "pl-PL,pl;q=0.9,en-US;q=0.8,en;q=0.7",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		UserAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
		},

		CookieConsentSelectors: []string{
			"#onetrust-accept-btn-handler",
			`button[data-testid="cookies-popup-accept-all"]`,
			`button[data-cy="cookies-popup-accept"]`,
			`[id*="accept"][role="button"]`,
		},
		ResultSelectors: []string{
			`[data-cy="l-card"]`,
			`[data-testid="listing-grid"]`,
			`a[href*="/d/oferta/"]`,
		},

		ChallengeRules: []ChallengeRule{
			{Pattern: "captcha", Kind: ChallengeCaptcha},
			{Pattern: "robot check", Kind: ChallengeCaptcha},
			{Pattern: "verify you are human", Kind: ChallengeCaptcha},
			{Pattern: "security check", Kind: ChallengeCaptcha},
			{Pattern: "cf-challenge", Kind: ChallengeCaptcha},
			{Pattern: "access denied", Kind: ChallengeAccessDenied},
			{Pattern: "odmowa dostępu", Kind: ChallengeAccessDenied},
			{Pattern: "too many requests", Kind: ChallengeRateLimited},
			{Pattern: "zbyt wiele zapytań", Kind: ChallengeRateLimited},
			{Pattern: "zbyt wiele żądań", Kind: ChallengeRateLimited},
		},
		ChallengeSelectors: []string{
			`iframe[src*="captcha"]`,
			`iframe[src*="challenges.cloudflare.com"]`,
			"#challenge-form",
			".g-recaptcha",
			".h-captcha",
		},

		OfferPathMarkers: []string{"/d/oferty/", "/oferta/"},
		NonOfferMarkers:  []string{"/wyroznienie/"},
		NonOfferSuffixes: []string{"/d/oferty/", "/oferty/"},

		SellerRules: []listing.SellerRule{
			{Pattern: "firm", Kind: listing.SellerBusiness},
			{Pattern: "biznes", Kind: listing.SellerBusiness},
			{Pattern: "business", Kind: listing.SellerBusiness},
			{Pattern: "company", Kind: listing.SellerBusiness},
			{Pattern: "dealer", Kind: listing.SellerBusiness},
			{Pattern: "sklep", Kind: listing.SellerBusiness},
			{Pattern: "organization", Kind: listing.SellerBusiness},
			{Pattern: "prywatn", Kind: listing.SellerPrivate},
			{Pattern: "private", Kind: listing.SellerPrivate},
			{Pattern: "individual", Kind: listing.SellerPrivate},
			{Pattern: "person", Kind: listing.SellerPrivate},
		},
		DeliveryKeywords: map[string]string{
			"przesyłka olx":   listing.DeliveryOLX,
			"olx delivery":    listing.DeliveryOLX,
			"kurier":          listing.DeliveryCourier,
			"courier":         listing.DeliveryCourier,
			"paczkomat":       listing.DeliveryParcel,
			"parcel":          listing.DeliveryParcel,
			"odbiór osobisty": listing.DeliverySelfPickup,
		},
		Dates: listing.DateVocabulary{
			Today:     []string{"dzisiaj"},
			Yesterday: []string{"wczoraj"},
			Refreshed: []string{"odświeżono"},
			Months: map[string]time.Month{
				"stycznia": time.January, "lutego": time.February, "marca": time.March,
				"kwietnia": time.April, "maja": time.May, "czerwca": time.June,
				"lipca": time.July, "sierpnia": time.August, "września": time.September,
				"października": time.October, "listopada": time.November, "grudnia": time.December,
			},
			Location: warsaw(),
		},
	}
}

func warsaw() *time.Location {
	loc, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		return time.FixedZone("CET", 60*60)
	}
	return loc
}
