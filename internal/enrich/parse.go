package enrich

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/olx-listing-crawler/internal/listing"
	"github.com/JakeFAU/olx-listing-crawler/internal/market"
)

// Selectors lists the DOM lookups for each detail field in priority order.
type Selectors struct {
	Title       []string
	Description []string
	Price       []string
	Location    []string
	PostedAt    []string
	Images      []string
	SellerName  []string
	SellerLink  []string
	SellerImage []string
	Phone       []string
	Attributes  []string
	Breadcrumbs []string
	Delivery    []string
}

// DefaultSelectors returns the detail-page selectors for www.olx.pl.
func DefaultSelectors() Selectors {
	return Selectors{
		Title:       []string{`[data-cy="ad_title"]`, `[data-testid="ad_title"]`, "h1"},
		Description: []string{`[data-cy="ad_description"] div`, `[data-cy="ad_description"]`, `[data-testid="ad-description"]`},
		Price:       []string{`[data-testid="ad-price-container"] h3`, `[data-testid="ad-price-container"]`},
		Location:    []string{`[data-testid="location-date"]`, `[data-testid="map-aside-section"] p`},
		PostedAt:    []string{`[data-cy="ad-posted-at"]`, `[data-testid="ad-posted-at"]`},
		Images: []string{
			`[data-testid="swiper-image"]`,
			`[data-testid="swiper-image-slide"] img`,
			".swiper-slide img",
			`[data-testid="ad-photo"] img`,
		},
		SellerName:  []string{`[data-testid="user-profile-user-name"]`, `h4[data-testid="seller-name"]`},
		SellerLink:  []string{`a[data-testid="user-profile-link"]`, `a[href*="/uzytkownik/"]`},
		SellerImage: []string{`[data-testid="user-profile-avatar"] img`},
		Phone:       []string{`a[href^="tel:"]`},
		Attributes:  []string{`[data-testid="ad-parameters-container"] p`},
		Breadcrumbs: []string{`[data-testid="breadcrumbs"] a`, `ol[data-cy="categories-breadcrumbs"] a`},
		Delivery:    []string{`[data-testid="courier-btn"]`, `[data-testid="delivery-badge"]`},
	}
}

var (
	spacePattern     = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blankLinePattern = regexp.MustCompile(`\s*\n\s*`)
	breakPattern     = regexp.MustCompile(`(?i)<br\s*/?>`)
)

// parsed is the outcome of reading one detail page.
type parsed struct {
	detail           listing.Detail
	structuredErrors int
}

// parser turns detail HTML into listing.Detail.
type parser struct {
	profile   market.Profile
	selectors Selectors
}

func (p parser) parse(html string, raw listing.Raw, now time.Time) (parsed, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return parsed{}, fmt.Errorf("parse detail html: %w", err)
	}

	ld := newStructuredAccumulator()
	var out parsed
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		if err := ld.addBlock(s.Text()); err != nil {
			out.structuredErrors++
		}
	})

	d := listing.Detail{}
	d.Title = firstNonEmpty(p.text(doc, p.selectors.Title), ld.name)

	desc := firstNonEmpty(p.richText(doc, p.selectors.Description), htmlToText(ld.description))
	if !strings.EqualFold(strings.TrimSpace(desc), strings.TrimSpace(raw.Title)) &&
		!strings.EqualFold(strings.TrimSpace(desc), strings.TrimSpace(d.Title)) {
		d.Description = desc
	}

	if priceText := p.text(doc, p.selectors.Price); priceText != "" {
		d.PriceLabel = firstLine(priceText)
		if v, ok := listing.ParsePrice(d.PriceLabel); ok {
			d.Price = &v
		}
	}
	if d.Price == nil && ld.price != nil {
		v := *ld.price
		d.Price = &v
		if d.PriceLabel == "" {
			d.PriceLabel = ld.priceText
		}
	}
	d.Currency = p.currency(ld.currency)

	posted := p.text(doc, p.selectors.PostedAt)
	location := p.text(doc, p.selectors.Location)
	if loc, date, ok := strings.Cut(location, " - "); ok {
		location = loc
		if posted == "" {
			posted = date
		}
	}
	d.Location = firstNonEmpty(strings.TrimSpace(location), ld.location())
	d.PublishedAt = p.date(now, posted, ld.datePublished)
	d.UpdatedAt = p.date(now, ld.dateModified)

	d.Images = append(p.images(doc), ld.images...)

	d.SellerName = firstNonEmpty(p.text(doc, p.selectors.SellerName), ld.sellerName)
	d.SellerProfileURL = firstNonEmpty(p.href(doc, p.selectors.SellerLink), ld.sellerURL)
	if d.SellerProfileURL != "" {
		d.SellerProfileURL = p.profile.AbsoluteURL(d.SellerProfileURL)
	}
	d.SellerAvatar = firstNonEmpty(p.imageAttr(doc, p.selectors.SellerImage), ld.sellerImage)
	d.SellerPhone = firstNonEmpty(strings.TrimPrefix(p.href(doc, p.selectors.Phone), "tel:"), ld.sellerPhone)

	attrs, sellerHint := p.attributes(doc)
	d.Attributes = attrs
	if len(d.Attributes) == 0 {
		d.Attributes = ld.attributes
	}
	d.SellerType = firstNonEmpty(sellerHint, ld.sellerType)

	d.CategoryPath = p.texts(doc, p.selectors.Breadcrumbs)
	if len(d.CategoryPath) == 0 {
		d.CategoryPath = ld.breadcrumbs
	}

	d.DeliveryOptions, d.DeliveryPlatform = p.delivery(doc, ld.delivery)

	out.detail = d
	return out, nil
}

// text returns the first non-empty text among the selectors.
func (p parser) text(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = cleanText(s.Text())
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// richText keeps line breaks from <br> elements.
func (p parser) richText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		html, err := s.Html()
		if err != nil {
			continue
		}
		if text := htmlToText(html); text != "" {
			return text
		}
	}
	return ""
}

// htmlToText strips tags, turning <br> into newlines.
func htmlToText(html string) string {
	if !strings.Contains(html, "<") {
		return cleanText(html)
	}
	html = breakPattern.ReplaceAllString(html, "\n")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<div>" + html + "</div>"))
	if err != nil {
		return cleanText(html)
	}
	return cleanText(doc.Text())
}

func (p parser) texts(doc *goquery.Document, selectors []string) []string {
	for _, sel := range selectors {
		var out []string
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if t := cleanText(s.Text()); t != "" {
				out = append(out, t)
			}
		})
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func (p parser) href(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if href, ok := doc.Find(sel).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
			return strings.TrimSpace(href)
		}
	}
	return ""
}

func (p parser) imageAttr(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if src := imageSource(doc.Find(sel).First()); src != "" {
			return src
		}
	}
	return ""
}

func (p parser) images(doc *goquery.Document) []string {
	var out []string
	for _, sel := range p.selectors.Images {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if src := imageSource(s); src != "" {
				out = append(out, src)
			}
		})
		if len(out) > 0 {
			return out
		}
	}
	return out
}

// attributes reads "Label: Value" rows. A row without a value is the seller
// type hint, e.g. "Prywatne" or "Firmowe".
func (p parser) attributes(doc *goquery.Document) ([]listing.Attribute, string) {
	var (
		attrs []listing.Attribute
		hint  string
	)
	for _, sel := range p.selectors.Attributes {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			text := cleanText(s.Text())
			if text == "" {
				return
			}
			label, value, ok := strings.Cut(text, ":")
			if !ok {
				if hint == "" {
					hint = text
				}
				return
			}
			attrs = append(attrs, listing.Attribute{Label: strings.TrimSpace(label), Value: strings.TrimSpace(value)})
		})
		if len(attrs) > 0 || hint != "" {
			break
		}
	}
	return attrs, hint
}

func (p parser) delivery(doc *goquery.Document, structured []string) ([]string, bool) {
	keywords := make([]string, 0, len(p.profile.DeliveryKeywords))
	for k := range p.profile.DeliveryKeywords {
		keywords = append(keywords, k)
	}
	sort.Strings(keywords)

	var options []string
	match := func(text, fallback string) {
		lower := strings.ToLower(text)
		matched := false
		for _, k := range keywords {
			if strings.Contains(lower, k) {
				options = append(options, p.profile.DeliveryKeywords[k])
				matched = true
			}
		}
		if !matched && fallback != "" {
			options = append(options, fallback)
		}
	}
	for _, sel := range p.selectors.Delivery {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			match(s.Text(), listing.DeliveryCourier)
		})
	}
	if strings.Contains(strings.ToLower(doc.Find("body").Text()), "przesyłka olx") {
		options = append(options, listing.DeliveryOLX)
	}
	for _, method := range structured {
		if i := strings.LastIndexAny(method, "#/"); i >= 0 {
			method = method[i+1:]
		}
		method = strings.TrimPrefix(method, "DeliveryMode")
		match(method, strings.ToLower(method))
	}

	platform := false
	for _, o := range options {
		if o == listing.DeliveryOLX {
			platform = true
		}
	}
	return options, platform
}

func (p parser) currency(ld string) string {
	switch strings.ToUpper(strings.TrimSpace(ld)) {
	case "":
		return ""
	case "PLN":
		return p.profile.Currency
	default:
		return strings.TrimSpace(ld)
	}
}

func (p parser) date(now time.Time, candidates ...string) time.Time {
	for _, c := range candidates {
		if t, ok := p.profile.Dates.Parse(c, now); ok {
			return t
		}
	}
	return time.Time{}
}

func imageSource(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	for _, attr := range []string{"src", "data-src"} {
		if v, ok := s.Attr(attr); ok && listing.UsableImage(strings.TrimSpace(v)) {
			return strings.TrimSpace(v)
		}
	}
	if srcset, ok := s.Attr("srcset"); ok {
		parts := strings.Split(srcset, ",")
		for i := len(parts) - 1; i >= 0; i-- {
			fields := strings.Fields(parts[i])
			if len(fields) > 0 && listing.UsableImage(fields[0]) {
				return fields[0]
			}
		}
	}
	return ""
}

// cleanText collapses runs of spaces and blank lines.
func cleanText(s string) string {
	s = spacePattern.ReplaceAllString(s, " ")
	s = blankLinePattern.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
