package listing

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SellerRule maps a lowercase substring of free seller text to a kind.
type SellerRule struct {
	Pattern string
	Kind    SellerKind
}

// Normalizer merges raw and detail records into canonical listings.
type Normalizer struct {
	Marketplace      string
	Currency         string
	DefaultLocation  string
	PlaceholderImage string
	SellerRules      []SellerRule
}

// Merge builds the canonical Listing. Detail values win only when non-empty.
func (n Normalizer) Merge(raw Raw, detail *Detail) Listing {
	d := Detail{}
	if detail != nil {
		d = *detail
	}

	out := Listing{
		ID:           raw.ID,
		Title:        firstNonEmpty(d.Title, raw.Title),
		PriceLabel:   firstNonEmpty(d.PriceLabel, raw.PriceLabel),
		Currency:     firstNonEmpty(d.Currency, raw.Currency, n.Currency),
		Location:     firstNonEmpty(d.Location, raw.Location, n.DefaultLocation),
		URL:          raw.URL,
		Description:  d.Description,
		SellerName:   d.SellerName,
		SellerAvatar: NormalizeImageURL(d.SellerAvatar),
		SellerPhone:  d.SellerPhone,
		Marketplace:  n.Marketplace,
	}
	out.SellerProfileURL = d.SellerProfileURL
	out.SellerType = n.ClassifySeller(d.SellerType)

	switch {
	case d.Price != nil:
		out.Price = copyFloat(d.Price)
	case raw.Price != nil:
		out.Price = copyFloat(raw.Price)
	}
	if out.PriceLabel == "" && out.Price != nil {
		out.PriceLabel = FormatPrice(*out.Price, out.Currency)
	}

	rawImages := append([]string{raw.Image}, raw.Images...)
	out.Images, out.Image = n.CollectImages(rawImages, d.Images)

	out.DeliveryOptions = uniqueLower(d.DeliveryOptions)
	out.DeliveryAvailable = len(out.DeliveryOptions) > 0 || d.DeliveryPlatform

	out.Attributes = make([]Attribute, 0, len(d.Attributes))
	for _, a := range d.Attributes {
		if strings.TrimSpace(a.Label) == "" && strings.TrimSpace(a.Value) == "" {
			continue
		}
		out.Attributes = append(out.Attributes, a)
	}
	out.CategoryPath = nonEmpty(d.CategoryPath)

	out.PublishedAt = formatTime(firstTime(d.PublishedAt, raw.PublishedAt))
	out.UpdatedAt = formatTime(d.UpdatedAt)
	return out
}

// ClassifySeller canonicalizes free seller text. Unknown text is returned
// lowercased; empty text yields nil.
func (n Normalizer) ClassifySeller(text string) *string {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return nil
	}
	for _, rule := range n.SellerRules {
		if strings.Contains(lower, rule.Pattern) {
			kind := string(rule.Kind)
			return &kind
		}
	}
	return &lower
}

// CollectImages unions the image lists in order, drops unusable and
// placeholder entries, and returns the set with its primary image. When no
// real image survives the placeholder becomes the only entry.
func (n Normalizer) CollectImages(lists ...[]string) ([]string, string) {
	seen := make(map[string]struct{})
	images := make([]string, 0)
	for _, list := range lists {
		for _, candidate := range list {
			if !UsableImage(candidate) {
				continue
			}
			u := NormalizeImageURL(candidate)
			if u == n.PlaceholderImage {
				continue
			}
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			images = append(images, u)
		}
	}
	if len(images) == 0 {
		if n.PlaceholderImage == "" {
			return images, ""
		}
		return []string{n.PlaceholderImage}, n.PlaceholderImage
	}
	return images, images[0]
}

var resizeTokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`_\d+x\d+`),
	regexp.MustCompile(`;s=\d+x\d+`),
}

var photoTemplate = strings.NewReplacer("{width}", "1200", "{height}", "900")

// NormalizeImageURL resolves protocol-relative URLs, fills photo size
// templates and strips embedded resize tokens. It is idempotent.
func NormalizeImageURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if strings.HasPrefix(u, "//") {
		u = "https:" + u
	}
	u = photoTemplate.Replace(u)
	for {
		next := u
		for _, re := range resizeTokenPatterns {
			next = re.ReplaceAllString(next, "")
		}
		if next == u {
			return u
		}
		u = next
	}
}

// UsableImage rejects empty values, inline data URIs, fragments too short
// to be URLs, and obvious placeholder assets.
func UsableImage(u string) bool {
	u = strings.TrimSpace(u)
	if len(u) < 10 || strings.HasPrefix(u, "data:") {
		return false
	}
	lower := strings.ToLower(u)
	return !strings.Contains(lower, "placeholder") && !strings.Contains(lower, "/default")
}

var priceRun = regexp.MustCompile(`\d[\d\s\x{00a0}\x{202f},.]*`)

var decimalTail = regexp.MustCompile(`[,.](\d{1,2})$`)

// ParsePrice extracts the first numeric run of a price text such as
// "1 299,50 zł" or "1.299 zł". Thousands separators are dropped; a trailing
// one- or two-digit group after a comma or dot is read as decimals.
func ParsePrice(text string) (float64, bool) {
	run := priceRun.FindString(text)
	if run == "" {
		return 0, false
	}
	run = strings.TrimRight(run, "\u00a0\u202f\t\n ,.")
	fraction := ""
	if m := decimalTail.FindStringSubmatchIndex(run); m != nil {
		fraction = run[m[2]:m[3]]
		run = run[:m[0]]
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, run)
	if digits == "" {
		return 0, false
	}
	if fraction != "" {
		digits += "." + fraction
	}
	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FormatPrice renders a price the way the marketplace shows it.
func FormatPrice(v float64, currency string) string {
	whole := strconv.FormatFloat(v, 'f', -1, 64)
	intPart, frac, _ := strings.Cut(whole, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	if frac != "" {
		b.WriteByte(',')
		b.WriteString(frac)
	}
	if currency != "" {
		b.WriteByte(' ')
		b.WriteString(currency)
	}
	return b.String()
}

// Dedupe keeps the first occurrence of every Key, preserving order.
func Dedupe(raws []Raw) []Raw {
	seen := make(map[string]struct{}, len(raws))
	out := make([]Raw, 0, len(raws))
	for _, r := range raws {
		key := r.Key()
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstTime(values ...time.Time) time.Time {
	for _, v := range values {
		if !v.IsZero() {
			return v
		}
	}
	return time.Time{}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func copyFloat(v *float64) *float64 {
	out := *v
	return &out
}

func uniqueLower(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
