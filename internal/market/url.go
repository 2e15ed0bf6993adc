package market

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/olx-listing-crawler/internal/listing"
)

const defaultQuery = "elektronika"

var diacritics = strings.NewReplacer(
	"ą", "a", "ć", "c", "ę", "e", "ł", "l", "ń", "n",
	"ó", "o", "ś", "s", "ź", "z", "ż", "z",
)

var conditionParams = map[listing.Condition]string{
	listing.ConditionNew:         "new",
	listing.ConditionUsed:        "used",
	listing.ConditionRefurbished: "refurbished",
	listing.ConditionDamaged:     "damaged",
	listing.ConditionForParts:    "for_parts",
}

var sellerParams = map[listing.SellerKind]string{
	listing.SellerPrivate:  "private",
	listing.SellerBusiness: "company",
}

var sortParams = map[listing.SortKey]string{
	listing.SortNewest:    "created_at:desc",
	listing.SortCheapest:  "price:asc",
	listing.SortExpensive: "price:desc",
}

// HomeURL is the warm-up target.
func (p Profile) HomeURL() string {
	return strings.TrimRight(p.BaseURL, "/") + "/"
}

// SearchURL builds the results URL for one page of a search. opts should
// already be normalized.
func (p Profile) SearchURL(opts listing.SearchOptions, page int) string {
	var path strings.Builder
	path.WriteString(strings.TrimRight(p.BaseURL, "/"))
	path.WriteString(p.SearchPath)
	if opts.Location != "" {
		path.WriteByte('/')
		path.WriteString(url.PathEscape(Slug(opts.Location)))
	}
	query := opts.Query
	if query == "" {
		query = defaultQuery
	}
	path.WriteString("/q-")
	path.WriteString(url.PathEscape(Slug(query)))
	path.WriteByte('/')

	params := searchParams(opts, page)
	if len(params) == 0 {
		return path.String()
	}
	return path.String() + "?" + encodeOrdered(params)
}

// OffersAPIURL builds the JSON offer API URL for one window of a search.
// opts should already be normalized.
func (p Profile) OffersAPIURL(opts listing.SearchOptions, offset, limit int) string {
	query := opts.Query
	switch {
	case query == "":
		query = defaultQuery
	case opts.Location != "":
		query += " " + opts.Location
	}
	params := []param{
		{"offset", strconv.Itoa(max(0, offset))},
		{"limit", strconv.Itoa(min(max(limit, listing.MinPageSize), listing.MaxPageSize))},
		{"query", query},
		{"search[description]", "1"},
	}
	if opts.MinPrice != nil {
		params = append(params, param{"search[filter_float_price:from]", formatNumber(*opts.MinPrice)})
	}
	if opts.MaxPrice != nil {
		params = append(params, param{"search[filter_float_price:to]", formatNumber(*opts.MaxPrice)})
	}
	if opts.WithDelivery {
		params = append(params, param{"search[delivery][available]", "true"})
	}
	if opts.Category != "" {
		params = append(params, param{"search[category_id]", opts.Category})
	}
	if v, ok := conditionParams[opts.Condition]; ok {
		params = append(params, param{"search[filter_enum_condition][0]", v})
	}
	if v, ok := sellerParams[opts.SellerType]; ok {
		params = append(params, param{"search[filter_enum_offer_type][0]", v})
	}
	for i, m := range opts.DeliveryMethods {
		params = append(params, param{"search[filter_enum_delivery_methods][" + strconv.Itoa(i) + "]", m})
	}
	if v, ok := sortParams[opts.Sort]; ok {
		params = append(params, param{"search[sort]", v})
	}
	return strings.TrimRight(p.BaseURL, "/") + p.OffersAPIPath + "?" + encodeOrdered(params)
}

// AbsoluteURL joins a site-relative href with the base URL.
func (p Profile) AbsoluteURL(href string) string {
	href = strings.TrimSpace(href)
	switch {
	case href == "":
		return ""
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		return href
	case strings.HasPrefix(href, "//"):
		return "https:" + href
	case strings.HasPrefix(href, "/"):
		return strings.TrimRight(p.BaseURL, "/") + href
	default:
		return strings.TrimRight(p.BaseURL, "/") + "/" + href
	}
}

// Slug lowercases text, folds Polish diacritics and joins words with dashes.
func Slug(text string) string {
	folded := diacritics.Replace(strings.ToLower(strings.TrimSpace(text)))
	return strings.Join(strings.Fields(folded), "-")
}

type param struct {
	key   string
	value string
}

func searchParams(opts listing.SearchOptions, page int) []param {
	var out []param
	if page > 1 {
		out = append(out, param{"page", strconv.Itoa(page)})
	}
	if opts.MinPrice != nil {
		out = append(out, param{"search[filter_float_price:from]", formatNumber(*opts.MinPrice)})
	}
	if opts.MaxPrice != nil {
		out = append(out, param{"search[filter_float_price:to]", formatNumber(*opts.MaxPrice)})
	}
	if opts.Category != "" {
		out = append(out, param{"search[category_id]", opts.Category})
	}
	if v, ok := conditionParams[opts.Condition]; ok {
		out = append(out, param{"search[filter_enum_condition][0]", v})
	}
	if v, ok := sellerParams[opts.SellerType]; ok {
		out = append(out, param{"search[filter_enum_offer_type][0]", v})
	}

	methods := opts.DeliveryMethods
	if opts.WithDelivery && len(methods) == 0 {
		methods = []string{listing.DeliveryCourier}
	}
	for i, m := range methods {
		out = append(out, param{"search[filter_enum_delivery_methods][" + strconv.Itoa(i) + "]", m})
	}
	if opts.WithDelivery {
		out = append(out, param{"search[delivery][available]", "true"}, param{"search[dist]", "0"})
	}
	if v, ok := sortParams[opts.Sort]; ok {
		out = append(out, param{"search[order]", v})
	}
	return out
}

func encodeOrdered(params []param) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, url.QueryEscape(p.key)+"="+url.QueryEscape(p.value))
	}
	return strings.Join(parts, "&")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
