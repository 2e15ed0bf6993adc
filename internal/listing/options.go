package listing

import (
	"strconv"
	"strings"
)

// Bounds applied by SearchOptions.Normalize.
const (
	MinPageSize     = 1
	MaxPageSize     = 40
	DefaultPageSize = 40

	MinPages        = 1
	MaxPages        = 5
	DefaultMaxPages = 2
)

// Condition filters offers by item condition.
type Condition string

// Supported conditions.
const (
	ConditionAny         Condition = ""
	ConditionNew         Condition = "new"
	ConditionUsed        Condition = "used"
	ConditionRefurbished Condition = "refurbished"
	ConditionDamaged     Condition = "damaged"
	ConditionForParts    Condition = "for_parts"
)

// SellerKind is the canonical seller classification.
type SellerKind string

// Supported seller kinds.
const (
	SellerAny      SellerKind = ""
	SellerPrivate  SellerKind = "private"
	SellerBusiness SellerKind = "business"
)

// SortKey orders the results page.
type SortKey string

// Supported sort keys.
const (
	SortRelevance SortKey = ""
	SortNewest    SortKey = "newest"
	SortCheapest  SortKey = "cheapest"
	SortExpensive SortKey = "expensive"
)

// Delivery methods accepted in SearchOptions.DeliveryMethods.
const (
	DeliveryCourier    = "courier"
	DeliveryParcel     = "parcel"
	DeliveryOLX        = "olx_delivery"
	DeliverySelfPickup = "selfpickup"
)

var conditionAliases = map[string]Condition{
	"new":         ConditionNew,
	"used":        ConditionUsed,
	"refurbished": ConditionRefurbished,
	"renewed":     ConditionRefurbished,
	"damaged":     ConditionDamaged,
	"parts":       ConditionForParts,
	"for_parts":   ConditionForParts,
}

var sellerAliases = map[string]SellerKind{
	"private":    SellerPrivate,
	"individual": SellerPrivate,
	"person":     SellerPrivate,
	"business":   SellerBusiness,
	"company":    SellerBusiness,
	"dealer":     SellerBusiness,
}

var sortAliases = map[string]SortKey{
	"newest":          SortNewest,
	"created_at:desc": SortNewest,
	"cheapest":        SortCheapest,
	"price:asc":       SortCheapest,
	"price_asc":       SortCheapest,
	"expensive":       SortExpensive,
	"price:desc":      SortExpensive,
	"price_desc":      SortExpensive,
	"relevance":       SortRelevance,
}

var deliveryAliases = map[string]string{
	"courier":      DeliveryCourier,
	"shipping":     DeliveryCourier,
	"parcel":       DeliveryParcel,
	"olx":          DeliveryOLX,
	"olx_delivery": DeliveryOLX,
	"pickup":       DeliverySelfPickup,
	"selfpickup":   DeliverySelfPickup,
}

// SearchOptions describes one search invocation. Build it from caller input
// and call Normalize before crawling; the normalized value is not mutated.
type SearchOptions struct {
	Query string `json:"q"`
	// PageSize caps listings kept per results page. Zero means unset and
	// becomes DefaultPageSize; other values are clamped to [MinPageSize, MaxPageSize].
	PageSize int `json:"pageSize,omitempty"`
	// MaxPages follows the same rule with DefaultMaxPages and [MinPages, MaxPages].
	MaxPages        int        `json:"maxPages,omitempty"`
	MinPrice        *float64   `json:"minPrice,omitempty"`
	MaxPrice        *float64   `json:"maxPrice,omitempty"`
	WithDelivery    bool       `json:"withDelivery,omitempty"`
	Location        string     `json:"location,omitempty"`
	Category        string     `json:"category,omitempty"`
	Condition       Condition  `json:"condition,omitempty"`
	SellerType      SellerKind `json:"sellerType,omitempty"`
	DeliveryMethods []string   `json:"delivery,omitempty"`
	Sort            SortKey    `json:"sort,omitempty"`
}

// Normalize returns a canonical copy: query whitespace collapsed, bounds
// clamped, unset sizes defaulted, enums resolved from their aliases.
func (o SearchOptions) Normalize() SearchOptions {
	out := o
	out.Query = strings.Join(strings.Fields(o.Query), " ")
	out.PageSize = clampInt(o.PageSize, MinPageSize, MaxPageSize, DefaultPageSize)
	out.MaxPages = clampInt(o.MaxPages, MinPages, MaxPages, DefaultMaxPages)

	out.MinPrice = positive(o.MinPrice)
	out.MaxPrice = positive(o.MaxPrice)
	if out.MinPrice != nil && out.MaxPrice != nil && *out.MinPrice > *out.MaxPrice {
		out.MinPrice, out.MaxPrice = out.MaxPrice, out.MinPrice
	}

	out.Location = strings.TrimSpace(o.Location)
	if strings.EqualFold(out.Location, "all") {
		out.Location = ""
	}
	out.Category = strings.TrimSpace(o.Category)
	out.Condition = conditionAliases[lowerTrim(string(o.Condition))]
	out.SellerType = sellerAliases[lowerTrim(string(o.SellerType))]
	out.Sort = sortAliases[lowerTrim(string(o.Sort))]

	out.DeliveryMethods = nil
	seen := make(map[string]struct{}, len(o.DeliveryMethods))
	for _, m := range o.DeliveryMethods {
		canonical, ok := deliveryAliases[lowerTrim(m)]
		if !ok {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		out.DeliveryMethods = append(out.DeliveryMethods, canonical)
	}
	return out
}

// WithoutDelivery returns a copy with every delivery filter removed.
func (o SearchOptions) WithoutDelivery() SearchOptions {
	out := o
	out.WithDelivery = false
	out.DeliveryMethods = nil
	return out
}

// Fingerprint is a stable, human-readable encoding of the normalized
// options, suitable as cache-key material.
func (o SearchOptions) Fingerprint() string {
	n := o.Normalize()
	parts := []string{
		"q=" + strings.ToLower(n.Query),
		"size=" + strconv.Itoa(n.PageSize),
		"pages=" + strconv.Itoa(n.MaxPages),
		"min=" + formatOptionalFloat(n.MinPrice),
		"max=" + formatOptionalFloat(n.MaxPrice),
		"delivery=" + strconv.FormatBool(n.WithDelivery),
		"loc=" + strings.ToLower(n.Location),
		"cat=" + n.Category,
		"cond=" + string(n.Condition),
		"seller=" + string(n.SellerType),
		"methods=" + strings.Join(n.DeliveryMethods, ","),
		"sort=" + string(n.Sort),
	}
	return strings.Join(parts, "|")
}

func clampInt(v, lo, hi, def int) int {
	switch {
	case v == 0:
		return def
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

func positive(v *float64) *float64 {
	if v == nil || *v <= 0 {
		return nil
	}
	out := *v
	return &out
}

func formatOptionalFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func lowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
