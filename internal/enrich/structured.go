package enrich

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/JakeFAU/olx-listing-crawler/internal/listing"
)

const maxStructuredDepth = 16

// structuredAccumulator collects offer fields from decoded JSON-LD. Each
// field keeps the first value seen.
type structuredAccumulator struct {
	name          string
	description   string
	price         *float64
	priceText     string
	currency      string
	locality      string
	region        string
	datePublished string
	dateModified  string
	images        []string
	sellerName    string
	sellerURL     string
	sellerImage   string
	sellerPhone   string
	sellerType    string
	delivery      []string
	attributes    []listing.Attribute
	breadcrumbs   []string

	visited map[uintptr]struct{}
}

func newStructuredAccumulator() *structuredAccumulator {
	return &structuredAccumulator{visited: make(map[uintptr]struct{})}
}

// addBlock decodes one ld+json script body and walks it.
func (a *structuredAccumulator) addBlock(raw string) error {
	var doc any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &doc); err != nil {
		return fmt.Errorf("decode structured data: %w", err)
	}
	a.walk(doc, 0)
	return nil
}

func (a *structuredAccumulator) walk(node any, depth int) {
	if depth > maxStructuredDepth || node == nil {
		return
	}
	switch v := node.(type) {
	case []any:
		if !a.enter(v) {
			return
		}
		for _, item := range v {
			a.walk(item, depth+1)
		}
	case map[string]any:
		if !a.enter(v) {
			return
		}
		a.object(v, depth)
	}
}

// enter records a container and reports whether it is new.
func (a *structuredAccumulator) enter(container any) bool {
	rv := reflect.ValueOf(container)
	if rv.Len() == 0 {
		return false
	}
	ptr := rv.Pointer()
	if _, seen := a.visited[ptr]; seen {
		return false
	}
	a.visited[ptr] = struct{}{}
	return true
}

func (a *structuredAccumulator) object(obj map[string]any, depth int) {
	types := typesOf(obj)
	if hasType(types, "BreadcrumbList") {
		a.breadcrumbList(obj)
		return
	}

	setFirst(&a.name, stringValue(obj["name"]))
	setFirst(&a.description, stringValue(obj["description"]))
	a.priceFrom(obj["price"])
	setFirst(&a.currency, stringValue(obj["priceCurrency"]))
	setFirst(&a.datePublished, stringValue(obj["datePosted"]))
	setFirst(&a.datePublished, stringValue(obj["datePublished"]))
	setFirst(&a.dateModified, stringValue(obj["dateModified"]))
	a.images = append(a.images, imageValues(obj["image"])...)
	a.address(obj["address"])
	if loc, ok := obj["availableAtOrFrom"].(map[string]any); ok {
		a.address(loc["address"])
	}
	a.delivery = append(a.delivery, stringValues(obj["availableDeliveryMethod"])...)
	a.properties(obj["additionalProperty"])

	for _, key := range []string{"seller", "author", "offeredBy"} {
		a.seller(obj[key])
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch k {
		case "seller", "author", "offeredBy", "address", "image", "additionalProperty":
			continue
		}
		switch obj[k].(type) {
		case map[string]any, []any:
			a.walk(obj[k], depth+1)
		}
	}
}

func (a *structuredAccumulator) priceFrom(v any) {
	if a.price != nil || v == nil {
		return
	}
	switch p := v.(type) {
	case float64:
		a.price = &p
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(p), 64); err == nil {
			a.price = &f
			return
		}
		if f, ok := listing.ParsePrice(p); ok {
			a.price = &f
			setFirst(&a.priceText, strings.TrimSpace(p))
		}
	}
}

func (a *structuredAccumulator) address(v any) {
	switch addr := v.(type) {
	case string:
		setFirst(&a.locality, strings.TrimSpace(addr))
	case map[string]any:
		setFirst(&a.locality, stringValue(addr["addressLocality"]))
		setFirst(&a.region, stringValue(addr["addressRegion"]))
	}
}

func (a *structuredAccumulator) seller(v any) {
	s, ok := v.(map[string]any)
	if !ok {
		return
	}
	setFirst(&a.sellerName, stringValue(s["name"]))
	setFirst(&a.sellerURL, stringValue(s["url"]))
	if imgs := imageValues(s["image"]); len(imgs) > 0 {
		setFirst(&a.sellerImage, imgs[0])
	}
	if imgs := imageValues(s["logo"]); len(imgs) > 0 {
		setFirst(&a.sellerImage, imgs[0])
	}
	setFirst(&a.sellerPhone, stringValue(s["telephone"]))
	types := typesOf(s)
	switch {
	case hasType(types, "Organization"), hasType(types, "LocalBusiness"), hasType(types, "Store"):
		setFirst(&a.sellerType, string(listing.SellerBusiness))
	case hasType(types, "Person"):
		setFirst(&a.sellerType, string(listing.SellerPrivate))
	}
}

func (a *structuredAccumulator) properties(v any) {
	var items []any
	switch p := v.(type) {
	case []any:
		items = p
	case map[string]any:
		items = []any{p}
	}
	for _, item := range items {
		prop, ok := item.(map[string]any)
		if !ok {
			continue
		}
		label := stringValue(prop["name"])
		value := stringValue(prop["value"])
		if label == "" && value == "" {
			continue
		}
		a.attributes = append(a.attributes, listing.Attribute{Label: label, Value: value})
	}
}

func (a *structuredAccumulator) breadcrumbList(obj map[string]any) {
	if len(a.breadcrumbs) > 0 {
		return
	}
	items, _ := obj["itemListElement"].([]any)
	type crumb struct {
		pos  float64
		name string
	}
	crumbs := make([]crumb, 0, len(items))
	for i, item := range items {
		el, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := stringValue(el["name"])
		if inner, ok := el["item"].(map[string]any); ok && name == "" {
			name = stringValue(inner["name"])
		}
		if name == "" {
			continue
		}
		pos, ok := el["position"].(float64)
		if !ok {
			pos = float64(i + 1)
		}
		crumbs = append(crumbs, crumb{pos: pos, name: name})
	}
	sort.SliceStable(crumbs, func(i, j int) bool { return crumbs[i].pos < crumbs[j].pos })
	for _, c := range crumbs {
		a.breadcrumbs = append(a.breadcrumbs, c.name)
	}
}

// location joins locality and region as "Locality, Region".
func (a *structuredAccumulator) location() string {
	switch {
	case a.locality != "" && a.region != "" && !strings.EqualFold(a.locality, a.region):
		return a.locality + ", " + a.region
	case a.locality != "":
		return a.locality
	default:
		return a.region
	}
}

func typesOf(obj map[string]any) []string {
	return stringValues(obj["@type"])
}

func hasType(types []string, want string) bool {
	for _, t := range types {
		if strings.EqualFold(t, want) || strings.HasSuffix(t, "/"+want) {
			return true
		}
	}
	return false
}

func setFirst(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	return ""
}

func stringValues(v any) []string {
	switch s := v.(type) {
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str := stringValue(item); str != "" {
				out = append(out, str)
			}
		}
		return out
	default:
		if str := stringValue(s); str != "" {
			return []string{str}
		}
	}
	return nil
}

// imageValues accepts a URL, a list of URLs, or ImageObject values.
func imageValues(v any) []string {
	switch img := v.(type) {
	case string:
		if s := strings.TrimSpace(img); s != "" {
			return []string{s}
		}
	case map[string]any:
		for _, key := range []string{"url", "contentUrl"} {
			if s := stringValue(img[key]); s != "" {
				return []string{s}
			}
		}
	case []any:
		var out []string
		for _, item := range img {
			out = append(out, imageValues(item)...)
		}
		return out
	}
	return nil
}
