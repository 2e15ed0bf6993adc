// Package listing defines the offer data model and the pure functions that
// merge, normalize and deduplicate scraped offers.
package listing

import "time"

// Attribute is one free-form label/value pair from a detail page.
type Attribute struct {
	Key   string `json:"key,omitempty"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Coordinates is the approximate map position the marketplace publishes.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Raw is one offer as read from a rendered search-results page.
type Raw struct {
	ID               string
	Title            string
	Price            *float64
	PriceLabel       string
	Currency         string
	Location         string
	URL              string
	Image            string
	Images           []string
	PublishedAt      time.Time
	ScrapedAt        time.Time
	PlaceholderImage bool
	SyntheticID      bool
}

// Key identifies the offer for deduplication: the ID when known, else the URL.
func (r Raw) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return r.URL
}

// Detail carries optional overrides scraped from an offer's detail page.
// Zero values mean "defer to the Raw value".
type Detail struct {
	Title            string
	Description      string
	Location         string
	Price            *float64
	PriceLabel       string
	Currency         string
	PublishedAt      time.Time
	UpdatedAt        time.Time
	Images           []string
	SellerName       string
	SellerProfileURL string
	SellerType       string
	SellerPhone      string
	SellerAvatar     string
	DeliveryOptions  []string
	DeliveryPlatform bool
	Attributes       []Attribute
	CategoryPath     []string
}

// Empty reports whether the detail carries no usable field.
func (d Detail) Empty() bool {
	return d.Title == "" && d.Description == "" && d.Location == "" && d.Price == nil &&
		d.PriceLabel == "" && d.Currency == "" && d.PublishedAt.IsZero() && d.UpdatedAt.IsZero() &&
		len(d.Images) == 0 && d.SellerName == "" && d.SellerProfileURL == "" && d.SellerType == "" &&
		d.SellerPhone == "" && d.SellerAvatar == "" && len(d.DeliveryOptions) == 0 && !d.DeliveryPlatform &&
		len(d.Attributes) == 0 && len(d.CategoryPath) == 0
}

// Listing is the canonical offer returned to callers.
type Listing struct {
	ID                string      `json:"id"`
	Title             string      `json:"title"`
	Price             *float64    `json:"price,omitempty"`
	PriceLabel        string      `json:"priceLabel"`
	Currency          string      `json:"currency"`
	Location          string      `json:"location"`
	URL               string      `json:"url"`
	Images            []string    `json:"images"`
	Image             string      `json:"image"`
	Description       string      `json:"description"`
	SellerName        string      `json:"sellerName"`
	SellerProfileURL  string      `json:"sellerProfileUrl"`
	SellerType        *string     `json:"sellerType"`
	SellerAvatar      string      `json:"sellerAvatar"`
	SellerPhone       string      `json:"sellerPhone"`
	DeliveryOptions   []string    `json:"deliveryOptions"`
	DeliveryAvailable bool        `json:"deliveryAvailable"`
	Attributes        []Attribute `json:"attributes"`
	CategoryPath      []string    `json:"categoryPath"`
	PublishedAt       string      `json:"publishedAt,omitempty"`
	UpdatedAt         string      `json:"updatedAt,omitempty"`
	Marketplace       string      `json:"marketplace"`
	// Set only for offers read from the offer API.
	CategoryID   string       `json:"categoryId,omitempty"`
	CategoryType string       `json:"categoryType,omitempty"`
	Coordinates  *Coordinates `json:"coordinates,omitempty"`
}
