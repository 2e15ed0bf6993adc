package olxapi

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/olx-listing-crawler/internal/listing"
)

// page is one response of the offers endpoint.
type page struct {
	Data []json.RawMessage `json:"data"`
}

type named struct {
	Name string `json:"name"`
}

type offerParam struct {
	Key   string          `json:"key"`
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

type priceValue struct {
	Value    *float64 `json:"value"`
	Currency string   `json:"currency"`
	Label    string   `json:"label"`
}

type offer struct {
	ID          json.Number  `json:"id"`
	ExternalID  string       `json:"external_id"`
	URL         string       `json:"url"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	CreatedTime string       `json:"created_time"`
	RefreshTime string       `json:"last_refresh_time"`
	Business    *bool        `json:"business"`
	Params      []offerParam `json:"params"`
	Photos      []struct {
		Link      string `json:"link"`
		Original  string `json:"original"`
		Thumbnail string `json:"thumbnail"`
	} `json:"photos"`
	Location struct {
		City   named `json:"city"`
		Region named `json:"region"`
	} `json:"location"`
	User struct {
		ID         json.Number `json:"id"`
		Name       string      `json:"name"`
		SellerType string      `json:"seller_type"`
		Photo      string      `json:"photo"`
	} `json:"user"`
	Delivery struct {
		Rock struct {
			Active bool `json:"active"`
		} `json:"rock"`
	} `json:"delivery"`
	Contact struct {
		Courier bool `json:"courier"`
	} `json:"contact"`
	Category struct {
		ID   json.Number `json:"id"`
		Type string      `json:"type"`
	} `json:"category"`
	Map struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"map"`
}

func decodeOffer(raw json.RawMessage) (offer, error) {
	var o offer
	err := json.Unmarshal(raw, &o)
	return o, err
}

func (o offer) id() string {
	switch {
	case o.ID.String() != "":
		return o.ID.String()
	case o.ExternalID != "":
		return o.ExternalID
	default:
		return o.URL
	}
}

func (o offer) price() priceValue {
	for _, p := range o.Params {
		if p.Key != "price" {
			continue
		}
		var v priceValue
		if err := json.Unmarshal(p.Value, &v); err == nil {
			return v
		}
	}
	return priceValue{}
}

func (o offer) photos() []string {
	out := make([]string, 0, len(o.Photos))
	for _, p := range o.Photos {
		link := p.Link
		if link == "" {
			link = p.Original
		}
		if link == "" {
			link = p.Thumbnail
		}
		if len(link) > 5 {
			out = append(out, listing.NormalizeImageURL(link))
		}
	}
	return out
}

func (o offer) location() string {
	parts := make([]string, 0, 2)
	for _, part := range []string{o.Location.City.Name, o.Location.Region.Name} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}

func (o offer) attributes() []listing.Attribute {
	out := make([]listing.Attribute, 0, len(o.Params))
	for _, p := range o.Params {
		if p.Key == "price" || p.Name == "" {
			continue
		}
		value := paramValue(p.Value)
		if value == "" {
			continue
		}
		out = append(out, listing.Attribute{Key: p.Key, Label: p.Name, Value: value})
	}
	return out
}

// paramValue reads a param value that is a string, a number or an object
// with label, key or value.
func paramValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var obj struct {
		Label string          `json:"label"`
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	switch {
	case obj.Label != "":
		return obj.Label
	case obj.Key != "":
		return obj.Key
	case len(obj.Value) > 0 && string(obj.Value) != "null":
		return paramValue(obj.Value)
	}
	return ""
}

func (o offer) deliveryOptions() []string {
	var out []string
	if o.Delivery.Rock.Active {
		out = append(out, listing.DeliveryOLX)
	}
	if o.Contact.Courier {
		out = append(out, listing.DeliveryCourier)
	}
	return out
}

func (o offer) sellerType() string {
	if o.User.SellerType != "" {
		return o.User.SellerType
	}
	if o.Business != nil {
		if *o.Business {
			return string(listing.SellerBusiness)
		}
		return string(listing.SellerPrivate)
	}
	return ""
}

func (o offer) coordinates() *listing.Coordinates {
	if o.Map.Lat == 0 || o.Map.Lon == 0 {
		return nil
	}
	return &listing.Coordinates{Lat: o.Map.Lat, Lon: o.Map.Lon}
}

var breakTag = regexp.MustCompile(`(?i)<br\s*/?>`)

// description flattens the HTML description to single-spaced text.
func description(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	html = strings.ReplaceAll(html, "\r\n", "\n")
	html = breakTag.ReplaceAllString(html, "\n")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// split turns one offer into the raw/detail pair the normalizer merges.
func (o offer) split(baseURL string, scrapedAt time.Time) (listing.Raw, listing.Detail) {
	price := o.price()
	images := o.photos()
	raw := listing.Raw{
		ID:          o.id(),
		Title:       strings.TrimSpace(o.Title),
		Price:       price.Value,
		PriceLabel:  price.Label,
		Currency:    price.Currency,
		Location:    o.location(),
		URL:         o.URL,
		Images:      images,
		PublishedAt: parseTime(o.CreatedTime),
		ScrapedAt:   scrapedAt,
	}
	if len(images) > 0 {
		raw.Image = images[0]
	}

	detail := listing.Detail{
		Description:      description(o.Description),
		UpdatedAt:        parseTime(o.RefreshTime),
		SellerName:       strings.TrimSpace(o.User.Name),
		SellerType:       o.sellerType(),
		SellerAvatar:     o.User.Photo,
		DeliveryOptions:  o.deliveryOptions(),
		DeliveryPlatform: o.Delivery.Rock.Active,
		Attributes:       o.attributes(),
	}
	if uid := o.User.ID.String(); uid != "" {
		detail.SellerProfileURL = strings.TrimRight(baseURL, "/") + "/uzytkownik/" + uid
	}
	return raw, detail
}
