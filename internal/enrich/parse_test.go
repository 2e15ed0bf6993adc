package enrich

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/olx-listing-crawler/internal/listing"
	"github.com/JakeFAU/olx-listing-crawler/internal/market"
)

func readFixture(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(b)
}

func testParser() parser {
	return parser{profile: market.OLX(), selectors: DefaultSelectors()}
}

func TestParseDetailPage(t *testing.T) {
	t.Parallel()

	profile := market.OLX()
	now := time.Date(2024, 5, 20, 12, 0, 0, 0, profile.Dates.Location)
	res, err := testParser().parse(readFixture(t, "detail.html"), listing.Raw{Title: "RX 580"}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.structuredErrors)

	d := res.detail
	assert.Equal(t, "Karta graficzna RX 580 8GB", d.Title)
	assert.Equal(t, "Karta w pełni sprawna.\nNie kopie krypto.\nOdbiór osobisty lub wysyłka.", d.Description)
	require.NotNil(t, d.Price)
	assert.InDelta(t, 420, *d.Price, 0.001, "DOM price wins over structured data")
	assert.Equal(t, "420 zł", d.PriceLabel)
	assert.Equal(t, "zł", d.Currency)
	assert.Equal(t, "Kraków, Krowodrza", d.Location)
	assert.Equal(t, time.Date(2024, 5, 20, 9, 15, 0, 0, profile.Dates.Location), d.PublishedAt)

	require.GreaterOrEqual(t, len(d.Images), 2)
	assert.Equal(t, "https://ireland.apollo.olxcdn.com/v1/files/ph1-PL/image;s=1000x700", d.Images[0])
	assert.Equal(t, "https://ireland.apollo.olxcdn.com/v1/files/ph2-PL/image;s=1000x700", d.Images[1])

	assert.Equal(t, "Marek", d.SellerName)
	assert.Equal(t, "https://www.olx.pl/d/uzytkownik/abc123/", d.SellerProfileURL)
	assert.Equal(t, "+48500600700", d.SellerPhone)
	assert.Contains(t, d.SellerAvatar, "avatar-PL")
	assert.Equal(t, "Prywatne", d.SellerType)

	assert.Equal(t, []listing.Attribute{
		{Label: "Stan", Value: "Używane"},
		{Label: "Producent", Value: "Sapphire"},
	}, d.Attributes)
	assert.Equal(t, []string{"Elektronika", "Komputery", "Podzespoły i części"}, d.CategoryPath)
	assert.Equal(t, []string{listing.DeliveryCourier, listing.DeliveryParcel}, d.DeliveryOptions)
	assert.False(t, d.DeliveryPlatform)
}

func TestParseFallsBackToStructuredData(t *testing.T) {
	t.Parallel()

	res, err := testParser().parse(readFixture(t, "structured_only.html"), listing.Raw{Title: "Rower"}, time.Now())
	require.NoError(t, err)
	assert.Zero(t, res.structuredErrors)

	d := res.detail
	assert.Equal(t, "Rower górski", d.Title)
	assert.Equal(t, "Rama aluminiowa\nKoła 29 cali", d.Description)
	require.NotNil(t, d.Price)
	assert.InDelta(t, 1299.5, *d.Price, 0.001)
	assert.Equal(t, "1 299,50 zł", d.PriceLabel)
	assert.Equal(t, "zł", d.Currency)
	assert.Equal(t, "Gdańsk, Pomorskie", d.Location)
	assert.Equal(t, 2024, d.PublishedAt.Year())
	assert.Equal(t, 14, d.UpdatedAt.Day())
	assert.Equal(t, []string{"https://ireland.apollo.olxcdn.com/v1/files/bike1-PL/image"}, d.Images)
	assert.Equal(t, "Rowery Sp. z o.o.", d.SellerName)
	assert.Equal(t, "https://www.olx.pl/d/uzytkownik/rowery/", d.SellerProfileURL)
	assert.Equal(t, "+48 111 222 333", d.SellerPhone)
	assert.Contains(t, d.SellerAvatar, "logo-PL")
	assert.Equal(t, string(listing.SellerBusiness), d.SellerType)
	assert.Len(t, d.Attributes, 2)
	assert.Empty(t, d.DeliveryOptions)
}

func TestParseDropsDescriptionEqualToTitle(t *testing.T) {
	t.Parallel()

	html := `<html><body><h1>Lampa stojąca</h1><div data-cy="ad_description"><div>Lampa stojąca</div></div></body></html>`
	res, err := testParser().parse(html, listing.Raw{Title: "Lampa stojąca"}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, res.detail.Description)
}

func TestParseOLXDeliveryText(t *testing.T) {
	t.Parallel()

	html := `<html><body><div data-testid="delivery-badge">Przesyłka OLX</div></body></html>`
	res, err := testParser().parse(html, listing.Raw{}, time.Now())
	require.NoError(t, err)
	assert.True(t, res.detail.DeliveryPlatform)
	assert.Contains(t, res.detail.DeliveryOptions, listing.DeliveryOLX)
}

func TestCleanText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a b\nc", cleanText("  a    b \n\n   c  "))
	assert.Equal(t, "line one\nline two", htmlToText("<p>line <b>one</b><br>line two</p>"))
}
