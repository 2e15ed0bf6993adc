package enrich

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nested(levels int, leaf string) string {
	return strings.Repeat(`{"child":`, levels) + `{"name":"` + leaf + `"}` + strings.Repeat("}", levels)
}

func TestStructuredDepthBound(t *testing.T) {
	t.Parallel()

	shallow := newStructuredAccumulator()
	require.NoError(t, shallow.addBlock(nested(5, "płytka")))
	assert.Equal(t, "płytka", shallow.name)

	deep := newStructuredAccumulator()
	require.NoError(t, deep.addBlock(nested(40, "za głęboko")))
	assert.Empty(t, deep.name)
}

func TestStructuredVisitedGuard(t *testing.T) {
	t.Parallel()

	self := map[string]any{"@type": "Product"}
	self["isRelatedTo"] = self
	self["offers"] = []any{self, map[string]any{"price": 12.5}}

	a := newStructuredAccumulator()
	a.walk(self, 0)
	require.NotNil(t, a.price)
	assert.InDelta(t, 12.5, *a.price, 0.001)
}

func TestStructuredMalformedBlock(t *testing.T) {
	t.Parallel()

	a := newStructuredAccumulator()
	require.Error(t, a.addBlock(`{"@type": "Product",`))
	require.NoError(t, a.addBlock(`{"@type":"Product","name":"Telefon"}`))
	assert.Equal(t, "Telefon", a.name)
}

func TestStructuredFirstValueWins(t *testing.T) {
	t.Parallel()

	a := newStructuredAccumulator()
	require.NoError(t, a.addBlock(`[{"name":"Pierwszy","price":"10"},{"name":"Drugi","price":20}]`))
	assert.Equal(t, "Pierwszy", a.name)
	require.NotNil(t, a.price)
	assert.InDelta(t, 10, *a.price, 0.001)
}

func TestStructuredSellerAndBreadcrumbs(t *testing.T) {
	t.Parallel()

	a := newStructuredAccumulator()
	require.NoError(t, a.addBlock(`{"@type":"Product","name":"Sofa",
		"author":{"@type":"Person","name":"Ania","image":{"url":"https://cdn.example.com/ania.jpg"}},
		"address":{"addressLocality":"Poznań","addressRegion":"Poznań"}}`))
	require.NoError(t, a.addBlock(`{"@type":"BreadcrumbList","itemListElement":[
		{"position":2,"item":{"name":"Meble"}},{"position":1,"name":"Dom i Ogród"}]}`))

	assert.Equal(t, "Sofa", a.name, "seller name does not leak into the offer name")
	assert.Equal(t, "Ania", a.sellerName)
	assert.Equal(t, "private", a.sellerType)
	assert.Equal(t, "https://cdn.example.com/ania.jpg", a.sellerImage)
	assert.Equal(t, "Poznań", a.location(), "equal locality and region are not repeated")
	assert.Equal(t, []string{"Dom i Ogród", "Meble"}, a.breadcrumbs)
}
