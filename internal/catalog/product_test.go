package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDisplays(t *testing.T) {
	tests := []struct {
		name    string
		product Product
		want    string
	}{
		{
			name:    "english preferred",
			product: Product{Name: LocalizedText{English: "Yak Jerky", Chinese: "牦牛肉干"}},
			want:    "Yak Jerky",
		},
		{
			name:    "chinese fallback",
			product: Product{Name: LocalizedText{Chinese: "牦牛肉干"}},
			want:    "牦牛肉干",
		},
		{
			name:    "sentinel when empty",
			product: Product{},
			want:    NameSentinel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.product.ComputeDisplays()
			assert.Equal(t, tt.want, tt.product.Name.Display)
			assert.NotEmpty(t, tt.product.Name.Display)
		})
	}
}

func TestComputeDisplays_OptionalFields(t *testing.T) {
	p := Product{
		Category: Category{Primary: &LocalizedText{Chinese: "零食"}},
		Platform: &LocalizedText{English: "Taobao", Chinese: "淘宝"},
	}

	p.ComputeDisplays()

	assert.Equal(t, "零食", p.Category.Primary.Display)
	assert.Equal(t, "Taobao", p.Platform.Display)
	assert.Nil(t, p.Flavor)
}

func TestDeriveDiscountRate(t *testing.T) {
	ptr := func(f float64) *float64 { return &f }

	tests := []struct {
		name     string
		normal   float64
		discount *float64
		want     *float64
	}{
		{"twenty percent off", 100, ptr(80), ptr(0.2)},
		{"rounded to two decimals", 12, ptr(9.9), ptr(0.18)},
		{"discount above normal clamps to zero", 10, ptr(15), ptr(0)},
		{"no discount clears rate", 10, nil, nil},
		{"zero normal clears rate", 0, ptr(5), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Product{Price: Price{Normal: tt.normal, Discount: tt.discount}}
			p.DeriveDiscountRate()

			if tt.want == nil {
				assert.Nil(t, p.Price.DiscountRate)

				return
			}

			require.NotNil(t, p.Price.DiscountRate)
			assert.InDelta(t, *tt.want, *p.Price.DiscountRate, 0.0001)
		})
	}
}

func TestValidBarcode(t *testing.T) {
	assert.True(t, ValidBarcode("12345678"))
	assert.True(t, ValidBarcode("6901234567890"))
	assert.False(t, ValidBarcode("1234567"))
	assert.False(t, ValidBarcode("12345678901234"))
	assert.False(t, ValidBarcode("69012A4567890"))
	assert.False(t, ValidBarcode(""))
}

func TestValidLink(t *testing.T) {
	assert.True(t, ValidLink("https://example.com/p/1"))
	assert.True(t, ValidLink("http://example.com"))
	assert.False(t, ValidLink("ftp://example.com"))
	assert.False(t, ValidLink("example.com"))
}

func TestImageSet_URLRoundTrip(t *testing.T) {
	var s ImageSet

	for i, it := range ImageTypes {
		s.SetURL(it, string(rune('a'+i)))
	}

	assert.Equal(t, "a", s.URL(ImageFront))
	assert.Equal(t, "b", s.URL(ImageBack))
	assert.Equal(t, "c", s.URL(ImageLabel))
	assert.Equal(t, "d", s.URL(ImagePackage))
	assert.Equal(t, "e", s.URL(ImageGift))
	assert.Equal(t, "", s.URL(ImageType("bogus")))
}
