package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodsync/internal/feishu"
)

func TestCoerce(t *testing.T) {
	text := func(s string) feishu.Value { return feishu.Value{Kind: feishu.KindText, Text: s} }
	num := func(f float64) feishu.Value { return feishu.Value{Kind: feishu.KindNumber, Number: f} }

	tests := []struct {
		name    string
		value   feishu.Value
		ft      FieldType
		want    any
		wantErr bool
	}{
		{"text passthrough", text("牦牛肉干"), FieldText, "牦牛肉干", false},
		{"text trims", text("  jerky  "), FieldText, "jerky", false},
		{"text from number", num(42), FieldText, "42", false},
		{"number passthrough", num(12.5), FieldNumber, 12.5, false},
		{"number rounds", num(12.567), FieldNumber, 12.57, false},
		{"number from priced text", text("¥1,280.50"), FieldNumber, 1280.5, false},
		{"number from garbage", text("十二"), FieldNumber, nil, true},
		{"number from attachment", feishu.Value{Kind: feishu.KindAttachment}, FieldNumber, nil, true},
		{"date from millis", num(1718000000000), FieldDate, time.UnixMilli(1718000000000).UTC(), false},
		{"date from seconds", num(1718000000), FieldDate, time.Unix(1718000000, 0).UTC(), false},
		{"date from text", text("2024-06-10 08:30:00"), FieldDate, time.Date(2024, 6, 10, 8, 30, 0, 0, time.UTC), false},
		{"date from short text", text("2024/06/10"), FieldDate, time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC), false},
		{"date from garbage", text("someday"), FieldDate, nil, true},
		{"select label", text("零食"), FieldSelect, "零食", false},
		{
			"multiselect takes first",
			feishu.Value{Kind: feishu.KindMultiSelect, Options: []string{"辣", "微辣"}},
			FieldMultiSelect, "辣", false,
		},
		{
			"attachment tokens",
			feishu.Value{Kind: feishu.KindAttachment, Attachments: []feishu.Attachment{
				{FileToken: "boxcnA"}, {FileToken: "boxcnB"},
			}},
			FieldAttachment, []string{"boxcnA", "boxcnB"}, false,
		},
		{"attachment from text", text("nope"), FieldAttachment, nil, true},
		{"url as text", text("https://example.com"), FieldURL, "https://example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerce(tt.value, tt.ft)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormText_ComposesNFC(t *testing.T) {
	// "é" as e + combining acute composes to a single rune.
	assert.Equal(t, "é", normText("é"))
	assert.Equal(t, "café", normText("  café "))
}

func TestLookup_FallbackName(t *testing.T) {
	rec := feishu.Record{ID: "rec1", Fields: map[string]feishu.Value{
		"售价": {Kind: feishu.KindNumber, Number: 12},
	}}

	m := FieldMapping{FieldName: "正常售价", Fallback: "售价", Path: "price.normal", Type: FieldNumber}

	v, ok := lookup(rec, m)
	require.True(t, ok)
	assert.Equal(t, 12.0, v.Number)
}

func TestLookup_NullPrimaryUsesFallback(t *testing.T) {
	rec := feishu.Record{ID: "rec1", Fields: map[string]feishu.Value{
		"正常售价": {Kind: feishu.KindNull},
		"售价":   {Kind: feishu.KindNumber, Number: 9},
	}}

	m := FieldMapping{FieldName: "正常售价", Fallback: "售价", Path: "price.normal", Type: FieldNumber}

	v, ok := lookup(rec, m)
	require.True(t, ok)
	assert.Equal(t, 9.0, v.Number)
}

// TestAssign_CoversWholeTable drives a type-correct value through every
// mapping entry, so a table edit that misses the path switch fails here.
func TestAssign_CoversWholeTable(t *testing.T) {
	for _, m := range DefaultMappings() {
		t.Run(m.Path, func(t *testing.T) {
			var p Product

			tokens := make(map[ImageType][]string)

			var v any

			switch m.Type {
			case FieldNumber:
				v = 1.5
			case FieldDate:
				v = time.Now()
			case FieldAttachment:
				v = []string{"boxcnX"}
			default:
				v = "value"
			}

			require.NoError(t, assign(&p, tokens, m.Path, v))
		})
	}
}

func TestAssign_AttachmentSideChannel(t *testing.T) {
	var p Product

	tokens := make(map[ImageType][]string)

	require.NoError(t, assign(&p, tokens, "images.front", []string{"boxcnA", "boxcnB"}))
	require.NoError(t, assign(&p, tokens, "images.gift", []string{}))

	assert.Equal(t, []string{"boxcnA", "boxcnB"}, tokens[ImageFront])
	assert.NotContains(t, tokens, ImageGift)
	assert.Empty(t, p.Images.Front)
}

func TestAssign_UnknownPath(t *testing.T) {
	var p Product

	err := assign(&p, map[ImageType][]string{}, "no.such.path", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmapped")
}

func TestMappedFieldNames(t *testing.T) {
	names := MappedFieldNames(DefaultMappings())

	assert.Contains(t, names, "产品名称")
	assert.Contains(t, names, "售价")
	assert.Contains(t, names, "正面图片")

	seen := make(map[string]int)
	for _, n := range names {
		seen[n]++
	}

	for n, count := range seen {
		assert.Equal(t, 1, count, "duplicate mapped name %q", n)
	}
}

func TestValidators(t *testing.T) {
	assert.NoError(t, validatePrice(12.5))
	assert.Error(t, validatePrice(-1.0))
	assert.Error(t, validatePrice(1000000.0))
	assert.Error(t, validatePrice("not a number"))

	assert.NoError(t, validateBarcode("12345678"))
	assert.NoError(t, validateBarcode(""))
	assert.Error(t, validateBarcode("abc"))

	assert.NoError(t, validateLink("https://x.example"))
	assert.NoError(t, validateLink(""))
	assert.Error(t, validateLink("gopher://x"))
}
