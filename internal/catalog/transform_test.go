package catalog

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodsync/internal/feishu"
)

var testClock = func() time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTransformer() *Transformer {
	return NewTransformer(discardLogger(), WithClock(testClock))
}

func fullRecord() feishu.Record {
	return feishu.Record{
		ID: "recFull1",
		Fields: map[string]feishu.Value{
			"产品名称": {Kind: feishu.KindText, Text: "牦牛肉干"},
			"英文名称": {Kind: feishu.KindText, Text: "Yak Jerky"},
			"一级品类": {Kind: feishu.KindText, Text: "零食"},
			"二级品类": {Kind: feishu.KindText, Text: "肉干"},
			"正常售价": {Kind: feishu.KindNumber, Number: 58},
			"优惠售价": {Kind: feishu.KindNumber, Number: 46.4},
			"产地省份": {Kind: feishu.KindText, Text: "西藏"},
			"产地城市": {Kind: feishu.KindText, Text: "拉萨"},
			"采集平台": {Kind: feishu.KindText, Text: "淘宝"},
			"规格":   {Kind: feishu.KindText, Text: "250g"},
			"口味":   {Kind: feishu.KindMultiSelect, Options: []string{"五香", "麻辣"}},
			"生产厂家": {Kind: feishu.KindText, Text: "西藏高原食品厂"},
			"采集时间": {Kind: feishu.KindNumber, Number: 1718000000000},
			"商品链接": {Kind: feishu.KindText, Text: "https://item.example.com/1"},
			"条形码":  {Kind: feishu.KindText, Text: "6901234567890"},
			"正面图片": {Kind: feishu.KindAttachment, Attachments: []feishu.Attachment{{FileToken: "boxcnFront"}}},
			"背面图片": {Kind: feishu.KindAttachment, Attachments: []feishu.Attachment{{FileToken: "boxcnBack"}}},
		},
	}
}

func TestTransformRecord_FullRow(t *testing.T) {
	res := newTestTransformer().TransformRecord(fullRecord())

	require.True(t, res.OK, "errors: %v", res.Errors)
	assert.Empty(t, res.Errors)

	p := res.Product
	assert.Equal(t, "recFull1", p.ProductID)
	assert.Equal(t, "recFull1", p.FeishuRecordID)
	assert.Equal(t, "牦牛肉干", p.Name.Chinese)
	assert.Equal(t, "Yak Jerky", p.Name.English)
	assert.Equal(t, "Yak Jerky", p.Name.Display)

	require.NotNil(t, p.Category.Primary)
	assert.Equal(t, "零食", p.Category.Primary.Display)

	assert.Equal(t, 58.0, p.Price.Normal)
	require.NotNil(t, p.Price.Discount)
	assert.Equal(t, 46.4, *p.Price.Discount)
	require.NotNil(t, p.Price.DiscountRate)
	assert.InDelta(t, 0.2, *p.Price.DiscountRate, 0.0001)

	// Country defaults when the column is absent.
	require.NotNil(t, p.Origin.Country)
	assert.Equal(t, "中国", p.Origin.Country.Chinese)

	require.NotNil(t, p.Flavor)
	assert.Equal(t, "五香", p.Flavor.Chinese)

	assert.Equal(t, time.UnixMilli(1718000000000).UTC(), p.CollectTime)
	assert.Equal(t, "6901234567890", p.Barcode)

	assert.Equal(t, testClock(), p.SyncTime)
	assert.Equal(t, int64(1), p.Version)
	assert.Equal(t, StatusActive, p.Status)
	assert.True(t, p.IsVisible)

	assert.Equal(t, []string{"boxcnFront"}, res.Attachments[ImageFront])
	assert.Equal(t, []string{"boxcnBack"}, res.Attachments[ImageBack])
	assert.Empty(t, p.Images.Front, "image URLs are filled by the downloader, not the transform")
}

func TestTransformRecord_MissingNameFails(t *testing.T) {
	rec := feishu.Record{ID: "recNoName", Fields: map[string]feishu.Value{
		"正常售价": {Kind: feishu.KindNumber, Number: 10},
	}}

	res := newTestTransformer().TransformRecord(rec)

	assert.False(t, res.OK)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, NameSentinel, res.Product.Name.Display)
}

func TestTransformRecord_MissingRecordIDFails(t *testing.T) {
	rec := fullRecord()
	rec.ID = ""

	res := newTestTransformer().TransformRecord(rec)

	assert.False(t, res.OK)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "productId", res.Errors[0].Field)
}

func TestTransformRecord_MissingPriceWarnsAndDefaults(t *testing.T) {
	rec := feishu.Record{ID: "rec1", Fields: map[string]feishu.Value{
		"产品名称": {Kind: feishu.KindText, Text: "样品"},
		"采集时间": {Kind: feishu.KindNumber, Number: 1718000000000},
	}}

	res := newTestTransformer().TransformRecord(rec)

	require.True(t, res.OK)
	assert.Equal(t, 0.0, res.Product.Price.Normal)

	fields := warningFields(res.Warnings)
	assert.Contains(t, fields, "price.normal")
}

func TestTransformRecord_BadPriceTextWarnsAndDefaults(t *testing.T) {
	rec := feishu.Record{ID: "rec1", Fields: map[string]feishu.Value{
		"产品名称": {Kind: feishu.KindText, Text: "样品"},
		"正常售价": {Kind: feishu.KindText, Text: "面议"},
		"采集时间": {Kind: feishu.KindNumber, Number: 1718000000000},
	}}

	res := newTestTransformer().TransformRecord(rec)

	require.True(t, res.OK)
	assert.Equal(t, 0.0, res.Product.Price.Normal)
	assert.Contains(t, warningFields(res.Warnings), "price.normal")
}

func TestTransformRecord_InvalidBarcodeKeptWithWarning(t *testing.T) {
	rec := fullRecord()
	rec.Fields["条形码"] = feishu.Value{Kind: feishu.KindText, Text: "123"}

	res := newTestTransformer().TransformRecord(rec)

	require.True(t, res.OK)
	assert.Equal(t, "123", res.Product.Barcode)
	assert.Contains(t, warningFields(res.Warnings), "barcode")
}

func TestTransformRecord_Deterministic(t *testing.T) {
	tr := newTestTransformer()

	first := tr.TransformRecord(fullRecord())
	second := tr.TransformRecord(fullRecord())

	assert.Equal(t, first.Product, second.Product)
	assert.Equal(t, first.Attachments, second.Attachments)
}

func TestBatchTransform_SplitsSuccessAndFailure(t *testing.T) {
	good := fullRecord()
	bad := feishu.Record{ID: "recBad", Fields: map[string]feishu.Value{
		"正常售价": {Kind: feishu.KindNumber, Number: 5},
	}}

	out := newTestTransformer().BatchTransform([]feishu.Record{good, bad})

	require.Len(t, out.Successful, 1)
	require.Len(t, out.Failed, 1)
	assert.Equal(t, "recFull1", out.Successful[0].Product.ProductID)
	assert.Equal(t, "recBad", out.Failed[0].RecordID)
	assert.Positive(t, out.TotalErrors)
	assert.Positive(t, out.TotalWarnings)
}

func warningFields(issues []Issue) []string {
	fields := make([]string, 0, len(issues))
	for _, is := range issues {
		fields = append(fields, is.Field)
	}

	return fields
}
