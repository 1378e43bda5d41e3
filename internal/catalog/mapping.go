package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"prodsync/internal/feishu"
)

// FieldType declares how a mapped upstream column is coerced. The wire
// carries untyped shapes; the declared type picks the interpretation.
type FieldType string

const (
	FieldText        FieldType = "text"
	FieldNumber      FieldType = "number"
	FieldDate        FieldType = "date"
	FieldSelect      FieldType = "select"
	FieldMultiSelect FieldType = "multiselect"
	FieldAttachment  FieldType = "attachment"
	FieldURL         FieldType = "url"
)

// FieldMapping binds one upstream column to one canonical product path.
type FieldMapping struct {
	// FieldID pins the mapping to a concrete column id. Informational:
	// lookup is by name, the id is reported by schema checks when set.
	FieldID string

	// FieldName is the upstream column name used for lookup; Fallback is
	// consulted when the primary name is absent or null.
	FieldName string
	Fallback  string

	// Path is the dotted canonical destination, e.g. "price.normal".
	Path string

	Type FieldType

	// Required marks a column whose absence is worth a warning. Core marks
	// identity columns whose absence fails the whole record.
	Required bool
	Core     bool

	// Default substitutes when the column is absent or coercion fails.
	Default any

	// Validate rejects out-of-range values after coercion.
	Validate func(v any) error
}

// DefaultMappings is the static mapping table for the product catalog
// spreadsheet. Order matters only for error reporting.
func DefaultMappings() []FieldMapping {
	return []FieldMapping{
		{FieldName: "产品名称", Path: "name.chinese", Type: FieldText, Required: true, Core: true},
		{FieldName: "英文名称", Fallback: "产品英文名", Path: "name.english", Type: FieldText},
		{FieldName: "一级品类", Fallback: "品类", Path: "category.primary.chinese", Type: FieldSelect},
		{FieldName: "二级品类", Path: "category.secondary.chinese", Type: FieldSelect},
		{FieldName: "正常售价", Fallback: "售价", Path: "price.normal", Type: FieldNumber, Required: true, Default: float64(0), Validate: validatePrice},
		{FieldName: "优惠售价", Path: "price.discount", Type: FieldNumber, Validate: validatePrice},
		{FieldName: "产地国家", Path: "origin.country.chinese", Type: FieldSelect, Default: "中国"},
		{FieldName: "产地省份", Path: "origin.province.chinese", Type: FieldSelect},
		{FieldName: "产地城市", Path: "origin.city.chinese", Type: FieldText},
		{FieldName: "采集平台", Fallback: "平台", Path: "platform.chinese", Type: FieldSelect},
		{FieldName: "规格", Path: "specification.chinese", Type: FieldText},
		{FieldName: "口味", Path: "flavor.chinese", Type: FieldMultiSelect},
		{FieldName: "生产厂家", Fallback: "厂家", Path: "manufacturer.chinese", Type: FieldText},
		{FieldName: "采集时间", Path: "collectTime", Type: FieldDate, Required: true},
		{FieldName: "商品链接", Path: "link", Type: FieldURL, Validate: validateLink},
		{FieldName: "箱规", Path: "boxSpec", Type: FieldText},
		{FieldName: "备注", Path: "notes", Type: FieldText},
		{FieldName: "条形码", Fallback: "条码", Path: "barcode", Type: FieldText, Validate: validateBarcode},
		{FieldName: "正面图片", Path: "images.front", Type: FieldAttachment},
		{FieldName: "背面图片", Path: "images.back", Type: FieldAttachment},
		{FieldName: "标签图片", Path: "images.label", Type: FieldAttachment},
		{FieldName: "外箱图片", Path: "images.package", Type: FieldAttachment},
		{FieldName: "赠品图片", Path: "images.gift", Type: FieldAttachment},
	}
}

// MappedFieldNames returns every upstream column the table reads, primaries
// and fallbacks, for narrowing record fetches.
func MappedFieldNames(mappings []FieldMapping) []string {
	names := make([]string, 0, len(mappings))
	seen := make(map[string]bool, len(mappings))

	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true

			names = append(names, name)
		}
	}

	for _, m := range mappings {
		add(m.FieldName)
		add(m.Fallback)
	}

	return names
}

// lookup finds the mapped column on a record, trying the fallback name when
// the primary is absent or null.
func lookup(rec feishu.Record, m FieldMapping) (feishu.Value, bool) {
	if v, ok := rec.Fields[m.FieldName]; ok && !v.IsNull() {
		return v, true
	}

	if m.Fallback != "" {
		if v, ok := rec.Fields[m.Fallback]; ok && !v.IsNull() {
			return v, true
		}
	}

	return feishu.Value{}, false
}

// coerce converts a wire value into the declared type. Returned values are
// string (text/select/multiselect/url), float64 (number), time.Time (date),
// or []string (attachment tokens).
func coerce(v feishu.Value, ft FieldType) (any, error) {
	switch ft {
	case FieldText:
		return coerceText(v)
	case FieldNumber:
		return coerceNumber(v)
	case FieldDate:
		return coerceDate(v)
	case FieldSelect, FieldMultiSelect:
		return coerceSelect(v)
	case FieldURL:
		return coerceText(v)
	case FieldAttachment:
		return coerceAttachment(v)
	default:
		return nil, fmt.Errorf("unknown field type %q", ft)
	}
}

func coerceText(v feishu.Value) (any, error) {
	switch v.Kind {
	case feishu.KindText:
		return normText(v.Text), nil
	case feishu.KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64), nil
	case feishu.KindMultiSelect:
		if len(v.Options) == 0 {
			return "", nil
		}

		return normText(v.Options[0]), nil
	default:
		return nil, fmt.Errorf("cannot read %s value as text", v.Kind)
	}
}

func coerceNumber(v feishu.Value) (any, error) {
	switch v.Kind {
	case feishu.KindNumber:
		return round2(v.Number), nil
	case feishu.KindText:
		cleaned := strings.NewReplacer("¥", "", "￥", "", ",", "", " ", "").Replace(v.Text)

		f, err := strconv.ParseFloat(strings.TrimSpace(cleaned), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as a number", v.Text)
		}

		return round2(f), nil
	default:
		return nil, fmt.Errorf("cannot read %s value as number", v.Kind)
	}
}

// dateLayouts are tried in order for text date cells.
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	time.RFC3339,
}

func coerceDate(v feishu.Value) (any, error) {
	switch v.Kind {
	case feishu.KindNumber:
		// Date cells arrive as epoch milliseconds; tolerate seconds too.
		n := int64(v.Number)
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}

		return time.Unix(n, 0).UTC(), nil
	case feishu.KindText:
		text := strings.TrimSpace(v.Text)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, text); err == nil {
				return t.UTC(), nil
			}
		}

		return nil, fmt.Errorf("cannot parse %q as a date", v.Text)
	default:
		return nil, fmt.Errorf("cannot read %s value as date", v.Kind)
	}
}

// coerceSelect extracts the option label. Multi-selects contribute their
// first element: every canonical select path is single-valued.
func coerceSelect(v feishu.Value) (any, error) {
	switch v.Kind {
	case feishu.KindText:
		return normText(v.Text), nil
	case feishu.KindMultiSelect:
		if len(v.Options) == 0 {
			return "", nil
		}

		return normText(v.Options[0]), nil
	case feishu.KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64), nil
	default:
		return nil, fmt.Errorf("cannot read %s value as select", v.Kind)
	}
}

func coerceAttachment(v feishu.Value) (any, error) {
	if v.Kind != feishu.KindAttachment {
		return nil, fmt.Errorf("cannot read %s value as attachment", v.Kind)
	}

	return v.FileTokens(), nil
}

// normText trims and NFC-normalizes extracted text. Rows are edited from
// assorted clients whose IMEs disagree on composed forms.
func normText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// assign writes a coerced value to its canonical path. Attachment paths
// route into the token side channel instead of the product: URLs only exist
// after upload.
func assign(p *Product, tokens map[ImageType][]string, path string, v any) error {
	if t, ok := strings.CutPrefix(path, "images."); ok {
		list, ok := v.([]string)
		if !ok {
			return fmt.Errorf("path %s expects attachment tokens", path)
		}

		if len(list) > 0 {
			tokens[ImageType(t)] = list
		}

		return nil
	}

	switch path {
	case "name.chinese":
		return setString(&p.Name.Chinese, path, v)
	case "name.english":
		return setString(&p.Name.English, path, v)
	case "category.primary.chinese":
		return setString(&ensureText(&p.Category.Primary).Chinese, path, v)
	case "category.secondary.chinese":
		return setString(&ensureText(&p.Category.Secondary).Chinese, path, v)
	case "price.normal":
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("path %s expects a number", path)
		}

		p.Price.Normal = f

		return nil
	case "price.discount":
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("path %s expects a number", path)
		}

		p.Price.Discount = &f

		return nil
	case "origin.country.chinese":
		return setString(&ensureText(&p.Origin.Country).Chinese, path, v)
	case "origin.province.chinese":
		return setString(&ensureText(&p.Origin.Province).Chinese, path, v)
	case "origin.city.chinese":
		return setString(&ensureText(&p.Origin.City).Chinese, path, v)
	case "platform.chinese":
		return setString(&ensureText(&p.Platform).Chinese, path, v)
	case "specification.chinese":
		return setString(&ensureText(&p.Specification).Chinese, path, v)
	case "flavor.chinese":
		return setString(&ensureText(&p.Flavor).Chinese, path, v)
	case "manufacturer.chinese":
		return setString(&ensureText(&p.Manufacturer).Chinese, path, v)
	case "collectTime":
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("path %s expects a timestamp", path)
		}

		p.CollectTime = t

		return nil
	case "link":
		return setString(&p.Link, path, v)
	case "boxSpec":
		return setString(&p.BoxSpec, path, v)
	case "notes":
		return setString(&p.Notes, path, v)
	case "barcode":
		return setString(&p.Barcode, path, v)
	default:
		return fmt.Errorf("unmapped canonical path %q", path)
	}
}

func setString(dst *string, path string, v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("path %s expects text", path)
	}

	*dst = s

	return nil
}

// ensureText allocates a localized slot on first write.
func ensureText(pp **LocalizedText) *LocalizedText {
	if *pp == nil {
		*pp = &LocalizedText{}
	}

	return *pp
}

func validatePrice(v any) error {
	f, ok := v.(float64)
	if !ok {
		return fmt.Errorf("expected a number")
	}

	if f < 0 {
		return fmt.Errorf("price %.2f is negative", f)
	}

	if f > MaxPrice {
		return fmt.Errorf("price %.2f exceeds the maximum %.2f", f, MaxPrice)
	}

	return nil
}

func validateBarcode(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("expected text")
	}

	if s != "" && !ValidBarcode(s) {
		return fmt.Errorf("barcode %q must be 8 to 13 digits", s)
	}

	return nil
}

func validateLink(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("expected text")
	}

	if s != "" && !ValidLink(s) {
		return fmt.Errorf("link %q must start with http:// or https://", s)
	}

	return nil
}
