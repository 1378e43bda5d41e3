package feishu

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Kind discriminates the wire shapes a Bitable cell can carry. The API does
// not tag values with their field type, so decoding is structural: a string
// may be a text cell or a single-select option, a number may be an amount or
// a millisecond timestamp. Callers that know the field's declared type pick
// the interpretation.
type Kind int

const (
	KindNull Kind = iota
	KindText
	KindNumber
	KindMultiSelect
	KindAttachment
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindMultiSelect:
		return "multi_select"
	case KindAttachment:
		return "attachment"
	default:
		return "unknown"
	}
}

// Value is one decoded Bitable cell.
type Value struct {
	Kind        Kind
	Text        string
	Number      float64
	Options     []string
	Attachments []Attachment
}

// Attachment is one file in an attachment cell.
type Attachment struct {
	FileToken string `json:"file_token"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	MimeType  string `json:"type"`
	URL       string `json:"url"`
	TmpURL    string `json:"tmp_url"`
}

// richSegment is one span of a rich-text cell. Only the text matters here;
// formatting and mentions are flattened away.
type richSegment struct {
	Text string `json:"text"`
	Link string `json:"link"`
}

func (v *Value) UnmarshalJSON(data []byte) error {
	*v = decodeValue(data)
	return nil
}

// IsNull reports whether the cell was absent, JSON null, or an empty
// collection.
func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

// FileTokens returns the tokens of all attachments in order.
func (v Value) FileTokens() []string {
	if len(v.Attachments) == 0 {
		return nil
	}

	tokens := make([]string, 0, len(v.Attachments))
	for _, a := range v.Attachments {
		if a.FileToken != "" {
			tokens = append(tokens, a.FileToken)
		}
	}

	return tokens
}

// String renders the value for logs and error messages, not for storage.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindText:
		return v.Text
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case KindMultiSelect:
		return strings.Join(v.Options, ", ")
	case KindAttachment:
		return strconv.Itoa(len(v.Attachments)) + " attachment(s)"
	default:
		return ""
	}
}

func decodeValue(data []byte) Value {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Value{Kind: KindNull}
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Value{Kind: KindNull}
		}

		return Value{Kind: KindText, Text: s}

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return Value{Kind: KindNull}
		}

		return Value{Kind: KindText, Text: strconv.FormatBool(b)}

	case '[':
		return decodeArray(trimmed)

	case '{':
		return decodeObject(trimmed)

	default:
		var n float64
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return Value{Kind: KindNull}
		}

		return Value{Kind: KindNumber, Number: n}
	}
}

// decodeArray handles the three array shapes Bitable emits: multi-select
// option names, attachment lists, and rich-text segment lists.
func decodeArray(data []byte) Value {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil || len(elems) == 0 {
		return Value{Kind: KindNull}
	}

	first := bytes.TrimSpace(elems[0])
	if len(first) == 0 {
		return Value{Kind: KindNull}
	}

	switch first[0] {
	case '"':
		var opts []string
		if err := json.Unmarshal(data, &opts); err != nil {
			return Value{Kind: KindNull}
		}

		return Value{Kind: KindMultiSelect, Options: opts}

	case '{':
		var atts []Attachment
		if err := json.Unmarshal(data, &atts); err == nil && atts[0].FileToken != "" {
			return Value{Kind: KindAttachment, Attachments: atts}
		}

		var segs []richSegment
		if err := json.Unmarshal(data, &segs); err != nil {
			return Value{Kind: KindNull}
		}

		var sb strings.Builder
		for _, seg := range segs {
			sb.WriteString(seg.Text)
		}

		return Value{Kind: KindText, Text: sb.String()}

	default:
		return Value{Kind: KindNull}
	}
}

// decodeObject handles single-object cells such as url fields
// ({"link": ..., "text": ...}) and formula wrappers ({"type": ..., "value": ...}).
func decodeObject(data []byte) Value {
	var obj struct {
		Link  string          `json:"link"`
		Text  string          `json:"text"`
		Value json.RawMessage `json:"value"`
	}

	if err := json.Unmarshal(data, &obj); err != nil {
		return Value{Kind: KindNull}
	}

	if len(obj.Value) > 0 {
		return decodeValue(obj.Value)
	}

	if obj.Link != "" {
		return Value{Kind: KindText, Text: obj.Link}
	}

	if obj.Text != "" {
		return Value{Kind: KindText, Text: obj.Text}
	}

	return Value{Kind: KindNull}
}
