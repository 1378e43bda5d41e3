package catalog

import (
	"fmt"
	"log/slog"
	"time"

	"prodsync/internal/feishu"
)

// Issue is one per-field problem found while transforming a record.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result is the outcome of transforming one upstream record. Attachments
// carries the image-slot file tokens extracted from the row; the product's
// image URLs stay empty until the downloader fills them in.
type Result struct {
	OK          bool
	Product     *Product
	Attachments map[ImageType][]string
	Errors      []Issue
	Warnings    []Issue
}

// FailedRecord pairs a rejected record with the errors that rejected it.
type FailedRecord struct {
	RecordID string  `json:"recordId"`
	Errors   []Issue `json:"errors"`
}

// BatchResult aggregates a whole page run of transforms.
type BatchResult struct {
	Successful    []Result
	Failed        []FailedRecord
	TotalErrors   int
	TotalWarnings int
}

// Transformer applies the mapping table to raw records.
type Transformer struct {
	mappings []FieldMapping
	logger   *slog.Logger
	now      func() time.Time
}

// TransformerOption customizes a Transformer.
type TransformerOption func(*Transformer)

// WithMappings overrides the default mapping table.
func WithMappings(mappings []FieldMapping) TransformerOption {
	return func(t *Transformer) { t.mappings = mappings }
}

// WithClock overrides the sync-time clock, for deterministic tests.
func WithClock(now func() time.Time) TransformerOption {
	return func(t *Transformer) { t.now = now }
}

func NewTransformer(logger *slog.Logger, opts ...TransformerOption) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}

	t := &Transformer{
		mappings: DefaultMappings(),
		logger:   logger,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// TransformRecord builds a canonical product from one raw record. Field
// problems degrade to warnings with default fallbacks; only a missing record
// id or a fully absent name fails the record. Version is provisional: the
// store assigns the real one at upsert.
func (t *Transformer) TransformRecord(rec feishu.Record) Result {
	res := Result{Attachments: make(map[ImageType][]string)}

	product := &Product{
		ProductID:      rec.ID,
		FeishuRecordID: rec.ID,
		SyncTime:       t.now(),
		Version:        1,
		Status:         StatusActive,
		IsVisible:      true,
	}

	if rec.ID == "" {
		res.Errors = append(res.Errors, Issue{Field: "productId", Message: "record has no id"})
	}

	for _, m := range t.mappings {
		t.applyMapping(rec, m, product, &res)
	}

	product.DeriveDiscountRate()
	product.ComputeDisplays()

	if product.Name.Empty() {
		res.Errors = append(res.Errors, Issue{
			Field:   "name",
			Message: "record carries neither a Chinese nor an English name",
		})
	}

	res.Product = product
	res.OK = len(res.Errors) == 0

	return res
}

func (t *Transformer) applyMapping(rec feishu.Record, m FieldMapping, product *Product, res *Result) {
	value, found := lookup(rec, m)
	if !found {
		if m.Default != nil {
			if err := assign(product, res.Attachments, m.Path, m.Default); err != nil {
				res.Warnings = append(res.Warnings, Issue{Field: m.Path, Message: err.Error()})
			}
		}

		if m.Required {
			issue := Issue{Field: m.Path, Message: fmt.Sprintf("column %q is empty", m.FieldName)}
			if m.Core {
				res.Errors = append(res.Errors, issue)
			} else {
				res.Warnings = append(res.Warnings, issue)
			}
		}

		return
	}

	coerced, err := coerce(value, m.Type)
	if err != nil {
		res.Warnings = append(res.Warnings, Issue{Field: m.Path, Message: err.Error()})

		if m.Default != nil {
			if aerr := assign(product, res.Attachments, m.Path, m.Default); aerr != nil {
				res.Warnings = append(res.Warnings, Issue{Field: m.Path, Message: aerr.Error()})
			}
		}

		return
	}

	// Out-of-range values are stored as-is with a warning; the repair pass
	// clamps them. Only identity fields reject the record.
	if m.Validate != nil {
		if verr := m.Validate(coerced); verr != nil {
			issue := Issue{Field: m.Path, Message: verr.Error()}
			if m.Core {
				res.Errors = append(res.Errors, issue)
			} else {
				res.Warnings = append(res.Warnings, issue)
			}
		}
	}

	if err := assign(product, res.Attachments, m.Path, coerced); err != nil {
		res.Warnings = append(res.Warnings, Issue{Field: m.Path, Message: err.Error()})
	}
}

// BatchTransform applies TransformRecord to every record, splitting results
// into successes and failures and totaling the issue counts.
func (t *Transformer) BatchTransform(recs []feishu.Record) BatchResult {
	var out BatchResult

	for _, rec := range recs {
		res := t.TransformRecord(rec)

		out.TotalErrors += len(res.Errors)
		out.TotalWarnings += len(res.Warnings)

		if res.OK {
			out.Successful = append(out.Successful, res)

			continue
		}

		out.Failed = append(out.Failed, FailedRecord{RecordID: rec.ID, Errors: res.Errors})

		t.logger.Warn("record failed transform",
			slog.String("record_id", rec.ID),
			slog.Int("errors", len(res.Errors)),
		)
	}

	return out
}
