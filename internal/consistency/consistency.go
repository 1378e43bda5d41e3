// Package consistency audits the product catalog against its own rules and
// against the object store, and repairs what it can: re-downloading missing
// images, clamping out-of-range values, and collapsing duplicate rows.
package consistency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"prodsync/internal/catalog"
	"prodsync/internal/images"
	"prodsync/internal/store"
)

// Validation scopes.
const (
	ScopeAll       = "all"
	ScopeRecent    = "recent"
	ScopeSelective = "selective"
)

// Validation checks.
const (
	CheckDataIntegrity   = "data_integrity"
	CheckImageExistence  = "image_existence"
	CheckFieldValidation = "field_validation"
)

// Issue severities.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// recentWindow bounds the "recent" scope by sync time.
const recentWindow = 24 * time.Hour

var (
	// ErrInvalidScope rejects an unknown validation scope.
	ErrInvalidScope = errors.New("consistency: invalid scope")

	// ErrInvalidCheck rejects an unknown validation check.
	ErrInvalidCheck = errors.New("consistency: invalid check")

	// ErrMissingProductIDs rejects a selective request without product ids.
	ErrMissingProductIDs = errors.New("consistency: selective scope requires product ids")
)

// ProductStore is the product persistence surface the checker needs.
type ProductStore interface {
	ListActiveProducts(ctx context.Context) ([]*catalog.Product, error)
	ListProductsSince(ctx context.Context, since time.Time) ([]*catalog.Product, error)
	GetProductsByIDs(ctx context.Context, productIDs []string) ([]*catalog.Product, error)
	UpsertProduct(ctx context.Context, p *catalog.Product) (created bool, err error)
	FindDuplicateProductIDs(ctx context.Context) ([]string, error)
	ListProductRows(ctx context.Context, productID string) ([]*store.ProductRow, error)
	MarkProductRowDeleted(ctx context.Context, rowID string) error
}

// ImageStore lists the stored image rows behind a product.
type ImageStore interface {
	ListImagesByProduct(ctx context.Context, productID string) ([]*store.Image, error)
}

// ImageService validates and repairs the objects behind image rows.
type ImageService interface {
	ValidateIntegrity(ctx context.Context, objectName string) images.Integrity
	RepairImage(ctx context.Context, img *store.Image) error
}

// Checker runs validations and repairs over the catalog.
type Checker struct {
	products  ProductStore
	imageRows ImageStore
	images    ImageService
	logger    *slog.Logger
	nowFunc   func() time.Time
}

// Option customizes a Checker.
type Option func(*Checker)

// WithNow overrides the clock, for deterministic tests.
func WithNow(fn func() time.Time) Option {
	return func(c *Checker) { c.nowFunc = fn }
}

// New assembles a Checker from its collaborators.
func New(products ProductStore, imageRows ImageStore, imageSvc ImageService, logger *slog.Logger, opts ...Option) *Checker {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Checker{
		products:  products,
		imageRows: imageRows,
		images:    imageSvc,
		logger:    logger,
		nowFunc:   time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ValidateRequest selects what to validate. Empty Checks means all checks;
// empty Scope means all products.
type ValidateRequest struct {
	Scope      string   `json:"scope"`
	ProductIDs []string `json:"productIds,omitempty"`
	Checks     []string `json:"checks,omitempty"`
}

// Issue is one problem found by a validation pass.
type Issue struct {
	Type         string `json:"type"`
	Severity     string `json:"severity"`
	ProductID    string `json:"productId"`
	Field        string `json:"field,omitempty"`
	Message      string `json:"message"`
	SuggestedFix string `json:"suggestedFix,omitempty"`
}

// ValidationSummary totals one validation pass.
type ValidationSummary struct {
	TotalChecked   int `json:"totalChecked"`
	IssuesFound    int `json:"issuesFound"`
	CriticalIssues int `json:"criticalIssues"`
	Warnings       int `json:"warnings"`
}

// ValidationReport is the outcome of one validation pass.
type ValidationReport struct {
	ValidationID string            `json:"validationId"`
	Timestamp    time.Time         `json:"timestamp"`
	Summary      ValidationSummary `json:"summary"`
	Issues       []Issue           `json:"issues"`
}

// Validate audits the selected products with the selected checks.
func (c *Checker) Validate(ctx context.Context, req ValidateRequest) (*ValidationReport, error) {
	checks, err := normalizeChecks(req.Checks)
	if err != nil {
		return nil, err
	}

	products, err := c.resolveScope(ctx, req.Scope, req.ProductIDs)
	if err != nil {
		return nil, err
	}

	report := &ValidationReport{
		ValidationID: uuid.NewString(),
		Timestamp:    c.nowFunc().UTC(),
		Issues:       []Issue{},
	}
	report.Summary.TotalChecked = len(products)

	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("consistency: validate canceled: %w", err)
		}

		if checks[CheckDataIntegrity] {
			report.Issues = append(report.Issues, checkDataIntegrity(p)...)
		}

		if checks[CheckFieldValidation] {
			report.Issues = append(report.Issues, checkFields(p)...)
		}

		if checks[CheckImageExistence] {
			issues, err := c.checkImages(ctx, p)
			if err != nil {
				return nil, err
			}

			report.Issues = append(report.Issues, issues...)
		}
	}

	for _, issue := range report.Issues {
		if issue.Severity == SeverityCritical {
			report.Summary.CriticalIssues++
		} else {
			report.Summary.Warnings++
		}
	}

	report.Summary.IssuesFound = len(report.Issues)

	c.logger.Info("validation finished",
		slog.String("validation_id", report.ValidationID),
		slog.String("scope", req.Scope),
		slog.Int("checked", report.Summary.TotalChecked),
		slog.Int("critical", report.Summary.CriticalIssues),
		slog.Int("warnings", report.Summary.Warnings),
	)

	return report, nil
}

func normalizeChecks(requested []string) (map[string]bool, error) {
	all := map[string]bool{
		CheckDataIntegrity:   true,
		CheckImageExistence:  true,
		CheckFieldValidation: true,
	}

	if len(requested) == 0 {
		return all, nil
	}

	checks := make(map[string]bool, len(requested))

	for _, check := range requested {
		if !all[check] {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCheck, check)
		}

		checks[check] = true
	}

	return checks, nil
}

// resolveScope loads the products a request covers. An empty scope means
// everything.
func (c *Checker) resolveScope(ctx context.Context, scope string, productIDs []string) ([]*catalog.Product, error) {
	switch scope {
	case "", ScopeAll:
		products, err := c.products.ListActiveProducts(ctx)
		if err != nil {
			return nil, fmt.Errorf("consistency: listing products: %w", err)
		}

		return products, nil
	case ScopeRecent:
		since := c.nowFunc().UTC().Add(-recentWindow)

		products, err := c.products.ListProductsSince(ctx, since)
		if err != nil {
			return nil, fmt.Errorf("consistency: listing recent products: %w", err)
		}

		return products, nil
	case ScopeSelective:
		if len(productIDs) == 0 {
			return nil, ErrMissingProductIDs
		}

		products, err := c.products.GetProductsByIDs(ctx, productIDs)
		if err != nil {
			return nil, fmt.Errorf("consistency: loading products: %w", err)
		}

		return products, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
}

// checkDataIntegrity verifies the identity fields every product must carry.
func checkDataIntegrity(p *catalog.Product) []Issue {
	var issues []Issue

	if p.ProductID == "" {
		issues = append(issues, Issue{
			Type:         CheckDataIntegrity,
			Severity:     SeverityCritical,
			ProductID:    p.ProductID,
			Field:        "productId",
			Message:      "product has no id",
			SuggestedFix: "re-sync the product from upstream",
		})
	}

	if p.Name.Display == "" {
		issues = append(issues, Issue{
			Type:         CheckDataIntegrity,
			Severity:     SeverityCritical,
			ProductID:    p.ProductID,
			Field:        "name.display",
			Message:      "product has no display name",
			SuggestedFix: "re-sync the product from upstream",
		})
	}

	return issues
}

// checkFields verifies the value invariants: price range, discount ordering,
// barcode and link shapes.
func checkFields(p *catalog.Product) []Issue {
	var issues []Issue

	if p.Price.Normal < 0 || p.Price.Normal > catalog.MaxPrice {
		issues = append(issues, Issue{
			Type:         CheckFieldValidation,
			Severity:     SeverityCritical,
			ProductID:    p.ProductID,
			Field:        "price.normal",
			Message:      fmt.Sprintf("price %.2f outside [0, %.2f]", p.Price.Normal, catalog.MaxPrice),
			SuggestedFix: "run repair with invalid_data to clamp the price",
		})
	}

	if d := p.Price.Discount; d != nil {
		if *d < 0 || *d > catalog.MaxPrice {
			issues = append(issues, Issue{
				Type:         CheckFieldValidation,
				Severity:     SeverityCritical,
				ProductID:    p.ProductID,
				Field:        "price.discount",
				Message:      fmt.Sprintf("discount %.2f outside [0, %.2f]", *d, catalog.MaxPrice),
				SuggestedFix: "run repair with invalid_data to clamp the discount",
			})
		} else if *d > p.Price.Normal {
			issues = append(issues, Issue{
				Type:      CheckFieldValidation,
				Severity:  SeverityWarning,
				ProductID: p.ProductID,
				Field:     "price.discount",
				Message:   fmt.Sprintf("discount %.2f exceeds the normal price %.2f", *d, p.Price.Normal),
			})
		}
	}

	if p.Barcode != "" && !catalog.ValidBarcode(p.Barcode) {
		issues = append(issues, Issue{
			Type:      CheckFieldValidation,
			Severity:  SeverityWarning,
			ProductID: p.ProductID,
			Field:     "barcode",
			Message:   fmt.Sprintf("barcode %q is not 8-13 digits", p.Barcode),
		})
	}

	if p.Link != "" && !catalog.ValidLink(p.Link) {
		issues = append(issues, Issue{
			Type:      CheckFieldValidation,
			Severity:  SeverityWarning,
			ProductID: p.ProductID,
			Field:     "link",
			Message:   fmt.Sprintf("link %q is not an http(s) url", p.Link),
		})
	}

	return issues
}

// checkImages stats every stored object behind the product's image rows.
func (c *Checker) checkImages(ctx context.Context, p *catalog.Product) ([]Issue, error) {
	rows, err := c.imageRows.ListImagesByProduct(ctx, p.ProductID)
	if err != nil {
		return nil, fmt.Errorf("consistency: listing images for %s: %w", p.ProductID, err)
	}

	var issues []Issue

	for _, img := range rows {
		integ := c.images.ValidateIntegrity(ctx, img.ObjectName)

		switch {
		case integ.Accessible:
		case integ.Exists:
			issues = append(issues, Issue{
				Type:      CheckImageExistence,
				Severity:  SeverityWarning,
				ProductID: p.ProductID,
				Field:     string(img.Type),
				Message:   fmt.Sprintf("object %s is unreadable: %s", img.ObjectName, integ.Error),
			})
		default:
			issues = append(issues, Issue{
				Type:         CheckImageExistence,
				Severity:     SeverityCritical,
				ProductID:    p.ProductID,
				Field:        string(img.Type),
				Message:      fmt.Sprintf("object %s is missing from the store", img.ObjectName),
				SuggestedFix: "run repair with missing_image to re-download it",
			})
		}
	}

	return issues, nil
}
