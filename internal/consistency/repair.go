package consistency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"prodsync/internal/catalog"
)

// Repairable issue types.
const (
	IssueMissingImage      = "missing_image"
	IssueInvalidData       = "invalid_data"
	IssueDuplicateProducts = "duplicate_products"
)

// Repair result states.
const (
	RepairStatusRepaired = "repaired"
	RepairStatusFailed   = "failed"
	RepairStatusSkipped  = "skipped"
)

// ErrInvalidIssueType rejects an unknown repair issue type.
var ErrInvalidIssueType = fmt.Errorf("consistency: invalid issue type")

// RepairRequest selects what to repair. Empty IssueTypes means every type;
// empty ProductIDs means every product. DryRun reports what would change
// without writing.
type RepairRequest struct {
	IssueTypes []string `json:"issueTypes,omitempty"`
	ProductIDs []string `json:"productIds,omitempty"`
	DryRun     bool     `json:"dryRun"`
}

// RepairResult is the outcome of one attempted fix.
type RepairResult struct {
	ProductID string `json:"productId"`
	IssueType string `json:"issueType"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// RepairSummary totals one repair pass. Skipped dry-run fixes count as
// issues found but neither repaired nor failed.
type RepairSummary struct {
	TotalIssues    int `json:"totalIssues"`
	RepairedIssues int `json:"repairedIssues"`
	FailedRepairs  int `json:"failedRepairs"`
}

// RepairReport is the outcome of one repair pass.
type RepairReport struct {
	RepairID  string         `json:"repairId"`
	Timestamp time.Time      `json:"timestamp"`
	DryRun    bool           `json:"dryRun"`
	Summary   RepairSummary  `json:"summary"`
	Results   []RepairResult `json:"results"`
}

// Repair fixes the selected issue types over the selected products.
func (c *Checker) Repair(ctx context.Context, req RepairRequest) (*RepairReport, error) {
	issueTypes, err := normalizeIssueTypes(req.IssueTypes)
	if err != nil {
		return nil, err
	}

	report := &RepairReport{
		RepairID:  uuid.NewString(),
		Timestamp: c.nowFunc().UTC(),
		DryRun:    req.DryRun,
		Results:   []RepairResult{},
	}

	if issueTypes[IssueMissingImage] {
		if err := c.repairMissingImages(ctx, req, report); err != nil {
			return nil, err
		}
	}

	if issueTypes[IssueInvalidData] {
		if err := c.repairInvalidData(ctx, req, report); err != nil {
			return nil, err
		}
	}

	if issueTypes[IssueDuplicateProducts] {
		if err := c.repairDuplicates(ctx, req, report); err != nil {
			return nil, err
		}
	}

	for _, res := range report.Results {
		report.Summary.TotalIssues++

		switch res.Status {
		case RepairStatusRepaired:
			report.Summary.RepairedIssues++
		case RepairStatusFailed:
			report.Summary.FailedRepairs++
		}
	}

	c.logger.Info("repair finished",
		slog.String("repair_id", report.RepairID),
		slog.Bool("dry_run", req.DryRun),
		slog.Int("issues", report.Summary.TotalIssues),
		slog.Int("repaired", report.Summary.RepairedIssues),
		slog.Int("failed", report.Summary.FailedRepairs),
	)

	return report, nil
}

func normalizeIssueTypes(requested []string) (map[string]bool, error) {
	all := map[string]bool{
		IssueMissingImage:      true,
		IssueInvalidData:       true,
		IssueDuplicateProducts: true,
	}

	if len(requested) == 0 {
		return all, nil
	}

	issueTypes := make(map[string]bool, len(requested))

	for _, it := range requested {
		if !all[it] {
			return nil, fmt.Errorf("%w: %q", ErrInvalidIssueType, it)
		}

		issueTypes[it] = true
	}

	return issueTypes, nil
}

// repairScope loads the products a repair request covers.
func (c *Checker) repairScope(ctx context.Context, req RepairRequest) ([]*catalog.Product, error) {
	if len(req.ProductIDs) > 0 {
		products, err := c.products.GetProductsByIDs(ctx, req.ProductIDs)
		if err != nil {
			return nil, fmt.Errorf("consistency: loading products: %w", err)
		}

		return products, nil
	}

	products, err := c.products.ListActiveProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("consistency: listing products: %w", err)
	}

	return products, nil
}

// repairMissingImages re-downloads missing objects from their upstream
// source tokens. A row without a token cannot be repaired.
func (c *Checker) repairMissingImages(ctx context.Context, req RepairRequest, report *RepairReport) error {
	products, err := c.repairScope(ctx, req)
	if err != nil {
		return err
	}

	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("consistency: repair canceled: %w", err)
		}

		rows, err := c.imageRows.ListImagesByProduct(ctx, p.ProductID)
		if err != nil {
			return fmt.Errorf("consistency: listing images for %s: %w", p.ProductID, err)
		}

		for _, img := range rows {
			integ := c.images.ValidateIntegrity(ctx, img.ObjectName)
			if integ.Accessible {
				continue
			}

			result := RepairResult{ProductID: p.ProductID, IssueType: IssueMissingImage}

			switch {
			case req.DryRun:
				result.Status = RepairStatusSkipped
				result.Message = fmt.Sprintf("dry run: would re-download %s", img.ObjectName)
			case img.SourceToken == "":
				result.Status = RepairStatusFailed
				result.Message = fmt.Sprintf("%s is missing and has no source token", img.ObjectName)
			default:
				if err := c.images.RepairImage(ctx, img); err != nil {
					result.Status = RepairStatusFailed
					result.Message = err.Error()
				} else {
					result.Status = RepairStatusRepaired
					result.Message = fmt.Sprintf("re-downloaded %s", img.ObjectName)
				}
			}

			report.Results = append(report.Results, result)
		}
	}

	return nil
}

// repairInvalidData clamps out-of-range prices to the nearest legal value.
func (c *Checker) repairInvalidData(ctx context.Context, req RepairRequest, report *RepairReport) error {
	products, err := c.repairScope(ctx, req)
	if err != nil {
		return err
	}

	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("consistency: repair canceled: %w", err)
		}

		fixes := clampPrices(p)
		if len(fixes) == 0 {
			continue
		}

		result := RepairResult{ProductID: p.ProductID, IssueType: IssueInvalidData}

		switch {
		case req.DryRun:
			result.Status = RepairStatusSkipped
			result.Message = "dry run: would " + joinFixes(fixes)
		default:
			if _, err := c.products.UpsertProduct(ctx, p); err != nil {
				result.Status = RepairStatusFailed
				result.Message = err.Error()
			} else {
				result.Status = RepairStatusRepaired
				result.Message = joinFixes(fixes)
			}
		}

		report.Results = append(report.Results, result)
	}

	return nil
}

// clampPrices pulls every price field into [0, MaxPrice] in place and
// returns a description of each change.
func clampPrices(p *catalog.Product) []string {
	var fixes []string

	if p.Price.Normal < 0 {
		fixes = append(fixes, fmt.Sprintf("clamp price %.2f to 0", p.Price.Normal))
		p.Price.Normal = 0
	} else if p.Price.Normal > catalog.MaxPrice {
		fixes = append(fixes, fmt.Sprintf("clamp price %.2f to %.2f", p.Price.Normal, catalog.MaxPrice))
		p.Price.Normal = catalog.MaxPrice
	}

	if d := p.Price.Discount; d != nil {
		if *d < 0 {
			fixes = append(fixes, fmt.Sprintf("clamp discount %.2f to 0", *d))
			*d = 0
		} else if *d > catalog.MaxPrice {
			fixes = append(fixes, fmt.Sprintf("clamp discount %.2f to %.2f", *d, catalog.MaxPrice))
			*d = catalog.MaxPrice
		}
	}

	if len(fixes) > 0 {
		p.DeriveDiscountRate()
	}

	return fixes
}

func joinFixes(fixes []string) string {
	msg := fixes[0]

	for _, fix := range fixes[1:] {
		msg += "; " + fix
	}

	return msg
}

// repairDuplicates keeps the newest row per duplicated product id and
// soft-deletes the rest.
func (c *Checker) repairDuplicates(ctx context.Context, req RepairRequest, report *RepairReport) error {
	ids, err := c.products.FindDuplicateProductIDs(ctx)
	if err != nil {
		return fmt.Errorf("consistency: finding duplicates: %w", err)
	}

	requested := make(map[string]bool, len(req.ProductIDs))
	for _, id := range req.ProductIDs {
		requested[id] = true
	}

	for _, id := range ids {
		if len(requested) > 0 && !requested[id] {
			continue
		}

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("consistency: repair canceled: %w", err)
		}

		rows, err := c.products.ListProductRows(ctx, id)
		if err != nil {
			return fmt.Errorf("consistency: listing rows for %s: %w", id, err)
		}

		if len(rows) < 2 {
			continue
		}

		// Rows come newest first; everything after the winner goes.
		for _, loser := range rows[1:] {
			result := RepairResult{ProductID: id, IssueType: IssueDuplicateProducts}

			switch {
			case req.DryRun:
				result.Status = RepairStatusSkipped
				result.Message = fmt.Sprintf("dry run: would delete row %s, keeping the %s row",
					loser.RowID, rows[0].SyncTime.Format(time.RFC3339))
			default:
				if err := c.products.MarkProductRowDeleted(ctx, loser.RowID); err != nil {
					result.Status = RepairStatusFailed
					result.Message = err.Error()
				} else {
					result.Status = RepairStatusRepaired
					result.Message = fmt.Sprintf("deleted duplicate row %s", loser.RowID)
				}
			}

			report.Results = append(report.Results, result)
		}
	}

	return nil
}
