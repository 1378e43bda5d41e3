package consistency

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodsync/internal/catalog"
	"prodsync/internal/images"
	"prodsync/internal/store"
)

var testClock = func() time.Time {
	return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func floatPtr(f float64) *float64 { return &f }

func validProduct(id string) *catalog.Product {
	return &catalog.Product{
		ProductID: id,
		Name:      catalog.LocalizedText{Chinese: "牦牛肉干", Display: "牦牛肉干"},
		Price:     catalog.Price{Normal: 58},
		Status:    catalog.StatusActive,
		IsVisible: true,
		Version:   1,
	}
}

type fakeProducts struct {
	active     []*catalog.Product
	sinceArg   time.Time
	byIDsArg   []string
	upserted   []*catalog.Product
	duplicates []string
	rows       map[string][]*store.ProductRow
	deleted    []string
}

func (f *fakeProducts) ListActiveProducts(_ context.Context) ([]*catalog.Product, error) {
	return f.active, nil
}

func (f *fakeProducts) ListProductsSince(_ context.Context, since time.Time) ([]*catalog.Product, error) {
	f.sinceArg = since

	return f.active, nil
}

func (f *fakeProducts) GetProductsByIDs(_ context.Context, ids []string) ([]*catalog.Product, error) {
	f.byIDsArg = ids

	var out []*catalog.Product

	for _, p := range f.active {
		for _, id := range ids {
			if p.ProductID == id {
				out = append(out, p)
			}
		}
	}

	return out, nil
}

func (f *fakeProducts) UpsertProduct(_ context.Context, p *catalog.Product) (bool, error) {
	f.upserted = append(f.upserted, p)

	return false, nil
}

func (f *fakeProducts) FindDuplicateProductIDs(_ context.Context) ([]string, error) {
	return f.duplicates, nil
}

func (f *fakeProducts) ListProductRows(_ context.Context, productID string) ([]*store.ProductRow, error) {
	return f.rows[productID], nil
}

func (f *fakeProducts) MarkProductRowDeleted(_ context.Context, rowID string) error {
	f.deleted = append(f.deleted, rowID)

	return nil
}

type fakeImageRows struct {
	byProduct map[string][]*store.Image
}

func (f *fakeImageRows) ListImagesByProduct(_ context.Context, productID string) ([]*store.Image, error) {
	return f.byProduct[productID], nil
}

type fakeImageSvc struct {
	missing    map[string]bool
	unreadable map[string]bool
	repaired   []string
	repairErr  error
}

func (f *fakeImageSvc) ValidateIntegrity(_ context.Context, objectName string) images.Integrity {
	switch {
	case f.missing[objectName]:
		return images.Integrity{}
	case f.unreadable[objectName]:
		return images.Integrity{Exists: true, Accessible: false, Error: "connection refused"}
	default:
		return images.Integrity{Exists: true, Accessible: true, Size: 1024}
	}
}

func (f *fakeImageSvc) RepairImage(_ context.Context, img *store.Image) error {
	if f.repairErr != nil {
		return f.repairErr
	}

	f.repaired = append(f.repaired, img.ObjectName)
	delete(f.missing, img.ObjectName)

	return nil
}

type fixture struct {
	checker  *Checker
	products *fakeProducts
	rows     *fakeImageRows
	svc      *fakeImageSvc
}

func newFixture() *fixture {
	f := &fixture{
		products: &fakeProducts{rows: map[string][]*store.ProductRow{}},
		rows:     &fakeImageRows{byProduct: map[string][]*store.Image{}},
		svc:      &fakeImageSvc{missing: map[string]bool{}, unreadable: map[string]bool{}},
	}

	f.checker = New(f.products, f.rows, f.svc, discardLogger(), WithNow(testClock))

	return f
}

func issuesByField(issues []Issue, field string) []Issue {
	var out []Issue

	for _, is := range issues {
		if is.Field == field {
			out = append(out, is)
		}
	}

	return out
}

func TestValidate_CleanCatalog(t *testing.T) {
	fx := newFixture()
	fx.products.active = []*catalog.Product{validProduct("rec1"), validProduct("rec2")}

	report, err := fx.checker.Validate(context.Background(), ValidateRequest{Scope: ScopeAll})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Summary.TotalChecked)
	assert.Equal(t, 0, report.Summary.IssuesFound)
	assert.Empty(t, report.Issues)
	assert.NotEmpty(t, report.ValidationID)
	assert.Equal(t, testClock().UTC(), report.Timestamp)
}

func TestValidate_FindsFieldIssues(t *testing.T) {
	fx := newFixture()

	nameless := validProduct("recNoName")
	nameless.Name = catalog.LocalizedText{}

	pricey := validProduct("recPricey")
	pricey.Price.Normal = 2_000_000

	discounted := validProduct("recDiscount")
	discounted.Price.Discount = floatPtr(99)

	badShape := validProduct("recShape")
	badShape.Barcode = "12ab"
	badShape.Link = "ftp://example.com"

	fx.products.active = []*catalog.Product{nameless, pricey, discounted, badShape}

	report, err := fx.checker.Validate(context.Background(), ValidateRequest{Scope: ScopeAll})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Summary.TotalChecked)
	assert.Equal(t, 5, report.Summary.IssuesFound)
	assert.Equal(t, 2, report.Summary.CriticalIssues)
	assert.Equal(t, 3, report.Summary.Warnings)

	nameIssues := issuesByField(report.Issues, "name.display")
	require.Len(t, nameIssues, 1)
	assert.Equal(t, SeverityCritical, nameIssues[0].Severity)
	assert.Equal(t, CheckDataIntegrity, nameIssues[0].Type)

	priceIssues := issuesByField(report.Issues, "price.normal")
	require.Len(t, priceIssues, 1)
	assert.Equal(t, SeverityCritical, priceIssues[0].Severity)
	assert.Contains(t, priceIssues[0].SuggestedFix, "invalid_data")

	discountIssues := issuesByField(report.Issues, "price.discount")
	require.Len(t, discountIssues, 1)
	assert.Equal(t, SeverityWarning, discountIssues[0].Severity)

	assert.Len(t, issuesByField(report.Issues, "barcode"), 1)
	assert.Len(t, issuesByField(report.Issues, "link"), 1)
}

func TestValidate_ChecksAreSelectable(t *testing.T) {
	fx := newFixture()

	pricey := validProduct("recPricey")
	pricey.Price.Normal = -5
	fx.products.active = []*catalog.Product{pricey}

	report, err := fx.checker.Validate(context.Background(), ValidateRequest{
		Scope: ScopeAll, Checks: []string{CheckDataIntegrity},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, report.Summary.IssuesFound, "field validation was not requested")

	_, err = fx.checker.Validate(context.Background(), ValidateRequest{
		Scope: ScopeAll, Checks: []string{"made_up"},
	})
	require.ErrorIs(t, err, ErrInvalidCheck)
}

func TestValidate_ImageExistence(t *testing.T) {
	fx := newFixture()
	fx.products.active = []*catalog.Product{validProduct("rec1")}
	fx.rows.byProduct["rec1"] = []*store.Image{
		{ImageID: "img-1", ProductID: "rec1", Type: catalog.ImageFront, ObjectName: "products/rec1/front_0.jpg"},
		{ImageID: "img-2", ProductID: "rec1", Type: catalog.ImageBack, ObjectName: "products/rec1/back_0.jpg"},
		{ImageID: "img-3", ProductID: "rec1", Type: catalog.ImageLabel, ObjectName: "products/rec1/label_0.jpg"},
	}
	fx.svc.missing["products/rec1/back_0.jpg"] = true
	fx.svc.unreadable["products/rec1/label_0.jpg"] = true

	report, err := fx.checker.Validate(context.Background(), ValidateRequest{
		Scope: ScopeAll, Checks: []string{CheckImageExistence},
	})
	require.NoError(t, err)

	require.Equal(t, 2, report.Summary.IssuesFound)
	assert.Equal(t, 1, report.Summary.CriticalIssues)
	assert.Equal(t, 1, report.Summary.Warnings)

	missing := issuesByField(report.Issues, "back")
	require.Len(t, missing, 1)
	assert.Equal(t, SeverityCritical, missing[0].Severity)
	assert.Contains(t, missing[0].SuggestedFix, "missing_image")
}

func TestValidate_ScopeResolution(t *testing.T) {
	fx := newFixture()
	fx.products.active = []*catalog.Product{validProduct("rec1"), validProduct("rec2")}

	_, err := fx.checker.Validate(context.Background(), ValidateRequest{Scope: ScopeRecent})
	require.NoError(t, err)
	assert.Equal(t, testClock().UTC().Add(-24*time.Hour), fx.products.sinceArg)

	report, err := fx.checker.Validate(context.Background(), ValidateRequest{
		Scope: ScopeSelective, ProductIDs: []string{"rec2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.TotalChecked)
	assert.Equal(t, []string{"rec2"}, fx.products.byIDsArg)

	_, err = fx.checker.Validate(context.Background(), ValidateRequest{Scope: ScopeSelective})
	require.ErrorIs(t, err, ErrMissingProductIDs)

	_, err = fx.checker.Validate(context.Background(), ValidateRequest{Scope: "bogus"})
	require.ErrorIs(t, err, ErrInvalidScope)
}

func TestRepair_InvalidDataClampsPrices(t *testing.T) {
	fx := newFixture()

	negative := validProduct("recNeg")
	negative.Price.Normal = -10

	huge := validProduct("recHuge")
	huge.Price.Normal = 5_000_000
	huge.Price.Discount = floatPtr(7_000_000)

	fine := validProduct("recFine")

	fx.products.active = []*catalog.Product{negative, huge, fine}

	report, err := fx.checker.Repair(context.Background(), RepairRequest{
		IssueTypes: []string{IssueInvalidData},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Summary.TotalIssues)
	assert.Equal(t, 2, report.Summary.RepairedIssues)
	assert.Equal(t, 0, report.Summary.FailedRepairs)

	require.Len(t, fx.products.upserted, 2)
	assert.Equal(t, float64(0), negative.Price.Normal)
	assert.Equal(t, catalog.MaxPrice, huge.Price.Normal)
	assert.Equal(t, catalog.MaxPrice, *huge.Price.Discount)
}

func TestRepair_DryRunWritesNothing(t *testing.T) {
	fx := newFixture()

	negative := validProduct("recNeg")
	negative.Price.Normal = -10
	fx.products.active = []*catalog.Product{negative}

	report, err := fx.checker.Repair(context.Background(), RepairRequest{
		IssueTypes: []string{IssueInvalidData}, DryRun: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Summary.TotalIssues)
	assert.Equal(t, 0, report.Summary.RepairedIssues)
	assert.Equal(t, 0, report.Summary.FailedRepairs)

	require.Len(t, report.Results, 1)
	assert.Equal(t, RepairStatusSkipped, report.Results[0].Status)
	assert.Contains(t, report.Results[0].Message, "dry run")

	assert.Empty(t, fx.products.upserted)
}

func TestRepair_MissingImages(t *testing.T) {
	fx := newFixture()
	fx.products.active = []*catalog.Product{validProduct("rec1")}
	fx.rows.byProduct["rec1"] = []*store.Image{
		{ImageID: "img-1", ProductID: "rec1", Type: catalog.ImageFront,
			ObjectName: "products/rec1/front_0.jpg", SourceToken: "boxcnFront"},
		{ImageID: "img-2", ProductID: "rec1", Type: catalog.ImageBack,
			ObjectName: "products/rec1/back_0.jpg"},
		{ImageID: "img-3", ProductID: "rec1", Type: catalog.ImageLabel,
			ObjectName: "products/rec1/label_0.jpg", SourceToken: "boxcnLabel"},
	}
	fx.svc.missing["products/rec1/front_0.jpg"] = true
	fx.svc.missing["products/rec1/back_0.jpg"] = true

	report, err := fx.checker.Repair(context.Background(), RepairRequest{
		IssueTypes: []string{IssueMissingImage},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Summary.TotalIssues)
	assert.Equal(t, 1, report.Summary.RepairedIssues)
	assert.Equal(t, 1, report.Summary.FailedRepairs)

	assert.Equal(t, []string{"products/rec1/front_0.jpg"}, fx.svc.repaired)

	// Second pass: the repaired object exists, the tokenless one still fails.
	report, err = fx.checker.Repair(context.Background(), RepairRequest{
		IssueTypes: []string{IssueMissingImage},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Summary.TotalIssues)
	assert.Equal(t, 0, report.Summary.RepairedIssues)
	assert.Equal(t, 1, report.Summary.FailedRepairs)
}

func TestRepair_DuplicateProductsKeepsNewestRow(t *testing.T) {
	fx := newFixture()

	newest := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	fx.products.duplicates = []string{"recDup"}
	fx.products.rows["recDup"] = []*store.ProductRow{
		{RowID: "row-new", Product: validProduct("recDup"), SyncTime: newest},
		{RowID: "row-mid", Product: validProduct("recDup"), SyncTime: newest.Add(-time.Hour)},
		{RowID: "row-old", Product: validProduct("recDup"), SyncTime: newest.Add(-2 * time.Hour)},
	}

	report, err := fx.checker.Repair(context.Background(), RepairRequest{
		IssueTypes: []string{IssueDuplicateProducts},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Summary.TotalIssues)
	assert.Equal(t, 2, report.Summary.RepairedIssues)
	assert.ElementsMatch(t, []string{"row-mid", "row-old"}, fx.products.deleted)
}

func TestRepair_DuplicateFilterByProductID(t *testing.T) {
	fx := newFixture()

	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	fx.products.duplicates = []string{"recA", "recB"}

	for _, id := range []string{"recA", "recB"} {
		fx.products.rows[id] = []*store.ProductRow{
			{RowID: id + "-new", Product: validProduct(id), SyncTime: now},
			{RowID: id + "-old", Product: validProduct(id), SyncTime: now.Add(-time.Hour)},
		}
	}

	report, err := fx.checker.Repair(context.Background(), RepairRequest{
		IssueTypes: []string{IssueDuplicateProducts}, ProductIDs: []string{"recB"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Summary.TotalIssues)
	assert.Equal(t, []string{"recB-old"}, fx.products.deleted)
}

func TestRepair_InvalidIssueType(t *testing.T) {
	fx := newFixture()

	_, err := fx.checker.Repair(context.Background(), RepairRequest{IssueTypes: []string{"exorcism"}})
	require.ErrorIs(t, err, ErrInvalidIssueType)
}
