package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"prodsync/internal/catalog"
)

// Hot columns are denormalized out of the document for indexing; the doc
// column holds the full canonical product JSON and both are written in the
// same transaction.
const productRowColumns = `id, doc, version, sync_time`

const (
	getProductSQL = `SELECT ` + productRowColumns + ` FROM products
		WHERE product_id = ? AND status <> 'deleted'
		ORDER BY sync_time DESC, created_at DESC LIMIT 1`

	currentProductSQL = `SELECT id, version FROM products
		WHERE product_id = ?
		ORDER BY sync_time DESC, created_at DESC LIMIT 1`

	insertProductSQL = `INSERT INTO products
		(id, product_id, name_display, status, is_visible, version,
		 price_normal, collect_time, sync_time, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	updateProductSQL = `UPDATE products SET
		name_display = ?, status = ?, is_visible = ?, version = ?,
		price_normal = ?, collect_time = ?, sync_time = ?, doc = ?, updated_at = ?
		WHERE id = ?`

	markProductRowDeletedSQL = `UPDATE products SET status = 'deleted', updated_at = ? WHERE id = ?`

	listActiveProductsSQL = `SELECT ` + productRowColumns + ` FROM products
		WHERE status = 'active'
		ORDER BY product_id, sync_time DESC, created_at DESC`

	listProductsSinceSQL = `SELECT ` + productRowColumns + ` FROM products
		WHERE status = 'active' AND sync_time >= ?
		ORDER BY product_id, sync_time DESC, created_at DESC`

	duplicateProductIDsSQL = `SELECT product_id FROM products
		WHERE status <> 'deleted'
		GROUP BY product_id HAVING COUNT(*) > 1
		ORDER BY product_id`

	productRowsSQL = `SELECT ` + productRowColumns + ` FROM products
		WHERE product_id = ? AND status <> 'deleted'
		ORDER BY sync_time DESC, created_at DESC`

	countProductsByStatusSQL = `SELECT status, COUNT(*) FROM products GROUP BY status`
)

func (s *Store) prepareProductStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.productStmts.get, getProductSQL, "get product"},
		{&s.productStmts.current, currentProductSQL, "current product version"},
		{&s.productStmts.insert, insertProductSQL, "insert product"},
		{&s.productStmts.update, updateProductSQL, "update product"},
		{&s.productStmts.markDeleted, markProductRowDeletedSQL, "mark product row deleted"},
		{&s.productStmts.listActive, listActiveProductsSQL, "list active products"},
		{&s.productStmts.listSince, listProductsSinceSQL, "list products since"},
		{&s.productStmts.duplicates, duplicateProductIDsSQL, "duplicate product ids"},
		{&s.productStmts.rowsForProduct, productRowsSQL, "product rows"},
		{&s.productStmts.countByStatus, countProductsByStatusSQL, "count products by status"},
	})
}

func scanProductRow(row interface{ Scan(...any) error }) (*ProductRow, error) {
	var (
		rowID    string
		doc      string
		version  int64
		syncTime int64
	)

	if err := row.Scan(&rowID, &doc, &version, &syncTime); err != nil {
		return nil, err
	}

	var p catalog.Product
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("decode product doc: %w", err)
	}

	// The column is authoritative even if the doc drifted.
	p.Version = version

	return &ProductRow{RowID: rowID, Product: &p, SyncTime: time.UnixMilli(syncTime).UTC()}, nil
}

// UpsertProduct writes p keyed by its business product id. The store owns
// versioning: a first write gets version 1, any later write gets the stored
// version plus one. p.Version and p.SyncTime are updated in place.
func (s *Store) UpsertProduct(ctx context.Context, p *catalog.Product) (created bool, err error) {
	if p.ProductID == "" {
		return false, errors.New("store: upsert product: empty product id")
	}

	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: begin upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		rowID   string
		version int64
	)

	err = tx.StmtContext(ctx, s.productStmts.current).QueryRowContext(ctx, p.ProductID).Scan(&rowID, &version)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = true
		rowID = uuid.NewString()
		p.Version = 1
	case err != nil:
		return false, fmt.Errorf("store: read current version: %w", err)
	default:
		p.Version = version + 1
	}

	p.SyncTime = now

	doc, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("store: encode product doc: %w", err)
	}

	if created {
		_, err = tx.StmtContext(ctx, s.productStmts.insert).ExecContext(ctx,
			rowID, p.ProductID, p.Name.Display, string(p.Status), p.IsVisible,
			p.Version, p.Price.Normal, millis(p.CollectTime), p.SyncTime.UnixMilli(),
			string(doc), now.UnixMilli(), now.UnixMilli())
	} else {
		_, err = tx.StmtContext(ctx, s.productStmts.update).ExecContext(ctx,
			p.Name.Display, string(p.Status), p.IsVisible, p.Version,
			p.Price.Normal, millis(p.CollectTime), p.SyncTime.UnixMilli(),
			string(doc), now.UnixMilli(), rowID)
	}

	if err != nil {
		return false, fmt.Errorf("store: write product %s: %w", p.ProductID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit upsert: %w", err)
	}

	s.logger.Debug("product upserted", "product_id", p.ProductID, "version", p.Version, "created", created)

	return created, nil
}

// GetProduct returns the newest non-deleted product for the business id,
// or (nil, nil) when none exists.
func (s *Store) GetProduct(ctx context.Context, productID string) (*catalog.Product, error) {
	pr, err := scanProductRow(s.productStmts.get.QueryRowContext(ctx, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		return nil, fmt.Errorf("store: get product %s: %w", productID, err)
	}

	return pr.Product, nil
}

// SetProductImageURL updates one slot of the product's image set. Writing
// the URL already stored is a no-op and does not bump the version.
func (s *Store) SetProductImageURL(ctx context.Context, productID string, imageType catalog.ImageType, url string) (changed bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: begin image url update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	pr, err := scanProductRow(tx.StmtContext(ctx, s.productStmts.get).QueryRowContext(ctx, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("store: set image url: product %s not found", productID)
	}

	if err != nil {
		return false, fmt.Errorf("store: set image url: %w", err)
	}

	p := pr.Product
	if p.Images.URL(imageType) == url {
		return false, nil
	}

	p.Images.SetURL(imageType, url)
	p.Version++

	now := s.now().UTC()

	doc, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("store: encode product doc: %w", err)
	}

	_, err = tx.StmtContext(ctx, s.productStmts.update).ExecContext(ctx,
		p.Name.Display, string(p.Status), p.IsVisible, p.Version,
		p.Price.Normal, millis(p.CollectTime), p.SyncTime.UnixMilli(),
		string(doc), now.UnixMilli(), pr.RowID)
	if err != nil {
		return false, fmt.Errorf("store: write image url for %s: %w", productID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit image url update: %w", err)
	}

	s.logger.Debug("product image url updated", "product_id", productID, "type", string(imageType), "version", p.Version)

	return true, nil
}

// ListActiveProducts returns every active product, newest row per business
// id when duplicates exist.
func (s *Store) ListActiveProducts(ctx context.Context) ([]*catalog.Product, error) {
	rows, err := s.productStmts.listActive.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list active products: %w", err)
	}

	return collectProducts(rows)
}

// ListProductsSince returns active products whose sync time is at or after
// the cutoff.
func (s *Store) ListProductsSince(ctx context.Context, since time.Time) ([]*catalog.Product, error) {
	rows, err := s.productStmts.listSince.QueryContext(ctx, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("store: list products since: %w", err)
	}

	return collectProducts(rows)
}

// GetProductsByIDs returns the non-deleted products for the given business
// ids, newest row per id. Missing ids are simply absent from the result.
func (s *Store) GetProductsByIDs(ctx context.Context, productIDs []string) ([]*catalog.Product, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + productRowColumns + ` FROM products
		WHERE status <> 'deleted' AND product_id IN (` + placeholders(len(productIDs)) + `)
		ORDER BY product_id, sync_time DESC, created_at DESC`

	args := make([]any, len(productIDs))
	for i, id := range productIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get products by ids: %w", err)
	}

	return collectProducts(rows)
}

// FindDuplicateProductIDs returns business ids backed by more than one
// non-deleted row.
func (s *Store) FindDuplicateProductIDs(ctx context.Context) ([]string, error) {
	rows, err := s.productStmts.duplicates.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: find duplicate products: %w", err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan duplicate id: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate duplicate ids: %w", err)
	}

	return ids, nil
}

// ListProductRows returns every non-deleted physical row for a business id,
// newest first. Used by duplicate cleanup, which needs row identity.
func (s *Store) ListProductRows(ctx context.Context, productID string) ([]*ProductRow, error) {
	rows, err := s.productStmts.rowsForProduct.QueryContext(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("store: list product rows: %w", err)
	}
	defer rows.Close()

	var out []*ProductRow

	for rows.Next() {
		pr, err := scanProductRow(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan product row: %w", err)
		}

		out = append(out, pr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate product rows: %w", err)
	}

	return out, nil
}

// MarkProductRowDeleted soft-deletes one physical row without touching its
// siblings. Duplicate cleanup uses it to retire the losing rows.
func (s *Store) MarkProductRowDeleted(ctx context.Context, rowID string) error {
	res, err := s.productStmts.markDeleted.ExecContext(ctx, s.now().UTC().UnixMilli(), rowID)
	if err != nil {
		return fmt.Errorf("store: mark product row deleted: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: mark product row deleted: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("store: mark product row deleted: no row %s", rowID)
	}

	return nil
}

// MarkAbsentProductsDeleted soft-deletes every active product whose business
// id is not in present. Returns the number of distinct products deleted.
func (s *Store) MarkAbsentProductsDeleted(ctx context.Context, present map[string]struct{}) (int64, error) {
	rows, err := s.productStmts.listActive.QueryContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: list active products: %w", err)
	}

	var victims []*ProductRow

	for rows.Next() {
		pr, err := scanProductRow(rows)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("store: scan product row: %w", err)
		}

		if _, ok := present[pr.Product.ProductID]; !ok {
			victims = append(victims, pr)
		}
	}

	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("store: iterate active products: %w", err)
	}

	rows.Close()

	if len(victims) == 0 {
		return 0, nil
	}

	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin delete sweep: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	update := tx.StmtContext(ctx, s.productStmts.update)
	deleted := make(map[string]struct{}, len(victims))

	for _, pr := range victims {
		p := pr.Product
		p.Status = catalog.StatusDeleted
		p.Version++

		doc, err := json.Marshal(p)
		if err != nil {
			return 0, fmt.Errorf("store: encode product doc: %w", err)
		}

		if _, err := update.ExecContext(ctx,
			p.Name.Display, string(p.Status), p.IsVisible, p.Version,
			p.Price.Normal, millis(p.CollectTime), p.SyncTime.UnixMilli(),
			string(doc), now.UnixMilli(), pr.RowID); err != nil {
			return 0, fmt.Errorf("store: mark product %s deleted: %w", p.ProductID, err)
		}

		deleted[p.ProductID] = struct{}{}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit delete sweep: %w", err)
	}

	s.logger.Info("marked absent products deleted", "products", len(deleted), "rows", len(victims))

	return int64(len(deleted)), nil
}

// CountProductsByStatus returns row counts grouped by lifecycle status.
func (s *Store) CountProductsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.productStmts.countByStatus.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: count products: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)

	for rows.Next() {
		var (
			status string
			n      int
		)

		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("store: scan product count: %w", err)
		}

		counts[status] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate product counts: %w", err)
	}

	return counts, nil
}

func collectProducts(rows *sql.Rows) ([]*catalog.Product, error) {
	defer rows.Close()

	var (
		out  []*catalog.Product
		last string
	)

	for rows.Next() {
		pr, err := scanProductRow(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan product row: %w", err)
		}

		// Rows are ordered newest-first within a business id, so the
		// first row wins when duplicates exist.
		if pr.Product.ProductID == last {
			continue
		}

		last = pr.Product.ProductID
		out = append(out, pr.Product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate products: %w", err)
	}

	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
