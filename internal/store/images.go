package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"prodsync/internal/catalog"
)

const imageRowColumns = `image_id, product_id, type, bucket_name, object_name,
	original_name, file_size, mime_type, width, height, public_url,
	md5_hash, sha256_hash, thumbnails, source_token, is_active,
	access_count, last_accessed_at, created_at, updated_at`

const (
	insertImageSQL = `INSERT INTO images (` + imageRowColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	getImageSQL = `SELECT ` + imageRowColumns + ` FROM images WHERE image_id = ?`

	findActiveImageSQL = `SELECT ` + imageRowColumns + ` FROM images
		WHERE product_id = ? AND type = ? AND md5_hash = ? AND is_active = 1`

	findImageBySourceTokenSQL = `SELECT ` + imageRowColumns + ` FROM images
		WHERE product_id = ? AND type = ? AND source_token = ? AND is_active = 1
		ORDER BY created_at DESC LIMIT 1`

	setImageSourceTokenSQL = `UPDATE images SET source_token = ?, updated_at = ?
		WHERE image_id = ?`

	touchImageAccessSQL = `UPDATE images SET
		access_count = access_count + 1, last_accessed_at = ?, updated_at = ?
		WHERE image_id = ?`

	deactivateImageSQL = `UPDATE images SET is_active = 0, updated_at = ?
		WHERE image_id = ? AND is_active = 1`

	listActiveImagesSQL = `SELECT ` + imageRowColumns + ` FROM images
		WHERE is_active = 1 ORDER BY product_id, type, created_at`

	listImagesByProductSQL = `SELECT ` + imageRowColumns + ` FROM images
		WHERE product_id = ? AND is_active = 1 ORDER BY type, created_at`

	listInactiveImagesSQL = `SELECT ` + imageRowColumns + ` FROM images
		WHERE is_active = 0 AND updated_at < ? ORDER BY updated_at`

	deleteImageRowSQL = `DELETE FROM images WHERE image_id = ?`

	updateImageContentSQL = `UPDATE images SET
		file_size = ?, mime_type = ?, width = ?, height = ?,
		md5_hash = ?, sha256_hash = ?, thumbnails = ?, updated_at = ?
		WHERE image_id = ?`
)

func (s *Store) prepareImageStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.imageStmts.insert, insertImageSQL, "insert image"},
		{&s.imageStmts.get, getImageSQL, "get image"},
		{&s.imageStmts.findActive, findActiveImageSQL, "find active image"},
		{&s.imageStmts.findBySourceToken, findImageBySourceTokenSQL, "find image by source token"},
		{&s.imageStmts.setSourceToken, setImageSourceTokenSQL, "set image source token"},
		{&s.imageStmts.touchAccess, touchImageAccessSQL, "touch image access"},
		{&s.imageStmts.deactivate, deactivateImageSQL, "deactivate image"},
		{&s.imageStmts.listActive, listActiveImagesSQL, "list active images"},
		{&s.imageStmts.listByProduct, listImagesByProductSQL, "list images by product"},
		{&s.imageStmts.listInactive, listInactiveImagesSQL, "list inactive images"},
		{&s.imageStmts.deleteRow, deleteImageRowSQL, "delete image row"},
		{&s.imageStmts.updateContent, updateImageContentSQL, "update image content"},
	})
}

func scanImage(row interface{ Scan(...any) error }) (*Image, error) {
	var (
		img          Image
		imgType      string
		thumbs       string
		lastAccessed sql.NullInt64
		createdAt    int64
		updatedAt    int64
	)

	err := row.Scan(&img.ImageID, &img.ProductID, &imgType, &img.BucketName,
		&img.ObjectName, &img.OriginalName, &img.FileSize, &img.MimeType,
		&img.Width, &img.Height, &img.PublicURL, &img.MD5Hash, &img.SHA256Hash,
		&thumbs, &img.SourceToken, &img.IsActive, &img.AccessCount,
		&lastAccessed, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	img.Type = catalog.ImageType(imgType)

	if err := json.Unmarshal([]byte(thumbs), &img.Thumbnails); err != nil {
		return nil, fmt.Errorf("decode thumbnails: %w", err)
	}

	img.LastAccessedAt = fromMillis(lastAccessed)
	img.CreatedAt = time.UnixMilli(createdAt).UTC()
	img.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	return &img, nil
}

// InsertImage persists a new active image row. The unique active index on
// (product_id, type, md5_hash) makes duplicate content a "use existing"
// signal: a conflicting insert returns the already-stored row instead of an
// error. img.ImageID and timestamps are filled in place.
func (s *Store) InsertImage(ctx context.Context, img *Image) (*Image, error) {
	if img.ImageID == "" {
		img.ImageID = uuid.NewString()
	}

	now := s.now().UTC()
	img.CreatedAt = now
	img.UpdatedAt = now
	img.IsActive = true

	thumbs, err := json.Marshal(img.Thumbnails)
	if err != nil {
		return nil, fmt.Errorf("store: encode thumbnails: %w", err)
	}

	_, err = s.imageStmts.insert.ExecContext(ctx,
		img.ImageID, img.ProductID, string(img.Type), img.BucketName,
		img.ObjectName, img.OriginalName, img.FileSize, img.MimeType,
		img.Width, img.Height, img.PublicURL, img.MD5Hash, img.SHA256Hash,
		string(thumbs), img.SourceToken, img.IsActive, img.AccessCount,
		millis(img.LastAccessedAt), now.UnixMilli(), now.UnixMilli())

	if isUniqueViolation(err) {
		existing, ferr := s.FindActiveImage(ctx, img.ProductID, img.Type, img.MD5Hash)
		if ferr != nil {
			return nil, ferr
		}

		if existing != nil {
			s.logger.Debug("image insert deduplicated",
				"product_id", img.ProductID, "type", string(img.Type), "md5", img.MD5Hash)

			return existing, nil
		}
	}

	if err != nil {
		return nil, fmt.Errorf("store: insert image for %s/%s: %w", img.ProductID, img.Type, err)
	}

	return img, nil
}

// GetImage returns the image row by id, or (nil, nil) when absent.
func (s *Store) GetImage(ctx context.Context, imageID string) (*Image, error) {
	img, err := scanImage(s.imageStmts.get.QueryRowContext(ctx, imageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		return nil, fmt.Errorf("store: get image %s: %w", imageID, err)
	}

	return img, nil
}

// FindActiveImage looks up the dedupe key, or (nil, nil) when no active row
// carries that content for the slot.
func (s *Store) FindActiveImage(ctx context.Context, productID string, imageType catalog.ImageType, md5Hash string) (*Image, error) {
	img, err := scanImage(s.imageStmts.findActive.QueryRowContext(ctx, productID, string(imageType), md5Hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		return nil, fmt.Errorf("store: find image %s/%s: %w", productID, imageType, err)
	}

	return img, nil
}

// FindImageBySourceToken returns the active row already downloaded from the
// given upstream attachment token, or (nil, nil).
func (s *Store) FindImageBySourceToken(ctx context.Context, productID string, imageType catalog.ImageType, token string) (*Image, error) {
	if token == "" {
		return nil, nil //nolint:nilnil
	}

	img, err := scanImage(s.imageStmts.findBySourceToken.QueryRowContext(ctx, productID, string(imageType), token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		return nil, fmt.Errorf("store: find image by token %s/%s: %w", productID, imageType, err)
	}

	return img, nil
}

// SetImageSourceToken records the upstream token the image bytes came from,
// enabling later repair from source.
func (s *Store) SetImageSourceToken(ctx context.Context, imageID, token string) error {
	if _, err := s.imageStmts.setSourceToken.ExecContext(ctx, token, s.now().UTC().UnixMilli(), imageID); err != nil {
		return fmt.Errorf("store: set image source token: %w", err)
	}

	return nil
}

// TouchImageAccess atomically bumps the access counter and stamps the last
// access time.
func (s *Store) TouchImageAccess(ctx context.Context, imageID string) error {
	now := s.now().UTC().UnixMilli()

	if _, err := s.imageStmts.touchAccess.ExecContext(ctx, now, now, imageID); err != nil {
		return fmt.Errorf("store: touch image access: %w", err)
	}

	return nil
}

// DeactivateImage soft-removes the row. The object stays in the bucket until
// the cleanup pass collects it.
func (s *Store) DeactivateImage(ctx context.Context, imageID string) error {
	if _, err := s.imageStmts.deactivate.ExecContext(ctx, s.now().UTC().UnixMilli(), imageID); err != nil {
		return fmt.Errorf("store: deactivate image: %w", err)
	}

	return nil
}

// ListActiveImages returns every active image row, the working set for
// integrity validation and repair.
func (s *Store) ListActiveImages(ctx context.Context) ([]*Image, error) {
	rows, err := s.imageStmts.listActive.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list active images: %w", err)
	}

	return collectImages(rows)
}

// ListImagesByProduct returns the product's active images ordered by slot.
func (s *Store) ListImagesByProduct(ctx context.Context, productID string) ([]*Image, error) {
	rows, err := s.imageStmts.listByProduct.QueryContext(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("store: list images for %s: %w", productID, err)
	}

	return collectImages(rows)
}

// ListInactiveImages returns soft-removed rows last touched before the
// cutoff, the candidates for physical cleanup.
func (s *Store) ListInactiveImages(ctx context.Context, before time.Time) ([]*Image, error) {
	rows, err := s.imageStmts.listInactive.QueryContext(ctx, before.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("store: list inactive images: %w", err)
	}

	return collectImages(rows)
}

// DeleteImageRow physically removes a row. Only the cleanup pass calls this,
// after the object and thumbnails are gone from the bucket.
func (s *Store) DeleteImageRow(ctx context.Context, imageID string) error {
	if _, err := s.imageStmts.deleteRow.ExecContext(ctx, imageID); err != nil {
		return fmt.Errorf("store: delete image row: %w", err)
	}

	return nil
}

// UpdateImageContent rewrites the content attributes of an existing row
// after a repair re-uploaded bytes under the same object name. img carries
// the new size, dimensions, hashes, and thumbnail set.
func (s *Store) UpdateImageContent(ctx context.Context, img *Image) error {
	thumbs, err := json.Marshal(img.Thumbnails)
	if err != nil {
		return fmt.Errorf("store: encode thumbnails: %w", err)
	}

	img.UpdatedAt = s.now().UTC()

	_, err = s.imageStmts.updateContent.ExecContext(ctx,
		img.FileSize, img.MimeType, img.Width, img.Height,
		img.MD5Hash, img.SHA256Hash, string(thumbs),
		img.UpdatedAt.UnixMilli(), img.ImageID)
	if err != nil {
		return fmt.Errorf("store: update image content %s: %w", img.ImageID, err)
	}

	return nil
}

func collectImages(rows *sql.Rows) ([]*Image, error) {
	defer rows.Close()

	var out []*Image

	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan image row: %w", err)
		}

		out = append(out, img)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate images: %w", err)
	}

	return out, nil
}
