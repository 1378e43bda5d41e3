package images

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // content addressing, not authentication
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"

	"prodsync/internal/feishu"
	"prodsync/internal/objstore"
	"prodsync/internal/store"
)

// Integrity is the tri-state result of validating one stored object.
type Integrity struct {
	Exists     bool   `json:"exists"`
	Accessible bool   `json:"accessible"`
	Size       int64  `json:"size,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ValidateIntegrity stats the object behind an image row. A missing key
// reports exists=false; any other store failure reports inaccessible with
// the error text.
func (s *Service) ValidateIntegrity(ctx context.Context, objectName string) Integrity {
	info, err := s.objects.Stat(ctx, objectName)

	switch {
	case err == nil:
		return Integrity{Exists: true, Accessible: true, Size: info.Size}
	case errors.Is(err, objstore.ErrObjectNotFound):
		return Integrity{}
	default:
		return Integrity{Exists: true, Accessible: false, Error: err.Error()}
	}
}

// ErrNoSourceToken reports a missing object whose row carries no upstream
// token to re-download from.
var ErrNoSourceToken = errors.New("images: no source token to repair from")

// RepairImage re-fetches one row's source bytes and rebuilds its object,
// thumbnails, and content attributes under the original object name.
func (s *Service) RepairImage(ctx context.Context, img *store.Image) error {
	if img.SourceToken == "" {
		return fmt.Errorf("images: repair %s: %w", img.ObjectName, ErrNoSourceToken)
	}

	return s.repairOne(ctx, img)
}

// RepairStats summarizes one repair pass.
type RepairStats struct {
	Total       int      `json:"total"`
	BrokenFound int      `json:"brokenFound"`
	Repaired    int      `json:"repaired"`
	Failed      int      `json:"failed"`
	Errors      []string `json:"errors,omitempty"`
}

// RepairBrokenImages validates every active row and re-downloads missing
// objects from their upstream source token, re-uploading under the original
// object name so stored product URLs stay valid. Rows without a source token
// cannot be repaired and are reported.
func (s *Service) RepairBrokenImages(ctx context.Context) (*RepairStats, error) {
	rows, err := s.rows.ListActiveImages(ctx)
	if err != nil {
		return nil, err
	}

	stats := &RepairStats{Total: len(rows)}

	for _, img := range rows {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("images: repair canceled: %w", err)
		}

		integ := s.ValidateIntegrity(ctx, img.ObjectName)
		if integ.Accessible {
			continue
		}

		if integ.Exists {
			// Present but unreadable: a store problem, not a missing object.
			stats.Failed++
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %s", img.ObjectName, integ.Error))

			continue
		}

		stats.BrokenFound++

		if img.SourceToken == "" {
			stats.Failed++
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: missing with no source token", img.ObjectName))

			continue
		}

		if err := s.repairOne(ctx, img); err != nil {
			stats.Failed++
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", img.ObjectName, err))

			continue
		}

		stats.Repaired++
	}

	s.logger.Info("image repair pass finished",
		slog.Int("total", stats.Total),
		slog.Int("broken", stats.BrokenFound),
		slog.Int("repaired", stats.Repaired),
		slog.Int("failed", stats.Failed),
	)

	return stats, nil
}

// repairOne re-fetches the row's source bytes and rebuilds object,
// thumbnails, and content attributes in place.
func (s *Service) repairOne(ctx context.Context, img *store.Image) error {
	data, err := s.media.DownloadImage(ctx, img.SourceToken)
	if err != nil {
		return err
	}

	format, err := feishu.SniffImageFormat(data)
	if err != nil {
		return err
	}

	decoded, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decoding repaired bytes: %w", err)
	}

	md5Sum := md5.Sum(data) //nolint:gosec
	sha256Sum := sha256.Sum256(data)

	metadata := map[string]string{
		"Original-Name": img.OriginalName,
		"Upload-Time":   s.nowFunc().UTC().Format(time.RFC3339),
		"MD5":           hex.EncodeToString(md5Sum[:]),
		"SHA256":        hex.EncodeToString(sha256Sum[:]),
	}

	if err := s.objects.Put(ctx, img.ObjectName, data, mimeType(format), metadata); err != nil {
		return err
	}

	thumbs, err := s.generateThumbnails(ctx, decoded, img.ProductID, img.Type)
	if err != nil {
		return err
	}

	bounds := decoded.Bounds()
	img.FileSize = int64(len(data))
	img.MimeType = mimeType(format)
	img.Width = bounds.Dx()
	img.Height = bounds.Dy()
	img.MD5Hash = hex.EncodeToString(md5Sum[:])
	img.SHA256Hash = hex.EncodeToString(sha256Sum[:])
	img.Thumbnails = thumbs

	return s.rows.UpdateImageContent(ctx, img)
}

// CleanupStats summarizes one cleanup pass over soft-removed rows.
type CleanupStats struct {
	Candidates     int `json:"candidates"`
	RemovedObjects int `json:"removedObjects"`
	RemovedRows    int `json:"removedRows"`
	Failed         int `json:"failed"`
}

// CleanupInactive physically removes objects, thumbnails, and rows for
// images soft-removed longer ago than olderThan. A row is only deleted once
// its objects are gone.
func (s *Service) CleanupInactive(ctx context.Context, olderThan time.Duration) (*CleanupStats, error) {
	cutoff := s.nowFunc().UTC().Add(-olderThan)

	rows, err := s.rows.ListInactiveImages(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	stats := &CleanupStats{Candidates: len(rows)}

	for _, img := range rows {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("images: cleanup canceled: %w", err)
		}

		failed := false

		for _, objectName := range append([]string{img.ObjectName}, thumbnailNames(img)...) {
			if objectName == "" {
				continue
			}

			if err := s.objects.Remove(ctx, objectName); err != nil {
				s.logger.Warn("cleanup could not remove object",
					slog.String("object", objectName),
					slog.String("error", err.Error()),
				)

				failed = true

				break
			}

			stats.RemovedObjects++
		}

		if failed {
			stats.Failed++

			continue
		}

		if err := s.rows.DeleteImageRow(ctx, img.ImageID); err != nil {
			stats.Failed++

			continue
		}

		stats.RemovedRows++
	}

	s.logger.Info("image cleanup finished",
		slog.Int("candidates", stats.Candidates),
		slog.Int("removed_rows", stats.RemovedRows),
		slog.Int("failed", stats.Failed),
	)

	return stats, nil
}

func thumbnailNames(img *store.Image) []string {
	names := make([]string, 0, len(img.Thumbnails))

	for _, t := range img.Thumbnails {
		names = append(names, t.ObjectName)
	}

	return names
}
