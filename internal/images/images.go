// Package images implements the content-addressed image pipeline: upload
// with MD5/SHA-256 dedupe, fixed-size WebP thumbnail derivation, concurrent
// batch download from the upstream, integrity validation with
// repair-from-source, and the thumbnail-or-proxy URL resolver.
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
	"sync"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // registers WebP decoding for imaging.Decode
	"golang.org/x/sync/errgroup"

	"prodsync/internal/catalog"
	"prodsync/internal/feishu"
	"prodsync/internal/objstore"
	"prodsync/internal/store"
)

// ErrImageNotFound reports a lookup for an unknown image id.
var ErrImageNotFound = errors.New("images: image not found")

// maxConcurrency caps parallel downloads per batch, matching the upstream
// client's media limit.
const maxConcurrency = 5

// ObjectStore is the object-store surface the service needs.
type ObjectStore interface {
	Put(ctx context.Context, objectName string, data []byte, contentType string, metadata map[string]string) error
	Get(ctx context.Context, objectName string) ([]byte, error)
	Stat(ctx context.Context, objectName string) (*objstore.ObjectInfo, error)
	Remove(ctx context.Context, objectName string) error
	PublicURL(objectName string) string
}

// ImageStore is the row-persistence surface the service needs.
type ImageStore interface {
	InsertImage(ctx context.Context, img *store.Image) (*store.Image, error)
	GetImage(ctx context.Context, imageID string) (*store.Image, error)
	FindActiveImage(ctx context.Context, productID string, imageType catalog.ImageType, md5Hash string) (*store.Image, error)
	FindImageBySourceToken(ctx context.Context, productID string, imageType catalog.ImageType, token string) (*store.Image, error)
	SetImageSourceToken(ctx context.Context, imageID, token string) error
	TouchImageAccess(ctx context.Context, imageID string) error
	DeactivateImage(ctx context.Context, imageID string) error
	ListActiveImages(ctx context.Context) ([]*store.Image, error)
	ListInactiveImages(ctx context.Context, before time.Time) ([]*store.Image, error)
	DeleteImageRow(ctx context.Context, imageID string) error
	UpdateImageContent(ctx context.Context, img *store.Image) error
}

// MediaFetcher downloads attachment bytes from the upstream.
type MediaFetcher interface {
	DownloadImage(ctx context.Context, fileToken string) ([]byte, error)
}

// Config tunes the service.
type Config struct {
	Bucket string

	// ThumbnailQuality is the WebP encode quality for derived thumbnails.
	ThumbnailQuality int

	// ProxyBaseURL prefixes dynamic-transform proxy URLs.
	ProxyBaseURL string

	// BatchInterval is the pause between download batches.
	BatchInterval time.Duration
}

// Service is the image pipeline. All collaborators are injected.
type Service struct {
	objects ObjectStore
	rows    ImageStore
	media   MediaFetcher
	cfg     Config
	logger  *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration) error
	nowFunc   func() time.Time
}

// Option customizes a Service, used by tests to inject clocks and sleeps.
type Option func(*Service)

// WithSleep overrides the batch pacing sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleepFunc = fn }
}

// WithNow overrides the cleanup cutoff clock.
func WithNow(fn func() time.Time) Option {
	return func(s *Service) { s.nowFunc = fn }
}

// New builds the image service.
func New(objects ObjectStore, rows ImageStore, media MediaFetcher, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.ThumbnailQuality <= 0 || cfg.ThumbnailQuality > 100 {
		cfg.ThumbnailQuality = 80
	}

	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = 500 * time.Millisecond
	}

	s := &Service{
		objects:   objects,
		rows:      rows,
		media:     media,
		cfg:       cfg,
		logger:    logger,
		sleepFunc: sleepCtx,
		nowFunc:   time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ObjectName builds the canonical key for an original image.
func ObjectName(productID string, imageType catalog.ImageType, ext string) string {
	return fmt.Sprintf("products/%s/%s_0%s", productID, imageType, ext)
}

// UploadImage stores image bytes for a product slot. Byte-identical content
// already active for the slot short-circuits to the existing row: no second
// object, no second row. The original bytes are stored verbatim; only the
// derived thumbnails are re-encoded.
func (s *Service) UploadImage(ctx context.Context, data []byte, filename, productID string, imageType catalog.ImageType) (*store.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("images: upload for %s/%s: empty data", productID, imageType)
	}

	md5Sum := md5.Sum(data) //nolint:gosec
	sha256Sum := sha256.Sum256(data)
	md5Hex := hex.EncodeToString(md5Sum[:])

	if existing, err := s.rows.FindActiveImage(ctx, productID, imageType, md5Hex); err != nil {
		return nil, err
	} else if existing != nil {
		s.logger.Debug("upload deduplicated",
			slog.String("product_id", productID),
			slog.String("type", string(imageType)),
			slog.String("md5", md5Hex),
		)

		return existing, nil
	}

	format, err := feishu.SniffImageFormat(data)
	if err != nil {
		return nil, fmt.Errorf("images: upload for %s/%s: %w", productID, imageType, err)
	}

	decoded, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("images: decoding %s/%s: %w", productID, imageType, err)
	}

	bounds := decoded.Bounds()
	objectName := ObjectName(productID, imageType, feishu.ImageExtension(format))

	metadata := map[string]string{
		"Original-Name": filename,
		"Upload-Time":   s.nowFunc().UTC().Format(time.RFC3339),
		"MD5":           md5Hex,
		"SHA256":        hex.EncodeToString(sha256Sum[:]),
	}

	if err := s.objects.Put(ctx, objectName, data, mimeType(format), metadata); err != nil {
		return nil, err
	}

	thumbs, err := s.generateThumbnails(ctx, decoded, productID, imageType)
	if err != nil {
		return nil, err
	}

	img := &store.Image{
		ProductID:    productID,
		Type:         imageType,
		BucketName:   s.cfg.Bucket,
		ObjectName:   objectName,
		OriginalName: filename,
		FileSize:     int64(len(data)),
		MimeType:     mimeType(format),
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
		PublicURL:    s.objects.PublicURL(objectName),
		MD5Hash:      md5Hex,
		SHA256Hash:   hex.EncodeToString(sha256Sum[:]),
		Thumbnails:   thumbs,
	}

	stored, err := s.rows.InsertImage(ctx, img)
	if err != nil {
		return nil, err
	}

	s.logger.Info("image uploaded",
		slog.String("product_id", productID),
		slog.String("type", string(imageType)),
		slog.String("object", objectName),
		slog.Int("bytes", len(data)),
	)

	return stored, nil
}

// DownloadFromFeishu fetches one attachment and stores it for the slot. A
// row already downloaded from the same token short-circuits without touching
// the upstream.
func (s *Service) DownloadFromFeishu(ctx context.Context, fileToken, productID string, imageType catalog.ImageType) (*store.Image, error) {
	if existing, err := s.rows.FindImageBySourceToken(ctx, productID, imageType, fileToken); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	data, err := s.media.DownloadImage(ctx, fileToken)
	if err != nil {
		return nil, err
	}

	img, err := s.UploadImage(ctx, data, fileToken, productID, imageType)
	if err != nil {
		return nil, err
	}

	if img.SourceToken != fileToken {
		if err := s.rows.SetImageSourceToken(ctx, img.ImageID, fileToken); err != nil {
			return nil, err
		}

		img.SourceToken = fileToken
	}

	return img, nil
}

// Request names one download job: a product slot and its attachment tokens.
// Only the first token is fetched; the slot holds a single original.
type Request struct {
	ProductID  string
	Type       catalog.ImageType
	FileTokens []string
}

// FailedDownload pairs a failed job with its error.
type FailedDownload struct {
	ProductID string
	Type      catalog.ImageType
	FileToken string
	Err       error
}

// BatchResult aggregates a batch download.
type BatchResult struct {
	Successful []*store.Image
	Failed     []FailedDownload
}

// BatchDownloadFromFeishu runs the queue in bounded bursts of concurrency
// (capped at 5) with a pause between bursts. A failed job lands in Failed
// without aborting its peers; only context cancellation stops the batch.
func (s *Service) BatchDownloadFromFeishu(ctx context.Context, requests []Request, concurrency int) BatchResult {
	var result BatchResult

	if concurrency <= 0 || concurrency > maxConcurrency {
		concurrency = maxConcurrency
	}

	jobs := make([]Request, 0, len(requests))

	for _, req := range requests {
		if len(req.FileTokens) == 0 {
			continue
		}

		jobs = append(jobs, req)
	}

	var mu sync.Mutex

	for start := 0; start < len(jobs); start += concurrency {
		end := min(start+concurrency, len(jobs))

		g, gctx := errgroup.WithContext(ctx)

		for _, job := range jobs[start:end] {
			g.Go(func() error {
				token := job.FileTokens[0]

				img, err := s.DownloadFromFeishu(gctx, token, job.ProductID, job.Type)

				mu.Lock()
				defer mu.Unlock()

				if err != nil {
					result.Failed = append(result.Failed, FailedDownload{
						ProductID: job.ProductID,
						Type:      job.Type,
						FileToken: token,
						Err:       err,
					})

					return nil
				}

				result.Successful = append(result.Successful, img)

				return nil
			})
		}

		_ = g.Wait()

		if ctx.Err() != nil {
			break
		}

		if end < len(jobs) {
			if err := s.sleepFunc(ctx, s.cfg.BatchInterval); err != nil {
				break
			}
		}
	}

	s.logger.Info("image batch finished",
		slog.Int("requested", len(jobs)),
		slog.Int("succeeded", len(result.Successful)),
		slog.Int("failed", len(result.Failed)),
	)

	return result
}

// Delete soft-removes an image row. The stored object survives until the
// cleanup pass collects it.
func (s *Service) Delete(ctx context.Context, imageID string) error {
	img, err := s.rows.GetImage(ctx, imageID)
	if err != nil {
		return err
	}

	if img == nil {
		return fmt.Errorf("images: delete %s: %w", imageID, ErrImageNotFound)
	}

	return s.rows.DeactivateImage(ctx, imageID)
}

func mimeType(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
