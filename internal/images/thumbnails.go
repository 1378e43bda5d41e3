package images

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"prodsync/internal/catalog"
	"prodsync/internal/store"
)

// thumbnailSpec is one fixed rendition: a square bounding box the source is
// fitted into without cropping.
type thumbnailSpec struct {
	name string
	box  int
}

// thumbnailSpecs lists the fixed renditions in ascending size order. The
// order is preserved in the stored thumbnail list and relied on by the
// nearest-size proxy mapping.
var thumbnailSpecs = []thumbnailSpec{
	{name: "small", box: 150},
	{name: "medium", box: 300},
	{name: "large", box: 600},
}

// ThumbnailObjectName builds the canonical key for one rendition.
func ThumbnailObjectName(size, productID string, imageType catalog.ImageType) string {
	return fmt.Sprintf("thumbnails/%s/%s_%s_0.webp", size, productID, imageType)
}

// generateThumbnails derives and uploads every fixed rendition as WebP. The
// renditions upload in parallel; any failure fails the whole set so a stored
// image never carries a partial thumbnail list.
func (s *Service) generateThumbnails(ctx context.Context, src image.Image, productID string, imageType catalog.ImageType) ([]store.Thumbnail, error) {
	thumbs := make([]store.Thumbnail, len(thumbnailSpecs))

	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex

	for i, spec := range thumbnailSpecs {
		g.Go(func() error {
			fitted := imaging.Fit(src, spec.box, spec.box, imaging.Lanczos)

			var buf bytes.Buffer
			if err := webp.Encode(&buf, fitted, &webp.Options{Quality: float32(s.cfg.ThumbnailQuality)}); err != nil {
				return fmt.Errorf("images: encoding %s thumbnail for %s/%s: %w", spec.name, productID, imageType, err)
			}

			objectName := ThumbnailObjectName(spec.name, productID, imageType)

			if err := s.objects.Put(gctx, objectName, buf.Bytes(), "image/webp", nil); err != nil {
				return err
			}

			bounds := fitted.Bounds()

			mu.Lock()
			thumbs[i] = store.Thumbnail{
				Size:       spec.name,
				ObjectName: objectName,
				URL:        s.objects.PublicURL(objectName),
				Width:      bounds.Dx(),
				Height:     bounds.Dy(),
			}
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return thumbs, nil
}
