package images

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// largestThumbnailBox is the biggest pre-generated rendition. Requests above
// it fall through to the dynamic proxy.
const largestThumbnailBox = 600

// ProxyOptions select a rendition of a stored image. Zero values mean no
// constraint.
type ProxyOptions struct {
	Width   int
	Height  int
	Quality int
	Format  string
}

// dynamic reports whether the request needs a transform no pre-generated
// rendition covers.
func (o ProxyOptions) dynamic() bool {
	if o.Quality > 0 || o.Format != "" {
		return true
	}

	return max(o.Width, o.Height) > largestThumbnailBox
}

// ImageProxyURL resolves an image request to a URL: the nearest-size
// pre-generated thumbnail when one covers it, the original when no size was
// asked for, or a parameterized proxy URL when a dynamic transform (quality,
// format, oversize) is requested. Every resolution counts as an access.
func (s *Service) ImageProxyURL(ctx context.Context, imageID string, opts ProxyOptions) (string, error) {
	img, err := s.rows.GetImage(ctx, imageID)
	if err != nil {
		return "", err
	}

	if img == nil || !img.IsActive {
		return "", fmt.Errorf("images: proxy %s: %w", imageID, ErrImageNotFound)
	}

	if err := s.rows.TouchImageAccess(ctx, imageID); err != nil {
		return "", err
	}

	if opts.dynamic() {
		return s.dynamicProxyURL(imageID, opts), nil
	}

	box := max(opts.Width, opts.Height)
	if box <= 0 {
		return img.PublicURL, nil
	}

	size := nearestSize(box)

	for _, t := range img.Thumbnails {
		if t.Size == size {
			return t.URL, nil
		}
	}

	// No thumbnail set (legacy row): serve the original.
	return img.PublicURL, nil
}

// nearestSize maps a requested bounding box onto the smallest fixed
// rendition that covers it.
func nearestSize(box int) string {
	switch {
	case box <= 150:
		return "small"
	case box <= 300:
		return "medium"
	default:
		return "large"
	}
}

func (s *Service) dynamicProxyURL(imageID string, opts ProxyOptions) string {
	params := url.Values{}

	if opts.Width > 0 {
		params.Set("w", strconv.Itoa(opts.Width))
	}

	if opts.Height > 0 {
		params.Set("h", strconv.Itoa(opts.Height))
	}

	if opts.Quality > 0 {
		params.Set("q", strconv.Itoa(opts.Quality))
	}

	if opts.Format != "" {
		params.Set("f", opts.Format)
	}

	u := s.cfg.ProxyBaseURL + "/image/" + url.PathEscape(imageID)
	if encoded := params.Encode(); encoded != "" {
		u += "?" + encoded
	}

	return u
}
