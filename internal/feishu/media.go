package feishu

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"
)

// maxBatchConcurrency caps parallel media downloads per batch. The drive
// API throttles hard above five concurrent streams per app.
const maxBatchConcurrency = 5

const mediaPathTemplate = "/open-apis/drive/v1/medias/%s/download"

var pngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// DownloadImage fetches an attachment's bytes and verifies they carry a
// known image signature. Empty bodies return ErrEmptyMedia; unrecognized
// bytes return ErrBadImageData. Both are terminal, not retried.
func (c *Client) DownloadImage(ctx context.Context, fileToken string) ([]byte, error) {
	if fileToken == "" {
		return nil, fmt.Errorf("feishu: downloading media: %w", ErrEmptyMedia)
	}

	path := fmt.Sprintf(mediaPathTemplate, url.PathEscape(fileToken))

	data, err := c.do(ctx, http.MethodGet, path, nil, nil, c.mediaClient, true)
	if err != nil {
		return nil, fmt.Errorf("feishu: downloading media %s: %w", fileToken, err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("feishu: media %s: %w", fileToken, ErrEmptyMedia)
	}

	if _, err := SniffImageFormat(data); err != nil {
		return nil, fmt.Errorf("feishu: media %s: %w", fileToken, err)
	}

	return data, nil
}

// BatchDownloadImages fetches many attachments in bounded bursts. Tokens are
// split into chunks of at most concurrency (capped at maxBatchConcurrency),
// each chunk downloads in parallel, and consecutive chunks are separated by
// the configured batch interval. A failed token lands in the error map
// without aborting the rest; only context cancellation cuts the batch short.
func (c *Client) BatchDownloadImages(
	ctx context.Context, fileTokens []string, concurrency int,
) (map[string][]byte, map[string]error) {
	results := make(map[string][]byte, len(fileTokens))
	failures := make(map[string]error)

	if len(fileTokens) == 0 {
		return results, failures
	}

	if concurrency <= 0 || concurrency > maxBatchConcurrency {
		concurrency = maxBatchConcurrency
	}

	var mu sync.Mutex

	for start := 0; start < len(fileTokens); start += concurrency {
		end := min(start+concurrency, len(fileTokens))
		chunk := fileTokens[start:end]

		g, gctx := errgroup.WithContext(ctx)

		for _, token := range chunk {
			g.Go(func() error {
				data, err := c.DownloadImage(gctx, token)

				mu.Lock()
				defer mu.Unlock()

				if err != nil {
					failures[token] = err
					return nil
				}

				results[token] = data

				return nil
			})
		}

		_ = g.Wait()

		if ctx.Err() != nil {
			c.logger.Info("media batch canceled",
				slog.Int("downloaded", len(results)),
				slog.Int("remaining", len(fileTokens)-end),
			)

			break
		}

		c.logger.Debug("media batch complete",
			slog.Int("batch_size", len(chunk)),
			slog.Int("downloaded", len(results)),
			slog.Int("failed", len(failures)),
		)

		if end < len(fileTokens) {
			if err := c.sleepFunc(ctx, c.cfg.BatchInterval); err != nil {
				break
			}
		}
	}

	return results, failures
}

// SniffImageFormat identifies the image type from magic bytes. Supported
// formats are JPEG, PNG, WebP, and GIF; anything else is ErrBadImageData.
func SniffImageFormat(data []byte) (string, error) {
	switch {
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8:
		return "jpeg", nil
	case len(data) >= 8 && bytes.Equal(data[:8], pngSignature):
		return "png", nil
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "webp", nil
	case len(data) >= 6 && (bytes.Equal(data[:6], []byte("GIF87a")) || bytes.Equal(data[:6], []byte("GIF89a"))):
		return "gif", nil
	default:
		return "", ErrBadImageData
	}
}

// ImageExtension maps a sniffed format to its canonical file extension,
// falling back to .jpg for unknown input.
func ImageExtension(format string) string {
	switch format {
	case "png":
		return ".png"
	case "webp":
		return ".webp"
	case "gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
