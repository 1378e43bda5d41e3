package feishu

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jpegBytes() []byte {
	return append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, []byte("fakejpegbody")...)
}

func pngBytes() []byte {
	return append(append([]byte{}, pngSignature...), []byte("fakepngbody")...)
}

func TestSniffImageFormat(t *testing.T) {
	webp := append([]byte("RIFF"), 0x10, 0x00, 0x00, 0x00)
	webp = append(webp, []byte("WEBP")...)

	tests := []struct {
		name    string
		data    []byte
		want    string
		wantErr bool
	}{
		{"jpeg", jpegBytes(), "jpeg", false},
		{"png", pngBytes(), "png", false},
		{"webp", webp, "webp", false},
		{"gif87a", []byte("GIF87a...."), "gif", false},
		{"gif89a", []byte("GIF89a...."), "gif", false},
		{"html error page", []byte("<html>denied</html>"), "", true},
		{"empty", nil, "", true},
		{"truncated riff", []byte("RIFF"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SniffImageFormat(tt.data)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrBadImageData)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImageExtension(t *testing.T) {
	assert.Equal(t, ".jpg", ImageExtension("jpeg"))
	assert.Equal(t, ".png", ImageExtension("png"))
	assert.Equal(t, ".webp", ImageExtension("webp"))
	assert.Equal(t, ".gif", ImageExtension("gif"))
	assert.Equal(t, ".jpg", ImageExtension("tiff"))
}

func TestDownloadImage_Success(t *testing.T) {
	payload := jpegBytes()

	srv, _ := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/open-apis/drive/v1/medias/boxcnA1/download")
		assert.NotEmpty(t, r.Header.Get("Authorization"))

		_, _ = w.Write(payload)
	})

	client := newTestClient(t, srv.URL)
	data, err := client.DownloadImage(context.Background(), "boxcnA1")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestDownloadImage_RejectsNonImageBody(t *testing.T) {
	srv, _ := newFakeAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"msg":"not really an image"}`))
	})

	client := newTestClient(t, srv.URL)
	_, err := client.DownloadImage(context.Background(), "boxcnA1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadImageData)
}

func TestDownloadImage_EmptyBody(t *testing.T) {
	srv, _ := newFakeAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClient(t, srv.URL)
	_, err := client.DownloadImage(context.Background(), "boxcnA1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyMedia)
}

func TestDownloadImage_EmptyToken(t *testing.T) {
	client := newTestClient(t, "http://unused")
	_, err := client.DownloadImage(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyMedia)
}

func TestBatchDownloadImages_PartialFailure(t *testing.T) {
	srv, _ := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/medias/bad/") {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		_, _ = w.Write(pngBytes())
	})

	var pauses atomic.Int32

	client := newTestClient(t, srv.URL, WithSleep(func(_ context.Context, _ time.Duration) error {
		pauses.Add(1)

		return nil
	}))

	tokens := []string{"a1", "a2", "a3", "bad", "b1", "b2", "b3"}

	results, failures := client.BatchDownloadImages(context.Background(), tokens, 3)

	assert.Len(t, results, 6)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures["bad"], ErrNotFound)

	// Three chunks of three, so two inter-chunk pauses.
	assert.Equal(t, int32(2), pauses.Load())
}

func TestBatchDownloadImages_CapsConcurrency(t *testing.T) {
	var (
		inFlight atomic.Int32
		peak     atomic.Int32
	)

	srv, _ := newFakeAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)

		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}

		time.Sleep(10 * time.Millisecond)
		_, _ = w.Write(pngBytes())
	})

	client := newTestClient(t, srv.URL)

	tokens := make([]string, 12)
	for i := range tokens {
		tokens[i] = string(rune('a' + i))
	}

	// Requesting more than the cap clamps to five.
	results, failures := client.BatchDownloadImages(context.Background(), tokens, 50)

	assert.Len(t, results, 12)
	assert.Empty(t, failures)
	assert.LessOrEqual(t, peak.Load(), int32(maxBatchConcurrency))
}

func TestBatchDownloadImages_CanceledContext(t *testing.T) {
	var mu sync.Mutex

	served := 0

	srv, _ := newFakeAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		served++
		mu.Unlock()

		_, _ = w.Write(pngBytes())
	})

	ctx, cancel := context.WithCancel(context.Background())

	client := newTestClient(t, srv.URL, WithSleep(func(_ context.Context, _ time.Duration) error {
		cancel()

		return context.Canceled
	}))

	tokens := []string{"a1", "a2", "a3", "a4"}

	// Cancellation lands during the first inter-chunk pause, so only the
	// first chunk is fetched.
	results, _ := client.BatchDownloadImages(ctx, tokens, 2)
	assert.Len(t, results, 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, served)
}

func TestBatchDownloadImages_Empty(t *testing.T) {
	client := newTestClient(t, "http://unused")

	results, failures := client.BatchDownloadImages(context.Background(), nil, 5)
	assert.Empty(t, results)
	assert.Empty(t, failures)
}
