// Local stand-in for the upstream Bitable API, for manual testing and demos.
// Serves a seeded product table and its attachment media on localhost so
// serve and sync can run without real credentials.
//
// Usage: go run ./cmd/fixture-server --listen :9090 --products 25
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log/slog"
	"net/http"
	"os"
	"time"

	"prodsync/testutil"
)

func main() {
	listen := flag.String("listen", ":9090", "listen address")
	products := flag.Int("products", 25, "number of seeded product rows")
	flag.Parse()

	logger := slog.Default()

	upstream := testutil.NewFakeUpstream()
	seed(upstream, *products)

	logger.Info("fixture upstream listening",
		slog.String("addr", *listen),
		slog.Int("products", *products),
	)
	fmt.Printf("Point upstream.base_url at http://localhost%s (any app credentials work).\n", *listen)

	srv := &http.Server{
		Addr:              *listen,
		Handler:           upstream.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "fixture server failed: %v\n", err)
		os.Exit(1)
	}
}

// seed fills the table with n rows spread over the last week, each with a
// front image so image download paths get exercised.
func seed(upstream *testutil.FakeUpstream, n int) {
	base := time.Now().Add(-7 * 24 * time.Hour)

	for i := 1; i <= n; i++ {
		recordID := fmt.Sprintf("rec%06d", i)
		token := fmt.Sprintf("tok%06d", i)

		fields := testutil.ProductRow(
			fmt.Sprintf("示例商品 %d", i),
			float64(5+i%40),
			base.Add(time.Duration(i)*6*time.Hour),
		)
		fields["正面图片"] = testutil.AttachmentCell(token)

		upstream.PutRecord(recordID, fields)

		// Vary the color so every image has distinct bytes.
		shade := uint8(i * 9)
		upstream.PutMedia(token, testutil.PNG(64, 64, color.RGBA{R: shade, G: 128, B: 255 - shade, A: 255}))
	}
}
