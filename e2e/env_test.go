// Package e2e runs the whole pipeline against real components: a fake
// upstream over HTTP, the real Feishu client, a real SQLite catalog, and the
// real image service on an in-memory object store. Only the object store is
// substituted; everything else is the production wiring.
package e2e

import (
	"context"
	"crypto/md5" //nolint:gosec // content fingerprint, not authentication
	"encoding/hex"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"prodsync/internal/catalog"
	"prodsync/internal/consistency"
	"prodsync/internal/feishu"
	"prodsync/internal/images"
	"prodsync/internal/objstore"
	"prodsync/internal/store"
	"prodsync/internal/syncer"
	"prodsync/testutil"
)

// env is one fully wired pipeline instance backed by temp state.
type env struct {
	upstream *testutil.FakeUpstream
	server   *httptest.Server
	store    *store.Store
	objects  *memObjects
	images   *images.Service
	engine   *syncer.Engine
	checker  *consistency.Checker
}

func newEnv(t *testing.T) *env {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	upstream := testutil.NewFakeUpstream()
	server := httptest.NewServer(upstream.Handler())
	t.Cleanup(server.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "catalog.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	client := feishu.New(feishu.Config{
		BaseURL:       server.URL,
		AppID:         "app-e2e",
		AppSecret:     "secret-e2e",
		AppToken:      "bitable-e2e",
		TableID:       "tbl-e2e",
		RecordTimeout: 5 * time.Second,
		MediaTimeout:  5 * time.Second,
		PageInterval:  time.Millisecond,
		BatchInterval: time.Millisecond,
	}, logger)

	objects := newMemObjects()

	imageSvc := images.New(objects, st, client, images.Config{
		Bucket:           "product-images",
		ThumbnailQuality: 85,
		BatchInterval:    time.Millisecond,
	}, logger, images.WithSleep(func(context.Context, time.Duration) error { return nil }))

	engine := syncer.New(client, catalog.NewTransformer(logger), st, st, imageSvc, syncer.Config{
		PageSize:            50,
		BatchSize:           10,
		ConcurrentImages:    2,
		DownloadImages:      true,
		IncrementalFallback: 24 * time.Hour,
	}, logger)

	checker := consistency.New(st, st, imageSvc, logger)

	return &env{
		upstream: upstream,
		server:   server,
		store:    st,
		objects:  objects,
		images:   imageSvc,
		engine:   engine,
		checker:  checker,
	}
}

// seedProduct puts one upstream row, optionally with a front image.
func (e *env) seedProduct(recordID, name string, price float64, collect time.Time, token string, media []byte) {
	fields := testutil.ProductRow(name, price, collect)

	if token != "" {
		fields["正面图片"] = testutil.AttachmentCell(token)
		e.upstream.PutMedia(token, media)
	}

	e.upstream.PutRecord(recordID, fields)
}

// runSync runs one blocking sync and requires it to finish cleanly.
func (e *env) runSync(t *testing.T, opts syncer.Options) *syncer.Result {
	t.Helper()

	result, err := e.engine.SyncFromFeishu(context.Background(), opts)
	require.NoError(t, err)

	return result
}

// waitForStatus polls the latest sync log until it reaches the wanted
// status.
func (e *env) waitForStatus(t *testing.T, syncID, status string) *store.SyncLog {
	t.Helper()

	var log *store.SyncLog

	require.Eventually(t, func() bool {
		l, err := e.store.GetSyncLog(context.Background(), syncID)
		if err != nil {
			return false
		}

		log = l

		return l.Status == status
	}, 10*time.Second, 10*time.Millisecond, "sync %s never reached status %s", syncID, status)

	return log
}

// memObjects is an in-memory object store standing in for MinIO.
type memObjects struct {
	mu          sync.Mutex
	data        map[string][]byte
	contentType map[string]string
}

func newMemObjects() *memObjects {
	return &memObjects{
		data:        map[string][]byte{},
		contentType: map[string]string{},
	}
}

func (m *memObjects) Put(_ context.Context, objectName string, data []byte, contentType string, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)

	m.data[objectName] = buf
	m.contentType[objectName] = contentType

	return nil
}

func (m *memObjects) Get(_ context.Context, objectName string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.data[objectName]
	if !ok {
		return nil, objstore.ErrObjectNotFound
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	return buf, nil
}

func (m *memObjects) Stat(_ context.Context, objectName string) (*objstore.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.data[objectName]
	if !ok {
		return nil, objstore.ErrObjectNotFound
	}

	sum := md5.Sum(data) //nolint:gosec

	return &objstore.ObjectInfo{
		Size:        int64(len(data)),
		ContentType: m.contentType[objectName],
		ETag:        hex.EncodeToString(sum[:]),
	}, nil
}

func (m *memObjects) Remove(_ context.Context, objectName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, objectName)
	delete(m.contentType, objectName)

	return nil
}

func (m *memObjects) PublicURL(objectName string) string {
	return "https://objects.test/product-images/" + objectName
}

// delete drops an object behind the store's back, simulating external loss.
func (m *memObjects) delete(objectName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, objectName)
}
