package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// tokenRefreshWindow is the safety margin before expiry. A token inside the
// window is treated as expired so in-flight calls never race the deadline.
const tokenRefreshWindow = 60 * time.Second

const tokenEndpoint = "/open-apis/auth/v3/tenant_access_token/internal"

// Token cache file permissions: owner-only, same as any credential material.
const (
	tokenFilePerms = 0o600
	tokenDirPerms  = 0o700
)

// tokenCache holds the process-wide tenant token. Refreshes are serialized
// through a singleflight group so concurrent callers share one upstream
// request; everything else is guarded by the mutex.
type tokenCache struct {
	client  *Client
	persist string // cache file path, empty disables persistence
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
	loaded  bool

	group singleflight.Group
}

func newTokenCache(client *Client, persistPath string, logger *slog.Logger) *tokenCache {
	return &tokenCache{
		client:  client,
		persist: persistPath,
		logger:  logger,
		now:     time.Now,
	}
}

// Token returns a valid tenant token, refreshing when the cached one is
// absent or within the refresh window of its expiry.
func (tc *tokenCache) Token(ctx context.Context) (string, error) {
	if tok, ok := tc.cached(); ok {
		return tok, nil
	}

	v, err, _ := tc.group.Do("tenant", func() (any, error) {
		// A waiter queued behind a completed refresh sees the fresh token here.
		if tok, ok := tc.cached(); ok {
			return tok, nil
		}

		return tc.refresh(ctx)
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// Invalidate drops the cached token so the next call refreshes. Called when
// the upstream rejects a token with 401 before its recorded expiry.
func (tc *tokenCache) Invalidate() {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.token = ""
	tc.expires = time.Time{}
}

func (tc *tokenCache) cached() (string, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if !tc.loaded {
		tc.loadLocked()
		tc.loaded = true
	}

	if tc.token != "" && tc.now().Before(tc.expires.Add(-tokenRefreshWindow)) {
		return tc.token, true
	}

	return "", false
}

// tokenResponse is the auth endpoint's reply. Unlike every other Feishu
// endpoint, the payload sits beside code/msg rather than under data.
type tokenResponse struct {
	Code              int64  `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int64  `json:"expire"`
}

func (tc *tokenCache) refresh(ctx context.Context) (string, error) {
	payload := map[string]string{
		"app_id":     tc.client.cfg.AppID,
		"app_secret": tc.client.cfg.AppSecret,
	}

	var resp tokenResponse
	if err := tc.client.postJSON(ctx, tokenEndpoint, payload, &resp); err != nil {
		return "", fmt.Errorf("feishu: refreshing tenant token: %w", err)
	}

	if resp.Code != 0 {
		return "", &UpstreamError{
			StatusCode: http.StatusOK,
			Code:       resp.Code,
			Msg:        resp.Msg,
			Err:        ErrUpstreamCode,
		}
	}

	if resp.TenantAccessToken == "" {
		return "", errors.New("feishu: token endpoint returned an empty token")
	}

	expires := tc.now().Add(time.Duration(resp.Expire) * time.Second)

	tc.mu.Lock()
	tc.token = resp.TenantAccessToken
	tc.expires = expires
	tc.mu.Unlock()

	tc.save(resp.TenantAccessToken, expires)

	tc.logger.Debug("tenant token refreshed",
		slog.Time("expires", expires),
	)

	return resp.TenantAccessToken, nil
}

// Expiry returns the recorded expiry of the cached token, zero when absent.
func (tc *tokenCache) Expiry() time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	return tc.expires
}

// tokenFile is the on-disk cache format. Token values are never logged.
type tokenFile struct {
	TenantAccessToken string    `json:"tenant_access_token"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// loadLocked reads a persisted token. Missing files and expired or malformed
// contents are silently ignored; the caller refreshes. tc.mu must be held.
func (tc *tokenCache) loadLocked() {
	if tc.persist == "" {
		return
	}

	data, err := os.ReadFile(tc.persist)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}

	if err != nil {
		tc.logger.Warn("reading token cache", slog.String("error", err.Error()))
		return
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		tc.logger.Warn("decoding token cache, ignoring", slog.String("error", err.Error()))
		return
	}

	if tf.TenantAccessToken == "" || !tc.now().Before(tf.ExpiresAt.Add(-tokenRefreshWindow)) {
		return
	}

	tc.token = tf.TenantAccessToken
	tc.expires = tf.ExpiresAt
}

// save persists the token atomically (write-to-temp + rename) with 0600
// permissions. Persistence failures are logged, never fatal.
func (tc *tokenCache) save(token string, expires time.Time) {
	if tc.persist == "" {
		return
	}

	if err := tc.writeFile(token, expires); err != nil {
		tc.logger.Warn("persisting token cache", slog.String("error", err.Error()))
	}
}

func (tc *tokenCache) writeFile(token string, expires time.Time) error {
	data, err := json.MarshalIndent(tokenFile{TenantAccessToken: token, ExpiresAt: expires}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}

	dir := filepath.Dir(tc.persist)
	if mkErr := os.MkdirAll(dir, tokenDirPerms); mkErr != nil {
		return fmt.Errorf("creating directory %s: %w", dir, mkErr)
	}

	// Atomic write: temp file in the same directory, then rename.
	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, tokenFilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing: %w", err)
	}

	if err := os.Rename(tmpPath, tc.persist); err != nil {
		return fmt.Errorf("renaming: %w", err)
	}

	success = true

	return nil
}
