// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for prodsync. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags) and
// live reload of tunable settings while the server runs.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Upstream    UpstreamConfig    `toml:"upstream"`
	ObjectStore ObjectStoreConfig `toml:"objectstore"`
	Database    DatabaseConfig    `toml:"database"`
	Sync        SyncConfig        `toml:"sync"`
	Images      ImagesConfig      `toml:"images"`
	Server      ServerConfig      `toml:"server"`
	Logging     LoggingConfig     `toml:"logging"`
}

// UpstreamConfig identifies the Feishu Bitable app/table and the credentials
// used to mint tenant access tokens. AppSecret is never logged or persisted
// into sync logs.
type UpstreamConfig struct {
	BaseURL       string `toml:"base_url"`
	AppID         string `toml:"app_id"`
	AppSecret     string `toml:"app_secret"`
	AppToken      string `toml:"app_token"`
	TableID       string `toml:"table_id"`
	RecordTimeout string `toml:"record_timeout"`
	MediaTimeout  string `toml:"media_timeout"`
	TokenCache    string `toml:"token_cache"`
}

// ObjectStoreConfig points at the S3-compatible store holding product images.
// PublicBaseURL is the externally reachable prefix for stored objects; when
// empty it is derived from the endpoint and bucket.
type ObjectStoreConfig struct {
	Endpoint      string `toml:"endpoint"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	Bucket        string `toml:"bucket"`
	UseSSL        bool   `toml:"use_ssl"`
	PublicBaseURL string `toml:"public_base_url"`
}

// DatabaseConfig locates the SQLite catalog database.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// SyncConfig tunes the sync pipeline: page size and pacing against the
// upstream, record batch size, and image download parallelism. BatchSize and
// ConcurrentImages are hot-reloadable while serve runs.
type SyncConfig struct {
	PageSize            int    `toml:"page_size"`
	PageInterval        string `toml:"page_interval"`
	BatchSize           int    `toml:"batch_size"`
	ConcurrentImages    int    `toml:"concurrent_images"`
	BatchInterval       string `toml:"batch_interval"`
	IncrementalFallback string `toml:"incremental_fallback"`
	DownloadImages      bool   `toml:"download_images"`
}

// ImagesConfig tunes thumbnail generation and the image proxy.
type ImagesConfig struct {
	ThumbnailQuality int    `toml:"thumbnail_quality"`
	ProxyBaseURL     string `toml:"proxy_base_url"`
}

// ServerConfig controls the HTTP API listener.
type ServerConfig struct {
	ListenAddr      string   `toml:"listen_addr"`
	CORSOrigins     []string `toml:"cors_origins"`
	ShutdownTimeout string   `toml:"shutdown_timeout"`
	PidFile         string   `toml:"pid_file"`
}

// LoggingConfig controls log output behavior. LogLevel is hot-reloadable.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value" — --download-images=false is different
// from not passing the flag at all.
type CLIOverrides struct {
	ConfigPath       string // --config flag (empty = use default)
	DatabasePath     *string
	ListenAddr       *string
	DownloadImages   *bool
	BatchSize        *int
	ConcurrentImages *int
}

// RecordTimeoutDuration returns the parsed record/auth call timeout.
// Call only after Validate has accepted the config.
func (u UpstreamConfig) RecordTimeoutDuration() time.Duration {
	return durationOr(u.RecordTimeout, defaultRecordTimeout)
}

// MediaTimeoutDuration returns the parsed media download timeout.
func (u UpstreamConfig) MediaTimeoutDuration() time.Duration {
	return durationOr(u.MediaTimeout, defaultMediaTimeout)
}

// PageIntervalDuration returns the minimum spacing between record pages.
func (s SyncConfig) PageIntervalDuration() time.Duration {
	return durationOr(s.PageInterval, defaultPageInterval)
}

// BatchIntervalDuration returns the pause between image download batches.
func (s SyncConfig) BatchIntervalDuration() time.Duration {
	return durationOr(s.BatchInterval, defaultBatchInterval)
}

// IncrementalFallbackDuration returns the cutoff window used by incremental
// sync when no prior successful run exists.
func (s SyncConfig) IncrementalFallbackDuration() time.Duration {
	return durationOr(s.IncrementalFallback, defaultIncrementalFallback)
}

// ShutdownTimeoutDuration returns the graceful shutdown budget for serve.
func (s ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return durationOr(s.ShutdownTimeout, defaultShutdownTimeout)
}

// durationOr parses s, falling back to the default string when s is empty or
// malformed. Validation rejects malformed values earlier, so the fallback
// only covers zero-value structs built directly in tests.
func durationOr(s, fallback string) time.Duration {
	if s == "" {
		s = fallback
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}

	return d
}
