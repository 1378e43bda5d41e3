package config

import (
	"errors"
	"fmt"
	"time"
)

// Validation range constants.
const (
	minPageSize         = 1
	maxPageSize         = 500
	minBatchSize        = 1
	maxBatchSize        = 500
	minConcurrentImages = 1
	maxConcurrentImages = 5
	minThumbQuality     = 1
	maxThumbQuality     = 100
	minPageInterval     = 200 * time.Millisecond
	minBatchInterval    = 500 * time.Millisecond
	minRecordTimeout    = 1 * time.Second
	minMediaTimeout     = 1 * time.Second
	minShutdownTimeout  = 1 * time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateUpstream(&cfg.Upstream)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateImages(&cfg.Images)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

// MissingRequired returns the settings that must be present before the
// process can talk to the upstream and the object store. Commands that only
// read local state (status, history) skip this check; serve and sync treat a
// non-empty result as fatal at startup.
func MissingRequired(cfg *Config) []string {
	var missing []string

	type req struct {
		value string
		name  string
	}

	for _, r := range []req{
		{cfg.Upstream.AppID, "upstream.app_id (" + EnvAppID + ")"},
		{cfg.Upstream.AppSecret, "upstream.app_secret (" + EnvAppSecret + ")"},
		{cfg.Upstream.AppToken, "upstream.app_token (" + EnvAppToken + ")"},
		{cfg.Upstream.TableID, "upstream.table_id (" + EnvTableID + ")"},
		{cfg.ObjectStore.Endpoint, "objectstore.endpoint (" + EnvEndpoint + ")"},
		{cfg.ObjectStore.AccessKey, "objectstore.access_key (" + EnvAccessKey + ")"},
		{cfg.ObjectStore.SecretKey, "objectstore.secret_key (" + EnvSecretKey + ")"},
		{cfg.ObjectStore.Bucket, "objectstore.bucket (" + EnvBucket + ")"},
		{cfg.Database.Path, "database.path (" + EnvDatabasePath + ")"},
	} {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}

	return missing
}

func validateUpstream(u *UpstreamConfig) []error {
	var errs []error

	if u.BaseURL == "" {
		errs = append(errs, errors.New("base_url: must not be empty"))
	}

	errs = append(errs, validateDurationMin("record_timeout", u.RecordTimeout, minRecordTimeout)...)
	errs = append(errs, validateDurationMin("media_timeout", u.MediaTimeout, minMediaTimeout)...)

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.PageSize < minPageSize || s.PageSize > maxPageSize {
		errs = append(errs, fmt.Errorf("page_size: must be between %d and %d, got %d",
			minPageSize, maxPageSize, s.PageSize))
	}

	if s.BatchSize < minBatchSize || s.BatchSize > maxBatchSize {
		errs = append(errs, fmt.Errorf("batch_size: must be between %d and %d, got %d",
			minBatchSize, maxBatchSize, s.BatchSize))
	}

	if s.ConcurrentImages < minConcurrentImages || s.ConcurrentImages > maxConcurrentImages {
		errs = append(errs, fmt.Errorf("concurrent_images: must be between %d and %d, got %d",
			minConcurrentImages, maxConcurrentImages, s.ConcurrentImages))
	}

	errs = append(errs, validateDurationMin("page_interval", s.PageInterval, minPageInterval)...)
	errs = append(errs, validateDurationMin("batch_interval", s.BatchInterval, minBatchInterval)...)
	errs = append(errs, validateDurationMin("incremental_fallback", s.IncrementalFallback, time.Minute)...)

	return errs
}

func validateImages(i *ImagesConfig) []error {
	var errs []error

	if i.ThumbnailQuality < minThumbQuality || i.ThumbnailQuality > maxThumbQuality {
		errs = append(errs, fmt.Errorf("thumbnail_quality: must be between %d and %d, got %d",
			minThumbQuality, maxThumbQuality, i.ThumbnailQuality))
	}

	return errs
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if s.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr: must not be empty"))
	}

	errs = append(errs, validateDurationMin("shutdown_timeout", s.ShutdownTimeout, minShutdownTimeout)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}
