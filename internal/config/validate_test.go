package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_DefaultsAreValid(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "page size zero",
			mutate:  func(c *Config) { c.Sync.PageSize = 0 },
			wantMsg: "page_size",
		},
		{
			name:    "page size over upstream cap",
			mutate:  func(c *Config) { c.Sync.PageSize = 501 },
			wantMsg: "page_size",
		},
		{
			name:    "too many concurrent images",
			mutate:  func(c *Config) { c.Sync.ConcurrentImages = 9 },
			wantMsg: "concurrent_images",
		},
		{
			name:    "page interval below upstream minimum",
			mutate:  func(c *Config) { c.Sync.PageInterval = "50ms" },
			wantMsg: "page_interval",
		},
		{
			name:    "batch interval below upstream minimum",
			mutate:  func(c *Config) { c.Sync.BatchInterval = "100ms" },
			wantMsg: "batch_interval",
		},
		{
			name:    "malformed duration",
			mutate:  func(c *Config) { c.Upstream.RecordTimeout = "soon" },
			wantMsg: "record_timeout",
		},
		{
			name:    "thumbnail quality out of range",
			mutate:  func(c *Config) { c.Images.ThumbnailQuality = 0 },
			wantMsg: "thumbnail_quality",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.LogLevel = "loud" },
			wantMsg: "log_level",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Logging.LogFormat = "xml" },
			wantMsg: "log_format",
		},
		{
			name:    "empty listen addr",
			mutate:  func(c *Config) { c.Server.ListenAddr = "" },
			wantMsg: "listen_addr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.PageSize = 0
	cfg.Logging.LogLevel = "loud"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page_size")
	assert.Contains(t, err.Error(), "log_level")
}

func TestMissingRequired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Path = "/tmp/catalog.db"

	missing := MissingRequired(cfg)
	assert.Len(t, missing, 8)
	assert.Contains(t, missing[0], "app_id")

	cfg.Upstream.AppID = "cli_x"
	cfg.Upstream.AppSecret = "s"
	cfg.Upstream.AppToken = "bascn"
	cfg.Upstream.TableID = "tbl"
	cfg.ObjectStore.Endpoint = "localhost:9000"
	cfg.ObjectStore.AccessKey = "ak"
	cfg.ObjectStore.SecretKey = "sk"
	cfg.ObjectStore.Bucket = "b"

	assert.Empty(t, MissingRequired(cfg))
}
