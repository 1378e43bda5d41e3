package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain and match the upstream service's documented
// rate expectations (page spacing, batch pauses) out of the box.
const (
	defaultBaseURL             = "https://open.feishu.cn"
	defaultRecordTimeout       = "30s"
	defaultMediaTimeout        = "60s"
	defaultPageSize            = 500
	defaultPageInterval        = "200ms"
	defaultBatchSize           = 50
	defaultConcurrentImages    = 5
	defaultBatchInterval       = "500ms"
	defaultIncrementalFallback = "24h"
	defaultThumbnailQuality    = 80
	defaultProxyBaseURL        = "/images/proxy"
	defaultListenAddr          = ":8080"
	defaultShutdownTimeout     = "30s"
	defaultLogLevel            = "info"
	defaultLogFormat           = "auto"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Upstream:    defaultUpstreamConfig(),
		ObjectStore: ObjectStoreConfig{},
		Database:    DatabaseConfig{Path: DefaultDatabasePath()},
		Sync:        defaultSyncConfig(),
		Images:      defaultImagesConfig(),
		Server:      defaultServerConfig(),
		Logging:     defaultLoggingConfig(),
	}
}

func defaultUpstreamConfig() UpstreamConfig {
	return UpstreamConfig{
		BaseURL:       defaultBaseURL,
		RecordTimeout: defaultRecordTimeout,
		MediaTimeout:  defaultMediaTimeout,
		TokenCache:    DefaultTokenCachePath(),
	}
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		PageSize:            defaultPageSize,
		PageInterval:        defaultPageInterval,
		BatchSize:           defaultBatchSize,
		ConcurrentImages:    defaultConcurrentImages,
		BatchInterval:       defaultBatchInterval,
		IncrementalFallback: defaultIncrementalFallback,
		DownloadImages:      true,
	}
}

func defaultImagesConfig() ImagesConfig {
	return ImagesConfig{
		ThumbnailQuality: defaultThumbnailQuality,
		ProxyBaseURL:     defaultProxyBaseURL,
	}
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:      defaultListenAddr,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}
