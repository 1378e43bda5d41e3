package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Environment variable names. The FEISHU_*/MINIO_* names match what the
// upstream and object-store services document for their own tooling, so the
// same environment works across deployment scripts.
const (
	EnvConfigPath       = "PRODSYNC_CONFIG"
	EnvAppID            = "FEISHU_APP_ID"
	EnvAppSecret        = "FEISHU_APP_SECRET"
	EnvAppToken         = "FEISHU_APP_TOKEN"
	EnvTableID          = "FEISHU_TABLE_ID"
	EnvBaseURL          = "FEISHU_BASE_URL"
	EnvEndpoint         = "MINIO_ENDPOINT"
	EnvAccessKey        = "MINIO_ACCESS_KEY"
	EnvSecretKey        = "MINIO_SECRET_KEY"
	EnvBucket           = "MINIO_BUCKET"
	EnvUseSSL           = "MINIO_USE_SSL"
	EnvDatabasePath     = "DATABASE_PATH"
	EnvConcurrentImages = "SYNC_CONCURRENT_IMAGES"
	EnvBatchSize        = "SYNC_BATCH_SIZE"
	EnvListenAddr       = "PRODSYNC_LISTEN_ADDR"
	EnvLogLevel         = "PRODSYNC_LOG_LEVEL"
)

// EnvOverrides holds raw environment variable values. Empty string means
// the variable was not set. Numeric and boolean values stay raw here and are
// parsed by applyEnv so a malformed value produces a config error instead of
// being silently dropped.
type EnvOverrides struct {
	ConfigPath       string
	AppID            string
	AppSecret        string
	AppToken         string
	TableID          string
	BaseURL          string
	Endpoint         string
	AccessKey        string
	SecretKey        string
	Bucket           string
	UseSSL           string
	DatabasePath     string
	ConcurrentImages string
	BatchSize        string
	ListenAddr       string
	LogLevel         string
}

// ReadEnvOverrides reads all recognized environment variables.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:       os.Getenv(EnvConfigPath),
		AppID:            os.Getenv(EnvAppID),
		AppSecret:        os.Getenv(EnvAppSecret),
		AppToken:         os.Getenv(EnvAppToken),
		TableID:          os.Getenv(EnvTableID),
		BaseURL:          os.Getenv(EnvBaseURL),
		Endpoint:         os.Getenv(EnvEndpoint),
		AccessKey:        os.Getenv(EnvAccessKey),
		SecretKey:        os.Getenv(EnvSecretKey),
		Bucket:           os.Getenv(EnvBucket),
		UseSSL:           os.Getenv(EnvUseSSL),
		DatabasePath:     os.Getenv(EnvDatabasePath),
		ConcurrentImages: os.Getenv(EnvConcurrentImages),
		BatchSize:        os.Getenv(EnvBatchSize),
		ListenAddr:       os.Getenv(EnvListenAddr),
		LogLevel:         os.Getenv(EnvLogLevel),
	}
}

// applyEnv copies set environment values onto cfg. String values overwrite
// directly; numeric and boolean values are parsed and reported as errors
// when malformed.
func applyEnv(cfg *Config, env EnvOverrides) error {
	applyEnvStrings(cfg, env)

	var errs []error

	if env.UseSSL != "" {
		v, err := strconv.ParseBool(env.UseSSL)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid boolean %q", EnvUseSSL, env.UseSSL))
		} else {
			cfg.ObjectStore.UseSSL = v
		}
	}

	if env.ConcurrentImages != "" {
		n, err := strconv.Atoi(env.ConcurrentImages)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid integer %q", EnvConcurrentImages, env.ConcurrentImages))
		} else {
			cfg.Sync.ConcurrentImages = n
		}
	}

	if env.BatchSize != "" {
		n, err := strconv.Atoi(env.BatchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid integer %q", EnvBatchSize, env.BatchSize))
		} else {
			cfg.Sync.BatchSize = n
		}
	}

	return errors.Join(errs...)
}

func applyEnvStrings(cfg *Config, env EnvOverrides) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	set(&cfg.Upstream.AppID, env.AppID)
	set(&cfg.Upstream.AppSecret, env.AppSecret)
	set(&cfg.Upstream.AppToken, env.AppToken)
	set(&cfg.Upstream.TableID, env.TableID)
	set(&cfg.Upstream.BaseURL, env.BaseURL)
	set(&cfg.ObjectStore.Endpoint, env.Endpoint)
	set(&cfg.ObjectStore.AccessKey, env.AccessKey)
	set(&cfg.ObjectStore.SecretKey, env.SecretKey)
	set(&cfg.ObjectStore.Bucket, env.Bucket)
	set(&cfg.Database.Path, env.DatabasePath)
	set(&cfg.Server.ListenAddr, env.ListenAddr)
	set(&cfg.Logging.LogLevel, env.LogLevel)
}
