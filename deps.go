package main

import (
	"context"
	"fmt"
	"log/slog"

	"prodsync/internal/catalog"
	"prodsync/internal/config"
	"prodsync/internal/consistency"
	"prodsync/internal/feishu"
	"prodsync/internal/images"
	"prodsync/internal/objstore"
	"prodsync/internal/store"
	"prodsync/internal/syncer"
)

// deps bundles the assembled service graph for commands that run the
// pipeline in-process. Close releases the database.
type deps struct {
	store   *store.Store
	objects *objstore.Client
	feishu  *feishu.Client
	images  *images.Service
	engine  *syncer.Engine
	checker *consistency.Checker
}

// buildDeps wires every service from the resolved config. The caller owns
// the returned deps and must Close them.
func buildDeps(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*deps, error) {
	if err := requireCredentials(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	objects, err := objstore.New(objstore.Config{
		Endpoint:      cfg.ObjectStore.Endpoint,
		AccessKey:     cfg.ObjectStore.AccessKey,
		SecretKey:     cfg.ObjectStore.SecretKey,
		Bucket:        cfg.ObjectStore.Bucket,
		UseSSL:        cfg.ObjectStore.UseSSL,
		PublicBaseURL: cfg.ObjectStore.PublicBaseURL,
	}, logger)
	if err != nil {
		st.Close()

		return nil, fmt.Errorf("connecting to object store: %w", err)
	}

	if err := objects.EnsureBucket(ctx); err != nil {
		st.Close()

		return nil, fmt.Errorf("preparing bucket: %w", err)
	}

	upstream := feishu.New(feishu.Config{
		BaseURL:        cfg.Upstream.BaseURL,
		AppID:          cfg.Upstream.AppID,
		AppSecret:      cfg.Upstream.AppSecret,
		AppToken:       cfg.Upstream.AppToken,
		TableID:        cfg.Upstream.TableID,
		RecordTimeout:  cfg.Upstream.RecordTimeoutDuration(),
		MediaTimeout:   cfg.Upstream.MediaTimeoutDuration(),
		PageInterval:   cfg.Sync.PageIntervalDuration(),
		BatchInterval:  cfg.Sync.BatchIntervalDuration(),
		TokenCachePath: cfg.Upstream.TokenCache,
	}, logger)

	imageSvc := images.New(objects, st, upstream, images.Config{
		Bucket:           cfg.ObjectStore.Bucket,
		ThumbnailQuality: cfg.Images.ThumbnailQuality,
		ProxyBaseURL:     cfg.Images.ProxyBaseURL,
		BatchInterval:    cfg.Sync.BatchIntervalDuration(),
	}, logger)

	transformer := catalog.NewTransformer(logger)

	engine := syncer.New(upstream, transformer, st, st, imageSvc, syncer.Config{
		PageSize:            cfg.Sync.PageSize,
		BatchSize:           cfg.Sync.BatchSize,
		ConcurrentImages:    cfg.Sync.ConcurrentImages,
		DownloadImages:      cfg.Sync.DownloadImages,
		IncrementalFallback: cfg.Sync.IncrementalFallbackDuration(),
	}, logger)

	checker := consistency.New(st, st, imageSvc, logger)

	return &deps{
		store:   st,
		objects: objects,
		feishu:  upstream,
		images:  imageSvc,
		engine:  engine,
		checker: checker,
	}, nil
}

func (d *deps) Close() error {
	return d.store.Close()
}
