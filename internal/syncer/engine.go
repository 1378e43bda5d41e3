// Package syncer drives the sync pipeline end to end: fetch upstream
// records, transform and diff them, upsert changed products, schedule image
// downloads, and persist run progress into the sync log. One run per
// process; pause, resume, and cancel are honored at every record boundary.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"prodsync/internal/catalog"
	"prodsync/internal/feishu"
	"prodsync/internal/images"
	"prodsync/internal/store"
)

// Sync modes.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
	ModeSelective   = "selective"
)

// RecordSource lists upstream rows. The concrete source is the Feishu
// client, which retries and paces internally.
type RecordSource interface {
	GetAllRecords(ctx context.Context, opts feishu.ListOptions) ([]feishu.Record, error)
}

// ProductStore is the product persistence surface the engine needs.
type ProductStore interface {
	GetProduct(ctx context.Context, productID string) (*catalog.Product, error)
	UpsertProduct(ctx context.Context, p *catalog.Product) (created bool, err error)
	SetProductImageURL(ctx context.Context, productID string, imageType catalog.ImageType, url string) (changed bool, err error)
	MarkAbsentProductsDeleted(ctx context.Context, present map[string]struct{}) (int64, error)
}

// LogStore is the sync-log persistence surface the engine needs.
type LogStore interface {
	CreateSyncLog(ctx context.Context, log *store.SyncLog) error
	SaveSyncLog(ctx context.Context, log *store.SyncLog) error
	LastSuccessfulSync(ctx context.Context) (*store.SyncLog, error)
	FindRecentSyncLogs(ctx context.Context, limit int) ([]*store.SyncLog, error)
}

// ImageDownloader runs batched attachment downloads.
type ImageDownloader interface {
	BatchDownloadFromFeishu(ctx context.Context, requests []images.Request, concurrency int) images.BatchResult
}

// Options select what one run does.
type Options struct {
	Mode       string
	ProductIDs []string

	DownloadImages   bool
	ValidateData     bool
	DryRun           bool
	BatchSize        int
	ConcurrentImages int
}

// DefaultOptions returns the documented defaults for a mode.
func DefaultOptions(mode string) Options {
	return Options{
		Mode:             mode,
		DownloadImages:   true,
		ValidateData:     true,
		BatchSize:        50,
		ConcurrentImages: 5,
	}
}

func (o *Options) normalize() {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}

	if o.ConcurrentImages <= 0 {
		o.ConcurrentImages = 5
	}
}

// ProductChange records what one run did to one product.
type ProductChange struct {
	ProductID string            `json:"productId"`
	Created   bool              `json:"created"`
	Version   int64             `json:"version"`
	Changes   catalog.ChangeSet `json:"changes"`
}

// Result is the outcome of one run.
type Result struct {
	SyncID    string            `json:"syncId"`
	Mode      string            `json:"mode"`
	Status    string            `json:"status"`
	DryRun    bool              `json:"dryRun"`
	StartTime time.Time         `json:"startTime"`
	EndTime   time.Time         `json:"endTime"`
	Stats     store.SyncStats   `json:"stats"`
	Errors    []store.SyncError `json:"errors,omitempty"`
	Changes   []ProductChange   `json:"changes,omitempty"`
}

// Config tunes the engine. BatchSize and ConcurrentImages act as defaults
// for runs that do not set their own; UpdateTuning hot-reloads them.
type Config struct {
	PageSize            int
	BatchSize           int
	ConcurrentImages    int
	DownloadImages      bool
	IncrementalFallback time.Duration
}

// Engine owns the single run slot and the pipeline.
type Engine struct {
	source      RecordSource
	transformer *catalog.Transformer
	products    ProductStore
	logs        LogStore
	downloader  ImageDownloader
	broadcaster *Broadcaster
	logger      *slog.Logger
	nowFunc     func() time.Time

	mu      sync.Mutex
	cfg     Config
	current *runState
	last    *Result
}

// runState is the in-flight run. Only the run goroutine touches it after
// acquire, except the gate, which control actions flip from outside.
type runState struct {
	syncID    string
	opts      Options
	gate      *controlGate
	log       *store.SyncLog
	start     time.Time
	processed int
	changes   []ProductChange
}

// Option customizes an Engine.
type Option func(*Engine)

// WithNow overrides the engine clock, for deterministic tests.
func WithNow(fn func() time.Time) Option {
	return func(e *Engine) { e.nowFunc = fn }
}

// New assembles the engine from its collaborators.
func New(
	source RecordSource, transformer *catalog.Transformer, products ProductStore,
	logs LogStore, downloader ImageDownloader, cfg Config, logger *slog.Logger,
	opts ...Option,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}

	if cfg.ConcurrentImages <= 0 {
		cfg.ConcurrentImages = 5
	}

	if cfg.IncrementalFallback <= 0 {
		cfg.IncrementalFallback = 24 * time.Hour
	}

	e := &Engine{
		source:      source,
		transformer: transformer,
		products:    products,
		logs:        logs,
		downloader:  downloader,
		broadcaster: NewBroadcaster(),
		logger:      logger,
		nowFunc:     time.Now,
		cfg:         cfg,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Broadcaster exposes the progress stream for the HTTP layer to subscribe.
func (e *Engine) Broadcaster() *Broadcaster {
	return e.broadcaster
}

// UpdateTuning hot-reloads the run defaults. In-flight runs keep the values
// they started with.
func (e *Engine) UpdateTuning(batchSize, concurrentImages int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if batchSize > 0 {
		e.cfg.BatchSize = batchSize
	}

	if concurrentImages > 0 {
		e.cfg.ConcurrentImages = concurrentImages
	}
}

// SyncFromFeishu runs one sync to completion. It is the blocking entry; the
// HTTP layer wraps it through StartAsync. A second concurrent call returns
// ErrSyncConflict.
func (e *Engine) SyncFromFeishu(ctx context.Context, opts Options) (*Result, error) {
	rs, err := e.acquire(ctx, opts)
	if err != nil {
		return nil, err
	}

	return e.run(ctx, rs)
}

// StartInfo describes a run just started in the background.
type StartInfo struct {
	SyncID            string
	StartTime         time.Time
	EstimatedDuration time.Duration
}

// StartAsync acquires the run slot, then executes the run on its own
// goroutine detached from the caller's request context.
func (e *Engine) StartAsync(ctx context.Context, opts Options) (*StartInfo, error) {
	rs, err := e.acquire(ctx, opts)
	if err != nil {
		return nil, err
	}

	estimate := e.estimateDuration(ctx)

	go func() {
		if _, err := e.run(context.Background(), rs); err != nil && !errors.Is(err, ErrCancelled) {
			e.logger.Error("background sync failed",
				slog.String("sync_id", rs.syncID),
				slog.String("error", err.Error()),
			)
		}
	}()

	return &StartInfo{SyncID: rs.syncID, StartTime: rs.start, EstimatedDuration: estimate}, nil
}

// estimateDuration averages the durations of recent completed runs. Zero
// when no history exists.
func (e *Engine) estimateDuration(ctx context.Context) time.Duration {
	logs, err := e.logs.FindRecentSyncLogs(ctx, 10)
	if err != nil {
		return 0
	}

	var (
		total time.Duration
		n     int
	)

	for _, l := range logs {
		if l.Status == store.SyncStatusCompleted && !l.EndTime.IsZero() {
			total += l.EndTime.Sub(l.StartTime)
			n++
		}
	}

	if n == 0 {
		return 0
	}

	return total / time.Duration(n)
}

// acquire validates the options and claims the single run slot, opening the
// sync log row while still inside the caller's context.
func (e *Engine) acquire(ctx context.Context, opts Options) (*runState, error) {
	switch opts.Mode {
	case ModeFull, ModeIncremental:
	case ModeSelective:
		if len(opts.ProductIDs) == 0 {
			return nil, ErrMissingProductIDs
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, opts.Mode)
	}

	opts.normalize()

	e.mu.Lock()

	if e.current != nil {
		e.mu.Unlock()

		return nil, ErrSyncConflict
	}

	rs := &runState{
		syncID: uuid.NewString(),
		opts:   opts,
		gate:   newControlGate(),
		start:  e.nowFunc().UTC(),
	}

	rs.log = &store.SyncLog{
		LogID:     rs.syncID,
		SyncType:  opts.Mode,
		Status:    store.SyncStatusRunning,
		StartTime: rs.start,
		Config: map[string]any{
			"mode":             opts.Mode,
			"productIds":       len(opts.ProductIDs),
			"downloadImages":   opts.DownloadImages,
			"validateData":     opts.ValidateData,
			"dryRun":           opts.DryRun,
			"batchSize":        opts.BatchSize,
			"concurrentImages": opts.ConcurrentImages,
		},
		Progress: store.Progress{Stage: StageInitializing, CurrentOperation: "starting sync"},
	}

	e.current = rs
	e.mu.Unlock()

	if err := e.logs.CreateSyncLog(ctx, rs.log); err != nil {
		e.release(rs, nil)

		return nil, fmt.Errorf("syncer: opening sync log: %w", err)
	}

	e.logger.Info("sync started",
		slog.String("sync_id", rs.syncID),
		slog.String("mode", opts.Mode),
		slog.Bool("dry_run", opts.DryRun),
	)

	return rs, nil
}

func (e *Engine) release(rs *runState, result *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == rs {
		e.current = nil
	}

	if result != nil {
		e.last = result
	}
}

// run executes the acquired run and always releases the slot.
func (e *Engine) run(ctx context.Context, rs *runState) (result *Result, err error) {
	defer func() {
		// A panic in the pipeline fails the run instead of killing the
		// process with the slot held.
		if r := recover(); r != nil {
			e.logger.Error("sync panicked", slog.String("sync_id", rs.syncID), slog.Any("panic", r))

			rs.log.Status = store.SyncStatusFailed
			rs.log.ErrorLogs = append(rs.log.ErrorLogs, store.SyncError{
				Type:      "panic",
				Message:   fmt.Sprint(r),
				Timestamp: e.nowFunc().UTC(),
			})

			result, err = e.finish(ctx, rs), fmt.Errorf("syncer: run panicked: %v", r)
		}

		e.release(rs, result)
	}()

	runErr := e.pipeline(ctx, rs)

	switch {
	case runErr == nil:
		rs.log.Status = store.SyncStatusCompleted
	case errors.Is(runErr, ErrCancelled):
		rs.log.Status = store.SyncStatusCancelled
	default:
		rs.log.Status = store.SyncStatusFailed
		rs.log.ErrorLogs = append(rs.log.ErrorLogs, store.SyncError{
			Type:      "sync",
			Message:   runErr.Error(),
			Timestamp: e.nowFunc().UTC(),
		})
	}

	result = e.finish(ctx, rs)

	if runErr != nil {
		return result, runErr
	}

	return result, nil
}

// finish stamps the end time, flushes the log row, and publishes the
// terminal event.
func (e *Engine) finish(ctx context.Context, rs *runState) *Result {
	rs.log.EndTime = e.nowFunc().UTC()

	if rs.log.Status == store.SyncStatusCompleted {
		rs.log.Progress.Percentage = 100
		rs.log.Progress.CurrentOperation = "sync complete"
	}

	if err := e.logs.SaveSyncLog(ctx, rs.log); err != nil {
		e.logger.Error("could not close sync log",
			slog.String("sync_id", rs.syncID),
			slog.String("error", err.Error()),
		)
	}

	e.broadcaster.Publish(Event{
		SyncID:           rs.syncID,
		Status:           rs.log.Status,
		Stage:            rs.log.Progress.Stage,
		Percentage:       rs.log.Progress.Percentage,
		CurrentOperation: rs.log.Progress.CurrentOperation,
		Stats:            rs.log.Stats,
		Timestamp:        e.nowFunc().UTC(),
	})

	e.logger.Info("sync finished",
		slog.String("sync_id", rs.syncID),
		slog.String("status", rs.log.Status),
		slog.Int("created", rs.log.Stats.CreatedRecords),
		slog.Int("updated", rs.log.Stats.UpdatedRecords),
		slog.Int("failed", rs.log.Stats.FailedRecords),
		slog.Int("images", rs.log.Stats.ProcessedImages),
	)

	return &Result{
		SyncID:    rs.syncID,
		Mode:      rs.opts.Mode,
		Status:    rs.log.Status,
		DryRun:    rs.opts.DryRun,
		StartTime: rs.start,
		EndTime:   rs.log.EndTime,
		Stats:     rs.log.Stats,
		Errors:    rs.log.ErrorLogs,
		Changes:   rs.changes,
	}
}

// pipeline is the run body: fetch, transform, process, download.
func (e *Engine) pipeline(ctx context.Context, rs *runState) error {
	e.setStage(ctx, rs, StageInitializing, 0, "preparing sync")

	cutoff, err := e.incrementalCutoff(ctx, rs)
	if err != nil {
		return err
	}

	if err := e.checkpoint(ctx, rs); err != nil {
		return err
	}

	e.setStage(ctx, rs, StageFetchingData, 0, "fetching records from upstream")

	records, err := e.source.GetAllRecords(ctx, feishu.ListOptions{PageSize: e.pageSize()})
	if err != nil {
		return fmt.Errorf("syncer: fetching records: %w", err)
	}

	if rs.opts.Mode == ModeSelective {
		records = filterByID(records, rs.opts.ProductIDs)
	}

	if err := e.checkpoint(ctx, rs); err != nil {
		return err
	}

	batch := e.transformer.BatchTransform(records)

	for _, failed := range batch.Failed {
		rs.log.Stats.FailedRecords++
		rs.log.ErrorLogs = append(rs.log.ErrorLogs, store.SyncError{
			Type:      "transform",
			ProductID: failed.RecordID,
			Message:   issueSummary(failed.Errors),
			Timestamp: e.nowFunc().UTC(),
		})
	}

	results := batch.Successful
	if rs.opts.Mode == ModeIncremental {
		results = filterByCollectTime(results, cutoff)
	}

	rs.log.Stats.TotalRecords = len(results)

	imageJobs, err := e.processRecords(ctx, rs, results)
	if err != nil {
		return err
	}

	if rs.opts.Mode == ModeFull && !rs.opts.DryRun {
		e.markAbsent(ctx, rs, results, len(batch.Failed))
	}

	return e.downloadImages(ctx, rs, imageJobs)
}

// markAbsent retires products that vanished from the upstream table. A run
// with transform failures skips the pass: a row that failed to transform is
// not proof its product is gone.
func (e *Engine) markAbsent(ctx context.Context, rs *runState, results []catalog.Result, failed int) {
	if failed > 0 {
		return
	}

	present := make(map[string]struct{}, len(results))
	for _, res := range results {
		present[res.Product.ProductID] = struct{}{}
	}

	n, err := e.products.MarkAbsentProductsDeleted(ctx, present)
	if err != nil {
		e.recordError(rs, "store", "", err)

		return
	}

	rs.log.Stats.DeletedRecords = int(n)
}

// incrementalCutoff resolves the collect-time cutoff for incremental runs:
// the start of the last successful run, else the configured fallback window.
func (e *Engine) incrementalCutoff(ctx context.Context, rs *runState) (time.Time, error) {
	if rs.opts.Mode != ModeIncremental {
		return time.Time{}, nil
	}

	last, err := e.logs.LastSuccessfulSync(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("syncer: loading last successful sync: %w", err)
	}

	if last != nil {
		return last.StartTime, nil
	}

	e.mu.Lock()
	fallback := e.cfg.IncrementalFallback
	e.mu.Unlock()

	return e.nowFunc().UTC().Add(-fallback), nil
}

// processRecords walks the transformed products, diffing each against the
// store and upserting creates and changes. Every iteration starts with a
// cancel/pause checkpoint. Returns the image jobs to download.
func (e *Engine) processRecords(ctx context.Context, rs *runState, results []catalog.Result) ([]images.Request, error) {
	total := len(results)

	e.setStage(ctx, rs, StageProcessingRecords, 0, fmt.Sprintf("processing %d records", total))

	var jobs []images.Request

	for i, res := range results {
		if err := e.checkpoint(ctx, rs); err != nil {
			return nil, err
		}

		e.processOne(ctx, rs, res, &jobs)
		rs.processed++

		rs.log.Progress.Percentage = (i + 1) * 100 / total
		rs.log.Progress.CurrentOperation = fmt.Sprintf("processed %d/%d records", i+1, total)

		e.publishProgress(rs)

		// Flush the log at batch boundaries so an interrupted run leaves
		// its position behind.
		if (i+1)%rs.opts.BatchSize == 0 {
			e.flushLog(ctx, rs)
		}
	}

	e.flushLog(ctx, rs)

	return jobs, nil
}

// processOne diffs and upserts a single product. Store failures are
// per-record: counted and logged, never fatal to the run.
func (e *Engine) processOne(ctx context.Context, rs *runState, res catalog.Result, jobs *[]images.Request) {
	product := res.Product

	existing, err := e.products.GetProduct(ctx, product.ProductID)
	if err != nil {
		e.recordError(rs, "store", product.ProductID, err)

		return
	}

	created := existing == nil

	var cs catalog.ChangeSet

	if !created {
		// The transformer leaves image URLs empty; inherit the stored ones
		// so the diff only fires on real upstream changes.
		product.Images = existing.Images
		product.Version = existing.Version

		cs = catalog.DetectChanges(product, existing)
		if !cs.HasChanges {
			return
		}
	}

	if rs.opts.DryRun {
		// Report the version the write would have produced.
		if !created {
			product.Version = existing.Version + 1
		}
	} else {
		if _, err := e.products.UpsertProduct(ctx, product); err != nil {
			e.recordError(rs, "store", product.ProductID, err)

			return
		}
	}

	if created {
		rs.log.Stats.CreatedRecords++
	} else {
		rs.log.Stats.UpdatedRecords++
	}

	rs.changes = append(rs.changes, ProductChange{
		ProductID: product.ProductID,
		Created:   created,
		Version:   product.Version,
		Changes:   cs,
	})

	if rs.opts.DownloadImages {
		for _, imageType := range catalog.ImageTypes {
			if tokens := res.Attachments[imageType]; len(tokens) > 0 {
				*jobs = append(*jobs, images.Request{
					ProductID:  product.ProductID,
					Type:       imageType,
					FileTokens: tokens,
				})
			}
		}
	}
}

// downloadImages runs the image stage and writes successful public URLs back
// onto their products.
func (e *Engine) downloadImages(ctx context.Context, rs *runState, jobs []images.Request) error {
	if !rs.opts.DownloadImages || len(jobs) == 0 {
		return nil
	}

	if rs.opts.DryRun {
		e.setStage(ctx, rs, StageDownloadingImages, 100,
			fmt.Sprintf("dry run: skipped %d image downloads", len(jobs)))

		return nil
	}

	if err := e.checkpoint(ctx, rs); err != nil {
		return err
	}

	e.setStage(ctx, rs, StageDownloadingImages, 0, fmt.Sprintf("downloading %d images", len(jobs)))

	batch := e.downloader.BatchDownloadFromFeishu(ctx, jobs, rs.opts.ConcurrentImages)

	// Cancel during the stage: in-flight downloads drained inside the
	// batch; their results are discarded here.
	if err := e.checkpoint(ctx, rs); err != nil {
		return err
	}

	rs.log.Stats.ProcessedImages = len(batch.Successful)
	rs.log.Stats.FailedImages = len(batch.Failed)

	// Image failures count as failedImages, not failed records.
	for _, failed := range batch.Failed {
		rs.log.ErrorLogs = append(rs.log.ErrorLogs, store.SyncError{
			Type:      "image",
			ProductID: failed.ProductID,
			Message:   fmt.Sprintf("%s/%s token %s: %v", failed.ProductID, failed.Type, failed.FileToken, failed.Err),
			Timestamp: e.nowFunc().UTC(),
		})
	}

	for _, img := range batch.Successful {
		if _, err := e.products.SetProductImageURL(ctx, img.ProductID, img.Type, img.PublicURL); err != nil {
			e.recordError(rs, "store", img.ProductID, err)
		}
	}

	e.setStage(ctx, rs, StageDownloadingImages, 100,
		fmt.Sprintf("downloaded %d images, %d failed", len(batch.Successful), len(batch.Failed)))

	return nil
}

func (e *Engine) pageSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.cfg.PageSize
}

func (e *Engine) recordError(rs *runState, errType, productID string, err error) {
	rs.log.Stats.FailedRecords++
	rs.log.ErrorLogs = append(rs.log.ErrorLogs, store.SyncError{
		Type:      errType,
		ProductID: productID,
		Message:   err.Error(),
		Timestamp: e.nowFunc().UTC(),
	})

	e.logger.Warn("record error",
		slog.String("sync_id", rs.syncID),
		slog.String("type", errType),
		slog.String("product_id", productID),
		slog.String("error", err.Error()),
	)
}

// setStage advances the progress object, flushes the log, and publishes.
func (e *Engine) setStage(ctx context.Context, rs *runState, stage string, percentage int, operation string) {
	rs.log.Progress = store.Progress{
		Stage:            stage,
		Percentage:       percentage,
		CurrentOperation: operation,
	}

	e.flushLog(ctx, rs)
	e.publishProgress(rs)
}

func (e *Engine) flushLog(ctx context.Context, rs *runState) {
	if err := e.logs.SaveSyncLog(ctx, rs.log); err != nil {
		e.logger.Error("could not flush sync log",
			slog.String("sync_id", rs.syncID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) publishProgress(rs *runState) {
	e.broadcaster.Publish(Event{
		SyncID:           rs.syncID,
		Status:           rs.log.Status,
		Stage:            rs.log.Progress.Stage,
		Percentage:       rs.log.Progress.Percentage,
		CurrentOperation: rs.log.Progress.CurrentOperation,
		Stats:            rs.log.Stats,
		Timestamp:        e.nowFunc().UTC(),
	})
}

func filterByID(records []feishu.Record, ids []string) []feishu.Record {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}

	out := records[:0]

	for _, rec := range records {
		if _, ok := keep[rec.ID]; ok {
			out = append(out, rec)
		}
	}

	return out
}

func filterByCollectTime(results []catalog.Result, cutoff time.Time) []catalog.Result {
	out := results[:0]

	for _, res := range results {
		if res.Product.CollectTime.After(cutoff) {
			out = append(out, res)
		}
	}

	return out
}

func issueSummary(issues []catalog.Issue) string {
	if len(issues) == 0 {
		return "transform failed"
	}

	msg := issues[0].Field + ": " + issues[0].Message
	if len(issues) > 1 {
		msg = fmt.Sprintf("%s (+%d more)", msg, len(issues)-1)
	}

	return msg
}
