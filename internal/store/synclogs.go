package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// maxErrorLogEntries caps the per-run error trail so a pathological run
// cannot grow a row without bound.
const maxErrorLogEntries = 1000

const syncLogColumns = `log_id, sync_type, status, start_time, end_time,
	stats, error_logs, config, progress, created_at, updated_at`

const (
	insertSyncLogSQL = `INSERT INTO sync_logs (` + syncLogColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	saveSyncLogSQL = `UPDATE sync_logs SET
		status = ?, end_time = ?, stats = ?, error_logs = ?, progress = ?, updated_at = ?
		WHERE log_id = ?`

	getSyncLogSQL = `SELECT ` + syncLogColumns + ` FROM sync_logs WHERE log_id = ?`

	recentSyncLogsSQL = `SELECT ` + syncLogColumns + ` FROM sync_logs
		ORDER BY start_time DESC, created_at DESC LIMIT ?`

	lastSuccessfulSyncSQL = `SELECT ` + syncLogColumns + ` FROM sync_logs
		WHERE status = 'completed'
		ORDER BY start_time DESC, created_at DESC LIMIT 1`

	markInterruptedSyncsSQL = `UPDATE sync_logs SET
		status = 'failed', end_time = ?, updated_at = ?
		WHERE status IN ('running', 'paused')`
)

func (s *Store) prepareSyncLogStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.logStmts.insert, insertSyncLogSQL, "insert sync log"},
		{&s.logStmts.save, saveSyncLogSQL, "save sync log"},
		{&s.logStmts.get, getSyncLogSQL, "get sync log"},
		{&s.logStmts.recent, recentSyncLogsSQL, "recent sync logs"},
		{&s.logStmts.lastSuccessful, lastSuccessfulSyncSQL, "last successful sync"},
		{&s.logStmts.markInterrupted, markInterruptedSyncsSQL, "mark interrupted syncs"},
	})
}

func scanSyncLog(row interface{ Scan(...any) error }) (*SyncLog, error) {
	var (
		log                                 SyncLog
		startTime                           int64
		endTime                             sql.NullInt64
		stats, errorLogs, config, progress  string
		createdAt, updatedAt                int64
	)

	err := row.Scan(&log.LogID, &log.SyncType, &log.Status, &startTime,
		&endTime, &stats, &errorLogs, &config, &progress, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	log.StartTime = time.UnixMilli(startTime).UTC()
	log.EndTime = fromMillis(endTime)

	for _, col := range []struct {
		raw  string
		dest any
	}{
		{stats, &log.Stats},
		{errorLogs, &log.ErrorLogs},
		{config, &log.Config},
		{progress, &log.Progress},
	} {
		if err := json.Unmarshal([]byte(col.raw), col.dest); err != nil {
			return nil, fmt.Errorf("decode sync log column: %w", err)
		}
	}

	return &log, nil
}

// CreateSyncLog opens a new run record. The caller supplies LogID, SyncType,
// StartTime, Status, and the redacted config snapshot.
func (s *Store) CreateSyncLog(ctx context.Context, log *SyncLog) error {
	now := s.now().UTC()

	cols, err := encodeSyncLogColumns(log)
	if err != nil {
		return err
	}

	_, err = s.logStmts.insert.ExecContext(ctx,
		log.LogID, log.SyncType, log.Status, log.StartTime.UnixMilli(),
		millis(log.EndTime), cols.stats, cols.errorLogs, cols.config,
		cols.progress, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: create sync log %s: %w", log.LogID, err)
	}

	return nil
}

// SaveSyncLog flushes the mutable portion of a run record: status, end time,
// stats, error trail, and progress. The error trail is truncated to the cap.
func (s *Store) SaveSyncLog(ctx context.Context, log *SyncLog) error {
	if len(log.ErrorLogs) > maxErrorLogEntries {
		log.ErrorLogs = log.ErrorLogs[:maxErrorLogEntries]
	}

	cols, err := encodeSyncLogColumns(log)
	if err != nil {
		return err
	}

	res, err := s.logStmts.save.ExecContext(ctx,
		log.Status, millis(log.EndTime), cols.stats, cols.errorLogs,
		cols.progress, s.now().UTC().UnixMilli(), log.LogID)
	if err != nil {
		return fmt.Errorf("store: save sync log %s: %w", log.LogID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: save sync log %s: %w", log.LogID, err)
	}

	if affected == 0 {
		return fmt.Errorf("store: save sync log: no row %s", log.LogID)
	}

	return nil
}

// GetSyncLog returns the run record by id, or (nil, nil) when absent.
func (s *Store) GetSyncLog(ctx context.Context, logID string) (*SyncLog, error) {
	log, err := scanSyncLog(s.logStmts.get.QueryRowContext(ctx, logID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		return nil, fmt.Errorf("store: get sync log %s: %w", logID, err)
	}

	return log, nil
}

// FindRecentSyncLogs returns the newest runs, most recent first.
func (s *Store) FindRecentSyncLogs(ctx context.Context, limit int) ([]*SyncLog, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.logStmts.recent.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent sync logs: %w", err)
	}

	return collectSyncLogs(rows)
}

// LastSuccessfulSync returns the most recent completed run, or (nil, nil)
// when none exists. Incremental sync derives its cutoff from it.
func (s *Store) LastSuccessfulSync(ctx context.Context) (*SyncLog, error) {
	log, err := scanSyncLog(s.logStmts.lastSuccessful.QueryRowContext(ctx))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		return nil, fmt.Errorf("store: last successful sync: %w", err)
	}

	return log, nil
}

// MarkInterruptedSyncs fails any run still marked running or paused. Called
// once at startup: a run from a previous process can no longer progress.
func (s *Store) MarkInterruptedSyncs(ctx context.Context) (int64, error) {
	now := s.now().UTC().UnixMilli()

	res, err := s.logStmts.markInterrupted.ExecContext(ctx, now, now)
	if err != nil {
		return 0, fmt.Errorf("store: mark interrupted syncs: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: mark interrupted syncs: %w", err)
	}

	if affected > 0 {
		s.logger.Warn("failed interrupted sync runs from a previous process", "runs", affected)
	}

	return affected, nil
}

// FindFilteredSyncLogs pages through history matching the filter. Zero
// filter fields match everything.
func (s *Store) FindFilteredSyncLogs(ctx context.Context, f SyncLogFilter) ([]*SyncLog, Pagination, error) {
	if f.Page <= 0 {
		f.Page = 1
	}

	if f.Limit <= 0 {
		f.Limit = 20
	}

	var (
		conds []string
		args  []any
	)

	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}

	if f.SyncType != "" {
		conds = append(conds, "sync_type = ?")
		args = append(args, f.SyncType)
	}

	if !f.StartDate.IsZero() {
		conds = append(conds, "start_time >= ?")
		args = append(args, f.StartDate.UnixMilli())
	}

	if !f.EndDate.IsZero() {
		conds = append(conds, "start_time <= ?")
		args = append(args, f.EndDate.UnixMilli())
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_logs"+where, args...).Scan(&total); err != nil {
		return nil, Pagination{}, fmt.Errorf("store: count sync logs: %w", err)
	}

	query := `SELECT ` + syncLogColumns + ` FROM sync_logs` + where +
		` ORDER BY start_time DESC, created_at DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, (f.Page-1)*f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("store: filter sync logs: %w", err)
	}

	logs, err := collectSyncLogs(rows)
	if err != nil {
		return nil, Pagination{}, err
	}

	pagination := Pagination{
		Page:       f.Page,
		Limit:      f.Limit,
		Total:      total,
		TotalPages: (total + f.Limit - 1) / f.Limit,
	}

	return logs, pagination, nil
}

type encodedSyncLog struct {
	stats, errorLogs, config, progress string
}

func encodeSyncLogColumns(log *SyncLog) (encodedSyncLog, error) {
	var out encodedSyncLog

	for _, col := range []struct {
		src  any
		dest *string
	}{
		{log.Stats, &out.stats},
		{orEmptyErrors(log.ErrorLogs), &out.errorLogs},
		{orEmptyConfig(log.Config), &out.config},
		{log.Progress, &out.progress},
	} {
		raw, err := json.Marshal(col.src)
		if err != nil {
			return out, fmt.Errorf("store: encode sync log column: %w", err)
		}

		*col.dest = string(raw)
	}

	return out, nil
}

func orEmptyErrors(errs []SyncError) []SyncError {
	if errs == nil {
		return []SyncError{}
	}

	return errs
}

func orEmptyConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return map[string]any{}
	}

	return cfg
}

func collectSyncLogs(rows *sql.Rows) ([]*SyncLog, error) {
	defer rows.Close()

	var out []*SyncLog

	for rows.Next() {
		log, err := scanSyncLog(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan sync log: %w", err)
		}

		out = append(out, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate sync logs: %w", err)
	}

	return out, nil
}
