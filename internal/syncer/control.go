package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"prodsync/internal/store"
)

// Control actions.
const (
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionCancel = "cancel"
)

// Control applies a pause, resume, or cancel signal to the current run.
// syncID narrows the target; empty matches whatever is running. No matching
// run returns ErrNoActiveSync.
//
// Control only flips the gate; the run goroutine owns the log row and
// persists the state transition at its next checkpoint.
func (e *Engine) Control(_ context.Context, action, syncID string) error {
	e.mu.Lock()
	rs := e.current
	e.mu.Unlock()

	if rs == nil || (syncID != "" && rs.syncID != syncID) {
		return ErrNoActiveSync
	}

	switch action {
	case ActionPause:
		rs.gate.Pause()
	case ActionResume:
		rs.gate.Resume()
	case ActionCancel:
		rs.gate.Cancel()
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	e.logger.Info("sync control applied",
		slog.String("sync_id", rs.syncID),
		slog.String("action", action),
	)

	return nil
}

// checkpoint honors cancel and pause at a record boundary. A pause persists
// the paused status before blocking and the running status after waking, so
// the log row always reflects what the loop is doing.
func (e *Engine) checkpoint(ctx context.Context, rs *runState) error {
	if !rs.gate.Paused() {
		return rs.gate.checkpoint(ctx)
	}

	rs.log.Status = store.SyncStatusPaused
	e.flushLog(ctx, rs)
	e.publishProgress(rs)

	e.logger.Info("sync paused", slog.String("sync_id", rs.syncID))

	if err := rs.gate.checkpoint(ctx); err != nil {
		return err
	}

	rs.log.Status = store.SyncStatusRunning
	e.flushLog(ctx, rs)
	e.publishProgress(rs)

	e.logger.Info("sync resumed", slog.String("sync_id", rs.syncID))

	return nil
}

// RunStatus is the live view of the current run.
type RunStatus struct {
	SyncID    string          `json:"syncId"`
	Mode      string          `json:"mode"`
	Status    string          `json:"status"`
	StartTime time.Time       `json:"startTime"`
	Progress  store.Progress  `json:"progress"`
	Stats     store.SyncStats `json:"stats"`
}

// Status reports the current run (nil when idle) and the most recent
// finished run from the log. Live progress comes from the broadcaster's
// last event, keeping the log row single-writer.
func (e *Engine) Status(ctx context.Context) (current *RunStatus, last *store.SyncLog, err error) {
	e.mu.Lock()
	rs := e.current
	e.mu.Unlock()

	if rs != nil {
		status := store.SyncStatusRunning
		if rs.gate.Paused() {
			status = store.SyncStatusPaused
		}

		current = &RunStatus{
			SyncID:    rs.syncID,
			Mode:      rs.opts.Mode,
			Status:    status,
			StartTime: rs.start,
		}

		if ev := e.broadcaster.Last(); ev != nil && ev.SyncID == rs.syncID {
			current.Progress = store.Progress{
				Stage:            ev.Stage,
				Percentage:       ev.Percentage,
				CurrentOperation: ev.CurrentOperation,
			}
			current.Stats = ev.Stats
		}
	}

	logs, err := e.logs.FindRecentSyncLogs(ctx, 2)
	if err != nil {
		return current, nil, err
	}

	for _, l := range logs {
		if current != nil && l.LogID == current.SyncID {
			continue
		}

		last = l

		break
	}

	return current, last, nil
}

// LastResult returns the outcome of the most recent run in this process,
// or nil before the first.
func (e *Engine) LastResult() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.last
}
