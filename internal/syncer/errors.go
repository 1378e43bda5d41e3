package syncer

import "errors"

var (
	// ErrSyncConflict rejects a second sync while one is active. One run
	// per process, always.
	ErrSyncConflict = errors.New("syncer: a sync is already running")

	// ErrCancelled ends a run that received a cancel signal. It is a
	// checkpoint return value, never a panic.
	ErrCancelled = errors.New("syncer: sync cancelled")

	// ErrNoActiveSync rejects a control action when no matching run exists.
	ErrNoActiveSync = errors.New("syncer: no active sync")

	// ErrMissingProductIDs rejects a selective sync without product ids.
	ErrMissingProductIDs = errors.New("syncer: selective sync requires product ids")

	// ErrInvalidMode rejects an unknown sync mode.
	ErrInvalidMode = errors.New("syncer: invalid sync mode")

	// ErrInvalidAction rejects an unknown control action.
	ErrInvalidAction = errors.New("syncer: invalid control action")
)
