// Package store persists the catalog: product rows (hot columns plus the
// full canonical document as JSON), content-addressed image rows, and the
// append-only sync log. Backed by embedded SQLite in WAL mode with a single
// writer connection.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

const walJournalSizeLimit = 67108864 // 64 MiB

// Store owns the catalog database. One writer connection: SQLite serializes
// writes anyway, and a single connection makes transactions with prepared
// statements predictable.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	productStmts productStatements
	imageStmts   imageStatements
	logStmts     syncLogStatements
}

type productStatements struct {
	get, current, insert, update, markDeleted         *sql.Stmt
	listActive, listSince, duplicates, rowsForProduct *sql.Stmt
	countByStatus                                     *sql.Stmt
}

type imageStatements struct {
	insert, get, findActive, findBySourceToken *sql.Stmt
	setSourceToken, touchAccess, deactivate    *sql.Stmt
	listActive, listByProduct, listInactive    *sql.Stmt
	deleteRow, updateContent                   *sql.Stmt
}

type syncLogStatements struct {
	insert, save, get, recent, lastSuccessful, markInterrupted *sql.Stmt
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the write timestamp clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the catalog database at dbPath, applies
// pending migrations, and prepares the repeated statements. Use ":memory:"
// for tests.
func Open(dbPath string, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening catalog database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}

	// Sole writer. Also keeps ":memory:" stable across calls.
	db.SetMaxOpenConns(1)

	if err := setPragmas(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger, now: time.Now}

	for _, opt := range opts {
		opt(s)
	}

	if err := s.prepareAllStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: prepare statements: %w", err)
	}

	logger.Info("catalog database ready", "path", dbPath)

	return s, nil
}

func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{"PRAGMA busy_timeout = 5000", "busy timeout"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("store: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", "pragma", p.desc)
	}

	return nil
}

// Ping verifies the database is reachable, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Checkpoint consolidates the WAL file into the main database.
func (s *Store) Checkpoint() error {
	s.logger.Debug("running WAL checkpoint")

	if _, err := s.db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("store: wal checkpoint: %w", err)
	}

	return nil
}

// Close closes the prepared statements and the database.
func (s *Store) Close() error {
	s.logger.Info("closing catalog database")

	if err := s.closeStatements(); err != nil {
		s.logger.Error("error closing statements", "error", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close database: %w", err)
	}

	return nil
}

func (s *Store) closeStatements() error {
	stmts := []*sql.Stmt{
		s.productStmts.get, s.productStmts.current, s.productStmts.insert,
		s.productStmts.update, s.productStmts.markDeleted,
		s.productStmts.listActive, s.productStmts.listSince,
		s.productStmts.duplicates, s.productStmts.rowsForProduct,
		s.productStmts.countByStatus,
		s.imageStmts.insert, s.imageStmts.get, s.imageStmts.findActive,
		s.imageStmts.findBySourceToken, s.imageStmts.setSourceToken,
		s.imageStmts.touchAccess, s.imageStmts.deactivate,
		s.imageStmts.listActive, s.imageStmts.listByProduct,
		s.imageStmts.listInactive, s.imageStmts.deleteRow,
		s.imageStmts.updateContent,
		s.logStmts.insert, s.logStmts.save, s.logStmts.get,
		s.logStmts.recent, s.logStmts.lastSuccessful, s.logStmts.markInterrupted,
	}

	var errs []string

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("store: close statements: %s", strings.Join(errs, "; "))
	}

	return nil
}

// stmtDef maps a SQL string to the prepared statement pointer it populates.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

func (s *Store) prepareAllStatements(ctx context.Context) error {
	if err := s.prepareProductStmts(ctx); err != nil {
		return err
	}

	if err := s.prepareImageStmts(ctx); err != nil {
		return err
	}

	return s.prepareSyncLogStmts(ctx)
}

// isUniqueViolation reports whether err is a unique-index conflict. The
// driver does not export a sentinel for it.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// millis converts a time to the INTEGER column representation, NULL for the
// zero time.
func millis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}

	return time.UnixMilli(n.Int64).UTC()
}
