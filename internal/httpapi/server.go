// Package httpapi exposes the sync engine, sync history, consistency
// checker, and health probes over HTTP. Every response body uses a common
// envelope; progress streams over a websocket.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"prodsync/internal/consistency"
	"prodsync/internal/feishu"
	"prodsync/internal/store"
	"prodsync/internal/syncer"
)

// SyncEngine is the orchestration surface the API drives.
type SyncEngine interface {
	StartAsync(ctx context.Context, opts syncer.Options) (*syncer.StartInfo, error)
	Status(ctx context.Context) (*syncer.RunStatus, *store.SyncLog, error)
	Control(ctx context.Context, action, syncID string) error
	Broadcaster() *syncer.Broadcaster
}

// HistoryStore pages through past sync runs.
type HistoryStore interface {
	FindFilteredSyncLogs(ctx context.Context, f store.SyncLogFilter) ([]*store.SyncLog, store.Pagination, error)
}

// ConsistencyChecker validates and repairs the catalog.
type ConsistencyChecker interface {
	Validate(ctx context.Context, req consistency.ValidateRequest) (*consistency.ValidationReport, error)
	Repair(ctx context.Context, req consistency.RepairRequest) (*consistency.RepairReport, error)
}

// Pinger reports whether a backing service answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// UpstreamChecker exercises the upstream credential chain.
type UpstreamChecker interface {
	VerifyCredentials(ctx context.Context) ([]feishu.Field, error)
}

// Config tunes the API server.
type Config struct {
	CORSOrigins []string
}

// Server wires the routes onto a gin engine.
type Server struct {
	engine   SyncEngine
	history  HistoryStore
	checker  ConsistencyChecker
	database Pinger
	objects  Pinger
	upstream UpstreamChecker
	logger   *slog.Logger
	started  time.Time
	router   *gin.Engine
}

// New assembles the server and registers its routes.
func New(
	engine SyncEngine, history HistoryStore, checker ConsistencyChecker,
	database, objects Pinger, upstream UpstreamChecker,
	cfg Config, logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine:   engine,
		history:  history,
		checker:  checker,
		database: database,
		objects:  objects,
		upstream: upstream,
		logger:   logger,
		started:  time.Now(),
		router:   gin.New(),
	}

	s.router.Use(
		requestIDMiddleware(),
		loggingMiddleware(logger),
		recoveryMiddleware(logger),
		corsMiddleware(cfg.CORSOrigins),
	)

	s.router.GET("/health", s.handleHealth)

	sync := s.router.Group("/sync")
	sync.POST("/feishu", s.handleStartSync)
	sync.GET("/status", s.handleStatus)
	sync.POST("/control", s.handleControl)
	sync.GET("/history", s.handleHistory)
	sync.POST("/validate", s.handleValidate)
	sync.POST("/repair", s.handleRepair)
	sync.GET("/progress/ws", s.handleProgressWS)

	s.router.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, CodeNotFound, "no such route")
	})

	return s
}

// Handler exposes the routed engine for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}
