package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDKey = "requestId"

// requestID returns the id assigned to the current request.
func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// requestIDMiddleware assigns every request an id, echoing the caller's
// X-Request-ID when present, and reflects it in the response header.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// loggingMiddleware writes one structured line per request.
func loggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", requestID(c)),
		)
	}
}

// recoveryMiddleware converts handler panics into the error envelope
// instead of a bare 500.
func recoveryMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.Error("handler panicked",
			slog.String("path", c.Request.URL.Path),
			slog.Any("panic", recovered),
			slog.String("request_id", requestID(c)),
		)

		respondError(c, http.StatusInternalServerError, CodeInternalError, "internal server error")
		c.Abort()
	})
}

// corsMiddleware admits the configured storefront origins; with none
// configured, any origin may read.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, "X-Request-ID")

	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}

	return cors.New(cfg)
}
