package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
)

// API error codes carried inside the response envelope.
const (
	CodeInvalidParams     = "INVALID_PARAMS"
	CodeConflict          = "CONFLICT"
	CodeNotFound          = "NOT_FOUND"
	CodeInternalError     = "INTERNAL_ERROR"
	CodeMissingProductIDs = "MISSING_PRODUCT_IDS"
)

// apiError is the machine-readable error inside a failed envelope.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// envelope wraps every response body. Data and Error are mutually
// exclusive; Timestamp is RFC3339; RequestID echoes X-Request-ID when the
// caller sent one.
type envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *apiError `json:"error,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp string    `json:"timestamp"`
	RequestID string    `json:"requestId,omitempty"`
}

func respondOK(c *gin.Context, status int, data any, message string) {
	c.JSON(status, envelope{
		Success:   true,
		Data:      data,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestID(c),
	})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, envelope{
		Success:   false,
		Error:     &apiError{Code: code, Message: message},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestID(c),
	})
}
