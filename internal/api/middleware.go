package api

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"marketpulse/internal/errors"
	"marketpulse/internal/logger"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// RequestID assigns each request an ID, reusing an incoming X-Request-ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logger.RequestIDKey, id))
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	rl := logger.NewRequestLogger(log)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		rl.LogRequest(c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start), map[string]interface{}{
			"request_id": getRequestID(c),
			"ip":         c.ClientIP(),
		})
	}
}

// ErrorHandler recovers panics and renders errors attached to the context.
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		// log the panic with its stack
		log.Error("Panic recovered",
			"error", recovered,
			"stack", string(debug.Stack()),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)

		err := errors.NewAppError(errors.ErrCodeInternal, "Internal server error", nil)
		handleError(c, log, err)
	})
}

// HandleError renders the last error a handler attached with c.Error.
func HandleError(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			handleError(c, log, c.Errors.Last().Err)
		}
	}
}

// handleError writes err as an ErrorResponse.
func handleError(c *gin.Context, log logger.Logger, err error) {
	if err == nil {
		return
	}

	// wrap plain errors
	appErr := errors.WrapError(err, errors.ErrCodeInternal, "Internal server error")

	if appErr.RequestID == "" {
		appErr = appErr.WithRequestID(getRequestID(c))
	}

	logError(c, log, appErr)

	c.AbortWithStatusJSON(appErr.HTTPStatus(), errors.NewErrorResponse(appErr, c.Request.URL.Path))
}

// logError logs err with the request details.
func logError(c *gin.Context, log logger.Logger, err *errors.AppError) {
	fields := []interface{}{
		"error_code", err.Code,
		"message", err.Message,
		"severity", err.Severity,
		"request_id", err.RequestID,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
	}

	if err.Details != "" {
		fields = append(fields, "details", err.Details)
	}
	if len(err.Context) > 0 {
		contextJSON, _ := json.Marshal(err.Context)
		fields = append(fields, "context", string(contextJSON))
	}
	if err.Cause != nil {
		fields = append(fields, "cause", err.Cause.Error())
	}

	// level follows severity
	switch err.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		log.Error("Request failed", fields...)
	case errors.SeverityMedium:
		log.Warn("Request failed", fields...)
	default:
		log.Debug("Request rejected", fields...)
	}
}

// getRequestID returns the ID set by RequestID.
func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get(requestIDKey); exists {
		if rid, ok := requestID.(string); ok {
			return rid
		}
	}
	return c.GetHeader(requestIDHeader)
}
