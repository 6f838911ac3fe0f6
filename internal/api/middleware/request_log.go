package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader 请求 ID 的响应头，请求已带该头时沿用。
const RequestIDHeader = "X-Request-ID"

// RequestLogger 为每个请求分配请求 ID，并在结束时记录请求与响应的元数据。
// 5xx 记为 Error，4xx 记为 Warn，/metrics 与 /healthz 只在 Debug 级别记录。
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(RequestIDHeader, reqID)
		c.Set("request_id", reqID)

		c.Next()

		if logger == nil {
			return
		}

		status := c.Writer.Status()
		path := c.Request.URL.Path
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		case path == "/metrics" || path == "/healthz":
			level = slog.LevelDebug
		}

		attrs := []slog.Attr{
			slog.String("request_id", reqID),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.String("client_ip", c.ClientIP()),
			slog.String("latency", time.Since(start).String()),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}
		logger.LogAttrs(c.Request.Context(), level, "http request", attrs...)
	}
}
