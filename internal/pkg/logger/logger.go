// Package logger 构造全局使用的 slog 日志器。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewDefault 返回输出到 stdout 的 JSON 日志器。
//
// level 取 debug / info / warn / error，无法识别时使用 info。
func NewDefault(level string) *slog.Logger {
	return New(os.Stdout, level)
}

// New 返回输出到 w 的 JSON 日志器。
func New(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(handler)
}

// ParseLevel 解析日志级别。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OrDiscard nil 时返回丢弃所有输出的日志器。
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}
