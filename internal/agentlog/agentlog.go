// Package agentlog provides the structured logging used by every ASMS
// component: a package-level slog logger, level control via LOG_LEVEL, and
// redaction of secrets that might appear in logged tool content.
package agentlog

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// DefaultLogger is the global structured logger instance, safe for
// concurrent use.
var DefaultLogger *slog.Logger

func init() {
	level := slog.LevelInfo
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		switch strings.ToLower(envLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	DefaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// SetLevel replaces the global logger with one at the given level.
func SetLevel(level slog.Level) {
	DefaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func Debug(msg string, args ...any) { DefaultLogger.Debug(msg, args...) }
func Info(msg string, args ...any)  { DefaultLogger.Info(msg, args...) }
func Warn(msg string, args ...any)  { DefaultLogger.Warn(msg, args...) }
func Error(msg string, args ...any) { DefaultLogger.Error(msg, args...) }

func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// secretPatterns matches common secret shapes that might leak into logged
// tool arguments or content (config file bodies, env dumps).
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[a-zA-Z0-9]{32,}`),
	regexp.MustCompile(`AIza[a-zA-Z0-9_-]{35}`),
	regexp.MustCompile(`Bearer\s+[a-zA-Z0-9_\-.]+`),
	regexp.MustCompile(`(?i)(api_key|secret|token|password)\s*[:=]\s*\S+`),
}

// Redact removes secret-shaped substrings from input, keeping a short
// visible prefix for debugging context.
func Redact(input string) string {
	result := input
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if len(match) > 12 {
				return match[:4] + "...[REDACTED]"
			}
			return "[REDACTED]"
		})
	}
	return result
}
