package logger

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BradenHooton/keystone/internal/models"
)

// New builds the process JSON logger at the given level ("debug", "info", "warn", "error")
func New(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// AuditLogger writes security events as structured log lines
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogSecurityEvent writes one audit line. HIGH and CRITICAL events are logged
// at warn and error level respectively.
func (al *AuditLogger) LogSecurityEvent(ctx context.Context, event *models.AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("event_id", event.ID.String()),
		slog.String("event_type", event.EventType),
		slog.String("severity", string(event.Severity)),
		slog.String("description", event.Description),
		slog.String("timestamp", event.Timestamp.UTC().Format(time.RFC3339)),
	}

	if event.ActorID != nil {
		attrs = append(attrs, slog.String("actor_id", *event.ActorID))
	}

	keys := make([]string, 0, len(event.Context))
	for key := range event.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		attrs = append(attrs, slog.Any(key, event.Context[key]))
	}

	al.logger.LogAttrs(ctx, severityLevel(event.Severity), "audit", attrs...)
}

func severityLevel(severity models.AuditSeverity) slog.Level {
	switch severity {
	case models.SeverityCritical:
		return slog.LevelError
	case models.SeverityHigh, models.SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
