package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/mirastream/streaming-platform-auth/internal/core/port"
	"github.com/mirastream/streaming-platform-auth/internal/infra/logger"
)

// Logger writes the audit trail as structured log entries under a fixed
// "audit" marker, so the trail can be routed and retained separately
// from operational logs.
type Logger struct {
	log *zap.Logger
}

// NewLogger constructs the audit sink.
func NewLogger(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log.Named("audit")}
}

// Record emits one audit entry. IPs are masked; the full address never
// reaches the log stream.
func (l *Logger) Record(_ context.Context, entry port.AuditEntry) {
	fields := []zap.Field{
		zap.String("action", entry.Action),
		zap.String("subject", entry.Subject),
		zap.Time("at", entry.At),
	}
	if entry.SessionID != "" {
		fields = append(fields, zap.String("session_id", entry.SessionID))
	}
	if entry.Reason != "" {
		fields = append(fields, zap.String("reason", entry.Reason))
	}
	if entry.IP != "" {
		fields = append(fields, zap.String("ip", logger.MaskIP(entry.IP)))
	}
	if len(entry.Details) > 0 {
		fields = append(fields, zap.Any("details", entry.Details))
	}

	l.log.Info("audit", fields...)
}

var _ port.AuditLogger = (*Logger)(nil)
