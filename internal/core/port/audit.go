package port

import (
	"context"
	"time"
)

// AuditEntry describes one security-sensitive operation for the audit
// collaborator. Storage of the trail is outside the core.
type AuditEntry struct {
	Action    string
	Subject   string
	SessionID string
	Reason    string
	IP        string
	At        time.Time
	Details   map[string]any
}

// AuditLogger records security-sensitive operations: logins, lockouts,
// session terminations, token revocations. Explicit calls, not interception.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}
