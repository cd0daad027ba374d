package domain

import "time"

// Region sync actions. Session-scoped actions carry a session ID;
// account-scoped actions do not.
const (
	SyncActionLogin          = "login"
	SyncActionLogout         = "logout"
	SyncActionRefresh        = "refresh"
	SyncActionLock           = "lock"
	SyncActionUnlock         = "unlock"
	SyncActionPasswordChange = "password_change"
)

// RegionSyncEvent propagates a security-relevant state change to peer
// regions. Delivery is at-least-once; consumers dedupe by (EventID, Action).
type RegionSyncEvent struct {
	EventID   string         `json:"event_id"`
	Action    string         `json:"action"`
	Subject   string         `json:"subject"`
	SessionID string         `json:"session_id,omitempty"`
	Region    string         `json:"region"`
	Reason    string         `json:"reason,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SessionScoped reports whether the event targets one session rather than
// the whole account.
func (e RegionSyncEvent) SessionScoped() bool {
	switch e.Action {
	case SyncActionLogin, SyncActionLogout, SyncActionRefresh:
		return true
	}
	return false
}

// OutboxEvent is a domain event written in the same transaction as the
// principal mutation it describes, then published asynchronously.
type OutboxEvent struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Subject   string         `json:"subject"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Outbox event types emitted by the core.
const (
	EventTypeLoginSucceeded  = "auth.login.succeeded"
	EventTypeRegistered      = "auth.principal.registered"
	EventTypeProvisionedJIT  = "auth.principal.provisioned_jit"
	EventTypeAccountLocked   = "auth.account.locked"
	EventTypeAccountUnlocked = "auth.account.unlocked"
	EventTypePasswordChanged = "auth.password.changed"
)
