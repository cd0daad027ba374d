package domain

import "time"

// DeviceMetadata captures the device context a session was created from.
type DeviceMetadata struct {
	UserAgent  string `json:"user_agent,omitempty"`
	IP         string `json:"ip,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
}

// Session represents one logged-in device for a subject. Many sessions may
// exist per subject; each is terminated independently.
type Session struct {
	ID         string         `json:"id"`
	Subject    string         `json:"subject"`
	Device     DeviceMetadata `json:"device"`
	CreatedAt  time.Time      `json:"created_at"`
	LastUsedAt time.Time      `json:"last_used_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

// IsActive reports whether the session is still valid at the supplied moment.
func (s Session) IsActive(at time.Time) bool {
	return s.ExpiresAt.After(at)
}

// Touch updates last-used metadata when activity occurs.
func (s *Session) Touch(at time.Time) {
	s.LastUsedAt = at
}

// SessionPolicy is per-subject configuration, read-only to the core.
type SessionPolicy struct {
	MaxConcurrentSessions  int           `json:"max_concurrent_sessions"`
	SessionDuration        time.Duration `json:"session_duration"`
	InactivityTimeout      time.Duration `json:"inactivity_timeout"`
	AbsoluteSessionTimeout time.Duration `json:"absolute_session_timeout"`
	RequireMFAForExtension bool          `json:"require_mfa_for_extension"`
}
