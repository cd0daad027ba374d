package domain

import "time"

// Principal mirrors the persisted representation in the principals table.
// It is owned by the identity store; everything else references it by ID.
type Principal struct {
	ID             string
	Email          string
	FirstName      string
	LastName       string
	PasswordHash   string
	Roles          []string
	Active         bool
	EmailVerified  bool
	FailedAttempts int
	LockUntil      *time.Time
	CreatedAt      time.Time
	LastLogin      *time.Time
}

// IsLocked reports whether the account lockout window is still in effect.
func (p Principal) IsLocked(at time.Time) bool {
	return p.LockUntil != nil && p.LockUntil.After(at)
}

// HasRole reports whether the principal carries the supplied role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Sanitized returns a copy safe to hand to transport layers.
func (p Principal) Sanitized() Principal {
	copied := p
	copied.PasswordHash = ""
	return copied
}

// FederatedIdentity is the normalized result handed back by a directory
// federation adapter (LDAP bind or SAML assertion processing). The core
// never sees the wire protocol, only this.
type FederatedIdentity struct {
	Principal Principal
	IsNewUser bool
	Directory string
}
