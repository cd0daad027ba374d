package domain

import "time"

// RefreshTokenRecord is the durable side of a refresh token. Exactly one
// active record exists per token ID; rotation consumes the old record and
// creates a successor atomically.
type RefreshTokenRecord struct {
	TokenID   string         `json:"token_id"`
	Subject   string         `json:"subject"`
	SessionID string         `json:"session_id,omitempty"`
	IssuedAt  time.Time      `json:"issued_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	Revoked   bool           `json:"revoked"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// IsExpired reports whether the record has elapsed its validity window.
func (r RefreshTokenRecord) IsExpired(at time.Time) bool {
	return !r.ExpiresAt.After(at)
}

// BlacklistEntry rejects a token ahead of its natural expiry. Entries are
// self-expiring; the store drops them once the underlying token would have
// expired anyway.
type BlacklistEntry struct {
	TokenHash string
	Reason    string
	ExpiresAt time.Time
}

// TokenPair bundles a freshly minted access/refresh pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	TokenType    string
}
