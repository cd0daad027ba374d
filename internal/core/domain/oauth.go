package domain

import "time"

// AuthorizationCode is a single-use artifact of the authorization-code flow.
// It moves ISSUED -> CONSUMED (terminal) or ISSUED -> EXPIRED (terminal);
// a code never re-enters ISSUED.
type AuthorizationCode struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	Subject             string    `json:"subject"`
	Scope               []string  `json:"scope"`
	RedirectURI         string    `json:"redirect_uri"`
	Nonce               string    `json:"nonce,omitempty"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	IssuedAt            time.Time `json:"issued_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// IsExpired reports whether the code can no longer be exchanged.
func (c AuthorizationCode) IsExpired(at time.Time) bool {
	return !c.ExpiresAt.After(at)
}

// Client records registered OAuth client metadata. Static configuration,
// read-only to the engine.
type Client struct {
	ClientID     string
	RedirectURIs []string
	Public       bool
	SecretHash   string
}

// ValidRedirect reports whether the supplied URI is in the registered set.
func (c Client) ValidRedirect(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}
