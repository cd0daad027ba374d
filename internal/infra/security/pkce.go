package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
)

// PKCE challenge methods accepted at the authorization endpoint.
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// ErrPKCEMismatch indicates the verifier does not match the stored challenge.
var ErrPKCEMismatch = errors.New("pkce: verifier does not match challenge")

// VerifyPKCE checks a code verifier against the challenge recorded at
// authorization time. S256 compares base64url(sha256(verifier)); plain
// compares the raw strings. Both paths are constant time.
func VerifyPKCE(verifier, challenge, method string) error {
	if verifier == "" || challenge == "" {
		return ErrPKCEMismatch
	}

	switch method {
	case PKCEMethodS256, "":
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
			return ErrPKCEMismatch
		}
		return nil
	case PKCEMethodPlain:
		if subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) != 1 {
			return ErrPKCEMismatch
		}
		return nil
	default:
		return fmt.Errorf("pkce: unsupported challenge method %q", method)
	}
}

// ComputeS256Challenge derives the S256 challenge for a verifier. Used by
// clients and tests; the server only ever verifies.
func ComputeS256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
