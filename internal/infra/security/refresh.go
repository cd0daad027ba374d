package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RefreshTokenClaims carry only the subject and an opaque token id; all
// other refresh state lives server-side keyed by that id.
type RefreshTokenClaims struct {
	RefreshTokenID string `json:"refreshTokenId"`
	jwt.RegisteredClaims
}

// RefreshSigner signs and verifies refresh tokens with HS256 under a
// secret independent from the access token signing keys, so a compromise
// of one class never forges the other.
type RefreshSigner struct {
	secret []byte
	issuer string
}

// NewRefreshSigner constructs a signer for the supplied secret.
func NewRefreshSigner(secret, issuer string) (*RefreshSigner, error) {
	if len(secret) < 32 {
		return nil, errors.New("refresh: secret must be at least 32 bytes")
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, errors.New("refresh: issuer is required")
	}
	return &RefreshSigner{secret: []byte(secret), issuer: issuer}, nil
}

// Sign produces a refresh token for the subject and token id.
func (s *RefreshSigner) Sign(subject, tokenID string, issuedAt time.Time, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("refresh: subject is required")
	}
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return "", errors.New("refresh: token id is required")
	}
	if ttl <= 0 {
		return "", errors.New("refresh: ttl must be positive")
	}

	issuedAt = issuedAt.UTC()
	claims := &RefreshTokenClaims{
		RefreshTokenID: tokenID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("refresh: sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature and expiry of a refresh token.
func (s *RefreshSigner) Parse(raw string) (*RefreshTokenClaims, error) {
	claims := &RefreshTokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.RefreshTokenID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
