package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
	"github.com/mirastream/streaming-platform-auth/internal/infra/config"
)

const defaultGatewayTimeout = 5 * time.Second

// Gateway talks to the remote directory federation gateway, the component
// that owns LDAP binds and SAML assertion validation. This adapter only
// ships credentials or raw assertions over and decodes the normalized
// identity the gateway hands back.
type Gateway struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewGateway constructs a Gateway from configuration.
func NewGateway(cfg config.DirectorySettings, logger *zap.Logger) (*Gateway, error) {
	base := strings.TrimRight(cfg.GatewayURL, "/")
	if base == "" {
		return nil, fmt.Errorf("directory gateway URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse directory gateway URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gateway{
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

type authenticateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type assertionRequest struct {
	Assertion string `json:"assertion"`
}

type identityResponse struct {
	ID            string   `json:"id"`
	Email         string   `json:"email"`
	FirstName     string   `json:"first_name"`
	LastName      string   `json:"last_name"`
	Roles         []string `json:"roles"`
	EmailVerified bool     `json:"email_verified"`
	NewUser       bool     `json:"new_user"`
	Directory     string   `json:"directory"`
}

type gatewayError struct {
	Error string `json:"error"`
}

// Authenticate verifies directory credentials through the gateway.
func (g *Gateway) Authenticate(ctx context.Context, directoryID, username, password string) (*domain.FederatedIdentity, error) {
	endpoint := fmt.Sprintf("%s/directories/%s/authenticate", g.baseURL, url.PathEscape(directoryID))
	payload := authenticateRequest{Username: username, Password: password}
	return g.exchange(ctx, endpoint, payload)
}

// ProcessAssertion forwards a raw SAML assertion to the gateway for
// validation and identity extraction.
func (g *Gateway) ProcessAssertion(ctx context.Context, directoryID string, rawAssertion []byte) (*domain.FederatedIdentity, error) {
	endpoint := fmt.Sprintf("%s/directories/%s/assertions", g.baseURL, url.PathEscape(directoryID))
	payload := assertionRequest{Assertion: string(rawAssertion)}
	return g.exchange(ctx, endpoint, payload)
}

func (g *Gateway) exchange(ctx context.Context, endpoint string, payload any) (*domain.FederatedIdentity, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call directory gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var gwErr gatewayError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&gwErr); decodeErr == nil && gwErr.Error != "" {
			g.logger.Debug("directory gateway rejected request",
				zap.Int("status", resp.StatusCode),
				zap.String("error", gwErr.Error))
			return nil, fmt.Errorf("directory gateway: %s", gwErr.Error)
		}
		return nil, fmt.Errorf("directory gateway returned status %d", resp.StatusCode)
	}

	var identity identityResponse
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	if identity.ID == "" {
		return nil, fmt.Errorf("directory gateway returned identity without an ID")
	}

	return &domain.FederatedIdentity{
		Principal: domain.Principal{
			ID:            identity.ID,
			Email:         identity.Email,
			FirstName:     identity.FirstName,
			LastName:      identity.LastName,
			Roles:         identity.Roles,
			Active:        true,
			EmailVerified: identity.EmailVerified,
		},
		IsNewUser: identity.NewUser,
		Directory: identity.Directory,
	}, nil
}
