package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
	"github.com/mirastream/streaming-platform-auth/internal/core/port"
)

// ErrFederationRejected indicates the directory did not verify the identity.
var ErrFederationRejected = errors.New("directory authentication failed")

// FederationService logs principals in through an external directory
// (LDAP bind or SAML assertion). The adapter hands back a normalized
// identity; new users are provisioned just-in-time with their event in
// the same transaction, then the flow proceeds like any other login.
type FederationService struct {
	federator  port.DirectoryFederator
	principals port.PrincipalDirectory
	issuer     *IssuerService
	sessions   *SessionService
	sync       port.RegionSyncPublisher
	audit      port.AuditLogger
	logger     *zap.Logger
	now        func() time.Time
}

// NewFederationService constructs a FederationService instance.
func NewFederationService(
	federator port.DirectoryFederator,
	principals port.PrincipalDirectory,
	issuer *IssuerService,
	sessions *SessionService,
	syncPublisher port.RegionSyncPublisher,
	audit port.AuditLogger,
	logger *zap.Logger,
) *FederationService {
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &FederationService{
		federator:  federator,
		principals: principals,
		issuer:     issuer,
		sessions:   sessions,
		sync:       syncPublisher,
		audit:      audit,
		logger:     logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *FederationService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// LoginWithDirectory authenticates against an LDAP-style directory.
func (s *FederationService) LoginWithDirectory(ctx context.Context, directoryID, username, password string, device domain.DeviceMetadata) (*LoginResult, error) {
	identity, err := s.federator.Authenticate(ctx, directoryID, username, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFederationRejected, err)
	}
	return s.completeLogin(ctx, identity, device)
}

// LoginWithAssertion authenticates with a SAML assertion. The adapter
// owns parsing; only the normalized result reaches the core.
func (s *FederationService) LoginWithAssertion(ctx context.Context, directoryID string, rawAssertion []byte, device domain.DeviceMetadata) (*LoginResult, error) {
	identity, err := s.federator.ProcessAssertion(ctx, directoryID, rawAssertion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFederationRejected, err)
	}
	return s.completeLogin(ctx, identity, device)
}

func (s *FederationService) completeLogin(ctx context.Context, identity *domain.FederatedIdentity, device domain.DeviceMetadata) (*LoginResult, error) {
	if identity == nil {
		return nil, ErrFederationRejected
	}

	principal := identity.Principal
	now := s.now()

	if identity.IsNewUser {
		event := domain.OutboxEvent{
			ID:        uuid.NewString(),
			EventType: domain.EventTypeProvisionedJIT,
			Subject:   principal.ID,
			Payload:   map[string]any{"directory": identity.Directory, "email": principal.Email},
			CreatedAt: now,
		}
		if err := s.principals.Create(ctx, principal, event); err != nil {
			return nil, fmt.Errorf("provision principal: %w", err)
		}
		s.recordAudit(ctx, port.AuditEntry{
			Action:  "principal.provisioned_jit",
			Subject: principal.ID,
			Reason:  identity.Directory,
			At:      now,
		})
	}

	if !principal.Active {
		return nil, ErrAccountInactive
	}
	if principal.IsLocked(now) {
		return nil, ErrAccountLocked
	}

	session, err := s.sessions.CreateSession(ctx, principal.ID, device)
	if err != nil {
		return nil, err
	}

	pair, err := s.issuer.Issue(ctx, principal, session.ID)
	if err != nil {
		return nil, err
	}

	if s.sync != nil {
		if err := s.sync.NotifyLogin(ctx, principal.ID, session.ID); err != nil {
			s.logger.Warn("notify federated login", zap.Error(err))
		}
	}
	s.recordAudit(ctx, port.AuditEntry{
		Action:    "login.federated",
		Subject:   principal.ID,
		SessionID: session.ID,
		Reason:    identity.Directory,
		IP:        device.IP,
		At:        now,
	})

	return &LoginResult{
		Principal: principal.Sanitized(),
		Session:   *session,
		Tokens:    *pair,
	}, nil
}

func (s *FederationService) recordAudit(ctx context.Context, entry port.AuditEntry) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, entry)
}
