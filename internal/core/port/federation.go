package port

import (
	"context"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
)

// DirectoryFederator is the external collaborator that turns directory
// credentials or SAML assertions into a verified principal. The core never
// parses LDAP or SAML wire formats.
type DirectoryFederator interface {
	Authenticate(ctx context.Context, directoryID, username, password string) (*domain.FederatedIdentity, error)
	ProcessAssertion(ctx context.Context, directoryID string, rawAssertion []byte) (*domain.FederatedIdentity, error)
}
