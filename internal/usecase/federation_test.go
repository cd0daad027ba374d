package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
)

type federationFixture struct {
	service    *FederationService
	principals *memPrincipals
	audit      *recordingAudit
	syncPub    *recordingSync
}

func newFederationFixture(t *testing.T, federator *stubFederator, principals *memPrincipals) *federationFixture {
	t.Helper()

	cfg := testConfig()
	syncPub := &recordingSync{}
	audit := &recordingAudit{}

	issuer := newTestIssuer(t, cfg, newMemTokenStore(), newMemBlacklist(), principals, syncPub)
	sessions := NewSessionService(newMemSessionStore(), NewPolicyProviderFromConfig(cfg), audit, nil)
	service := NewFederationService(federator, principals, issuer, sessions, syncPub, audit, nil)

	return &federationFixture{service: service, principals: principals, audit: audit, syncPub: syncPub}
}

func federatedPrincipal() domain.Principal {
	return domain.Principal{
		ID:     "fed-1",
		Email:  "employee@corp.example.com",
		Roles:  []string{"viewer"},
		Active: true,
	}
}

func TestDirectoryLoginProvisionsNewUser(t *testing.T) {
	federator := &stubFederator{identity: &domain.FederatedIdentity{
		Principal: federatedPrincipal(),
		IsNewUser: true,
		Directory: "corp-ldap",
	}}
	fixture := newFederationFixture(t, federator, newMemPrincipals())

	result, err := fixture.service.LoginWithDirectory(context.Background(), "corp-ldap", "employee", "secret", domain.DeviceMetadata{})
	if err != nil {
		t.Fatalf("LoginWithDirectory: %v", err)
	}
	if result.Tokens.AccessToken == "" {
		t.Error("no access token issued")
	}

	// The principal was provisioned with its event in one transaction.
	if _, err := fixture.principals.GetByID(context.Background(), "fed-1"); err != nil {
		t.Fatalf("provisioned principal missing: %v", err)
	}
	events := fixture.principals.recordedEvents()
	if len(events) != 1 || events[0].EventType != domain.EventTypeProvisionedJIT {
		t.Fatalf("outbox events = %+v", events)
	}
	if events[0].Payload["directory"] != "corp-ldap" {
		t.Errorf("event payload = %v", events[0].Payload)
	}

	foundProvisioned := false
	for _, entry := range fixture.audit.recorded() {
		if entry.Action == "principal.provisioned_jit" && entry.Subject == "fed-1" {
			foundProvisioned = true
		}
	}
	if !foundProvisioned {
		t.Error("provisioning was not audited")
	}
}

func TestDirectoryLoginExistingUserSkipsProvisioning(t *testing.T) {
	federator := &stubFederator{identity: &domain.FederatedIdentity{
		Principal: federatedPrincipal(),
		Directory: "corp-ldap",
	}}
	fixture := newFederationFixture(t, federator, newMemPrincipals(federatedPrincipal()))

	if _, err := fixture.service.LoginWithDirectory(context.Background(), "corp-ldap", "employee", "secret", domain.DeviceMetadata{}); err != nil {
		t.Fatalf("LoginWithDirectory: %v", err)
	}

	if len(fixture.principals.recordedEvents()) != 0 {
		t.Error("existing user triggered a provisioning event")
	}
}

func TestDirectoryLoginRejection(t *testing.T) {
	federator := &stubFederator{err: errors.New("bind failed")}
	fixture := newFederationFixture(t, federator, newMemPrincipals())

	if _, err := fixture.service.LoginWithDirectory(context.Background(), "corp-ldap", "employee", "wrong", domain.DeviceMetadata{}); !errors.Is(err, ErrFederationRejected) {
		t.Fatalf("err = %v, want ErrFederationRejected", err)
	}
}

func TestAssertionLoginInactiveAccount(t *testing.T) {
	principal := federatedPrincipal()
	principal.Active = false
	federator := &stubFederator{identity: &domain.FederatedIdentity{
		Principal: principal,
		Directory: "corp-saml",
	}}
	fixture := newFederationFixture(t, federator, newMemPrincipals(principal))

	if _, err := fixture.service.LoginWithAssertion(context.Background(), "corp-saml", []byte("<assertion/>"), domain.DeviceMetadata{}); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("err = %v, want ErrAccountInactive", err)
	}
}

func TestAssertionLoginNotifiesPeers(t *testing.T) {
	federator := &stubFederator{identity: &domain.FederatedIdentity{
		Principal: federatedPrincipal(),
		Directory: "corp-saml",
	}}
	fixture := newFederationFixture(t, federator, newMemPrincipals(federatedPrincipal()))

	result, err := fixture.service.LoginWithAssertion(context.Background(), "corp-saml", []byte("<assertion/>"), domain.DeviceMetadata{})
	if err != nil {
		t.Fatalf("LoginWithAssertion: %v", err)
	}

	calls := fixture.syncPub.recorded()
	if len(calls) != 1 || calls[0] != "login:fed-1:"+result.Session.ID {
		t.Errorf("sync calls = %v", calls)
	}
}
