package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/mirastream/streaming-platform-auth/internal/core/port"
)

// StubPublisher logs sync notifications instead of producing them. Used
// when no brokers are configured, typically in local development.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a logging-only publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) log(action, subject, sessionID, reason string) {
	p.logger.Info("region sync notification (stub)",
		zap.String("action", action),
		zap.String("subject", subject),
		zap.String("session_id", sessionID),
		zap.String("reason", reason),
	)
}

func (p *StubPublisher) NotifyLogin(_ context.Context, subject, sessionID string) error {
	p.log("login", subject, sessionID, "")
	return nil
}

func (p *StubPublisher) NotifyLogout(_ context.Context, subject, sessionID string) error {
	p.log("logout", subject, sessionID, "")
	return nil
}

func (p *StubPublisher) NotifyTokenRefresh(_ context.Context, subject, sessionID string) error {
	p.log("refresh", subject, sessionID, "")
	return nil
}

func (p *StubPublisher) NotifyAccountLocked(_ context.Context, subject, reason string) error {
	p.log("lock", subject, "", reason)
	return nil
}

func (p *StubPublisher) NotifyAccountUnlocked(_ context.Context, subject, reason string) error {
	p.log("unlock", subject, "", reason)
	return nil
}

func (p *StubPublisher) NotifyPasswordChange(_ context.Context, subject string) error {
	p.log("password_change", subject, "", "")
	return nil
}

var _ port.RegionSyncPublisher = (*StubPublisher)(nil)
