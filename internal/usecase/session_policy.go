package usecase

import (
	"context"
	"sync"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
	"github.com/mirastream/streaming-platform-auth/internal/core/port"
	"github.com/mirastream/streaming-platform-auth/internal/infra/config"
)

// StaticPolicyProvider resolves session policies from configuration with
// optional per-subject overrides. Policies are read-only to the core.
type StaticPolicyProvider struct {
	base      domain.SessionPolicy
	mu        sync.RWMutex
	overrides map[string]domain.SessionPolicy
}

// NewStaticPolicyProvider builds a provider serving the supplied default policy.
func NewStaticPolicyProvider(base domain.SessionPolicy) *StaticPolicyProvider {
	return &StaticPolicyProvider{
		base:      base,
		overrides: make(map[string]domain.SessionPolicy),
	}
}

// NewPolicyProviderFromConfig derives the default policy from app settings.
func NewPolicyProviderFromConfig(cfg *config.AppConfig) *StaticPolicyProvider {
	return NewStaticPolicyProvider(domain.SessionPolicy{
		MaxConcurrentSessions:  cfg.Session.MaxConcurrent,
		SessionDuration:        cfg.Session.Duration,
		InactivityTimeout:      cfg.Session.InactivityTimeout,
		AbsoluteSessionTimeout: cfg.Session.AbsoluteTimeout,
	})
}

// SetOverride installs a subject-specific policy.
func (p *StaticPolicyProvider) SetOverride(subject string, policy domain.SessionPolicy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overrides[subject] = policy
}

// PolicyFor returns the subject's override when present, the base otherwise.
func (p *StaticPolicyProvider) PolicyFor(_ context.Context, subject string) (domain.SessionPolicy, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if policy, ok := p.overrides[subject]; ok {
		return policy, nil
	}
	return p.base, nil
}

var _ port.SessionPolicyProvider = (*StaticPolicyProvider)(nil)
