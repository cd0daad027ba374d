package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mirastream/streaming-platform-auth/internal/infra/config"
)

// Provider holds the Prometheus instruments the transport layer records.
type Provider struct {
	requestCounter prometheus.Counter
	loginCounter   *prometheus.CounterVec
	rotations      *prometheus.CounterVec
	activeSessions prometheus.Gauge
}

// Attach registers the service metrics and returns a provider handle.
func Attach(_ context.Context, cfg *config.AppConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	return &Provider{
		requestCounter: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}),
		loginCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by outcome",
		}, []string{"outcome"}),
		rotations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "token_rotations_total",
			Help:      "Refresh token rotations by outcome",
		}, []string{"outcome"}),
		activeSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "auth",
			Name:      "active_sessions",
			Help:      "Sessions currently tracked",
		}),
	}, nil
}

// RequestCounter exposes the HTTP request metric.
func (p *Provider) RequestCounter() prometheus.Counter {
	if p == nil {
		return prometheus.NewCounter(prometheus.CounterOpts{})
	}
	return p.requestCounter
}

// RecordLogin counts a login attempt. Outcome is one of success, failure,
// locked.
func (p *Provider) RecordLogin(outcome string) {
	if p == nil {
		return
	}
	p.loginCounter.WithLabelValues(outcome).Inc()
}

// RecordRotation counts a refresh rotation. Outcome is one of success,
// reuse, expired, invalid.
func (p *Provider) RecordRotation(outcome string) {
	if p == nil {
		return
	}
	p.rotations.WithLabelValues(outcome).Inc()
}

// SetActiveSessions sets the tracked session gauge.
func (p *Provider) SetActiveSessions(n float64) {
	if p == nil {
		return
	}
	p.activeSessions.Set(n)
}
