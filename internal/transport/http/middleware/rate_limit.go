package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	rateLimitProblemType  = "https://auth.mirastream.example.com/errors/rate-limit-exceeded"
	rateLimitProblemTitle = "Rate Limit Exceeded"
)

// RateLimitStore is the sliding-window persistence behind the limiter. The
// window is trimmed before counting so stale attempts never hold a limit open.
type RateLimitStore interface {
	TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error
	CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error)
	RecordAttempt(ctx context.Context, identifier string, at time.Time) error
	OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error)
}

// IdentifierFunc extracts the scope for a rule, typically the client IP for
// login and token endpoints. Returning false skips the rule for this request.
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule is one named sliding-window limit. Login and token exchange
// carry separate rules so a credential-stuffing burst against /login cannot
// starve legitimate refresh traffic.
type RateLimitRule struct {
	Name       string
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
}

// RateLimiter evaluates rules against a shared store. It fails open: when the
// store is unreachable the request proceeds and the failure is logged, since
// locking every caller out of authentication is worse than a brief gap in
// throttling.
type RateLimiter struct {
	store  RateLimitStore
	logger *zap.Logger
	now    func() time.Time
}

type ruleOutcome struct {
	rule       RateLimitRule
	allowed    bool
	limit      int
	remaining  int
	reset      time.Time
	retryAfter time.Duration
	identifier string
	storageKey string
}

// ProblemDetails is the RFC 9457 payload returned on a 429.
type ProblemDetails struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail"`
	Instance   string         `json:"instance"`
	RetryAfter int            `json:"retry_after"`
	TraceID    string         `json:"trace_id,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func NewRateLimiter(store RateLimitStore, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock allows injection of a custom clock (primarily for testing).
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// ClientIPIdentifier scopes a rule by the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		if ip == "" {
			return "", false
		}
		return ip, true
	}
}

// RateLimit returns a Gin middleware enforcing the provided rules. Rules with
// a missing identifier, zero limit, or zero window are dropped up front.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	active := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Identifier == nil || rule.Limit <= 0 || rule.Window <= 0 {
			continue
		}
		if rule.Name == "" {
			rule.Name = "default"
		}
		active = append(active, rule)
	}

	return func(c *gin.Context) {
		if len(active) == 0 || rl.store == nil {
			c.Next()
			return
		}

		now := rl.now()
		var tightest *ruleOutcome

		for _, rule := range active {
			identifier, ok := rule.Identifier(c)
			if !ok || identifier == "" {
				continue
			}

			key := fmt.Sprintf("%s:%s", rule.Name, identifier)
			outcome, err := rl.evaluate(c.Request.Context(), rule, identifier, key, now)
			if err != nil {
				rl.logger.Warn("rate limit check failed, allowing request",
					zap.String("rule", rule.Name),
					zap.String("identifier", identifier),
					zap.Error(err))
				continue
			}

			if tightest == nil || tighterThan(outcome, *tightest) {
				snapshot := outcome
				tightest = &snapshot
			}

			if !outcome.allowed {
				rl.writeHeaders(c, outcome)
				rl.reject(c, outcome)
				return
			}
		}

		// Headers reflect the most constrained rule so clients can back
		// off before tripping the limit.
		if tightest != nil {
			rl.writeHeaders(c, *tightest)
		}

		c.Next()
	}
}

func (rl *RateLimiter) evaluate(ctx context.Context, rule RateLimitRule, identifier, key string, now time.Time) (ruleOutcome, error) {
	if err := rl.store.TrimWindow(ctx, key, rule.Window, now); err != nil {
		return ruleOutcome{}, err
	}

	count, err := rl.store.CountAttempts(ctx, key, rule.Window, now)
	if err != nil {
		return ruleOutcome{}, err
	}

	oldest, hasAttempts, err := rl.store.OldestAttempt(ctx, key, rule.Window, now)
	if err != nil {
		return ruleOutcome{}, err
	}

	outcome := ruleOutcome{
		rule:       rule,
		limit:      rule.Limit,
		identifier: identifier,
		storageKey: key,
		reset:      now.Add(rule.Window),
		allowed:    true,
	}
	if hasAttempts {
		// The window slides with the oldest surviving attempt, not with
		// this request.
		outcome.reset = oldest.Add(rule.Window)
	}

	if count >= rule.Limit {
		outcome.allowed = false
		outcome.remaining = 0
		outcome.retryAfter = outcome.reset.Sub(now)
		if outcome.retryAfter < 0 {
			outcome.retryAfter = 0
		}
		return outcome, nil
	}

	// Blocked attempts are not recorded, so a flood cannot extend its own
	// penalty window.
	if err := rl.store.RecordAttempt(ctx, key, now); err != nil {
		return ruleOutcome{}, err
	}

	count++
	outcome.remaining = rule.Limit - count
	if outcome.remaining < 0 {
		outcome.remaining = 0
	}

	outcome.retryAfter = outcome.reset.Sub(now)
	if outcome.retryAfter < 0 {
		outcome.retryAfter = 0
	}

	if !hasAttempts {
		outcome.reset = now.Add(rule.Window)
	}

	return outcome, nil
}

// tighterThan reports whether candidate is more constrained than current:
// blocked beats allowed, then fewer remaining, then an earlier reset.
func tighterThan(candidate, current ruleOutcome) bool {
	if !candidate.allowed && current.allowed {
		return true
	}
	if candidate.allowed != current.allowed {
		return false
	}
	if candidate.remaining != current.remaining {
		return candidate.remaining < current.remaining
	}
	return candidate.reset.Before(current.reset)
}

func (rl *RateLimiter) writeHeaders(c *gin.Context, outcome ruleOutcome) {
	headers := c.Writer.Header()
	remaining := outcome.remaining
	if remaining < 0 {
		remaining = 0
	}
	headers.Set("X-RateLimit-Limit", strconv.Itoa(outcome.limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(outcome.reset.Unix(), 10))

	if !outcome.allowed {
		headers.Set("Retry-After", strconv.Itoa(retrySeconds(outcome.retryAfter)))
	}
}

func (rl *RateLimiter) reject(c *gin.Context, outcome ruleOutcome) {
	seconds := retrySeconds(outcome.retryAfter)

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      rateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     fmt.Sprintf("Too many requests. Try again in %d seconds.", seconds),
		Instance:   instance,
		RetryAfter: seconds,
		TraceID:    GetTraceID(c),
	})
}

func retrySeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 0 {
		return 0
	}
	return seconds
}
