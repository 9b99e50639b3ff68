// Package retry implements the exponential-backoff retry policy with a
// fail-fast circuit breaker used to wrap every remote operation (writes,
// reads, range scans, and the reconnect loop).
package retry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hpkv-io/multiplayer-go/internal/coretypes"
)

// Config tunes a Policy. Zero-value Config is invalid; use DefaultConfig.
type Config struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	// MaxElapsedTime bounds a single Do call's total retry time; zero means
	// unbounded (only the circuit breaker and ctx cancellation stop it).
	MaxElapsedTime time.Duration
	// BreakerThreshold is the number of consecutive failures after which
	// the circuit opens and Do fails fast without attempting the operation.
	BreakerThreshold int
	// BreakerCooldown is how long the breaker stays open before allowing a
	// single trial call through (half-open).
	BreakerCooldown time.Duration
}

// DefaultConfig is a conservative reconnect backoff: 1s to 60s, 2x
// multiplier, 20% jitter.
func DefaultConfig() Config {
	return Config{
		InitialInterval:     1 * time.Second,
		MaxInterval:         60 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.2,
		BreakerThreshold:    5,
		BreakerCooldown:     30 * time.Second,
	}
}

// Policy wraps backoff.ExponentialBackOff with a consecutive-failure
// circuit breaker. A Policy is safe for concurrent use by multiple
// operations that share a failure budget (e.g. all writes to one
// namespace); construct one Policy per RemoteStore.
type Policy struct {
	cfg Config

	mu               sync.Mutex
	consecutiveFails int
	breakerOpenUntil time.Time
}

// New returns a Policy. A zero Config.BreakerThreshold disables the
// circuit breaker (retries forever, subject to ctx and MaxElapsedTime).
func New(cfg Config) *Policy {
	return &Policy{cfg: cfg}
}

func (p *Policy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialInterval
	b.MaxInterval = p.cfg.MaxInterval
	b.Multiplier = p.cfg.Multiplier
	b.RandomizationFactor = p.cfg.RandomizationFactor
	b.Reset()
	return b
}

// breakerOpen reports whether the circuit is currently open. Once the
// cooldown has elapsed, the first caller is let through as the trial
// call and the breaker stays open for everyone else for another cooldown.
func (p *Policy) breakerOpen(now time.Time) bool {
	if p.cfg.BreakerThreshold <= 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consecutiveFails < p.cfg.BreakerThreshold {
		return false
	}
	if now.After(p.breakerOpenUntil) {
		// Cooldown elapsed: allow one trial through without closing the
		// breaker yet. The breaker only closes on that trial's success.
		p.breakerOpenUntil = now.Add(p.cfg.BreakerCooldown)
		return false
	}
	return true
}

func (p *Policy) recordFailure(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveFails++
	if p.cfg.BreakerThreshold > 0 && p.consecutiveFails >= p.cfg.BreakerThreshold {
		p.breakerOpenUntil = now.Add(p.cfg.BreakerCooldown)
	}
}

func (p *Policy) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveFails = 0
	p.breakerOpenUntil = time.Time{}
}

// permanentError marks an error the caller knows is not transient (e.g. an
// authentication rejection): Do returns its cause immediately instead of
// retrying.
type permanentError struct{ cause error }

func (e *permanentError) Error() string { return e.cause.Error() }
func (e *permanentError) Unwrap() error { return e.cause }

// Permanent wraps err so Do stops retrying and returns the cause directly.
func Permanent(err error) error {
	return &permanentError{cause: err}
}

// Do runs fn, retrying on error with exponential backoff until it
// succeeds, ctx is cancelled, fn returns a Permanent error, or the
// circuit breaker is open. op names the operation, used in errors.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if p.breakerOpen(time.Now()) {
		return &coretypes.CircuitBreakerError{Op: op}
	}

	bo := p.newBackOff()
	attempt := 0
	deadline := time.Time{}
	if p.cfg.MaxElapsedTime > 0 {
		deadline = time.Now().Add(p.cfg.MaxElapsedTime)
	}

	for {
		attempt++
		err := fn(ctx)
		if err == nil {
			p.recordSuccess()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			p.recordFailure(time.Now())
			return perm.cause
		}

		p.recordFailure(time.Now())
		if p.breakerOpen(time.Now()) {
			return &coretypes.CircuitBreakerError{Op: op}
		}

		next := bo.NextBackOff()
		if !deadline.IsZero() && time.Now().Add(next).After(deadline) {
			return &coretypes.RetryableError{Cause: err, Attempt: attempt}
		}

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Reset clears the consecutive-failure count and closes the breaker,
// called once a connection attempt succeeds.
func (p *Policy) Reset() {
	p.recordSuccess()
}
