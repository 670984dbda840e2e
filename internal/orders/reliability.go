package orders

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"bazaar/internal/market"
	"bazaar/internal/realtime"
)

// ErrCircuitOpen is returned while a collaborator's breaker refuses calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Retryable is the default retry classification for cart and notification
// calls. Caller cancellation, an open breaker, a stopped websocket hub and
// store answers that will not change on a second attempt are final.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrCircuitOpen),
		errors.Is(err, realtime.ErrHubStopped),
		errors.Is(err, market.ErrNotFound),
		errors.Is(err, market.ErrDuplicate):
		return false
	}
	return true
}

// RetryPolicy retries a side-effect call with capped exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      func(time.Duration) time.Duration
	Sleep       func(context.Context, time.Duration) error
	// ShouldRetry defaults to Retryable.
	ShouldRetry func(error) bool
}

// Do runs fn until it succeeds, returns a final error, attempts run out or
// ctx ends.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	attempts := max(p.MaxAttempts, 1)
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = Retryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts || !shouldRetry(err) {
			break
		}
		if wait := p.backoff(attempt); wait > 0 {
			if sleepErr := sleep(ctx, wait); sleepErr != nil {
				return sleepErr
			}
		}
	}
	return err
}

// backoff is the wait after the given failed attempt.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	wait := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && (wait > p.MaxDelay || wait <= 0) {
		wait = p.MaxDelay
	}
	jitter := p.Jitter
	if jitter == nil {
		jitter = defaultJitter
	}
	return jitter(wait)
}

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
	Now          func() time.Time
	// CountsAsFailure decides which errors trip the breaker. By default a
	// caller cancelling its own request does not.
	CountsAsFailure func(error) bool
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// CircuitBreaker stops calling a collaborator after MaxFailures consecutive
// failures and lets a single trial call through once ResetTimeout passes.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    circuitState
	failures int
	openedAt time.Time
	trial    bool
}

// NewCircuitBreaker constructs a closed breaker, filling unset config fields.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.MaxFailures = max(cfg.MaxFailures, 1)
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 2 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.CountsAsFailure == nil {
		cfg.CountsAsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute runs fn unless the breaker is open.
func (c *CircuitBreaker) Execute(fn func() error) error {
	if c == nil {
		return fn()
	}
	now := c.cfg.Now()
	if !c.admit(now) {
		return ErrCircuitOpen
	}
	err := fn()
	c.record(now, err)
	return err
}

func (c *CircuitBreaker) admit(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case circuitOpen:
		if now.Sub(c.openedAt) < c.cfg.ResetTimeout {
			return false
		}
		c.state = circuitHalfOpen
	case circuitHalfOpen:
		if c.trial {
			return false
		}
	}
	if c.state == circuitHalfOpen {
		c.trial = true
	}
	return true
}

func (c *CircuitBreaker) record(now time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	trial := c.state == circuitHalfOpen
	c.trial = false

	switch {
	case err == nil:
		c.state, c.failures = circuitClosed, 0
	case !c.cfg.CountsAsFailure(err):
		if trial {
			c.state = circuitOpen
		}
	case trial:
		c.state, c.openedAt, c.failures = circuitOpen, now, 0
	default:
		c.failures++
		if c.failures >= c.cfg.MaxFailures {
			c.state, c.openedAt = circuitOpen, now
		}
	}
}

// RateLimiter is a token bucket refilling one token every rate, up to burst.
type RateLimiter struct {
	mu    sync.Mutex
	rate  time.Duration
	burst int
	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	tokens int
	last   time.Time
}

// NewRateLimiter constructs a full bucket. A non-positive rate or burst
// disables limiting.
func NewRateLimiter(rate time.Duration, burst int) *RateLimiter {
	return &RateLimiter{
		rate:   rate,
		burst:  burst,
		now:    time.Now,
		sleep:  sleepWithContext,
		tokens: burst,
		last:   time.Now(),
	}
}

// Wait takes a token, sleeping until one is available or ctx ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if r == nil || r.rate <= 0 || r.burst <= 0 {
		return ctx.Err()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait, ok := r.take()
		if ok {
			return nil
		}
		if wait <= 0 {
			continue
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// take consumes a token or reports how long until the next refill.
func (r *RateLimiter) take() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if elapsed := now.Sub(r.last); elapsed >= r.rate {
		refills := int(elapsed / r.rate)
		r.tokens = min(r.tokens+refills, r.burst)
		r.last = r.last.Add(time.Duration(refills) * r.rate)
	}
	if r.tokens > 0 {
		r.tokens--
		return 0, true
	}
	return r.rate - now.Sub(r.last), false
}

// Controls bundles the limiter, breaker and retry policy guarding one
// best-effort collaborator.
type Controls struct {
	Limiter *RateLimiter
	Breaker *CircuitBreaker
	Retry   RetryPolicy
}

func (c Controls) do(ctx context.Context, fn func() error) error {
	return c.Retry.Do(ctx, func() error {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		return c.Breaker.Execute(fn)
	})
}

// ReliableNotifier guards a NotificationSink with Controls.
type ReliableNotifier struct {
	base     market.NotificationSink
	controls Controls
}

func NewReliableNotifier(base market.NotificationSink, controls Controls) *ReliableNotifier {
	return &ReliableNotifier{base: base, controls: controls}
}

func (n *ReliableNotifier) Notify(ctx context.Context, recipientID string, event market.Event) error {
	return n.controls.do(ctx, func() error {
		return n.base.Notify(ctx, recipientID, event)
	})
}

// ReliableCart guards a CartStore with Controls.
type ReliableCart struct {
	base     market.CartStore
	controls Controls
}

func NewReliableCart(base market.CartStore, controls Controls) *ReliableCart {
	return &ReliableCart{base: base, controls: controls}
}

func (c *ReliableCart) Remove(ctx context.Context, userID, productID string) error {
	return c.controls.do(ctx, func() error {
		return c.base.Remove(ctx, userID, productID)
	})
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// defaultJitter picks a wait in [d/2, d].
func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
