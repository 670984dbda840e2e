package orders

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ReliabilityConfig tunes the controls around one outbound collaborator.
type ReliabilityConfig struct {
	RetryMaxAttempts    int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
	RateLimitInterval   time.Duration
	RateLimitBurst      int
}

// DefaultReliabilityConfig is used for any variable left unset.
func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		RetryMaxAttempts:    3,
		RetryBaseDelay:      50 * time.Millisecond,
		RetryMaxDelay:       500 * time.Millisecond,
		BreakerMaxFailures:  5,
		BreakerResetTimeout: 5 * time.Second,
		RateLimitInterval:   time.Millisecond,
		RateLimitBurst:      200,
	}
}

// LoadReliabilityConfig reads PREFIX_RETRY_MAX_ATTEMPTS and friends,
// falling back to the defaults for unset variables.
func LoadReliabilityConfig(prefix string) (ReliabilityConfig, error) {
	cfg := DefaultReliabilityConfig()
	var err error

	if cfg.RetryMaxAttempts, err = parseInt(prefix+"_RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts); err != nil {
		return cfg, err
	}
	if cfg.RetryBaseDelay, err = parseDuration(prefix+"_RETRY_BASE_DELAY", cfg.RetryBaseDelay); err != nil {
		return cfg, err
	}
	if cfg.RetryMaxDelay, err = parseDuration(prefix+"_RETRY_MAX_DELAY", cfg.RetryMaxDelay); err != nil {
		return cfg, err
	}
	if cfg.BreakerMaxFailures, err = parseInt(prefix+"_BREAKER_MAX_FAILURES", cfg.BreakerMaxFailures); err != nil {
		return cfg, err
	}
	if cfg.BreakerResetTimeout, err = parseDuration(prefix+"_BREAKER_RESET_TIMEOUT", cfg.BreakerResetTimeout); err != nil {
		return cfg, err
	}
	if cfg.RateLimitInterval, err = parseDuration(prefix+"_RATE_LIMIT_INTERVAL", cfg.RateLimitInterval); err != nil {
		return cfg, err
	}
	if cfg.RateLimitBurst, err = parseInt(prefix+"_RATE_LIMIT_BURST", cfg.RateLimitBurst); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Controls builds the limiter, breaker and retry policy for this config.
func (c ReliabilityConfig) Controls() Controls {
	return Controls{
		Limiter: NewRateLimiter(c.RateLimitInterval, c.RateLimitBurst),
		Breaker: NewCircuitBreaker(CircuitBreakerConfig{
			MaxFailures:  c.BreakerMaxFailures,
			ResetTimeout: c.BreakerResetTimeout,
		}),
		Retry: RetryPolicy{
			MaxAttempts: c.RetryMaxAttempts,
			BaseDelay:   c.RetryBaseDelay,
			MaxDelay:    c.RetryMaxDelay,
		},
	}
}

func parseDuration(name string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, errors.New(name + " must be >= 0")
	}
	return val, nil
}

func parseInt(name string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, errors.New(name + " must be >= 0")
	}
	return val, nil
}
