package scraper

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"pricebasket/config"
)

// RetryPolicy retries transient fetch failures with increasing backoff.
// One policy instance is shared by every fetch in an adapter so all sites
// degrade the same way.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
}

func PolicyFromConfig(cfg *config.SourceConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    cfg.MaxRetries,
		InitialDelay:  time.Duration(cfg.RetryDelayMS) * time.Millisecond,
		BackoffFactor: cfg.BackoffFactor,
	}
}

// Do runs op up to MaxRetries times. The context cancels the wait between
// attempts, not a running op; ops take the context themselves.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	maxAttempts := p.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	delay := p.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == maxAttempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = time.Duration(float64(delay) * p.BackoffFactor)
	}

	return fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}

// NewPacer builds the self-imposed request throttle for a source. Applied
// before every request and between pages, independent of retries.
func NewPacer(rateLimitMS int) *rate.Limiter {
	if rateLimitMS <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Duration(rateLimitMS)*time.Millisecond), 1)
}
