package worker

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryStrategy defines exponential backoff retry logic
type RetryStrategy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Jitter      bool
}

// NewRetryStrategy creates a RetryStrategy with 3 attempts backing off 1s, 2s
func NewRetryStrategy() *RetryStrategy {
	return &RetryStrategy{
		MaxAttempts: 3,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  8 * time.Second,
		Jitter:      true,
	}
}

// CalculateBackoff returns the wait before the given attempt (1-based): base * 2^(n-1), capped
func (s *RetryStrategy) CalculateBackoff(attemptNumber int) time.Duration {
	if attemptNumber <= 0 {
		return s.BaseBackoff
	}

	multiplier := math.Pow(2, float64(attemptNumber-1))
	backoff := time.Duration(multiplier) * s.BaseBackoff
	if backoff > s.MaxBackoff {
		backoff = s.MaxBackoff
	}

	// +/-10%
	if s.Jitter {
		jitterRange := backoff / 10
		if jitterRange > 0 {
			jitter := time.Duration(rand.Int63n(int64(jitterRange*2))) - jitterRange
			backoff += jitter
			if backoff < s.BaseBackoff {
				backoff = s.BaseBackoff
			}
		}
	}

	return backoff
}

// Do runs fn until it succeeds, attempts run out or ctx ends. It returns the last error.
func (s *RetryStrategy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(s.CalculateBackoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}
