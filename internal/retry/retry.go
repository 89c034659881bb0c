// Package retry decides whether a failed attempt is repeated and how long to wait before it.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/apierrors"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/models"
)

const (
	DefaultMaxRetries int           = 3
	DefaultBaseDelay  time.Duration = time.Second
	DefaultMaxDelay   time.Duration = 30 * time.Second
)

type Decision struct {
	Retry bool
	Delay time.Duration
}

// Policy retries transient failures with exponential backoff
type Policy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// ShouldRetry is called after attempt number attemptCount (zero based) failed with the given kind.
func (p *Policy) ShouldRetry(d models.RequestDescriptor, kind apierrors.Kind, attemptCount int) Decision {
	if kind != apierrors.KindTransient || !d.RetryEligible {
		return Decision{}
	}
	if attemptCount >= p.maxRetries {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.Delay(attemptCount)}
}

// Delay is BaseDelay * 2^attemptCount, capped at MaxDelay
func (p *Policy) Delay(attemptCount int) time.Duration {
	if attemptCount < 0 {
		attemptCount = 0
	}
	delay := p.baseDelay
	for i := 0; i < attemptCount; i++ {
		delay *= 2
		if p.maxDelay > 0 && delay >= p.maxDelay {
			return p.maxDelay
		}
	}
	if p.maxDelay > 0 && delay > p.maxDelay {
		return p.maxDelay
	}
	return delay
}

func (p *Policy) MaxRetries() int {
	return p.maxRetries
}

// Exhausted wraps the last transient failure once no retries remain
func Exhausted(last *apierrors.ClassifiedError) *apierrors.ClassifiedError {
	return &apierrors.ClassifiedError{
		Kind:     apierrors.KindPermanent,
		Status:   last.Status,
		Method:   last.Method,
		Target:   last.Target,
		Attempts: last.Attempts,
		Message:  fmt.Sprintf("giving up after %d attempts", last.Attempts),
		Err:      last,
	}
}

// SleepFunc waits for the duration or until the context is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the SleepFunc used outside of tests
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

type PolicyOption func(*Policy) error

func WithMaxRetries(maxRetries int) PolicyOption {
	return func(p *Policy) error {
		if maxRetries < 0 {
			return fmt.Errorf("the number of retries cannot be negative, got %d", maxRetries)
		}
		p.maxRetries = maxRetries
		return nil
	}
}

func WithBaseDelay(delay time.Duration) PolicyOption {
	return func(p *Policy) error {
		if delay <= 0 {
			return fmt.Errorf("the base retry delay has to be positive, got %s", delay)
		}
		p.baseDelay = delay
		return nil
	}
}

// WithMaxDelay caps the backoff, zero disables the cap
func WithMaxDelay(delay time.Duration) PolicyOption {
	return func(p *Policy) error {
		if delay < 0 {
			return fmt.Errorf("the max retry delay cannot be negative, got %s", delay)
		}
		p.maxDelay = delay
		return nil
	}
}

func WithConfig(retryConfig config.RetryConfig) PolicyOption {
	return func(p *Policy) error {
		err := retryConfig.Validate()
		if err != nil {
			return err
		}
		p.maxRetries = retryConfig.MaxRetries
		p.baseDelay = retryConfig.BaseDelay
		p.maxDelay = retryConfig.MaxDelay
		return nil
	}
}

func NewPolicy(options ...PolicyOption) (*Policy, error) {
	p := Policy{
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		maxDelay:   DefaultMaxDelay,
	}
	for _, opt := range options {
		err := opt(&p)
		if err != nil {
			return nil, err
		}
	}
	return &p, nil
}
