package adapters

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/fxsml/gopipe-cep/message"
)

var (
	// ErrRetry is the base error for publish retries.
	ErrRetry = errors.New("adapters: retry")

	// ErrRetryMaxAttempts is returned when all publish attempts fail.
	ErrRetryMaxAttempts = fmt.Errorf("%w: max attempts reached", ErrRetry)

	// ErrRetryTimeout is returned when the overall retry budget is spent.
	ErrRetryTimeout = fmt.Errorf("%w: timeout reached", ErrRetry)

	// ErrNotRetryable is returned when ShouldRetry rejects an error.
	ErrNotRetryable = fmt.Errorf("%w: not retryable", ErrRetry)
)

// BackoffFunc returns how long to wait after the given failed attempt,
// counting from 1.
type BackoffFunc func(attempt int) time.Duration

// ConstantBackoff always waits delay, spread by up to ±jitter of it.
func ConstantBackoff(delay time.Duration, jitter float64) BackoffFunc {
	j := clampJitter(jitter)
	return func(int) time.Duration { return spread(delay, j) }
}

// ExponentialBackoff multiplies initialDelay by factor after every attempt.
// A positive maxDelay caps the wait before jitter is applied.
func ExponentialBackoff(initialDelay time.Duration, factor float64, maxDelay time.Duration, jitter float64) BackoffFunc {
	j := clampJitter(jitter)
	return func(attempt int) time.Duration {
		d := float64(initialDelay) * math.Pow(factor, float64(attempt-1))
		if maxDelay > 0 && d > float64(maxDelay) {
			d = float64(maxDelay)
		}
		return spread(time.Duration(d), j)
	}
}

// ShouldRetryFunc reports whether a failed publish may be attempted again.
type ShouldRetryFunc func(error) bool

// ShouldRetry accepts errors matching one of errs. With no errs every error
// is retried.
func ShouldRetry(errs ...error) ShouldRetryFunc {
	if len(errs) == 0 {
		return func(error) bool { return true }
	}
	return func(err error) bool { return matchesAny(err, errs) }
}

// ShouldNotRetry accepts every error except those matching errs, such as
// encoding failures that fail the same way on each attempt.
func ShouldNotRetry(errs ...error) ShouldRetryFunc {
	return func(err error) bool { return !matchesAny(err, errs) }
}

func matchesAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// RetryConfig configures publish retries. Zero fields take defaults.
type RetryConfig struct {
	// ShouldRetry filters retryable errors (default: ShouldRetry()).
	ShouldRetry ShouldRetryFunc
	// Backoff is the wait between attempts (default: 1s ±20%).
	Backoff BackoffFunc
	// MaxAttempts counts the first publish too (default: 3). A negative
	// value leaves only Timeout as the bound.
	MaxAttempts int
	// Timeout bounds the whole publish including waits (default: 1m).
	Timeout time.Duration
}

func (c *RetryConfig) parse() *RetryConfig {
	if c == nil {
		return nil
	}
	cfg := *c
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = ShouldRetry()
	}
	if cfg.Backoff == nil {
		cfg.Backoff = ConstantBackoff(time.Second, 0.2)
	}
	switch {
	case cfg.MaxAttempts == 0:
		cfg.MaxAttempts = 3
	case cfg.MaxAttempts < 0:
		cfg.MaxAttempts = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &cfg
}

// RetryError reports a publish that failed after retries. It unwraps to the
// abort reason and every attempt's cause.
type RetryError struct {
	// Err is the reason retrying stopped, e.g. ErrRetryMaxAttempts.
	Err error
	// Attempts is the number of publish attempts made.
	Attempts int
	// Causes holds the error of each attempt.
	Causes []error
}

func (e *RetryError) Error() string {
	if len(e.Causes) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s after %d attempts: %s", e.Err, e.Attempts, e.Causes[len(e.Causes)-1])
}

func (e *RetryError) Unwrap() []error {
	return append([]error{e.Err}, e.Causes...)
}

// WithRetry wraps publish so failures are retried per cfg. With a nil cfg
// publish is returned as is.
func WithRetry(publish PublishFunc, cfg *RetryConfig) PublishFunc {
	cfg = cfg.parse()
	if cfg == nil {
		return publish
	}
	return func(ctx context.Context, topic string, msg *message.Message) error {
		deadline := time.Now().Add(cfg.Timeout)
		rerr := &RetryError{}
		for {
			rerr.Attempts++
			err := publish(ctx, topic, msg)
			if err == nil {
				return nil
			}
			rerr.Causes = append(rerr.Causes, err)

			switch {
			case !cfg.ShouldRetry(err):
				rerr.Err = ErrNotRetryable
			case cfg.MaxAttempts > 0 && rerr.Attempts >= cfg.MaxAttempts:
				rerr.Err = ErrRetryMaxAttempts
			default:
				rerr.Err = sleep(ctx, cfg.Backoff(rerr.Attempts), time.Until(deadline))
			}
			if rerr.Err != nil {
				return rerr
			}
		}
	}
}

// sleep waits d unless ctx ends or the remaining budget runs out first.
func sleep(ctx context.Context, d, budget time.Duration) error {
	if budget <= 0 {
		return ErrRetryTimeout
	}
	if d > budget {
		t := time.NewTimer(budget)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return ErrRetryTimeout
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func clampJitter(j float64) float64 { return max(0, min(j, 1)) }

// spread returns d scaled by a random factor in [1-j, 1+j].
func spread(d time.Duration, j float64) time.Duration {
	if j == 0 {
		return d
	}
	return time.Duration(float64(d) * (1 + j*(2*rand.Float64()-1)))
}
