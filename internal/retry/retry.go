// Package retry wraps network-facing operations with bounded exponential
// backoff. It is used by the remote archive collaborators, never by the
// process supervisor: retrying a partially written download is unsafe without
// resume support, so a failed worker is reported rather than relaunched.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/italolelis/archive_mirror/internal/job"
)

// Classifier decides whether an error is worth another attempt.
type Classifier func(error) bool

// Config bounds the retry loop. Delay grows as
// min(InitialDelay * BackoffFactor^attempt, MaxDelay).
type Config struct {
	MaxAttempts   uint
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultConfig matches the collaborators' tolerance for transient archive
// hiccups without stalling a request for long.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   4,
		InitialDelay:  250 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2,
	}
}

// Do runs op until it succeeds, the classifier rejects its error, or the
// attempt budget is exhausted. A nil classifier means DefaultClassifier.
func Do[T any](ctx context.Context, cfg Config, retryable Classifier, op func(ctx context.Context) (T, error)) (T, error) {
	if retryable == nil {
		retryable = DefaultClassifier
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = cfg.BackoffFactor

	wrapped := func() (T, error) {
		v, err := op(ctx)
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}

		return v, err
	}

	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.MaxAttempts),
	)
}

// DefaultClassifier treats network-transport failures, HTTP 5xx and HTTP 429
// as retryable. Explicit cancellation and other 4xx responses are not.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr *job.NetworkError
	if errors.As(err, &netErr) {
		switch {
		case netErr.StatusCode == 0:
			return true // transport failure, no response
		case netErr.StatusCode == http.StatusTooManyRequests:
			return true
		default:
			return netErr.StatusCode >= http.StatusInternalServerError
		}
	}

	var transportErr net.Error
	return errors.As(err, &transportErr)
}
