package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type FatalError interface {
	error
	IsFatal() bool
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string {
	return e.err.Error()
}

func (e *fatalError) IsFatal() bool {
	return true
}

func (e *fatalError) Unwrap() error {
	return e.err
}

func NewFatalError(err error) FatalError {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

func Retry(ctx context.Context, policy Policy, fn func() error) error {
	return RetryWithCallback(ctx, policy, fn, nil)
}

// RetryWithCallback runs fn until it succeeds, fails with an error whose
// IsFatal reports true, or the policy is exhausted. onRetry is told about
// every failed attempt that will be retried and the delay before the next.
func RetryWithCallback(ctx context.Context, policy Policy, fn func() error, onRetry func(attempt int, err error, nextDelay time.Duration)) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if IsFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if onRetry != nil {
		notify = func(err error, next time.Duration) { onRetry(attempt, err, next) }
	}
	return backoff.RetryNotify(operation, policy.backOff(ctx), notify)
}

// IsFatal reports whether any error in err's chain declares itself fatal.
func IsFatal(err error) bool {
	for err != nil {
		if f, ok := err.(FatalError); ok && f.IsFatal() {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
