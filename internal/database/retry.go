package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kozaktomas/roll-call/internal/constants"
)

// ErrBusy is returned when the retry budget is exhausted while the storage
// layer keeps reporting transient contention. Callers may retry the whole
// request later; this is not a validation failure.
var ErrBusy = errors.New("storage busy")

// RetryPolicy retries an operation on transient storage contention with
// exponential backoff. Non-transient errors pass through on the first attempt.
type RetryPolicy struct {
	Attempts  int           // retries after the initial attempt
	BaseDelay time.Duration // first backoff, doubled per retry
}

// DefaultRetryPolicy matches the engine's mark-present write budget:
// 3 retries at 100ms, 200ms, 400ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  constants.MarkRetryAttempts,
		BaseDelay: constants.MarkRetryBaseDelayMS * time.Millisecond,
	}
}

// Do runs op, retrying on transient errors until the budget is exhausted.
// The returned error wraps ErrBusy when retries ran out, so callers can
// distinguish contention from genuine validation failures.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	delay := p.BaseDelay
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt >= p.Attempts {
			return fmt.Errorf("%w: gave up after %d attempts: %v", ErrBusy, attempt+1, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

// Transient PostgreSQL error classes: locks and serialization conflicts
// resolve on retry, everything else (unique violations, referential
// integrity, syntax) does not.
var transientPQCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

// IsTransient reports whether an error is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return transientPQCodes[string(pqErr.Code)]
	}
	return false
}

// IsUniqueViolation reports whether an error is a unique constraint violation.
// The mark-present path treats it as "already marked", never as a failure.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
