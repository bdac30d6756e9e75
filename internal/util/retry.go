package util

import (
	"context"
	"time"
)

// maxBackoff caps the wait between attempts.
const maxBackoff = 2 * time.Second

// RetryIf runs fn until it succeeds, fails with an error retryable rejects,
// or has been tried attempts times. The store uses it to ride out transient
// SQLite lock conflicts (SQLITE_BUSY) when several runs share one catalog
// file. The wait starts at backoff, doubles after each conflict up to
// maxBackoff, and is abandoned as soon as ctx is done.
func RetryIf(ctx context.Context, attempts int, backoff time.Duration, fn func() error, retryable func(error) bool) error {
	err := fn()
	for left := attempts - 1; left > 0 && err != nil && retryable(err); left-- {
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if backoff = 2 * backoff; backoff > maxBackoff {
			backoff = maxBackoff
		}
		err = fn()
	}
	return err
}
