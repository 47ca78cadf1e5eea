// Package bruteforce throttles repeated failed logins per username and
// account suffix.
package bruteforce

import (
	"context"
	"time"
)

// Record is the failure history of one key.
type Record struct {
	Key          string
	Attempts     int
	BlockedUntil time.Time
}

// Blocked reports whether the record carries a block that has not expired.
func (r Record) Blocked(now time.Time) bool {
	return !r.BlockedUntil.IsZero() && now.Before(r.BlockedUntil)
}

// Expired reports whether the record carries a block that has passed.
func (r Record) Expired(now time.Time) bool {
	return !r.BlockedUntil.IsZero() && !now.Before(r.BlockedUntil)
}

// Repository stores failure records. Get returns a zero Record when the key
// is unknown. RecordFailure increments the counter and, once it reaches
// threshold, sets BlockedUntil to now+blockTime.
type Repository interface {
	Get(ctx context.Context, key string) (Record, error)
	RecordFailure(ctx context.Context, key string, now time.Time, threshold int, blockTime time.Duration) (Record, error)
	Clear(ctx context.Context, key string) error
}
