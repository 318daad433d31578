// Package occ implements the optimistic-concurrency update loop used for
// every inventory and aggregate mutation: read a record, compute the new
// value, and issue a conditional write that only lands if the record still
// matches the snapshot. Conflicts are retried with jittered exponential
// backoff up to a bounded attempt budget; a record that has left its
// qualifying state stops the loop as a legitimate no-op.
package occ

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Status is the outcome of one read-compute-conditional-write cycle.
type Status int

const (
	// Conflict means the conditional write was rejected because another
	// writer changed the record first. The loop retries.
	Conflict Status = iota
	// Applied means the conditional write landed.
	Applied
	// Terminal means the record is no longer in its qualifying state and the
	// update must not be applied. Not an error; callers treat it as "nothing
	// to do".
	Terminal
)

// ErrContention is returned when the retry budget is exhausted without the
// write landing. Under sane load this never happens.
var ErrContention = errors.New("occ: retry budget exhausted")

// Config bounds the retry loop.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultConfig is tuned so the non-contended path is a single attempt with
// no sleeping, while heavy contention backs off into the low milliseconds.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 16,
		BaseBackoff: 2 * time.Millisecond,
		MaxBackoff:  250 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	return c
}

// Apply runs step until it reports Applied or Terminal, retrying Conflict
// results with jittered exponential backoff. A non-nil error from step aborts
// immediately. When the attempt budget runs out, Apply returns ErrContention
// wrapped with the attempt count.
func Apply(ctx context.Context, cfg Config, step func(ctx context.Context) (Status, error)) (Status, error) {
	cfg = cfg.withDefaults()

	backoff := cfg.BaseBackoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Conflict, err
		}

		status, err := step(ctx)
		if err != nil {
			return status, err
		}
		if status != Conflict {
			return status, nil
		}
		if attempt >= cfg.MaxAttempts {
			return Conflict, fmt.Errorf("%w after %d attempts", ErrContention, attempt)
		}

		// Full jitter: sleep a random slice of the current backoff window.
		sleep := time.Duration(rand.Int64N(int64(backoff) + 1))
		select {
		case <-ctx.Done():
			return Conflict, ctx.Err()
		case <-time.After(sleep):
		}

		backoff *= 2
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
}
