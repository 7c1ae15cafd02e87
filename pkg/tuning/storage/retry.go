package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"

	"mercator-hq/gatekeeper/pkg/tuning"
)

// RetryPolicy bounds the optimistic read-modify-write loop.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// MinBackoff and MaxBackoff bound the uniformly jittered pause
	// between attempts.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns 5 attempts with 10-50ms jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		MinBackoff:  10 * time.Millisecond,
		MaxBackoff:  50 * time.Millisecond,
	}
}

// jitterBackOff returns a uniformly random pause in [min, max].
type jitterBackOff struct {
	min, max time.Duration
}

func (j *jitterBackOff) NextBackOff() time.Duration {
	if j.max <= j.min {
		return j.min
	}
	return j.min + time.Duration(rand.Int64N(int64(j.max-j.min)+1))
}

func (j *jitterBackOff) Reset() {}

// Do runs fn until it succeeds, fails with an error other than a version
// conflict, or the attempt budget is spent. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err != nil && !errors.Is(err, tuning.ErrConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(&jitterBackOff{min: p.MinBackoff, max: p.MaxBackoff}),
		backoff.WithMaxTries(uint(attempts)),
	)
	return err
}

// Mutate applies fn to a copy of base and saves it. When the save loses a
// version race the state is reloaded and fn is re-applied to the fresh copy.
// fn returns false to skip the write. The returned state is the one that was
// persisted, and attempts counts every read-modify-write cycle performed.
func Mutate(ctx context.Context, b Backend, policy RetryPolicy, base *tuning.PatternState, fn func(*tuning.PatternState) bool) (saved *tuning.PatternState, attempts int, err error) {
	err = policy.Do(ctx, func() error {
		attempts++
		cur := base
		if attempts > 1 {
			loaded, err := b.Load(ctx, base.Pattern)
			switch {
			case errors.Is(err, tuning.ErrNotFound):
				cur = tuning.NewPatternState(base.Pattern, base.Threshold)
			case err != nil:
				return err
			default:
				cur = loaded
			}
		}

		next := cur.Clone()
		if !fn(next) {
			saved = next
			return nil
		}
		if err := b.Save(ctx, next); err != nil {
			return err
		}
		saved = next
		return nil
	})
	if err != nil {
		return nil, attempts, err
	}
	return saved, attempts, nil
}

// MutateRule applies fn to the stored rule with the given id and supersedes
// it, retrying on version conflicts like Mutate.
func MutateRule(ctx context.Context, b Backend, policy RetryPolicy, pattern, id string, fn func(*tuning.ExceptionRule) bool) error {
	return policy.Do(ctx, func() error {
		rules, err := b.ListRules(ctx, pattern)
		if err != nil {
			return err
		}
		for _, r := range rules {
			if r.ID != id {
				continue
			}
			next := r.Clone()
			if !fn(next) {
				return nil
			}
			return b.UpsertRule(ctx, next)
		}
		return tuning.ErrNotFound
	})
}
