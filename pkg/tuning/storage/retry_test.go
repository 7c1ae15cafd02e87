package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"mercator-hq/gatekeeper/pkg/tuning"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestJitterBackOff_StaysInRange(t *testing.T) {
	j := &jitterBackOff{min: 10 * time.Millisecond, max: 50 * time.Millisecond}
	for i := 0; i < 1000; i++ {
		d := j.NextBackOff()
		if d < 10*time.Millisecond || d > 50*time.Millisecond {
			t.Fatalf("Backoff %v outside [10ms, 50ms]", d)
		}
	}

	fixed := &jitterBackOff{min: 5 * time.Millisecond, max: 5 * time.Millisecond}
	if fixed.NextBackOff() != 5*time.Millisecond {
		t.Error("Expected fixed backoff when min == max")
	}
}

func TestRetryPolicy_Do(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		failWith     error
		wantCalls    int
		wantConflict bool
		wantErr      bool
	}{
		{"succeeds first time", 0, nil, 1, false, false},
		{"succeeds after conflicts", 3, tuning.ErrConflict, 4, false, false},
		{"gives up after budget", 10, tuning.ErrConflict, 5, true, true},
		{"does not retry other errors", 10, errors.New("disk on fire"), 1, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := fastPolicy(5).Do(context.Background(), func() error {
				calls++
				if calls <= tt.failures {
					return fmt.Errorf("attempt %d: %w", calls, tt.failWith)
				}
				return nil
			})

			if calls != tt.wantCalls {
				t.Errorf("Expected %d calls, got %d", tt.wantCalls, calls)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("Unexpected error result: %v", err)
			}
			if errors.Is(err, tuning.ErrConflict) != tt.wantConflict {
				t.Errorf("errors.Is(err, ErrConflict) = %v, want %v", !tt.wantConflict, tt.wantConflict)
			}
		})
	}
}

func TestRetryPolicy_HonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := RetryPolicy{MaxAttempts: 100, MinBackoff: time.Second, MaxBackoff: time.Second}
	calls := 0
	start := time.Now()
	err := policy.Do(ctx, func() error {
		calls++
		return tuning.ErrConflict
	})
	if err == nil {
		t.Fatal("Expected an error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("Cancelled context should stop retries promptly")
	}
	if calls > 1 {
		t.Errorf("Expected at most one attempt, got %d", calls)
	}
}

// conflictingBackend fails every Save with a conflict.
type conflictingBackend struct {
	*MemoryBackend
	saves int
}

func (c *conflictingBackend) Save(ctx context.Context, s *tuning.PatternState) error {
	c.saves++
	return tuning.ErrConflict
}

func TestMutate_DropsAfterBudget(t *testing.T) {
	b := &conflictingBackend{MemoryBackend: NewMemoryBackend()}
	base := tuning.NewPatternState("p", 3)

	_, attempts, err := Mutate(context.Background(), b, fastPolicy(5), base, func(s *tuning.PatternState) bool {
		s.Detections++
		return true
	})
	if !errors.Is(err, tuning.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}
	if attempts != 5 || b.saves != 5 {
		t.Errorf("Expected 5 attempts and saves, got %d and %d", attempts, b.saves)
	}
	if base.Detections != 0 {
		t.Error("Mutate must not modify base")
	}
}

func TestMutate_ReappliesOnFreshState(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	b.Save(ctx, tuning.NewPatternState("p", 3))
	stale, _ := b.Load(ctx, "p")

	// Another writer moves the stored state forward.
	winner, _ := b.Load(ctx, "p")
	winner.Detections = 10
	b.Save(ctx, winner)

	saved, attempts, err := Mutate(ctx, b, fastPolicy(5), stale, func(s *tuning.PatternState) bool {
		s.Detections++
		return true
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
	if saved.Detections != 11 {
		t.Errorf("Expected the increment applied on top of the winner (11), got %d", saved.Detections)
	}
}

func TestMutate_SkipsWriteWhenUnchanged(t *testing.T) {
	b := &conflictingBackend{MemoryBackend: NewMemoryBackend()}
	_, attempts, err := Mutate(context.Background(), b, fastPolicy(5), tuning.NewPatternState("p", 3), func(*tuning.PatternState) bool {
		return false
	})
	if err != nil || attempts != 1 || b.saves != 0 {
		t.Errorf("Expected a single no-op attempt, got attempts=%d saves=%d err=%v", attempts, b.saves, err)
	}
}

func TestMutateRule(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	b.UpsertRule(ctx, &tuning.ExceptionRule{ID: "r1", Pattern: "p", PredicateSummary: []string{"x"}})

	err := MutateRule(ctx, b, fastPolicy(3), "p", "r1", func(r *tuning.ExceptionRule) bool {
		r.LastMatchedAt = 42
		return true
	})
	if err != nil {
		t.Fatalf("MutateRule failed: %v", err)
	}
	rules, _ := b.ListRules(ctx, "p")
	if rules[0].LastMatchedAt != 42 || rules[0].Version != 2 {
		t.Errorf("Unexpected rule after mutate: %+v", rules[0])
	}

	if err := MutateRule(ctx, b, fastPolicy(3), "p", "missing", func(*tuning.ExceptionRule) bool { return true }); !errors.Is(err, tuning.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
