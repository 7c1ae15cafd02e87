package health

import (
	"context"
	"errors"
	"fmt"

	"mercator-hq/gatekeeper/pkg/tuning/storage"
)

// StoreCheck reports whether the state store answers a read. The current
// backend is looked up on every call.
func StoreCheck(backend func() storage.Backend) CheckFunc {
	return func(ctx context.Context) error {
		b := backend()
		if b == nil {
			return errors.New("state store not open")
		}
		if _, err := b.CurrentStep(ctx); err != nil {
			return fmt.Errorf("%s store: %w", b.Name(), err)
		}
		return nil
	}
}

// PatternsCheck fails when no pattern is registered, since every
// evaluation would then be a no-op ALLOW.
func PatternsCheck(patterns func() []string) CheckFunc {
	return func(ctx context.Context) error {
		if len(patterns()) == 0 {
			return errors.New("no patterns registered")
		}
		return nil
	}
}

// RunningCheck fails when the named component reports that it has stopped.
func RunningCheck(name string, running func() bool) CheckFunc {
	return func(ctx context.Context) error {
		if !running() {
			return fmt.Errorf("%s is not running", name)
		}
		return nil
	}
}
