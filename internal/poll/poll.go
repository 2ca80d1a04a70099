// Package poll provides the bounded wait primitives shared by injection,
// panel unlocking and panel wait logic.
package poll

import (
	"context"
	"time"
)

// Sleep pauses for d or until ctx is done. Tests replace it to run waits
// instantly.
var Sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Until evaluates pred up to attempts times, sleeping interval between
// evaluations. It returns true as soon as pred does. The predicate is checked
// before the first sleep so an already-satisfied condition costs no wait.
func Until(ctx context.Context, interval time.Duration, attempts int, pred func(context.Context) bool) bool {
	for i := 0; i < attempts; i++ {
		if pred(ctx) {
			return true
		}
		if i == attempts-1 {
			break
		}
		if err := Sleep(ctx, interval); err != nil {
			return false
		}
	}
	return false
}
