package mock

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// WaitFor blocks until the most recent call of op has fired, the context is
// done, or the mock's wait timeout elapses. It returns the delivered outcome.
func (m *Mock) WaitFor(ctx context.Context, op Operation) (Outcome, error) {
	interval := m.delay / 4
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	b := retry.WithMaxDuration(m.waitTimeout, retry.NewConstant(interval))

	var got Outcome
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if got = m.Fired(op); got == OutcomeNone {
			return retry.RetryableError(ErrNotFired)
		}
		return nil
	})
	if err != nil {
		return OutcomeNone, fmt.Errorf("mock idb: wait for %s: %w", op, err)
	}
	return got, nil
}
