package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vault_ledger/internal/domain"
)

type guardKey struct {
	l *Ledger
}

// enter serializes mutating operations and marks ctx so collaborators that
// call back into this ledger with it are refused instead of deadlocking.
//
// A callback that arrives on a fresh context cannot be told apart from a
// concurrent caller. If it arrives while a custody call is in flight it waits
// at most calloutWait and then fails with ErrReentrantCall.
func (l *Ledger) enter(ctx context.Context, op string) (context.Context, func(), error) {
	if l.guarded(ctx) {
		l.logger.WarnContext(ctx, "Rejected nested ledger call", slog.String("operation", op))
		return ctx, nil, fmt.Errorf("%w: %s while a ledger operation is in progress", domain.ErrReentrantCall, op)
	}

	var timeout <-chan time.Time
	step := l.callout.Load()
	if step != nil {
		timer := time.NewTimer(l.calloutWait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case l.writer <- struct{}{}:
	case <-timeout:
		l.logger.WarnContext(ctx, "Rejected ledger call during custody callout",
			slog.String("operation", op),
			slog.String("callout", *step))
		return ctx, nil, fmt.Errorf("%w: %s blocked for %s behind %s", domain.ErrReentrantCall, op, l.calloutWait, *step)
	case <-ctx.Done():
		if step != nil {
			return ctx, nil, fmt.Errorf("%w: %s blocked behind %s: %w", domain.ErrReentrantCall, op, *step, ctx.Err())
		}
		return ctx, nil, ctx.Err()
	}

	l.mu.Lock()
	release := func() {
		l.mu.Unlock()
		<-l.writer
	}
	return context.WithValue(ctx, guardKey{l: l}, struct{}{}), release, nil
}

// external records step as the in-flight custody call while fn runs.
func (l *Ledger) external(step string, fn func() error) error {
	l.callout.Store(&step)
	defer l.callout.Store(nil)
	return fn()
}

func (l *Ledger) guarded(ctx context.Context) bool {
	return ctx.Value(guardKey{l: l}) != nil
}

// readLock is a no-op inside a guarded scope, which already holds the write lock.
func (l *Ledger) readLock(ctx context.Context) func() {
	if l.guarded(ctx) {
		return func() {}
	}
	l.mu.RLock()
	return l.mu.RUnlock
}
