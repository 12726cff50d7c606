// Package lifecycle masks store eventual-visibility lag behind bounded,
// cancellable retry loops.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ezhao816/chatrelay/config"
	"github.com/ezhao816/chatrelay/domain"
	"github.com/ezhao816/chatrelay/store"
)

// Lifecycle resolves sessions against a store that may lag behind writes.
type Lifecycle struct {
	store store.Store

	resolveAttempts int
	resolveDelay    time.Duration

	verifyAttempts  int
	verifyBaseDelay time.Duration
	verifyMaxDelay  time.Duration
}

// New creates a lifecycle using the configured retry budgets.
func New(s store.Store, cfg *config.Config) *Lifecycle {
	return &Lifecycle{
		store:           s,
		resolveAttempts: cfg.ResolveAttempts,
		resolveDelay:    cfg.ResolveDelay,
		verifyAttempts:  cfg.VerifyAttempts,
		verifyBaseDelay: cfg.VerifyBaseDelay,
		verifyMaxDelay:  cfg.VerifyMaxDelay,
	}
}

// Resolve looks up a session, re-reading a fixed number of times with a fixed
// delay to absorb read-after-write lag. Returns a not-found error only after
// the full budget is exhausted.
func (l *Lifecycle) Resolve(ctx context.Context, id string) (*domain.Session, error) {
	for attempt := 0; attempt < l.resolveAttempts; attempt++ {
		if attempt > 0 {
			if err := wait(ctx, l.resolveDelay); err != nil {
				return nil, err
			}
		}
		session, err := l.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve session: %w", err)
		}
		if session != nil {
			return session, nil
		}
		log.Printf("session %s not visible, attempt %d/%d", id, attempt+1, l.resolveAttempts)
	}
	return nil, domain.NewNotFoundError("Session")
}

// CreateAndVerify creates a session and polls until the write is confirmed
// readable, backing off exponentially. A verification timeout is distinct from
// not-found: the record was written but never confirmed visible.
func (l *Lifecycle) CreateAndVerify(ctx context.Context, title string, seed *domain.Message) (*domain.Session, error) {
	created, err := l.store.Create(ctx, title, seed)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	for attempt := 0; attempt < l.verifyAttempts; attempt++ {
		session, err := l.store.Get(ctx, created.ID)
		if err != nil {
			return nil, fmt.Errorf("verify session: %w", err)
		}
		if session != nil {
			return session, nil
		}
		log.Printf("session %s not yet readable, attempt %d/%d", created.ID, attempt+1, l.verifyAttempts)
		if attempt < l.verifyAttempts-1 {
			if err := wait(ctx, l.VerifyBackoff(attempt)); err != nil {
				return nil, err
			}
		}
	}
	return nil, domain.NewVerificationTimeoutError(created.ID, l.verifyAttempts)
}

// VerifyBackoff returns the delay before re-reading after the given zero-based
// attempt: base doubling per attempt, capped.
func (l *Lifecycle) VerifyBackoff(attempt int) time.Duration {
	d := l.verifyBaseDelay << uint(attempt)
	if d > l.verifyMaxDelay {
		d = l.verifyMaxDelay
	}
	return d
}

// wait blocks for d or until ctx is cancelled. A cancelled wait never fires
// its continuation.
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return domain.NewCancelledError()
	case <-timer.C:
		return nil
	}
}
