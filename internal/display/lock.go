// Package display models the device's chat screen: the question and answer
// text areas, the lock that serializes every mutation of them, and the sink
// that lets a network worker append answer text without stalling on that lock.
package display

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Lock serializes UI mutations between the UI owner and background workers.
// Unlike sync.Mutex, acquisition can be bounded by a context or a timeout.
type Lock struct {
	sem *semaphore.Weighted
}

func NewLock() *Lock {
	return &Lock{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the lock is held or ctx is done.
func (l *Lock) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// TryAcquireFor waits at most d for the lock and reports whether it was taken.
func (l *Lock) TryAcquireFor(d time.Duration) bool {
	if l.sem.TryAcquire(1) {
		return true
	}
	if d <= 0 {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return l.sem.Acquire(ctx, 1) == nil
}

func (l *Lock) Release() {
	l.sem.Release(1)
}

// With runs fn while holding the lock.
func (l *Lock) With(ctx context.Context, fn func()) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	fn()
	return nil
}
