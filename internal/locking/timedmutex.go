// Package locking provides the lock primitives used by the simulation.
package locking

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// TimedMutex is an exclusive lock whose acquisition can be bounded by a
// context deadline. It is backed by a weighted semaphore of capacity one,
// so a waiter gives the lock up cleanly when its context expires.
type TimedMutex struct {
	sem *semaphore.Weighted
}

// NewTimedMutex creates a new unlocked TimedMutex
func NewTimedMutex() *TimedMutex {
	return &TimedMutex{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the mutex is held or ctx is done, whichever comes
// first. It returns nil on success and ctx.Err() when the wait was cut short.
func (m *TimedMutex) Acquire(ctx context.Context) error {
	return m.sem.Acquire(ctx, 1)
}

// TryAcquire takes the mutex without blocking and reports whether it
// succeeded.
func (m *TimedMutex) TryAcquire() bool {
	return m.sem.TryAcquire(1)
}

// Release unlocks the mutex. Releasing a mutex that is not held panics;
// that is always a bug in the caller's lock discipline.
func (m *TimedMutex) Release() {
	m.sem.Release(1)
}
