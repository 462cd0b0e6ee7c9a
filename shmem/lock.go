package shmem

import (
	"context"

	"github.com/michael-beebe/osss-go/internal/lock"
	"github.com/michael-beebe/osss-go/transport"
)

// mcsLock builds an internal/lock.MCSLock handle over addr. Allocations
// from (*Shmem).Malloc/Calloc/Align are always at least 8-byte aligned
// (internal/heap's roundUp floor), so the addr-hashed owner-selection
// scheme of spec.md §4.2 always applies here.
func mcsLock(addr transport.Addr) *lock.MCSLock {
	return &lock.MCSLock{Addr: addr, AddrAligned: true}
}

// SetLock acquires the distributed MCS lock over the caller-allocated
// symmetric 2-word block at addr, blocking until held (spec.md §4.2
// "acquire").
func (s *Shmem) SetLock(ctx context.Context, addr transport.Addr) error {
	if err := mcsLock(addr).Acquire(ctx, s.eng.Transport()); err != nil {
		return s.fatal(err)
	}
	return nil
}

// ClearLock releases a lock held by the calling PE (spec.md §4.2
// "release"). Releasing a lock not held is undefined behavior at the
// OpenSHMEM level (spec.md §7 kind 6) and is not defended against here.
func (s *Shmem) ClearLock(ctx context.Context, addr transport.Addr) error {
	if err := mcsLock(addr).Release(ctx, s.eng.Transport()); err != nil {
		return s.fatal(err)
	}
	return nil
}

// TestLock attempts to acquire the lock without blocking, returning true
// if it succeeded (spec.md §4.2 "try-acquire", §8 "test_lock returns 0
// (acquired) or 1 (busy) and never blocks" — expressed here as a bool
// rather than the C integer convention).
func (s *Shmem) TestLock(ctx context.Context, addr transport.Addr) (bool, error) {
	acquired, err := mcsLock(addr).TryAcquire(ctx, s.eng.Transport())
	if err != nil {
		return false, s.fatal(err)
	}
	return acquired, nil
}
