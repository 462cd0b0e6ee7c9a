// Package lock implements the distributed MCS lock of spec.md §4.2: a
// scalable, cluster-wide mutex over a caller-allocated symmetric 2-word
// block, driven by atomic swap/compare-and-swap against a single "owner"
// PE rather than a local in-process primitive.
//
// The CAS-retry-loop shape is the teacher's (NikoMalik-sync_pool/pool.go
// packs multiple logical fields into one word and loops
// atomic.CompareAndSwapUint64 until it wins); here the same loop runs
// against a remote word reached through transport.Transport instead of a
// local *uint64. The (locked, next) bitpacking of that word follows
// dijkstracula-go-ilock/ilock.go's convention of packing several logical
// sub-fields into one machine word with CAS-loop accessors.
package lock

import (
	"context"
	"fmt"

	"github.com/michael-beebe/osss-go/transport"
)

// noPE is the "no PE" sentinel, distinct from every valid PE number.
const noPE = ^uint32(0)

const (
	lockReset uint32 = 0
	lockSet   uint32 = 1
)

func pack(flag uint32, pe uint32) uint64 {
	return uint64(flag)<<32 | uint64(pe)
}

func unpack(w uint64) (flag uint32, pe uint32) {
	return uint32(w >> 32), uint32(w)
}

// MCSLock is a handle over a caller-allocated symmetric 2-word block: the
// owner's shared lock word at Addr, and each PE's own node word at Addr+8
// (spec.md DATA MODEL "Lock cell").
type MCSLock struct {
	Addr transport.Addr

	// AddrAligned selects the owner-hashing scheme of spec.md §4.2: when
	// true, owner = (addr>>3) mod N; when false (addresses not guaranteed
	// aligned), owner = N-1. Allocations from internal/heap are always
	// 8-byte aligned; shmem's lock wrappers set this field to true.
	AddrAligned bool
}

func (l *MCSLock) owner(n int) transport.PE {
	if l.AddrAligned {
		return transport.PE((uint64(l.Addr) >> 3) % uint64(n))
	}
	return transport.PE(n - 1)
}

func (l *MCSLock) nodeAddr() transport.Addr {
	return l.Addr + 8
}

// Acquire blocks until the calling PE holds the lock.
func (l *MCSLock) Acquire(ctx context.Context, t transport.Transport) error {
	me := uint32(t.Me())
	owner := l.owner(t.N())

	// 1. Clear local node.next = RESET; also clear locked, since any prior
	// waiter state from a completed previous critical section is stale.
	if err := t.AtomicSet(ctx, t.Me(), l.nodeAddr(), pack(lockReset, noPE)); err != nil {
		return fmt.Errorf("lock: clear local node: %w", err)
	}

	// 2. Swap the owner's lock word to (SET, me).
	prevWord, err := t.AtomicSwap(ctx, owner, l.Addr, pack(lockSet, me))
	if err != nil {
		return fmt.Errorf("lock: swap owner lock word: %w", err)
	}
	prevLocked, prevNext := unpack(prevWord)

	// 3. Uncontended: we are the new, sole holder.
	if prevLocked == lockReset {
		return nil
	}

	// 4. Contended: mark ourselves waiting (keeping any successor id already
	// chained into our node.next), chain behind our predecessor, then spin
	// on our own node.locked.
	for {
		cur, err := t.AtomicFetch(ctx, t.Me(), l.nodeAddr())
		if err != nil {
			return fmt.Errorf("lock: mark local node waiting: %w", err)
		}
		_, curNext := unpack(cur)
		got, err := t.AtomicCompareSwap(ctx, t.Me(), l.nodeAddr(), cur, pack(lockSet, curNext))
		if err != nil {
			return fmt.Errorf("lock: mark local node waiting: %w", err)
		}
		if got == cur {
			break
		}
	}
	predecessor := transport.PE(prevNext)
	if err := setNext(ctx, t, predecessor, l.nodeAddr(), me); err != nil {
		return fmt.Errorf("lock: chain behind predecessor %d: %w", predecessor, err)
	}
	if err := t.Quiet(ctx); err != nil {
		return fmt.Errorf("lock: quiet after chaining: %w", err)
	}

	for {
		word, err := t.AtomicFetch(ctx, t.Me(), l.nodeAddr())
		if err != nil {
			return fmt.Errorf("lock: spin on local node: %w", err)
		}
		locked, _ := unpack(word)
		if locked == lockReset {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.Progress(ctx); err != nil {
			return fmt.Errorf("lock: progress while spinning: %w", err)
		}
	}
}

// Release relinquishes a held lock.
//
// Interpretation note (spec.md §9 fence-placement open question doesn't
// cover this one, but §4.2's wording is terse enough to warrant recording
// the reading used here): "local node.next == SET" is read as "our own
// node.next has already resolved to a concrete successor PE id" — the fast
// path where, by the time we release, whoever claimed the owner's tail
// pointer has already finished chaining onto us, so we can notify them
// directly without attempting the owner CAS at all. If node.next is still
// RESET we attempt the CAS; if that fails, a successor exists but hasn't
// finished writing our node.next yet, so we spin for it.
func (l *MCSLock) Release(ctx context.Context, t transport.Transport) error {
	me := uint32(t.Me())
	owner := l.owner(t.N())

	word, err := t.AtomicFetch(ctx, t.Me(), l.nodeAddr())
	if err != nil {
		return fmt.Errorf("lock: read local node: %w", err)
	}
	_, next := unpack(word)

	if next == noPE {
		prevWord, err := t.AtomicCompareSwap(ctx, owner, l.Addr, pack(lockSet, me), pack(lockReset, noPE))
		if err != nil {
			return fmt.Errorf("lock: release CAS: %w", err)
		}
		if prevLocked, prevNext := unpack(prevWord); prevLocked == lockSet && prevNext == me {
			return nil // we were the tail; no successor.
		}
		// CAS failed: a successor has claimed the tail but may not have
		// finished chaining yet. Spin for it.
		for next == noPE {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := t.Progress(ctx); err != nil {
				return fmt.Errorf("lock: progress while spinning for successor: %w", err)
			}
			word, err = t.AtomicFetch(ctx, t.Me(), l.nodeAddr())
			if err != nil {
				return fmt.Errorf("lock: re-read local node: %w", err)
			}
			_, next = unpack(word)
		}
	}

	// A successor exists at PE `next`: wake it by clearing its node.locked.
	successor := transport.PE(next)
	if err := clearLocked(ctx, t, successor, l.nodeAddr()); err != nil {
		return fmt.Errorf("lock: wake successor %d: %w", successor, err)
	}
	return t.Quiet(ctx)
}

// TryAcquire attempts to acquire the lock without blocking (spec.md §4.2):
// it reads the owner's lock word once and, if the word's locked half is
// RESET (a never-used all-zero word or a released (RESET, noPE) word), runs
// the acquire protocol and returns success; otherwise it returns false
// without contending. Returns true if the lock was acquired.
func (l *MCSLock) TryAcquire(ctx context.Context, t transport.Transport) (bool, error) {
	owner := l.owner(t.N())
	word, err := t.AtomicFetch(ctx, owner, l.Addr)
	if err != nil {
		return false, fmt.Errorf("lock: try-acquire probe: %w", err)
	}
	locked, _ := unpack(word)
	if locked != lockReset {
		return false, nil
	}
	if err := l.Acquire(ctx, t); err != nil {
		return false, err
	}
	return true, nil
}

// setNext CAS-loops pe's node word, updating only the next sub-field and
// preserving whatever locked value is currently there.
func setNext(ctx context.Context, t transport.Transport, pe transport.PE, addr transport.Addr, next uint32) error {
	for {
		old, err := t.AtomicFetch(ctx, pe, addr)
		if err != nil {
			return err
		}
		flag, _ := unpack(old)
		newWord := pack(flag, next)
		got, err := t.AtomicCompareSwap(ctx, pe, addr, old, newWord)
		if err != nil {
			return err
		}
		if got == old {
			return nil
		}
	}
}

// clearLocked CAS-loops pe's node word, clearing only the locked sub-field.
func clearLocked(ctx context.Context, t transport.Transport, pe transport.PE, addr transport.Addr) error {
	for {
		old, err := t.AtomicFetch(ctx, pe, addr)
		if err != nil {
			return err
		}
		_, next := unpack(old)
		newWord := pack(lockReset, next)
		got, err := t.AtomicCompareSwap(ctx, pe, addr, old, newWord)
		if err != nil {
			return err
		}
		if got == old {
			return nil
		}
	}
}
