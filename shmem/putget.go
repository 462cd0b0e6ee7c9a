package shmem

import (
	"context"

	"github.com/michael-beebe/osss-go/internal/shcoll"
	"github.com/michael-beebe/osss-go/transport"
)

// Put writes src to the symmetric address dst on pe (spec.md §6 "put").
// Methods can't carry type parameters, so every typed operation in this
// file is a package-level function taking *Shmem explicitly, instantiated
// over shcoll.Number the same way internal/shcoll's own API is.
func Put[T shcoll.Number](ctx context.Context, s *Shmem, pe transport.PE, dst transport.Addr, src []T) error {
	if err := validatePE(s, pe); err != nil {
		return s.fatal(err)
	}
	if len(src) == 0 {
		return nil
	}
	unlock := s.lock()
	defer unlock()
	return s.eng.Transport().Put(ctx, pe, dst, shcoll.BytesOf(src))
}

// PutNBI is Put's non-blocking-initiate variant; completion is tracked by
// Quiet, not by this call returning.
func PutNBI[T shcoll.Number](ctx context.Context, s *Shmem, pe transport.PE, dst transport.Addr, src []T) error {
	if err := validatePE(s, pe); err != nil {
		return s.fatal(err)
	}
	if len(src) == 0 {
		return nil
	}
	unlock := s.lock()
	defer unlock()
	return s.eng.Transport().PutNBI(ctx, pe, dst, shcoll.BytesOf(src))
}

// Get reads from the symmetric address src on pe into dst.
func Get[T shcoll.Number](ctx context.Context, s *Shmem, pe transport.PE, dst []T, src transport.Addr) error {
	if err := validatePE(s, pe); err != nil {
		return s.fatal(err)
	}
	if len(dst) == 0 {
		return nil
	}
	unlock := s.lock()
	defer unlock()
	return s.eng.Transport().Get(ctx, pe, shcoll.BytesOf(dst), src)
}

// GetNBI is Get's non-blocking-initiate variant.
func GetNBI[T shcoll.Number](ctx context.Context, s *Shmem, pe transport.PE, dst []T, src transport.Addr) error {
	if err := validatePE(s, pe); err != nil {
		return s.fatal(err)
	}
	if len(dst) == 0 {
		return nil
	}
	unlock := s.lock()
	defer unlock()
	return s.eng.Transport().GetNBI(ctx, pe, shcoll.BytesOf(dst), src)
}

// PutSignal combines a Put with an atomic update of a remote signal word,
// observable via WaitSignal/TestSignal on sigAddr.
func PutSignal[T shcoll.Number](ctx context.Context, s *Shmem, pe transport.PE, dst transport.Addr, src []T, sigAddr transport.Addr, sigVal uint64, op transport.SigOp) error {
	if err := validatePE(s, pe); err != nil {
		return s.fatal(err)
	}
	unlock := s.lock()
	defer unlock()
	return s.eng.Transport().PutSignal(ctx, pe, dst, shcoll.BytesOf(src), sigAddr, sigVal, op)
}

// PutSignalNBI is PutSignal's non-blocking-initiate variant.
func PutSignalNBI[T shcoll.Number](ctx context.Context, s *Shmem, pe transport.PE, dst transport.Addr, src []T, sigAddr transport.Addr, sigVal uint64, op transport.SigOp) error {
	if err := validatePE(s, pe); err != nil {
		return s.fatal(err)
	}
	unlock := s.lock()
	defer unlock()
	return s.eng.Transport().PutSignalNBI(ctx, pe, dst, shcoll.BytesOf(src), sigAddr, sigVal, op)
}

// WaitUntil blocks until the local word at addr satisfies cmp(value).
func (s *Shmem) WaitUntil(ctx context.Context, addr transport.Addr, cmp transport.Cmp, value uint64) error {
	return s.eng.Transport().WaitUntil(ctx, addr, cmp, value)
}

// TestOnce is WaitUntil's non-blocking probe.
func (s *Shmem) TestOnce(addr transport.Addr, cmp transport.Cmp, value uint64) (bool, error) {
	return s.eng.Transport().TestOnce(addr, cmp, value)
}

// Quiet completes all outstanding one-sided operations initiated by this
// PE. Fence orders prior put/get to the same (pe, addr) pair.
func (s *Shmem) Quiet(ctx context.Context) error { return s.eng.Transport().Quiet(ctx) }
func (s *Shmem) Fence(ctx context.Context) error { return s.eng.Transport().Fence(ctx) }
