// Collective entry points: each validates its team/size arguments, resolves
// the team's pSync (and, for Reduce, pWrk) scratch addresses through the
// engine, and dispatches into internal/shcoll using the engine's configured
// default algorithm for that family (spec.md §2's "Public API Shim" row:
// "Validates arguments, takes a mutex for thread-safety, looks up the
// selected algorithm in the dispatch record, invokes it").
package shmem

import (
	"context"

	"github.com/michael-beebe/osss-go/internal/shcoll"
	"github.com/michael-beebe/osss-go/internal/team"
	"github.com/michael-beebe/osss-go/transport"
)

func (s *Shmem) teamPSync(tm *team.Team) (transport.Addr, error) {
	pSync, err := s.eng.PSync(tm)
	if err != nil {
		return 0, s.fatal(err)
	}
	return pSync, nil
}

// validateNoOverlap rejects a dst/src pair that overlap on the calling PE
// (spec.md §4.3.1: "No overlap between source and destination ranges
// (flagged and rejected)").
func validateNoOverlap[T shcoll.Number](s *Shmem, dst, src transport.Addr, nelems int) error {
	size := nelems * shcoll.ElemSize[T]()
	if overlaps(dst, size, src, size) {
		return s.fatal(&argError{msg: "destination and source ranges overlap"})
	}
	return nil
}

// Barrier synchronizes every PE in tm and implies a Quiet: all of the
// calling PE's prior communication completes before return (spec.md
// §4.3.2).
func (s *Shmem) Barrier(ctx context.Context, tm *team.Team) error {
	pSync, err := s.teamPSync(tm)
	if err != nil {
		return err
	}
	unlock := s.lock()
	defer unlock()
	if err := shcoll.Barrier(ctx, s.eng.Transport(), tm, pSync, s.eng.BarrierAlgo(), s.eng.TreeRadix()); err != nil {
		return s.fatal(err)
	}
	return nil
}

// Sync is Barrier's synchronization-only half: it does not imply a Quiet
// (spec.md §4.3.2).
func (s *Shmem) Sync(ctx context.Context, tm *team.Team) error {
	pSync, err := s.teamPSync(tm)
	if err != nil {
		return err
	}
	unlock := s.lock()
	defer unlock()
	if err := shcoll.Sync(ctx, s.eng.Transport(), tm, pSync, s.eng.BarrierAlgo(), s.eng.TreeRadix()); err != nil {
		return s.fatal(err)
	}
	return nil
}

// Broadcast copies root's nelems-element src vector into every team
// member's dst (spec.md §4.3.3). The destination buffer on root must equal
// its source after return.
func Broadcast[T shcoll.Number](ctx context.Context, s *Shmem, tm *team.Team, dst, src transport.Addr, nelems, root int) error {
	pSync, err := s.teamPSync(tm)
	if err != nil {
		return err
	}
	if tm.Rank() == root {
		if err := validateNoOverlap[T](s, dst, src, nelems); err != nil {
			return err
		}
	}
	unlock := s.lock()
	defer unlock()
	if err := shcoll.Broadcast[T](ctx, s.eng.Transport(), tm, dst, src, nelems, root, pSync, s.eng.BroadcastAlgo(), s.eng.TreeRadix()); err != nil {
		return s.fatal(err)
	}
	return nil
}

// Collect gathers variable per-PE contribution sizes into a single
// rank-ordered concatenation on every PE (spec.md §4.3.4).
func Collect[T shcoll.Number](ctx context.Context, s *Shmem, tm *team.Team, dst, src transport.Addr, myCount int) error {
	pSync, err := s.teamPSync(tm)
	if err != nil {
		return err
	}
	if err := validateNoOverlap[T](s, dst, src, myCount); err != nil {
		return err
	}
	unlock := s.lock()
	defer unlock()
	if err := shcoll.Collect[T](ctx, s.eng.Transport(), tm, dst, src, myCount, pSync, s.eng.CollectAlgo()); err != nil {
		return s.fatal(err)
	}
	return nil
}

// Fcollect is Collect with a fixed, equal contribution size per PE
// (spec.md §4.3.4).
func Fcollect[T shcoll.Number](ctx context.Context, s *Shmem, tm *team.Team, dst, src transport.Addr, perPECount int) error {
	pSync, err := s.teamPSync(tm)
	if err != nil {
		return err
	}
	if err := validateNoOverlap[T](s, dst, src, perPECount); err != nil {
		return err
	}
	unlock := s.lock()
	defer unlock()
	if err := shcoll.Fcollect[T](ctx, s.eng.Transport(), tm, dst, src, perPECount, pSync, s.eng.FcollectAlgo()); err != nil {
		return s.fatal(err)
	}
	return nil
}

// Alltoall exchanges one nelems-element block per pair of team members
// (spec.md §4.3.5).
func Alltoall[T shcoll.Number](ctx context.Context, s *Shmem, tm *team.Team, dst, src transport.Addr, nelems int, completion shcoll.CompletionVariant) error {
	pSync, err := s.teamPSync(tm)
	if err != nil {
		return err
	}
	if err := validateNoOverlap[T](s, dst, src, nelems*tm.NRanks()); err != nil {
		return err
	}
	unlock := s.lock()
	defer unlock()
	if err := shcoll.Alltoall[T](ctx, s.eng.Transport(), tm, dst, src, nelems, pSync, s.eng.AlltoallAlgo(), completion); err != nil {
		return s.fatal(err)
	}
	return nil
}

// Alltoalls is the strided all-to-all (spec.md §4.3.5 "alltoalls").
func Alltoalls[T shcoll.Number](ctx context.Context, s *Shmem, tm *team.Team, dst, src transport.Addr, nelems, dstStride, srcStride int, completion shcoll.CompletionVariant) error {
	pSync, err := s.teamPSync(tm)
	if err != nil {
		return err
	}
	stride := dstStride
	if srcStride > stride {
		stride = srcStride
	}
	if stride < 1 {
		stride = 1
	}
	span := nelems * tm.NRanks() * stride
	if err := validateNoOverlap[T](s, dst, src, span); err != nil {
		return err
	}
	unlock := s.lock()
	defer unlock()
	if err := shcoll.Alltoalls[T](ctx, s.eng.Transport(), tm, dst, src, nelems, dstStride, srcStride, pSync, s.eng.AlltoallAlgo(), completion); err != nil {
		return s.fatal(err)
	}
	return nil
}

// Reduce combines every team member's nelems-element src vector
// element-wise under op, leaving the result in dst on every PE (spec.md
// §4.3.6), using the engine's registered pWrk scratch region.
func Reduce[T shcoll.Number](ctx context.Context, s *Shmem, tm *team.Team, dst, src transport.Addr, nelems int, op shcoll.Op) error {
	pSync, err := s.teamPSync(tm)
	if err != nil {
		return err
	}
	algo := s.eng.ReduceAlgo()
	pWrk, pWrkLen, err := s.eng.PWrk(tm)
	if err != nil {
		return s.fatal(err)
	}
	if err := shcoll.ValidatePWrk(algo, nelems, int(pWrkLen)/shcoll.ElemSize[T]()); err != nil {
		return s.fatal(err)
	}
	if err := validateNoOverlap[T](s, dst, src, nelems); err != nil {
		return err
	}
	unlock := s.lock()
	defer unlock()
	if err := shcoll.Reduce[T](ctx, s.eng.Transport(), tm, dst, src, nelems, pSync, pWrk, op, algo); err != nil {
		return s.fatal(err)
	}
	return nil
}

// ReduceActiveSet is Reduce over spec.md's legacy "active set" form
// (PE_start, logPE_stride, PE_size) with caller-provided pSync/pWrk work
// buffers, whose minimum sizes internal/shcoll/pwrk.go specifies per
// algorithm (SPEC_FULL.md's supplemented legacy active-set reductions,
// resolving spec.md §9's pWrk-sizing open question).
func ReduceActiveSet[T shcoll.Number](ctx context.Context, s *Shmem, peStart, logPEStride, peSize int, dst, src transport.Addr, nelems int, pSync, pWrk transport.Addr, pWrkElems int, op shcoll.Op) error {
	algo := s.eng.ReduceAlgo()
	if err := shcoll.ValidatePWrk(algo, nelems, pWrkElems); err != nil {
		return s.fatal(err)
	}
	if err := validateNoOverlap[T](s, dst, src, nelems); err != nil {
		return err
	}
	unlock := s.lock()
	defer unlock()
	if err := shcoll.ReduceActiveSet[T](ctx, s.eng.Transport(), peStart, logPEStride, peSize, dst, src, nelems, pSync, pWrk, op, algo); err != nil {
		return s.fatal(err)
	}
	return nil
}
