package shcoll

import (
	"context"
	"fmt"

	"github.com/michael-beebe/osss-go/internal/team"
	"github.com/michael-beebe/osss-go/internal/treemath"
	"github.com/michael-beebe/osss-go/transport"
)

// AlltoallAlgorithm names one of spec.md §4.3.5's exchange schedules.
type AlltoallAlgorithm int

const (
	AlltoallShiftExchange AlltoallAlgorithm = iota
	AlltoallXORPairwise
	AlltoallColorPairwise
)

// CompletionVariant names one of spec.md §4.3.5's three ways an alltoall
// learns that every peer's puts have landed.
type CompletionVariant int

const (
	CompletionBarrier CompletionVariant = iota
	CompletionCounter
	CompletionSignal
)

// Alltoall exchanges one nelems-element block per pair of PEs: after
// return, dest[k*nelems:(k+1)*nelems) on PE j equals source[j*nelems:
// (j+1)*nelems) on PE k (spec.md §8 "Alltoall shape").
func Alltoall[T Number](ctx context.Context, t transport.Transport, tm *team.Team, dst, src transport.Addr, nelems int, pSync transport.Addr, algo AlltoallAlgorithm, completion CompletionVariant) error {
	return Alltoalls[T](ctx, t, tm, dst, src, nelems, 1, 1, pSync, algo, completion)
}

// Alltoalls is the strided all-to-all (spec.md §4.3.5 "alltoalls"): for
// element t in [0,nelems), the source offset of the block destined for peer
// l is (l*nelems+t)*srcStride elements, and the destination offset of the
// block received from peer k is (k*nelems+t)*dstStride elements.
func Alltoalls[T Number](ctx context.Context, t transport.Transport, tm *team.Team, dst, src transport.Addr, nelems, dstStride, srcStride int, pSync transport.Addr, algo AlltoallAlgorithm, completion CompletionVariant) error {
	ps := FromTeam(tm)
	if err := ps.validate(); err != nil {
		return err
	}
	n := ps.n()
	es := elemSize[T]()

	exchange := func(ctx context.Context, putBlock func(peer transport.PE, toSlot int) error) error {
		switch algo {
		case AlltoallShiftExchange:
			for r := 0; r < n; r++ {
				peer := (ps.me + r) % n
				if err := putBlock(ps.pe(peer), peer); err != nil {
					return err
				}
			}
			return nil
		case AlltoallXORPairwise:
			if !treemath.IsPowerOfTwo(n) {
				return fmt.Errorf("shcoll: XOR-pairwise alltoall requires a power-of-two team size, got %d", n)
			}
			for r := 0; r < n; r++ {
				peer := ps.me ^ r
				if err := putBlock(ps.pe(peer), peer); err != nil {
					return err
				}
			}
			return nil
		case AlltoallColorPairwise:
			if n%2 != 0 {
				return fmt.Errorf("shcoll: color-pairwise alltoall requires an even team size, got %d", n)
			}
			if err := putBlock(ps.self(), ps.me); err != nil {
				return err
			}
			rounds := treemath.ColorRounds(n)
			for r := 0; r < rounds; r++ {
				peer := treemath.ColorPartner(n, ps.me, r)
				if peer == -1 {
					continue
				}
				if err := putBlock(ps.pe(peer), peer); err != nil {
					return err
				}
			}
			return nil
		default:
			return fmt.Errorf("shcoll: unknown alltoall algorithm %d", algo)
		}
	}

	blockOf := func(peer int) ([]byte, error) {
		buf := make([]byte, nelems*es)
		if srcStride == 1 {
			off := transport.Addr(peer * nelems * es)
			if err := t.Get(ctx, t.Me(), buf, src+off); err != nil {
				return nil, err
			}
			return buf, nil
		}
		elem := make([]byte, es)
		for k := 0; k < nelems; k++ {
			off := transport.Addr((peer*nelems+k)*srcStride*es)
			if err := t.Get(ctx, t.Me(), elem, src+off); err != nil {
				return nil, err
			}
			copy(buf[k*es:(k+1)*es], elem)
		}
		return buf, nil
	}

	putAt := func(peer transport.PE, fromSlot int, signal bool, sigAddr transport.Addr) error {
		buf, err := blockOf(fromSlot)
		if err != nil {
			return err
		}
		// The self block never crosses the wire to a peer that will
		// increment pSync for it, so it must never signal either — the
		// wait target is n-1 remote signals, not n.
		if signal && peer == ps.self() {
			signal = false
		}
		if dstStride == 1 {
			off := transport.Addr(ps.me * nelems * es)
			if signal {
				return t.PutSignalNBI(ctx, peer, dst+off, buf, sigAddr, 1, transport.SigAdd)
			}
			return t.PutNBI(ctx, peer, dst+off, buf)
		}
		for k := 0; k < nelems; k++ {
			off := transport.Addr((ps.me*nelems+k)*dstStride*es)
			elem := buf[k*es : (k+1)*es]
			if signal && k == nelems-1 {
				if err := t.PutSignalNBI(ctx, peer, dst+off, elem, sigAddr, 1, transport.SigAdd); err != nil {
					return err
				}
				continue
			}
			if err := t.PutNBI(ctx, peer, dst+off, elem); err != nil {
				return err
			}
		}
		return nil
	}

	switch completion {
	case CompletionBarrier:
		if err := exchange(ctx, func(peer transport.PE, slot int) error {
			return putAt(peer, slot, false, 0)
		}); err != nil {
			return err
		}
		if err := t.Quiet(ctx); err != nil {
			return err
		}
		return t.Barrier(ctx, ps.peers)
	case CompletionCounter:
		if err := exchange(ctx, func(peer transport.PE, slot int) error {
			return putAt(peer, slot, false, 0)
		}); err != nil {
			return err
		}
		if err := t.Quiet(ctx); err != nil {
			return err
		}
		for r := 0; r < n; r++ {
			if r == ps.me {
				continue
			}
			if err := t.AtomicAdd(ctx, ps.pe(r), pSync, 1); err != nil {
				return err
			}
		}
		return waitAndReset(ctx, t, pSync, uint64(n-1))
	case CompletionSignal:
		if err := exchange(ctx, func(peer transport.PE, slot int) error {
			return putAt(peer, slot, true, pSync)
		}); err != nil {
			return err
		}
		if ps.n() == 1 {
			return nil
		}
		return waitAndReset(ctx, t, pSync, uint64(n-1))
	default:
		return fmt.Errorf("shcoll: unknown alltoall completion variant %d", completion)
	}
}
