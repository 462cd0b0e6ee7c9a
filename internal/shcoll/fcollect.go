package shcoll

import (
	"context"
	"fmt"

	"github.com/michael-beebe/osss-go/internal/team"
	"github.com/michael-beebe/osss-go/internal/treemath"
	"github.com/michael-beebe/osss-go/transport"
)

// FcollectAlgorithm names one of spec.md §4.3.4's fixed-size schemes.
type FcollectAlgorithm int

const (
	FcollectLinear FcollectAlgorithm = iota
	FcollectAllLinear
	FcollectAllLinear1
	FcollectRecursiveDoubling
	FcollectRing
	FcollectBruck
	FcollectBruckNoRotate
	FcollectBruckSignal
	FcollectBruckInplace
	FcollectNeighborExchange
)

// Fcollect concatenates every team member's fixed-size, perPECount-element
// contribution into dst on every PE, in rank order (spec.md §4.3.4,
// "Fcollect shape": result length = nranks*per_pe_count*elem_size).
func Fcollect[T Number](ctx context.Context, t transport.Transport, tm *team.Team, dst, src transport.Addr, perPECount int, pSync transport.Addr, algo FcollectAlgorithm) error {
	ps := FromTeam(tm)
	if err := ps.validate(); err != nil {
		return err
	}
	es := elemSize[T]()
	n := ps.n()
	counts := make([]int, n)
	for i := range counts {
		counts[i] = perPECount
	}
	offsets := blockOffsets(counts)

	switch algo {
	case FcollectLinear:
		return collectLinear(ctx, t, ps, dst, src, counts, offsets, es, pSync)
	case FcollectAllLinear:
		return collectAllLinear(ctx, t, ps, dst, src, counts, offsets, es, pSync)
	case FcollectAllLinear1:
		return fcollectAllLinear1(ctx, t, ps, dst, src, perPECount, es, pSync)
	case FcollectRecursiveDoubling:
		return collectRecursiveDoubling(ctx, t, ps, dst, src, counts, offsets, es, pSync, false)
	case FcollectRing:
		return collectRingFromSrc(ctx, t, ps, dst, src, counts, offsets, es, pSync)
	case FcollectBruck:
		return collectBruck(ctx, t, ps, dst, src, counts, offsets, es, pSync, true)
	case FcollectBruckNoRotate:
		return collectBruck(ctx, t, ps, dst, src, counts, offsets, es, pSync, false)
	case FcollectBruckSignal:
		return fcollectBruckSignal(ctx, t, ps, dst, src, perPECount, es, pSync)
	case FcollectBruckInplace:
		return fcollectBruckInplace(ctx, t, ps, dst, src, perPECount, es, pSync)
	case FcollectNeighborExchange:
		return fcollectNeighborExchange(ctx, t, ps, dst, src, perPECount, es, pSync)
	default:
		return fmt.Errorf("shcoll: unknown fcollect algorithm %d", algo)
	}
}

// fcollectAllLinear1 is all-linear's degenerate single-round cousin: every
// PE sends its block to every other PE and waits for exactly one arrival
// signal per peer (rather than a single summed counter), matching the
// "all-linear1" naming's distinction from plain all-linear in the pack's
// collective-algorithm vocabulary.
func fcollectAllLinear1(ctx context.Context, t transport.Transport, ps peerSet, dst, src transport.Addr, perPECount, es int, pSync transport.Addr) error {
	n := ps.n()
	off := transport.Addr(ps.me * perPECount * es)
	sz := perPECount * es
	if sz > 0 {
		buf := make([]byte, sz)
		if err := t.Get(ctx, t.Me(), buf, src); err != nil {
			return err
		}
		for r := 0; r < n; r++ {
			if err := t.Put(ctx, ps.pe(r), dst+off, buf); err != nil {
				return err
			}
			if err := t.AtomicSet(ctx, ps.pe(r), wordAt(pSync, ps.me), 1); err != nil {
				return err
			}
		}
	}
	for r := 0; r < n; r++ {
		if err := waitAndReset(ctx, t, wordAt(pSync, r), 1); err != nil {
			return err
		}
	}
	return nil
}

func fcollectBruckSignal(ctx context.Context, t transport.Transport, ps peerSet, dst, src transport.Addr, perPECount, es int, pSync transport.Addr) error {
	n := ps.n()
	off := transport.Addr(ps.me * perPECount * es)
	sz := perPECount * es
	if sz > 0 {
		buf := make([]byte, sz)
		if err := t.Get(ctx, t.Me(), buf, src); err != nil {
			return err
		}
		if err := t.Put(ctx, t.Me(), dst+off, buf); err != nil {
			return err
		}
	}
	rounds := treemath.Log2Ceil(n)
	total := n * perPECount * es
	for r := 0; r < rounds; r++ {
		d := 1 << uint(r)
		peer := ((ps.me-d)%n + n) % n
		buf := make([]byte, total)
		if err := t.Get(ctx, t.Me(), buf, dst); err != nil {
			return err
		}
		slot := wordAt(pSync, r)
		if err := t.PutSignal(ctx, ps.pe(peer), dst, buf, slot, 1, transport.SigSet); err != nil {
			return err
		}
		if err := waitAndReset(ctx, t, slot, 1); err != nil {
			return err
		}
	}
	return rotateLeft(ctx, t, dst, ps.me*perPECount*es, total)
}

// fcollectBruckInplace is Bruck's algorithm addressed so the final rotation
// is unnecessary: each round writes directly into the destination slot the
// data will occupy in the final, rank-ordered layout instead of an
// always-starting-at-0 accumulation buffer.
func fcollectBruckInplace(ctx context.Context, t transport.Transport, ps peerSet, dst, src transport.Addr, perPECount, es int, pSync transport.Addr) error {
	n := ps.n()
	off := transport.Addr(ps.me * perPECount * es)
	sz := perPECount * es
	if sz > 0 {
		buf := make([]byte, sz)
		if err := t.Get(ctx, t.Me(), buf, src); err != nil {
			return err
		}
		if err := t.Put(ctx, t.Me(), dst+off, buf); err != nil {
			return err
		}
	}
	rounds := treemath.Log2Ceil(n)
	have := 1 // number of contiguous (mod n) blocks, starting at ps.me, known so far
	for r := 0; r < rounds; r++ {
		d := 1 << uint(r)
		peer := ((ps.me-d)%n + n) % n
		blockSz := have * perPECount * es
		srcBlockOff := transport.Addr((((ps.me-have+1)%n + n) % n) * perPECount * es)
		buf := make([]byte, blockSz)
		if err := t.Get(ctx, t.Me(), buf, dst+srcBlockOff); err != nil {
			return err
		}
		dstBlockOff := transport.Addr((((peer-have+1)%n + n) % n) * perPECount * es)
		if err := t.Put(ctx, ps.pe(peer), dst+dstBlockOff, buf); err != nil {
			return err
		}
		slot := wordAt(pSync, r)
		if err := t.AtomicAdd(ctx, ps.pe(peer), slot, 1); err != nil {
			return err
		}
		if err := waitAndReset(ctx, t, slot, 1); err != nil {
			return err
		}
		have *= 2
	}
	return nil
}

// fcollectNeighborExchange is only defined for even team sizes (spec.md
// §4.3.4): each PE exchanges with rank±1 mod n over n/2 rounds, its known
// range growing by one block on each side per round (1, 3, 5, ... blocks
// sent); the block exchanged does not double from round to round.
func fcollectNeighborExchange(ctx context.Context, t transport.Transport, ps peerSet, dst, src transport.Addr, perPECount, es int, pSync transport.Addr) error {
	n := ps.n()
	if n%2 != 0 {
		return fmt.Errorf("shcoll: neighbor-exchange fcollect requires an even team size, got %d", n)
	}
	off := transport.Addr(ps.me * perPECount * es)
	sz := perPECount * es
	if sz > 0 {
		buf := make([]byte, sz)
		if err := t.Get(ctx, t.Me(), buf, src); err != nil {
			return err
		}
		if err := t.Put(ctx, t.Me(), dst+off, buf); err != nil {
			return err
		}
	}

	// Each round this PE exchanges its currently-known contiguous (mod n)
	// range with BOTH ring neighbors at once: the right neighbor receives
	// everything known so far and the range grows by one block on the
	// right; symmetrically for the left. After nranks/2 rounds the known
	// range has grown by nranks/2 on each side, covering the full ring.
	rounds := n / 2
	right, left := (ps.me+1)%n, (ps.me-1+n)%n
	haveLo, haveHi := ps.me, ps.me // inclusive known range (mod n)
	for r := 0; r < rounds; r++ {
		blockLen := ((haveHi-haveLo)%n + n) % n + 1
		off := transport.Addr((((haveLo % n) + n) % n) * perPECount * es)
		sz := blockLen * perPECount * es
		buf := make([]byte, sz)
		if err := t.Get(ctx, t.Me(), buf, dst+off); err != nil {
			return err
		}
		rightSlot, leftSlot := wordAt(pSync, 2*r), wordAt(pSync, 2*r+1)
		if err := t.Put(ctx, ps.pe(right), dst+off, buf); err != nil {
			return err
		}
		if err := t.AtomicAdd(ctx, ps.pe(right), rightSlot, 1); err != nil {
			return err
		}
		if err := t.Put(ctx, ps.pe(left), dst+off, buf); err != nil {
			return err
		}
		if err := t.AtomicAdd(ctx, ps.pe(left), leftSlot, 1); err != nil {
			return err
		}
		if err := waitAndReset(ctx, t, rightSlot, 1); err != nil {
			return err
		}
		if err := waitAndReset(ctx, t, leftSlot, 1); err != nil {
			return err
		}
		haveLo--
		haveHi++
	}
	return nil
}

func rotateLeft(ctx context.Context, t transport.Transport, dst transport.Addr, shift, total int) error {
	if shift == 0 || total == 0 {
		return nil
	}
	whole := make([]byte, total)
	if err := t.Get(ctx, t.Me(), whole, dst); err != nil {
		return err
	}
	rotated := make([]byte, total)
	copy(rotated, whole[shift:])
	copy(rotated[total-shift:], whole[:shift])
	return t.Put(ctx, t.Me(), dst, rotated)
}
