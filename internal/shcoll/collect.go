package shcoll

import (
	"context"
	"fmt"

	"github.com/michael-beebe/osss-go/internal/team"
	"github.com/michael-beebe/osss-go/internal/treemath"
	"github.com/michael-beebe/osss-go/transport"
)

// CollectAlgorithm names one of spec.md §4.3.4's variable-size schemes.
type CollectAlgorithm int

const (
	CollectLinear CollectAlgorithm = iota
	CollectAllLinear
	CollectRecursiveDoubling
	CollectRecursiveDoublingSignal
	CollectRing
	CollectBruck
	CollectBruckNoRotate
	CollectSimple
)

// Collect concatenates every team member's variable-length contribution, in
// rank order, into dst on every PE (spec.md §4.3.4). myCount is this PE's
// element count; other PEs' counts are discovered via a prefix-sum exchange
// before the chosen algorithm moves any payload.
func Collect[T Number](ctx context.Context, t transport.Transport, tm *team.Team, dst, src transport.Addr, myCount int, pSync transport.Addr, algo CollectAlgorithm) error {
	ps := FromTeam(tm)
	if err := ps.validate(); err != nil {
		return err
	}
	es := elemSize[T]()
	counts, err := gatherCounts(ctx, t, ps, myCount, pSync)
	if err != nil {
		return fmt.Errorf("shcoll: collect count exchange: %w", err)
	}
	offsets := blockOffsets(counts)

	switch algo {
	case CollectLinear:
		return collectLinear(ctx, t, ps, dst, src, counts, offsets, es, pSync)
	case CollectAllLinear, CollectSimple:
		return collectAllLinear(ctx, t, ps, dst, src, counts, offsets, es, pSync)
	case CollectRecursiveDoubling:
		return collectRecursiveDoubling(ctx, t, ps, dst, src, counts, offsets, es, pSync, false)
	case CollectRecursiveDoublingSignal:
		return collectRecursiveDoubling(ctx, t, ps, dst, src, counts, offsets, es, pSync, true)
	case CollectRing:
		return collectRingFromSrc(ctx, t, ps, dst, src, counts, offsets, es, pSync)
	case CollectBruck:
		return collectBruck(ctx, t, ps, dst, src, counts, offsets, es, pSync, true)
	case CollectBruckNoRotate:
		return collectBruck(ctx, t, ps, dst, src, counts, offsets, es, pSync, false)
	default:
		return fmt.Errorf("shcoll: unknown collect algorithm %d", algo)
	}
}

// gatherCounts all-gathers each PE's element count into a dense []int
// indexed by team rank, reusing pSync[0:n) as the exchange area (reset to
// syncValue before return, per spec.md §8 "pSync hygiene"). Counts are
// biased by +1 in transit so the syncValue(0) sentinel never collides with
// a legitimate zero-length contribution.
func gatherCounts(ctx context.Context, t transport.Transport, ps peerSet, myCount int, pSync transport.Addr) ([]int, error) {
	n := ps.n()
	biased := uint64(myCount) + 1
	for r := 0; r < n; r++ {
		if err := t.AtomicSet(ctx, ps.pe(r), wordAt(pSync, ps.me), biased); err != nil {
			return nil, err
		}
	}
	counts := make([]int, n)
	for r := 0; r < n; r++ {
		slot := wordAt(pSync, r)
		if err := t.WaitUntil(ctx, slot, transport.CmpNE, syncValue); err != nil {
			return nil, err
		}
		word, err := t.AtomicFetch(ctx, t.Me(), slot)
		if err != nil {
			return nil, err
		}
		counts[r] = int(word - 1)
		if err := t.AtomicSet(ctx, t.Me(), slot, syncValue); err != nil {
			return nil, err
		}
	}
	return counts, nil
}

// blockCounts divides nelems as evenly as possible across n blocks, handing
// the remainder to the lowest-ranked blocks one element at a time (used by
// BroadcastScatterCollect to carve up a fixed-size buffer).
func blockCounts(nelems, n int) []int {
	counts := make([]int, n)
	base, rem := nelems/n, nelems%n
	for i := range counts {
		counts[i] = base
		if i < rem {
			counts[i]++
		}
	}
	return counts
}

func blockOffsets(counts []int) []int {
	offsets := make([]int, len(counts))
	sum := 0
	for i, c := range counts {
		offsets[i] = sum
		sum += c
	}
	return offsets
}

func totalElems(counts, offsets []int) int {
	if len(counts) == 0 {
		return 0
	}
	return offsets[len(offsets)-1] + counts[len(counts)-1]
}

// collectLinear: rank 0 Gets every PE's block (one-sided, no cooperation
// needed from non-root PEs beyond the count exchange already done) directly
// into its own dst, then funnels the assembled buffer out to everyone else.
func collectLinear(ctx context.Context, t transport.Transport, ps peerSet, dst, src transport.Addr, counts, offsets []int, es int, pSync transport.Addr) error {
	const root = 0
	if ps.me != root {
		return waitAndReset(ctx, t, pSync, 1)
	}
	for r := 0; r < ps.n(); r++ {
		if counts[r] == 0 {
			continue
		}
		off := transport.Addr(offsets[r] * es)
		buf := make([]byte, counts[r]*es)
		if err := t.Get(ctx, ps.pe(r), buf, src); err != nil {
			return err
		}
		if err := t.Put(ctx, t.Me(), dst+off, buf); err != nil {
			return err
		}
	}
	total := totalElems(counts, offsets) * es
	whole := make([]byte, total)
	if total > 0 {
		if err := t.Get(ctx, t.Me(), whole, dst); err != nil {
			return err
		}
	}
	for r := 0; r < ps.n(); r++ {
		if r == root {
			continue
		}
		if total > 0 {
			if err := t.PutNBI(ctx, ps.pe(r), dst, whole); err != nil {
				return err
			}
		}
	}
	if err := t.Quiet(ctx); err != nil {
		return err
	}
	for r := 0; r < ps.n(); r++ {
		if r == root {
			continue
		}
		if err := t.AtomicAdd(ctx, ps.pe(r), pSync, 1); err != nil {
			return err
		}
	}
	return nil
}

// collectAllLinear: every PE independently puts its own block into every
// other PE's dst at the correct offset (spec.md "every PE puts into every
// other"), then a counter completion confirms every block has landed.
func collectAllLinear(ctx context.Context, t transport.Transport, ps peerSet, dst, src transport.Addr, counts, offsets []int, es int, pSync transport.Addr) error {
	n := ps.n()
	my := counts[ps.me]
	if my > 0 {
		off := transport.Addr(offsets[ps.me] * es)
		buf := make([]byte, my*es)
		if err := t.Get(ctx, t.Me(), buf, src); err != nil {
			return err
		}
		for r := 0; r < n; r++ {
			if err := t.PutNBI(ctx, ps.pe(r), dst+off, buf); err != nil {
				return err
			}
		}
		if err := t.Quiet(ctx); err != nil {
			return err
		}
	}
	for r := 0; r < n; r++ {
		if err := t.AtomicAdd(ctx, ps.pe(r), pSync, 1); err != nil {
			return err
		}
	}
	return waitAndReset(ctx, t, pSync, uint64(n))
}

// collectRecursiveDoubling requires power-of-two team size: round r doubles
// the contiguous known range by exchanging with the peer at XOR-distance
// 2^r, per the standard recursive-doubling all-gather shape.
func collectRecursiveDoubling(ctx context.Context, t transport.Transport, ps peerSet, dst, src transport.Addr, counts, offsets []int, es int, pSync transport.Addr, withSignal bool) error {
	n := ps.n()
	if !treemath.IsPowerOfTwo(n) {
		return fmt.Errorf("shcoll: recursive-doubling collect requires a power-of-two team size, got %d", n)
	}
	my := counts[ps.me]
	if my > 0 {
		off := transport.Addr(offsets[ps.me] * es)
		buf := make([]byte, my*es)
		if err := t.Get(ctx, t.Me(), buf, src); err != nil {
			return err
		}
		if err := t.Put(ctx, t.Me(), dst+off, buf); err != nil {
			return err
		}
	}

	// After round r, each PE knows a contiguous run of 2^(r+1) ranks: the
	// run starting at the multiple of 2^(r+1) at or below its own rank.
	// Each round exchanges the run known *before* that round (2^r ranks)
	// with the partner at XOR-distance 2^r.
	rounds := treemath.Log2Ceil(n)
	for r := 0; r < rounds; r++ {
		partner := ps.me ^ (1 << uint(r))
		rangeLo := ps.me &^ ((1 << uint(r)) - 1)
		rangeHiExcl := rangeLo + (1 << uint(r))
		sz := (offsets[rangeHiExcl-1] + counts[rangeHiExcl-1] - offsets[rangeLo]) * es
		off := transport.Addr(offsets[rangeLo] * es)
		if sz > 0 {
			buf := make([]byte, sz)
			if err := t.Get(ctx, t.Me(), buf, dst+off); err != nil {
				return err
			}
			slot := wordAt(pSync, r)
			if withSignal {
				if err := t.PutSignal(ctx, ps.pe(partner), dst+off, buf, slot, 1, transport.SigSet); err != nil {
					return err
				}
			} else {
				if err := t.Put(ctx, ps.pe(partner), dst+off, buf); err != nil {
					return err
				}
				if err := t.AtomicAdd(ctx, ps.pe(partner), slot, 1); err != nil {
					return err
				}
			}
		}
		if err := waitAndReset(ctx, t, wordAt(pSync, r), 1); err != nil {
			return err
		}
	}
	return nil
}

// collectRingFromSrc first stages this PE's own block into dst, then runs
// the shared ring-forwarding helper.
func collectRingFromSrc(ctx context.Context, t transport.Transport, ps peerSet, dst, src transport.Addr, counts, offsets []int, es int, pSync transport.Addr) error {
	my := counts[ps.me]
	if my > 0 {
		off := transport.Addr(offsets[ps.me] * es)
		buf := make([]byte, my*es)
		if err := t.Get(ctx, t.Me(), buf, src); err != nil {
			return err
		}
		if err := t.Put(ctx, t.Me(), dst+off, buf); err != nil {
			return err
		}
	}
	return collectRingInPlace(ctx, t, ps, dst, counts, offsets, es, pSync)
}

// collectRingInPlace assumes every PE's own block is already staged in dst
// at its own offset, and forwards blocks around the ring n-1 times so every
// PE ends up with every block. Used by both CollectRing and
// BroadcastScatterCollect's reassembly phase.
func collectRingInPlace(ctx context.Context, t transport.Transport, ps peerSet, dst transport.Addr, counts, offsets []int, es int, pSync transport.Addr) error {
	n := ps.n()
	right := (ps.me + 1) % n
	left := (ps.me - 1 + n) % n

	haveRank := ps.me
	for step := 0; step < n-1; step++ {
		sz := counts[haveRank] * es
		if sz > 0 {
			off := transport.Addr(offsets[haveRank] * es)
			buf := make([]byte, sz)
			if err := t.Get(ctx, t.Me(), buf, dst+off); err != nil {
				return err
			}
			if err := t.Put(ctx, ps.pe(right), dst+off, buf); err != nil {
				return err
			}
		}
		slot := wordAt(pSync, step)
		if err := t.AtomicAdd(ctx, ps.pe(right), slot, 1); err != nil {
			return err
		}
		_ = left
		if err := waitAndReset(ctx, t, slot, 1); err != nil {
			return err
		}
		haveRank = (haveRank - 1 + n) % n
	}
	return nil
}

// collectBruck runs ⌈log2 n⌉ rounds doubling the contiguous accumulated
// byte range sent to peer (me-2^r+n) mod n (spec.md §4.3.4 "Bruck family
// details"); rotate selects whether the final local rotation by
// rank*block_bytes is applied, or whether (noRotate) the per-round
// addressing already accounts for the offset.
func collectBruck(ctx context.Context, t transport.Transport, ps peerSet, dst, src transport.Addr, counts, offsets []int, es int, pSync transport.Addr, rotate bool) error {
	n := ps.n()
	total := totalElems(counts, offsets)
	if total == 0 {
		return nil
	}
	// Stage every PE's own block at its natural offset first (needed so
	// each round's "accumulated bytes" covers a well-defined prefix).
	my := counts[ps.me]
	if my > 0 {
		off := transport.Addr(offsets[ps.me] * es)
		buf := make([]byte, my*es)
		if err := t.Get(ctx, t.Me(), buf, src); err != nil {
			return err
		}
		if err := t.Put(ctx, t.Me(), dst+off, buf); err != nil {
			return err
		}
	}

	rounds := treemath.Log2Ceil(n)
	for r := 0; r < rounds; r++ {
		d := 1 << uint(r)
		peer := ((ps.me - d) % n + n) % n
		sz := total * es
		buf := make([]byte, sz)
		if err := t.Get(ctx, t.Me(), buf, dst); err != nil {
			return err
		}
		if err := t.Put(ctx, ps.pe(peer), dst, buf); err != nil {
			return err
		}
		slot := wordAt(pSync, r)
		if err := t.AtomicAdd(ctx, ps.pe(peer), slot, 1); err != nil {
			return err
		}
		if err := waitAndReset(ctx, t, slot, 1); err != nil {
			return err
		}
	}

	if !rotate {
		return nil
	}
	// Rotate dst left by offsets[ps.me] elements so the buffer reads in
	// ascending rank order starting from rank 0, not from ps.me.
	whole := make([]byte, total*es)
	if err := t.Get(ctx, t.Me(), whole, dst); err != nil {
		return err
	}
	shift := offsets[ps.me] * es
	rotated := make([]byte, len(whole))
	copy(rotated, whole[shift:])
	copy(rotated[len(whole)-shift:], whole[:shift])
	return t.Put(ctx, t.Me(), dst, rotated)
}
