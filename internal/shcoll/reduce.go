package shcoll

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/michael-beebe/osss-go/internal/team"
	"github.com/michael-beebe/osss-go/internal/treemath"
	"github.com/michael-beebe/osss-go/transport"
)

// Op names one of spec.md §4.3.6's reduction operators.
type Op int

const (
	OpAnd Op = iota
	OpOr
	OpXor
	OpMin
	OpMax
	OpSum
	OpProd
)

func (op Op) requiresInteger() bool {
	return op == OpAnd || op == OpOr || op == OpXor
}

// ReduceAlgorithm names one of spec.md §4.3.6's schemes.
type ReduceAlgorithm int

const (
	ReduceLinear ReduceAlgorithm = iota
	ReduceBinomial
	ReduceRecursiveDoubling
	ReduceRabenseifner
	ReduceRabenseifner2
)

// Reduce combines every team member's nelems-element src vector element-wise
// under op, leaving the result in dst on every PE (spec.md §4.3.6). pWrk must
// address a scratch region at least MinPWrkElems(algo, nelems) elements wide;
// pSync is sized per
// the chosen algorithm (every algorithm here uses at most a handful of
// wordSize-byte slots per round, well within spec.md's pSync budget).
//
// AND/OR/XOR are only defined for integer T (spec.md "integer types only");
// passing one with a floating-point T is a configuration error, reported as
// spec.md §7's "invalid argument" kind.
func Reduce[T Number](ctx context.Context, t transport.Transport, tm *team.Team, dst, src transport.Addr, nelems int, pSync, pWrk transport.Addr, op Op, algo ReduceAlgorithm) error {
	return reduceOverPeers[T](ctx, t, FromTeam(tm), dst, src, nelems, pSync, pWrk, op, algo)
}

// ReduceActiveSet is Reduce over spec.md's legacy "active set" form
// (PE_start, logPE_stride, PE_size) instead of a *team.Team — GLOSSARY
// "Active set", SPEC_FULL.md's supplemented legacy active-set reductions.
// The caller is responsible for sizing pWrk per MinPWrkElems/ValidatePWrk.
func ReduceActiveSet[T Number](ctx context.Context, t transport.Transport, peStart, logPEStride, peSize int, dst, src transport.Addr, nelems int, pSync, pWrk transport.Addr, op Op, algo ReduceAlgorithm) error {
	ps, err := ActiveSet(peStart, logPEStride, peSize, t.Me())
	if err != nil {
		return err
	}
	return reduceOverPeers[T](ctx, t, ps, dst, src, nelems, pSync, pWrk, op, algo)
}

func reduceOverPeers[T Number](ctx context.Context, t transport.Transport, ps peerSet, dst, src transport.Addr, nelems int, pSync, pWrk transport.Addr, op Op, algo ReduceAlgorithm) error {
	if err := ps.validate(); err != nil {
		return err
	}
	if op.requiresInteger() && !isInteger[T]() {
		return fmt.Errorf("shcoll: reduce op %d requires an integer element type", op)
	}
	if nelems == 0 {
		return nil
	}

	switch algo {
	case ReduceLinear:
		return reduceLinear[T](ctx, t, ps, dst, src, nelems, pSync, op)
	case ReduceBinomial:
		return reduceBinomial[T](ctx, t, ps, dst, src, nelems, pSync, pWrk, op)
	case ReduceRecursiveDoubling:
		return reduceRecursiveDoubling[T](ctx, t, ps, dst, src, nelems, pSync, pWrk, op)
	case ReduceRabenseifner:
		return reduceRabenseifner[T](ctx, t, ps, dst, src, nelems, pSync, pWrk, op, false)
	case ReduceRabenseifner2:
		return reduceRabenseifner[T](ctx, t, ps, dst, src, nelems, pSync, pWrk, op, true)
	default:
		return fmt.Errorf("shcoll: unknown reduce algorithm %d", algo)
	}
}

// isInteger reports whether T is one of constraints.Integer's concrete
// types. Used only to validate AND/OR/XOR's element-type requirement; the
// arithmetic itself never needs to know which concrete integer type it is
// operating on.
func isInteger[T Number]() bool {
	var zero T
	switch any(zero).(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, uintptr:
		return true
	default:
		return false
	}
}

// combine applies op to a pair of elements. SUM/PROD/MIN/MAX work uniformly
// across Number (both Integer and Float support +, *, < and >); AND/OR/XOR
// operate byte-wise via bitwiseOp, which Reduce has already gated to integer
// T only.
func combine[T Number](op Op, a, b T) T {
	switch op {
	case OpSum:
		return a + b
	case OpProd:
		return a * b
	case OpMin:
		if b < a {
			return b
		}
		return a
	case OpMax:
		if b > a {
			return b
		}
		return a
	case OpAnd, OpOr, OpXor:
		return bitwiseOp(op, a, b)
	default:
		return a
	}
}

// bitwiseOp applies a bitwise operator byte-wise over T's raw representation
// via unsafe.Slice, the same zero-copy reinterpretation bytesOf uses — this
// sidesteps needing one case per concrete integer width/signedness, since
// Go's type system forbids &/|/^ on a type parameter whose constraint
// (Number) also admits floats.
func bitwiseOp[T Number](op Op, a, b T) T {
	sz := int(unsafe.Sizeof(a))
	ab := unsafe.Slice((*byte)(unsafe.Pointer(&a)), sz)
	bb := unsafe.Slice((*byte)(unsafe.Pointer(&b)), sz)
	var r T
	rb := unsafe.Slice((*byte)(unsafe.Pointer(&r)), sz)
	for i := 0; i < sz; i++ {
		switch op {
		case OpAnd:
			rb[i] = ab[i] & bb[i]
		case OpOr:
			rb[i] = ab[i] | bb[i]
		case OpXor:
			rb[i] = ab[i] ^ bb[i]
		}
	}
	return r
}

func reduceLinear[T Number](ctx context.Context, t transport.Transport, ps peerSet, dst, src transport.Addr, nelems int, pSync transport.Addr, op Op) error {
	const root = 0
	if ps.me != root {
		return waitAndReset(ctx, t, pSync, 1)
	}
	acc := make([]T, nelems)
	if err := t.Get(ctx, ps.pe(root), bytesOf(acc), src); err != nil {
		return err
	}
	buf := make([]T, nelems)
	for r := 1; r < ps.n(); r++ {
		if err := t.Get(ctx, ps.pe(r), bytesOf(buf), src); err != nil {
			return err
		}
		for i := range acc {
			acc[i] = combine(op, acc[i], buf[i])
		}
	}
	if err := t.Put(ctx, t.Me(), dst, bytesOf(acc)); err != nil {
		return err
	}
	for r := 0; r < ps.n(); r++ {
		if r == root {
			continue
		}
		if err := t.PutNBI(ctx, ps.pe(r), dst, bytesOf(acc)); err != nil {
			return err
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

// reduceBinomial reduces up root's complete radix-2 tree
// (treemath.Parent/Children with defaultRadix, not the
// treemath.BinomialParent/BinomialChildren geometry; each node folds its
// children's partial sums into its own), then broadcasts the final value
// back down the same tree.
func reduceBinomial[T Number](ctx context.Context, t transport.Transport, ps peerSet, dst, src transport.Addr, nelems int, pSync, pWrk transport.Addr, op Op) error {
	const root = 0
	n := ps.n()
	es := elemSize[T]()
	parent := treemath.Parent(n, root, defaultRadix, ps.me)
	children := treemath.Children(n, root, defaultRadix, ps.me)

	acc := make([]T, nelems)
	if err := t.Get(ctx, t.Me(), bytesOf(acc), src); err != nil {
		return err
	}

	// Up-phase: wait for each child (in any order) to deposit its partial
	// vector into our pWrk slot, fold it in.
	buf := make([]T, nelems)
	for i := range children {
		slot := wordAt(pSync, i)
		if err := waitAndReset(ctx, t, slot, 1); err != nil {
			return err
		}
		if err := t.Get(ctx, t.Me(), bytesOf(buf), pWrk+transport.Addr(i*nelems*es)); err != nil {
			return err
		}
		for j := range acc {
			acc[j] = combine(op, acc[j], buf[j])
		}
	}

	if ps.me != root {
		idx := childIndex(n, root, defaultRadix, parent, ps.me)
		off := pWrk + transport.Addr(idx*nelems*es)
		if err := t.Put(ctx, ps.pe(parent), off, bytesOf(acc)); err != nil {
			return err
		}
		if err := t.AtomicAdd(ctx, ps.pe(parent), wordAt(pSync, idx), 1); err != nil {
			return err
		}
	}

	// Down-phase: same tree, root's final vector flows to every descendant.
	doneSlot := wordAt(pSync, defaultRadix+1)
	if ps.me == root {
		if err := t.Put(ctx, t.Me(), dst, bytesOf(acc)); err != nil {
			return err
		}
	} else {
		if err := waitAndReset(ctx, t, doneSlot, 1); err != nil {
			return err
		}
		if err := t.Get(ctx, t.Me(), bytesOf(acc), dst); err != nil {
			return err
		}
	}
	for _, c := range children {
		if err := t.Put(ctx, ps.pe(c), dst, bytesOf(acc)); err != nil {
			return err
		}
		if err := t.AtomicAdd(ctx, ps.pe(c), doneSlot, 1); err != nil {
			return err
		}
	}
	return nil
}

// childIndex returns which position in parent's treemath.Children(...) list
// corresponds to the given child rank, so reduceBinomial's up-phase and
// down-phase agree on pWrk/pSync slot numbering per child.
func childIndex(n, root, radix, parent, child int) int {
	for i, c := range treemath.Children(n, root, radix, parent) {
		if c == child {
			return i
		}
	}
	return 0
}

// reduceRecursiveDoubling requires a power-of-two team size directly on the
// core; non-power-of-two teams fold the "extra" PEs into a power-of-two core
// first and unfold the result at the end (spec.md §4.3.6). Every round
// exchanges and locally reduces the *full* vector with the XOR-distance
// partner, so every core PE ends up holding the complete reduction with no
// separate broadcast phase needed.
func reduceRecursiveDoubling[T Number](ctx context.Context, t transport.Transport, ps peerSet, dst, src transport.Addr, nelems int, pSync, pWrk transport.Addr, op Op) error {
	return reducePow2Core[T](ctx, t, ps, dst, src, nelems, pSync, pWrk, op, func(ctx context.Context, acc []T, coreRank, coreN int) error {
		rounds := treemath.Log2Ceil(coreN)
		buf := make([]T, nelems)
		for r := 0; r < rounds; r++ {
			partner := coreRank ^ (1 << uint(r))
			slot := wordAt(pSync, r)
			if err := t.Put(ctx, ps.pe(partner), pWrk, bytesOf(acc)); err != nil {
				return err
			}
			if err := t.AtomicAdd(ctx, ps.pe(partner), slot, 1); err != nil {
				return err
			}
			if err := waitAndReset(ctx, t, slot, 1); err != nil {
				return err
			}
			if err := t.Get(ctx, t.Me(), bytesOf(buf), pWrk); err != nil {
				return err
			}
			for i := range acc {
				acc[i] = combine(op, acc[i], buf[i])
			}
		}
		return nil
	})
}

// reducePow2Core implements spec.md's non-power-of-two folding: each of the
// first `extra` core ranks absorbs one "extra" PE's vector before running
// coreOp (which assumes an exact power-of-two participant count, densely
// numbered [0, pow2) by real team rank), then mirrors the final vector back
// out to the PEs that were folded away.
func reducePow2Core[T Number](ctx context.Context, t transport.Transport, ps peerSet, dst, src transport.Addr, nelems int, pSync, pWrk transport.Addr, op Op, coreOp func(ctx context.Context, acc []T, coreRank, coreN int) error) error {
	n := ps.n()
	pow2 := 1
	for pow2*2 <= n {
		pow2 *= 2
	}
	extra := n - pow2

	acc := make([]T, nelems)
	if err := t.Get(ctx, t.Me(), bytesOf(acc), src); err != nil {
		return err
	}

	inCore := ps.me < pow2
	isFolded := ps.me >= pow2
	foldSlot := wordAt(pSync, 63) // reserved slot for fold-in/unfold handshakes

	if isFolded {
		partner := ps.me - pow2
		if err := t.Put(ctx, ps.pe(partner), pWrk, bytesOf(acc)); err != nil {
			return err
		}
		if err := t.AtomicAdd(ctx, ps.pe(partner), foldSlot, 1); err != nil {
			return err
		}
	} else if ps.me < extra {
		if err := waitAndReset(ctx, t, foldSlot, 1); err != nil {
			return err
		}
		buf := make([]T, nelems)
		if err := t.Get(ctx, t.Me(), bytesOf(buf), pWrk); err != nil {
			return err
		}
		for i := range acc {
			acc[i] = combine(op, acc[i], buf[i])
		}
	}

	if inCore {
		if err := coreOp(ctx, acc, ps.me, pow2); err != nil {
			return err
		}
		if err := t.Put(ctx, t.Me(), dst, bytesOf(acc)); err != nil {
			return err
		}
	}

	if isFolded {
		if err := waitAndReset(ctx, t, foldSlot, 1); err != nil {
			return err
		}
		if err := t.Get(ctx, t.Me(), bytesOf(acc), dst); err != nil {
			return err
		}
	} else if ps.me < extra {
		folded := pow2 + ps.me
		if err := t.Put(ctx, ps.pe(folded), dst, bytesOf(acc)); err != nil {
			return err
		}
		if err := t.AtomicAdd(ctx, ps.pe(folded), foldSlot, 1); err != nil {
			return err
		}
	}
	return nil
}

// reduceRabenseifner implements both Rabenseifner (recursive-doubling
// all-gather) and Rabenseifner-2 (ring all-gather): the power-of-two core
// first reduce-scatters the vector (each of log2(coreN) rounds halves the
// live range, exchanging and reducing only the half assigned to the far
// side), then all-gathers the per-rank shards back into a full vector using
// the selected topology.
func reduceRabenseifner[T Number](ctx context.Context, t transport.Transport, ps peerSet, dst, src transport.Addr, nelems int, pSync, pWrk transport.Addr, op Op, ring bool) error {
	es := elemSize[T]()
	return reducePow2Core[T](ctx, t, ps, dst, src, nelems, pSync, pWrk, op, func(ctx context.Context, acc []T, coreRank, coreN int) error {
		rounds := treemath.Log2Ceil(coreN)
		lo, hi := 0, nelems
		for r := 0; r < rounds; r++ {
			partner := coreRank ^ (1 << uint(r))
			mid := (lo + hi) / 2
			var keepLo, keepHi, sendLo, sendHi int
			if coreRank < partner {
				keepLo, keepHi = lo, mid
				sendLo, sendHi = mid, hi
			} else {
				keepLo, keepHi = mid, hi
				sendLo, sendHi = lo, mid
			}
			if sendHi > sendLo {
				seg := acc[sendLo:sendHi]
				off := pWrk + transport.Addr(sendLo*es)
				if err := t.Put(ctx, ps.pe(partner), off, bytesOf(seg)); err != nil {
					return err
				}
			}
			slot := wordAt(pSync, r)
			if err := t.AtomicAdd(ctx, ps.pe(partner), slot, 1); err != nil {
				return err
			}
			if err := waitAndReset(ctx, t, slot, 1); err != nil {
				return err
			}
			if keepHi > keepLo {
				buf := make([]T, keepHi-keepLo)
				off := pWrk + transport.Addr(keepLo*es)
				if err := t.Get(ctx, t.Me(), bytesOf(buf), off); err != nil {
					return err
				}
				for i := range buf {
					acc[keepLo+i] = combine(op, acc[keepLo+i], buf[i])
				}
			}
			lo, hi = keepLo, keepHi
		}
		_, _ = lo, hi

		if ring {
			return rabenseifnerRingAllgather[T](ctx, t, ps, acc, coreRank, coreN, pWrk, pSync, rounds)
		}
		return rabenseifnerDoublingAllgather[T](ctx, t, ps, acc, coreRank, coreN, pWrk, pSync, rounds)
	})
}

// recomputeShard derives rank i's final reduce-scattered range by replaying
// the same deterministic lo/hi halving every rank performs during
// reduceRabenseifner's reduce-scatter phase.
func recomputeShard(rank, coreN, nelems int) (int, int) {
	rounds := treemath.Log2Ceil(coreN)
	lo, hi := 0, nelems
	for r := 0; r < rounds; r++ {
		partner := rank ^ (1 << uint(r))
		mid := (lo + hi) / 2
		if rank < partner {
			lo, hi = lo, mid
		} else {
			lo, hi = mid, hi
		}
	}
	return lo, hi
}

// rabenseifnerDoublingAllgather mirrors the reduce-scatter's recursive
// doubling in reverse: each round exchanges the currently-known contiguous
// shard range with the XOR-distance partner, doubling coverage until every
// core rank holds the full vector.
func rabenseifnerDoublingAllgather[T Number](ctx context.Context, t transport.Transport, ps peerSet, acc []T, coreRank, coreN int, pWrk, pSync transport.Addr, reduceRounds int) error {
	es := elemSize[T]()
	lo, hi := recomputeShard(coreRank, coreN, len(acc))
	rounds := treemath.Log2Ceil(coreN)
	for r := rounds - 1; r >= 0; r-- {
		partner := coreRank ^ (1 << uint(r))
		// The partner sends the range it knows at this point: its range
		// after reduce-scatter rounds 0..r.
		partnerLo, partnerHi := 0, len(acc)
		for q := 0; q <= r; q++ {
			mid := (partnerLo + partnerHi) / 2
			if partner < partner^(1<<uint(q)) {
				partnerHi = mid
			} else {
				partnerLo = mid
			}
		}
		if hi > lo {
			seg := acc[lo:hi]
			off := pWrk + transport.Addr(lo*es)
			if err := t.Put(ctx, ps.pe(partner), off, bytesOf(seg)); err != nil {
				return err
			}
		}
		slot := wordAt(pSync, reduceRounds+(rounds-1-r))
		if err := t.AtomicAdd(ctx, ps.pe(partner), slot, 1); err != nil {
			return err
		}
		if err := waitAndReset(ctx, t, slot, 1); err != nil {
			return err
		}
		if partnerHi > partnerLo {
			buf := make([]T, partnerHi-partnerLo)
			off := pWrk + transport.Addr(partnerLo*es)
			if err := t.Get(ctx, t.Me(), bytesOf(buf), off); err != nil {
				return err
			}
			copy(acc[partnerLo:partnerHi], buf)
		}
		if lo > partnerLo {
			lo = partnerLo
		}
		if hi < partnerHi {
			hi = partnerHi
		}
	}
	return nil
}

// rabenseifnerRingAllgather all-gathers the reduce-scattered shards around
// the ring: coreN-1 forwarding steps, each relaying the most recently
// received shard to the next rank.
func rabenseifnerRingAllgather[T Number](ctx context.Context, t transport.Transport, ps peerSet, acc []T, coreRank, coreN int, pWrk, pSync transport.Addr, reduceRounds int) error {
	es := elemSize[T]()
	right := (coreRank + 1) % coreN
	haveRank := coreRank
	for step := 0; step < coreN-1; step++ {
		lo, hi := recomputeShard(haveRank, coreN, len(acc))
		if hi > lo {
			seg := acc[lo:hi]
			off := pWrk + transport.Addr(lo*es)
			if err := t.Put(ctx, ps.pe(right), off, bytesOf(seg)); err != nil {
				return err
			}
		}
		slot := wordAt(pSync, reduceRounds+step)
		if err := t.AtomicAdd(ctx, ps.pe(right), slot, 1); err != nil {
			return err
		}
		if err := waitAndReset(ctx, t, slot, 1); err != nil {
			return err
		}
		recvRank := (haveRank - 1 + coreN) % coreN
		recvLo, recvHi := recomputeShard(recvRank, coreN, len(acc))
		if recvHi > recvLo {
			buf := make([]T, recvHi-recvLo)
			off := pWrk + transport.Addr(recvLo*es)
			if err := t.Get(ctx, t.Me(), bytesOf(buf), off); err != nil {
				return err
			}
			copy(acc[recvLo:recvHi], buf)
		}
		haveRank = recvRank
	}
	return nil
}
