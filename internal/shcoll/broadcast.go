package shcoll

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/michael-beebe/osss-go/internal/team"
	"github.com/michael-beebe/osss-go/internal/treemath"
	"github.com/michael-beebe/osss-go/transport"
)

// BroadcastAlgorithm names one of spec.md §4.3.3's schemes.
type BroadcastAlgorithm int

const (
	BroadcastLinear BroadcastAlgorithm = iota
	BroadcastCompleteTree
	BroadcastBinomialTree
	BroadcastKNomialTree
	BroadcastKNomialTreeSignal
	BroadcastScatterCollect
)

// Broadcast copies root's nelems-element src buffer into every team
// member's dst buffer (spec.md §4.3.3 invariants: every PE's dst equals
// root's src after return; root's own dst equals its src).
func Broadcast[T Number](ctx context.Context, t transport.Transport, tm *team.Team, dst, src transport.Addr, nelems, root int, pSync transport.Addr, algo BroadcastAlgorithm, radix int) error {
	ps := FromTeam(tm)
	if err := ps.validate(); err != nil {
		return err
	}
	size := transport.Addr(nelems * elemSize[T]())
	n := ps.n()
	switch algo {
	case BroadcastLinear:
		return broadcastLinear[T](ctx, t, ps, dst, src, size, root, pSync)
	case BroadcastCompleteTree:
		if radix < 2 {
			radix = defaultRadix
		}
		parent := treemath.Parent(n, root, radix, ps.me)
		children := treemath.Children(n, root, radix, ps.me)
		return broadcastTree[T](ctx, t, ps, dst, src, size, root, pSync, parent, children, false)
	case BroadcastBinomialTree:
		parent := treemath.BinomialParent(n, root, ps.me)
		children := treemath.BinomialChildren(n, root, ps.me)
		return broadcastTree[T](ctx, t, ps, dst, src, size, root, pSync, parent, children, false)
	case BroadcastKNomialTree:
		if radix < 2 {
			radix = defaultRadix
		}
		parent := treemath.KNomialParent(n, root, radix, ps.me)
		children := treemath.KNomialChildren(n, root, radix, ps.me)
		return broadcastTree[T](ctx, t, ps, dst, src, size, root, pSync, parent, children, false)
	case BroadcastKNomialTreeSignal:
		if radix < 2 {
			radix = defaultRadix
		}
		parent := treemath.KNomialParent(n, root, radix, ps.me)
		children := treemath.KNomialChildren(n, root, radix, ps.me)
		return broadcastTree[T](ctx, t, ps, dst, src, size, root, pSync, parent, children, true)
	case BroadcastScatterCollect:
		return broadcastScatterCollect[T](ctx, t, ps, dst, src, nelems, root, pSync)
	default:
		return fmt.Errorf("shcoll: unknown broadcast algorithm %d", algo)
	}
}

func elemSize[T Number]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// ElemSize exports elemSize for callers (the root shmem package) that need
// to convert a byte-sized scratch region into an element count for a
// concrete T before validating it against MinPWrkElems.
func ElemSize[T Number]() int {
	return elemSize[T]()
}

func broadcastLinear[T Number](ctx context.Context, t transport.Transport, ps peerSet, dst, src transport.Addr, size transport.Addr, root int, pSync transport.Addr) error {
	if ps.me == root {
		buf := make([]byte, size)
		if err := t.Get(ctx, t.Me(), buf, src); err != nil {
			return err
		}
		if dst != src {
			if err := t.Put(ctx, t.Me(), dst, buf); err != nil {
				return err
			}
		}
		for r := 0; r < ps.n(); r++ {
			if r == root {
				continue
			}
			if err := t.PutNBI(ctx, ps.pe(r), dst, buf); err != nil {
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
	return waitAndReset(ctx, t, pSync, 1)
}

// broadcastTree walks root's rank tree downward given the caller's already
// computed parent/children (complete, binomial, or k-nomial geometry): each
// internal node waits for its parent's data then forwards to its children.
// withSignal combines the put with a signal update instead of a separate
// AMO release (spec.md "binomial-tree ... with or without a signal-combined
// put").
func broadcastTree[T Number](ctx context.Context, t transport.Transport, ps peerSet, dst, src, size transport.Addr, root int, pSync transport.Addr, parent int, children []int, withSignal bool) error {
	var payload []byte
	if ps.me == root {
		payload = make([]byte, size)
		if err := t.Get(ctx, t.Me(), payload, src); err != nil {
			return err
		}
		if dst != src {
			if err := t.Put(ctx, t.Me(), dst, payload); err != nil {
				return err
			}
		}
	} else {
		if err := t.WaitUntil(ctx, pSync, transport.CmpEQ, 1); err != nil {
			return err
		}
		if err := t.AtomicSet(ctx, t.Me(), pSync, syncValue); err != nil {
			return err
		}
		payload = make([]byte, size)
		if err := t.Get(ctx, t.Me(), payload, dst); err != nil {
			return err
		}
	}

	for _, c := range children {
		if withSignal {
			if err := t.PutSignal(ctx, ps.pe(c), dst, payload, pSync, 1, transport.SigSet); err != nil {
				return err
			}
		} else {
			if err := t.Put(ctx, ps.pe(c), dst, payload); err != nil {
				return err
			}
			if err := t.AtomicSet(ctx, ps.pe(c), pSync, 1); err != nil {
				return err
			}
		}
	}
	return nil
}

// broadcastScatterCollect: root splits src into nranks disjoint blocks and
// scatters one to each PE, then every PE participates in a collect ring to
// reassemble the full buffer (spec.md §4.3.3).
func broadcastScatterCollect[T Number](ctx context.Context, t transport.Transport, ps peerSet, dst, src transport.Addr, nelems, root int, pSync transport.Addr) error {
	n := ps.n()
	counts := blockCounts(nelems, n)
	offsets := blockOffsets(counts)
	es := elemSize[T]()

	if ps.me == root {
		for r := 0; r < n; r++ {
			if counts[r] == 0 {
				continue
			}
			off := transport.Addr(offsets[r] * es)
			sz := counts[r] * es
			buf := make([]byte, sz)
			if err := t.Get(ctx, t.Me(), buf, src+off); err != nil {
				return err
			}
			if err := t.PutNBI(ctx, ps.pe(r), dst+off, buf); err != nil {
				return err
			}
		}
		if err := t.Quiet(ctx); err != nil {
			return err
		}
		for r := 0; r < n; r++ {
			if r == root {
				continue
			}
			if err := t.AtomicAdd(ctx, ps.pe(r), pSync, 1); err != nil {
				return err
			}
		}
	} else {
		if err := waitAndReset(ctx, t, pSync, 1); err != nil {
			return err
		}
	}

	// Collect ring: every PE now holds its own block in dst and forwards it
	// around the ring n-1 times so all blocks land on every PE.
	return collectRingInPlace(ctx, t, ps, dst, counts, offsets, es, wordAt(pSync, 1))
}
