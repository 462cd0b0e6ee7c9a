package shcoll

import (
	"context"
	"fmt"

	"github.com/michael-beebe/osss-go/internal/team"
	"github.com/michael-beebe/osss-go/internal/treemath"
	"github.com/michael-beebe/osss-go/transport"
)

// BarrierAlgorithm names one of spec.md §4.3.2's synchronization schemes.
type BarrierAlgorithm int

const (
	BarrierLinear BarrierAlgorithm = iota
	BarrierCompleteTree
	BarrierBinomialTree
	BarrierKNomialTree
	BarrierDissemination
)

// defaultRadix is the radix syncPeers falls back to when the caller passes
// radix < 2 (used by CompleteTree and KNomialTree; BinomialTree takes no
// radix), and the fixed tree degree of reduceBinomial (spec.md §4.3.2
// defaults radix and tree degree to 2).
const defaultRadix = 2

// Sync runs the synchronization-only half of a barrier: every PE blocks
// until all team members have reached this call, with no implied quiet.
func Sync(ctx context.Context, t transport.Transport, tm *team.Team, pSync transport.Addr, algo BarrierAlgorithm, radix int) error {
	ps := FromTeam(tm)
	return syncPeers(ctx, t, ps, pSync, algo, radix)
}

func syncPeers(ctx context.Context, t transport.Transport, ps peerSet, pSync transport.Addr, algo BarrierAlgorithm, radix int) error {
	if err := ps.validate(); err != nil {
		return err
	}
	if radix < 2 {
		radix = defaultRadix
	}
	switch algo {
	case BarrierLinear:
		return syncLinear(ctx, t, ps, pSync)
	case BarrierCompleteTree:
		return syncTree(ctx, t, ps, pSync, radix)
	case BarrierBinomialTree:
		return syncBinomialTree(ctx, t, ps, pSync)
	case BarrierKNomialTree:
		return syncKNomialTree(ctx, t, ps, pSync, radix)
	case BarrierDissemination:
		return syncDissemination(ctx, t, ps, pSync)
	default:
		return fmt.Errorf("shcoll: unknown barrier algorithm %d", algo)
	}
}

// Barrier runs the chosen algorithm and additionally guarantees a
// transport-level quiet completes before return (spec.md §4.3.2): prior
// puts/AMOs issued by this PE are flushed before the synchronization rounds
// begin, so peers never observe a barrier release before this PE's other
// traffic has landed.
func Barrier(ctx context.Context, t transport.Transport, tm *team.Team, pSync transport.Addr, algo BarrierAlgorithm, radix int) error {
	if err := t.Quiet(ctx); err != nil {
		return err
	}
	return Sync(ctx, t, tm, pSync, algo, radix)
}

func syncLinear(ctx context.Context, t transport.Transport, ps peerSet, pSync transport.Addr) error {
	root := 0
	arrive, release := wordAt(pSync, 0), wordAt(pSync, 1)
	if ps.me == root {
		if ps.n() > 1 {
			if err := t.WaitUntil(ctx, arrive, transport.CmpEQ, uint64(ps.n()-1)); err != nil {
				return err
			}
			if err := t.AtomicSet(ctx, t.Me(), arrive, syncValue); err != nil {
				return err
			}
		}
		for r := 1; r < ps.n(); r++ {
			if err := t.AtomicAdd(ctx, ps.pe(r), release, 1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := t.AtomicAdd(ctx, ps.pe(root), arrive, 1); err != nil {
		return err
	}
	return waitAndReset(ctx, t, release, 1)
}

// syncTree is the fixed-radix complete tree (treemath.Parent/Children):
// each node groups nranks/radix-ish subtrees by integer division of its
// relative rank.
func syncTree(ctx context.Context, t transport.Transport, ps peerSet, pSync transport.Addr, radix int) error {
	const root = 0
	n := ps.n()
	children := treemath.Children(n, root, radix, ps.me)
	parent := treemath.Parent(n, root, radix, ps.me)
	return syncTreeWalk(ctx, t, ps, pSync, parent, children)
}

// syncBinomialTree is the classic recursive-halving binomial tree
// (treemath.BinomialParent/Children): each node's parent clears its lowest
// set bit, giving the dimension-ordered hypercube shape rather than
// syncTree's fixed-radix grouping.
func syncBinomialTree(ctx context.Context, t transport.Transport, ps peerSet, pSync transport.Addr) error {
	n := ps.n()
	children := treemath.BinomialChildren(n, 0, ps.me)
	parent := treemath.BinomialParent(n, 0, ps.me)
	return syncTreeWalk(ctx, t, ps, pSync, parent, children)
}

// syncKNomialTree generalizes syncBinomialTree to an arbitrary radix
// (treemath.KNomialParent/Children): each node's parent clears its lowest
// nonzero base-radix digit, so fan-out grows with depth rather than staying
// fixed at radix per node as syncTree's complete tree does.
func syncKNomialTree(ctx context.Context, t transport.Transport, ps peerSet, pSync transport.Addr, radix int) error {
	n := ps.n()
	children := treemath.KNomialChildren(n, 0, radix, ps.me)
	parent := treemath.KNomialParent(n, 0, radix, ps.me)
	return syncTreeWalk(ctx, t, ps, pSync, parent, children)
}

// syncTreeWalk is the shared up-phase-reduce/down-phase-release shape every
// rank-tree barrier variant uses, parameterized on the caller's already
// computed parent/children. Leaves and the root are degenerate cases of the
// same two-phase walk.
func syncTreeWalk(ctx context.Context, t transport.Transport, ps peerSet, pSync transport.Addr, parent int, children []int) error {
	arrive, release := wordAt(pSync, 0), wordAt(pSync, 1)

	if len(children) > 0 {
		if err := t.WaitUntil(ctx, arrive, transport.CmpEQ, uint64(len(children))); err != nil {
			return err
		}
		if err := t.AtomicSet(ctx, t.Me(), arrive, syncValue); err != nil {
			return err
		}
	}
	if parent != -1 {
		if err := t.AtomicAdd(ctx, ps.pe(parent), arrive, 1); err != nil {
			return err
		}
		if err := waitAndReset(ctx, t, release, 1); err != nil {
			return err
		}
	}
	for _, c := range children {
		if err := t.AtomicSet(ctx, ps.pe(c), release, 1); err != nil {
			return err
		}
	}
	return nil
}

func syncDissemination(ctx context.Context, t transport.Transport, ps peerSet, pSync transport.Addr) error {
	n := ps.n()
	rounds := treemath.DisseminationRounds(n)
	for r := 0; r < rounds; r++ {
		partner := treemath.DisseminationPartner(n, ps.me, r)
		slot := wordAt(pSync, r)
		if err := t.AtomicAdd(ctx, ps.pe(partner), slot, 1); err != nil {
			return err
		}
		if err := t.WaitUntil(ctx, slot, transport.CmpEQ, 1); err != nil {
			return err
		}
	}
	for r := 0; r < rounds; r++ {
		if err := t.AtomicSet(ctx, t.Me(), wordAt(pSync, r), syncValue); err != nil {
			return err
		}
	}
	return nil
}
