// Package shcoll implements spec.md §4.3's Collective Operations Engine:
// seven families (barrier/sync, broadcast, collect, fcollect, alltoall,
// alltoalls, reduce), each offering multiple named algorithms over a common
// signature, selected once at init and stored in a dispatch record
// (dispatch.go) that the public API layer looks up by name.
//
// The exported entry points take a *team.Team and convert it with FromTeam
// into a peerSet (the calling PE's team-relative rank and the team's member
// list in rank order); the algorithm bodies are free functions taking a
// transport.Transport, that peerSet and a pSync work buffer address, so they
// also run against any peer list a caller constructs (spec.md's legacy
// "active set" form, §4.3.6, reuses the same algorithms against a
// synthesized peer list instead of a real Team).
//
// The generic-over-type-set pattern here mirrors NikoMalik-sync_pool's
// Pool[T any]/poolDequeue[T any]: the original C implementation this spec
// was distilled from generates hundreds of near-identical typed functions
// per integer/float width (spec.md DESIGN NOTES, "macro-generated type
// variants"); here that collapses to one generic function per algorithm,
// instantiated over golang.org/x/exp/constraints.Integer | Float.
package shcoll

import (
	"context"
	"fmt"
	"unsafe"

	"golang.org/x/exp/constraints"

	"github.com/michael-beebe/osss-go/internal/team"
	"github.com/michael-beebe/osss-go/transport"
)

// Number is the type set every reduction/collective element type is drawn
// from: integer and floating-point widths (spec.md §4.3.6 "integer + float").
type Number interface {
	constraints.Integer | constraints.Float
}

// syncValue is the pSync reset sentinel every algorithm must restore its
// used words to before returning (spec.md §4.3.1, §8 "pSync hygiene").
const syncValue = team.SyncValue

// wordSize is the byte width of one pSync/counter slot. Every algorithm
// here addresses pSync in wordSize-byte strides.
const wordSize = 8

func wordAt(base transport.Addr, slot int) transport.Addr {
	return base + transport.Addr(slot*wordSize)
}

// peerSet describes the calling PE's view of a collective's participants:
// its team-relative rank and the full member list in rank order. Every
// algorithm in this package is parameterized on a peerSet rather than a
// *team.Team, so the same code serves both real teams and spec.md's legacy
// "active set" (PE_start, logPE_stride, PE_size) form — the caller just
// builds the peers slice differently.
type peerSet struct {
	me    int
	peers []transport.PE
}

func (p peerSet) n() int              { return len(p.peers) }
func (p peerSet) self() transport.PE  { return p.peers[p.me] }
func (p peerSet) pe(rank int) transport.PE { return p.peers[rank] }

func (p peerSet) validate() error {
	if p.me < 0 || p.me >= len(p.peers) {
		return fmt.Errorf("shcoll: calling rank %d out of range [0,%d)", p.me, len(p.peers))
	}
	return nil
}

// ActiveSet builds a peerSet from spec.md's legacy (PE_start, logPE_stride,
// PE_size) triple (GLOSSARY "Active set"), resolving the calling PE's
// team-relative rank from its global PE number. Supplements spec.md per
// SPEC_FULL.md's "Supplemented features" #1.
func ActiveSet(peStart, logPEStride, peSize int, me transport.PE) (peerSet, error) {
	if peSize <= 0 {
		return peerSet{}, fmt.Errorf("shcoll: active set PE_size must be positive, got %d", peSize)
	}
	stride := 1 << uint(logPEStride)
	peers := make([]transport.PE, peSize)
	rank := -1
	for i := 0; i < peSize; i++ {
		pe := transport.PE(peStart + i*stride)
		peers[i] = pe
		if pe == me {
			rank = i
		}
	}
	if rank == -1 {
		return peerSet{}, fmt.Errorf("shcoll: calling PE %d is not a member of this active set", me)
	}
	return peerSet{me: rank, peers: peers}, nil
}

// FromTeam builds a peerSet from a real team.Team.
func FromTeam(tm *team.Team) peerSet {
	return peerSet{me: tm.Rank(), peers: tm.Peers()}
}

// bytesOf reinterprets a slice of fixed-width numeric elements as its raw
// bytes, with no copy — the same byte-for-byte transfer a real one-sided
// transport performs, and the idiomatic replacement for the type-dispatch
// macros spec.md DESIGN NOTES calls out ("the API surface is a thin
// generated wrapper per concrete type"). Every T in Number is a fixed-size
// primitive, so this is safe for as long as the slice lives.
func bytesOf[T Number](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(zero)))
}

// BytesOf exports bytesOf for the root shmem package, which needs the same
// zero-copy numeric-slice-to-bytes reinterpretation at the Put/Get boundary
// that every algorithm in this package uses internally.
func BytesOf[T Number](s []T) []byte {
	return bytesOf(s)
}

// waitAndReset blocks until the local word at addr equals want, then resets
// it to syncValue, calling Progress each spin iteration (spec.md §5).
func waitAndReset(ctx context.Context, t transport.Transport, addr transport.Addr, want uint64) error {
	if err := t.WaitUntil(ctx, addr, transport.CmpEQ, want); err != nil {
		return err
	}
	return t.AtomicSet(ctx, t.Me(), addr, syncValue)
}
