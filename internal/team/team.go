// Package team implements spec.md's Team [MODULE]: an immutable,
// post-creation subset of PEs with its own rank numbering, forward/reverse
// maps to the parent's PE numbering, and the two pSync work buffers every
// collective operation synchronizes through.
package team

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/michael-beebe/osss-go/transport"
)

// SyncValue is the sentinel every pSync slot is initialized to, and reset
// to after a successful collective completes (spec.md DATA MODEL).
const SyncValue uint64 = 0

// PSyncLen is the number of uint64 words reserved per pSync buffer; large
// enough for the deepest dissemination/Bruck round count this runtime
// supports (2^PSyncLen PEs).
const PSyncLen = 64

// PSyncKind selects one of a team's two work arrays (spec.md DATA MODEL).
type PSyncKind int

const (
	PSyncBarrier PSyncKind = iota
	PSyncCollective
)

// Team is immutable after New/Split returns it.
type Team struct {
	name   string // "" if unnamed
	rank   int    // -1 if the calling PE is not a member
	nranks int
	start  int
	stride int
	parent *Team

	fwd []transport.PE // team rank -> global PE
	rev map[transport.PE]int

	pSyncBarrier     []uint64
	pSyncCollective  []uint64
	contexts         []*Context
}

// New constructs the team {start + i*stride : 0 <= i < nranks} within the
// global PE numbering, as observed by the calling PE "me". name may be ""
// for an anonymous (split) team.
func New(name string, start, stride, nranks int, me transport.PE, parent *Team) (*Team, error) {
	if nranks <= 0 {
		return nil, fmt.Errorf("team: nranks must be positive, got %d", nranks)
	}
	fwd := make([]transport.PE, nranks)
	rev := make(map[transport.PE]int, nranks)
	rank := -1
	for i := 0; i < nranks; i++ {
		pe := transport.PE(start + i*stride)
		fwd[i] = pe
		rev[pe] = i
		if pe == me {
			rank = i
		}
	}
	t := &Team{
		name:            name,
		rank:            rank,
		nranks:          nranks,
		start:           start,
		stride:          stride,
		parent:          parent,
		fwd:             fwd,
		rev:             rev,
		pSyncBarrier:    freshPSync(),
		pSyncCollective: freshPSync(),
	}
	return t, nil
}

func freshPSync() []uint64 {
	buf := make([]uint64, PSyncLen)
	for i := range buf {
		buf[i] = SyncValue
	}
	return buf
}

// NewWorld builds the WORLD team: all nPEs PEs, start=0, stride=1.
func NewWorld(nPEs int, me transport.PE) *Team {
	t, err := New("WORLD", 0, 1, nPEs, me, nil)
	if err != nil {
		panic(err) // nPEs<=0 here is an engine-construction bug, not user error
	}
	return t
}

// NewShared builds the SHARED team: the subset of peers co-located with me.
// peers must be given in ascending global-PE order and include me.
func NewShared(peers []transport.PE, me transport.PE) (*Team, error) {
	if len(peers) == 0 {
		return nil, fmt.Errorf("team: SHARED requires at least one peer")
	}
	sorted := append([]transport.PE(nil), peers...)
	slices.Sort(sorted)
	fwd := sorted
	rev := make(map[transport.PE]int, len(fwd))
	rank := -1
	for i, pe := range fwd {
		rev[pe] = i
		if pe == me {
			rank = i
		}
	}
	return &Team{
		name:            "SHARED",
		rank:            rank,
		nranks:          len(fwd),
		start:           -1,
		stride:          -1,
		fwd:             fwd,
		rev:             rev,
		pSyncBarrier:    freshPSync(),
		pSyncCollective: freshPSync(),
	}, nil
}

func (t *Team) Name() string    { return t.name }
func (t *Team) Rank() int       { return t.rank }
func (t *Team) NRanks() int     { return t.nranks }
func (t *Team) Start() int      { return t.start }
func (t *Team) Stride() int     { return t.stride }
func (t *Team) Parent() *Team   { return t.parent }

// GlobalPE maps a team-relative rank to its global PE number (the fwd map).
func (t *Team) GlobalPE(rank int) transport.PE {
	return t.fwd[rank]
}

// TeamRank maps a global PE number to its team-relative rank via the rev
// map, or (-1, false) if pe is not a member.
func (t *Team) TeamRank(pe transport.PE) (int, bool) {
	r, ok := t.rev[pe]
	if !ok {
		return -1, false
	}
	return r, true
}

// PSync returns the requested work buffer. Every element must equal
// SyncValue on entry to a collective and be reset to SyncValue by the
// algorithm before it returns (spec.md §4.3.1, §8 "pSync hygiene").
func (t *Team) PSync(kind PSyncKind) []uint64 {
	if kind == PSyncBarrier {
		return t.pSyncBarrier
	}
	return t.pSyncCollective
}

// Peers returns the team's member PEs in team-rank order.
func (t *Team) Peers() []transport.PE {
	return t.fwd
}

// Split builds a new team containing every PE of t (relative start/stride
// within t) that satisfies keep(rank). Rank assignment in the child
// preserves relative order. This supplements spec.md's Team [MODULE] with
// the constructor the distilled spec names attributes for but never
// defines (see SPEC_FULL.md "Supplemented features" #2).
func (t *Team) Split(me transport.PE, keep func(rank int) bool) (*Team, error) {
	var members []transport.PE
	for r := 0; r < t.nranks; r++ {
		if keep(r) {
			members = append(members, t.fwd[r])
		}
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("team: split produced an empty team")
	}
	rev := make(map[transport.PE]int, len(members))
	rank := -1
	for i, pe := range members {
		rev[pe] = i
		if pe == me {
			rank = i
		}
	}
	return &Team{
		rank:            rank,
		nranks:          len(members),
		start:           -1,
		stride:          -1,
		parent:          t,
		fwd:             members,
		rev:             rev,
		pSyncBarrier:    freshPSync(),
		pSyncCollective: freshPSync(),
	}, nil
}

// SplitStrided splits t into a team of size nranks starting at relative
// rank start with the given stride within t, mirroring
// shmem_team_split_strided.
func (t *Team) SplitStrided(me transport.PE, start, stride, nranks int) (*Team, error) {
	if nranks <= 0 || start < 0 || stride <= 0 {
		return nil, fmt.Errorf("team: invalid strided split parameters")
	}
	members := map[int]bool{}
	for i := 0; i < nranks; i++ {
		rel := start + i*stride
		if rel >= t.nranks {
			return nil, fmt.Errorf("team: strided split rank %d out of range", rel)
		}
		members[rel] = true
	}
	return t.Split(me, func(rank int) bool { return members[rank] })
}

// Split2D splits t into a grid of xdim columns and returns (row team,
// column team) for the calling PE, mirroring shmem_team_split_2d.
// t.NRanks() must be divisible by xdim.
func (t *Team) Split2D(me transport.PE, xdim int) (row, col *Team, err error) {
	if xdim <= 0 || t.nranks%xdim != 0 {
		return nil, nil, fmt.Errorf("team: split2d requires xdim to divide nranks")
	}
	ydim := t.nranks / xdim
	myRank := t.rank
	if myRank < 0 {
		return nil, nil, fmt.Errorf("team: split2d called by a non-member")
	}
	myX := myRank % xdim
	myY := myRank / xdim

	row, err = t.Split(me, func(rank int) bool { return rank/xdim == myY })
	if err != nil {
		return nil, nil, err
	}
	col, err = t.Split(me, func(rank int) bool { return rank%xdim == myX })
	if err != nil {
		return nil, nil, err
	}
	_ = ydim
	return row, col, nil
}

// AddContext registers ctx as owned by t; DestroyContexts is called when t
// itself is destroyed (DESIGN NOTES: "Teams own their contexts").
func (t *Team) AddContext(ctx *Context) {
	t.contexts = append(t.contexts, ctx)
}

// Destroy invalidates t and destroys every context it owns. Predefined
// teams (WORLD, SHARED, parent == nil with name set) should not be
// destroyed by user code, matching DESIGN NOTES, but Destroy itself doesn't
// special-case that — the public API layer enforces the restriction.
func (t *Team) Destroy() {
	for _, c := range t.contexts {
		c.team = nil
	}
	t.contexts = nil
}

// Context is a non-owning handle back to the team that created it; it is
// destroyed alongside its team, never the reverse (DESIGN NOTES).
type Context struct {
	team *Team
}

// NewContext creates a context owned by t.
func NewContext(t *Team) *Context {
	c := &Context{team: t}
	t.AddContext(c)
	return c
}

// Team returns the owning team, or nil if it has been destroyed.
func (c *Context) Team() *Team { return c.team }
