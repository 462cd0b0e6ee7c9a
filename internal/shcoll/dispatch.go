package shcoll

import (
	"fmt"
	"strings"
)

// Family names one of the seven collective families a dispatch table serves
// (spec.md §4.3.7).
type Family int

const (
	FamilyBarrier Family = iota
	FamilyBroadcast
	FamilyCollect
	FamilyFcollect
	FamilyAlltoall
	FamilyAlltoalls
	FamilyReduce
)

func (f Family) String() string {
	switch f {
	case FamilyBarrier:
		return "barrier"
	case FamilyBroadcast:
		return "broadcast"
	case FamilyCollect:
		return "collect"
	case FamilyFcollect:
		return "fcollect"
	case FamilyAlltoall:
		return "alltoall"
	case FamilyAlltoalls:
		return "alltoalls"
	case FamilyReduce:
		return "reduce"
	default:
		return "family(?)"
	}
}

// entry is one row of a dispatch table: a name, an optional element type tag
// (empty for the untyped families), and the registered algorithm value
// (itself just the enum constant — Barrier/Broadcast/etc. still take that
// enum as a parameter; dispatch only resolves *which* enum value a
// configuration string names).
type entry struct {
	name string
	kind string // element type tag; "" for untyped (barrier) entries
	algo int
}

// Table is spec.md §4.3.7's dispatch record for one collective family: a
// linear-scanned list of (name[, type]) -> algorithm rows, terminated
// conceptually by running off the end of the slice (the sentinel empty-name
// entry of the original C table has no Go equivalent need: slices already
// know their own length).
type Table struct {
	family  Family
	entries []entry
}

// NewTable builds an empty dispatch table for the given family.
func NewTable(family Family) *Table {
	return &Table{family: family}
}

// Register adds a (name, algo) pair to an unsized/typed table, or a
// (name, kind, algo) row to a typed table. Returns a negative-sentinel error
// on a duplicate name — spec.md §4.3.7: "registration returns 0 on success,
// negative on unknown name, which is a fatal configuration error at init
// time." Go-idiomatically this is a plain error; callers that must abort at
// init (per spec.md §7 kind 4) do so by treating any non-nil error as fatal.
func (tbl *Table) Register(name, kind string, algo int) error {
	name = normalizeName(name)
	for _, e := range tbl.entries {
		if e.name == name && e.kind == kind {
			return fmt.Errorf("shcoll: dispatch table %s: duplicate registration for %q", tbl.family, selectorString(name, kind))
		}
	}
	tbl.entries = append(tbl.entries, entry{name: name, kind: kind, algo: algo})
	return nil
}

// Lookup resolves a selector string to its registered algorithm value.
// Selectors are "algorithm" for untyped/unsized tables, or "algorithm:type"
// for typed tables (spec.md §4.3.7). A trailing "_mem" on the algorithm name
// is stripped and normalized to "mem" so a legacy "foo_mem" selector shares
// a table row with the non-typed "foomem" form.
func (tbl *Table) Lookup(selector string) (int, error) {
	name, kind, _ := strings.Cut(selector, ":")
	name = normalizeName(name)
	for _, e := range tbl.entries {
		if e.name == name && e.kind == kind {
			return e.algo, nil
		}
	}
	return -1, fmt.Errorf("shcoll: dispatch table %s: unknown algorithm selector %q", tbl.family, selector)
}

// normalizeName applies spec.md §4.3.7's "mem suffix stripping": "foo_mem"
// normalizes to "foomem" so both spellings resolve to the same table row.
func normalizeName(name string) string {
	return strings.Replace(name, "_mem", "mem", 1)
}

func selectorString(name, kind string) string {
	if kind == "" {
		return name
	}
	return name + ":" + kind
}

// DefaultRegistry builds the seven family tables pre-populated with every
// named algorithm this package implements, keyed by the names spec.md uses
// in its prose (e.g. "binomial_tree", "bruck", "rabenseifner2"). A real
// runtime init path (internal/engine) loads configuration overrides on top
// of this registry; tests exercise it directly against the enum constants
// to avoid hand-maintaining the string<->enum mapping twice.
func DefaultRegistry() map[Family]*Table {
	reg := map[Family]*Table{
		FamilyBarrier:   NewTable(FamilyBarrier),
		FamilyBroadcast: NewTable(FamilyBroadcast),
		FamilyCollect:   NewTable(FamilyCollect),
		FamilyFcollect:  NewTable(FamilyFcollect),
		FamilyAlltoall:  NewTable(FamilyAlltoall),
		FamilyAlltoalls: NewTable(FamilyAlltoalls),
		FamilyReduce:    NewTable(FamilyReduce),
	}

	mustRegister(reg[FamilyBarrier], "linear", "", int(BarrierLinear))
	mustRegister(reg[FamilyBarrier], "complete_tree", "", int(BarrierCompleteTree))
	mustRegister(reg[FamilyBarrier], "binomial_tree", "", int(BarrierBinomialTree))
	mustRegister(reg[FamilyBarrier], "knomial_tree", "", int(BarrierKNomialTree))
	mustRegister(reg[FamilyBarrier], "dissemination", "", int(BarrierDissemination))

	mustRegister(reg[FamilyBroadcast], "linear", "", int(BroadcastLinear))
	mustRegister(reg[FamilyBroadcast], "complete_tree", "", int(BroadcastCompleteTree))
	mustRegister(reg[FamilyBroadcast], "binomial_tree", "", int(BroadcastBinomialTree))
	mustRegister(reg[FamilyBroadcast], "knomial_tree", "", int(BroadcastKNomialTree))
	mustRegister(reg[FamilyBroadcast], "knomial_tree_signal", "", int(BroadcastKNomialTreeSignal))
	mustRegister(reg[FamilyBroadcast], "scatter_collect", "", int(BroadcastScatterCollect))

	mustRegister(reg[FamilyCollect], "linear", "", int(CollectLinear))
	mustRegister(reg[FamilyCollect], "all_linear", "", int(CollectAllLinear))
	mustRegister(reg[FamilyCollect], "recursive_doubling", "", int(CollectRecursiveDoubling))
	mustRegister(reg[FamilyCollect], "recursive_doubling_signal", "", int(CollectRecursiveDoublingSignal))
	mustRegister(reg[FamilyCollect], "ring", "", int(CollectRing))
	mustRegister(reg[FamilyCollect], "bruck", "", int(CollectBruck))
	mustRegister(reg[FamilyCollect], "bruck_no_rotate", "", int(CollectBruckNoRotate))
	mustRegister(reg[FamilyCollect], "simple", "", int(CollectSimple))

	mustRegister(reg[FamilyFcollect], "linear", "", int(FcollectLinear))
	mustRegister(reg[FamilyFcollect], "all_linear", "", int(FcollectAllLinear))
	mustRegister(reg[FamilyFcollect], "all_linear1", "", int(FcollectAllLinear1))
	mustRegister(reg[FamilyFcollect], "recursive_doubling", "", int(FcollectRecursiveDoubling))
	mustRegister(reg[FamilyFcollect], "ring", "", int(FcollectRing))
	mustRegister(reg[FamilyFcollect], "bruck", "", int(FcollectBruck))
	mustRegister(reg[FamilyFcollect], "bruck_no_rotate", "", int(FcollectBruckNoRotate))
	mustRegister(reg[FamilyFcollect], "bruck_signal", "", int(FcollectBruckSignal))
	mustRegister(reg[FamilyFcollect], "bruck_inplace", "", int(FcollectBruckInplace))
	mustRegister(reg[FamilyFcollect], "neighbor_exchange", "", int(FcollectNeighborExchange))

	mustRegister(reg[FamilyAlltoall], "shift_exchange", "", int(AlltoallShiftExchange))
	mustRegister(reg[FamilyAlltoall], "xor_pairwise_exchange", "", int(AlltoallXORPairwise))
	mustRegister(reg[FamilyAlltoall], "color_pairwise_exchange", "", int(AlltoallColorPairwise))
	mustRegister(reg[FamilyAlltoalls], "shift_exchange", "", int(AlltoallShiftExchange))
	mustRegister(reg[FamilyAlltoalls], "xor_pairwise_exchange", "", int(AlltoallXORPairwise))
	mustRegister(reg[FamilyAlltoalls], "color_pairwise_exchange", "", int(AlltoallColorPairwise))

	mustRegister(reg[FamilyReduce], "linear", "", int(ReduceLinear))
	mustRegister(reg[FamilyReduce], "binomial", "", int(ReduceBinomial))
	mustRegister(reg[FamilyReduce], "recursive_doubling", "", int(ReduceRecursiveDoubling))
	mustRegister(reg[FamilyReduce], "rabenseifner", "", int(ReduceRabenseifner))
	mustRegister(reg[FamilyReduce], "rabenseifner2", "", int(ReduceRabenseifner2))

	return reg
}

// mustRegister panics on a duplicate registration, which can only happen if
// this function's own table above is wrong — a programmer error, not a
// runtime configuration error (spec.md §7 kind 4 covers the latter, which
// Table.Register surfaces as a normal error from user-driven registration).
func mustRegister(tbl *Table, name, kind string, algo int) {
	if err := tbl.Register(name, kind, algo); err != nil {
		panic(err)
	}
}
