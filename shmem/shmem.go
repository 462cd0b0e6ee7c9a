// Package shmem is the public API shim of spec.md §2's data-flow
// description: "a public collective call -> argument validation -> lookup
// in dispatch record -> selected algorithm helper -> ... -> release
// return." It is a thin layer over internal/engine and internal/shcoll:
// every exported function here validates its arguments, takes the Shmem
// mutex when the engine was configured multi-threaded (spec.md §5
// "Concurrency & Resource Model"), resolves the team's pSync/pWrk
// addresses through the engine, and dispatches into internal/shcoll.
//
// Argument validation failures, an uninitialized engine, and transport
// failures are all spec.md §7 "fatal" kinds: this package logs and invokes
// the engine's abort hook (os.Exit(1) by default, overridable via
// (*engine.Engine).SetFatalHook for tests) rather than returning a value a
// caller might ignore. Allocator-contract violations (spec.md §7 kind 3)
// are the one category that returns a zero value instead.
package shmem

import (
	"sync"

	"github.com/michael-beebe/osss-go/internal/engine"
	"github.com/michael-beebe/osss-go/internal/team"
	"github.com/michael-beebe/osss-go/transport"
)

// Shmem is the per-PE handle every exported function in this package is a
// method of (or takes as an explicit parameter, for the generic functions
// Go's method type parameters can't express). One Shmem wraps one
// engine.Engine, matching spec.md DESIGN NOTES: "model them as an Engine
// value owned by the PE's init routine; public entry points borrow it."
type Shmem struct {
	mu  sync.Mutex
	eng *engine.Engine
}

// Init builds a Shmem bound to t: resolves cfg's algorithm defaults,
// carves out the default symmetric heap, and builds the WORLD team (and
// SHARED, if sharedPeers is non-empty). A resolution failure is spec.md
// §7 kind 4, "registration miss" — fatal configuration error, returned
// here so the caller's own startup sequencing controls when the process
// actually exits.
func Init(t transport.Transport, sharedPeers []transport.PE, cfg engine.Config) (*Shmem, error) {
	eng, err := engine.Init(t, sharedPeers, cfg)
	if err != nil {
		return nil, err
	}
	return &Shmem{eng: eng}, nil
}

// Finalize releases every registered team's scratch buffers and the
// symmetric heap. Any address previously handed out becomes invalid.
func (s *Shmem) Finalize() {
	s.eng.Finalize()
}

// Engine exposes the underlying engine.Engine for collaborators (e.g. a
// launcher) that need lower-level access than this shim offers.
func (s *Shmem) Engine() *engine.Engine { return s.eng }

// Me returns the calling PE's global rank. N returns the total PE count.
func (s *Shmem) Me() transport.PE { return s.eng.Transport().Me() }
func (s *Shmem) N() int           { return s.eng.Transport().N() }

// World returns the predefined WORLD team. Shared returns the predefined
// SHARED team, or nil if Init was not given any node-local peers.
func (s *Shmem) World() *team.Team  { return s.eng.World() }
func (s *Shmem) Shared() *team.Team { return s.eng.Shared() }

// lock takes the process-wide mutex spec.md §5 requires when the engine
// was configured multi-threaded ("a single process-wide mutex serializes
// all user-thread entries into the library"); in the default
// single-threaded-cooperative mode it is a no-op, since suspension points
// are already the only reentrancy surface. Returns the matching unlock
// function; callers always `defer` it immediately.
func (s *Shmem) lock() func() {
	if !s.eng.Config().MultiThreaded {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// fatal implements spec.md §7 kind 1/2/4's policy uniformly: log err via
// the engine's structured logger, then invoke the abort hook. err is still
// returned so a test-substituted, non-exiting hook can assert the path was
// taken without the process actually dying.
func (s *Shmem) fatal(err error) error {
	s.eng.Fatalf("%v", err)
	return err
}

// validatePE rejects a PE number outside [0, N) — spec.md §7 kind 1,
// "PE out of range".
func validatePE(s *Shmem, pe transport.PE) error {
	if pe < 0 || int(pe) >= s.N() {
		return &argError{msg: "PE out of range"}
	}
	return nil
}

// argError is spec.md §7 kind 1's "invalid argument" category: null where a
// symmetric address is required, PE out of range, overlapping source and
// destination, zero stride, insufficient buffer size.
type argError struct{ msg string }

func (e *argError) Error() string { return "shmem: invalid argument: " + e.msg }

// overlaps reports whether two symmetric byte ranges of the same PE
// overlap (spec.md §7 kind 1, §4.3.1 "No overlap between source and
// destination ranges (flagged and rejected)").
func overlaps(aAddr transport.Addr, aLen int, bAddr transport.Addr, bLen int) bool {
	if aLen == 0 || bLen == 0 {
		return false
	}
	aEnd := aAddr + transport.Addr(aLen)
	bEnd := bAddr + transport.Addr(bLen)
	return aAddr < bEnd && bAddr < aEnd
}
