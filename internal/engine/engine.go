// Package engine implements spec.md §9's suggested runtime shape: "model
// them as an Engine value" — the per-PE object tying a transport.Transport,
// the predefined WORLD/SHARED teams, the symmetric-heap registry, resolved
// collective dispatch choices, and structured logging together behind
// Init/Finalize, so the public shmem package has exactly one value to carry.
package engine

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/michael-beebe/osss-go/internal/heap"
	"github.com/michael-beebe/osss-go/internal/rtlog"
	"github.com/michael-beebe/osss-go/internal/shcoll"
	"github.com/michael-beebe/osss-go/internal/team"
	"github.com/michael-beebe/osss-go/transport"
)

const (
	symmetricHeapName = "symmetric"
	wordBytes         = 8
	heapBase          = wordBytes // lowest legal address; 0 is heap's null sentinel
)

// teamBuffers is the pair of symmetric scratch regions every team needs to
// run a collective: the pSync words region (team.PSyncLen words, spec.md
// DATA MODEL) and the pWrk scratch region reduce's algorithms stage
// intermediate shards through (spec.md §4.3.6).
type teamBuffers struct {
	pSync   transport.Addr
	pWrk    transport.Addr
	pWrkLen uintptr
}

// Engine is the per-PE runtime object built by Init.
type Engine struct {
	mu sync.Mutex

	transport transport.Transport
	cfg       Config
	log       *rtlog.Logger

	world  *team.Team
	shared *team.Team

	heaps      *heap.Registry
	symHeapIdx int

	registry map[shcoll.Family]*shcoll.Table

	barrierAlgo   shcoll.BarrierAlgorithm
	broadcastAlgo shcoll.BroadcastAlgorithm
	collectAlgo   shcoll.CollectAlgorithm
	fcollectAlgo  shcoll.FcollectAlgorithm
	alltoallAlgo  shcoll.AlltoallAlgorithm
	reduceAlgo    shcoll.ReduceAlgorithm

	buffers map[*team.Team]*teamBuffers

	fatalHook func()
}

// Init builds an Engine bound to t: it tunes GOMAXPROCS (automaxprocs,
// matching containerized-HPC-node practice), resolves cfg's default
// algorithm names against internal/shcoll's dispatch tables (a lookup miss
// is a fatal configuration error per spec.md §7.4, returned here rather than
// aborting directly so the caller's own Fatalf policy applies), carves out
// the default symmetric heap, and builds + registers the WORLD team (and
// SHARED, if sharedPeers is non-empty).
func Init(t transport.Transport, sharedPeers []transport.PE, cfg Config) (*Engine, error) {
	if _, err := maxprocs.Set(); err != nil {
		// GOMAXPROCS tuning is best-effort: a missing cgroup (e.g. running
		// outside a container) is not a reason to refuse to start a job.
		_ = err
	}
	// maxprocs.Set's returned undo func is intentionally discarded: this
	// runtime never wants to restore the pre-tuning GOMAXPROCS during the
	// life of a job.

	reg := shcoll.DefaultRegistry()

	e := &Engine{
		transport: t,
		cfg:       cfg,
		log:       rtlog.New(rtlog.ParseLevel(cfg.LogLevel), int(t.Me())),
		heaps:     heap.NewRegistry(),
		registry:  reg,
		buffers:   make(map[*team.Team]*teamBuffers),
		fatalHook: func() { os.Exit(1) },
	}

	var err error
	if e.barrierAlgo, err = lookupAlgo[shcoll.BarrierAlgorithm](reg[shcoll.FamilyBarrier], cfg.BarrierAlgo); err != nil {
		return nil, err
	}
	if e.broadcastAlgo, err = lookupAlgo[shcoll.BroadcastAlgorithm](reg[shcoll.FamilyBroadcast], cfg.BroadcastAlgo); err != nil {
		return nil, err
	}
	if e.collectAlgo, err = lookupAlgo[shcoll.CollectAlgorithm](reg[shcoll.FamilyCollect], cfg.CollectAlgo); err != nil {
		return nil, err
	}
	if e.fcollectAlgo, err = lookupAlgo[shcoll.FcollectAlgorithm](reg[shcoll.FamilyFcollect], cfg.FcollectAlgo); err != nil {
		return nil, err
	}
	if e.alltoallAlgo, err = lookupAlgo[shcoll.AlltoallAlgorithm](reg[shcoll.FamilyAlltoall], cfg.AlltoallAlgo); err != nil {
		return nil, err
	}
	if e.reduceAlgo, err = lookupAlgo[shcoll.ReduceAlgorithm](reg[shcoll.FamilyReduce], cfg.ReduceAlgo); err != nil {
		return nil, err
	}

	e.symHeapIdx = e.heaps.NameToIndex(symmetricHeapName)
	if err := e.heaps.Allocator(e.symHeapIdx).Init(heapBase, cfg.SymmetricHeapBytes); err != nil {
		return nil, fmt.Errorf("engine: init symmetric heap: %w", err)
	}

	e.world = team.NewWorld(t.N(), t.Me())
	if err := e.registerTeamLocked(e.world); err != nil {
		return nil, err
	}

	if len(sharedPeers) > 0 {
		e.shared, err = team.NewShared(sharedPeers, t.Me())
		if err != nil {
			return nil, fmt.Errorf("engine: building SHARED team: %w", err)
		}
		if err := e.registerTeamLocked(e.shared); err != nil {
			return nil, err
		}
	}

	e.log.Info().Int("n_pes", t.N()).Bool("multi_threaded", cfg.MultiThreaded).Log("engine initialized")
	return e, nil
}

// lookupAlgo resolves name against tbl and converts the result to T, one of
// shcoll's per-family algorithm enums (all defined as `type X int`).
func lookupAlgo[T ~int](tbl *shcoll.Table, name string) (T, error) {
	v, err := tbl.Lookup(name)
	if err != nil {
		return 0, fmt.Errorf("engine: resolving default algorithm %q: %w", name, err)
	}
	return T(v), nil
}

// registerTeamLocked carves a pSync and a pWrk region for tm out of the
// symmetric heap. Caller must hold e.mu.
func (e *Engine) registerTeamLocked(tm *team.Team) error {
	alloc := e.heaps.Allocator(e.symHeapIdx)

	pSyncBytes := uintptr(team.PSyncLen) * wordBytes
	pSyncAddr := alloc.Calloc(1, pSyncBytes)
	if pSyncAddr == 0 {
		return fmt.Errorf("engine: allocating pSync for team %s: symmetric heap exhausted", tm.Name())
	}
	pWrkAddr := alloc.Calloc(1, e.cfg.ReduceScratchBytes)
	if pWrkAddr == 0 {
		alloc.Free(pSyncAddr)
		return fmt.Errorf("engine: allocating pWrk for team %s: symmetric heap exhausted", tm.Name())
	}

	e.buffers[tm] = &teamBuffers{
		pSync:   transport.Addr(pSyncAddr),
		pWrk:    transport.Addr(pWrkAddr),
		pWrkLen: e.cfg.ReduceScratchBytes,
	}
	return nil
}

// RegisterTeam carves scratch buffers for a team built after Init (e.g. a
// Split result); a no-op if tm is already registered.
func (e *Engine) RegisterTeam(tm *team.Team) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.buffers[tm]; ok {
		return nil
	}
	return e.registerTeamLocked(tm)
}

// ReleaseTeam frees tm's scratch buffers back to the symmetric heap. Called
// when a non-predefined team is destroyed (spec.md DESIGN NOTES: teams own
// their contexts, but the pSync/pWrk regions are the engine's to reclaim).
func (e *Engine) ReleaseTeam(tm *team.Team) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.buffers[tm]
	if !ok {
		return
	}
	alloc := e.heaps.Allocator(e.symHeapIdx)
	alloc.Free(uintptr(b.pSync))
	alloc.Free(uintptr(b.pWrk))
	delete(e.buffers, tm)
}

// PSync returns the pSync transport.Addr reserved for tm.
func (e *Engine) PSync(tm *team.Team) (transport.Addr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.buffers[tm]
	if !ok {
		return 0, fmt.Errorf("engine: team %s is not registered with this engine", tm.Name())
	}
	return b.pSync, nil
}

// PWrk returns the pWrk transport.Addr reserved for tm and its byte capacity.
func (e *Engine) PWrk(tm *team.Team) (transport.Addr, uintptr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.buffers[tm]
	if !ok {
		return 0, 0, fmt.Errorf("engine: team %s is not registered with this engine", tm.Name())
	}
	return b.pWrk, b.pWrkLen, nil
}

func (e *Engine) Transport() transport.Transport { return e.transport }
func (e *Engine) Config() Config                 { return e.cfg }
func (e *Engine) Logger() *rtlog.Logger           { return e.log }
func (e *Engine) World() *team.Team               { return e.world }
func (e *Engine) Shared() *team.Team              { return e.shared }
func (e *Engine) Heaps() *heap.Registry           { return e.heaps }

// DefaultAllocator returns the default symmetric heap's allocator, the one
// backing every pSync/pWrk region and the one the public shmem package's
// malloc/free/realloc/align wrappers target.
func (e *Engine) DefaultAllocator() *heap.Allocator {
	return e.heaps.Allocator(e.symHeapIdx)
}

func (e *Engine) BarrierAlgo() shcoll.BarrierAlgorithm     { return e.barrierAlgo }
func (e *Engine) BroadcastAlgo() shcoll.BroadcastAlgorithm { return e.broadcastAlgo }
func (e *Engine) CollectAlgo() shcoll.CollectAlgorithm     { return e.collectAlgo }
func (e *Engine) FcollectAlgo() shcoll.FcollectAlgorithm   { return e.fcollectAlgo }
func (e *Engine) AlltoallAlgo() shcoll.AlltoallAlgorithm   { return e.alltoallAlgo }
func (e *Engine) ReduceAlgo() shcoll.ReduceAlgorithm       { return e.reduceAlgo }
func (e *Engine) TreeRadix() int                           { return e.cfg.TreeRadix }

// Registry exposes the dispatch table for family, letting the public shmem
// package resolve a per-call algorithm override (spec.md §6) rather than
// the engine-wide default.
func (e *Engine) Registry(family shcoll.Family) *shcoll.Table {
	return e.registry[family]
}

// Finalize releases every registered team's scratch buffers and the
// symmetric heap itself. Any address previously handed out becomes invalid.
func (e *Engine) Finalize() {
	e.mu.Lock()
	defer e.mu.Unlock()
	alloc := e.heaps.Allocator(e.symHeapIdx)
	for tm, b := range e.buffers {
		alloc.Free(uintptr(b.pSync))
		alloc.Free(uintptr(b.pWrk))
		delete(e.buffers, tm)
	}
	alloc.Finalize()
	e.log.Info().Log("engine finalized")
}
