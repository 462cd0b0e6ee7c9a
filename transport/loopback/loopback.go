// Package loopback is an in-process reference implementation of
// transport.Transport: every PE is a goroutine sharing one process's memory,
// and "remote" memory is just another PE's byte slice. It exists so this
// repository's lock, team, and collective-algorithm code can be exercised
// and tested without a real network transport, which spec.md places out of
// scope (§1, "the underlying network transport ... assumed").
//
// Because every PE lives in the same address space, Put/Get/AMOs are
// implemented with a single mutex per World rather than real RDMA — the
// point of this package is to give the rest of the runtime a correct,
// deterministic implementation of the contract to run against, not
// performance.
package loopback

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/michael-beebe/osss-go/transport"
)

// World is the shared state for a simulated job: nPEs symmetric heaps, each
// capacity bytes, all zero-initialized at creation (spec.md DATA MODEL: the
// base address/layout is identical on every PE).
type World struct {
	mu      sync.Mutex
	heaps   [][]byte // heaps[pe] is PE pe's symmetric region
	barrier *barrierState
}

type barrierState struct {
	mu      sync.Mutex
	cond    *sync.Cond
	arrived map[transport.PE]bool
	gen     uint64
}

// NewWorld allocates a simulated job of nPEs PEs, each with a symmetric heap
// of capacity bytes.
func NewWorld(nPEs int, capacity int) *World {
	if nPEs <= 0 {
		panic("loopback: nPEs must be positive")
	}
	heaps := make([][]byte, nPEs)
	for i := range heaps {
		heaps[i] = make([]byte, capacity)
	}
	bs := &barrierState{arrived: make(map[transport.PE]bool, nPEs)}
	bs.cond = sync.NewCond(&bs.mu)
	return &World{heaps: heaps, barrier: bs}
}

// PE returns a Transport bound to the given PE number within w.
func (w *World) PE(pe transport.PE) transport.Transport {
	if int(pe) < 0 || int(pe) >= len(w.heaps) {
		panic(fmt.Sprintf("loopback: pe %d out of range [0,%d)", pe, len(w.heaps)))
	}
	return &pePort{world: w, me: pe}
}

// Heap returns PE pe's raw symmetric region, for test setup/assertions.
func (w *World) Heap(pe transport.PE) []byte {
	return w.heaps[pe]
}

type pePort struct {
	world *World
	me    transport.PE
}

func (p *pePort) Me() transport.PE { return p.me }
func (p *pePort) N() int           { return len(p.world.heaps) }

func (p *pePort) bytes(pe transport.PE, addr transport.Addr, n int) []byte {
	h := p.world.heaps[pe]
	if int(addr)+n > len(h) {
		panic(fmt.Sprintf("loopback: out-of-range access pe=%d addr=%d len=%d cap=%d", pe, addr, n, len(h)))
	}
	return h[addr : int(addr)+n]
}

func (p *pePort) Put(_ context.Context, pe transport.PE, dst transport.Addr, src []byte) error {
	p.world.mu.Lock()
	defer p.world.mu.Unlock()
	copy(p.bytes(pe, dst, len(src)), src)
	return nil
}

func (p *pePort) PutNBI(ctx context.Context, pe transport.PE, dst transport.Addr, src []byte) error {
	return p.Put(ctx, pe, dst, src)
}

func (p *pePort) Get(_ context.Context, pe transport.PE, dst []byte, src transport.Addr) error {
	p.world.mu.Lock()
	defer p.world.mu.Unlock()
	copy(dst, p.bytes(pe, src, len(dst)))
	return nil
}

func (p *pePort) GetNBI(ctx context.Context, pe transport.PE, dst []byte, src transport.Addr) error {
	return p.Get(ctx, pe, dst, src)
}

func (p *pePort) putSignalLocked(pe transport.PE, dst transport.Addr, src []byte, sigAddr transport.Addr, sigVal uint64, op transport.SigOp) {
	copy(p.bytes(pe, dst, len(src)), src)
	sigBytes := p.bytes(pe, sigAddr, 8)
	switch op {
	case transport.SigSet:
		binary.LittleEndian.PutUint64(sigBytes, sigVal)
	case transport.SigAdd:
		cur := binary.LittleEndian.Uint64(sigBytes)
		binary.LittleEndian.PutUint64(sigBytes, cur+sigVal)
	}
}

func (p *pePort) PutSignal(_ context.Context, pe transport.PE, dst transport.Addr, src []byte, sigAddr transport.Addr, sigVal uint64, op transport.SigOp) error {
	p.world.mu.Lock()
	defer p.world.mu.Unlock()
	p.putSignalLocked(pe, dst, src, sigAddr, sigVal, op)
	return nil
}

func (p *pePort) PutSignalNBI(ctx context.Context, pe transport.PE, dst transport.Addr, src []byte, sigAddr transport.Addr, sigVal uint64, op transport.SigOp) error {
	return p.PutSignal(ctx, pe, dst, src, sigAddr, sigVal, op)
}

func (p *pePort) amo(pe transport.PE, addr transport.Addr, f func(old uint64) uint64) uint64 {
	p.world.mu.Lock()
	defer p.world.mu.Unlock()
	b := p.bytes(pe, addr, 8)
	old := binary.LittleEndian.Uint64(b)
	binary.LittleEndian.PutUint64(b, f(old))
	return old
}

func (p *pePort) AtomicSet(_ context.Context, pe transport.PE, addr transport.Addr, val uint64) error {
	p.amo(pe, addr, func(uint64) uint64 { return val })
	return nil
}

func (p *pePort) AtomicFetch(_ context.Context, pe transport.PE, addr transport.Addr) (uint64, error) {
	return p.amo(pe, addr, func(old uint64) uint64 { return old }), nil
}

func (p *pePort) AtomicSwap(_ context.Context, pe transport.PE, addr transport.Addr, val uint64) (uint64, error) {
	return p.amo(pe, addr, func(uint64) uint64 { return val }), nil
}

func (p *pePort) AtomicCompareSwap(_ context.Context, pe transport.PE, addr transport.Addr, old, newVal uint64) (uint64, error) {
	return p.amo(pe, addr, func(cur uint64) uint64 {
		if cur == old {
			return newVal
		}
		return cur
	}), nil
}

func (p *pePort) AtomicAdd(ctx context.Context, pe transport.PE, addr transport.Addr, val uint64) error {
	_, err := p.AtomicFetchAdd(ctx, pe, addr, val)
	return err
}

func (p *pePort) AtomicFetchAdd(_ context.Context, pe transport.PE, addr transport.Addr, val uint64) (uint64, error) {
	return p.amo(pe, addr, func(old uint64) uint64 { return old + val }), nil
}

func (p *pePort) AtomicInc(ctx context.Context, pe transport.PE, addr transport.Addr) error {
	return p.AtomicAdd(ctx, pe, addr, 1)
}

func (p *pePort) AtomicFetchInc(ctx context.Context, pe transport.PE, addr transport.Addr) (uint64, error) {
	return p.AtomicFetchAdd(ctx, pe, addr, 1)
}

func (p *pePort) AtomicAnd(ctx context.Context, pe transport.PE, addr transport.Addr, val uint64) error {
	_, err := p.AtomicFetchAnd(ctx, pe, addr, val)
	return err
}

func (p *pePort) AtomicFetchAnd(_ context.Context, pe transport.PE, addr transport.Addr, val uint64) (uint64, error) {
	return p.amo(pe, addr, func(old uint64) uint64 { return old & val }), nil
}

func (p *pePort) AtomicOr(ctx context.Context, pe transport.PE, addr transport.Addr, val uint64) error {
	_, err := p.AtomicFetchOr(ctx, pe, addr, val)
	return err
}

func (p *pePort) AtomicFetchOr(_ context.Context, pe transport.PE, addr transport.Addr, val uint64) (uint64, error) {
	return p.amo(pe, addr, func(old uint64) uint64 { return old | val }), nil
}

func (p *pePort) AtomicXor(ctx context.Context, pe transport.PE, addr transport.Addr, val uint64) error {
	_, err := p.AtomicFetchXor(ctx, pe, addr, val)
	return err
}

func (p *pePort) AtomicFetchXor(_ context.Context, pe transport.PE, addr transport.Addr, val uint64) (uint64, error) {
	return p.amo(pe, addr, func(old uint64) uint64 { return old ^ val }), nil
}

func (p *pePort) Fence(context.Context) error    { return nil }
func (p *pePort) Quiet(context.Context) error     { return nil }
func (p *pePort) Progress(context.Context) error { return nil }

func (p *pePort) TestOnce(addr transport.Addr, cmp transport.Cmp, value uint64) (bool, error) {
	p.world.mu.Lock()
	b := p.bytes(p.me, addr, 8)
	cur := binary.LittleEndian.Uint64(b)
	p.world.mu.Unlock()
	return compare(cur, cmp, value), nil
}

func (p *pePort) WaitUntil(ctx context.Context, addr transport.Addr, cmp transport.Cmp, value uint64) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		ok, err := p.TestOnce(addr, cmp, value)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.Progress(ctx); err != nil {
			return err
		}
	}
}

func compare(cur uint64, cmp transport.Cmp, value uint64) bool {
	switch cmp {
	case transport.CmpEQ:
		return cur == value
	case transport.CmpNE:
		return cur != value
	case transport.CmpLT:
		return cur < value
	case transport.CmpLE:
		return cur <= value
	case transport.CmpGT:
		return cur > value
	case transport.CmpGE:
		return cur >= value
	default:
		return false
	}
}

// Barrier blocks every caller in peers until all have arrived, then releases
// them together; it implies the loopback Quiet is a no-op so nothing further
// is required of callers.
func (p *pePort) Barrier(ctx context.Context, peers []transport.PE) error {
	if ctx == nil {
		ctx = context.Background()
	}
	bs := p.world.barrier
	bs.mu.Lock()
	defer bs.mu.Unlock()
	gen := bs.gen
	bs.arrived[p.me] = true
	if len(bs.arrived) >= len(peers) {
		bs.arrived = make(map[transport.PE]bool, len(peers))
		bs.gen++
		bs.cond.Broadcast()
		return nil
	}
	for bs.gen == gen {
		bs.cond.Wait()
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (p *pePort) Ptr(pe transport.PE, addr transport.Addr) []byte {
	h := p.world.heaps[pe]
	if int(addr) >= len(h) {
		return nil
	}
	return h[addr:]
}
