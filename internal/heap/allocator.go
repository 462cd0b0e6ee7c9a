// Package heap implements the bounded-region allocator and multi-heap
// registry described in spec.md §4.1: a boundary-tag free-list allocator
// restricted to a caller-supplied base/capacity that never grows by calling
// the OS allocator, plus a name->index registry fronting an array of
// allocator instances.
//
// Unlike a typical Go allocator, Allocator owns its backing bytes directly
// (mem []byte) rather than handing out real *T pointers: addresses are
// symmetric offsets (spec.md GLOSSARY) that must mean the same thing on
// every PE, so the allocator's job is address-space bookkeeping over a
// region that is also, in this implementation, the actual storage (the
// transport layer's loopback heap uses the same convention — see
// transport/loopback).
package heap

import (
	"container/list"
	"fmt"
	"sort"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// minAlign is the minimum alignment/granularity of any returned address,
// per spec.md §8 ("Addresses returned are aligned to at least pointer
// size").
const minAlign = unsafe.Sizeof(uintptr(0))

// block is one address-ordered region of the heap, free or allocated.
// Boundary tags, in the classic sense, are simply this metadata kept
// address-ordered in a doubly linked list (container/list) rather than
// written in-band into mem — there is no pointer-into-Go-memory to corrupt,
// since addresses are offsets, and an out-of-band list is both simpler and
// safe under the race detector.
type block struct {
	offset uintptr
	size   uintptr
	free   bool
}

// Allocator is a single bounded-region, boundary-tag allocator with one
// size-sorted free list searched best-fit; it keeps no per-size-class
// (segregated) free lists. The zero value is not usable; construct with Init.
type Allocator struct {
	mu sync.Mutex

	base     uintptr
	capacity uintptr
	mem      []byte

	blocks *list.List // address-ordered list of *block, free and used

	// freeBySize holds free blocks' *list.Element sorted by block.size
	// ascending, giving O(log n) best-fit lookup via binary search and
	// O(n) insertion (the free-list is rarely more than a few hundred
	// entries for a symmetric heap used the way OpenSHMEM programs use
	// one: few, large, long-lived allocations).
	freeBySize []*list.Element

	allocated uintptr // bytes currently handed out (spec.md §8 footprint)
}

// New returns an unconfigured Allocator; call Init before use.
func New() *Allocator {
	return &Allocator{}
}

// Init configures the allocator over [base, base+capacity). It fails if
// base is zero or not minAlign-aligned, or if capacity is zero (spec.md
// §4.1 "Contract").
func (a *Allocator) Init(base uintptr, capacity uintptr) error {
	if base == 0 {
		return fmt.Errorf("heap: base must be non-zero (reserved as the null sentinel)")
	}
	if base%minAlign != 0 {
		return fmt.Errorf("heap: base %#x is not %d-byte aligned", base, minAlign)
	}
	if capacity == 0 {
		return fmt.Errorf("heap: capacity must be non-zero")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.base = base
	a.capacity = capacity
	a.mem = make([]byte, capacity)
	a.blocks = list.New()
	a.allocated = 0

	root := &block{offset: 0, size: capacity, free: true}
	elem := a.blocks.PushBack(root)
	a.freeBySize = []*list.Element{elem}
	return nil
}

// Finalize releases the allocator's backing storage. Any address handed out
// previously becomes invalid.
func (a *Allocator) Finalize() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mem = nil
	a.blocks = nil
	a.freeBySize = nil
	a.allocated = 0
}

// Base returns the heap's base address.
func (a *Allocator) Base() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.base
}

// Capacity returns the heap's total capacity in bytes.
func (a *Allocator) Capacity() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capacity
}

// Footprint returns the number of bytes currently allocated; spec.md §8
// requires Footprint() <= Capacity() at all times.
func (a *Allocator) Footprint() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated
}

// Bytes returns a slice view of the region at [addr, addr+n) for read/write
// by the transport layer or tests. It panics if the range runs past the end
// of the heap; it does not check that the range lies within a
// currently-allocated block.
func (a *Allocator) Bytes(addr uintptr, n uintptr) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if addr == 0 || n == 0 {
		return nil
	}
	off := addr - a.base
	if off+n > a.capacity {
		panic(fmt.Sprintf("heap: range [%#x,%#x) out of bounds", addr, addr+n))
	}
	return a.mem[off : off+n]
}

func roundUp(size, align uintptr) uintptr {
	if align == 0 {
		return size
	}
	return (size + align - 1) &^ (align - 1)
}

// Malloc returns an address to a region of at least size bytes, or 0 (the
// null sentinel) if size is 0 or no free block is large enough.
func (a *Allocator) Malloc(size uintptr) uintptr {
	if size == 0 {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocLocked(roundUp(size, minAlign))
}

// Calloc returns a zero-initialized region of n*size bytes, or 0 if n or
// size is 0.
func (a *Allocator) Calloc(n, size uintptr) uintptr {
	if n == 0 || size == 0 {
		return 0
	}
	total := n * size
	a.mu.Lock()
	defer a.mu.Unlock()
	need := roundUp(total, minAlign)
	addr := a.allocLocked(need)
	if addr == 0 {
		return 0
	}
	off := addr - a.base
	clear(a.mem[off : off+total])
	return addr
}

// Align returns an address aligned to alignment (which must be a power of
// two >= pointer size) with room for size bytes, or 0 if size is 0 or the
// request cannot be satisfied.
func (a *Allocator) Align(alignment, size uintptr) uintptr {
	if size == 0 {
		return 0
	}
	if alignment < minAlign || alignment&(alignment-1) != 0 {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	need := roundUp(size, minAlign)
	// Over-allocate enough to guarantee an aligned sub-range exists, then
	// trim the unaligned prefix (and any trailing slack) back onto the
	// free list, same technique realloc-free allocators use for
	// posix_memalign.
	padded := need + alignment - minAlign
	addr := a.allocLocked(padded)
	if addr == 0 {
		return 0
	}
	aligned := roundUp(addr, alignment)
	if aligned == addr {
		// Already aligned: shrink the trailing slack back to the free list.
		a.shrinkInPlaceLocked(addr, need)
		return addr
	}
	prefix := aligned - addr
	a.splitPrefixLocked(addr, prefix)
	a.shrinkInPlaceLocked(aligned, need)
	return aligned
}

// AlignPage behaves like Align with alignment set to the host's page size
// (golang.org/x/sys/unix.Getpagesize), for callers that need a region safe
// to register with the underlying network transport's memory registration
// (commonly page-granular) rather than an arbitrary power-of-two alignment.
func (a *Allocator) AlignPage(size uintptr) uintptr {
	return a.Align(uintptr(unix.Getpagesize()), size)
}

// Free releases the block at addr. Free(0) is a no-op.
func (a *Allocator) Free(addr uintptr) {
	if addr == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeLocked(addr)
}

// Realloc resizes the block at addr to newSize, possibly moving it, and
// returns the new address. Realloc(p, 0) frees p and returns 0. Realloc(0,
// n) behaves as Malloc(n).
func (a *Allocator) Realloc(addr uintptr, newSize uintptr) uintptr {
	if newSize == 0 {
		a.Free(addr)
		return 0
	}
	if addr == 0 {
		return a.Malloc(newSize)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	need := roundUp(newSize, minAlign)
	elem, blk := a.findLocked(addr)
	if elem == nil {
		panic(fmt.Sprintf("heap: realloc of unknown address %#x", addr))
	}

	if need <= blk.size {
		a.shrinkInPlaceLocked(addr, need)
		return addr
	}

	// Try to extend in place by absorbing a free right neighbor.
	if next := elem.Next(); next != nil {
		nb := next.Value.(*block)
		if nb.free && blk.size+nb.size >= need {
			a.removeFreeLocked(next)
			blk.size += nb.size
			a.allocated += nb.size
			a.blocks.Remove(next)
			a.shrinkInPlaceLocked(addr, need)
			return addr
		}
	}

	// Move: allocate fresh, copy the overlap, free the old block.
	newAddr := a.allocLocked(need)
	if newAddr == 0 {
		return 0
	}
	oldOff := addr - a.base
	newOff := newAddr - a.base
	copy(a.mem[newOff:newOff+blk.size], a.mem[oldOff:oldOff+blk.size])
	a.freeLocked(addr)
	return newAddr
}

// allocLocked finds the smallest free block >= need bytes (best fit over
// the size-ordered free list), splits off any remainder, and returns the
// allocated address, or 0 if nothing fits. Caller holds a.mu.
func (a *Allocator) allocLocked(need uintptr) uintptr {
	if need == 0 || a.blocks == nil {
		return 0
	}
	idx := sort.Search(len(a.freeBySize), func(i int) bool {
		return a.freeBySize[i].Value.(*block).size >= need
	})
	if idx == len(a.freeBySize) {
		return 0
	}
	elem := a.freeBySize[idx]
	a.removeFreeAt(idx)

	blk := elem.Value.(*block)
	blk.free = false
	remainder := blk.size - need
	blk.size = need

	if remainder > 0 {
		rem := &block{offset: blk.offset + need, size: remainder, free: true}
		remElem := a.blocks.InsertAfter(rem, elem)
		a.insertFreeLocked(remElem)
	}

	a.allocated += need
	return a.base + blk.offset
}

func (a *Allocator) freeLocked(addr uintptr) {
	elem, blk := a.findLocked(addr)
	if elem == nil {
		panic(fmt.Sprintf("heap: free of unknown address %#x", addr))
	}
	if blk.free {
		panic(fmt.Sprintf("heap: double free of address %#x", addr))
	}
	a.allocated -= blk.size
	blk.free = true

	// Coalesce with a free right neighbor, then a free left neighbor.
	if next := elem.Next(); next != nil {
		nb := next.Value.(*block)
		if nb.free {
			a.removeFreeLocked(next)
			blk.size += nb.size
			a.blocks.Remove(next)
		}
	}
	if prev := elem.Prev(); prev != nil {
		pb := prev.Value.(*block)
		if pb.free {
			a.removeFreeLocked(prev)
			pb.size += blk.size
			a.blocks.Remove(elem)
			a.insertFreeLocked(prev)
			return
		}
	}
	a.insertFreeLocked(elem)
}

// shrinkInPlaceLocked trims an allocated block at addr down to newSize,
// pushing any trailing slack back onto the free list (coalescing right).
func (a *Allocator) shrinkInPlaceLocked(addr uintptr, newSize uintptr) {
	elem, blk := a.findLocked(addr)
	if elem == nil || blk.size <= newSize {
		return
	}
	remainder := blk.size - newSize
	blk.size = newSize
	a.allocated -= remainder
	rem := &block{offset: blk.offset + newSize, size: remainder, free: true}
	remElem := a.blocks.InsertAfter(rem, elem)
	if next := remElem.Next(); next != nil {
		nb := next.Value.(*block)
		if nb.free {
			a.removeFreeLocked(next)
			rem.size += nb.size
			a.blocks.Remove(next)
		}
	}
	a.insertFreeLocked(remElem)
}

// splitPrefixLocked carves off the first prefix bytes of the allocated
// block at addr as a new free block, used by Align to release the
// misaligned head of an over-sized allocation.
func (a *Allocator) splitPrefixLocked(addr uintptr, prefix uintptr) {
	elem, blk := a.findLocked(addr)
	if elem == nil || prefix == 0 || prefix >= blk.size {
		return
	}
	pre := &block{offset: blk.offset, size: prefix, free: true}
	blk.offset += prefix
	blk.size -= prefix
	a.allocated -= prefix
	preElem := a.blocks.InsertBefore(pre, elem)
	if prev := preElem.Prev(); prev != nil {
		pb := prev.Value.(*block)
		if pb.free {
			a.removeFreeLocked(prev)
			pb.size += pre.size
			a.blocks.Remove(preElem)
			a.insertFreeLocked(prev)
			return
		}
	}
	a.insertFreeLocked(preElem)
}

func (a *Allocator) findLocked(addr uintptr) (*list.Element, *block) {
	off := addr - a.base
	for e := a.blocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)
		if b.offset == off {
			return e, b
		}
	}
	return nil, nil
}

func (a *Allocator) insertFreeLocked(elem *list.Element) {
	size := elem.Value.(*block).size
	idx := sort.Search(len(a.freeBySize), func(i int) bool {
		return a.freeBySize[i].Value.(*block).size >= size
	})
	a.freeBySize = append(a.freeBySize, nil)
	copy(a.freeBySize[idx+1:], a.freeBySize[idx:])
	a.freeBySize[idx] = elem
}

func (a *Allocator) removeFreeAt(idx int) {
	a.freeBySize = append(a.freeBySize[:idx], a.freeBySize[idx+1:]...)
}

func (a *Allocator) removeFreeLocked(elem *list.Element) {
	for i, e := range a.freeBySize {
		if e == elem {
			a.removeFreeAt(i)
			return
		}
	}
}
