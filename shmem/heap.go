package shmem

import "github.com/michael-beebe/osss-go/transport"

// Malloc allocates size bytes from the default symmetric heap, or the null
// address (0) if size is 0 or the heap is exhausted (spec.md §4.1
// "malloc(0) ... return the null pointer without side effects"; §7 kind 3,
// "allocator returns null for a nonzero request", is a returnable, not
// fatal, condition).
func (s *Shmem) Malloc(size uintptr) transport.Addr {
	unlock := s.lock()
	defer unlock()
	return transport.Addr(s.eng.DefaultAllocator().Malloc(size))
}

// Calloc allocates a zero-initialized n*size byte region.
func (s *Shmem) Calloc(n, size uintptr) transport.Addr {
	unlock := s.lock()
	defer unlock()
	return transport.Addr(s.eng.DefaultAllocator().Calloc(n, size))
}

// Realloc resizes the block at addr to newSize bytes, possibly moving it;
// the new address is returned. Realloc(0, n) behaves as Malloc(n);
// Realloc(addr, 0) frees addr and returns 0.
func (s *Shmem) Realloc(addr transport.Addr, newSize uintptr) transport.Addr {
	unlock := s.lock()
	defer unlock()
	return transport.Addr(s.eng.DefaultAllocator().Realloc(uintptr(addr), newSize))
}

// Free releases the block at addr back to the default symmetric heap.
func (s *Shmem) Free(addr transport.Addr) {
	unlock := s.lock()
	defer unlock()
	s.eng.DefaultAllocator().Free(uintptr(addr))
}

// Align allocates size bytes at an address that is a multiple of
// alignment, which must be a power of two at least pointer-sized (spec.md
// §4.1).
func (s *Shmem) Align(alignment, size uintptr) transport.Addr {
	unlock := s.lock()
	defer unlock()
	return transport.Addr(s.eng.DefaultAllocator().Align(alignment, size))
}

// AlignPage is Align with alignment fixed to the host page size, for
// buffers a real network transport will register for RDMA (commonly
// page-granular).
func (s *Shmem) AlignPage(size uintptr) transport.Addr {
	unlock := s.lock()
	defer unlock()
	return transport.Addr(s.eng.DefaultAllocator().AlignPage(size))
}

// Ptr returns a local byte-slice view of addr on pe if pe is node-local and
// addr is locally mapped, nil otherwise (spec.md §6 shmem_ptr).
func (s *Shmem) Ptr(pe transport.PE, addr transport.Addr) []byte {
	return s.eng.Transport().Ptr(pe, addr)
}
