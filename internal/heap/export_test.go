package heap

// Export for testing: expose internal free-list shape for white-box
// assertions, following the teacher's export_test.go convention
// (NikoMalik-sync_pool/export_test.go).

// FreeBlockCount returns the number of distinct free blocks currently
// tracked, for fragmentation assertions.
func (a *Allocator) FreeBlockCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.freeBySize)
}

// BlockCount returns the total number of blocks (free and used).
func (a *Allocator) BlockCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blocks.Len()
}
