package heap

import "sync"

// Registry maps heap names to dense, monotonically assigned indices, and
// fronts a fixed-size-on-demand array of *Allocator, one per named heap
// (spec.md §4.1 "Registry").
type Registry struct {
	mu      sync.Mutex
	index   map[string]int
	names   []string
	heaps   []*Allocator
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// NameToIndex returns name's index, assigning the next dense index (and
// creating the backing Allocator) on first sight. Idempotent across calls
// (spec.md §8).
func (r *Registry) NameToIndex(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.index[name]; ok {
		return idx
	}
	idx := len(r.names)
	r.index[name] = idx
	r.names = append(r.names, name)
	r.heaps = append(r.heaps, New())
	return idx
}

// IndexToName performs the reverse lookup via a linear scan (spec.md §4.1:
// "index_to_name is a linear scan"), returning ("", false) if idx is out of
// range.
func (r *Registry) IndexToName(idx int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, i := range r.index {
		if i == idx {
			return name, true
		}
	}
	return "", false
}

// Allocator returns the *Allocator backing the heap at idx, or nil if idx is
// out of range.
func (r *Registry) Allocator(idx int) *Allocator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx < 0 || idx >= len(r.heaps) {
		return nil
	}
	return r.heaps[idx]
}

// Len returns the number of named heaps registered so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.heaps)
}
