package heap

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const testBase = 0x10000

func newTestAllocator(t *testing.T, capacity uintptr) *Allocator {
	t.Helper()
	a := New()
	require.NoError(t, a.Init(testBase, capacity))
	return a
}

func TestInitRejectsBadArgs(t *testing.T) {
	a := New()
	assert.Error(t, a.Init(0, 1024))
	assert.Error(t, a.Init(testBase+1, 1024))
	assert.Error(t, a.Init(testBase, 0))
	assert.NoError(t, a.Init(testBase, 1024))
}

func TestMallocZeroIsNull(t *testing.T) {
	a := newTestAllocator(t, 4096)
	assert.Zero(t, a.Malloc(0))
	assert.Zero(t, a.Calloc(0, 8))
	assert.Zero(t, a.Calloc(8, 0))
	assert.Zero(t, a.Realloc(0, 0))
	assert.Zero(t, a.Align(8, 0))
	assert.Zero(t, a.Footprint())
}

func TestMallocWithinRegion(t *testing.T) {
	a := newTestAllocator(t, 4096)
	p := a.Malloc(64)
	require.NotZero(t, p)
	assert.GreaterOrEqual(t, p, a.Base())
	assert.Less(t, p, a.Base()+a.Capacity())
	assert.Equal(t, uintptr(64), a.Footprint())
}

func TestCallocZeroesMemory(t *testing.T) {
	a := newTestAllocator(t, 4096)
	p := a.Malloc(32)
	copy(a.Bytes(p, 32), []byte{1, 2, 3, 4})
	a.Free(p)

	q := a.Calloc(8, 4)
	require.NotZero(t, q)
	for _, b := range a.Bytes(q, 32) {
		assert.Zero(t, b)
	}
}

func TestAlignPowerOfTwo(t *testing.T) {
	a := newTestAllocator(t, 1<<20)
	for _, align := range []uintptr{8, 16, 64, 256, 4096} {
		p := a.Align(align, 100)
		require.NotZero(t, p, "align=%d", align)
		assert.Zero(t, p%align, "align=%d got %#x", align, p)
	}
	// Non-power-of-two alignment is rejected.
	assert.Zero(t, a.Align(3, 8))
	// Alignment smaller than pointer size is rejected.
	assert.Zero(t, a.Align(1, 8))
}

func TestAlignPage(t *testing.T) {
	a := newTestAllocator(t, 1<<20)
	p := a.AlignPage(100)
	require.NotZero(t, p)
	pageSize := uintptr(unix.Getpagesize())
	assert.Zero(t, p%pageSize)
}

func TestReallocMovesAndCopies(t *testing.T) {
	a := newTestAllocator(t, 4096)
	p := a.Malloc(16)
	copy(a.Bytes(p, 16), []byte("0123456789abcdef"))

	q := a.Realloc(p, 256)
	require.NotZero(t, q)
	assert.Equal(t, []byte("0123456789abcdef"), a.Bytes(q, 16))
}

func TestReallocToZeroFrees(t *testing.T) {
	a := newTestAllocator(t, 4096)
	p := a.Malloc(16)
	assert.Zero(t, a.Realloc(p, 0))
	assert.Zero(t, a.Footprint())
}

func TestReallocFromZeroIsMalloc(t *testing.T) {
	a := newTestAllocator(t, 4096)
	p := a.Realloc(0, 64)
	assert.NotZero(t, p)
}

func TestFootprintNeverExceedsCapacity(t *testing.T) {
	a := newTestAllocator(t, 8192)
	rng := rand.New(rand.NewSource(1))
	var live []uintptr
	for i := 0; i < 2000; i++ {
		switch {
		case len(live) > 0 && rng.Intn(2) == 0:
			idx := rng.Intn(len(live))
			a.Free(live[idx])
			live = append(live[:idx], live[idx+1:]...)
		default:
			size := uintptr(1 + rng.Intn(200))
			if p := a.Malloc(size); p != 0 {
				live = append(live, p)
			}
		}
		assert.LessOrEqual(t, a.Footprint(), a.Capacity())
	}
}

func TestFreeThenReuseAtCapacity(t *testing.T) {
	a := newTestAllocator(t, 4096)
	var ptrs []uintptr
	for {
		p := a.Malloc(64)
		if p == 0 {
			break
		}
		ptrs = append(ptrs, p)
	}
	require.NotEmpty(t, ptrs)
	for _, p := range ptrs {
		a.Free(p)
	}
	assert.Zero(t, a.Footprint())
	assert.Equal(t, 1, a.FreeBlockCount(), "fully freed heap should fully coalesce back to one block")

	p := a.Malloc(a.Capacity())
	require.NotZero(t, p, "a fully coalesced heap should satisfy a capacity-sized request")
}

func TestDoubleFreePanics(t *testing.T) {
	a := newTestAllocator(t, 4096)
	p := a.Malloc(32)
	a.Free(p)
	assert.Panics(t, func() { a.Free(p) })
}
