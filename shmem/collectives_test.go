package shmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/michael-beebe/osss-go/internal/shcoll"
	"github.com/michael-beebe/osss-go/transport"
	"github.com/michael-beebe/osss-go/transport/loopback"
)

const (
	testSrcAddr transport.Addr = 32768
	testDstAddr transport.Addr = 36864
)

// perPE builds one Shmem handle per PE sharing the same loopback World.
func perPE(t *testing.T, w *loopback.World, n int) []*Shmem {
	t.Helper()
	out := make([]*Shmem, n)
	for pe := 0; pe < n; pe++ {
		s, err := Init(w.PE(transport.PE(pe)), nil, testConfig())
		require.NoError(t, err)
		out[pe] = s
	}
	return out
}

// TestBarrierAllPEs reproduces spec.md §8 scenario 1's shape: every PE
// reaches Barrier and every PE returns, with no error.
func TestBarrierAllPEs(t *testing.T) {
	const n = 4
	w := loopback.NewWorld(n, 1<<16)
	shs := perPE(t, w, n)

	g, ctx := errgroup.WithContext(context.Background())
	for pe := 0; pe < n; pe++ {
		s := shs[pe]
		g.Go(func() error { return s.Barrier(ctx, s.World()) })
	}
	require.NoError(t, g.Wait())
}

// TestBroadcastBinomialTree reproduces spec.md §8 scenario 2.
func TestBroadcastBinomialTree(t *testing.T) {
	const n = 8
	const root = 3
	const nelems = 10
	w := loopback.NewWorld(n, 1<<16)
	shs := perPE(t, w, n)

	want := make([]int32, nelems)
	for i := range want {
		want[i] = int32(100 + i)
	}
	require.NoError(t, Put[int32](context.Background(), shs[root], root, testSrcAddr, want))

	g, ctx := errgroup.WithContext(context.Background())
	for pe := 0; pe < n; pe++ {
		s := shs[pe]
		g.Go(func() error {
			return Broadcast[int32](ctx, s, s.World(), testDstAddr, testSrcAddr, nelems, root)
		})
	}
	require.NoError(t, g.Wait())

	for pe := 0; pe < n; pe++ {
		got := make([]int32, nelems)
		require.NoError(t, Get[int32](context.Background(), shs[pe], transport.PE(pe), got, testDstAddr))
		assert.Equal(t, want, got, "PE %d", pe)
	}
}

// TestFcollectRing reproduces spec.md §8 scenario 3.
func TestFcollectRing(t *testing.T) {
	const n = 4
	const nelems = 2
	w := loopback.NewWorld(n, 1<<16)
	shs := perPE(t, w, n)

	sources := [][]int64{{10, 11}, {20, 21}, {30, 31}, {40, 41}}
	for pe := 0; pe < n; pe++ {
		require.NoError(t, Put[int64](context.Background(), shs[pe], transport.PE(pe), testSrcAddr, sources[pe]))
	}

	g, ctx := errgroup.WithContext(context.Background())
	for pe := 0; pe < n; pe++ {
		s := shs[pe]
		g.Go(func() error {
			return Fcollect[int64](ctx, s, s.World(), testDstAddr, testSrcAddr, nelems)
		})
	}
	require.NoError(t, g.Wait())

	want := []int64{10, 11, 20, 21, 30, 31, 40, 41}
	for pe := 0; pe < n; pe++ {
		got := make([]int64, n*nelems)
		require.NoError(t, Get[int64](context.Background(), shs[pe], transport.PE(pe), got, testDstAddr))
		assert.Equal(t, want, got, "PE %d", pe)
	}
}

// TestAlltoallColorPairwise reproduces spec.md §8 scenario 4.
func TestAlltoallColorPairwise(t *testing.T) {
	const n = 4
	w := loopback.NewWorld(n, 1<<16)

	shs := make([]*Shmem, n)
	for pe := 0; pe < n; pe++ {
		cfg := testConfig()
		cfg.AlltoallAlgo = "color_pairwise_exchange"
		s, err := Init(w.PE(transport.PE(pe)), nil, cfg)
		require.NoError(t, err)
		shs[pe] = s
	}

	for pe := 0; pe < n; pe++ {
		src := []int32{int32(pe*10 + 0), int32(pe*10 + 1), int32(pe*10 + 2), int32(pe*10 + 3)}
		require.NoError(t, Put[int32](context.Background(), shs[pe], transport.PE(pe), testSrcAddr, src))
	}

	g, ctx := errgroup.WithContext(context.Background())
	for pe := 0; pe < n; pe++ {
		s := shs[pe]
		g.Go(func() error {
			return Alltoall[int32](ctx, s, s.World(), testDstAddr, testSrcAddr, 1, shcoll.CompletionBarrier)
		})
	}
	require.NoError(t, g.Wait())

	for j := 0; j < n; j++ {
		got := make([]int32, n)
		require.NoError(t, Get[int32](context.Background(), shs[j], transport.PE(j), got, testDstAddr))
		want := []int32{int32(j), int32(10 + j), int32(20 + j), int32(30 + j)}
		assert.Equal(t, want, got, "PE %d", j)
	}
}

// TestReduceRabenseifnerNonPowerOfTwo reproduces spec.md §8 scenario 5.
func TestReduceRabenseifnerNonPowerOfTwo(t *testing.T) {
	const n = 5
	const nelems = 3
	w := loopback.NewWorld(n, 1<<16)

	shs := make([]*Shmem, n)
	for pe := 0; pe < n; pe++ {
		cfg := testConfig()
		cfg.ReduceAlgo = "rabenseifner"
		s, err := Init(w.PE(transport.PE(pe)), nil, cfg)
		require.NoError(t, err)
		shs[pe] = s
	}

	for pe := 0; pe < n; pe++ {
		src := []int64{int64(pe), int64(pe), int64(pe)}
		require.NoError(t, Put[int64](context.Background(), shs[pe], transport.PE(pe), testSrcAddr, src))
	}

	g, ctx := errgroup.WithContext(context.Background())
	for pe := 0; pe < n; pe++ {
		s := shs[pe]
		g.Go(func() error {
			return Reduce[int64](ctx, s, s.World(), testDstAddr, testSrcAddr, nelems, shcoll.OpSum)
		})
	}
	require.NoError(t, g.Wait())

	want := []int64{10, 10, 10}
	for pe := 0; pe < n; pe++ {
		got := make([]int64, nelems)
		require.NoError(t, Get[int64](context.Background(), shs[pe], transport.PE(pe), got, testDstAddr))
		assert.Equal(t, want, got, "PE %d", pe)
	}
}

// TestReduceActiveSet exercises the legacy active-set entry point directly
// against the transport, with caller-supplied pSync/pWrk scratch.
func TestReduceActiveSet(t *testing.T) {
	const n = 4
	const nelems = 2
	w := loopback.NewWorld(n, 1<<16)
	shs := perPE(t, w, n)

	for pe := 0; pe < n; pe++ {
		src := []int64{int64(pe + 1), int64(pe + 1)}
		require.NoError(t, Put[int64](context.Background(), shs[pe], transport.PE(pe), testSrcAddr, src))
	}

	const pSyncAddr transport.Addr = 49152
	const pWrkAddr transport.Addr = 53248
	const pWrkElems = 64

	g, ctx := errgroup.WithContext(context.Background())
	for pe := 0; pe < n; pe++ {
		s := shs[pe]
		g.Go(func() error {
			return ReduceActiveSet[int64](ctx, s, 0, 0, n, testDstAddr, testSrcAddr, nelems, pSyncAddr, pWrkAddr, pWrkElems, shcoll.OpSum)
		})
	}
	require.NoError(t, g.Wait())

	want := []int64{10, 10}
	for pe := 0; pe < n; pe++ {
		got := make([]int64, nelems)
		require.NoError(t, Get[int64](context.Background(), shs[pe], transport.PE(pe), got, testDstAddr))
		assert.Equal(t, want, got, "PE %d", pe)
	}
}
