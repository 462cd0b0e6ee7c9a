package shcoll

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/michael-beebe/osss-go/transport"
)

func TestCollectAlgorithms(t *testing.T) {
	const n = 5
	counts := []int{2, 0, 3, 1, 2} // deliberately includes a zero-length contribution
	algos := []CollectAlgorithm{CollectLinear, CollectAllLinear, CollectRing, CollectBruck, CollectBruckNoRotate, CollectSimple}

	total := 0
	offsets := make([]int, n)
	for i, c := range counts {
		offsets[i] = total
		total += c
	}
	want := make([]int64, total)
	for i := range want {
		want[i] = int64(i * 7)
	}

	for _, algo := range algos {
		w, teams := testWorld(n)
		for pe := 0; pe < n; pe++ {
			if counts[pe] == 0 {
				continue
			}
			mine := want[offsets[pe] : offsets[pe]+counts[pe]]
			require.NoError(t, putInts(context.Background(), w.PE(transport.PE(pe)), testSrcAddr, mine))
		}

		g, ctx := errgroup.WithContext(context.Background())
		for pe := 0; pe < n; pe++ {
			pe := pe
			g.Go(func() error {
				tr := w.PE(transport.PE(pe))
				return Collect[int64](ctx, tr, teams[pe], testDstAddr, testSrcAddr, counts[pe], testPSyncAddr, algo)
			})
		}
		require.NoError(t, g.Wait(), "algorithm %d", algo)

		for pe := 0; pe < n; pe++ {
			got, err := getInts(context.Background(), w.PE(transport.PE(pe)), testDstAddr, total)
			require.NoError(t, err)
			assert.Equal(t, want, got, "algorithm %d PE %d", algo, pe)
		}
	}
}

func TestCollectRecursiveDoublingRequiresPowerOfTwo(t *testing.T) {
	const n = 3
	w, teams := testWorld(n)
	tr := w.PE(0)
	err := Collect[int64](context.Background(), tr, teams[0], testDstAddr, testSrcAddr, 1, testPSyncAddr, CollectRecursiveDoubling)
	assert.Error(t, err)
}

func TestCollectRecursiveDoublingPowerOfTwo(t *testing.T) {
	const n = 4
	counts := []int{1, 2, 1, 3}
	total := 7
	want := make([]int64, total)
	for i := range want {
		want[i] = int64(100 + i)
	}
	offsets := []int{0, 1, 3, 4}

	for _, algo := range []CollectAlgorithm{CollectRecursiveDoubling, CollectRecursiveDoublingSignal} {
		w, teams := testWorld(n)
		for pe := 0; pe < n; pe++ {
			mine := want[offsets[pe] : offsets[pe]+counts[pe]]
			require.NoError(t, putInts(context.Background(), w.PE(transport.PE(pe)), testSrcAddr, mine))
		}
		g, ctx := errgroup.WithContext(context.Background())
		for pe := 0; pe < n; pe++ {
			pe := pe
			g.Go(func() error {
				tr := w.PE(transport.PE(pe))
				return Collect[int64](ctx, tr, teams[pe], testDstAddr, testSrcAddr, counts[pe], testPSyncAddr, algo)
			})
		}
		require.NoError(t, g.Wait(), "algorithm %d", algo)
		for pe := 0; pe < n; pe++ {
			got, err := getInts(context.Background(), w.PE(transport.PE(pe)), testDstAddr, total)
			require.NoError(t, err)
			assert.Equal(t, want, got, "algorithm %d PE %d", algo, pe)
		}
	}
}
