package shcoll

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/michael-beebe/osss-go/transport"
)

// TestFcollectRing reproduces spec.md §8's concrete scenario: fcollect ring,
// N=4.
func TestFcollectRing(t *testing.T) {
	const n = 4
	const perPE = 3
	w, teams := testWorld(n)

	want := make([]int64, n*perPE)
	for pe := 0; pe < n; pe++ {
		mine := make([]int64, perPE)
		for i := range mine {
			mine[i] = int64(pe*100 + i)
			want[pe*perPE+i] = mine[i]
		}
		require.NoError(t, putInts(context.Background(), w.PE(transport.PE(pe)), testSrcAddr, mine))
	}

	g, ctx := errgroup.WithContext(context.Background())
	for pe := 0; pe < n; pe++ {
		pe := pe
		g.Go(func() error {
			tr := w.PE(transport.PE(pe))
			return Fcollect[int64](ctx, tr, teams[pe], testDstAddr, testSrcAddr, perPE, testPSyncAddr, FcollectRing)
		})
	}
	require.NoError(t, g.Wait())

	for pe := 0; pe < n; pe++ {
		got, err := getInts(context.Background(), w.PE(transport.PE(pe)), testDstAddr, n*perPE)
		require.NoError(t, err)
		assert.Equal(t, want, got, "PE %d", pe)
	}
}

func TestFcollectAlgorithms(t *testing.T) {
	const n = 4
	const perPE = 2
	algos := []FcollectAlgorithm{
		FcollectLinear, FcollectAllLinear, FcollectAllLinear1,
		FcollectRecursiveDoubling, FcollectRing, FcollectBruck,
		FcollectBruckNoRotate, FcollectBruckSignal, FcollectBruckInplace,
		FcollectNeighborExchange,
	}

	want := make([]int64, n*perPE)
	for i := range want {
		want[i] = int64(i)
	}

	for _, algo := range algos {
		w, teams := testWorld(n)
		for pe := 0; pe < n; pe++ {
			mine := want[pe*perPE : (pe+1)*perPE]
			require.NoError(t, putInts(context.Background(), w.PE(transport.PE(pe)), testSrcAddr, mine))
		}

		g, ctx := errgroup.WithContext(context.Background())
		for pe := 0; pe < n; pe++ {
			pe := pe
			g.Go(func() error {
				tr := w.PE(transport.PE(pe))
				return Fcollect[int64](ctx, tr, teams[pe], testDstAddr, testSrcAddr, perPE, testPSyncAddr, algo)
			})
		}
		require.NoError(t, g.Wait(), "algorithm %d", algo)

		for pe := 0; pe < n; pe++ {
			got, err := getInts(context.Background(), w.PE(transport.PE(pe)), testDstAddr, n*perPE)
			require.NoError(t, err)
			assert.Equal(t, want, got, "algorithm %d PE %d", algo, pe)
		}
	}
}

func TestFcollectNeighborExchangeRequiresEven(t *testing.T) {
	const n = 3
	w, teams := testWorld(n)
	err := Fcollect[int64](context.Background(), w.PE(0), teams[0], testDstAddr, testSrcAddr, 1, testPSyncAddr, FcollectNeighborExchange)
	assert.Error(t, err)
}
