package shcoll

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/michael-beebe/osss-go/transport"
)

// TestBarrierDissemination reproduces spec.md §8's concrete scenario:
// barrier-all dissemination, N=4. Every PE records a "before" and "after"
// counter; the barrier must guarantee every PE's "before" write is visible
// to every other PE once any PE observes "after".
func TestBarrierDissemination(t *testing.T) {
	const n = 4
	w, teams := testWorld(n)

	var mu sync.Mutex
	arrived := make([]bool, n)

	g, ctx := errgroup.WithContext(context.Background())
	for pe := 0; pe < n; pe++ {
		pe := pe
		g.Go(func() error {
			tr := w.PE(transport.PE(pe))
			time.Sleep(time.Duration(pe) * 5 * time.Millisecond)
			mu.Lock()
			arrived[pe] = true
			mu.Unlock()
			if err := Sync(ctx, tr, teams[pe], testPSyncAddr, BarrierDissemination, 0); err != nil {
				return err
			}
			mu.Lock()
			all := true
			for _, a := range arrived {
				all = all && a
			}
			mu.Unlock()
			if !all {
				t.Errorf("PE %d passed barrier before every PE arrived", pe)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// pSync hygiene: every word used must be reset to syncValue.
	for pe := 0; pe < n; pe++ {
		tr := w.PE(transport.PE(pe))
		for slot := 0; slot < treeMathRoundsFor(n); slot++ {
			v, err := tr.AtomicFetch(ctx, tr.Me(), wordAt(testPSyncAddr, slot))
			require.NoError(t, err)
			assert.Equal(t, uint64(syncValue), v)
		}
	}
}

func treeMathRoundsFor(n int) int {
	rounds := 0
	for (1 << uint(rounds)) < n {
		rounds++
	}
	return rounds
}

func TestBarrierAlgorithms(t *testing.T) {
	const n = 5
	algos := []BarrierAlgorithm{BarrierLinear, BarrierCompleteTree, BarrierBinomialTree, BarrierKNomialTree, BarrierDissemination}
	for _, algo := range algos {
		w, teams := testWorld(n)
		g, ctx := errgroup.WithContext(context.Background())
		for pe := 0; pe < n; pe++ {
			pe := pe
			g.Go(func() error {
				return Sync(ctx, w.PE(transport.PE(pe)), teams[pe], testPSyncAddr, algo, 3)
			})
		}
		require.NoError(t, g.Wait(), "algorithm %d", algo)
	}
}
