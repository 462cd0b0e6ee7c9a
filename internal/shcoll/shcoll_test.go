package shcoll

import (
	"context"

	"github.com/michael-beebe/osss-go/internal/team"
	"github.com/michael-beebe/osss-go/transport"
	"github.com/michael-beebe/osss-go/transport/loopback"
)

// Shared symmetric-heap layout for every test in this package: generous
// fixed offsets so tests can freely mix src/dst/pSync/pWrk without having to
// reason about overlap. heapBytes is sized for nelems up to a few hundred
// float64s plus a full 64-word pSync/pWrk region.
const (
	testHeapBytes  = 16 << 10
	testSrcAddr    transport.Addr = 0
	testDstAddr    transport.Addr = 2048
	testPSyncAddr  transport.Addr = 8192
	testPWrkAddr   transport.Addr = 10240
)

// testWorld builds a loopback World of n PEs and one *team.Team per PE
// (each PE's own view of the WORLD team, per team.NewWorld's per-caller
// construction).
func testWorld(n int) (*loopback.World, []*team.Team) {
	w := loopback.NewWorld(n, testHeapBytes)
	teams := make([]*team.Team, n)
	for pe := 0; pe < n; pe++ {
		teams[pe] = team.NewWorld(n, transport.PE(pe))
	}
	return w, teams
}

func putFloat64s(ctx context.Context, t transport.Transport, addr transport.Addr, vals []float64) error {
	return t.Put(ctx, t.Me(), addr, bytesOf(vals))
}

func getFloat64s(ctx context.Context, t transport.Transport, addr transport.Addr, n int) ([]float64, error) {
	buf := make([]float64, n)
	if err := t.Get(ctx, t.Me(), bytesOf(buf), addr); err != nil {
		return nil, err
	}
	return buf, nil
}

func putInts(ctx context.Context, t transport.Transport, addr transport.Addr, vals []int64) error {
	return t.Put(ctx, t.Me(), addr, bytesOf(vals))
}

func getInts(ctx context.Context, t transport.Transport, addr transport.Addr, n int) ([]int64, error) {
	buf := make([]int64, n)
	if err := t.Get(ctx, t.Me(), bytesOf(buf), addr); err != nil {
		return nil, err
	}
	return buf, nil
}
