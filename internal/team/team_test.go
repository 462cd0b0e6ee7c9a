package team

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michael-beebe/osss-go/transport"
)

func TestWorldFwdRevInverse(t *testing.T) {
	const n = 8
	w := NewWorld(n, 3)
	assert.Equal(t, 3, w.Rank())
	assert.Equal(t, n, w.NRanks())
	for r := 0; r < n; r++ {
		pe := w.GlobalPE(r)
		got, ok := w.TeamRank(pe)
		require.True(t, ok)
		assert.Equal(t, r, got)
	}
}

func TestStridedTeamMembership(t *testing.T) {
	// start=1, stride=2, nranks=3 within a WORLD of 8 -> global PEs {1,3,5}
	tm, err := New("", 1, 2, 3, transport.PE(3), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tm.Rank())
	assert.Equal(t, transport.PE(1), tm.GlobalPE(0))
	assert.Equal(t, transport.PE(3), tm.GlobalPE(1))
	assert.Equal(t, transport.PE(5), tm.GlobalPE(2))
	_, ok := tm.TeamRank(2)
	assert.False(t, ok)
}

func TestPSyncInitializedToSyncValue(t *testing.T) {
	w := NewWorld(4, 0)
	for _, kind := range []PSyncKind{PSyncBarrier, PSyncCollective} {
		for _, v := range w.PSync(kind) {
			assert.Equal(t, SyncValue, v)
		}
	}
}

func TestSplitPreservesRelativeOrder(t *testing.T) {
	w := NewWorld(8, 5)
	even, err := w.Split(5, func(rank int) bool { return rank%2 == 0 })
	require.NoError(t, err)
	// 5 is odd, not a member of the even split.
	assert.Equal(t, -1, even.Rank())
	assert.Equal(t, 4, even.NRanks())
	for i, pe := range even.Peers() {
		assert.Equal(t, transport.PE(i*2), pe)
	}
}

func TestSplitStrided(t *testing.T) {
	w := NewWorld(8, 0)
	sub, err := w.SplitStrided(0, 0, 2, 4)
	require.NoError(t, err)
	require.Equal(t, 4, sub.NRanks())
	assert.Equal(t, transport.PE(0), sub.GlobalPE(0))
	assert.Equal(t, transport.PE(2), sub.GlobalPE(1))
	assert.Equal(t, transport.PE(4), sub.GlobalPE(2))
	assert.Equal(t, transport.PE(6), sub.GlobalPE(3))
}

func TestSplit2D(t *testing.T) {
	w := NewWorld(6, 4) // rank 4, xdim=2 -> grid: rows of 2, 3 rows
	row, col, err := w.Split2D(4, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, row.NRanks())
	assert.Equal(t, 3, col.NRanks())
}

func TestContextDestroyedWithTeam(t *testing.T) {
	w := NewWorld(2, 0)
	ctx := NewContext(w)
	assert.Same(t, w, ctx.Team())
	w.Destroy()
	assert.Nil(t, ctx.Team())
}

func TestSharedTeamSorted(t *testing.T) {
	peers := []transport.PE{5, 1, 3}
	s, err := NewShared(peers, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Rank())
	assert.Equal(t, []transport.PE{1, 3, 5}, s.Peers())
}
