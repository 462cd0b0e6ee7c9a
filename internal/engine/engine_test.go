package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michael-beebe/osss-go/internal/shcoll"
	"github.com/michael-beebe/osss-go/transport"
	"github.com/michael-beebe/osss-go/transport/loopback"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SymmetricHeapBytes = 1 << 16
	cfg.ReduceScratchBytes = 4096
	return cfg
}

func TestInitRegistersWorldTeam(t *testing.T) {
	w := loopback.NewWorld(4, 1<<16)
	e, err := Init(w.PE(0), nil, testConfig())
	require.NoError(t, err)

	require.NotNil(t, e.World())
	assert.Equal(t, 4, e.World().NRanks())

	pSync, err := e.PSync(e.World())
	require.NoError(t, err)
	assert.NotZero(t, pSync)

	pWrk, length, err := e.PWrk(e.World())
	require.NoError(t, err)
	assert.NotZero(t, pWrk)
	assert.Equal(t, testConfig().ReduceScratchBytes, length)

	assert.NotEqual(t, pSync, pWrk)
}

func TestInitResolvesDefaultAlgorithms(t *testing.T) {
	w := loopback.NewWorld(2, 1<<16)
	cfg := testConfig()
	cfg.BarrierAlgo = "binomial_tree"
	cfg.ReduceAlgo = "rabenseifner"

	e, err := Init(w.PE(0), nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, shcoll.BarrierBinomialTree, e.BarrierAlgo())
	assert.Equal(t, shcoll.ReduceRabenseifner, e.ReduceAlgo())
}

func TestInitRejectsUnknownAlgorithm(t *testing.T) {
	w := loopback.NewWorld(2, 1<<16)
	cfg := testConfig()
	cfg.CollectAlgo = "not_a_real_algorithm"

	_, err := Init(w.PE(0), nil, cfg)
	assert.Error(t, err)
}

func TestInitBuildsSharedTeamWhenPeersGiven(t *testing.T) {
	w := loopback.NewWorld(4, 1<<16)
	peers := []transport.PE{0, 1}
	e, err := Init(w.PE(0), peers, testConfig())
	require.NoError(t, err)

	require.NotNil(t, e.Shared())
	assert.Equal(t, 2, e.Shared().NRanks())

	pSync, err := e.PSync(e.Shared())
	require.NoError(t, err)
	assert.NotZero(t, pSync)
}

func TestRegisterAndReleaseTeam(t *testing.T) {
	w := loopback.NewWorld(4, 1<<16)
	e, err := Init(w.PE(0), nil, testConfig())
	require.NoError(t, err)

	child, err := e.World().Split(0, func(rank int) bool { return rank%2 == 0 })
	require.NoError(t, err)

	_, err = e.PSync(child)
	assert.Error(t, err, "not yet registered")

	require.NoError(t, e.RegisterTeam(child))
	pSync, err := e.PSync(child)
	require.NoError(t, err)
	assert.NotZero(t, pSync)

	e.ReleaseTeam(child)
	_, err = e.PSync(child)
	assert.Error(t, err, "released")
}

func TestFatalfInvokesHookAfterLogging(t *testing.T) {
	w := loopback.NewWorld(1, 1<<16)
	e, err := Init(w.PE(0), nil, testConfig())
	require.NoError(t, err)

	called := false
	e.SetFatalHook(func() { called = true })
	e.Fatalf("synthetic failure: %d", 42)
	assert.True(t, called)
}

func TestFinalizeInvalidatesBuffers(t *testing.T) {
	w := loopback.NewWorld(2, 1<<16)
	e, err := Init(w.PE(0), nil, testConfig())
	require.NoError(t, err)

	e.Finalize()
	_, err = e.PSync(e.World())
	assert.Error(t, err)
}
