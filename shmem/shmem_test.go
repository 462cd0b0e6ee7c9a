package shmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michael-beebe/osss-go/internal/engine"
	"github.com/michael-beebe/osss-go/transport"
	"github.com/michael-beebe/osss-go/transport/loopback"
)

func testConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.SymmetricHeapBytes = 1 << 16
	cfg.ReduceScratchBytes = 4096
	return cfg
}

func TestInitAndFinalize(t *testing.T) {
	w := loopback.NewWorld(4, 1<<16)
	s, err := Init(w.PE(0), nil, testConfig())
	require.NoError(t, err)

	assert.Equal(t, 4, s.N())
	require.NotNil(t, s.World())
	assert.Nil(t, s.Shared())

	s.Finalize()
}

func TestInitBuildsSharedTeam(t *testing.T) {
	w := loopback.NewWorld(4, 1<<16)
	peers := []transport.PE{0, 1}
	s, err := Init(w.PE(0), peers, testConfig())
	require.NoError(t, err)

	require.NotNil(t, s.Shared())
	assert.Equal(t, 2, s.Shared().NRanks())
}

func TestMallocFreeAlign(t *testing.T) {
	w := loopback.NewWorld(2, 1<<16)
	s, err := Init(w.PE(0), nil, testConfig())
	require.NoError(t, err)

	assert.Zero(t, s.Malloc(0))

	p := s.Malloc(64)
	require.NotZero(t, p)
	s.Free(p)

	aligned := s.AlignPage(100)
	require.NotZero(t, aligned)
}
