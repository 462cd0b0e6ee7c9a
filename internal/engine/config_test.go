package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, names ...string) {
	t.Helper()
	for _, n := range names {
		old, had := os.LookupEnv(n)
		os.Unsetenv(n)
		t.Cleanup(func() {
			if had {
				os.Setenv(n, old)
			}
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t, "OSSS_CONFIG_FILE", "SHMEM_BARRIER_ALGO", "OSSS_BARRIER_ALGO",
		"OSSS_TREE_RADIX", "OSSS_LOG_LEVEL", "SHMEM_SYMMETRIC_SIZE", "OSSS_SYMMETRIC_HEAP_BYTES")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFromFile(t *testing.T) {
	clearEnv(t, "OSSS_CONFIG_FILE", "SHMEM_BARRIER_ALGO", "OSSS_BARRIER_ALGO", "OSSS_TREE_RADIX")

	dir := t.TempDir()
	path := filepath.Join(dir, "osss.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
barrier_algorithm = "binomial_tree"
tree_radix = 4
log_level = "debug"
`), 0o644))
	os.Setenv("OSSS_CONFIG_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "binomial_tree", cfg.BarrierAlgo)
	assert.Equal(t, 4, cfg.TreeRadix)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched fields keep their defaults.
	assert.Equal(t, DefaultConfig().ReduceAlgo, cfg.ReduceAlgo)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	clearEnv(t, "OSSS_CONFIG_FILE", "SHMEM_BARRIER_ALGO", "OSSS_BARRIER_ALGO")

	dir := t.TempDir()
	path := filepath.Join(dir, "osss.toml")
	require.NoError(t, os.WriteFile(path, []byte(`barrier_algorithm = "binomial_tree"`), 0o644))
	os.Setenv("OSSS_CONFIG_FILE", path)
	os.Setenv("SHMEM_BARRIER_ALGO", "dissemination")
	t.Cleanup(func() { os.Unsetenv("SHMEM_BARRIER_ALGO") })

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "dissemination", cfg.BarrierAlgo)
}

func TestLoadConfigInvalidTreeRadix(t *testing.T) {
	clearEnv(t, "OSSS_CONFIG_FILE", "OSSS_TREE_RADIX")
	os.Setenv("OSSS_TREE_RADIX", "1")
	t.Cleanup(func() { os.Unsetenv("OSSS_TREE_RADIX") })

	_, err := LoadConfig()
	assert.Error(t, err)
}
