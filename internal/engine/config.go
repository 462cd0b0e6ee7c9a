package engine

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the tunable surface resolved at Init time (spec.md §6
// "Collective configuration"): a default algorithm name per collective
// family, the tree radix/degree shared by every tree-shaped algorithm, a
// multi-threaded-mode flag, logging level, and the size of the default
// symmetric heap. Algorithm names are spec-prose strings, resolved against
// internal/shcoll's dispatch tables at Init — an unrecognized name is a
// fatal configuration error (spec.md §7.4), not a silently-ignored one.
type Config struct {
	BarrierAlgo   string
	BroadcastAlgo string
	CollectAlgo   string
	FcollectAlgo  string
	AlltoallAlgo  string
	ReduceAlgo    string

	TreeRadix int

	MultiThreaded bool

	LogLevel string

	SymmetricHeapBytes uintptr

	// ReduceScratchBytes sizes the pWrk region reserved per team for
	// reduce's scratch requirements (spec.md §4.3.6); internal/shcoll/
	// pwrk.go's MinPWrkElems is checked against it whenever a reduce call
	// exceeds the reserved capacity.
	ReduceScratchBytes uintptr
}

// DefaultConfig is the built-in first layer of spec.md §6's three-layer
// resolution order (defaults, then an optional TOML file, then env vars).
func DefaultConfig() Config {
	return Config{
		BarrierAlgo:        "dissemination",
		BroadcastAlgo:      "binomial_tree",
		CollectAlgo:        "all_linear",
		FcollectAlgo:       "ring",
		AlltoallAlgo:       "shift_exchange",
		ReduceAlgo:         "binomial",
		TreeRadix:          2,
		MultiThreaded:      false,
		LogLevel:           "info",
		SymmetricHeapBytes: 1 << 24, // 16 MiB, a conservative single-PE default
		ReduceScratchBytes: 1 << 16, // 64 KiB: 8192 float64s, generous for a pWrk scratch region
	}
}

// tomlConfig mirrors Config with toml tags; a fresh struct rather than tags
// on Config itself, since not every Config field is meant to be overridable
// from the same file section in a future revision and the indirection keeps
// that door open without touching Config's call sites.
type tomlConfig struct {
	Barrier       string `toml:"barrier_algorithm"`
	Broadcast     string `toml:"broadcast_algorithm"`
	Collect       string `toml:"collect_algorithm"`
	Fcollect      string `toml:"fcollect_algorithm"`
	Alltoall      string `toml:"alltoall_algorithm"`
	Reduce        string `toml:"reduce_algorithm"`
	TreeRadix     int    `toml:"tree_radix"`
	MultiThreaded bool   `toml:"multi_threaded"`
	LogLevel      string `toml:"log_level"`
	HeapBytes     int64  `toml:"symmetric_heap_bytes"`
	ReduceScratchBytes int64 `toml:"reduce_scratch_bytes"`
}

// LoadConfig resolves Config per spec.md §6: built-in defaults, then an
// optional TOML file named by OSSS_CONFIG_FILE (parsed with
// github.com/BurntSushi/toml), then SHMEM_*/OSSS_* environment variables,
// each layer overriding only the fields it sets.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("OSSS_CONFIG_FILE"); path != "" {
		var file tomlConfig
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return cfg, fmt.Errorf("engine: reading config file %s: %w", path, err)
		}
		applyTOML(&cfg, file)
	}

	applyEnv(&cfg)

	return cfg, validateConfig(cfg)
}

func applyTOML(cfg *Config, file tomlConfig) {
	if file.Barrier != "" {
		cfg.BarrierAlgo = file.Barrier
	}
	if file.Broadcast != "" {
		cfg.BroadcastAlgo = file.Broadcast
	}
	if file.Collect != "" {
		cfg.CollectAlgo = file.Collect
	}
	if file.Fcollect != "" {
		cfg.FcollectAlgo = file.Fcollect
	}
	if file.Alltoall != "" {
		cfg.AlltoallAlgo = file.Alltoall
	}
	if file.Reduce != "" {
		cfg.ReduceAlgo = file.Reduce
	}
	if file.TreeRadix != 0 {
		cfg.TreeRadix = file.TreeRadix
	}
	cfg.MultiThreaded = cfg.MultiThreaded || file.MultiThreaded
	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	if file.HeapBytes != 0 {
		cfg.SymmetricHeapBytes = uintptr(file.HeapBytes)
	}
	if file.ReduceScratchBytes != 0 {
		cfg.ReduceScratchBytes = uintptr(file.ReduceScratchBytes)
	}
}

// applyEnv overrides Config fields from the SHMEM_*/OSSS_* env var names
// OpenSHMEM-convention tooling looks for (spec.md §6: "matching
// OpenSHMEM's SHMEM_* env var convention"); OSSS_* is this runtime's own
// namespace for settings OpenSHMEM itself has no name for.
func applyEnv(cfg *Config) {
	if v := firstSet("SHMEM_BARRIER_ALGO", "OSSS_BARRIER_ALGO"); v != "" {
		cfg.BarrierAlgo = v
	}
	if v := firstSet("SHMEM_BCAST_ALGO", "OSSS_BROADCAST_ALGO"); v != "" {
		cfg.BroadcastAlgo = v
	}
	if v := firstSet("SHMEM_COLLECT_ALGO", "OSSS_COLLECT_ALGO"); v != "" {
		cfg.CollectAlgo = v
	}
	if v := firstSet("SHMEM_FCOLLECT_ALGO", "OSSS_FCOLLECT_ALGO"); v != "" {
		cfg.FcollectAlgo = v
	}
	if v := firstSet("SHMEM_ALLTOALL_ALGO", "OSSS_ALLTOALL_ALGO"); v != "" {
		cfg.AlltoallAlgo = v
	}
	if v := firstSet("SHMEM_REDUCE_ALGO", "OSSS_REDUCE_ALGO"); v != "" {
		cfg.ReduceAlgo = v
	}
	if v := firstSet("OSSS_TREE_RADIX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TreeRadix = n
		}
	}
	if v := firstSet("OSSS_MULTI_THREADED"); v != "" {
		cfg.MultiThreaded = parseBool(v)
	}
	if v := firstSet("OSSS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := firstSet("SHMEM_SYMMETRIC_SIZE", "OSSS_SYMMETRIC_HEAP_BYTES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			cfg.SymmetricHeapBytes = uintptr(n)
		}
	}
	if v := firstSet("OSSS_REDUCE_SCRATCH_BYTES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			cfg.ReduceScratchBytes = uintptr(n)
		}
	}
}

func firstSet(names ...string) string {
	for _, name := range names {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
	}
	return ""
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func validateConfig(cfg Config) error {
	if cfg.TreeRadix < 2 {
		return fmt.Errorf("engine: tree_radix must be >= 2, got %d", cfg.TreeRadix)
	}
	if cfg.SymmetricHeapBytes == 0 {
		return fmt.Errorf("engine: symmetric_heap_bytes must be non-zero")
	}
	if cfg.ReduceScratchBytes == 0 {
		return fmt.Errorf("engine: reduce_scratch_bytes must be non-zero")
	}
	return nil
}
