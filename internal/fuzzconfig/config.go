// Package fuzzconfig handles configuration loading for corefuzz runs,
// adapted from the teacher's internal/config package layout: one
// top-level Config of nested, yaml-tagged sections with a DefaultConfig
// constructor.
package fuzzconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level run configuration.
type Config struct {
	Run     RunConfig     `yaml:"run"`
	Pool    PoolConfig    `yaml:"pool"`
	Failure FailureConfig `yaml:"failure"`
	Output  OutputConfig  `yaml:"output"`
}

// RunConfig controls the fuzzer loop itself.
type RunConfig struct {
	Workers      int           `yaml:"workers"`
	CaseTimeout  time.Duration `yaml:"case_timeout"`
	MaxIters     int64         `yaml:"max_iterations"` // 0 = unbounded
	MaxDuration  time.Duration `yaml:"max_duration"`   // 0 = unbounded
	CorpusDir    string        `yaml:"corpus_dir"`
	MutationSeed int64         `yaml:"mutation_seed"`

	// MaxCplx rejects any mutated candidate whose complexity exceeds it
	// before the property is even run (spec.md §4.G step 4). 0 = unbounded.
	MaxCplx float64 `yaml:"max_cplx"`
	// StopOnFirstFailure makes the loop exit with TestFailed on the first
	// caught panic/false result instead of routing it into the failure
	// pool and continuing (spec.md §7, error kind 3).
	StopOnFirstFailure bool `yaml:"stop_on_first_failure"`
	// DetectInfiniteLoop, when true, shortens the per-case timeout to the
	// spec's 1-second SIGALRM-equivalent bound instead of CaseTimeout.
	DetectInfiniteLoop bool `yaml:"detect_infinite_loop"`
}

// PoolConfig selects the input pool's scoring model and sampling knobs.
type PoolConfig struct {
	GroupWeighted  bool `yaml:"group_weighted"`
	MaxPoolSize    int  `yaml:"max_pool_size"`
	FavoredEnabled bool `yaml:"favored_enabled"`
}

// FailureConfig controls failure-pool near-duplicate suppression.
type FailureConfig struct {
	EnableTLSH    bool `yaml:"enable_tlsh"`
	TLSHMinBytes  int  `yaml:"tlsh_min_bytes"`
	TLSHThreshold int  `yaml:"tlsh_threshold"`
}

// OutputConfig controls terminal/web reporting.
type OutputConfig struct {
	Verbose     bool          `yaml:"verbose"`
	QuietMode   bool          `yaml:"quiet_mode"`
	EnableWeb   bool          `yaml:"enable_web"`
	WebAddr     string        `yaml:"web_addr"`
	StatsPeriod time.Duration `yaml:"stats_period"`
}

// DefaultConfig returns corefuzz's built-in defaults, mirroring the
// teacher's DefaultConfig pattern.
func DefaultConfig() *Config {
	return &Config{
		Run: RunConfig{
			Workers:     4,
			CaseTimeout: 2 * time.Second,
			CorpusDir:   "./corpus",
		},
		Pool: PoolConfig{
			GroupWeighted:  false,
			MaxPoolSize:    10000,
			FavoredEnabled: true,
		},
		Failure: FailureConfig{
			EnableTLSH:    true,
			TLSHMinBytes:  50,
			TLSHThreshold: 100,
		},
		Output: OutputConfig{
			Verbose:     false,
			EnableWeb:   false,
			WebAddr:     "127.0.0.1:8787",
			StatsPeriod: time.Second,
		},
	}
}

// Load reads a YAML config file, applying it over DefaultConfig so
// omitted fields keep their defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fuzzconfig: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("fuzzconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}
