// Package config provides swarm engine configuration with YAML file and
// environment variable overrides. Precedence: defaults, then file, then env.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete swarmcore configuration.
type Config struct {
	Registry  RegistryConfig  `yaml:"registry"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Consensus ConsensusConfig `yaml:"consensus"`
	Topology  TopologyConfig  `yaml:"topology"`
	Journal   JournalConfig   `yaml:"journal"`
	Log       LogConfig       `yaml:"log"`
}

// RegistryConfig controls agent health tracking.
type RegistryConfig struct {
	// HeartbeatInterval is the expected beat cadence of healthy agents.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// MissedThreshold is how many intervals may elapse without a beat
	// before an agent is marked unreachable.
	MissedThreshold int `yaml:"missed_threshold"`
	// RetireGrace is how long an unreachable agent is kept before it is
	// retired and dropped from routing entirely.
	RetireGrace time.Duration `yaml:"retire_grace"`
	// SweepInterval is the cadence of the background health sweep.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DispatchConfig controls task distribution.
type DispatchConfig struct {
	// MaxRetries is the number of reassignments after agent-reported
	// failures before a task goes terminal Failed.
	MaxRetries int `yaml:"max_retries"`
	// AttemptTimeout bounds a single assignment; a task still running
	// past it is failed with reason "timeout".
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	// MaxQueueDepth bounds the pending queue; submissions beyond it are
	// rejected rather than buffered unbounded.
	MaxQueueDepth int `yaml:"max_queue_depth"`
	// DefaultAgentLoad is the per-agent concurrent task capacity used
	// when an agent registers without declaring one.
	DefaultAgentLoad int `yaml:"default_agent_load"`
}

// ConsensusConfig controls proposal voting among Queens.
type ConsensusConfig struct {
	// VotingWindow is the mandatory deadline applied to every proposal.
	VotingWindow time.Duration `yaml:"voting_window"`
	// SupermajorityFraction is the approval fraction for supermajority rules.
	SupermajorityFraction float64 `yaml:"supermajority_fraction"`
	// AllowRevote permits a voter to overwrite an earlier vote. Off by
	// default; duplicate votes are rejected.
	AllowRevote bool `yaml:"allow_revote"`
}

// TopologyConfig holds the deterministic auto-selection thresholds.
type TopologyConfig struct {
	// MeshMaxPopulation is the small-N bound under which mesh is preferred.
	MeshMaxPopulation int `yaml:"mesh_max_population"`
	// HierarchicalThreshold is the population above which hierarchical
	// coordination is selected.
	HierarchicalThreshold int `yaml:"hierarchical_threshold"`
	// CollaborationRatio is the cross-task collaboration level above
	// which mesh is selected regardless of population.
	CollaborationRatio float64 `yaml:"collaboration_ratio"`
	// HubAffinity is the centralization signal above which star is selected.
	HubAffinity float64 `yaml:"hub_affinity"`
	// DependencyDensity is the pipeline signal above which ring is selected.
	DependencyDensity float64 `yaml:"dependency_density"`
	// BranchFactor bounds fan-out per node in hierarchical trees.
	BranchFactor int `yaml:"branch_factor"`
	// DepthLimit bounds hierarchical tree depth; zero means unbounded.
	DepthLimit int `yaml:"depth_limit"`
}

// JournalConfig controls the SQLite event journal.
type JournalConfig struct {
	// Path is the database file; empty disables journaling,
	// ":memory:" keeps the journal in process memory.
	Path string `yaml:"path"`
}

// LogConfig controls logger construction in the CLI.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Registry: RegistryConfig{
			HeartbeatInterval: 5 * time.Second,
			MissedThreshold:   3,
			RetireGrace:       30 * time.Second,
			SweepInterval:     time.Second,
		},
		Dispatch: DispatchConfig{
			MaxRetries:       3,
			AttemptTimeout:   2 * time.Minute,
			MaxQueueDepth:    1024,
			DefaultAgentLoad: 1,
		},
		Consensus: ConsensusConfig{
			VotingWindow:          30 * time.Second,
			SupermajorityFraction: 2.0 / 3.0,
			AllowRevote:           false,
		},
		Topology: TopologyConfig{
			MeshMaxPopulation:     8,
			HierarchicalThreshold: 50,
			CollaborationRatio:    0.6,
			HubAffinity:           0.7,
			DependencyDensity:     0.5,
			BranchFactor:          4,
			DepthLimit:            0,
		},
		Journal: JournalConfig{Path: ""},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults, then applies environment
// overrides. A missing path yields defaults plus env.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot honor.
func (c Config) Validate() error {
	if c.Registry.HeartbeatInterval <= 0 {
		return fmt.Errorf("registry: heartbeat_interval must be positive")
	}
	if c.Registry.MissedThreshold < 1 {
		return fmt.Errorf("registry: missed_threshold must be at least 1")
	}
	if c.Dispatch.MaxQueueDepth < 1 {
		return fmt.Errorf("dispatch: max_queue_depth must be at least 1")
	}
	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("dispatch: max_retries must not be negative")
	}
	if c.Consensus.VotingWindow <= 0 {
		return fmt.Errorf("consensus: voting_window must be positive")
	}
	if f := c.Consensus.SupermajorityFraction; f <= 0.5 || f > 1 {
		return fmt.Errorf("consensus: supermajority_fraction must be in (0.5, 1]")
	}
	if c.Topology.BranchFactor < 2 {
		return fmt.Errorf("topology: branch_factor must be at least 2")
	}
	if c.Topology.MeshMaxPopulation < 1 {
		return fmt.Errorf("topology: mesh_max_population must be at least 1")
	}
	if c.Topology.HierarchicalThreshold < 1 {
		return fmt.Errorf("topology: hierarchical_threshold must be at least 1")
	}
	if r := c.Topology.CollaborationRatio; r < 0 || r > 1 {
		return fmt.Errorf("topology: collaboration_ratio must be in [0, 1]")
	}
	if r := c.Topology.HubAffinity; r < 0 || r > 1 {
		return fmt.Errorf("topology: hub_affinity must be in [0, 1]")
	}
	if r := c.Topology.DependencyDensity; r < 0 || r > 1 {
		return fmt.Errorf("topology: dependency_density must be in [0, 1]")
	}
	if c.Topology.DepthLimit < 0 {
		return fmt.Errorf("topology: depth_limit must not be negative")
	}
	return nil
}

// applyEnv overrides selected fields from SWARMCORE_* variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SWARMCORE_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Registry.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("SWARMCORE_MISSED_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Registry.MissedThreshold = n
		}
	}
	if v := os.Getenv("SWARMCORE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.MaxRetries = n
		}
	}
	if v := os.Getenv("SWARMCORE_MAX_QUEUE_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.MaxQueueDepth = n
		}
	}
	if v := os.Getenv("SWARMCORE_VOTING_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Consensus.VotingWindow = d
		}
	}
	if v := os.Getenv("SWARMCORE_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv("SWARMCORE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
