package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"k8s.io/utils/cpuset"

	"github.com/AMDEPYC/cluster-plug/internal/scaling"
)

const (
	DefaultBigCPUs    = "0-3"
	DefaultLittleCPUs = "4-7"
)

// Config represents the node agent configuration used in standalone mode
type Config struct {
	Topology TopologyConfig `yaml:"topology"`
	Active   bool           `yaml:"active"`
	LowPower bool           `yaml:"low_power"`
	Tunables TunablesConfig `yaml:"tunables"`

	// parsed by Validate
	topology scaling.Topology
}

// TopologyConfig holds the cpu lists of both clusters in the kernel list format, e.g. "0-3,8"
type TopologyConfig struct {
	Big    string `yaml:"big"`
	Little string `yaml:"little"`
}

// TunablesConfig mirrors the runtime parameters, unset values keep their defaults
type TunablesConfig struct {
	SamplingMs        *int `yaml:"sampling_ms,omitempty"`
	LoadThresholdUp   *int `yaml:"load_threshold_up,omitempty"`
	LoadThresholdDown *int `yaml:"load_threshold_down,omitempty"`
	VoteThresholdUp   *int `yaml:"vote_threshold_up,omitempty"`
	VoteThresholdDown *int `yaml:"vote_threshold_down,omitempty"`
	StaleTickFactor   *int `yaml:"stale_tick_factor,omitempty"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg := &Config{}
	if err := Validate(cfg); err != nil {
		panic(err)
	}
	return cfg
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ClusterTopology returns the topology parsed by Validate
func (c *Config) ClusterTopology() scaling.Topology {
	return c.topology
}

// Opts returns the tunables with defaults filled in
func (c *Config) Opts() scaling.ClusterPlugOpts {
	opts := scaling.DefaultClusterPlugOpts()
	if c.Tunables.SamplingMs != nil {
		opts.SamplePeriod = time.Duration(*c.Tunables.SamplingMs) * time.Millisecond
	}
	setIfPresent(&opts.LoadThresholdUp, c.Tunables.LoadThresholdUp)
	setIfPresent(&opts.LoadThresholdDown, c.Tunables.LoadThresholdDown)
	setIfPresent(&opts.VoteThresholdUp, c.Tunables.VoteThresholdUp)
	setIfPresent(&opts.VoteThresholdDown, c.Tunables.VoteThresholdDown)
	setIfPresent(&opts.StaleTickFactor, c.Tunables.StaleTickFactor)

	return opts
}

func setIfPresent(dest *int, value *int) {
	if value != nil {
		*dest = *value
	}
}

func parseCPUList(name, list string) (cpuset.CPUSet, error) {
	cpus, err := cpuset.Parse(list)
	if err != nil {
		return cpuset.New(), fmt.Errorf("topology.%s: %w", name, err)
	}
	return cpus, nil
}
