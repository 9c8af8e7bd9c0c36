package config

import (
	"fmt"

	"github.com/AMDEPYC/cluster-plug/internal/scaling"
)

// Validate checks if the configuration is valid and fills in defaults
func Validate(cfg *Config) error {
	// Set default topology if not provided
	if cfg.Topology.Big == "" {
		cfg.Topology.Big = DefaultBigCPUs
	}
	if cfg.Topology.Little == "" {
		cfg.Topology.Little = DefaultLittleCPUs
	}

	big, err := parseCPUList("big", cfg.Topology.Big)
	if err != nil {
		return err
	}
	little, err := parseCPUList("little", cfg.Topology.Little)
	if err != nil {
		return err
	}
	cfg.topology, err = scaling.NewTopology(big, little)
	if err != nil {
		return fmt.Errorf("topology validation failed: %w", err)
	}

	// Validate tunables
	if err := cfg.Opts().Validate(); err != nil {
		return fmt.Errorf("tunables validation failed: %w", err)
	}

	return nil
}
