/*
Copyright 2025 NVIDIA Corporation

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package planner

import (
	"fmt"
	"os"
	"strconv"

	"k8s.io/klog/v2"

	"github.com/NVIDIA/topo-channel-planner/pkg/topology"
)

// Environment variables read once at Compute entry.
const (
	EnvGraphFile     = "NCCL_GRAPH_FILE"
	EnvGraphDumpFile = "NCCL_GRAPH_DUMP_FILE"
	EnvCrossNic      = "NCCL_CROSS_NIC"
	EnvP2PPxnLevel   = "NCCL_P2P_PXN_LEVEL"
	EnvRings         = "NCCL_RINGS"
)

// RingParser turns a user-supplied textual ring list into channels on the
// graph. The parser itself lives outside this repository.
type RingParser func(rings string, system *topology.System, graph *Graph) error

// PreMatcher is a hard-coded pattern matcher for a particular server SKU.
// A matcher that recognizes the system fills the graph's channels and the
// search is skipped; one that does not must leave the graph untouched.
type PreMatcher func(system *topology.System, graph *Graph) error

// Config is the read-once configuration of a planning run. The engine never
// touches the environment itself; LoadConfigFromEnv is the only reader.
type Config struct {
	// GraphFile imports a previously dumped plan and bypasses the search
	// when it yields at least one channel.
	GraphFile string `json:"graphFile"`

	// GraphDumpFile is the export destination used by DumpGraphs.
	GraphDumpFile string `json:"graphDumpFile"`

	// CrossNic permits a channel's entry and exit NIC to differ in
	// (asic, port): 0=forbid, 1=allow, 2=auto.
	CrossNic int `json:"crossNic"`

	// P2PPxnLevel controls how aggressively lateral (PXN) egress is
	// preferred during NIC resolution: 0=never, 1=if close enough,
	// 2=whenever reachable through a node-local GPU.
	P2PPxnLevel int `json:"p2pPxnLevel"`

	// Rings is the raw user-supplied ring list; consumed by RingParser.
	Rings string `json:"rings"`

	RingParser  RingParser   `json:"-"`
	PreMatchers []PreMatcher `json:"-"`
}

// DefaultConfig provides the defaults used when the environment is silent.
var DefaultConfig = Config{
	CrossNic:    2,
	P2PPxnLevel: 2,
}

// LoadConfigFromEnv reads the environment once into a Config.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig

	if v := os.Getenv(EnvGraphFile); v != "" {
		klog.V(4).Infof("%s set by environment to %s", EnvGraphFile, v)
		cfg.GraphFile = v
	}
	if v := os.Getenv(EnvGraphDumpFile); v != "" {
		klog.V(4).Infof("%s set by environment to %s", EnvGraphDumpFile, v)
		cfg.GraphDumpFile = v
	}
	if v := os.Getenv(EnvRings); v != "" {
		cfg.Rings = v
	}

	var err error
	if cfg.CrossNic, err = intFromEnv(EnvCrossNic, cfg.CrossNic); err != nil {
		return cfg, err
	}
	if cfg.P2PPxnLevel, err = intFromEnv(EnvP2PPxnLevel, cfg.P2PPxnLevel); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks that the discrete knobs are within range.
func (c *Config) Validate() error {
	if c.CrossNic < 0 || c.CrossNic > 2 {
		return NewPlanError(
			ErrorCategoryInvalidUsage,
			fmt.Sprintf("crossNic must be 0, 1 or 2, got %d", c.CrossNic),
			[]string{fmt.Sprintf("Set %s to 0 (forbid), 1 (allow) or 2 (auto)", EnvCrossNic)},
			map[string]interface{}{"crossNic": c.CrossNic},
		)
	}
	if c.P2PPxnLevel < 0 || c.P2PPxnLevel > 2 {
		return NewPlanError(
			ErrorCategoryInvalidUsage,
			fmt.Sprintf("p2pPxnLevel must be 0, 1 or 2, got %d", c.P2PPxnLevel),
			[]string{fmt.Sprintf("Set %s to 0, 1 or 2", EnvP2PPxnLevel)},
			map[string]interface{}{"p2pPxnLevel": c.P2PPxnLevel},
		)
	}
	return nil
}

func intFromEnv(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s value %q: %w", name, v, err)
	}
	klog.V(4).Infof("%s set by environment to %d", name, n)
	return n, nil
}
