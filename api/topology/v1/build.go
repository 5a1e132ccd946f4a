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

package v1

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/NVIDIA/topo-channel-planner/pkg/topology"
)

// Load reads and validates a declared topology from a YAML (or JSON) file.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology file: %w", err)
	}
	var topo Topology
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return nil, fmt.Errorf("decoding topology file %s: %w", path, err)
	}
	if err := topo.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology file %s: %w", path, err)
	}
	return &topo, nil
}

func parseArch(s string) topology.CPUArch {
	switch s {
	case CPUArchX86:
		return topology.CPUArchX86
	case CPUArchPower:
		return topology.CPUArchPower
	case CPUArchARM:
		return topology.CPUArchARM
	}
	return topology.CPUArchUnknown
}

func parseVendor(s string) topology.CPUVendor {
	switch s {
	case CPUVendorIntel:
		return topology.CPUVendorIntel
	case CPUVendorAMD:
		return topology.CPUVendorAMD
	}
	return topology.CPUVendorUnknown
}

func parseLinkClass(s string) topology.LinkKind {
	switch s {
	case LinkClassNVLink:
		return topology.LinkNVL
	case LinkClassSYS:
		return topology.LinkSYS
	case LinkClassNet:
		return topology.LinkNet
	}
	return topology.LinkPCI
}

// BuildSystem turns a validated declaration into the decorated multigraph
// the planner searches over, with all path tables precomputed.
func (t *Topology) BuildSystem() (*topology.System, error) {
	builder := topology.NewBuilder(t.NRanks)
	nodes := map[string]*topology.Node{}

	for i := range t.GPUs {
		spec := t.GPUs[i]
		DefaultGPUSpec(&spec, i)
		node := builder.AddGPU(spec.ID, *spec.Dev, *spec.ComputeCap, spec.Ranks...)
		nodes[fmt.Sprintf("%s/%d", NodeClassGPU, spec.ID)] = node
	}
	for _, spec := range t.CPUs {
		node := builder.AddCPU(spec.ID, parseArch(spec.Arch), parseVendor(spec.Vendor))
		nodes[fmt.Sprintf("%s/%d", NodeClassCPU, spec.ID)] = node
	}
	for i, spec := range t.NICs {
		dev := i
		if spec.Dev != nil {
			dev = *spec.Dev
		}
		maxChannels := 32
		if spec.MaxChannels != nil {
			maxChannels = *spec.MaxChannels
		}
		node := builder.AddNet(spec.ID, topology.NetInfo{
			Dev:         dev,
			ASIC:        spec.ASIC,
			Port:        spec.Port,
			Bw:          spec.Bw,
			MaxChannels: maxChannels,
			Latency:     spec.Latency,
			CollSupport: spec.CollSupport,
		})
		nodes[fmt.Sprintf("%s/%d", NodeClassNIC, spec.ID)] = node
	}
	for _, spec := range t.Switches {
		node := builder.AddPCISwitch(spec.ID)
		nodes[fmt.Sprintf("%s/%d", NodeClassPCISwitch, spec.ID)] = node
	}

	for i, link := range t.Links {
		a, b := nodes[strings.TrimSpace(link.A)], nodes[strings.TrimSpace(link.B)]
		if a == nil || b == nil {
			return nil, fmt.Errorf("link %d references undeclared node", i)
		}
		builder.Connect(a, b, parseLinkClass(link.Class), link.Bw)
	}

	return builder.Build()
}
