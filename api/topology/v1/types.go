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

// Package v1 defines the on-disk schema for a declared hardware topology:
// the hand-off format between the external discovery collaborator and the
// channel planner.
package v1

import (
	"fmt"

	"k8s.io/utils/ptr"
)

// TopologyVersion is the schema version this package reads and writes.
const TopologyVersion = 1

// These constants name the node classes a declared topology may contain.
const (
	NodeClassGPU       = "gpu"
	NodeClassCPU       = "cpu"
	NodeClassNIC       = "nic"
	NodeClassPCISwitch = "pciswitch"
)

// These constants name the link classes between declared nodes.
const (
	LinkClassNVLink = "nvlink"
	LinkClassPCI    = "pci"
	LinkClassSYS    = "sys"
	LinkClassNet    = "net"
)

// These constants name the CPU architectures and vendors that carry
// planner-visible semantics.
const (
	CPUArchX86   = "x86"
	CPUArchPower = "power"
	CPUArchARM   = "arm"

	CPUVendorIntel = "intel"
	CPUVendorAMD   = "amd"
)

// Topology is the root of a declared topology file.
type Topology struct {
	Version int `json:"version" yaml:"version"`
	// NRanks is the total number of participating ranks across all hosts.
	// Zero means "the ranks declared here".
	NRanks   int          `json:"nRanks,omitempty" yaml:"nRanks,omitempty"`
	GPUs     []GPUSpec    `json:"gpus" yaml:"gpus"`
	CPUs     []CPUSpec    `json:"cpus,omitempty" yaml:"cpus,omitempty"`
	NICs     []NICSpec    `json:"nics,omitempty" yaml:"nics,omitempty"`
	Switches []SwitchSpec `json:"switches,omitempty" yaml:"switches,omitempty"`
	Links    []LinkSpec   `json:"links" yaml:"links"`
}

// GPUSpec declares one GPU.
type GPUSpec struct {
	ID int64 `json:"id" yaml:"id"`
	// Dev is the device enumeration index; defaults to the declaration
	// order.
	Dev *int `json:"dev,omitempty" yaml:"dev,omitempty"`
	// Ranks lists the ranks hosted by this GPU; defaults to a single rank
	// equal to Dev.
	Ranks []int `json:"ranks,omitempty" yaml:"ranks,omitempty"`
	// ComputeCap defaults to 80.
	ComputeCap *int `json:"computeCap,omitempty" yaml:"computeCap,omitempty"`
}

// CPUSpec declares one host CPU (one socket).
type CPUSpec struct {
	ID     int64  `json:"id" yaml:"id"`
	Arch   string `json:"arch,omitempty" yaml:"arch,omitempty"`
	Vendor string `json:"vendor,omitempty" yaml:"vendor,omitempty"`
}

// NICSpec declares one NIC. NICs sharing (ASIC, Port) pool their physical
// bandwidth.
type NICSpec struct {
	ID   int64 `json:"id" yaml:"id"`
	Dev  *int  `json:"dev,omitempty" yaml:"dev,omitempty"`
	ASIC int64 `json:"asic" yaml:"asic"`
	Port int   `json:"port" yaml:"port"`
	// Bw is the per-channel bandwidth in GB/s.
	Bw float64 `json:"bw" yaml:"bw"`
	// MaxChannels defaults to the planner's channel cap.
	MaxChannels *int    `json:"maxChannels,omitempty" yaml:"maxChannels,omitempty"`
	Latency     float64 `json:"latency,omitempty" yaml:"latency,omitempty"`
	CollSupport bool    `json:"collSupport,omitempty" yaml:"collSupport,omitempty"`
}

// SwitchSpec declares one PCIe switch.
type SwitchSpec struct {
	ID int64 `json:"id" yaml:"id"`
}

// LinkSpec declares one bidirectional link between two nodes, addressed as
// "<class>/<id>" (for example "gpu/0", "nic/1").
type LinkSpec struct {
	A     string  `json:"a" yaml:"a"`
	B     string  `json:"b" yaml:"b"`
	Class string  `json:"class" yaml:"class"`
	Bw    float64 `json:"bw" yaml:"bw"`
}

// DefaultGPUSpec fills the optional GPU fields for declaration order i.
func DefaultGPUSpec(spec *GPUSpec, i int) {
	if spec.Dev == nil {
		spec.Dev = ptr.To(i)
	}
	if spec.ComputeCap == nil {
		spec.ComputeCap = ptr.To(80)
	}
	if len(spec.Ranks) == 0 {
		spec.Ranks = []int{*spec.Dev}
	}
}

// Validate ensures the declared topology is internally consistent.
func (t *Topology) Validate() error {
	if t == nil {
		return fmt.Errorf("topology cannot be nil")
	}
	if t.Version != TopologyVersion {
		return fmt.Errorf("unsupported topology version %d, expected %d", t.Version, TopologyVersion)
	}
	if len(t.GPUs) == 0 {
		return fmt.Errorf("topology declares no GPUs")
	}

	ids := map[string]bool{}
	declare := func(class string, id int64) error {
		key := fmt.Sprintf("%s/%d", class, id)
		if ids[key] {
			return fmt.Errorf("duplicate node %s", key)
		}
		ids[key] = true
		return nil
	}
	for _, g := range t.GPUs {
		if err := declare(NodeClassGPU, g.ID); err != nil {
			return err
		}
	}
	for _, c := range t.CPUs {
		if err := declare(NodeClassCPU, c.ID); err != nil {
			return err
		}
		if c.Arch != "" && c.Arch != CPUArchX86 && c.Arch != CPUArchPower && c.Arch != CPUArchARM {
			return fmt.Errorf("cpu %d: unknown arch %q", c.ID, c.Arch)
		}
		if c.Vendor != "" && c.Vendor != CPUVendorIntel && c.Vendor != CPUVendorAMD {
			return fmt.Errorf("cpu %d: unknown vendor %q", c.ID, c.Vendor)
		}
	}
	for _, n := range t.NICs {
		if err := declare(NodeClassNIC, n.ID); err != nil {
			return err
		}
		if n.Bw <= 0 {
			return fmt.Errorf("nic %d: bandwidth must be positive", n.ID)
		}
		if n.MaxChannels != nil && *n.MaxChannels < 0 {
			return fmt.Errorf("nic %d: maxChannels must not be negative", n.ID)
		}
	}
	for _, s := range t.Switches {
		if err := declare(NodeClassPCISwitch, s.ID); err != nil {
			return err
		}
	}

	for i, l := range t.Links {
		switch l.Class {
		case LinkClassNVLink, LinkClassPCI, LinkClassSYS, LinkClassNet:
		default:
			return fmt.Errorf("link %d: unknown class %q", i, l.Class)
		}
		if l.Bw <= 0 {
			return fmt.Errorf("link %d (%s - %s): bandwidth must be positive", i, l.A, l.B)
		}
		for _, end := range []string{l.A, l.B} {
			if !ids[end] {
				return fmt.Errorf("link %d references undeclared node %s", i, end)
			}
		}
	}
	return nil
}
