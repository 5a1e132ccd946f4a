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

package topology

import (
	"fmt"
)

// NodeKind identifies the hardware class of a topology node.
type NodeKind int

const (
	KindGPU NodeKind = iota
	KindPCISwitch
	KindCPU
	KindNet

	numNodeKinds
)

// KindNone marks the absence of a source node at the start of a traversal.
const KindNone NodeKind = -1

// NodeKinds lists all kinds in arena order.
var NodeKinds = []NodeKind{KindGPU, KindPCISwitch, KindCPU, KindNet}

func (k NodeKind) String() string {
	switch k {
	case KindGPU:
		return "GPU"
	case KindPCISwitch:
		return "PCI"
	case KindCPU:
		return "CPU"
	case KindNet:
		return "NET"
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// LinkKind is the physical class of a single link.
type LinkKind int

const (
	LinkLOC LinkKind = iota
	LinkNVL
	LinkPCI
	LinkSYS
	LinkNet
)

func (k LinkKind) String() string {
	switch k {
	case LinkLOC:
		return "LOC"
	case LinkNVL:
		return "NVL"
	case LinkPCI:
		return "PCI"
	case LinkSYS:
		return "SYS"
	case LinkNet:
		return "NET"
	}
	return fmt.Sprintf("LinkKind(%d)", int(k))
}

// LinkType is the proximity class of a precomputed path. It is a total
// order: smaller values denote closer, faster connectivity.
type LinkType int

const (
	PathLOC LinkType = iota // same device
	PathNVL                 // direct NVLink
	PathNVB                 // NVLink through an intermediate GPU
	PathPIX                 // PCIe, same switch
	PathPXB                 // PCIe, multiple switches
	PathPXN                 // PCIe through a lateral NVLink GPU hop
	PathPHB                 // PCIe through the host bridge (one CPU)
	PathSYS                 // across the inter-socket interconnect
)

var linkTypeNames = []string{"LOC", "NVL", "NVB", "PIX", "PXB", "PXN", "PHB", "SYS"}

func (t LinkType) String() string {
	if t >= 0 && int(t) < len(linkTypeNames) {
		return linkTypeNames[t]
	}
	return fmt.Sprintf("LinkType(%d)", int(t))
}

// ParseLinkType resolves a symbolic path-type name.
func ParseLinkType(s string) (LinkType, error) {
	for i, name := range linkTypeNames {
		if name == s {
			return LinkType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown link type %q", s)
}

// CPUArch identifies the CPU instruction set architecture.
type CPUArch int

const (
	CPUArchUnknown CPUArch = iota
	CPUArchX86
	CPUArchPower
	CPUArchARM
)

// CPUVendor identifies the CPU vendor.
type CPUVendor int

const (
	CPUVendorUnknown CPUVendor = iota
	CPUVendorIntel
	CPUVendorAMD
)

// GPUInfo carries the GPU-specific record of a node.
type GPUInfo struct {
	Dev         int   // device enumeration index
	Ranks       []int // participating ranks mapped onto this GPU
	CudaCompCap int
}

// CPUInfo carries the CPU-specific record of a node.
type CPUInfo struct {
	Arch   CPUArch
	Vendor CPUVendor
}

// NetInfo carries the NIC-specific record of a node. NICs sharing (ASIC,
// Port) pool their physical bandwidth.
type NetInfo struct {
	Dev         int
	ASIC        int64
	Port        int
	Bw          float64 // per-channel bandwidth
	MaxChannels int
	Latency     float64
	CollSupport bool
}

// Link is a directed edge of the hardware graph. Its Bw field is the only
// mutable state during a search; the reverse direction is a distinct Link
// found by remote-node lookup.
type Link struct {
	Kind   LinkKind
	Bw     float64
	Remote *Node
}

// Path is a precomputed ordered list of links from one node to a
// destination node. Type is the coarsest link type along the path and Bw
// the bottleneck bandwidth before any reservation.
type Path struct {
	Links []*Link
	Type  LinkType
	Bw    float64
}

// Count returns the number of hops on the path.
func (p *Path) Count() int {
	if p == nil {
		return 0
	}
	return len(p.Links)
}

// Node is one vertex of the decorated multigraph. Exactly one of the
// kind-specific records is populated, matching Kind. Nodes are addressed by
// (kind, arena index), never by owning pointer.
type Node struct {
	Kind  NodeKind
	ID    int64
	Index int // arena index within the kind

	Links []*Link

	// Paths[kind][i] is the precomputed path to arena node i of that kind.
	Paths [numNodeKinds][]*Path

	// Used is a per-channel bitmask owned by the channel search: bit c set
	// means this GPU is on channel c currently under construction.
	Used uint64

	GPU *GPUInfo
	CPU *CPUInfo
	Net *NetInfo
}

// PathsTo returns the precomputed path table toward the given kind, or nil
// if paths were never computed.
func (n *Node) PathsTo(kind NodeKind) []*Path {
	return n.Paths[kind]
}

// FindRevLink locates the reverse partner of a link from n1 to n2.
func FindRevLink(n1, n2 *Node) (*Link, error) {
	for _, link := range n2.Links {
		if link.Remote == n1 {
			return link, nil
		}
	}
	return nil, fmt.Errorf("no reverse link for %s/%d -> %s/%d", n1.Kind, n1.ID, n2.Kind, n2.ID)
}
