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

// LocBw is the bandwidth assumed for a node talking to itself, used to seed
// MaxBw on single-GPU systems with no NIC.
const LocBw = 5000.0

// MaxNodes bounds the number of nodes of one kind.
const MaxNodes = 256

// System is the discovered hardware graph handed to the planner. The graph
// structure and precomputed paths are read-only during a search; only link
// bandwidths and GPU Used bitmasks mutate, and both are restored on exit.
type System struct {
	nodes [numNodeKinds][]*Node

	// NRanks is the number of participating ranks. It exceeds the GPU count
	// when multiple ranks share one GPU.
	NRanks int

	// MaxBw is the best per-channel bandwidth any GPU can reach toward the
	// relevant peer kind (NIC if present, otherwise GPU). TotalBw is the
	// best aggregate bandwidth out of any single GPU. Both are seeded by
	// SearchInit.
	MaxBw   float64
	TotalBw float64
}

// NewSystem creates an empty system for the given rank count.
func NewSystem(nRanks int) *System {
	return &System{NRanks: nRanks}
}

// Nodes returns the arena of the given kind.
func (s *System) Nodes(kind NodeKind) []*Node {
	return s.nodes[kind]
}

// Node returns the arena node of a kind by index.
func (s *System) Node(kind NodeKind, index int) *Node {
	return s.nodes[kind][index]
}

// GPUCount returns the number of GPU nodes.
func (s *System) GPUCount() int { return len(s.nodes[KindGPU]) }

// NetCount returns the number of NIC nodes.
func (s *System) NetCount() int { return len(s.nodes[KindNet]) }

// AddNode appends a node to its kind arena and assigns its index.
func (s *System) AddNode(node *Node) (*Node, error) {
	if len(s.nodes[node.Kind]) >= MaxNodes {
		return nil, fmt.Errorf("too many %s nodes (max %d)", node.Kind, MaxNodes)
	}
	node.Index = len(s.nodes[node.Kind])
	s.nodes[node.Kind] = append(s.nodes[node.Kind], node)
	return node, nil
}

// GPUForRank resolves the GPU node hosting the given rank.
func (s *System) GPUForRank(rank int) (*Node, error) {
	for _, gpu := range s.nodes[KindGPU] {
		for _, r := range gpu.GPU.Ranks {
			if r == rank {
				return gpu, nil
			}
		}
	}
	return nil, fmt.Errorf("rank %d not hosted by any GPU", rank)
}

// NetByID resolves a NIC node by its id.
func (s *System) NetByID(id int64) (*Node, error) {
	for _, net := range s.nodes[KindNet] {
		if net.ID == id {
			return net, nil
		}
	}
	return nil, fmt.Errorf("net id %x not present", id)
}

// GPUByDev resolves a GPU node by its device enumeration index.
func (s *System) GPUByDev(dev int) (*Node, error) {
	for _, gpu := range s.nodes[KindGPU] {
		if gpu.GPU.Dev == dev {
			return gpu, nil
		}
	}
	return nil, fmt.Errorf("gpu dev %d not present", dev)
}

// maxPathBw returns the best path bandwidth from gpu toward any node of the
// given kind.
func (s *System) maxPathBw(gpu *Node, kind NodeKind) float64 {
	maxBw := 0.0
	for i := range s.nodes[kind] {
		path := gpu.Paths[kind][i]
		if path.Count() == 0 {
			continue
		}
		if path.Bw > maxBw {
			maxBw = path.Bw
		}
	}
	return maxBw
}

// totalLinkBw returns the larger of the GPU's aggregate NVLink bandwidth and
// its PCIe bandwidth.
func totalLinkBw(gpu *Node) float64 {
	nvlinkBw, pciBw := 0.0, 0.0
	for _, link := range gpu.Links {
		if link.Kind == LinkNVL {
			nvlinkBw += link.Bw
		}
		if link.Kind == LinkPCI {
			pciBw = link.Bw
		}
	}
	if pciBw > nvlinkBw {
		return pciBw
	}
	return nvlinkBw
}

// SearchInit seeds MaxBw and TotalBw from the precomputed paths. It must be
// called once after the paths are in place and before planning.
func (s *System) SearchInit() {
	s.MaxBw = 0
	s.TotalBw = 0
	inter := s.NetCount()
	if inter == 0 && s.GPUCount() == 1 {
		s.MaxBw = LocBw
		return
	}
	peerKind := KindGPU
	if inter > 0 {
		peerKind = KindNet
	}
	for _, gpu := range s.nodes[KindGPU] {
		if bw := s.maxPathBw(gpu, peerKind); bw > s.MaxBw {
			s.MaxBw = bw
		}
		if bw := totalLinkBw(gpu); bw > s.TotalBw {
			s.TotalBw = bw
		}
	}
}
