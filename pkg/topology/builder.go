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

	"k8s.io/klog/v2"
)

// Builder assembles a System from declared nodes and bidirectional links,
// then precomputes the per-node path tables the planner searches over.
// Hardware discovery itself lives outside this repository; the builder only
// turns an already-declared graph into the decorated multigraph.
type Builder struct {
	system *System
	err    error
}

// NewBuilder creates a builder for a system with the given rank count.
func NewBuilder(nRanks int) *Builder {
	return &Builder{system: NewSystem(nRanks)}
}

func (b *Builder) add(node *Node) *Node {
	if b.err != nil {
		return node
	}
	if _, err := b.system.AddNode(node); err != nil {
		b.err = err
	}
	return node
}

// AddGPU declares a GPU node hosting the given ranks.
func (b *Builder) AddGPU(id int64, dev, compCap int, ranks ...int) *Node {
	return b.add(&Node{
		Kind: KindGPU,
		ID:   id,
		GPU:  &GPUInfo{Dev: dev, Ranks: ranks, CudaCompCap: compCap},
	})
}

// AddCPU declares a host CPU node.
func (b *Builder) AddCPU(id int64, arch CPUArch, vendor CPUVendor) *Node {
	return b.add(&Node{
		Kind: KindCPU,
		ID:   id,
		CPU:  &CPUInfo{Arch: arch, Vendor: vendor},
	})
}

// AddPCISwitch declares a PCIe switch node.
func (b *Builder) AddPCISwitch(id int64) *Node {
	return b.add(&Node{Kind: KindPCISwitch, ID: id})
}

// AddNet declares a NIC node.
func (b *Builder) AddNet(id int64, info NetInfo) *Node {
	netInfo := info
	return b.add(&Node{Kind: KindNet, ID: id, Net: &netInfo})
}

// Connect links two nodes in both directions with the given kind and
// per-direction bandwidth.
func (b *Builder) Connect(n1, n2 *Node, kind LinkKind, bw float64) {
	if b.err != nil {
		return
	}
	n1.Links = append(n1.Links, &Link{Kind: kind, Bw: bw, Remote: n2})
	n2.Links = append(n2.Links, &Link{Kind: kind, Bw: bw, Remote: n1})
}

// Build precomputes all path tables and seeds the search bandwidth bounds.
func (b *Builder) Build() (*System, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.system.GPUCount() == 0 {
		return nil, fmt.Errorf("topology has no GPUs")
	}
	ranks := 0
	for _, gpu := range b.system.Nodes(KindGPU) {
		ranks += len(gpu.GPU.Ranks)
	}
	if b.system.NRanks == 0 {
		b.system.NRanks = ranks
	} else if ranks != b.system.NRanks && ranks != 0 {
		// Ranks hosted here may be a subset when the job spans hosts.
		klog.V(4).Infof("Topology hosts %d of %d ranks", ranks, b.system.NRanks)
	}
	computePaths(b.system)
	b.system.SearchInit()
	klog.V(4).Infof("Built topology: %d GPUs, %d NICs, %d CPUs, %d switches, maxBw %.1f totalBw %.1f",
		b.system.GPUCount(), b.system.NetCount(),
		len(b.system.Nodes(KindCPU)), len(b.system.Nodes(KindPCISwitch)),
		b.system.MaxBw, b.system.TotalBw)
	return b.system, nil
}

// computePaths fills node.Paths for every node toward every kind with a
// shortest path minimizing hops, breaking ties on higher bottleneck
// bandwidth. Traversal order over arenas and link lists is fixed, so the
// result is deterministic for a given declaration order.
func computePaths(s *System) {
	for _, kind := range NodeKinds {
		for _, src := range s.Nodes(kind) {
			bfsFrom(s, src)
		}
	}
}

type pathState struct {
	hops int
	bw   float64
	prev *Node
	via  *Link // link from prev to this node
}

func bfsFrom(s *System, src *Node) {
	state := map[*Node]*pathState{src: {hops: 0, bw: LocBw}}
	queue := []*Node{src}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		cur := state[node]
		for _, link := range node.Links {
			next := link.Remote
			bw := cur.bw
			if link.Bw < bw {
				bw = link.Bw
			}
			st, seen := state[next]
			if !seen {
				state[next] = &pathState{hops: cur.hops + 1, bw: bw, prev: node, via: link}
				queue = append(queue, next)
			} else if st.hops == cur.hops+1 && bw > st.bw {
				// Same length, fatter bottleneck: prefer it.
				st.bw = bw
				st.prev = node
				st.via = link
			}
		}
	}

	for _, kind := range NodeKinds {
		arena := s.Nodes(kind)
		src.Paths[kind] = make([]*Path, len(arena))
		for i, dst := range arena {
			src.Paths[kind][i] = materializePath(src, dst, state)
		}
	}
}

func materializePath(src, dst *Node, state map[*Node]*pathState) *Path {
	if src == dst {
		return &Path{Type: PathLOC, Bw: LocBw}
	}
	st, ok := state[dst]
	if !ok {
		// Unreachable: empty path, zero bandwidth.
		return &Path{Type: PathSYS}
	}
	links := make([]*Link, st.hops)
	node := dst
	for node != src {
		cur := state[node]
		links[cur.hops-1] = cur.via
		node = cur.prev
	}
	return &Path{Links: links, Type: classifyPath(links), Bw: st.bw}
}

// classifyPath derives the proximity class of a path from the link kinds
// and the node kinds it crosses.
func classifyPath(links []*Link) LinkType {
	if len(links) == 0 {
		return PathLOC
	}
	allNVL := true
	cpus, switches := 0, 0
	sys := false
	for i, link := range links {
		if link.Kind != LinkNVL {
			allNVL = false
		}
		if link.Kind == LinkSYS {
			sys = true
		}
		if i == len(links)-1 {
			continue // the destination itself is not crossed
		}
		switch link.Remote.Kind {
		case KindCPU:
			cpus++
		case KindPCISwitch:
			switches++
		}
	}
	if allNVL {
		if len(links) == 1 {
			return PathNVL
		}
		return PathNVB
	}
	if sys || cpus >= 2 {
		return PathSYS
	}
	if cpus == 1 {
		return PathPHB
	}
	if switches >= 2 {
		return PathPXB
	}
	return PathPIX
}
