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
	"github.com/NVIDIA/topo-channel-planner/pkg/topology"
)

// countNVLinkEdges counts, across all channels, consecutive rank pairs that
// sit on a direct NVLink. Used to break ties between otherwise equal plans.
func countNVLinkEdges(system *topology.System, graph *Graph) int {
	ngpus := system.GPUCount()
	gpus := system.Nodes(topology.KindGPU)
	count := 0
	for c := 0; c < graph.NChannels; c++ {
		for i := 0; i < ngpus; i++ {
			rank := graph.Intra[ngpus*c+i]
			nextRank := graph.Intra[ngpus*c+(i+1)%ngpus]
			node, err := system.GPUForRank(rank)
			if err != nil {
				continue
			}
			for k := range gpus {
				path := node.Paths[topology.KindGPU][k]
				if path.Count() != 1 {
					continue
				}
				link := path.Links[0]
				if link.Kind != topology.LinkNVL || link.Remote.GPU == nil {
					continue
				}
				for _, r := range link.Remote.GPU.Ranks {
					if r == nextRank {
						count++
					}
				}
			}
		}
	}
	return count
}

// compareGraphs decides whether graph should replace ref as the best
// solution so far. The order is greedy, not globally total: channel-count
// floor first, then aggregate intra bandwidth, then fewer hops (but never at
// the price of going cross-NIC or changing pattern), then more direct
// NVLink edges.
func compareGraphs(system *topology.System, graph, ref *Graph) bool {
	// 1. Constraint to get the same nChannels between rings and trees.
	if graph.NChannels < graph.MinChannels {
		return false
	}

	// 2. Try to get better bandwidth.
	if float64(graph.NChannels)*graph.BwIntra < float64(ref.NChannels)*ref.BwIntra {
		return false
	}
	if float64(graph.NChannels)*graph.BwIntra > float64(ref.NChannels)*ref.BwIntra {
		return true
	}

	// 3. Fewer hops.
	if graph.Pattern == ref.Pattern && graph.CrossNic == ref.CrossNic && graph.NHops < ref.NHops {
		return true
	}

	// 4. Prefer the plan with more direct NVLink edges.
	if graph.NChannels == ref.NChannels && countNVLinkEdges(system, ref) < countNVLinkEdges(system, graph) {
		return true
	}
	return false
}
