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
	"k8s.io/klog/v2"

	"github.com/NVIDIA/topo-channel-planner/pkg/topology"
)

// Parameters of the degenerate channel installed when no pattern fits even
// after full relaxation. The downstream runtime must still be able to
// function, so the plan claims SYS-level connectivity at a nominal rate
// rather than failing.
const fallbackBw = 0.1

// installFallbackChannel fills the graph with a single trivial channel:
// all GPUs in enumeration order, entry and exit NIC 0.
func installFallbackChannel(system *topology.System, graph *Graph) {
	klog.Warningf("Could not find a path for pattern %s, falling back to simple order", graph.Pattern)
	for i, gpu := range system.Nodes(topology.KindGPU) {
		graph.Intra[i] = gpu.GPU.Ranks[0]
	}
	graph.Inter[0], graph.Inter[1] = 0, 0
	graph.BwIntra, graph.BwInter = fallbackBw, fallbackBw
	graph.TypeIntra, graph.TypeInter = topology.PathSYS, topology.PathSYS
	graph.NChannels = 1
	GetSearchMetricsCollector().RecordFallback()
}
