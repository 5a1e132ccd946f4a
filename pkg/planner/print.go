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
	"strings"

	"k8s.io/klog/v2"

	"github.com/NVIDIA/topo-channel-planner/pkg/topology"
)

// PrintGraph logs a human-readable summary of a plan, one line per channel.
func PrintGraph(system *topology.System, graph *Graph) {
	klog.Infof("Pattern %s, crossNic %d, nChannels %d, bw %g/%g, type %s/%s, sameChannels %d",
		graph.Pattern, graph.CrossNic, graph.NChannels, graph.BwIntra, graph.BwInter,
		graph.TypeIntra, graph.TypeInter, graph.SameChannels)
	ngpus := system.GPUCount()
	showInter := system.NetCount() > 0 && system.GPUCount() != system.NRanks && graph.NIntraChannels == 0
	for c := 0; c < graph.NChannels; c++ {
		var line strings.Builder
		fmt.Fprintf(&line, "%2d :", c)
		if showInter {
			fmt.Fprintf(&line, " NET/%d", graph.Inter[2*c])
		}
		for i := 0; i < ngpus; i++ {
			if n := graph.IntraNets[(ngpus*c+i)*2]; n >= 0 && n < system.NetCount() {
				fmt.Fprintf(&line, " NET/%d", n)
			}
			fmt.Fprintf(&line, " GPU/%d", graph.Intra[ngpus*c+i])
			if n := graph.IntraNets[(ngpus*c+i)*2+1]; n >= 0 && n < system.NetCount() {
				fmt.Fprintf(&line, " NET/%d", n)
			}
		}
		if showInter {
			fmt.Fprintf(&line, " NET/%d", graph.Inter[2*c+1])
		}
		klog.Infof("%s", line.String())
	}
}
