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
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/NVIDIA/topo-channel-planner/pkg/topology"
)

// selectNets builds the ordered list of NIC indices to try, either for all
// GPUs (gpu == -1, start of search) or for one GPU returning to a NIC.
//
// NICs closest to the GPU(s) come first, level by level of path type. Within
// one (GPU, level) group the list is rotated by the GPU device index so that
// GPUs sharing a PCIe switch with several NICs do not all pick the same NIC
// first. A NIC already appended, at a closer level or for a lower-indexed
// GPU, is not repeated.
func (s *searcher) selectNets(typeInter topology.LinkType, gpu int) []int {
	nets := []int{}
	seen := sets.New[int]()
	gpus := s.system.Nodes(topology.KindGPU)
	netCount := s.system.NetCount()

	for t := topology.PathLOC; t <= typeInter; t++ {
		for g, gpuNode := range gpus {
			if gpu != -1 && gpu != g {
				continue
			}
			paths := gpuNode.Paths[topology.KindNet]
			local := []int{}
			for n := 0; n < netCount; n++ {
				if paths[n].Type == t {
					local = append(local, n)
				}
			}
			if len(local) == 0 {
				continue
			}
			rot := gpuNode.GPU.Dev % len(local)
			local = append(local[rot:], local[:rot]...)
			for _, n := range local {
				if !seen.Has(n) {
					seen.Insert(n)
					nets = append(nets, n)
				}
			}
		}
	}
	return nets
}
