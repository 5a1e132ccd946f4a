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
	"math"

	"github.com/NVIDIA/topo-channel-planner/pkg/topology"
)

// The bandwidth ledger works on a 1/1000 rounding grid so that paired
// reserve/release calls over the same path are bit-identical regardless of
// the order the float subtractions happened in.
const bwRoundGrid = 1000.0

func subRound(a, b float64) float64 {
	return math.Round((a-b)*bwRoundGrid) / bwRoundGrid
}

// intelP2POverhead is the extra bandwidth charged on PCIe links when peer
// traffic crosses an Intel root complex.
func intelP2POverhead(bw float64) float64 {
	return bw * 6 / 5
}

// p2pReadCompCap is the compute capability below which a remote GPU cannot
// absorb writes at full rate and the reverse direction is charged fwBw/8.
const p2pReadCompCap = 80

// reservePath subtracts bw from up to maxSteps forward links along path,
// starting the traversal at start. Reverse-direction charges apply on
// specific edges:
//
//   - remote GPU with compute capability below p2pReadCompCap, traversal not
//     originating at a GPU: fwBw/8 on the reverse link;
//   - NVLink into a CPU: fwBw on the reverse link.
//
// When the path crosses an Intel x86 CPU with path type PHB and the
// traversal originates at a GPU, PCIe links are charged the Intel P2P
// overhead instead of bw.
//
// The walk halts at the first link where forward or reverse capacity would
// go negative and returns the number of steps actually charged. Calling
// again with -bw and that step count rolls the reservation back exactly.
func reservePath(path *topology.Path, start *topology.Node, maxSteps int, bw float64) (int, error) {
	pciBw := bw
	for _, link := range path.Links {
		node := link.Remote
		if node.Kind == topology.KindCPU &&
			path.Type == topology.PathPHB && start.Kind == topology.KindGPU &&
			node.CPU.Arch == topology.CPUArchX86 && node.CPU.Vendor == topology.CPUVendorIntel {
			pciBw = intelP2POverhead(bw)
		}
	}

	node := start
	for step := 0; step < maxSteps; step++ {
		link := path.Links[step]
		var revLink *topology.Link
		fwBw := bw
		if link.Kind == topology.LinkPCI {
			fwBw = pciBw
		}
		revBw := 0.0
		if link.Remote.Kind == topology.KindGPU && link.Remote.GPU.CudaCompCap < p2pReadCompCap && start.Kind != topology.KindGPU {
			rev, err := topology.FindRevLink(node, link.Remote)
			if err != nil {
				return step, newRevLinkError(err.Error())
			}
			revLink = rev
			revBw += fwBw / 8
		}
		if link.Remote.Kind == topology.KindCPU && link.Kind == topology.LinkNVL {
			if revLink == nil {
				rev, err := topology.FindRevLink(node, link.Remote)
				if err != nil {
					return step, newRevLinkError(err.Error())
				}
				revLink = rev
			}
			revBw += fwBw
		}
		if link.Bw < fwBw || (revBw != 0 && revLink.Bw < revBw) {
			return step, nil
		}
		link.Bw = subRound(link.Bw, fwBw)
		if revBw != 0 {
			revLink.Bw = subRound(revLink.Bw, revBw)
		}
		node = link.Remote
	}
	return maxSteps, nil
}
