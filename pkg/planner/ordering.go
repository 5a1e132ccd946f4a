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
	"sort"

	"github.com/NVIDIA/topo-channel-planner/pkg/topology"
)

// gpuPciBw returns the PCIe bottleneck of a GPU (the smaller of its PCI
// uplink and the switch's return direction), or -1 if it has no PCIe link.
func gpuPciBw(gpu *topology.Node) float64 {
	for _, gpuLink := range gpu.Links {
		if gpuLink.Kind != topology.LinkPCI {
			continue
		}
		pci := gpuLink.Remote
		for _, pciLink := range pci.Links {
			if pciLink.Remote != gpu {
				continue
			}
			if gpuLink.Bw < pciLink.Bw {
				return gpuLink.Bw
			}
			return pciLink.Bw
		}
	}
	return -1
}

// gpuScore ranks one candidate next GPU. Choosing the order in which GPUs
// are tried is critical for the search to converge on a good solution before
// the iteration budget runs out.
type gpuScore struct {
	g          int // retain the index
	startIndex int // least important
	intraNhops int
	intraBw    float64
	interNhops int
	interPciBw float64
	interBw    float64 // most important
}

func lessScore(s1, s2 *gpuScore) bool {
	if s1.interBw != s2.interBw {
		return s1.interBw > s2.interBw
	}
	if s1.interPciBw != s2.interPciBw {
		return s1.interPciBw > s2.interPciBw
	}
	if s1.interNhops != s2.interNhops {
		return s1.interNhops < s2.interNhops
	}
	if s1.intraBw != s2.intraBw {
		return s1.intraBw > s2.intraBw
	}
	if s1.intraNhops != s2.intraNhops {
		return s1.intraNhops < s2.intraNhops
	}
	return s1.startIndex < s2.startIndex
}

func sameIntraScores(scores []gpuScore) bool {
	for i := 1; i < len(scores); i++ {
		if scores[i].intraBw != scores[0].intraBw || scores[i].intraNhops != scores[0].intraNhops {
			return false
		}
	}
	return true
}

// netPathsForChannel returns the GPU path table of the NIC the current
// channel entered through.
func (s *searcher) netPathsForChannel() ([]*topology.Path, error) {
	netID := int64(s.graph.Inter[s.graph.NChannels*2])
	net, err := s.system.NetByID(netID)
	if err != nil {
		return nil, newNetNotFoundError(netID)
	}
	return net.Paths[topology.KindGPU], nil
}

// nextGpuSort produces the ordered list of candidate next GPUs from gpu,
// skipping GPUs already on the channel under construction. sortNet selects
// whether NIC-return keys participate: 0 ignores them, +1 ranks near-NIC
// GPUs first, and -1 reverses the list when all intra keys tie so the far
// side is explored first.
func (s *searcher) nextGpuSort(gpu *topology.Node, sortNet int) ([]int, error) {
	flag := uint64(1) << uint(s.graph.NChannels)
	gpus := s.system.Nodes(topology.KindGPU)
	ngpus := len(gpus)
	paths := gpu.Paths[topology.KindGPU]

	var netPaths []*topology.Path
	if sortNet != 0 {
		var err error
		if netPaths, err = s.netPathsForChannel(); err != nil {
			return nil, err
		}
	}

	scores := make([]gpuScore, 0, ngpus)
	start := gpu.Index
	for i := 1; i < ngpus; i++ {
		g := (start + i) % ngpus
		if paths[g].Count() == 0 {
			continue // there is no path to that GPU
		}
		if gpus[g].Used&flag != 0 {
			continue
		}
		score := gpuScore{
			g:          g,
			startIndex: i,
			intraNhops: paths[g].Count(),
			intraBw:    paths[g].Bw,
		}
		if netPaths != nil {
			score.interNhops = netPaths[g].Count()
			score.interPciBw = gpuPciBw(gpus[g])
			score.interBw = netPaths[g].Bw
		}
		scores = append(scores, score)
	}

	sort.Slice(scores, func(i, j int) bool { return lessScore(&scores[i], &scores[j]) })

	next := make([]int, len(scores))
	if sortNet == -1 && sameIntraScores(scores) {
		for i := range scores {
			next[i] = scores[len(scores)-1-i].g
		}
	} else {
		for i := range scores {
			next[i] = scores[i].g
		}
	}
	return next, nil
}
