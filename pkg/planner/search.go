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

// Iteration budgets. The timeout is a logical countdown, not a wall clock;
// every recursive entry consumes one unit.
const (
	searchGlobalBudget       = 1 << 18
	searchBudget             = 1 << 14
	searchBudgetTree         = 1 << 14
	searchBudgetSameChannels = 1 << 8
	searchBudgetPCIProbe     = 1 << 10
)

// Forced GPU-visit orderings used as baselines and for channel-to-channel
// symmetry.
const (
	forcedOrderNone = iota
	forcedOrderPCI
	forcedOrderReplay
)

// searcher carries the mutable state of one channel search: the working
// graph, the best solution snapshot, and the countdown budget. time == -1 is
// the sentinel for "perfect solution found, stop all outer iterations".
type searcher struct {
	system *topology.System
	graph  *Graph
	save   *Graph
	time   int
}

// searchParams derives where a channel must route back to its entry NIC
// (backToNet) and where it must close on its first rank (backToFirstRank),
// -1 meaning never.
func searchParams(system *topology.System, pattern Pattern) (backToNet, backToFirstRank int) {
	ngpus := system.GPUCount()
	if system.NetCount() > 0 && ngpus != system.NRanks {
		switch pattern {
		case PatternRing:
			backToNet = ngpus - 1
		case PatternSplitTree:
			backToNet = 1
		default:
			backToNet = 0
		}
		backToFirstRank = -1
		return backToNet, backToFirstRank
	}
	backToNet = -1
	if pattern == PatternRing {
		backToFirstRank = ngpus - 1
	} else {
		backToFirstRank = -1
	}
	return backToNet, backToFirstRank
}

// replayGetGpu resolves the GPU that held position step+1 in the previous
// channel.
func (s *searcher) replayGetGpu(step int) (int, error) {
	if s.graph.NChannels == 0 {
		return -1, newReplayError(0)
	}
	ngpus := s.system.GPUCount()
	nextRank := s.graph.Intra[(s.graph.NChannels-1)*ngpus+step+1]
	gpu, err := s.system.GPUForRank(nextRank)
	if err != nil {
		return -1, newRankNotFoundError(nextRank)
	}
	return gpu.Index, nil
}

// checkGdr reports whether a GPU is close enough to a NIC for direct RDMA.
func checkGdr(gpu, net *topology.Node) bool {
	return gpu.Paths[topology.KindNet][net.Index].Type <= topology.PathPXB
}

// tryGpu reserves the edge into GPU g, marks it on the channel under
// construction, recurses, and rolls both back.
func (s *searcher) tryGpu(step, backToNet, backToFirstRank, forcedOrder int, kind topology.NodeKind, index, g int) error {
	flag := uint64(1) << uint(s.graph.NChannels)
	gpu, err := s.followEdge(kind, index, topology.KindGPU, g, 1)
	if err != nil || gpu == nil {
		return err
	}
	gpu.Used ^= flag
	recErr := s.recGpu(gpu, step, backToNet, backToFirstRank, forcedOrder)
	gpu.Used ^= flag
	if _, err := s.followEdge(kind, index, topology.KindGPU, g, -1); err != nil {
		return err
	}
	return recErr
}

// recGpu advances the channel under construction by one step from gpu.
func (s *searcher) recGpu(gpu *topology.Node, step, backToNet, backToFirstRank, forcedOrder int) error {
	if s.time <= 0 {
		return nil
	}
	s.time--

	ngpus := s.system.GPUCount()
	if step == ngpus {
		// Channel complete: keep it if it beats the best solution so far.
		s.graph.NChannels++
		if compareGraphs(s.system, s.graph, s.save) {
			s.save.copyFrom(s.graph)
			if s.graph.NChannels == s.graph.MaxChannels {
				s.time = -1
			}
		}
		var err error
		if s.graph.NChannels < s.graph.MaxChannels {
			err = s.rec()
		}
		s.graph.NChannels--
		return err
	}

	s.graph.Intra[s.graph.NChannels*ngpus+step] = gpu.GPU.Ranks[0]
	g := gpu.Index
	switch {
	case step == backToNet:
		return s.recGpuBackToNet(gpu, step, backToNet, backToFirstRank, forcedOrder)
	case step < ngpus-1:
		return s.recGpuNext(gpu, step, backToNet, backToFirstRank, forcedOrder)
	case step == backToFirstRank:
		// Close the ring on the first rank.
		first, err := s.system.GPUForRank(s.graph.Intra[s.graph.NChannels*ngpus])
		if err != nil {
			return newRankNotFoundError(s.graph.Intra[s.graph.NChannels*ngpus])
		}
		p := first.Index
		firstGpu, err := s.followEdge(topology.KindGPU, g, topology.KindGPU, p, 1)
		if err != nil {
			return err
		}
		if firstGpu != nil {
			recErr := s.recGpu(firstGpu, step+1, backToNet, -1, forcedOrder)
			if _, err := s.followEdge(topology.KindGPU, g, topology.KindGPU, p, -1); err != nil {
				return err
			}
			return recErr
		}
		return nil
	default:
		return s.recGpu(gpu, ngpus, -1, -1, forcedOrder)
	}
}

// recGpuBackToNet routes the channel back to a NIC at the mandated step.
func (s *searcher) recGpuBackToNet(gpu *topology.Node, step, backToNet, backToFirstRank, forcedOrder int) error {
	if s.system.NetCount() == 0 {
		return nil
	}
	startNetID := int64(s.graph.Inter[s.graph.NChannels*2])
	startNet, err := s.system.NetByID(startNetID)
	if err != nil {
		return newNetNotFoundError(startNetID)
	}
	g := gpu.Index
	for _, n := range s.selectNets(s.graph.TypeInter, g) {
		net := s.system.Node(topology.KindNet, n)
		if s.graph.Pattern == PatternTree && net.ID != startNet.ID {
			continue // trees are symmetric
		}
		if s.graph.CrossNic != 1 && (net.Net.ASIC != startNet.Net.ASIC || net.Net.Port != startNet.Net.Port) {
			continue
		}

		// Balanced tree: charge half of the bandwidth on each of the two
		// GPUs straddling the NIC split.
		nextBackToNet := -1
		bwInterSave := s.graph.BwInter
		if s.graph.Pattern == PatternBalancedTree {
			if step == 0 {
				nextBackToNet = 1
			} else if net.ID != int64(s.graph.Inter[s.graph.NChannels*2+1]) {
				continue
			}
			s.graph.BwInter /= 2
		}

		dest, err := s.followEdge(topology.KindGPU, g, topology.KindNet, n, 1)
		s.graph.BwInter = bwInterSave
		if err != nil {
			return err
		}
		if dest != nil {
			s.graph.Inter[s.graph.NChannels*2+1] = int(dest.ID)
			recErr := s.recGpu(gpu, step, nextBackToNet, backToFirstRank, forcedOrder)

			if s.graph.Pattern == PatternBalancedTree {
				s.graph.BwInter /= 2
			}
			if _, err := s.followEdge(topology.KindGPU, g, topology.KindNet, n, -1); err != nil {
				return err
			}
			s.graph.BwInter = bwInterSave
			if recErr != nil {
				return recErr
			}
		}
	}
	return nil
}

// recGpuNext chooses and tries the next GPU of the channel.
func (s *searcher) recGpuNext(gpu *topology.Node, step, backToNet, backToFirstRank, forcedOrder int) error {
	var next []int
	switch forcedOrder {
	case forcedOrderPCI:
		next = []int{step + 1}
	case forcedOrderReplay:
		g, err := s.replayGetGpu(step)
		if err != nil {
			return err
		}
		next = []int{g}
	default:
		sortNet := -1
		if backToNet == -1 {
			sortNet = 0
		} else if backToNet == step+1 {
			sortNet = 1
		}
		var err error
		if next, err = s.nextGpuSort(gpu, sortNet); err != nil {
			return err
		}
	}
	for _, g := range next {
		if err := s.tryGpu(step+1, backToNet, backToFirstRank, forcedOrder, topology.KindGPU, gpu.Index, g); err != nil {
			return err
		}
	}
	return nil
}

// recNet starts channels from each candidate NIC, reserving the NIC's
// pooled bandwidth and one of its channel slots for the duration.
func (s *searcher) recNet(backToNet, backToFirstRank int) error {
	bw := s.graph.BwInter
	gpus := s.system.Nodes(topology.KindGPU)
	allNets := s.system.Nodes(topology.KindNet)

	for _, n := range s.selectNets(s.graph.TypeInter, -1) {
		net := s.system.Node(topology.KindNet, n)
		if s.graph.CollNet && !net.Net.CollSupport {
			continue
		}
		if net.Net.Bw < bw {
			continue
		}
		if net.Net.MaxChannels == 0 {
			continue
		}

		s.graph.Inter[s.graph.NChannels*2] = int(net.ID)
		s.graph.LatencyInter = net.Net.Latency

		// NICs on the same ASIC and port share physical bandwidth.
		for _, other := range allNets {
			if other.Net.ASIC == net.Net.ASIC && other.Net.Port == net.Net.Port {
				other.Net.Bw -= bw
			}
		}
		net.Net.MaxChannels--

		err := s.recNetFromGpu(net, backToNet, backToFirstRank, gpus)

		net.Net.MaxChannels++
		for _, other := range allNets {
			if other.Net.ASIC == net.Net.ASIC && other.Net.Port == net.Net.Port {
				other.Net.Bw += bw
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *searcher) recNetFromGpu(net *topology.Node, backToNet, backToFirstRank int, gpus []*topology.Node) error {
	n := net.Index

	// First try to replay the last channel.
	if s.graph.NChannels > 0 {
		g, err := s.replayGetGpu(-1)
		if err != nil {
			return err
		}
		if err := s.tryGpu(0, backToNet, backToFirstRank, forcedOrderReplay, topology.KindNet, n, g); err != nil {
			return err
		}
	}
	if s.graph.NChannels != 0 && s.graph.SameChannels != 0 {
		return nil
	}

	paths := net.Paths[topology.KindGPU]
	if s.graph.NChannels == 0 {
		// Always probe the PCI order first to set a reference, on its own
		// short budget so it neither counts against nor runs down the
		// caller's countdown. Start from the GPU closest to the NIC,
		// preferring one capable of direct RDMA.
		f, fGdr := 0, false
		for i := range gpus {
			if paths[i].Count() <= paths[f].Count() {
				gdr := checkGdr(gpus[i], net)
				if paths[i].Count() < paths[f].Count() || (paths[i].Count() == paths[f].Count() && !fGdr && gdr) {
					f, fGdr = i, gdr
				}
			}
		}
		probe := &searcher{system: s.system, graph: s.graph, save: s.save, time: searchBudgetPCIProbe}
		forced := forcedOrderNone
		if f == 0 {
			forced = forcedOrderPCI
		}
		if err := probe.tryGpu(0, backToNet, backToFirstRank, forced, topology.KindNet, n, f); err != nil {
			return err
		}
		if probe.time == -1 {
			s.time = -1
		}
	}

	// Then try the most local GPUs.
	maxBw := 0.0
	minHops := math.MaxInt32
	for g := range gpus {
		if paths[g].Bw > maxBw {
			maxBw = paths[g].Bw
			minHops = paths[g].Count()
		} else if paths[g].Bw == maxBw && paths[g].Count() < minHops {
			minHops = paths[g].Count()
		}
	}
	if maxBw < s.graph.BwInter {
		return nil
	}
	// Prefer GPUs that will not end up used in both directions between
	// channels (sending on one, receiving on another), which usually
	// lowers the achieved bandwidth.
	for tryGpuBidir := 0; tryGpuBidir < 2; tryGpuBidir++ {
		for g := range gpus {
			if paths[g].Bw != maxBw || paths[g].Count() != minHops {
				continue
			}
			gpuUsed := 0
			if gpuPciBw(gpus[g]) <= 0 {
				gpuUsed = 1
			}
			if tryGpuBidir == gpuUsed {
				if err := s.tryGpu(0, backToNet, backToFirstRank, forcedOrderNone, topology.KindNet, n, g); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// rec starts the next channel: from a NIC on multi-node systems, otherwise
// from a GPU (PCI order first for the reference channel, then a replay of
// the previous channel, then every start unless channels must be equal).
func (s *searcher) rec() error {
	backToNet, backToFirstRank := searchParams(s.system, s.graph.Pattern)
	if s.system.NetCount() > 0 && s.system.GPUCount() != s.system.NRanks {
		return s.recNet(backToNet, backToFirstRank)
	}

	// Intra-node only.
	if s.graph.NChannels == 0 {
		if err := s.tryGpu(0, backToNet, backToFirstRank, forcedOrderPCI, topology.KindNone, -1, 0); err != nil {
			return err
		}
	} else {
		g, err := s.replayGetGpu(-1)
		if err != nil {
			return err
		}
		if err := s.tryGpu(0, backToNet, backToFirstRank, forcedOrderReplay, topology.KindNone, -1, g); err != nil {
			return err
		}
	}
	if s.graph.SameChannels == 0 || s.graph.NChannels == 0 {
		for g := range s.system.Nodes(topology.KindGPU) {
			if err := s.tryGpu(0, backToNet, backToFirstRank, forcedOrderNone, topology.KindNone, -1, g); err != nil {
				return err
			}
		}
	}
	return nil
}
