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

// Bandwidth steps attempted per channel, best first. The intra array is
// used on systems with no NIC.
var (
	speedArrayIntra = []float64{44, 30, 22, 18, 15, 12, 10, 9, 7, 6, 5, 4, 3}
	speedArrayInter = []float64{48, 30, 28, 24, 22, 18, 15, 12, 10, 9, 7, 6, 5, 4, 3, 2.4, 1.2, 0.24, 0.12}
)

// A search one bandwidth step below the best found is only worth running
// while the new step keeps at least this fraction of the best.
const speedDecreaseGuard = 0.49

// Channel duplication kicks in above this intra bandwidth: abundant
// intra-node bandwidth pipelines better split over twice the channels.
const duplicateBwThreshold = 25.0

func speedIndexFor(speeds []float64, bw float64) int {
	i := 0
	for speeds[i] > bw && i < len(speeds)-1 {
		i++
	}
	return i
}

// Compute plans the channels for one graph over the system: it runs the
// channel search under a relaxation sweep of the search parameters until a
// perfect plan is found, the iteration budget runs out, or the parameter
// space is exhausted, then post-processes the best plan found.
//
// On return the graph either holds a complete set of channels or the
// degenerate fallback channel. The system's link bandwidths and GPU channel
// masks are restored to their pre-call state.
func Compute(system *topology.System, graph *Graph, cfg Config) error {
	ngpus := system.GPUCount()
	graph.CrossNic = cfg.CrossNic
	crossNic := 0
	if system.NetCount() > 1 && graph.CrossNic != 0 {
		crossNic = 1
	}
	graph.BwIntra, graph.BwInter, graph.LatencyInter = 0, 0, 0
	if graph.CrossNic == 2 {
		graph.CrossNic = 0
	}
	graph.TypeIntra = topology.PathNVL
	if ngpus == 1 {
		graph.TypeIntra = topology.PathLOC
	}
	graph.TypeInter = topology.PathPIX
	graph.NChannels = 0
	graph.SameChannels = 1
	graph.resetIntraNets()

	if cfg.GraphFile != "" {
		nChannels, err := LoadGraphFile(cfg.GraphFile, system, graph)
		if err != nil {
			return err
		}
		klog.V(4).Infof("Plan %d: %d channels loaded from %s", graph.ID, nChannels, cfg.GraphFile)
		if graph.NChannels > 0 {
			expandMultiRank(system, graph)
			GetSearchMetricsCollector().RecordGraphImport(graph.NChannels)
			return nil
		}
	}

	if cfg.Rings != "" && cfg.RingParser != nil {
		if err := cfg.RingParser(cfg.Rings, system, graph); err != nil {
			return err
		}
	} else if !graph.CollNet {
		for _, match := range cfg.PreMatchers {
			if err := match(system, graph); err != nil {
				return err
			}
			if graph.NChannels > 0 {
				break
			}
		}
	}
	if graph.NChannels > 0 {
		expandMultiRank(system, graph)
		return nil
	}

	if ngpus == 1 && graph.Pattern != PatternRing {
		graph.Pattern = PatternTree
	}

	speeds := speedArrayInter
	if system.NetCount() == 0 {
		speeds = speedArrayIntra
	}

	tmp := NewGraph(system, graph.ID, graph.Pattern)
	tmp.copyFrom(graph)

	opt := &optimizer{
		system:        system,
		graph:         graph,
		tmp:           tmp,
		speeds:        speeds,
		speedIndex:    speedIndexFor(speeds, system.MaxBw),
		crossNic:      crossNic,
		globalTimeout: searchGlobalBudget,
	}
	opt.tmp.BwIntra = speeds[opt.speedIndex]
	opt.tmp.BwInter = opt.tmp.BwIntra

	if err := opt.run(); err != nil {
		return err
	}

	if graph.NChannels == 0 && !graph.CollNet {
		installFallbackChannel(system, graph)
	}

	if graph.BwIntra >= duplicateBwThreshold {
		duplicateChannels(system, graph)
	}
	expandMultiRank(system, graph)
	GetSearchMetricsCollector().RecordCompute(graph, opt.restarts, opt.perfect, opt.timedOut)
	return nil
}

// optimizer sweeps the search parameter vector. Pass 1 relaxes knobs one at
// a time until any solution is found; pass 2 refines non-ring plans by
// raising the intra bandwidth while the inter step still supports it.
type optimizer struct {
	system *topology.System
	graph  *Graph // best solution found
	tmp    *Graph // parameters currently attempted

	speeds     []float64
	speedIndex int

	// crossNic is 1 when relaxing to cross-NIC channels is permitted.
	crossNic      int
	globalTimeout int

	restarts int
	perfect  bool
	timedOut bool
}

func (o *optimizer) budget() int {
	if o.tmp.SameChannels == 1 {
		return searchBudgetSameChannels
	}
	if o.tmp.Pattern == PatternTree {
		return searchBudgetTree
	}
	return searchBudget
}

func (o *optimizer) run() error {
	pass := 1
	remaining := 0
	for {
		budget := o.budget()
		o.tmp.NChannels = 0
		o.globalTimeout -= budget

		s := &searcher{system: o.system, graph: o.tmp, save: o.graph, time: budget}
		if err := s.rec(); err != nil {
			return err
		}
		remaining = s.time
		if remaining == -1 {
			o.perfect = true
		}
		o.restarts++
		klog.V(6).Infof("Search pattern %s crossNic %d bw %g/%g types %s/%s sameChannels %d -> %d channels %g/%g",
			o.tmp.Pattern, o.tmp.CrossNic, o.tmp.BwInter, o.tmp.BwIntra, o.tmp.TypeInter, o.tmp.TypeIntra,
			o.tmp.SameChannels, o.graph.NChannels, o.graph.BwInter, o.graph.BwIntra)

		solved := remaining == -1 ||
			float64(o.graph.NChannels)*o.graph.BwInter >= o.system.TotalBw
		if !solved && pass == 1 {
			again, err := o.relax(remaining)
			if err != nil {
				return err
			}
			if again {
				continue
			}
		}

		if pass == 1 {
			// A solution exists (or the space is exhausted). Restart from
			// it and refine.
			remaining = -1
			o.tmp.copyFrom(o.graph)
			o.speedIndex = speedIndexFor(o.speeds, o.graph.BwInter)
			o.tmp.BwIntra = o.speeds[o.speedIndex]
			o.tmp.BwInter = o.tmp.BwIntra
			o.tmp.MinChannels = o.graph.NChannels
			pass = 2
		}

		// Pass 2: see if we can increase bwIntra for trees.
		if remaining != 0 && o.graph.Pattern != PatternRing &&
			o.tmp.BwIntra == o.graph.BwIntra && o.tmp.BwIntra < o.tmp.BwInter*2 &&
			o.speedIndex > 0 {
			o.speedIndex--
			o.tmp.BwIntra = o.speeds[o.speedIndex]
			continue
		}
		return nil
	}
}

// relax applies the next parameter adjustment of pass 1, in the fixed sweep
// order, and reports whether the search should run again. Every knob it
// moves past is restored to its starting value first, so exactly one knob
// differs from the baseline per restart group.
func (o *optimizer) relax(remaining int) (bool, error) {
	tmp, graph := o.tmp, o.graph

	// Try having different channels.
	if tmp.SameChannels == 1 {
		tmp.SameChannels = 0
		return true, nil
	}
	tmp.SameChannels = 1

	// Charge only the iterations actually consumed against the global
	// budget.
	if remaining != -1 {
		o.globalTimeout += remaining
	} else {
		o.globalTimeout = searchGlobalBudget
	}
	if o.globalTimeout < 0 && graph.NChannels > 0 {
		o.timedOut = true
		klog.V(4).Infof("Search exhausted its global budget with %d channels", graph.NChannels)
		return false, nil
	}

	// Allow coarser intra links, up to the inter threshold (or SYS when
	// there is no NIC to bound it).
	maxTypeIntra := topology.PathSYS
	if o.system.NetCount() > 0 {
		maxTypeIntra = tmp.TypeInter
	}
	if tmp.TypeIntra < maxTypeIntra && (graph.NChannels == 0 || tmp.TypeIntra < graph.TypeIntra) {
		tmp.TypeIntra++
		return true, nil
	}
	tmp.TypeIntra = topology.PathNVL
	if o.system.GPUCount() == 1 {
		tmp.TypeIntra = topology.PathLOC
	}

	// Allow coarser inter links.
	if o.system.NetCount() > 0 && tmp.TypeInter < topology.PathSYS &&
		(graph.NChannels == 0 || tmp.TypeInter < graph.TypeInter || tmp.TypeInter < topology.PathPXN) {
		tmp.TypeInter++
		return true, nil
	}
	tmp.TypeInter = topology.PathPIX

	// Try again with cross-NIC channels if permitted.
	if o.crossNic == 1 && tmp.CrossNic == 0 {
		tmp.CrossNic = o.crossNic
		return true, nil
	}
	tmp.CrossNic = 0

	// Try a simpler tree.
	if tmp.Pattern == PatternSplitTree {
		tmp.Pattern = PatternTree
		return true, nil
	}
	tmp.Pattern = graph.Pattern

	// Decrease the bandwidth step until we find a solution, as long as it
	// does not throw away more than half of the best bandwidth found.
	if o.speedIndex < len(o.speeds)-1 &&
		(graph.NChannels == 0 || o.speeds[o.speedIndex+1]/graph.BwInter >= speedDecreaseGuard) {
		o.speedIndex++
		tmp.BwIntra = o.speeds[o.speedIndex]
		tmp.BwInter = tmp.BwIntra
		return true, nil
	}
	o.speedIndex = speedIndexFor(o.speeds, o.system.MaxBw)
	tmp.BwIntra = o.speeds[o.speedIndex]
	tmp.BwInter = tmp.BwIntra
	return false, nil
}

// duplicateChannels doubles the channel set (up to MaxChannels) and splits
// the per-channel bandwidth accordingly.
func duplicateChannels(system *topology.System, graph *Graph) {
	ngpus := system.GPUCount()
	dup := graph.NChannels * 2
	if dup > graph.MaxChannels {
		dup = graph.MaxChannels
	}
	extra := dup - graph.NChannels
	copy(graph.Intra[graph.NChannels*ngpus:(graph.NChannels+extra)*ngpus], graph.Intra[:extra*ngpus])
	copy(graph.Inter[graph.NChannels*2:(graph.NChannels+extra)*2], graph.Inter[:extra*2])
	factor := float64((dup + graph.NChannels - 1) / graph.NChannels)
	graph.BwIntra /= factor
	graph.BwInter /= factor
	graph.NChannels = dup
	klog.V(4).Infof("Duplicated channels to %d at %g/%g", graph.NChannels, graph.BwIntra, graph.BwInter)
}

// expandMultiRank rewrites the intra array so that each entry, recorded
// during the search as the first rank of a GPU, becomes the full ordered
// rank list of that GPU.
func expandMultiRank(system *topology.System, graph *Graph) {
	ngpus := system.GPUCount()
	klog.V(6).Infof("Expanding intra array for multi-rank GPUs, nChannels %d", graph.NChannels)
	cpy := make([]int, graph.NChannels*ngpus)
	copy(cpy, graph.Intra[:graph.NChannels*ngpus])
	tk := 0
	for c := 0; c < graph.NChannels; c++ {
		for i := 0; i < ngpus; i++ {
			for _, gpu := range system.Nodes(topology.KindGPU) {
				if cpy[c*ngpus+i] == gpu.GPU.Ranks[0] {
					for _, r := range gpu.GPU.Ranks {
						graph.Intra[tk] = r
						tk++
					}
				}
			}
		}
	}
}
