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

// NetDevForChannel returns the NIC id a rank should use on the given
// channel of a planned graph: the entry NIC when the rank opens the channel,
// the exit NIC otherwise.
func NetDevForChannel(system *topology.System, graph *Graph, channelID, rank int) (int, error) {
	if graph == nil || graph.NChannels == 0 {
		return -1, NewPlanError(
			ErrorCategoryInvalidUsage,
			"cannot resolve a NIC from a graph with no channels",
			nil, nil,
		)
	}
	channel := channelID % graph.NChannels
	ngpus := system.GPUCount()
	index := 1
	if graph.Intra[channel*ngpus] == rank {
		index = 0
	}
	return graph.Inter[channel*2+index], nil
}

// IntraNetDevForRank returns the lateral NIC annotation recorded for a rank
// on a channel (side 0 = entry, 1 = exit), or -1 when the plan has none.
func IntraNetDevForRank(system *topology.System, graph *Graph, channelID, rank, side int) int {
	if graph == nil || graph.NIntraChannels == 0 {
		return -1
	}
	ngpus := system.GPUCount()
	channel := channelID % graph.NIntraChannels
	for i := 0; i < ngpus; i++ {
		if graph.Intra[ngpus*channel+i] != rank {
			continue
		}
		if n := graph.IntraNets[(ngpus*channel+i)*2+side]; n >= 0 && n < system.NetCount() {
			return n
		}
		return -1
	}
	return -1
}

// PxnEgress decides whether a rank should adopt a peer's preferred NIC for
// lateral (PXN) egress, per the configured level: at level 1 the NIC must be
// within PXN distance of the rank's own GPU; at level 2 it is adopted
// whenever an NVLink-close GPU on this node sits within PXB distance of it,
// in which case the hosting rank of that GPU is returned as the proxy.
func PxnEgress(system *topology.System, cfg Config, rank int, peerNetID int64) (proxyRank int, ok bool, err error) {
	if cfg.P2PPxnLevel == 0 {
		return -1, false, nil
	}
	gpu, err := system.GPUForRank(rank)
	if err != nil {
		return -1, false, newRankNotFoundError(rank)
	}
	net, err := system.NetByID(peerNetID)
	if err != nil {
		return -1, false, NewDeviceNotPresentError(int(peerNetID))
	}

	if cfg.P2PPxnLevel == 1 {
		if gpu.Paths[topology.KindNet][net.Index].Type <= topology.PathPXN {
			return rank, true, nil
		}
		return -1, false, nil
	}

	for _, peer := range system.Nodes(topology.KindGPU) {
		if peer == gpu {
			continue
		}
		if peer.Paths[topology.KindGPU][gpu.Index].Type <= topology.PathNVL &&
			peer.Paths[topology.KindNet][net.Index].Type <= topology.PathPXB {
			return peer.GPU.Ranks[0], true, nil
		}
	}
	return -1, false, nil
}
