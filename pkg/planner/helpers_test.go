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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/topo-channel-planner/pkg/topology"
)

// nvlinkPair builds two GPUs joined by one NVLink of the given capacity.
func nvlinkPair(t *testing.T, bw float64) *topology.System {
	t.Helper()
	b := topology.NewBuilder(2)
	g0 := b.AddGPU(0, 0, 80, 0)
	g1 := b.AddGPU(1, 1, 80, 1)
	b.Connect(g0, g1, topology.LinkNVL, bw)
	system, err := b.Build()
	require.NoError(t, err)
	return system
}

// nvlinkMesh builds ngpus GPUs joined in an all-to-all NVLink mesh.
func nvlinkMesh(t *testing.T, ngpus int, bw float64) *topology.System {
	t.Helper()
	b := topology.NewBuilder(ngpus)
	gpus := make([]*topology.Node, ngpus)
	for i := range gpus {
		gpus[i] = b.AddGPU(int64(i), i, 80, i)
	}
	for i := 0; i < ngpus; i++ {
		for j := i + 1; j < ngpus; j++ {
			b.Connect(gpus[i], gpus[j], topology.LinkNVL, bw)
		}
	}
	system, err := b.Build()
	require.NoError(t, err)
	return system
}

// dualSwitchHost builds the classic two-leaf host: two GPUs and one NIC
// behind each of two PCIe switches, both switches on one CPU socket. nRanks
// above four makes it one host of a multi-node job.
func dualSwitchHost(t *testing.T, nRanks int, nicBw float64) *topology.System {
	t.Helper()
	b := topology.NewBuilder(nRanks)
	g0 := b.AddGPU(0, 0, 80, 0)
	g1 := b.AddGPU(1, 1, 80, 1)
	g2 := b.AddGPU(2, 2, 80, 2)
	g3 := b.AddGPU(3, 3, 80, 3)
	s0 := b.AddPCISwitch(100)
	s1 := b.AddPCISwitch(101)
	cpu := b.AddCPU(200, topology.CPUArchX86, topology.CPUVendorAMD)
	n0 := b.AddNet(0, topology.NetInfo{Dev: 0, ASIC: 0, Port: 0, Bw: nicBw, MaxChannels: 8})
	n1 := b.AddNet(1, topology.NetInfo{Dev: 1, ASIC: 1, Port: 1, Bw: nicBw, MaxChannels: 8})
	pciBw := 4 * nicBw
	b.Connect(g0, s0, topology.LinkPCI, pciBw)
	b.Connect(g1, s0, topology.LinkPCI, pciBw)
	b.Connect(g2, s1, topology.LinkPCI, pciBw)
	b.Connect(g3, s1, topology.LinkPCI, pciBw)
	b.Connect(n0, s0, topology.LinkNet, pciBw)
	b.Connect(n1, s1, topology.LinkNet, pciBw)
	b.Connect(s0, cpu, topology.LinkPCI, pciBw)
	b.Connect(s1, cpu, topology.LinkPCI, pciBw)
	system, err := b.Build()
	require.NoError(t, err)
	return system
}

// ledgerSnapshot captures every link bandwidth and GPU channel mask.
type ledgerSnapshot struct {
	linkBw []float64
	used   []uint64
}

func snapshotLedger(system *topology.System) *ledgerSnapshot {
	snap := &ledgerSnapshot{}
	for _, kind := range topology.NodeKinds {
		for _, node := range system.Nodes(kind) {
			for _, link := range node.Links {
				snap.linkBw = append(snap.linkBw, link.Bw)
			}
			if node.Kind == topology.KindGPU {
				snap.used = append(snap.used, node.Used)
			}
		}
	}
	return snap
}

// assertLedgerRestored verifies backtrack purity: no link bandwidth and no
// GPU channel mask differs from the snapshot.
func assertLedgerRestored(t *testing.T, system *topology.System, snap *ledgerSnapshot) {
	t.Helper()
	i, u := 0, 0
	for _, kind := range topology.NodeKinds {
		for _, node := range system.Nodes(kind) {
			for _, link := range node.Links {
				assert.Equal(t, snap.linkBw[i], link.Bw,
					"link %s/%d -> %s/%d not restored", node.Kind, node.ID, link.Remote.Kind, link.Remote.ID)
				i++
			}
			if node.Kind == topology.KindGPU {
				assert.Equal(t, snap.used[u], node.Used, "GPU %d channel mask not restored", node.ID)
				u++
			}
		}
	}
}

// channelRanks collects the pre-expansion rank sequence of a channel.
func channelRanks(system *topology.System, graph *Graph, c int) []int {
	ngpus := system.GPUCount()
	ranks := make([]int, ngpus)
	copy(ranks, graph.Intra[c*ngpus:(c+1)*ngpus])
	return ranks
}
