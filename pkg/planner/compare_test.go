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

func TestCompareGraphs(t *testing.T) {
	system := nvlinkMesh(t, 2, 100)

	base := func() (*Graph, *Graph) {
		g := NewGraph(system, 0, PatternRing)
		ref := NewGraph(system, 0, PatternRing)
		g.NChannels, g.BwIntra, g.MinChannels = 2, 10, 1
		ref.NChannels, ref.BwIntra = 2, 10
		return g, ref
	}

	t.Run("below minChannels never replaces", func(t *testing.T) {
		g, ref := base()
		g.MinChannels = 4
		g.BwIntra = 100
		assert.False(t, compareGraphs(system, g, ref))
	})

	t.Run("higher aggregate bandwidth replaces", func(t *testing.T) {
		g, ref := base()
		g.BwIntra = 20
		assert.True(t, compareGraphs(system, g, ref))
	})

	t.Run("lower aggregate bandwidth does not replace", func(t *testing.T) {
		g, ref := base()
		g.BwIntra = 5
		assert.False(t, compareGraphs(system, g, ref))
	})

	t.Run("fewer hops replace on ties with same pattern and crossNic", func(t *testing.T) {
		g, ref := base()
		g.NHops, ref.NHops = 4, 8
		assert.True(t, compareGraphs(system, g, ref))
	})

	t.Run("fewer hops do not replace across crossNic settings", func(t *testing.T) {
		g, ref := base()
		g.NHops, ref.NHops = 4, 8
		g.CrossNic = 1
		assert.False(t, compareGraphs(system, g, ref))
	})

	t.Run("more NVLink edges replace on full ties", func(t *testing.T) {
		g, ref := base()
		// g rides the direct NVLink both ways; ref claims no channels'
		// worth of NVLink edges by pointing both slots at rank 0.
		g.Intra[0], g.Intra[1] = 0, 1
		g.Intra[2], g.Intra[3] = 0, 1
		ref.Intra[0], ref.Intra[1] = 0, 0
		ref.Intra[2], ref.Intra[3] = 0, 0
		assert.True(t, compareGraphs(system, g, ref))
	})
}

func TestCountNVLinkEdges(t *testing.T) {
	system := nvlinkPair(t, 50)
	graph := NewGraph(system, 0, PatternRing)
	graph.NChannels = 1
	graph.Intra[0], graph.Intra[1] = 0, 1
	// Ring wrap: 0->1 and 1->0, both on the direct NVLink.
	assert.Equal(t, 2, countNVLinkEdges(system, graph))

	pcb := topology.NewBuilder(2)
	p0 := pcb.AddGPU(0, 0, 80, 0)
	p1 := pcb.AddGPU(1, 1, 80, 1)
	ps := pcb.AddPCISwitch(100)
	pcb.Connect(p0, ps, topology.LinkPCI, 24)
	pcb.Connect(p1, ps, topology.LinkPCI, 24)
	pciSystem, err := pcb.Build()
	require.NoError(t, err)

	pciGraph := NewGraph(pciSystem, 0, PatternRing)
	pciGraph.NChannels = 1
	pciGraph.Intra[0], pciGraph.Intra[1] = 0, 1
	assert.Equal(t, 0, countNVLinkEdges(pciSystem, pciGraph))
}
