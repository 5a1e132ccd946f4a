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

package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLinkType(t *testing.T) {
	for i, name := range []string{"LOC", "NVL", "NVB", "PIX", "PXB", "PXN", "PHB", "SYS"} {
		parsed, err := ParseLinkType(name)
		require.NoError(t, err)
		assert.Equal(t, LinkType(i), parsed)
		assert.Equal(t, name, parsed.String())
	}
	_, err := ParseLinkType("QPI")
	require.Error(t, err)
}

func TestBuilderDirectNVLink(t *testing.T) {
	b := NewBuilder(2)
	g0 := b.AddGPU(0, 0, 80, 0)
	g1 := b.AddGPU(1, 1, 80, 1)
	b.Connect(g0, g1, LinkNVL, 50)
	system, err := b.Build()
	require.NoError(t, err)

	path := g0.Paths[KindGPU][g1.Index]
	assert.Equal(t, 1, path.Count())
	assert.Equal(t, PathNVL, path.Type)
	assert.Equal(t, 50.0, path.Bw)

	self := g0.Paths[KindGPU][g0.Index]
	assert.Equal(t, 0, self.Count())
	assert.Equal(t, PathLOC, self.Type)

	assert.Equal(t, 50.0, system.MaxBw)
	assert.Equal(t, 50.0, system.TotalBw)
}

func TestBuilderPathClassification(t *testing.T) {
	// g0 and g1 behind switch s0, g2 behind s1, both switches on one CPU,
	// a second CPU socket holding g3.
	b := NewBuilder(4)
	g0 := b.AddGPU(0, 0, 80, 0)
	g1 := b.AddGPU(1, 1, 80, 1)
	g2 := b.AddGPU(2, 2, 80, 2)
	g3 := b.AddGPU(3, 3, 80, 3)
	s0 := b.AddPCISwitch(100)
	s1 := b.AddPCISwitch(101)
	c0 := b.AddCPU(200, CPUArchX86, CPUVendorAMD)
	c1 := b.AddCPU(201, CPUArchX86, CPUVendorAMD)
	b.Connect(g0, s0, LinkPCI, 24)
	b.Connect(g1, s0, LinkPCI, 24)
	b.Connect(g2, s1, LinkPCI, 24)
	b.Connect(s0, c0, LinkPCI, 24)
	b.Connect(s1, c0, LinkPCI, 24)
	b.Connect(g3, c1, LinkPCI, 24)
	b.Connect(c0, c1, LinkSYS, 18)
	_, err := b.Build()
	require.NoError(t, err)

	tests := []struct {
		name     string
		from, to *Node
		wantType LinkType
		wantHops int
	}{
		{"same switch", g0, g1, PathPIX, 2},
		{"across the host bridge", g0, g2, PathPHB, 4},
		{"across sockets", g0, g3, PathSYS, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.from.Paths[KindGPU][tt.to.Index]
			assert.Equal(t, tt.wantType, path.Type)
			assert.Equal(t, tt.wantHops, path.Count())
		})
	}
}

func TestBuilderNVLinkThroughGPU(t *testing.T) {
	b := NewBuilder(3)
	g0 := b.AddGPU(0, 0, 80, 0)
	g1 := b.AddGPU(1, 1, 80, 1)
	g2 := b.AddGPU(2, 2, 80, 2)
	b.Connect(g0, g1, LinkNVL, 50)
	b.Connect(g1, g2, LinkNVL, 50)
	_, err := b.Build()
	require.NoError(t, err)

	path := g0.Paths[KindGPU][g2.Index]
	assert.Equal(t, 2, path.Count())
	assert.Equal(t, PathNVB, path.Type)
}

func TestBuilderBottleneckBandwidth(t *testing.T) {
	b := NewBuilder(2)
	g0 := b.AddGPU(0, 0, 80, 0)
	g1 := b.AddGPU(1, 1, 80, 1)
	s0 := b.AddPCISwitch(100)
	b.Connect(g0, s0, LinkPCI, 24)
	b.Connect(s0, g1, LinkPCI, 12)
	_, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, 12.0, g0.Paths[KindGPU][g1.Index].Bw)
}

func TestBuilderUnreachableNodes(t *testing.T) {
	b := NewBuilder(2)
	g0 := b.AddGPU(0, 0, 80, 0)
	g1 := b.AddGPU(1, 1, 80, 1)
	_, err := b.Build()
	require.NoError(t, err)

	path := g0.Paths[KindGPU][g1.Index]
	assert.Equal(t, 0, path.Count())
	assert.Equal(t, 0.0, path.Bw)
}

func TestSearchInitSingleGPU(t *testing.T) {
	b := NewBuilder(1)
	b.AddGPU(0, 0, 80, 0)
	system, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, LocBw, system.MaxBw)
}

func TestSearchInitPrefersNetPaths(t *testing.T) {
	b := NewBuilder(2)
	g0 := b.AddGPU(0, 0, 80, 0)
	g1 := b.AddGPU(1, 1, 80, 1)
	n0 := b.AddNet(0, NetInfo{Dev: 0, Bw: 24, MaxChannels: 8})
	b.Connect(g0, g1, LinkNVL, 50)
	b.Connect(g0, n0, LinkNet, 24)
	b.Connect(g1, n0, LinkNet, 24)
	system, err := b.Build()
	require.NoError(t, err)

	// With a NIC present, MaxBw reflects GPU-to-NIC paths, not NVLink.
	assert.Equal(t, 24.0, system.MaxBw)
	assert.Equal(t, 50.0, system.TotalBw)
}

func TestFindRevLink(t *testing.T) {
	b := NewBuilder(2)
	g0 := b.AddGPU(0, 0, 80, 0)
	g1 := b.AddGPU(1, 1, 80, 1)
	b.Connect(g0, g1, LinkNVL, 50)
	_, err := b.Build()
	require.NoError(t, err)

	rev, err := FindRevLink(g0, g1)
	require.NoError(t, err)
	assert.Same(t, g0, rev.Remote)

	orphan := &Node{Kind: KindGPU}
	_, err = FindRevLink(orphan, g1)
	require.Error(t, err)
}
