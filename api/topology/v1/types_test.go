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

package v1

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/NVIDIA/topo-channel-planner/pkg/topology"
)

func validTopology() *Topology {
	return &Topology{
		Version: TopologyVersion,
		GPUs: []GPUSpec{
			{ID: 0},
			{ID: 1},
		},
		NICs: []NICSpec{
			{ID: 0, ASIC: 0, Port: 0, Bw: 24},
		},
		Switches: []SwitchSpec{{ID: 100}},
		Links: []LinkSpec{
			{A: "gpu/0", B: "gpu/1", Class: LinkClassNVLink, Bw: 50},
			{A: "gpu/0", B: "pciswitch/100", Class: LinkClassPCI, Bw: 24},
			{A: "gpu/1", B: "pciswitch/100", Class: LinkClassPCI, Bw: 24},
			{A: "nic/0", B: "pciswitch/100", Class: LinkClassNet, Bw: 24},
		},
	}
}

func TestTopologyValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Topology)
		expectErr string
	}{
		{
			name:   "valid",
			mutate: func(*Topology) {},
		},
		{
			name:      "wrong version",
			mutate:    func(topo *Topology) { topo.Version = 7 },
			expectErr: "unsupported topology version",
		},
		{
			name:      "no GPUs",
			mutate:    func(topo *Topology) { topo.GPUs = nil },
			expectErr: "declares no GPUs",
		},
		{
			name:      "duplicate node",
			mutate:    func(topo *Topology) { topo.GPUs = append(topo.GPUs, GPUSpec{ID: 0}) },
			expectErr: "duplicate node gpu/0",
		},
		{
			name:      "unknown cpu arch",
			mutate:    func(topo *Topology) { topo.CPUs = []CPUSpec{{ID: 5, Arch: "sparc"}} },
			expectErr: "unknown arch",
		},
		{
			name:      "non-positive NIC bandwidth",
			mutate:    func(topo *Topology) { topo.NICs[0].Bw = 0 },
			expectErr: "bandwidth must be positive",
		},
		{
			name:      "negative NIC channels",
			mutate:    func(topo *Topology) { topo.NICs[0].MaxChannels = ptr.To(-1) },
			expectErr: "maxChannels must not be negative",
		},
		{
			name:      "unknown link class",
			mutate:    func(topo *Topology) { topo.Links[0].Class = "infiniband" },
			expectErr: "unknown class",
		},
		{
			name:      "link to undeclared node",
			mutate:    func(topo *Topology) { topo.Links[0].B = "gpu/9" },
			expectErr: "undeclared node gpu/9",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo := validTopology()
			tt.mutate(topo)
			err := topo.Validate()
			if tt.expectErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectErr)
		})
	}
}

func TestDefaultGPUSpec(t *testing.T) {
	spec := GPUSpec{ID: 3}
	DefaultGPUSpec(&spec, 3)
	assert.Equal(t, 3, *spec.Dev)
	assert.Equal(t, 80, *spec.ComputeCap)
	assert.Equal(t, []int{3}, spec.Ranks)

	explicit := GPUSpec{ID: 0, Dev: ptr.To(7), Ranks: []int{1, 2}, ComputeCap: ptr.To(90)}
	DefaultGPUSpec(&explicit, 0)
	assert.Equal(t, 7, *explicit.Dev)
	assert.Equal(t, 90, *explicit.ComputeCap)
	assert.Equal(t, []int{1, 2}, explicit.Ranks)
}

func TestBuildSystem(t *testing.T) {
	system, err := validTopology().BuildSystem()
	require.NoError(t, err)

	assert.Equal(t, 2, system.GPUCount())
	assert.Equal(t, 1, system.NetCount())
	assert.Equal(t, 2, system.NRanks)

	g0 := system.Node(topology.KindGPU, 0)
	g1 := system.Node(topology.KindGPU, 1)
	assert.Equal(t, topology.PathNVL, g0.Paths[topology.KindGPU][g1.Index].Type)
	assert.Equal(t, topology.PathPIX, g0.Paths[topology.KindNet][0].Type)
}

func TestLoadTopologyFile(t *testing.T) {
	doc := `version: 1
gpus:
  - id: 0
  - id: 1
nics:
  - id: 0
    asic: 0
    port: 0
    bw: 24
switches:
  - id: 100
links:
  - {a: gpu/0, b: gpu/1, class: nvlink, bw: 50}
  - {a: gpu/0, b: pciswitch/100, class: pci, bw: 24}
  - {a: gpu/1, b: pciswitch/100, class: pci, bw: 24}
  - {a: nic/0, b: pciswitch/100, class: net, bw: 24}
`
	path := filepath.Join(t.TempDir(), "topo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	topo, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, topo.GPUs, 2)

	system, err := topo.BuildSystem()
	require.NoError(t, err)
	assert.Equal(t, 2, system.GPUCount())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
