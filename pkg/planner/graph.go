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

// Package planner searches a discovered hardware topology for the set of
// logical communication channels (rings or trees) that maximizes usable
// aggregate bandwidth, reserving fractional link bandwidth along the way and
// rolling every reservation back on backtrack.
package planner

import (
	"fmt"

	"github.com/NVIDIA/topo-channel-planner/pkg/topology"
)

// Pattern is the shape of one communication channel. The numeric values are
// part of the graph exchange format.
type Pattern int

const (
	PatternBalancedTree Pattern = 1
	PatternSplitTree    Pattern = 2
	PatternTree         Pattern = 3
	PatternRing         Pattern = 4
	PatternCollNet      Pattern = 5
)

func (p Pattern) String() string {
	switch p {
	case PatternBalancedTree:
		return "balancedtree"
	case PatternSplitTree:
		return "splittree"
	case PatternTree:
		return "tree"
	case PatternRing:
		return "ring"
	case PatternCollNet:
		return "collnet"
	}
	return fmt.Sprintf("Pattern(%d)", int(p))
}

// ParsePattern resolves a pattern name.
func ParsePattern(s string) (Pattern, error) {
	for _, p := range []Pattern{PatternBalancedTree, PatternSplitTree, PatternTree, PatternRing, PatternCollNet} {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown pattern %q", s)
}

// MaxChannelCount bounds the number of channels per graph.
const MaxChannelCount = 32

// Graph is the plan under construction and the returned artifact: a set of
// logical channels over the system, with the bandwidth step and link-type
// thresholds the search committed to.
//
// Intra, Inter and IntraNets are flat, channel-major arrays indexed the same
// way throughout the package: Intra[c*ngpus+s] is the rank at step s of
// channel c, Inter[c*2+d] the entry (d=0) and exit (d=1) NIC id of channel c,
// and IntraNets[(c*ngpus+s)*2+d] an optional per-GPU lateral NIC annotation
// (-1 when unset).
type Graph struct {
	ID       int
	Pattern  Pattern
	CrossNic int // 0=forbid, 1=allow, 2=auto
	CollNet  bool

	MinChannels int
	MaxChannels int
	NChannels   int

	// SameChannels forces every channel to replay channel 0 when set to 1.
	SameChannels int

	BwIntra      float64
	BwInter      float64
	LatencyInter float64

	TypeIntra topology.LinkType
	TypeInter topology.LinkType

	// NHops is the total hop count across all committed channels,
	// maintained incrementally by edge reservation.
	NHops int

	Intra     []int
	Inter     []int
	IntraNets []int

	// NIntraChannels counts channels whose NIC attachment is expressed via
	// IntraNets instead of Inter (lateral egress plans).
	NIntraChannels int
}

// NewGraph allocates a graph for the given system with the channel arrays
// sized for the worst case (MaxChannelCount channels, post-expansion ranks).
func NewGraph(system *topology.System, id int, pattern Pattern) *Graph {
	width := system.GPUCount()
	if system.NRanks > width {
		width = system.NRanks
	}
	g := &Graph{
		ID:          id,
		Pattern:     pattern,
		MinChannels: 1,
		MaxChannels: MaxChannelCount,
		Intra:       make([]int, MaxChannelCount*width),
		Inter:       make([]int, MaxChannelCount*2),
		IntraNets:   make([]int, MaxChannelCount*width*2),
	}
	g.resetIntraNets()
	return g
}

func (g *Graph) resetIntraNets() {
	for i := range g.IntraNets {
		g.IntraNets[i] = -1
	}
	g.NIntraChannels = 0
}

// copyFrom snapshots o into g, deep-copying the channel arrays. The two
// graphs must have been allocated for the same system.
func (g *Graph) copyFrom(o *Graph) {
	intra, inter, intraNets := g.Intra, g.Inter, g.IntraNets
	*g = *o
	g.Intra, g.Inter, g.IntraNets = intra, inter, intraNets
	copy(g.Intra, o.Intra)
	copy(g.Inter, o.Inter)
	copy(g.IntraNets, o.IntraNets)
}

// ChannelRanks returns the rank sequence of one channel. Before multi-rank
// expansion the stride is the GPU count; after it, the rank count.
func (g *Graph) ChannelRanks(stride, channel int) []int {
	return g.Intra[channel*stride : (channel+1)*stride]
}

// ChannelNets returns the entry and exit NIC ids of one channel.
func (g *Graph) ChannelNets(channel int) (int, int) {
	return g.Inter[channel*2], g.Inter[channel*2+1]
}
