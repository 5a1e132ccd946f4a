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
)

func TestSearchMetricsCollector(t *testing.T) {
	c := NewSearchMetricsCollector()

	system := nvlinkPair(t, 50)
	graph := NewGraph(system, 0, PatternRing)
	graph.NChannels = 2
	graph.BwIntra, graph.BwInter = 22, 22

	c.RecordCompute(graph, 5, true, false)
	c.RecordCompute(graph, 3, false, true)
	c.RecordGraphImport(4)
	c.RecordFallback()

	m := c.GetMetrics()
	assert.Equal(t, int64(2), m.ComputeCount)
	assert.Equal(t, int64(8), m.SearchRestarts)
	assert.Equal(t, int64(1), m.PerfectResults)
	assert.Equal(t, int64(1), m.TimeoutResults)
	assert.Equal(t, int64(1), m.GraphImports)
	assert.Equal(t, int64(1), m.FallbackResults)
	assert.Equal(t, int64(8), m.ChannelsFound)
	assert.Equal(t, 22.0, m.BestBwIntra)
	require.False(t, m.LastCompute.IsZero())

	c.ResetMetrics()
	assert.Equal(t, int64(0), c.GetMetrics().ComputeCount)
}

func TestGlobalMetricsCollector(t *testing.T) {
	assert.Same(t, GetSearchMetricsCollector(), GetSearchMetricsCollector())
}
