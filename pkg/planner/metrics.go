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
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// SearchMetrics tracks what the outer optimizer did across planning runs.
type SearchMetrics struct {
	// Operation counters
	ComputeCount    int64 `json:"compute_count"`
	SearchRestarts  int64 `json:"search_restarts"`
	PerfectResults  int64 `json:"perfect_results"`
	TimeoutResults  int64 `json:"timeout_results"`
	GraphImports    int64 `json:"graph_imports"`
	FallbackResults int64 `json:"fallback_results"`

	// Quality metrics
	ChannelsFound int64   `json:"channels_found"`
	BestBwIntra   float64 `json:"best_bw_intra"`
	BestBwInter   float64 `json:"best_bw_inter"`

	// Timestamps
	LastCompute time.Time `json:"last_compute"`

	mu sync.RWMutex
}

// SearchMetricsCollector manages metrics collection for the planner.
type SearchMetricsCollector struct {
	metrics *SearchMetrics
}

// NewSearchMetricsCollector creates a new metrics collector.
func NewSearchMetricsCollector() *SearchMetricsCollector {
	return &SearchMetricsCollector{metrics: &SearchMetrics{}}
}

// RecordCompute records the outcome of one Compute call.
func (c *SearchMetricsCollector) RecordCompute(graph *Graph, restarts int, perfect, timedOut bool) {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()

	c.metrics.ComputeCount++
	c.metrics.SearchRestarts += int64(restarts)
	c.metrics.ChannelsFound += int64(graph.NChannels)
	c.metrics.LastCompute = time.Now()
	if perfect {
		c.metrics.PerfectResults++
	}
	if timedOut {
		c.metrics.TimeoutResults++
	}
	if graph.BwIntra > c.metrics.BestBwIntra {
		c.metrics.BestBwIntra = graph.BwIntra
	}
	if graph.BwInter > c.metrics.BestBwInter {
		c.metrics.BestBwInter = graph.BwInter
	}

	klog.V(6).Infof("Planner metrics: compute finished with %d channels after %d restarts", graph.NChannels, restarts)
}

// RecordGraphImport records a search bypassed by a graph file import.
func (c *SearchMetricsCollector) RecordGraphImport(nChannels int) {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()

	c.metrics.GraphImports++
	c.metrics.ChannelsFound += int64(nChannels)
	klog.V(6).Infof("Planner metrics: %d channels imported from graph file", nChannels)
}

// RecordFallback records a degenerate-channel fallback.
func (c *SearchMetricsCollector) RecordFallback() {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()

	c.metrics.FallbackResults++
}

// GetMetrics returns a copy of the current metrics.
func (c *SearchMetricsCollector) GetMetrics() SearchMetrics {
	c.metrics.mu.RLock()
	defer c.metrics.mu.RUnlock()

	return SearchMetrics{
		ComputeCount:    c.metrics.ComputeCount,
		SearchRestarts:  c.metrics.SearchRestarts,
		PerfectResults:  c.metrics.PerfectResults,
		TimeoutResults:  c.metrics.TimeoutResults,
		GraphImports:    c.metrics.GraphImports,
		FallbackResults: c.metrics.FallbackResults,
		ChannelsFound:   c.metrics.ChannelsFound,
		BestBwIntra:     c.metrics.BestBwIntra,
		BestBwInter:     c.metrics.BestBwInter,
		LastCompute:     c.metrics.LastCompute,
	}
}

// ResetMetrics resets all metrics to zero.
func (c *SearchMetricsCollector) ResetMetrics() {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()

	m := c.metrics
	m.ComputeCount, m.SearchRestarts, m.PerfectResults, m.TimeoutResults = 0, 0, 0, 0
	m.GraphImports, m.FallbackResults, m.ChannelsFound = 0, 0, 0
	m.BestBwIntra, m.BestBwInter = 0, 0
	m.LastCompute = time.Time{}
}

// LogMetricsSummary logs a summary of current metrics.
func (c *SearchMetricsCollector) LogMetricsSummary() {
	m := c.GetMetrics()

	klog.V(4).Infof("Planner metrics summary:")
	klog.V(4).Infof("  Compute: %d runs, %d restarts, %d perfect, %d timed out",
		m.ComputeCount, m.SearchRestarts, m.PerfectResults, m.TimeoutResults)
	klog.V(4).Infof("  Results: %d channels, %d imports, %d fallbacks",
		m.ChannelsFound, m.GraphImports, m.FallbackResults)
	klog.V(4).Infof("  Best bandwidth: %.1f intra / %.1f inter", m.BestBwIntra, m.BestBwInter)
}

// Global metrics collector instance.
var searchMetricsCollector = NewSearchMetricsCollector()

// GetSearchMetricsCollector returns the global metrics collector.
func GetSearchMetricsCollector() *SearchMetricsCollector {
	return searchMetricsCollector
}
