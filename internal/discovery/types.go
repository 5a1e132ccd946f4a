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

// Package discovery talks to the external topology-discovery service. The
// service walks the hardware (NVML, sysfs, network devices) and hands back a
// declared topology; everything hardware-specific stays on its side of the
// wire.
package discovery

import (
	"context"
	"time"

	"google.golang.org/grpc"

	topov1 "github.com/NVIDIA/topo-channel-planner/api/topology/v1"
)

// ProviderClient is the low-level RPC interface of the discovery service.
type ProviderClient interface {
	// GetTopology retrieves the declared topology of this host.
	GetTopology(ctx context.Context, in *GetTopologyRequest, opts ...grpc.CallOption) (*GetTopologyResponse, error)

	// Close closes the client connection.
	Close() error
}

// GetTopologyRequest selects what the discovery service should report.
type GetTopologyRequest struct {
	// IncludeNICs asks for NIC nodes and their ASIC/port grouping.
	IncludeNICs bool `json:"includeNics"`
}

// GetTopologyResponse carries the declared topology plus provenance.
type GetTopologyResponse struct {
	Topology  *topov1.Topology `json:"topology"`
	Timestamp int64            `json:"timestamp"`
	Source    string           `json:"source"`
}

// Config configures the discovery client.
type Config struct {
	Endpoint   string        `json:"endpoint"`
	Timeout    time.Duration `json:"timeout"`
	RetryCount int           `json:"retryCount"`
	RetryDelay time.Duration `json:"retryDelay"`
}

// DefaultConfig returns the default discovery client configuration.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:   "localhost:50061",
		Timeout:    30 * time.Second,
		RetryCount: 3,
		RetryDelay: 1 * time.Second,
	}
}
