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

package discovery

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"k8s.io/klog/v2"

	"github.com/NVIDIA/topo-channel-planner/pkg/topology"
)

const getTopologyMethod = "/discovery.TopologyProvider/GetTopology"

// providerClient implements ProviderClient over a gRPC connection.
type providerClient struct {
	cc *grpc.ClientConn
}

// NewProviderClient wraps a gRPC connection in the RPC interface.
func NewProviderClient(cc *grpc.ClientConn) ProviderClient {
	return &providerClient{cc: cc}
}

func (c *providerClient) GetTopology(ctx context.Context, in *GetTopologyRequest, opts ...grpc.CallOption) (*GetTopologyResponse, error) {
	out := new(GetTopologyResponse)
	if err := c.cc.Invoke(ctx, getTopologyMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *providerClient) Close() error {
	return c.cc.Close()
}

// Client is the high-level discovery interface the planner consumes.
type Client interface {
	// DiscoverSystem fetches the declared topology and builds the
	// decorated multigraph, retrying transient failures.
	DiscoverSystem(ctx context.Context) (*topology.System, error)

	// Close closes the client connection.
	Close() error
}

type clientWrapper struct {
	rpc    ProviderClient
	config *Config
}

// NewClient connects to the discovery service.
func NewClient(config *Config) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	conn, err := grpc.NewClient(config.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to discovery service at %s: %w", config.Endpoint, err)
	}
	return &clientWrapper{rpc: NewProviderClient(conn), config: config}, nil
}

func (c *clientWrapper) DiscoverSystem(ctx context.Context) (*topology.System, error) {
	var lastErr error
	for attempt := 1; attempt <= c.config.RetryCount; attempt++ {
		system, err := c.discoverOnce(ctx)
		if err == nil {
			if attempt > 1 {
				klog.V(4).Infof("Topology discovery succeeded on attempt %d", attempt)
			}
			return system, nil
		}
		lastErr = err
		klog.V(4).Infof("Topology discovery attempt %d failed: %v", attempt, err)
		if attempt < c.config.RetryCount {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}
	}
	return nil, fmt.Errorf("topology discovery failed after %d attempts: %w", c.config.RetryCount, lastErr)
}

func (c *clientWrapper) discoverOnce(ctx context.Context) (*topology.System, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resp, err := c.rpc.GetTopology(ctx, &GetTopologyRequest{IncludeNICs: true})
	if err != nil {
		return nil, fmt.Errorf("failed to get topology: %w", err)
	}
	if resp.Topology == nil {
		return nil, fmt.Errorf("discovery service returned no topology")
	}
	if err := resp.Topology.Validate(); err != nil {
		return nil, fmt.Errorf("discovery service returned an invalid topology: %w", err)
	}

	system, err := resp.Topology.BuildSystem()
	if err != nil {
		return nil, fmt.Errorf("building system from discovered topology: %w", err)
	}
	klog.V(6).Infof("Discovered topology from %s: %d GPUs, %d NICs",
		resp.Source, system.GPUCount(), system.NetCount())
	return system, nil
}

func (c *clientWrapper) Close() error {
	return c.rpc.Close()
}
