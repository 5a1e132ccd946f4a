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

// topo-planner plans collective-communication channels over a declared
// hardware topology and prints or dumps the result, for offline tuning and
// replay debugging.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	topov1 "github.com/NVIDIA/topo-channel-planner/api/topology/v1"
	"github.com/NVIDIA/topo-channel-planner/internal/discovery"
	"github.com/NVIDIA/topo-channel-planner/pkg/planner"
	"github.com/NVIDIA/topo-channel-planner/pkg/topology"
)

var version = "devel"

type planOptions struct {
	topologyFile string
	endpoint     string
	patterns     []string
	dumpFile     string
	minChannels  int
	maxChannels  int
	collNet      bool
}

func main() {
	klog.InitFlags(nil)

	root := &cobra.Command{
		Use:          "topo-planner",
		Short:        "Plan collective-communication channels over a hardware topology",
		SilenceUsage: true,
	}
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	opts := &planOptions{}
	plan := &cobra.Command{
		Use:   "plan",
		Short: "Search channel plans for the given patterns and print them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.Context(), opts)
		},
	}
	plan.Flags().StringVar(&opts.topologyFile, "topology", "", "declared topology file (YAML)")
	plan.Flags().StringVar(&opts.endpoint, "discover", "", "discovery service endpoint instead of a topology file")
	plan.Flags().StringSliceVar(&opts.patterns, "pattern", []string{"ring", "balancedtree"}, "patterns to plan (ring, tree, splittree, balancedtree, collnet)")
	plan.Flags().StringVar(&opts.dumpFile, "dump-file", "", "write the plans to this file (overrides "+planner.EnvGraphDumpFile+")")
	plan.Flags().IntVar(&opts.minChannels, "min-channels", 1, "minimum channels per plan")
	plan.Flags().IntVar(&opts.maxChannels, "max-channels", planner.MaxChannelCount, "maximum channels per plan")
	plan.Flags().BoolVar(&opts.collNet, "collnet", false, "require collective-offload capable NICs")
	root.AddCommand(plan)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the planner version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadSystem(ctx context.Context, opts *planOptions) (*topology.System, error) {
	if opts.endpoint != "" {
		cfg := discovery.DefaultConfig()
		cfg.Endpoint = opts.endpoint
		client, err := discovery.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		defer client.Close()
		return client.DiscoverSystem(ctx)
	}
	if opts.topologyFile == "" {
		return nil, fmt.Errorf("either --topology or --discover is required")
	}
	topo, err := topov1.Load(opts.topologyFile)
	if err != nil {
		return nil, err
	}
	return topo.BuildSystem()
}

func runPlan(ctx context.Context, opts *planOptions) error {
	system, err := loadSystem(ctx, opts)
	if err != nil {
		return err
	}

	cfg, err := planner.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	if opts.dumpFile != "" {
		cfg.GraphDumpFile = opts.dumpFile
	}

	graphs := make([]*planner.Graph, 0, len(opts.patterns))
	for id, name := range opts.patterns {
		pattern, err := planner.ParsePattern(name)
		if err != nil {
			return err
		}
		graph := planner.NewGraph(system, id, pattern)
		graph.MinChannels = opts.minChannels
		graph.MaxChannels = opts.maxChannels
		graph.CollNet = opts.collNet || pattern == planner.PatternCollNet
		if err := planner.Compute(system, graph, cfg); err != nil {
			return fmt.Errorf("planning %s: %w", name, err)
		}
		planner.PrintGraph(system, graph)
		graphs = append(graphs, graph)
	}

	if err := planner.DumpGraphs(system, cfg, graphs...); err != nil {
		return err
	}
	planner.GetSearchMetricsCollector().LogMetricsSummary()
	return nil
}
