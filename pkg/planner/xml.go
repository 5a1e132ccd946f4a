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
	"encoding/xml"
	"fmt"
	"os"

	"k8s.io/klog/v2"

	"github.com/NVIDIA/topo-channel-planner/pkg/topology"
)

// GraphXMLVersion is the exchange format version. Imports with any other
// version are rejected.
const GraphXMLVersion = 1

type xmlChannelNode struct {
	XMLName xml.Name
	Dev     int `xml:"dev,attr"`
}

type xmlChannel struct {
	Nodes []xmlChannelNode `xml:",any"`
}

type xmlGraph struct {
	ID           int          `xml:"id,attr"`
	Pattern      int          `xml:"pattern,attr"`
	CrossNic     int          `xml:"crossnic,attr"`
	NChannels    int          `xml:"nchannels,attr"`
	SpeedIntra   float64      `xml:"speedintra,attr"`
	SpeedInter   float64      `xml:"speedinter,attr"`
	LatencyInter float64      `xml:"latencyinter,attr"`
	TypeIntra    string       `xml:"typeintra,attr"`
	TypeInter    string       `xml:"typeinter,attr"`
	SameChannels int          `xml:"samechannels,attr"`
	Channels     []xmlChannel `xml:"channel"`
}

type xmlGraphs struct {
	XMLName xml.Name   `xml:"graphs"`
	Version int        `xml:"version,attr"`
	Graphs  []xmlGraph `xml:"graph"`
}

func graphToXML(system *topology.System, graph *Graph) (*xmlGraph, error) {
	ngpus := system.GPUCount()
	xg := &xmlGraph{
		ID:           graph.ID,
		Pattern:      int(graph.Pattern),
		CrossNic:     graph.CrossNic,
		NChannels:    graph.NChannels,
		SpeedIntra:   graph.BwIntra,
		SpeedInter:   graph.BwInter,
		LatencyInter: graph.LatencyInter,
		TypeIntra:    graph.TypeIntra.String(),
		TypeInter:    graph.TypeInter.String(),
		SameChannels: graph.SameChannels,
	}
	hasNet := system.NetCount() > 0
	for c := 0; c < graph.NChannels; c++ {
		var ch xmlChannel
		if hasNet {
			ch.Nodes = append(ch.Nodes, xmlChannelNode{XMLName: xml.Name{Local: "net"}, Dev: graph.Inter[c*2]})
		}
		for g := 0; g < ngpus; g++ {
			rank := graph.Intra[c*ngpus+g]
			gpu, err := system.GPUForRank(rank)
			if err != nil {
				return nil, newRankNotFoundError(rank)
			}
			ch.Nodes = append(ch.Nodes, xmlChannelNode{XMLName: xml.Name{Local: "gpu"}, Dev: gpu.GPU.Dev})
		}
		if hasNet {
			ch.Nodes = append(ch.Nodes, xmlChannelNode{XMLName: xml.Name{Local: "net"}, Dev: graph.Inter[c*2+1]})
		}
		xg.Channels = append(xg.Channels, ch)
	}
	return xg, nil
}

// DumpGraphs exports the graphs to the configured dump file. It is a no-op
// when no dump file is configured.
func DumpGraphs(system *topology.System, cfg Config, graphs ...*Graph) error {
	if cfg.GraphDumpFile == "" {
		return nil
	}
	doc := xmlGraphs{Version: GraphXMLVersion}
	for _, graph := range graphs {
		xg, err := graphToXML(system, graph)
		if err != nil {
			return err
		}
		doc.Graphs = append(doc.Graphs, *xg)
	}
	data, err := xml.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding graph dump: %w", err)
	}
	if err := os.WriteFile(cfg.GraphDumpFile, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing graph dump: %w", err)
	}
	klog.V(4).Infof("Dumped %d graphs to %s", len(graphs), cfg.GraphDumpFile)
	return nil
}

func channelFromXML(path string, ch *xmlChannel, c int, system *topology.System, graph *Graph) error {
	ngpus := system.GPUCount()
	n, g := 0, 0
	for _, sub := range ch.Nodes {
		switch sub.XMLName.Local {
		case "net":
			graph.Inter[c*2+n] = sub.Dev
			n++
		case "gpu":
			gpu, err := system.GPUByDev(sub.Dev)
			if err != nil {
				return newGraphFileDeviceError(path, sub.Dev)
			}
			graph.Intra[c*ngpus+g] = gpu.GPU.Ranks[0]
			g++
		}
	}
	return nil
}

func graphFromXML(path string, xg *xmlGraph, system *topology.System, graph *Graph) (int, error) {
	if graph.ID != xg.ID {
		return 0, nil
	}
	// A file asking for cross-NIC channels cannot override a caller that
	// forbade them; ignore the entry instead.
	if graph.CrossNic == 0 && xg.CrossNic == 1 {
		return 0, nil
	}
	graph.CrossNic = xg.CrossNic
	graph.Pattern = Pattern(xg.Pattern)
	graph.NChannels = xg.NChannels
	graph.BwIntra = xg.SpeedIntra
	graph.BwInter = xg.SpeedInter
	graph.LatencyInter = xg.LatencyInter

	var err error
	if graph.TypeIntra, err = topology.ParseLinkType(xg.TypeIntra); err != nil {
		return 0, fmt.Errorf("graph file %s: %w", path, err)
	}
	if graph.TypeInter, err = topology.ParseLinkType(xg.TypeInter); err != nil {
		return 0, fmt.Errorf("graph file %s: %w", path, err)
	}
	graph.SameChannels = xg.SameChannels

	for c := range xg.Channels {
		if err := channelFromXML(path, &xg.Channels[c], c, system, graph); err != nil {
			return 0, err
		}
	}
	return len(xg.Channels), nil
}

// LoadGraphFile imports a previously dumped plan into graph, matching on the
// graph id. It returns the number of channels loaded.
func LoadGraphFile(path string, system *topology.System, graph *Graph) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading graph file: %w", err)
	}
	var doc xmlGraphs
	if err := xml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("decoding graph file %s: %w", path, err)
	}
	if doc.Version != GraphXMLVersion {
		return 0, newGraphFileVersionError(path, doc.Version, GraphXMLVersion)
	}
	nChannels := 0
	for i := range doc.Graphs {
		n, err := graphFromXML(path, &doc.Graphs[i], system, graph)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			nChannels = n
		}
	}
	return nChannels, nil
}
