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
	"github.com/NVIDIA/topo-channel-planner/pkg/topology"
)

// followEdge tries to traverse the precomputed path from (kind1, index1) to
// (kind2, index2). mult selects reservation (+1) or release (-1) of the
// graph's current bandwidth step along the path; the step and the link-type
// threshold come from the intra or inter knobs depending on whether both
// endpoints are GPUs.
//
// A nil destination with a nil error means the edge was refused: the path is
// coarser than the threshold, or some link lacked headroom. Partial
// reservations are rolled back before returning.
func (s *searcher) followEdge(kind1 topology.NodeKind, index1 int, kind2 topology.NodeKind, index2 int, mult int) (*topology.Node, error) {
	dest := s.system.Node(kind2, index2)
	if kind1 == topology.KindNone {
		return dest, nil
	}
	node1 := s.system.Node(kind1, index1)
	path := node1.Paths[kind2][index2]
	if path.Count() == 0 {
		return dest, nil
	}

	intra := kind1 == topology.KindGPU && kind2 == topology.KindGPU
	bw := s.graph.BwInter
	threshold := s.graph.TypeInter
	if intra {
		bw = s.graph.BwIntra
		threshold = s.graph.TypeIntra
	}

	if mult == 1 && path.Type > threshold {
		return nil, nil
	}

	bw *= float64(mult)

	step, err := reservePath(path, node1, path.Count(), bw)
	if err != nil {
		return nil, err
	}
	if step < path.Count() {
		// Not enough headroom: rewind the partial reservation.
		if _, err := reservePath(path, node1, step, -bw); err != nil {
			return nil, err
		}
		return nil, nil
	}

	s.graph.NHops += mult * path.Count()
	return dest, nil
}
