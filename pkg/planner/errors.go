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
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies a planning error.
type ErrorCategory string

const (
	// ErrorCategoryInternal marks a lookup that should have succeeded: a
	// rank, NIC id, or device that the system itself handed out.
	ErrorCategoryInternal ErrorCategory = "internal"
	// ErrorCategoryInvalidUsage marks a caller-supplied id that refers to a
	// device not present on this node.
	ErrorCategoryInvalidUsage ErrorCategory = "invalid-usage"
	// ErrorCategorySystem marks an import file referencing a device absent
	// from the topology, or an incompatible file version.
	ErrorCategorySystem ErrorCategory = "system"
	// ErrorCategoryFallback names the degenerate-channel path. That path is
	// not a failure: Compute returns nil for it and builds no PlanError of
	// this category; the metrics collector counts it as FallbackResults.
	ErrorCategoryFallback ErrorCategory = "fallback"
)

// PlanError is an error with a category and actionable suggestions.
type PlanError struct {
	Category    ErrorCategory
	Message     string
	Suggestions []string
	Context     map[string]interface{}
}

func (e *PlanError) Error() string {
	if len(e.Suggestions) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s. Suggestions: %s", e.Message, strings.Join(e.Suggestions, "; "))
}

// NewPlanError creates a categorized planning error.
func NewPlanError(category ErrorCategory, message string, suggestions []string, context map[string]interface{}) *PlanError {
	return &PlanError{
		Category:    category,
		Message:     message,
		Suggestions: suggestions,
		Context:     context,
	}
}

// IsCategory reports whether err is a PlanError of the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var planErr *PlanError
	if errors.As(err, &planErr) {
		return planErr.Category == category
	}
	return false
}

// Error builders for common scenarios

func newRankNotFoundError(rank int) *PlanError {
	return NewPlanError(
		ErrorCategoryInternal,
		fmt.Sprintf("rank %d is not hosted by any GPU in the topology", rank),
		[]string{
			"Verify the rank-to-GPU mapping handed to the topology builder",
			"Check that every participating rank was declared",
		},
		map[string]interface{}{"rank": rank},
	)
}

func newNetNotFoundError(id int64) *PlanError {
	return NewPlanError(
		ErrorCategoryInternal,
		fmt.Sprintf("NIC id %x is not present in the topology", id),
		[]string{
			"Verify the NIC ids recorded in the plan against the topology",
		},
		map[string]interface{}{"net_id": id},
	)
}

func newRevLinkError(detail string) *PlanError {
	return NewPlanError(
		ErrorCategoryInternal,
		fmt.Sprintf("bandwidth ledger could not find a reverse link: %s", detail),
		[]string{
			"Declare every topology link in both directions",
		},
		nil,
	)
}

func newReplayError(nChannels int) *PlanError {
	return NewPlanError(
		ErrorCategoryInternal,
		fmt.Sprintf("cannot replay previous channel with %d channels committed", nChannels),
		nil,
		map[string]interface{}{"channels": nChannels},
	)
}

// NewDeviceNotPresentError reports a caller-supplied device id that does not
// exist on this node.
func NewDeviceNotPresentError(dev int) *PlanError {
	return NewPlanError(
		ErrorCategoryInvalidUsage,
		fmt.Sprintf("device %d is not present on this node", dev),
		[]string{
			"Check the device id against the discovered topology",
			"Verify the requesting rank runs on this host",
		},
		map[string]interface{}{"dev": dev},
	)
}

func newGraphFileDeviceError(path string, dev int) *PlanError {
	return NewPlanError(
		ErrorCategorySystem,
		fmt.Sprintf("graph file %s references GPU device %d which is absent from the topology", path, dev),
		[]string{
			"Regenerate the graph file on this machine",
			"Check that the file matches the current GPU enumeration",
		},
		map[string]interface{}{"path": path, "dev": dev},
	)
}

func newGraphFileVersionError(path string, got, want int) *PlanError {
	return NewPlanError(
		ErrorCategorySystem,
		fmt.Sprintf("graph file %s has version %d, expected %d", path, got, want),
		[]string{
			"Regenerate the graph file with this version of the planner",
		},
		map[string]interface{}{"path": path, "got": got, "want": want},
	)
}
