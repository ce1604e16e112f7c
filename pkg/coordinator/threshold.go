package coordinator

import "github.com/haasonsaas/playbookengine/pkg/config"

// Priority→confidence-threshold table for auto-executing readonly packs
// in an execution/hybrid workspace (spec.md §4.1, §9 Open Question:
// fixed here as the repo's canonical values).
const (
	ThresholdLow    = 0.60
	ThresholdMedium = 0.75
	ThresholdHigh   = 0.90
)

// ThresholdFor returns the confidence threshold for a workspace priority,
// defaulting to the medium threshold for an unrecognized value.
func ThresholdFor(priority config.WorkspacePriority) float64 {
	switch priority {
	case config.WorkspacePriorityLow:
		return ThresholdLow
	case config.WorkspacePriorityHigh:
		return ThresholdHigh
	default:
		return ThresholdMedium
	}
}
