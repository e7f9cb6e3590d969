// Package plantperts is the plant-disturbance study: trajectories,
// aligned variables, robustness measures, and profile comparisons over a
// perturbation-amplitude axis.
package plantperts

import (
	"github.com/vk/policylab/internal/analysis"
	"github.com/vk/policylab/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register wires the study's analyses, transforms, and module definition
// into the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterAnalysis("effector_trajectories", func(params map[string]any) (analysis.Analysis, error) {
		return effectorTrajectories{}, nil
	})
	r.RegisterAnalysis("aligned_vars", newAlignedVars)
	r.RegisterAnalysis("aligned_trajectories", func(params map[string]any) (analysis.Analysis, error) {
		return alignedTrajectories{}, nil
	})
	r.RegisterAnalysis("measures", func(params map[string]any) (analysis.Analysis, error) {
		return measures{}, nil
	})
	r.RegisterAnalysis("profiles", newProfiles)
	r.RegisterAnalysis("profiles_compare", func(params map[string]any) (analysis.Analysis, error) {
		return profilesCompare{}, nil
	})

	r.RegisterTransform("best_eval", bestEval)
	r.RegisterTransform("lohi", loHi)

	r.RegisterModule(&registry.StudyModule{
		ID:       "plantperts",
		Variants: []string{"main", "small"},
		Analyses: []analysis.Spec{
			analysis.NewSpec("effector_trajectories", nil),
			analysis.Transformed(analysis.NewSpec("effector_trajectories", nil), "best_eval", nil),
			analysis.NewSpec("aligned_trajectories", nil),
			analysis.NewSpec("measures", nil),
			analysis.Transformed(analysis.NewSpec("measures", nil), "lohi", nil),
			analysis.NewSpec("profiles", map[string]any{"var": "vel"}),
			analysis.Stacked(analysis.NewSpec("profiles_compare", nil), "pert_amp"),
		},
		Setup: Setup,
		Eval:  Eval,
		AxisParams: map[string]string{
			"pert_amp": "pert_amp",
			"measure":  "measure_name",
		},
	})
}
