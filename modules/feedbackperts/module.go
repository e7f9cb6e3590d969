// Package feedbackperts is the feedback-disturbance study: reaches under
// corrupted sensory feedback, over a noise-amplitude axis.
package feedbackperts

import (
	"github.com/vk/policylab/internal/analysis"
	"github.com/vk/policylab/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register wires the study's analyses and module definition into the
// registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterAnalysis("feedback_response", func(params map[string]any) (analysis.Analysis, error) {
		return feedbackResponse{}, nil
	})
	r.RegisterAnalysis("response_measures", func(params map[string]any) (analysis.Analysis, error) {
		return responseMeasures{}, nil
	})

	r.RegisterModule(&registry.StudyModule{
		ID: "feedbackperts",
		Analyses: []analysis.Spec{
			analysis.NewSpec("feedback_response", nil),
			analysis.NewSpec("response_measures", nil),
		},
		Setup: Setup,
		Eval:  Eval,
		AxisParams: map[string]string{
			"fb_noise_std": "fb_noise_std",
		},
	})
}
