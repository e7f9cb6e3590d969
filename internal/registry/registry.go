// Package registry holds the typed registries wiring study code into the
// engine: analysis factories, state transforms, run conditions, and study
// modules. All wiring is explicit name → factory data built at startup, so
// the engine can validate the dependency graph before running anything.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/vk/policylab/internal/analysis"
)

// Factory constructs a concrete analysis node from its construction
// parameters.
type Factory func(params map[string]any) (analysis.Analysis, error)

// Condition is a named precondition evaluated against the run's input
// data.
type Condition func(data analysis.InputData) bool

// Module is the interface study packages implement to be registered.
type Module interface {
	Register(r *Registry)
}

// StudyModule bundles everything one study contributes: the analyses to
// run, the collaborators that build and evaluate its task/model trees, and
// the mapping from tree axis labels to catalog parameter names.
type StudyModule struct {
	// ID names the study, e.g. "plantperts".
	ID string
	// Analyses lists the requested nodes in declaration order.
	Analyses []analysis.Spec
	// Variants names the evaluation variants to produce; defaults to
	// {"main"} when empty.
	Variants []string
	// Setup builds the task/model trees from the base artifacts.
	Setup analysis.SetupFunc
	// Eval produces a states tree for one task/model pair.
	Eval analysis.EvalFunc
	// AxisParams maps tree axis labels to catalog column names. Unmapped
	// labels persist under their own name.
	AxisParams map[string]string
}

// Registry is a single application instance's wiring.
type Registry struct {
	analyses   map[string]Factory
	transforms map[string]analysis.TransformFunc
	conditions map[string]Condition
	modules    map[string]*StudyModule
}

// New creates a Registry with the built-in combinator factories
// ("transformed", "stacked") pre-registered.
func New() *Registry {
	r := &Registry{
		analyses:   make(map[string]Factory),
		transforms: make(map[string]analysis.TransformFunc),
		conditions: make(map[string]Condition),
		modules:    make(map[string]*StudyModule),
	}
	r.registerBuiltins()
	return r
}

// RegisterAnalysis registers a factory for a named analysis.
func (r *Registry) RegisterAnalysis(name string, f Factory) {
	if _, exists := r.analyses[name]; exists {
		panic(fmt.Sprintf("analysis factory %q already registered", name))
	}
	slog.Debug("Registering analysis factory.", "name", name)
	r.analyses[name] = f
}

// RegisterTransform registers a named state transform.
func (r *Registry) RegisterTransform(name string, fn analysis.TransformFunc) {
	if _, exists := r.transforms[name]; exists {
		panic(fmt.Sprintf("transform %q already registered", name))
	}
	slog.Debug("Registering transform.", "name", name)
	r.transforms[name] = fn
}

// RegisterCondition registers a named run precondition.
func (r *Registry) RegisterCondition(name string, c Condition) {
	if _, exists := r.conditions[name]; exists {
		panic(fmt.Sprintf("condition %q already registered", name))
	}
	slog.Debug("Registering condition.", "name", name)
	r.conditions[name] = c
}

// RegisterModule registers a study module under its ID.
func (r *Registry) RegisterModule(m *StudyModule) {
	if m.ID == "" {
		panic("study module must have an ID")
	}
	if _, exists := r.modules[m.ID]; exists {
		panic(fmt.Sprintf("study module %q already registered", m.ID))
	}
	slog.Debug("Registering study module.", "id", m.ID, "analyses", len(m.Analyses))
	r.modules[m.ID] = m
}

// NewAnalysis instantiates the node a spec denotes.
func (r *Registry) NewAnalysis(spec analysis.Spec) (analysis.Analysis, error) {
	f, ok := r.analyses[spec.Node]
	if !ok {
		return nil, fmt.Errorf("no analysis factory registered for %q", spec.Node)
	}
	inst, err := f(spec.Params)
	if err != nil {
		return nil, fmt.Errorf("construct analysis %q: %w", spec.Node, err)
	}
	return inst, nil
}

// Transform returns the named state transform.
func (r *Registry) Transform(name string) (analysis.TransformFunc, error) {
	fn, ok := r.transforms[name]
	if !ok {
		return nil, fmt.Errorf("no transform registered for %q", name)
	}
	return fn, nil
}

// ConditionFn returns the named condition predicate.
func (r *Registry) ConditionFn(name string) (Condition, error) {
	c, ok := r.conditions[name]
	if !ok {
		return nil, fmt.Errorf("no condition registered for %q", name)
	}
	return c, nil
}

// ModuleByID returns the named study module.
func (r *Registry) ModuleByID(id string) (*StudyModule, error) {
	m, ok := r.modules[id]
	if !ok {
		return nil, fmt.Errorf("no study module registered for %q", id)
	}
	return m, nil
}

// Validate checks that every registered module's analyses, and their
// statically declared dependencies, resolve to registered factories. Run
// at startup so wiring mistakes surface before any computation.
func (r *Registry) Validate() error {
	for id, m := range r.modules {
		visited := make(map[string]bool)
		for _, spec := range m.Analyses {
			if err := r.validateSpec(spec, visited); err != nil {
				return fmt.Errorf("module %q: %w", id, err)
			}
		}
	}
	return nil
}

func (r *Registry) validateSpec(spec analysis.Spec, visited map[string]bool) error {
	key := spec.Key()
	if visited[key] {
		return nil
	}
	visited[key] = true

	inst, err := r.NewAnalysis(spec)
	if err != nil {
		return err
	}
	for name, dep := range inst.Dependencies() {
		if err := r.validateSpec(dep, visited); err != nil {
			return fmt.Errorf("dependency %q of %q: %w", name, spec.Node, err)
		}
	}
	for _, cond := range inst.Conditions() {
		if _, err := r.ConditionFn(cond); err != nil {
			return fmt.Errorf("analysis %q: %w", spec.Node, err)
		}
	}
	return nil
}

// ModuleIDs lists the registered study module IDs.
func (r *Registry) ModuleIDs() []string {
	out := make([]string, 0, len(r.modules))
	for id := range r.modules {
		out = append(out, id)
	}
	return out
}
