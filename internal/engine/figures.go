package engine

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vk/policylab/internal/analysis"
	"github.com/vk/policylab/internal/ctxlog"
	"github.com/vk/policylab/internal/figure"
	"github.com/vk/policylab/internal/store"
	"github.com/vk/policylab/internal/tree"
)

func figLeaf(v any) bool {
	if figure.IsFigure(v) {
		return true
	}
	return tree.DefaultIsLeaf(v)
}

// persistFigures walks the figure tree a node produced and records each
// figure leaf in the catalog. Per-leaf parameters are merged in ascending
// precedence: path-derived axis values, the node's non-default
// construction parameters, the node's ParamsToSave, and the evaluation
// count.
func (e *Engine) persistFigures(
	ctx context.Context,
	n *node,
	data analysis.InputData,
	result any,
	figs any,
	eval *store.EvaluationRecord,
	axisParams map[string]string,
	evalN int,
) (int, error) {
	if figs == nil {
		return 0, nil
	}

	leaves := tree.Leaves(figs, figLeaf)
	paths := tree.LabeledPaths(figs, figLeaf)
	fullPaths := tree.Paths(figs, figLeaf)

	fieldParams := nonDefaultFieldParams(n)

	count := 0
	for i, leaf := range leaves {
		fig, ok := leaf.(*figure.Figure)
		if !ok || fig == nil {
			continue
		}

		pathParams := make(map[string]any, len(paths[i]))
		for _, kv := range paths[i] {
			name := kv.Label
			if mapped, ok := axisParams[kv.Label]; ok {
				name = mapped
			}
			pathParams[name] = kv.Key
		}

		params := make(map[string]any)
		for k, v := range pathParams {
			params[k] = v
		}
		for k, v := range fieldParams {
			params[k] = v
		}
		if saver, ok := n.inst.(analysis.ParamSaver); ok {
			for k, v := range saver.ParamsToSave(data, result, pathParams) {
				params[k] = v
			}
		}
		params["eval_n"] = evalN

		identifier := figIdentifier(n, fullPaths[i], paths[i])
		if _, err := e.store.AddFigure(ctx, eval, fig, identifier, params); err != nil {
			return count, err
		}
		if e.opts.FigDumpPath != "" {
			if err := e.dumpFigure(ctx, fig, identifier, params); err != nil {
				return count, err
			}
		}
		count++
	}
	return count, nil
}

// nonDefaultFieldParams diffs the node's construction parameters against
// its declared defaults. Nodes without declared defaults contribute all
// their parameters, minus combinator wiring.
func nonDefaultFieldParams(n *node) map[string]any {
	var defaults map[string]any
	if d, ok := n.inst.(analysis.Defaulter); ok {
		defaults = d.DefaultParams()
	}
	params := analysis.NonDefaultParams(n.spec.Params, defaults)
	for k := range params {
		if structuralParam(n.spec.Node, k) {
			delete(params, k)
		}
	}
	return params
}

// structuralParam reports whether a combinator parameter describes node
// wiring rather than a queryable scalar. The transform name and stacking
// level reach the catalog through ParamsToSave instead.
func structuralParam(nodeName, key string) bool {
	switch nodeName {
	case "transformed":
		return key == "inner" || key == "transform" || key == "transform_params"
	case "stacked":
		return key == "inner" || key == "level"
	}
	return false
}

// nodeSlug names a node for figure identifiers. Combinator nodes unwrap
// to their inner node's name suffixed with the transform or stacking
// level, so wrapped and unwrapped instances never collide.
func nodeSlug(spec analysis.Spec) string {
	switch spec.Node {
	case "transformed":
		if inner, err := analysis.SpecFromParams(spec.Params["inner"]); err == nil {
			if name, _ := spec.Params["transform"].(string); name != "" {
				return nodeSlug(inner) + "__" + name
			}
		}
	case "stacked":
		if inner, err := analysis.SpecFromParams(spec.Params["inner"]); err == nil {
			if level, _ := spec.Params["level"].(string); level != "" {
				return nodeSlug(inner) + "__by_" + level
			}
		}
	}
	return spec.Node
}

// paramSuffix disambiguates same-named nodes requested with different
// parameters. Combinator parameters already reflected in the slug are not
// hashed.
func paramSuffix(spec analysis.Spec) string {
	rest := make(map[string]any)
	for k, v := range spec.Params {
		switch spec.Node {
		case "transformed":
			if k == "inner" || k == "transform" || (k == "transform_params" && v == nil) {
				continue
			}
		case "stacked":
			if k == "inner" || k == "level" {
				continue
			}
		}
		rest[k] = v
	}
	if len(rest) == 0 {
		return ""
	}
	blob, err := json.Marshal(rest)
	if err != nil {
		return ""
	}
	sum := md5.Sum(blob)
	return "-" + hex.EncodeToString(sum[:])[:8]
}

// figIdentifier names one figure leaf within an evaluation. The node name
// (and variant, when not the default) prefixes the leaf's path, so
// identifiers stay stable across runs and unique within a run. Fully
// labeled paths render as label=value; a path through unlabeled levels
// (maps, slices) falls back to the raw keys, so sibling leaves under an
// unlabeled container never share an identifier.
func figIdentifier(n *node, path tree.Path, labeled []tree.LabelKV) string {
	id := nodeSlug(n.spec) + paramSuffix(n.spec)
	if v := n.inst.Variant(); v != "" && v != "main" {
		id += "_" + v
	}
	if len(path) == 0 {
		return id
	}
	parts := make([]string, 0, len(path))
	if len(labeled) == len(path) {
		for _, kv := range labeled {
			parts = append(parts, fmt.Sprintf("%s=%v", kv.Label, kv.Key))
		}
	} else {
		for _, key := range path {
			parts = append(parts, fmt.Sprintf("%v", key))
		}
	}
	return id + "/" + strings.Join(parts, "_")
}

// dumpFigure writes the figure in each requested format under the dump
// directory, alongside one YAML sidecar with the merged parameters.
func (e *Engine) dumpFigure(ctx context.Context, fig *figure.Figure, identifier string, params map[string]any) error {
	logger := ctxlog.FromContext(ctx)

	base := filepath.Join(e.opts.FigDumpPath, filepath.FromSlash(identifier))
	if err := os.MkdirAll(filepath.Dir(base), 0o755); err != nil {
		return fmt.Errorf("create dump directory for %s: %w", identifier, err)
	}

	formats := e.opts.FigDumpFormats
	if len(formats) == 0 {
		formats = figure.Formats()
	}
	for _, format := range formats {
		payload, err := fig.Render(format)
		if err != nil {
			return fmt.Errorf("dump %s as %s: %w", identifier, format, err)
		}
		path := base + "." + format
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			return fmt.Errorf("dump %s: %w", identifier, err)
		}
		logger.Debug("Dumped figure.", "path", path)
	}

	sidecar, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode parameter sidecar for %s: %w", identifier, err)
	}
	if err := os.WriteFile(base+".params.yaml", sidecar, 0o644); err != nil {
		return fmt.Errorf("write parameter sidecar for %s: %w", identifier, err)
	}
	return nil
}
