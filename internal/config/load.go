package config

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/policylab/internal/ctxlog"
)

// fileRoot decodes the top-level blocks of one run file.
type fileRoot struct {
	Run         *runBlock   `hcl:"run,block"`
	Models      *attrsBlock `hcl:"models,block"`
	Hyperparams *attrsBlock `hcl:"hyperparams,block"`
	Remain      hcl.Body    `hcl:",remain"`
}

type runBlock struct {
	Module       string  `hcl:"module"`
	EvalN        *int    `hcl:"eval_n,optional"`
	Seed         *int64  `hcl:"seed,optional"`
	RunID        *string `hcl:"run_id,optional"`
	ArtifactRoot *string `hcl:"artifact_root,optional"`
	DBPath       *string `hcl:"db_path,optional"`
}

// attrsBlock keeps its body raw so blocks stay free-form: attribute names
// are data, not schema.
type attrsBlock struct {
	Body hcl.Body `hcl:",remain"`
}

// Load parses every .hcl file under path (a file or a directory) and
// merges them into one Config. Exactly one file must carry the run block;
// models and hyperparams attributes merge across files, later files
// winning on name collisions.
func Load(ctx context.Context, path string) (*Config, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := FindConfigFiles(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl configuration files found at %s", path)
	}
	logger.Debug("Discovered configuration files.", "count", len(files), "path", path)

	cfg := &Config{
		ModelFilters: make(map[string]any),
		Hyperparams:  make(map[string]any),
	}
	parser := hclparse.NewParser()
	runSeen := ""

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parse %s: %w", file, diags)
		}

		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("decode %s: %w", file, diags)
		}

		if root.Run != nil {
			if runSeen != "" {
				return nil, fmt.Errorf("run block defined in both %s and %s", runSeen, file)
			}
			runSeen = file
			applyRunBlock(cfg, root.Run)
		}
		if root.Models != nil {
			if err := mergeAttrs(cfg.ModelFilters, root.Models.Body, file); err != nil {
				return nil, err
			}
		}
		if root.Hyperparams != nil {
			if err := mergeAttrs(cfg.Hyperparams, root.Hyperparams.Body, file); err != nil {
				return nil, err
			}
		}
	}

	if runSeen == "" {
		return nil, fmt.Errorf("no run block found in %s", path)
	}
	cfg.applyDefaults()
	logger.Debug("Configuration loaded.",
		"module", cfg.Module,
		"eval_n", cfg.EvalN,
		"model_filters", len(cfg.ModelFilters),
		"hyperparams", len(cfg.Hyperparams),
	)
	return cfg, nil
}

func applyRunBlock(cfg *Config, run *runBlock) {
	cfg.Module = run.Module
	if run.EvalN != nil {
		cfg.EvalN = *run.EvalN
	}
	if run.Seed != nil {
		cfg.Seed = *run.Seed
	}
	if run.RunID != nil {
		cfg.RunID = *run.RunID
	}
	if run.ArtifactRoot != nil {
		cfg.ArtifactRoot = *run.ArtifactRoot
	}
	if run.DBPath != nil {
		cfg.DBPath = *run.DBPath
	}
}

func mergeAttrs(dst map[string]any, body hcl.Body, file string) error {
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return fmt.Errorf("read attributes in %s: %w", file, diags)
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		val, diags := attrs[name].Expr.Value(nil)
		if diags.HasErrors() {
			return fmt.Errorf("evaluate %s in %s: %w", name, file, diags)
		}
		goVal, err := ctyToGo(val)
		if err != nil {
			return fmt.Errorf("attribute %s in %s: %w", name, file, err)
		}
		dst[name] = goVal
	}
	return nil
}

// FindConfigFiles returns the .hcl files at path, sorted for a
// deterministic merge order. A file path is returned as-is; a directory
// is walked recursively.
func FindConfigFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("access configuration path %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".hcl") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
