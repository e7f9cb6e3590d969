// Package config loads run configuration from HCL files. A run file
// selects the study module, the evaluation parameters, and the catalog
// locations; `models` and `hyperparams` blocks carry free-form attributes
// whose names the catalog schema absorbs as columns.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// EnvConfigDir overrides the default configuration directory.
const EnvConfigDir = "POLICYLAB_CONFIG_DIR"

// DefaultDir is the configuration directory used when the environment
// does not redirect it.
const DefaultDir = "config"

// Config is the merged result of all loaded run files.
type Config struct {
	// Module names the registered study module to run.
	Module string
	// EvalN is the number of repeated evaluations per condition.
	EvalN int
	// Seed drives the evaluation's pseudo-random draws.
	Seed int64
	// RunID groups this run's artifacts; generated when not configured.
	RunID string
	// ArtifactRoot is the base directory of the content-addressed file
	// tree.
	ArtifactRoot string
	// DBPath locates the catalog database.
	DBPath string
	// ModelFilters selects trained-model records by column value.
	ModelFilters map[string]any
	// Hyperparams carries free-form evaluation hyperparameters.
	Hyperparams map[string]any
}

// Dir returns the configuration directory, honoring the environment
// override.
func Dir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	return DefaultDir
}

// applyDefaults fills the fields a run file may omit.
func (c *Config) applyDefaults() {
	if c.EvalN == 0 {
		c.EvalN = 1
	}
	if c.ArtifactRoot == "" {
		c.ArtifactRoot = "artifacts"
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.ArtifactRoot, "catalog.db")
	}
	if c.RunID == "" {
		c.RunID = time.Now().UTC().Format("20060102-150405")
	}
	if c.ModelFilters == nil {
		c.ModelFilters = make(map[string]any)
	}
	if c.Hyperparams == nil {
		c.Hyperparams = make(map[string]any)
	}
}
