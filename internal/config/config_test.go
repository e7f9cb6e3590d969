package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "run.hcl", `
run {
  module        = "plantperts"
  eval_n        = 5
  seed          = 1234
  artifact_root = "out"
}

models {
  train_pert_std = 1.5
  origin         = "paper"
}

hyperparams {
  pert_amps = [0.5, 1.0, 2.0]
  feedback  = true
}
`)

	cfg, err := Load(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "plantperts", cfg.Module)
	assert.Equal(t, 5, cfg.EvalN)
	assert.Equal(t, int64(1234), cfg.Seed)
	assert.Equal(t, "out", cfg.ArtifactRoot)
	assert.Equal(t, filepath.Join("out", "catalog.db"), cfg.DBPath)
	assert.NotEmpty(t, cfg.RunID)

	assert.Equal(t, 1.5, cfg.ModelFilters["train_pert_std"])
	assert.Equal(t, "paper", cfg.ModelFilters["origin"])
	assert.Equal(t, []any{0.5, int64(1), int64(2)}, cfg.Hyperparams["pert_amps"])
	assert.Equal(t, true, cfg.Hyperparams["feedback"])
}

func TestLoadMergesAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a_run.hcl", `
run {
  module = "feedbackperts"
}

hyperparams {
  pert_std = 0.1
}
`)
	writeFile(t, dir, "b_extra.hcl", `
hyperparams {
  pert_std = 0.2
  extra    = "yes"
}
`)

	cfg, err := Load(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "feedbackperts", cfg.Module)
	assert.Equal(t, 1, cfg.EvalN, "eval_n defaults to 1")
	assert.Equal(t, 0.2, cfg.Hyperparams["pert_std"], "later files win")
	assert.Equal(t, "yes", cfg.Hyperparams["extra"])
}

func TestLoadRejectsDuplicateRunBlocks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.hcl", `run { module = "one" }`)
	writeFile(t, dir, "b.hcl", `run { module = "two" }`)

	_, err := Load(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run block defined in both")
}

func TestLoadRequiresRunBlock(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "only.hcl", `hyperparams { a = 1 }`)

	_, err := Load(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no run block")
}

func TestLoadSingleFilePath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "run.hcl", `run { module = "plantperts" }`)

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "plantperts", cfg.Module)
}

func TestDirHonorsEnvOverride(t *testing.T) {
	t.Setenv(EnvConfigDir, "/tmp/policylab-config")
	assert.Equal(t, "/tmp/policylab-config", Dir())

	t.Setenv(EnvConfigDir, "")
	assert.Equal(t, DefaultDir, Dir())
}

func TestFindConfigFilesWalksAndSorts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	writeFile(t, dir, "b.hcl", "")
	writeFile(t, filepath.Join(dir, "sub"), "a.hcl", "")
	writeFile(t, dir, "notes.txt", "ignored")

	files, err := FindConfigFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(dir, "b.hcl"), files[0])
	assert.Equal(t, filepath.Join(dir, "sub", "a.hcl"), files[1])

	single := writeFile(t, dir, "solo.hcl", "")
	files, err = FindConfigFiles(single)
	require.NoError(t, err)
	assert.Equal(t, []string{single}, files)
}
