package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/policylab/internal/store"
)

func writeRunFile(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.hcl"), []byte(content), 0o644))
}

func TestAppRunsFeedbackStudy(t *testing.T) {
	work := t.TempDir()
	cfgDir := filepath.Join(work, "config")
	require.NoError(t, os.Mkdir(cfgDir, 0o755))
	dbPath := filepath.Join(work, "artifacts", "catalog.db")

	writeRunFile(t, cfgDir, `
run {
  module        = "feedbackperts"
  eval_n        = 3
  seed          = 11
  run_id        = "app-test"
  artifact_root = "`+filepath.ToSlash(filepath.Join(work, "artifacts"))+`"
  db_path       = "`+filepath.ToSlash(dbPath)+`"
}
`)

	out := &bytes.Buffer{}
	a := NewApp(out, &Config{
		ConfigPath: cfgDir,
		CacheDir:   filepath.Join(work, "cache"),
		LogLevel:   "error",
		LogFormat:  "text",
	})
	require.NoError(t, a.Run(context.Background()))

	// The run recorded an evaluation and its figures in the catalog.
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	figs, err := st.QueryFigures(context.Background(), 1)
	require.NoError(t, err)
	assert.NotEmpty(t, figs)
	for _, f := range figs {
		assert.FileExists(t, f.FilePath)
	}

	// The evaluation states were cached for the next run.
	entries, err := os.ReadDir(filepath.Join(work, "cache"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestAppRunAgainReusesEvaluation(t *testing.T) {
	work := t.TempDir()
	cfgDir := filepath.Join(work, "config")
	require.NoError(t, os.Mkdir(cfgDir, 0o755))
	dbPath := filepath.Join(work, "catalog.db")

	writeRunFile(t, cfgDir, `
run {
  module        = "feedbackperts"
  eval_n        = 2
  seed          = 3
  run_id        = "repeat-test"
  artifact_root = "`+filepath.ToSlash(work)+`"
  db_path       = "`+filepath.ToSlash(dbPath)+`"
}
`)

	cfg := &Config{
		ConfigPath: cfgDir,
		CacheDir:   filepath.Join(work, "cache"),
		LogLevel:   "error",
		LogFormat:  "text",
	}
	require.NoError(t, NewApp(&bytes.Buffer{}, cfg).Run(context.Background()))
	require.NoError(t, NewApp(&bytes.Buffer{}, cfg).Run(context.Background()))

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	// Identical inputs map to one evaluation; re-run figures replace
	// rather than accumulate.
	figs, err := st.QueryFigures(context.Background(), 1)
	require.NoError(t, err)
	assert.NotEmpty(t, figs)
	seen := map[string]bool{}
	for _, f := range figs {
		assert.False(t, seen[f.Identifier], "figure identifiers stay unique after a re-run")
		seen[f.Identifier] = true
	}
}

func TestAppModulesDoNotShareCachedStates(t *testing.T) {
	work := t.TempDir()
	cacheDir := filepath.Join(work, "cache")

	// Same seed and eval count, same cache directory: each module must
	// still evaluate (or reuse) its own states, not the other's.
	for _, module := range []string{"plantperts", "feedbackperts"} {
		dir := filepath.Join(work, module)
		cfgDir := filepath.Join(dir, "config")
		require.NoError(t, os.MkdirAll(cfgDir, 0o755))
		dbPath := filepath.Join(dir, "catalog.db")

		writeRunFile(t, cfgDir, `
run {
  module        = "`+module+`"
  eval_n        = 1
  seed          = 5
  run_id        = "cache-scope"
  artifact_root = "`+filepath.ToSlash(dir)+`"
  db_path       = "`+filepath.ToSlash(dbPath)+`"
}
`)
		require.NoError(t, NewApp(&bytes.Buffer{}, &Config{
			ConfigPath: cfgDir,
			CacheDir:   cacheDir,
			LogLevel:   "error",
			LogFormat:  "text",
		}).Run(context.Background()))

		st, err := store.Open(dbPath)
		require.NoError(t, err)
		figs, err := st.QueryFigures(context.Background(), 1)
		st.Close()
		require.NoError(t, err)
		assert.NotEmpty(t, figs, "module %s must produce figures from its own states", module)
	}
}

func TestAppRejectsUnknownModule(t *testing.T) {
	work := t.TempDir()
	cfgDir := filepath.Join(work, "config")
	require.NoError(t, os.Mkdir(cfgDir, 0o755))
	writeRunFile(t, cfgDir, `run { module = "nonexistent" }`)

	a := NewApp(&bytes.Buffer{}, &Config{
		ConfigPath: cfgDir,
		CacheDir:   filepath.Join(work, "cache"),
		LogLevel:   "error",
	})
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent")
}
