package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/policylab/internal/analysis"
	"github.com/vk/policylab/internal/config"
	"github.com/vk/policylab/internal/ctxlog"
	"github.com/vk/policylab/internal/engine"
	"github.com/vk/policylab/internal/ldict"
	"github.com/vk/policylab/internal/registry"
	"github.com/vk/policylab/internal/store"
)

// Run executes one analysis run: load the run configuration, select the
// study module and model record, record the evaluation, build the input
// trees, and hand the module's analyses to the engine.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	runCfg, err := config.Load(ctx, a.config.ConfigPath)
	if err != nil {
		return fmt.Errorf("load run configuration: %w", err)
	}
	if a.config.Module != "" {
		runCfg.Module = a.config.Module
	}
	if a.config.SeedSet {
		runCfg.Seed = a.config.Seed
	}
	if a.config.DBPath != "" {
		runCfg.DBPath = a.config.DBPath
	}
	if runCfg.Module == "" {
		return fmt.Errorf("no study module selected: pass MODULE or set module in the run block")
	}

	mod, err := a.registry.ModuleByID(runCfg.Module)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(runCfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create catalog directory %s: %w", dir, err)
		}
	}
	st, err := store.Open(runCfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	var modelID *int64
	var baseModel any
	if len(runCfg.ModelFilters) > 0 {
		rec, err := st.GetUniqueModel(ctx, runCfg.ModelFilters)
		if err != nil {
			return fmt.Errorf("select model record: %w", err)
		}
		if rec == nil {
			return fmt.Errorf("no model record matches the configured filters")
		}
		modelID = &rec.ID
		baseModel = rec
		a.logger.Info("Model record selected.", "id", rec.ID, "hash", rec.Hash)
	}

	hps := &analysis.Hyperparams{
		EvalN: runCfg.EvalN,
		Seed:  runCfg.Seed,
		Extra: runCfg.Hyperparams,
	}

	eval, err := st.AddEvaluation(ctx, modelID, runCfg.RunID, hps.Flat(), runCfg.ArtifactRoot)
	if err != nil {
		return err
	}
	a.logger.Info("Evaluation recorded.",
		"id", eval.ID, "hash", eval.Hash, "output_dir", eval.OutputDir)

	eng := engine.New(st, a.registry, engine.Options{
		FigDumpPath:    a.config.FigDumpPath,
		FigDumpFormats: a.config.FigDumpFormats,
		CacheDir:       a.config.CacheDir,
		NoCacheRead:    a.config.NoCacheRead,
		NoCacheWrite:   a.config.NoCacheWrite,
	})

	data, err := a.buildInputData(ctx, eng, mod, hps, modelID, baseModel)
	if err != nil {
		return err
	}

	report, err := eng.Run(ctx, mod, data, eval)
	if err != nil {
		return fmt.Errorf("run module %q: %w", runCfg.Module, err)
	}

	for _, nr := range report.Skipped() {
		a.logger.Info("Node skipped.", "node", nr.Node, "reason", nr.Reason)
	}
	a.logger.Info("Analysis run finished.", "module", runCfg.Module, "figures", report.Figures)
	return nil
}

// buildInputData assembles the four parallel trees for the run. The
// evaluation-state tree is the expensive one and goes through the
// best-effort cache.
func (a *App) buildInputData(
	ctx context.Context,
	eng *engine.Engine,
	mod *registry.StudyModule,
	hps *analysis.Hyperparams,
	modelID *int64,
	baseModel any,
) (analysis.InputData, error) {
	models, tasks, err := mod.Setup(ctx, hps, baseModel, nil)
	if err != nil {
		return analysis.InputData{}, fmt.Errorf("set up module %q: %w", mod.ID, err)
	}

	cache := eng.StateCache()
	states, ok := cache.Load(ctx, mod.ID, modelID, hps)
	if !ok {
		states, err = mod.Eval(ctx, hps.Seed, hps, models, tasks)
		if err != nil {
			return analysis.InputData{}, fmt.Errorf("evaluate module %q: %w", mod.ID, err)
		}
		cache.Save(ctx, mod.ID, modelID, hps, states)
	}

	variants := mod.Variants
	if len(variants) == 0 {
		variants = []string{"main"}
	}
	pairs := make([]ldict.Pair, 0, len(variants))
	for _, v := range variants {
		pairs = append(pairs, ldict.Pair{K: v, V: hps})
	}
	return analysis.InputData{
		Models: models,
		Tasks:  tasks,
		States: states,
		Hps:    ldict.New("variant", pairs...),
	}, nil
}
