// Package cli parses command-line arguments, validates user input, and
// handles process-level concerns like exit codes. It translates CLI flags
// into the application's internal configuration.
package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/policylab/internal/app"
	"github.com/vk/policylab/internal/config"
	"github.com/vk/policylab/internal/figure"
)

// ExitError is an error carrying a specific process exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("policylab", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
policylab - analysis pipeline for trained motor policies.

Usage:
  policylab [options] [MODULE]

Arguments:
  MODULE
    Name of the study module to run. Overrides the run configuration.

Options:
`)
		flagSet.PrintDefaults()
	}

	moduleFlag := flagSet.String("module", "", "Study module to run.")
	configFlag := flagSet.String("config", config.Dir(), "Path to a run file or configuration directory.")
	seedFlag := flagSet.Int64("seed", 0, "Evaluation random seed. Overrides the run configuration.")
	dbPathFlag := flagSet.String("db-path", "", "Catalog database path. Overrides the run configuration.")
	figDumpPathFlag := flagSet.String("fig-dump-path", "", "Directory to additionally dump rendered figures into.")
	figDumpFormatsFlag := flagSet.String("fig-dump-formats", "", "Comma-separated dump formats. Empty means all.")
	cacheDirFlag := flagSet.String("cache-dir", ".policylab-cache", "Evaluation-state cache directory.")
	noCacheReadFlag := flagSet.Bool("no-cache-read", false, "Recompute evaluation states even when cached.")
	noCacheWriteFlag := flagSet.Bool("no-cache-write", false, "Do not write evaluation states to the cache.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	module := *moduleFlag
	if module == "" && flagSet.NArg() > 0 {
		module = flagSet.Arg(0)
	}

	seedSet := false
	flagSet.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			seedSet = true
		}
	})

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	var formats []string
	if *figDumpFormatsFlag != "" {
		supported := make(map[string]bool)
		for _, f := range figure.Formats() {
			supported[f] = true
		}
		for _, f := range strings.Split(*figDumpFormatsFlag, ",") {
			f = strings.TrimSpace(strings.ToLower(f))
			if f == "" {
				continue
			}
			if !supported[f] {
				return nil, false, &ExitError{
					Code:    2,
					Message: fmt.Sprintf("invalid fig-dump-format %q: supported formats are %s", f, strings.Join(figure.Formats(), ", ")),
				}
			}
			formats = append(formats, f)
		}
	}
	slog.Debug("CLI parameter validation complete.")

	return &app.Config{
		Module:         module,
		ConfigPath:     *configFlag,
		Seed:           *seedFlag,
		SeedSet:        seedSet,
		DBPath:         *dbPathFlag,
		FigDumpPath:    *figDumpPathFlag,
		FigDumpFormats: formats,
		CacheDir:       *cacheDirFlag,
		NoCacheRead:    *noCacheReadFlag,
		NoCacheWrite:   *noCacheWriteFlag,
		LogFormat:      logFormat,
		LogLevel:       logLevel,
	}, false, nil
}
