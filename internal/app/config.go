package app

// Config holds the process-level settings the CLI resolves before the
// application starts. Run-file settings live in internal/config; fields
// here either locate that configuration or override it.
type Config struct {
	// Module overrides the run file's module selection when non-empty.
	Module string
	// ConfigPath is the run file or configuration directory.
	ConfigPath string
	// Seed overrides the run file's seed when SeedSet is true.
	Seed    int64
	SeedSet bool
	// DBPath overrides the run file's catalog location when non-empty.
	DBPath string

	FigDumpPath    string
	FigDumpFormats []string
	CacheDir       string
	NoCacheRead    bool
	NoCacheWrite   bool

	LogFormat string
	LogLevel  string
}
