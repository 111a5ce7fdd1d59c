package logging

// Config defines logging behavior, loaded from environment variables at
// daemon startup. Companion has no per-project config file of its own to
// read logging settings from, only the environment-profile file (see
// package config), which logging does not depend on.
type Config struct {
	// Level is the minimum log level to output (e.g., "debug", "info", "warn", "error").
	// Overridden by COMPANION_LOG_LEVEL.
	Level string

	// ReportCaller, if true, includes the file, line, and function name in the log output.
	// Enabled by COMPANION_LOG_CALLER=true.
	ReportCaller bool

	// File configures logging to a file.
	File FileSinkConfig

	// Format configures the appearance of the log output.
	Format FormatConfig
}

// FileSinkConfig configures the file logging sink.
type FileSinkConfig struct {
	Enabled bool
	// Path is the full path to the log file.
	Path string
}

// FormatConfig controls the log output format.
type FormatConfig struct {
	// Preset can be "default" (rich text), "simple" (minimal text), or "json".
	Preset string
	// DisableTimestamp disables the timestamp from the "default" and "simple" formats.
	DisableTimestamp bool
	// DisableComponent disables the component name from the "default" and "simple" formats.
	DisableComponent bool
	// StructuredToStderr controls when structured logs are sent to stderr:
	// "auto" (default), "always", or "never".
	StructuredToStderr string
}

// FromEnv builds a Config purely from environment variables.
func FromEnv() Config {
	return Config{
		Level:        envOr("COMPANION_LOG_LEVEL", "info"),
		ReportCaller: envOr("COMPANION_LOG_CALLER", "") == "true",
		File: FileSinkConfig{
			Enabled: envOr("COMPANION_LOG_FILE", "") != "",
			Path:    envOr("COMPANION_LOG_FILE", ""),
		},
		Format: FormatConfig{
			Preset:             envOr("COMPANION_LOG_FORMAT", "default"),
			StructuredToStderr: envOr("COMPANION_LOG_STDERR", "auto"),
		},
	}
}

func envOr(key, fallback string) string {
	if v, ok := lookupEnv(key); ok {
		return v
	}
	return fallback
}
