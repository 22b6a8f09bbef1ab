package config

import "strings"

// Environment overrides. They win over the file so containers can reconfigure
// without editing it.
const (
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogFile         = "LOG_FILE"
	EnvStaticFilesPath = "STATIC_FILES_PATH"
)

// ApplyEnv overlays environment values on cfg. getenv is usually os.Getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil || getenv == nil {
		return
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(getenv(EnvLogFile)); v != "" {
		cfg.Logging.File.Enabled = true
		cfg.Logging.File.Path = v
	}
	if v := strings.TrimSpace(getenv(EnvStaticFilesPath)); v != "" {
		cfg.Processing.OutputDir = v
	}
}
