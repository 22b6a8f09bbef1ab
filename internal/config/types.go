package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("100ms", "30s"), sizes are human strings
// ("32MB", "512KiB"). Unknown keys are rejected.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
	Processing ProcessingConfig `json:"processing"`
	Pprof      PprofConfig      `json:"pprof,omitempty"`

	// Storage enables the audit log. Nil means disabled.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Report periodically logs an engine summary. Nil means disabled.
	Report *ReportConfig `json:"report,omitempty"`
}

// ServerConfig controls the HTTP API.
//
// Defaults:
//   - addr: "127.0.0.1:8080"
//   - max_upload_size: "32MB"
//   - rate_per_sec: 0 (unlimited)
//   - shutdown_timeout: "10s"
type ServerConfig struct {
	Addr          string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	MaxUploadSize string `json:"max_upload_size,omitempty"`

	// Token bucket applied to every request. 0 disables limiting.
	RatePerSec float64 `json:"rate_per_sec,omitempty" validate:"gte=0"`
	Burst      int     `json:"burst,omitempty" validate:"gte=0"`

	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	IdleTimeout     string `json:"idle_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// ProcessingConfig controls the task engine. It is read once at startup.
//
// Defaults:
//   - max_in_progress: 10
//   - quality: 30
//   - output_dir: $STATIC_FILES_PATH or "static/"
//   - tick_interval: "100ms"
//   - max_pixels: 50000000 (width*height limit for uploads)
type ProcessingConfig struct {
	MaxInProgress int    `json:"max_in_progress,omitempty" validate:"gte=0,lte=4096"`
	Quality       int    `json:"quality,omitempty" validate:"gte=0,lte=100"`
	OutputDir     string `json:"output_dir,omitempty"`
	TickInterval  string `json:"tick_interval,omitempty"`
	MaxPixels     int64  `json:"max_pixels,omitempty" validate:"gte=0"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the audit log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./imagetasks.db", "retention": "168h", "prune_schedule": "@hourly" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"required,oneof=file sqlite"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only

	// Retention bounds how long audit entries are kept (0 keeps everything).
	Retention string `json:"retention,omitempty"`
	// PruneSchedule is a cron spec; defaults to "@hourly" when retention is set.
	PruneSchedule string `json:"prune_schedule,omitempty"`
}

// PprofConfig mounts net/http/pprof on the API router.
//
// Set a token whenever the API listens on a non-loopback address.
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Prefix  string `json:"prefix,omitempty"` // default: "/debug/pprof"
	Token   string `json:"token,omitempty"`  // optional bearer token (do not log)
}

// ReportConfig schedules a periodic summary log line.
type ReportConfig struct {
	Schedule string `json:"schedule" validate:"required"`
	Timezone string `json:"timezone,omitempty"`
}
