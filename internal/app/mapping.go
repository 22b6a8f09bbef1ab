package app

import (
	"fmt"
	"strings"
	"time"

	"imagetasks/internal/config"
	"imagetasks/internal/maintenance"
	"imagetasks/internal/storage"
	"imagetasks/internal/task/engine"
	"imagetasks/internal/transport/httpapi"
	logx "imagetasks/pkg/logx"
)

const defaultBusyTimeout = time.Second

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapEngineConfig(eff config.Effective) engine.Config {
	return engine.Config{
		MaxInProgress: eff.MaxInProgress,
		Quality:       eff.Quality,
		OutputDir:     eff.OutputDir,
		TickInterval:  eff.TickInterval,
	}
}

func mapHTTPConfig(cfg *config.Config, eff config.Effective) httpapi.Config {
	return httpapi.Config{
		Addr:          eff.Addr,
		MaxUploadSize: eff.MaxUploadSize,
		MaxPixels:     eff.MaxPixels,
		RatePerSec:    eff.RatePerSec,
		Burst:         eff.Burst,
		ReadTimeout:   eff.ReadTimeout,
		WriteTimeout:  eff.WriteTimeout,
		IdleTimeout:   eff.IdleTimeout,
		Pprof: httpapi.PprofConfig{
			Enabled: cfg.Pprof.Enabled,
			Prefix:  eff.PprofPrefix,
			Token:   strings.TrimSpace(cfg.Pprof.Token),
		},
	}
}

func mapStorageConfig(cfg *config.Config, eff config.Effective) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}

	switch driver {
	case "file":
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		busy := eff.StorageBusyTimeout
		if busy <= 0 {
			busy = defaultBusyTimeout
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// validateSchedules checks cron specs and timezones that the struct tags cannot.
func validateSchedules(cfg *config.Config, eff config.Effective) error {
	if eff.PruneSchedule != "" {
		if err := maintenance.ValidateSpec(eff.PruneSchedule); err != nil {
			return fmt.Errorf("storage.prune_schedule: %w", err)
		}
	}
	if r := cfg.Report; r != nil {
		if err := maintenance.ValidateSpec(r.Schedule); err != nil {
			return fmt.Errorf("report.schedule: %w", err)
		}
		if _, err := maintenance.LoadLocation(r.Timezone); err != nil {
			return fmt.Errorf("report.timezone: invalid %q: %w", r.Timezone, err)
		}
	}
	return nil
}

func reportLocation(cfg *config.Config) *time.Location {
	if cfg.Report == nil {
		return time.Local
	}
	loc, err := maintenance.LoadLocation(cfg.Report.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
