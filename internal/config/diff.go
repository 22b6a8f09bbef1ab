package config

import (
	"reflect"
	"slices"
	"sort"
	"strings"

	logx "imagetasks/pkg/logx"
)

// hotSections are applied without a restart.
var hotSections = []string{"logging"}

// SummarizeConfigChange returns the changed sections and safe structured
// attributes for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)),
			logx.String("server.max_upload_size", newCfg.Server.MaxUploadSize),
			logx.Any("server.rate_per_sec", newCfg.Server.RatePerSec),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Processing != newCfg.Processing {
		changed = append(changed, "processing")
		attrs = append(attrs,
			logx.Int("processing.max_in_progress", newCfg.Processing.MaxInProgress),
			logx.Int("processing.quality", newCfg.Processing.Quality),
			logx.String("processing.output_dir", newCfg.Processing.OutputDir),
			logx.String("processing.tick_interval", newCfg.Processing.TickInterval),
			logx.Int64("processing.max_pixels", newCfg.Processing.MaxPixels),
		)
	}

	if oldCfg.Pprof.Enabled != newCfg.Pprof.Enabled ||
		strings.TrimSpace(oldCfg.Pprof.Prefix) != strings.TrimSpace(newCfg.Pprof.Prefix) ||
		(oldCfg.Pprof.Token != "") != (newCfg.Pprof.Token != "") {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.prefix", strings.TrimSpace(newCfg.Pprof.Prefix)),
			logx.Bool("pprof.token_set", newCfg.Pprof.Token != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if st := newCfg.Storage; st != nil {
			attrs = append(attrs,
				logx.String("storage.driver", st.Driver),
				logx.Bool("storage.path_set", strings.TrimSpace(st.Path) != ""),
				logx.String("storage.retention", st.Retention),
			)
		} else {
			attrs = append(attrs, logx.Bool("storage.enabled", false))
		}
	}

	if !reflect.DeepEqual(oldCfg.Report, newCfg.Report) {
		changed = append(changed, "report")
		if r := newCfg.Report; r != nil {
			attrs = append(attrs, logx.String("report.schedule", r.Schedule))
		}
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired filters changed sections down to those that only take
// effect after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !slices.Contains(hotSections, s) {
			out = append(out, s)
		}
	}
	return out
}
