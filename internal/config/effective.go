package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultAddr            = "127.0.0.1:8080"
	DefaultMaxUploadSize   = 32 << 20
	DefaultShutdownTimeout = 10 * time.Second
	DefaultOutputDir       = "static/"
	DefaultPprofPrefix     = "/debug/pprof"
	DefaultPruneSchedule   = "@hourly"
	DefaultMaxPixels       = 50_000_000
)

var validate = validator.New()

// Effective is Config with defaults applied and every string field parsed.
type Effective struct {
	Addr            string
	MaxUploadSize   int64
	RatePerSec      float64
	Burst           int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	MaxInProgress int
	Quality       int
	OutputDir     string
	TickInterval  time.Duration
	MaxPixels     int64

	StorageBusyTimeout time.Duration
	Retention          time.Duration
	PruneSchedule      string

	PprofPrefix string
}

// Validate checks struct tags and that every duration and size parses.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	_, err := Resolve(cfg)
	return err
}

// Resolve applies defaults. Zero engine values are left for the engine to default.
func Resolve(cfg *Config) (Effective, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	var (
		e   Effective
		err error
	)
	s := cfg.Server
	e.Addr = strings.TrimSpace(s.Addr)
	if e.Addr == "" {
		e.Addr = DefaultAddr
	}
	if e.MaxUploadSize, err = ParseSizeOrDefault("server.max_upload_size", s.MaxUploadSize, DefaultMaxUploadSize); err != nil {
		return Effective{}, err
	}
	e.RatePerSec = s.RatePerSec
	e.Burst = s.Burst
	if e.RatePerSec > 0 && e.Burst <= 0 {
		e.Burst = max(1, int(e.RatePerSec))
	}
	if e.ReadTimeout, err = ParseDurationField("server.read_timeout", s.ReadTimeout); err != nil {
		return Effective{}, err
	}
	if e.WriteTimeout, err = ParseDurationField("server.write_timeout", s.WriteTimeout); err != nil {
		return Effective{}, err
	}
	if e.IdleTimeout, err = ParseDurationField("server.idle_timeout", s.IdleTimeout); err != nil {
		return Effective{}, err
	}
	if e.ShutdownTimeout, err = ParseDurationOrDefault("server.shutdown_timeout", s.ShutdownTimeout, DefaultShutdownTimeout); err != nil {
		return Effective{}, err
	}

	p := cfg.Processing
	e.MaxInProgress = p.MaxInProgress
	e.Quality = p.Quality
	e.OutputDir = strings.TrimSpace(p.OutputDir)
	if e.OutputDir == "" {
		e.OutputDir = DefaultOutputDir
	}
	if e.TickInterval, err = ParseDurationField("processing.tick_interval", p.TickInterval); err != nil {
		return Effective{}, err
	}
	e.MaxPixels = p.MaxPixels
	if e.MaxPixels == 0 {
		e.MaxPixels = DefaultMaxPixels
	}

	if st := cfg.Storage; st != nil {
		if e.StorageBusyTimeout, err = ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			return Effective{}, err
		}
		if e.Retention, err = ParseDurationField("storage.retention", st.Retention); err != nil {
			return Effective{}, err
		}
		e.PruneSchedule = strings.TrimSpace(st.PruneSchedule)
		if e.PruneSchedule == "" && e.Retention > 0 {
			e.PruneSchedule = DefaultPruneSchedule
		}
	}

	e.PprofPrefix = "/" + strings.Trim(strings.TrimSpace(cfg.Pprof.Prefix), "/")
	if e.PprofPrefix == "/" {
		e.PprofPrefix = DefaultPprofPrefix
	}
	return e, nil
}
