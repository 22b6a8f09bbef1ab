package httpapi

import (
	"context"
	"errors"
	"image"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"imagetasks/internal/eventbus"
	"imagetasks/internal/maintenance"
	rtsup "imagetasks/internal/runtime/supervisor"
	"imagetasks/internal/storage"
	"imagetasks/internal/task/engine"
	logx "imagetasks/pkg/logx"
)

// Tasks is the engine surface used by the handlers.
type Tasks interface {
	Create(opt engine.CreateOptions) uuid.UUID
	Attach(id uuid.UUID, img image.Image) error
	Cancel(id uuid.UUID, err error)
	Admit()
	Get(id uuid.UUID) (engine.Record, bool)
	Remove(id uuid.UUID) bool
	Snapshot() engine.Snapshot
}

// Config controls the listener and request limits.
type Config struct {
	Addr          string
	MaxUploadSize int64

	// MaxPixels bounds width*height of uploaded images. <= 0 uses the imaging default.
	MaxPixels int64

	// RatePerSec <= 0 disables rate limiting.
	RatePerSec float64
	Burst      int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	Pprof PprofConfig
}

// Deps are the collaborators of the API. Only Tasks is required.
type Deps struct {
	Tasks       Tasks
	Bus         eventbus.Bus
	Store       storage.Store
	Maintenance *maintenance.Service
	Log         logx.Logger
}

type Server struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	// sup hosts the serve loop and background decoders.
	sup     *rtsup.Supervisor
	handler http.Handler

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func New(cfg Config, deps Deps) *Server {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "http"))
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 32 << 20
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  log,
		sup: rtsup.NewSupervisor(context.Background(),
			rtsup.WithLogger(log),
			rtsup.WithCancelOnError(false),
		),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the router. Useful for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }


// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if s.cfg.Pprof.Enabled && s.cfg.Pprof.Token == "" && !isLoopbackAddr(ln.Addr().String()) {
		s.log.Warn("pprof exposed without token on non-loopback addr", logx.String("addr", ln.Addr().String()))
	}

	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.srv, s.ln = srv, ln

	s.sup.Go("http.serve", func(ctx context.Context) error {
		err := srv.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	s.log.Info("http api started", logx.String("addr", ln.Addr().String()))
	return nil
}

// Shutdown stops accepting requests, waits for active ones and then for
// pending decoders, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()

	var err error
	if srv != nil {
		if err = srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
		}
	}
	if werr := s.sup.Wait(ctx); werr != nil && err == nil {
		err = werr
	}
	s.sup.Cancel()
	s.log.Info("http api stopped")
	return err
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
