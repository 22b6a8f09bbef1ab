package engine

import (
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"imagetasks/internal/eventbus"
	logx "imagetasks/pkg/logx"

	"github.com/google/uuid"
)

var errTest = errors.New("test failure")

// gateEncoder records calls and blocks each one until release is closed
// (or forever-free when release is nil).
type gateEncoder struct {
	mu      sync.Mutex
	active  int
	peak    int
	calls   int
	order   []string
	release chan struct{}
	err     error
}

func newGate() *gateEncoder { return &gateEncoder{release: make(chan struct{})} }

func (e *gateEncoder) Encode(ctx context.Context, img image.Image, dir, name string, quality int) (string, error) {
	e.mu.Lock()
	e.active++
	e.calls++
	if e.active > e.peak {
		e.peak = e.active
	}
	e.order = append(e.order, name)
	release := e.release
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if e.err != nil {
		return "", e.err
	}
	return filepath.Join(dir, name+".jpg"), nil
}

func (e *gateEncoder) open() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.release == nil {
		return
	}
	select {
	case <-e.release:
	default:
		close(e.release)
	}
}

func (e *gateEncoder) stats() (active, peak, calls int, order []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active, e.peak, e.calls, append([]string(nil), e.order...)
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	return img
}

func newTestService(t *testing.T, cfg Config, enc Encoder) (*Service, eventbus.Bus) {
	t.Helper()
	if cfg.OutputDir == "" {
		cfg.OutputDir = t.TempDir()
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 10 * time.Millisecond
	}
	bus := eventbus.New()
	s := New(cfg, logx.Nop(), bus, enc)
	s.Start(context.Background())
	t.Cleanup(func() {
		if g, ok := enc.(*gateEncoder); ok {
			g.open()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stateOf(s *Service, id uuid.UUID) State {
	rec, ok := s.Get(id)
	if !ok {
		return State(-1)
	}
	return rec.Status.State
}

func waitState(t *testing.T, s *Service, id uuid.UUID, want State) {
	t.Helper()
	waitFor(t, "task "+id.String()+" to reach "+want.String(), func() bool { return stateOf(s, id) == want })
}
