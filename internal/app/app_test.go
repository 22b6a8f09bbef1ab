package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"imagetasks/internal/config"
	"imagetasks/internal/storage"
	"imagetasks/internal/task/engine"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestAppServesUploads(t *testing.T) {
	dir := t.TempDir()
	addr := freeAddr(t)
	cfgPath := writeConfig(t, dir, fmt.Sprintf(`
server:
  addr: %q
logging:
  level: error
  console: true
processing:
  max_in_progress: 2
  output_dir: %q
  tick_interval: 10ms
storage:
  driver: file
  path: %q
  retention: 24h
report:
  schedule: "@hourly"
  timezone: UTC
`, addr, filepath.Join(dir, "static"), filepath.Join(dir, "audit")))

	a, err := NewApp(cfgPath)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stopped := false
	defer func() {
		if !stopped {
			_ = a.Stop(context.Background(), StopAppStop)
		}
	}()

	var img bytes.Buffer
	if err := png.Encode(&img, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("png: %v", err)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "a.png")
	_, _ = fw.Write(img.Bytes())
	_ = mw.Close()

	resp, err := http.Post("http://"+a.Addr()+"/upload?name=first", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	var ids []uuid.UUID
	err = json.NewDecoder(resp.Body).Decode(&ids)
	_ = resp.Body.Close()
	if err != nil || len(ids) != 1 {
		t.Fatalf("ids=%v err=%v", ids, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, ok := a.Engine().Get(ids[0])
		if ok && rec.Status.State == engine.StateCompleted {
			if rec.Status.Err != nil {
				t.Fatalf("task failed: %v", rec.Status.Err)
			}
			if want := filepath.Join(dir, "static", "first.jpg"); rec.Status.Path != want {
				t.Fatalf("path=%q want %q", rec.Status.Path, want)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task did not complete: %+v", rec.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := a.Stop(context.Background(), StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	stopped = true

	// The recorder drained before storage closed.
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "audit")}, a.log)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer st.Close()
	entries, err := st.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	var sawCompleted bool
	for _, e := range entries {
		if e.Event == engine.EventCompleted && e.TaskID == ids[0].String() {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Fatalf("completed event not audited: %+v", entries)
	}
}

func TestNewAppRejectsBadSchedules(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, `
report:
  schedule: "every now and then"
`)
	_, err := NewApp(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "report.schedule") {
		t.Fatalf("expected report.schedule error, got %v", err)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		st      *config.StorageConfig
		enabled bool
		driver  string
		wantErr bool
	}{
		{name: "nil", st: nil},
		{name: "none", st: &config.StorageConfig{Driver: "none"}},
		{name: "file", st: &config.StorageConfig{Driver: "file", Path: "a"}, enabled: true, driver: "file"},
		{name: "sqlite", st: &config.StorageConfig{Driver: "SQLite", Path: "a.db"}, enabled: true, driver: "sqlite"},
		{name: "no path", st: &config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "unknown", st: &config.StorageConfig{Driver: "redis", Path: "x"}, wantErr: true},
	}
	for _, tc := range tests {
		cfg := &config.Config{Storage: tc.st}
		sc, enabled, err := mapStorageConfig(cfg, config.Effective{})
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if enabled != tc.enabled || sc.Driver != tc.driver {
			t.Fatalf("%s: enabled=%v driver=%q", tc.name, enabled, sc.Driver)
		}
		if sc.Driver == "sqlite" && sc.BusyTimeout != defaultBusyTimeout {
			t.Fatalf("%s: busy timeout %v", tc.name, sc.BusyTimeout)
		}
	}
}

func TestMapHTTPConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Pprof: config.PprofConfig{Enabled: true, Token: " tok "}}
	eff, err := config.Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	hc := mapHTTPConfig(cfg, eff)
	if hc.Addr != config.DefaultAddr || hc.MaxUploadSize != config.DefaultMaxUploadSize || hc.MaxPixels != config.DefaultMaxPixels {
		t.Fatalf("unexpected http config: %+v", hc)
	}
	if !hc.Pprof.Enabled || hc.Pprof.Token != "tok" || hc.Pprof.Prefix != config.DefaultPprofPrefix {
		t.Fatalf("unexpected pprof config: %+v", hc.Pprof)
	}
}
