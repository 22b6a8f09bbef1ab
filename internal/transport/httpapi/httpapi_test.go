package httpapi

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"imagetasks/internal/eventbus"
	"imagetasks/internal/storage"
	"imagetasks/internal/task/engine"
	logx "imagetasks/pkg/logx"
)

func newTestEngine(t *testing.T) *engine.Service {
	t.Helper()
	eng := engine.New(engine.Config{
		MaxInProgress: 2,
		OutputDir:     t.TempDir(),
		TickInterval:  10 * time.Millisecond,
	}, logx.Nop(), eventbus.New(), nil)
	eng.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		eng.Stop(ctx)
	})
	return eng
}

func newTestServer(t *testing.T, cfg Config, deps Deps) (*Server, *engine.Service) {
	t.Helper()
	eng := newTestEngine(t)
	if deps.Tasks == nil {
		deps.Tasks = eng
	}
	deps.Log = logx.Nop()
	s := New(cfg, deps)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, eng
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for x := 0; x < 8; x++ {
		for y := 0; y < 6; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 40), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

// pngHeader returns a PNG signature and IHDR chunk declaring w x h RGBA pixels
// with no image data behind it.
func pngHeader(w, h uint32) []byte {
	chunk := make([]byte, 4+13)
	copy(chunk, "IHDR")
	binary.BigEndian.PutUint32(chunk[4:], w)
	binary.BigEndian.PutUint32(chunk[8:], h)
	chunk[12] = 8 // bit depth
	chunk[13] = 6 // truecolor with alpha

	out := []byte("\x89PNG\r\n\x1a\n")
	out = binary.BigEndian.AppendUint32(out, 13)
	out = append(out, chunk...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(chunk))
}

func multipartBody(t *testing.T, files ...[]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for i, data := range files {
		fw, err := mw.CreateFormFile("file", "img"+string(rune('a'+i))+".png")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, h http.Handler, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func upload(t *testing.T, h http.Handler, query string, files ...[]byte) []uuid.UUID {
	t.Helper()
	body, ct := multipartBody(t, files...)
	rec := do(t, h, http.MethodPost, "/upload"+query, body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status=%d body=%s", rec.Code, rec.Body.String())
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(rec.Body.Bytes(), &ids); err != nil {
		t.Fatalf("decode ids: %v (%s)", err, rec.Body.String())
	}
	return ids
}

func pollView(t *testing.T, h http.Handler, id uuid.UUID, want string) engine.View {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec := do(t, h, http.MethodGet, "/tasks/"+id.String(), nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("get status=%d body=%s", rec.Code, rec.Body.String())
		}
		var v engine.View
		if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
			t.Fatalf("decode view: %v", err)
		}
		if v.Status == want {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("task %s stuck in %q, want %q", id, v.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Config{}, Deps{})
	rec := do(t, s.Handler(), http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health: %d %q", rec.Code, rec.Body.String())
	}
}

func TestUploadProcessesEveryPart(t *testing.T) {
	t.Parallel()

	s, eng := newTestServer(t, Config{}, Deps{})
	h := s.Handler()

	ids := upload(t, h, "?name=photo&subfolder=a/b&resize=4x", pngBytes(t), pngBytes(t))
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
	for _, id := range ids {
		v := pollView(t, h, id, engine.LabelCompleted)
		if v.Error != nil {
			t.Fatalf("unexpected error: %+v", v.Error)
		}
		rec, ok := eng.Get(id)
		if !ok {
			t.Fatalf("task %s missing", id)
		}
		if _, err := os.Stat(rec.Status.Path); err != nil {
			t.Fatalf("artifact missing: %v", err)
		}
	}

	first, _ := eng.Get(ids[0])
	second, _ := eng.Get(ids[1])
	if first.Destination.Name != "photo" || second.Destination.Name != "photo_2" {
		t.Fatalf("names: %q %q", first.Destination.Name, second.Destination.Name)
	}
	if !strings.HasSuffix(first.Destination.Dir, "a/b") {
		t.Fatalf("dir=%q", first.Destination.Dir)
	}
}

func TestUploadUndecodableIsCanceled(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Config{}, Deps{})
	h := s.Handler()

	ids := upload(t, h, "", []byte("definitely not an image"))
	v := pollView(t, h, ids[0], engine.LabelError)
	if v.Error == nil || v.Error.Code != engine.CodeCanceled {
		t.Fatalf("expected canceled error info, got %+v", v.Error)
	}
}

func TestUploadOversizedDimensionsIsCanceled(t *testing.T) {
	t.Parallel()

	s, eng := newTestServer(t, Config{}, Deps{})
	h := s.Handler()

	ids := upload(t, h, "", pngHeader(60000, 60000))
	v := pollView(t, h, ids[0], engine.LabelError)
	if v.Error == nil || v.Error.Code != engine.CodeCanceled {
		t.Fatalf("expected canceled error info, got %+v", v.Error)
	}
	if !strings.Contains(v.Error.Msg, "exceed") {
		t.Fatalf("msg=%q", v.Error.Msg)
	}

	// A lower limit applies to images that would otherwise pass.
	s2, _ := newTestServer(t, Config{MaxPixels: 8*6 - 1}, Deps{})
	ids = upload(t, s2.Handler(), "", pngBytes(t))
	pollView(t, s2.Handler(), ids[0], engine.LabelError)

	if snap := eng.Snapshot(); snap.Completed != 0 || snap.Canceled != 1 {
		t.Fatalf("snapshot: %+v", snap)
	}
}

func TestUploadRejectedBodyCreatesNoTasks(t *testing.T) {
	t.Parallel()

	s, eng := newTestServer(t, Config{MaxUploadSize: 64 << 10}, Deps{})
	h := s.Handler()

	body, ct := multipartBody(t, pngBytes(t), bytes.Repeat([]byte{1}, 128<<10))
	rec := do(t, h, http.MethodPost, "/upload", body, ct)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "a.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(pngBytes(t)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.WriteField("", "x"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	rec = do(t, h, http.MethodPost, "/upload", &buf, mw.FormDataContentType())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unnamed part: %d %s", rec.Code, rec.Body.String())
	}

	// Nothing is started in the background either.
	time.Sleep(50 * time.Millisecond)
	if snap := eng.Snapshot(); snap.Tasks != 0 || snap.Created != 0 || snap.Completed != 0 {
		t.Fatalf("rejected uploads left tasks behind: %+v", snap)
	}
}

func TestUploadRejectsBadRequests(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Config{MaxUploadSize: 512}, Deps{})
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/upload", bytes.NewBufferString(`{"x":1}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-multipart: %d", rec.Code)
	}

	body, ct := multipartBody(t, pngBytes(t))
	rec = do(t, h, http.MethodPost, "/upload?resize=big", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad resize: %d", rec.Code)
	}

	body, ct = multipartBody(t, bytes.Repeat([]byte{1}, 4096))
	rec = do(t, h, http.MethodPost, "/upload", body, ct)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized: %d %s", rec.Code, rec.Body.String())
	}
}

func TestGetTaskErrors(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Config{}, Deps{})
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/tasks/not-a-uuid", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed id: %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/tasks/"+uuid.NewString(), nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id: %d", rec.Code)
	}
	var info engine.ErrorInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info != engine.NotFoundInfo() {
		t.Fatalf("unexpected body: %+v", info)
	}
}

func TestCancelAndDelete(t *testing.T) {
	t.Parallel()

	s, eng := newTestServer(t, Config{}, Deps{})
	h := s.Handler()

	id := eng.Create(engine.CreateOptions{})

	rec := do(t, h, http.MethodPost, "/tasks/"+id.String()+"/cancel", nil, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("cancel: %d", rec.Code)
	}
	v := pollView(t, h, id, engine.LabelError)
	if v.Error == nil || v.Error.Msg != errCanceledByClient.Error() {
		t.Fatalf("unexpected error info: %+v", v.Error)
	}

	rec = do(t, h, http.MethodDelete, "/tasks/"+id.String(), nil, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	rec = do(t, h, http.MethodDelete, "/tasks/"+id.String(), nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/tasks/"+id.String()+"/cancel", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cancel after delete: %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Config{RatePerSec: 0.001, Burst: 1}, Deps{})
	h := s.Handler()

	if rec := do(t, h, http.MethodGet, "/stats", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/stats", nil, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
	// Health is outside the limiter.
	if rec := do(t, h, http.MethodGet, "/health", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("health limited: %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	s, eng := newTestServer(t, Config{}, Deps{Bus: bus})
	eng.Create(engine.CreateOptions{})

	rec := do(t, s.Handler(), http.MethodGet, "/stats", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: %d", rec.Code)
	}
	var resp StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Engine.Tasks != 1 || resp.Engine.MaxInProgress != 2 {
		t.Fatalf("unexpected engine snapshot: %+v", resp.Engine)
	}
	if resp.Bus == nil {
		t.Fatalf("bus stats missing")
	}
}

func TestAudit(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Config{}, Deps{})
	if rec := do(t, s.Handler(), http.MethodGet, "/audit", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("audit without store: %d", rec.Code)
	}

	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir() + "/audit"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	for i := 0; i < 3; i++ {
		if err := st.AppendAudit(context.Background(), storage.AuditEntry{At: time.Now(), TaskID: uuid.NewString(), Event: engine.EventCreated}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	s2, _ := newTestServer(t, Config{}, Deps{Store: st})
	h := s2.Handler()
	rec := do(t, h, http.MethodGet, "/audit?limit=2", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("audit: %d %s", rec.Code, rec.Body.String())
	}
	var entries []storage.AuditEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if rec := do(t, h, http.MethodGet, "/audit?limit=-1", nil, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", rec.Code)
	}
}

func TestPprofRequiresToken(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Config{Pprof: PprofConfig{Enabled: true, Prefix: "/dbg/", Token: "s3cret"}}, Deps{})
	h := s.Handler()

	if rec := do(t, h, http.MethodGet, "/dbg/", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("without token: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/dbg/", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with token: %d", rec.Code)
	}

	if rec := do(t, h, http.MethodGet, "/dbg/goroutine?debug=1&token=s3cret", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("named profile: %d", rec.Code)
	}
}

func TestServerStartShutdown(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Config{Addr: "127.0.0.1:0"}, Deps{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
