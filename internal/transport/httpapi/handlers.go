package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"imagetasks/internal/eventbus"
	"imagetasks/internal/imaging"
	"imagetasks/internal/maintenance"
	rtsup "imagetasks/internal/runtime/supervisor"
	"imagetasks/internal/storage"
	"imagetasks/internal/task/engine"
	logx "imagetasks/pkg/logx"
)

// errCanceledByClient is the reason recorded for POST /tasks/{id}/cancel.
var errCanceledByClient = errors.New("canceled by client")

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		s.log.Debug("health write failed", logx.Err(err))
	}
}

// handleUpload creates one task per multipart file part. The whole body is
// read before the first task is created; decoding happens in the background
// and ends in Attach (and admission) or Cancel with the decode error.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chain, err := imaging.ParseTransforms(q)
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err.Error(), err)
		return
	}
	var transform engine.Transform
	if len(chain) > 0 {
		transform = chain
	}
	name := q.Get("name")
	subfolder := q.Get("subfolder")

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
	mr, err := r.MultipartReader()
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, "request is not multipart/form-data", err)
		return
	}

	// Every part is read before any task is created so a rejected body
	// leaves nothing behind.
	var parts [][]byte
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.respondReadError(w, r, err)
			return
		}
		if part.FormName() == "" {
			_ = part.Close()
			s.respondError(w, r, http.StatusBadRequest, "content type is not form data", nil)
			return
		}
		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			s.respondReadError(w, r, err)
			return
		}
		parts = append(parts, data)
	}

	ids := make([]uuid.UUID, 0, len(parts))
	for i, data := range parts {
		id := s.deps.Tasks.Create(engine.CreateOptions{
			Name:      partName(name, i),
			Subfolder: subfolder,
			Transform: transform,
		})
		ids = append(ids, id)
		s.decodeAsync(id, data)
	}

	s.log.Info("upload accepted",
		logx.String("req_id", middleware.GetReqID(r.Context())),
		logx.Int("tasks", len(ids)),
		logx.Stringer("transform", chain),
	)
	s.respondJSON(w, http.StatusOK, ids)
}

func (s *Server) respondReadError(w http.ResponseWriter, r *http.Request, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		s.respondError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", mbe.Limit), err)
		return
	}
	s.respondError(w, r, http.StatusBadRequest, "malformed multipart body", err)
}

// partName keeps an explicit name unique across parts of one upload.
func partName(name string, i int) string {
	if name == "" || i == 0 {
		return name
	}
	return name + "_" + strconv.Itoa(i+1)
}

func (s *Server) decodeAsync(id uuid.UUID, data []byte) {
	s.sup.Go("decode", func(context.Context) error {
		img, format, err := imaging.Decode(data, s.cfg.MaxPixels)
		if err != nil {
			s.log.Debug("decode failed", logx.Stringer("task", id), logx.Err(err))
			s.deps.Tasks.Cancel(id, err)
			return nil
		}
		if err := s.deps.Tasks.Attach(id, img); err != nil {
			// Removed while decoding.
			s.log.Debug("attach failed", logx.Stringer("task", id), logx.Err(err))
			return nil
		}
		s.log.Trace("image attached", logx.Stringer("task", id), logx.String("format", format))
		s.deps.Tasks.Admit()
		return nil
	})
}

func (s *Server) taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid task id", err)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	rec, ok := s.deps.Tasks.Get(id)
	if !ok {
		s.respondJSON(w, http.StatusNotFound, engine.NotFoundInfo())
		return
	}
	s.respondJSON(w, http.StatusOK, engine.NewView(rec))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	if !s.deps.Tasks.Remove(id) {
		s.respondJSON(w, http.StatusNotFound, engine.NotFoundInfo())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	if _, ok := s.deps.Tasks.Get(id); !ok {
		s.respondJSON(w, http.StatusNotFound, engine.NotFoundInfo())
		return
	}
	s.deps.Tasks.Cancel(id, errCanceledByClient)
	w.WriteHeader(http.StatusAccepted)
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Engine      engine.Snapshot        `json:"engine"`
	Bus         *eventbus.Stats        `json:"bus,omitempty"`
	HTTP        rtsup.Snapshot         `json:"http"`
	Maintenance []maintenance.JobStats `json:"maintenance,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Engine: s.deps.Tasks.Snapshot(),
		HTTP:   s.sup.Snapshot(),
	}
	if s.deps.Bus != nil {
		st := s.deps.Bus.Stats()
		resp.Bus = &st
	}
	if s.deps.Maintenance != nil {
		resp.Maintenance = s.deps.Maintenance.Snapshot()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		s.respondError(w, r, http.StatusNotFound, "audit log is disabled", storage.ErrDisabled)
		return
	}
	limit := storage.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.respondError(w, r, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}
	entries, err := s.deps.Store.Recent(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, "failed to read audit log", err)
		return
	}
	if entries == nil {
		entries = []storage.AuditEntry{}
	}
	s.respondJSON(w, http.StatusOK, entries)
}
