package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	logx "imagetasks/pkg/logx"
)

// ErrorResponse is the body of every non-domain error.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("failed to encode JSON response", logx.Err(err))
	}
}

// respondError writes a sanitized message. err, when set, is only logged.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	reqID := middleware.GetReqID(r.Context())
	fields := []logx.Field{
		logx.String("req_id", reqID),
		logx.String("method", r.Method),
		logx.String("path", r.URL.Path),
		logx.Int("status", status),
		logx.String("msg", msg),
		logx.Err(err),
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", fields...)
	} else {
		s.log.Debug("request rejected", fields...)
	}
	s.respondJSON(w, status, ErrorResponse{Error: msg, RequestID: reqID})
}
