package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CZERTAINLY/jobcast/internal/model"
)

type errorResponse struct {
	Error string `json:"error"`
}

func jobType(r *http.Request) model.JobType {
	return model.JobType(chi.URLParam(r, "type"))
}

func (s *Server) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.List())
}

// launch starts the configured job or attaches to the running one.
func (s *Server) launch(w http.ResponseWriter, r *http.Request) {
	job, err := s.reg.Launch(r.Context(), jobType(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job.Status())
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.reg.Status(jobType(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// cancel only requests the termination, the outcome is reported by the
// job events.
func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	typ := jobType(r)
	if err := s.reg.Cancel(typ); err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.reg.Status(typ)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrUnknownJobType):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrRegistryClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
