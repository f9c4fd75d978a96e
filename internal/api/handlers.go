package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/trajectory-deriver/internal/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDerive(w http.ResponseWriter, r *http.Request) {
	if s.runBatch == nil {
		writeError(w, http.StatusServiceUnavailable, "derivation not configured")
		return
	}
	report, err := s.runBatch(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	opts := storage.ListOptions{
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}
	sessions, err := s.store.ListSessions(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListTurns(r.Context(), chi.URLParam(r, "sessionID"))
	s.writeRows(w, rows, err)
}

func (s *Server) handleListModelSpans(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListModelSpans(r.Context(), chi.URLParam(r, "sessionID"))
	s.writeRows(w, rows, err)
}

func (s *Server) handleListToolIntervals(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListToolIntervals(r.Context(), chi.URLParam(r, "sessionID"))
	s.writeRows(w, rows, err)
}

func (s *Server) handleListErrors(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListErrors(r.Context(), chi.URLParam(r, "sessionID"))
	s.writeRows(w, rows, err)
}

func (s *Server) handleListDiagnostics(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListDiagnostics(r.Context(), chi.URLParam(r, "sessionID"))
	s.writeRows(w, rows, err)
}

func (s *Server) writeRows(w http.ResponseWriter, rows any, err error) {
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return 0
	}
	return v
}
