package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/internal/artifact"
	"github.com/dyluth/patchbay/internal/control"
)

// SessionList is the response of GET /api/sessions.
type SessionList struct {
	Sessions []artifact.Metadata `json:"sessions"`
}

// Neighbors is the response of GET /api/{sha}/neighbors. Empty strings
// mark the ends of the creation order.
type Neighbors struct {
	Previous string `json:"previous"`
	Next     string `json:"next"`
}

// DiagramList is the response of GET /api/{sha}/svg.
type DiagramList struct {
	Files []string `json:"files"`
}

// sessionFiles maps the retrievable files of an entry to their media type.
var sessionFiles = map[string]string{
	artifact.SourceFile:      "text/plain; charset=utf-8",
	artifact.CompiledFile:    "text/plain; charset=utf-8",
	artifact.DiagnosticsFile: "text/plain; charset=utf-8",
	artifact.MetadataFile:    "application/json",
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req control.SubmitRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	res, err := s.svc.Submit(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, apperr.Invalid("limit must be a non-negative integer, got %q", raw))
			return
		}
		limit = n
	}
	respondJSON(w, http.StatusOK, SessionList{Sessions: s.svc.Sessions().List(limit)})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"version": s.svc.Version(r.Context())})
}

func (s *Server) entry(r *http.Request) (*artifact.Entry, error) {
	return s.svc.Sessions().Get(chi.URLParam(r, "sha"))
}

func (s *Server) handleSessionFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "file")
	contentType, ok := sessionFiles[name]
	if !ok {
		respondError(w, apperr.NotFound("unknown session file %q", name))
		return
	}
	e, err := s.entry(r)
	if err != nil {
		respondError(w, err)
		return
	}
	data, err := e.ReadFile(name)
	if err != nil {
		respondError(w, err)
		return
	}
	respondText(w, contentType, data)
}

func (s *Server) handleListDiagrams(w http.ResponseWriter, r *http.Request) {
	e, err := s.entry(r)
	if err != nil {
		respondError(w, err)
		return
	}
	files, err := e.Diagrams()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, DiagramList{Files: files})
}

func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	e, err := s.entry(r)
	if err != nil {
		respondError(w, err)
		return
	}
	data, err := e.Diagram(chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondText(w, "image/svg+xml", data)
}

func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	prev, next, err := s.svc.Sessions().Neighbors(chi.URLParam(r, "sha"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, Neighbors{Previous: prev, Next: next})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "sha")
	ok, err := s.svc.Delete(r.Context(), hash)
	if err != nil {
		respondError(w, err)
		return
	}
	if !ok {
		respondError(w, apperr.NotFound("session %s not found", hash))
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
