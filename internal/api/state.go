package api

import (
	"encoding/json"
	"net/http"

	"github.com/dyluth/patchbay/internal/control"
	"github.com/dyluth/patchbay/pkg/blackboard"
)

// Run-control request and response bodies.
type (
	ParamRequest struct {
		Path  string  `json:"path"`
		Value float64 `json:"value"`
	}
	ParamResponse struct {
		Hash  string  `json:"sha1"`
		Path  string  `json:"path"`
		Value float64 `json:"value"`
	}
	TransportRequest struct {
		Action blackboard.TransportAction `json:"action"`
	}
	TransportResponse struct {
		Hash      string                       `json:"sha1"`
		Transport *blackboard.TransportCommand `json:"runTransport"`
	}
	TriggerRequest struct {
		Path   string `json:"path"`
		HoldMs int    `json:"holdMs,omitempty"`
	}
	TriggerResponse struct {
		Hash    string                     `json:"sha1"`
		Trigger *blackboard.TriggerCommand `json:"runTrigger"`
	}
	NoteResponse struct {
		Hash string                  `json:"sha1"`
		Note *blackboard.NoteCommand `json:"runMidi"`
	}
	UIResponse struct {
		Hash string          `json:"sha1"`
		UI   json.RawMessage `json:"ui"`
	}
	ParamsResponse struct {
		Hash   string             `json:"sha1"`
		Params map[string]float64 `json:"params"`
	}
	PolyphonyBody struct {
		Hash   string `json:"sha1,omitempty"`
		Voices int    `json:"voices"`
	}
)

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.State(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, r, doc)
}

func (s *Server) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	var p blackboard.Partial
	if err := decodeBody(w, r, &p); err != nil {
		respondError(w, err)
		return
	}
	doc, err := s.svc.UpdateState(r.Context(), &p)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, r, doc)
}

func (s *Server) handleRunUI(w http.ResponseWriter, r *http.Request) {
	hash, ui, err := s.svc.UI(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, UIResponse{Hash: hash, UI: ui})
}

func (s *Server) handleRunParams(w http.ResponseWriter, r *http.Request) {
	hash, params, err := s.svc.Params(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ParamsResponse{Hash: hash, Params: params})
}

func (s *Server) handleRunParam(w http.ResponseWriter, r *http.Request) {
	var req ParamRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	doc, err := s.svc.SetParam(r.Context(), req.Path, req.Value)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ParamResponse{Hash: doc.ActiveHash(), Path: req.Path, Value: doc.Params[req.Path]})
}

func (s *Server) handleRunTransport(w http.ResponseWriter, r *http.Request) {
	var req TransportRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	doc, err := s.svc.Transport(r.Context(), req.Action)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, TransportResponse{Hash: doc.ActiveHash(), Transport: doc.Transport})
}

func (s *Server) handleRunTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	doc, err := s.svc.Trigger(r.Context(), req.Path, req.HoldMs)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, TriggerResponse{Hash: doc.ActiveHash(), Trigger: doc.Trigger})
}

func (s *Server) handleRunMidi(w http.ResponseWriter, r *http.Request) {
	var req control.NoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	doc, err := s.svc.Note(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, NoteResponse{Hash: doc.ActiveHash(), Note: doc.Note})
}

func (s *Server) handleGetPolyphony(w http.ResponseWriter, r *http.Request) {
	hash, voices, err := s.svc.Polyphony(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, PolyphonyBody{Hash: hash, Voices: voices})
}

func (s *Server) handleSetPolyphony(w http.ResponseWriter, r *http.Request) {
	var req PolyphonyBody
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	doc, err := s.svc.SetPolyphony(r.Context(), req.Voices)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, PolyphonyBody{Hash: doc.ActiveHash(), Voices: doc.Voices})
}
