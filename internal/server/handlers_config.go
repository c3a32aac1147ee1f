package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"notitap/internal/configflow"
	"notitap/internal/entry"
	"notitap/internal/util"
)

type startFlowRequest struct {
	Handler string `json:"handler"`
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	util.WriteJSON(w, http.StatusOK, s.deps.Flows.InProgress())
}

func (s *Server) handleStartFlow(w http.ResponseWriter, r *http.Request) {
	var req startFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.JSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Handler == "" {
		util.JSONError(w, "handler is required", http.StatusBadRequest)
		return
	}

	res, err := s.deps.Flows.Init(req.Handler)
	s.writeFlowResult(w, res, err)
}

func (s *Server) handleConfigureFlow(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")

	input := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil && !errors.Is(err, io.EOF) {
		util.JSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.deps.Flows.Configure(flowID, input)
	s.writeFlowResult(w, res, err)
}

func (s *Server) handleAbortFlow(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Flows.Abort(chi.URLParam(r, "flowID")); err != nil {
		util.JSONError(w, "Flow not found", http.StatusNotFound)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

func (s *Server) writeFlowResult(w http.ResponseWriter, res configflow.Result, err error) {
	switch {
	case err == nil:
		util.WriteJSON(w, http.StatusOK, res)
	case errors.Is(err, configflow.ErrUnknownHandler):
		util.JSONError(w, "Invalid handler specified", http.StatusNotFound)
	case errors.Is(err, configflow.ErrUnknownFlow):
		util.JSONError(w, "Flow not found", http.StatusNotFound)
	case errors.Is(err, configflow.ErrUnknownStep):
		util.JSONError(w, err.Error(), http.StatusBadRequest)
	default:
		util.LogAndError(w, s.logger, "Config flow failed", http.StatusInternalServerError, err)
	}
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Entries.List(r.URL.Query().Get("domain"))
	if err != nil {
		util.LogAndError(w, s.logger, "Failed to list config entries", http.StatusInternalServerError, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, entries)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")

	if err := s.deps.Entries.Remove(entryID); err != nil {
		if errors.Is(err, entry.ErrNotFound) {
			util.JSONError(w, "Invalid entry specified", http.StatusNotFound)
			return
		}
		util.LogAndError(w, s.logger, "Failed to remove config entry", http.StatusInternalServerError, err)
		return
	}

	s.logger.Info("Removed config entry", "entryID", entryID)
	util.WriteJSON(w, http.StatusOK, map[string]bool{"require_restart": false})
}
