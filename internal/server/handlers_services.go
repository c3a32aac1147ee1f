package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"notitap/internal/host"
	"notitap/internal/util"
)

// handleServiceCall runs a locally registered service with the JSON body as
// its data. An empty body is an empty data map.
func (s *Server) handleServiceCall(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	service := chi.URLParam(r, "service")

	data := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		util.JSONError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if data == nil {
		data = map[string]any{}
	}

	err := s.deps.Services.Call(r.Context(), domain, service, data)

	var verr *host.ValidationError
	switch {
	case err == nil:
		util.WriteJSON(w, http.StatusOK, []any{})
	case errors.As(err, &verr):
		s.logger.Warn("Rejected service call", "domain", domain, "service", service, "error", err)
		util.JSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, host.ErrServiceNotFound):
		util.JSONError(w, err.Error(), http.StatusNotFound)
	default:
		s.logger.Error("Service call failed", "domain", domain, "service", service, "error", err)
		util.JSONError(w, err.Error(), http.StatusBadGateway)
	}
}
