package server

import (
	"net/http"
	"time"

	"notitap/internal/util"
)

type healthResponse struct {
	Version       string             `json:"version"`
	Uptime        string             `json:"uptime"`
	Configured    bool               `json:"configured"`
	Services      []string           `json:"services"`
	HomeAssistant *homeAssistantInfo `json:"homeAssistant,omitempty"`
}

type homeAssistantInfo struct {
	Connected bool   `json:"connected"`
	Version   string `json:"version,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Version:  s.version,
		Uptime:   util.FormatUptime(time.Since(s.startTime)),
		Services: s.deps.Services.List(),
	}

	if s.deps.HomeAssistant != nil {
		resp.HomeAssistant = &homeAssistantInfo{
			Connected: s.deps.HomeAssistant.IsConnected(),
			Version:   s.deps.HomeAssistant.HAVersion(),
		}
	}

	if s.deps.Entries != nil {
		entries, err := s.deps.Entries.List(s.deps.Domain)
		if err != nil {
			util.LogAndError(w, s.logger, "Failed to list config entries", http.StatusInternalServerError, err)
			return
		}
		resp.Configured = len(entries) > 0
	}

	util.WriteJSON(w, http.StatusOK, resp)
}
