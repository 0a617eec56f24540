package api

import (
	"net/http"

	"github.com/nerrad567/ccbc-core/internal/bridges/arduino"
)

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status    string        `json:"status"`
	Version   string        `json:"version"`
	Bridge    *bridgeHealth `json:"bridge,omitempty"`
	WSClients int           `json:"ws_clients"`
}

type bridgeHealth struct {
	State string        `json:"state"`
	Stale bool          `json:"stale"`
	Stats arduino.Stats `json:"stats"`
}

// handleHealth reports "ok", or "degraded" when the serial bridge is closed
// or its data is stale. It always answers 200 so dashboards can show why.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Version: s.version}
	if s.hub != nil {
		resp.WSClients = s.hub.ClientCount()
	}
	if s.bridge != nil {
		b := &bridgeHealth{
			State: s.bridge.State().String(),
			Stale: s.bridge.Stale(),
			Stats: s.bridge.Stats(),
		}
		if b.Stale || s.bridge.State() == arduino.StateClosed {
			resp.Status = "degraded"
		}
		resp.Bridge = b
	}
	writeJSON(w, http.StatusOK, resp)
}
