package handlers

import (
	"net/http"
)

type healthResponse struct {
	Status   string          `json:"status"`
	Backend  string          `json:"backend"`
	Backends map[string]bool `json:"backends"`
}

// Health reports liveness plus which generation backends were wired at boot.
// A missing backend still answers 200; requests routed to it answer 500.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Backend: a.Backend,
		Backends: map[string]bool{
			"renders": a.Renders != nil,
			"reve":    a.Provider != nil,
		},
	})
}
