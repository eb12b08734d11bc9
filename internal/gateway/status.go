package gateway

import (
	"net/http"
	"time"

	"github.com/flemzord/scout/internal/cron"
	"github.com/flemzord/scout/internal/research"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Version        string                 `json:"version,omitempty"`
	Uptime         int64                  `json:"uptime_seconds"`
	Tasks          map[research.State]int `json:"tasks"`
	PendingReviews int                    `json:"pending_reviews"`
	Schedules      []cron.Status          `json:"schedules,omitempty"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			Version:        g.deps.Version,
			Uptime:         int64(time.Since(g.startedAt).Truncate(time.Second) / time.Second),
			Tasks:          make(map[research.State]int),
			PendingReviews: len(g.deps.Broker.Pending()),
		}
		for _, t := range g.deps.Tasks.List() {
			resp.Tasks[t.State]++
		}
		if g.deps.Schedules != nil {
			resp.Schedules = g.deps.Schedules.Status()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
