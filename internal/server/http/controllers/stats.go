package controllers

import (
	"net/http"

	"github.com/rzbill/tubed/internal/core"
	"github.com/rzbill/tubed/internal/runtime"
)

// StatsController serves server and tube statistics as JSON.
type StatsController struct {
	rt *runtime.Runtime
}

// NewStatsController creates a new stats controller.
func NewStatsController(rt *runtime.Runtime) *StatsController {
	return &StatsController{rt: rt}
}

// RegisterRoutes registers stats routes with the given mux.
//
// - /v1/stats returns the full snapshot
// - /v1/tubes lists tubes, or a single one with ?name=
func (c *StatsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/stats", c.handleStats)
	mux.HandleFunc("/v1/tubes", c.handleTubes)
}

func (c *StatsController) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	snap, err := c.rt.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to collect stats")
		return
	}
	writeJSON(w, snap)
}

func (c *StatsController) handleTubes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	snap, err := c.rt.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to collect stats")
		return
	}
	name := r.URL.Query().Get("name")
	resp := tubesResp{Tubes: []core.TubeStats{}}
	for _, t := range snap.Tubes {
		if name != "" && t.Name != name {
			continue
		}
		resp.Tubes = append(resp.Tubes, t)
	}
	if name != "" && len(resp.Tubes) == 0 {
		writeError(w, http.StatusNotFound, "Tube not found")
		return
	}
	writeJSON(w, resp)
}
