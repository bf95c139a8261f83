package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rzbill/tubed/internal/runtime"
	logpkg "github.com/rzbill/tubed/pkg/log"
)

// GeneralController handles instance-wide endpoints: health and drain mode.
type GeneralController struct {
	rt  *runtime.Runtime
	log logpkg.Logger
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime, l logpkg.Logger) *GeneralController {
	return &GeneralController{rt: rt, log: l}
}

// RegisterRoutes registers general routes with the given mux.
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/healthz", c.handleHealth)
	mux.HandleFunc("/v1/drain", c.handleDrain)
}

// handleHealth returns 200 {"status":"ok"} while the loop is responsive and
// accepting jobs, 503 otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		status := "not_serving"
		if errors.Is(err, runtime.ErrDraining) {
			status = "draining"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleDrain reports drain mode on GET and sets it on POST.
func (c *GeneralController) handleDrain(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, drainResp{Draining: c.rt.Draining()})
	case http.MethodPost:
		var req drainReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := c.rt.SetDraining(r.Context(), req.Draining); err != nil {
			c.log.Error("set drain mode", logpkg.Err(err))
			writeError(w, http.StatusServiceUnavailable, "Failed to set drain mode")
			return
		}
		writeJSON(w, drainResp{Draining: req.Draining})
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
