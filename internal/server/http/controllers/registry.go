package controllers

import (
	"net/http"

	"github.com/rzbill/tubed/internal/runtime"
	logpkg "github.com/rzbill/tubed/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	general *GeneralController
	stats   *StatsController
	metrics *MetricsController
}

// NewControllerRegistry creates a new controller registry.
func NewControllerRegistry(rt *runtime.Runtime, l logpkg.Logger) *ControllerRegistry {
	return &ControllerRegistry{
		general: NewGeneralController(rt, l),
		stats:   NewStatsController(rt),
		metrics: NewMetricsController(rt, l),
	}
}

// Metrics returns the metrics controller.
func (r *ControllerRegistry) Metrics() *MetricsController { return r.metrics }

// RegisterAllRoutes registers all controller routes with the given mux.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.stats.RegisterRoutes(mux)
	r.metrics.RegisterRoutes(mux)
}
