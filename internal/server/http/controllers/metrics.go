package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rzbill/tubed/internal/core"
	"github.com/rzbill/tubed/internal/runtime"
	logpkg "github.com/rzbill/tubed/pkg/log"
)

const collectTimeout = 2 * time.Second

// MetricsController exposes /metrics from a private registry.
type MetricsController struct {
	reg *prometheus.Registry
	log logpkg.Logger
}

// NewMetricsController registers the queue collector plus the Go and process
// collectors.
func NewMetricsController(rt *runtime.Runtime, l logpkg.Logger) *MetricsController {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewQueueCollector(rt),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &MetricsController{reg: reg, log: l}
}

// Registry returns the registry backing /metrics.
func (c *MetricsController) Registry() *prometheus.Registry { return c.reg }

// RegisterRoutes registers /metrics with the given mux.
func (c *MetricsController) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{
		ErrorLog:      logpkg.ToStdLogger(c.log),
		ErrorHandling: promhttp.ContinueOnError,
	}))
}

// QueueCollector turns a runtime snapshot into metrics on every scrape.
type QueueCollector struct {
	rt *runtime.Runtime

	jobs        *prometheus.Desc
	jobsTotal   *prometheus.Desc
	timeouts    *prometheus.Desc
	commands    *prometheus.Desc
	conns       *prometheus.Desc
	connsTotal  *prometheus.Desc
	clients     *prometheus.Desc
	tubes       *prometheus.Desc
	draining    *prometheus.Desc
	uptime      *prometheus.Desc
	tubeJobs    *prometheus.Desc
	tubeTotal   *prometheus.Desc
	tubeWaiting *prometheus.Desc
	tubePaused  *prometheus.Desc
	up          *prometheus.Desc
}

// NewQueueCollector builds a collector over rt.
func NewQueueCollector(rt *runtime.Runtime) *QueueCollector {
	return &QueueCollector{
		rt:          rt,
		jobs:        prometheus.NewDesc("tubed_jobs", "Current jobs by state.", []string{"state"}, nil),
		jobsTotal:   prometheus.NewDesc("tubed_jobs_total", "Jobs created since start.", nil, nil),
		timeouts:    prometheus.NewDesc("tubed_job_timeouts_total", "Reservations that ran past their TTR.", nil, nil),
		commands:    prometheus.NewDesc("tubed_commands_total", "Protocol commands received by name.", []string{"command"}, nil),
		conns:       prometheus.NewDesc("tubed_connections", "Open connections.", nil, nil),
		connsTotal:  prometheus.NewDesc("tubed_connections_total", "Connections accepted since start.", nil, nil),
		clients:     prometheus.NewDesc("tubed_clients", "Open connections by role.", []string{"role"}, nil),
		tubes:       prometheus.NewDesc("tubed_tubes", "Tubes in existence.", nil, nil),
		draining:    prometheus.NewDesc("tubed_draining", "1 while new jobs are refused.", nil, nil),
		uptime:      prometheus.NewDesc("tubed_uptime_seconds", "Seconds since start.", nil, nil),
		tubeJobs:    prometheus.NewDesc("tubed_tube_jobs", "Current jobs by tube and state.", []string{"tube", "state"}, nil),
		tubeTotal:   prometheus.NewDesc("tubed_tube_jobs_total", "Jobs created per tube.", []string{"tube"}, nil),
		tubeWaiting: prometheus.NewDesc("tubed_tube_waiting", "Connections blocked in reserve per tube.", []string{"tube"}, nil),
		tubePaused:  prometheus.NewDesc("tubed_tube_paused", "1 while the tube is paused.", []string{"tube"}, nil),
		up:          prometheus.NewDesc("tubed_up", "1 when the last snapshot succeeded.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.jobs, c.jobsTotal, c.timeouts, c.commands, c.conns, c.connsTotal, c.clients,
		c.tubes, c.draining, c.uptime, c.tubeJobs, c.tubeTotal, c.tubeWaiting, c.tubePaused, c.up,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()
	snap, err := c.rt.Snapshot(ctx)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)

	st := snap.Server
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	gauge(c.jobs, float64(st.CurrentJobsUrgent), "urgent")
	gauge(c.jobs, float64(st.CurrentJobsReady), "ready")
	gauge(c.jobs, float64(st.CurrentJobsReserved), "reserved")
	gauge(c.jobs, float64(st.CurrentJobsDelayed), "delayed")
	gauge(c.jobs, float64(st.CurrentJobsBuried), "buried")
	counter(c.jobsTotal, float64(st.TotalJobs))
	counter(c.timeouts, float64(st.JobTimeouts))
	for name, v := range commandCounts(st) {
		counter(c.commands, float64(v), name)
	}
	gauge(c.conns, float64(st.CurrentConnections))
	counter(c.connsTotal, float64(st.TotalConnections))
	gauge(c.clients, float64(st.CurrentProducers), "producer")
	gauge(c.clients, float64(st.CurrentWorkers), "worker")
	gauge(c.clients, float64(st.CurrentWaiting), "waiting")
	gauge(c.tubes, float64(st.CurrentTubes))
	gauge(c.draining, boolValue(st.Draining))
	gauge(c.uptime, float64(st.Uptime))

	for _, t := range snap.Tubes {
		gauge(c.tubeJobs, float64(t.CurrentJobsUrgent), t.Name, "urgent")
		gauge(c.tubeJobs, float64(t.CurrentJobsReady), t.Name, "ready")
		gauge(c.tubeJobs, float64(t.CurrentJobsReserved), t.Name, "reserved")
		gauge(c.tubeJobs, float64(t.CurrentJobsDelayed), t.Name, "delayed")
		gauge(c.tubeJobs, float64(t.CurrentJobsBuried), t.Name, "buried")
		counter(c.tubeTotal, float64(t.TotalJobs), t.Name)
		gauge(c.tubeWaiting, float64(t.CurrentWaiting), t.Name)
		gauge(c.tubePaused, boolValue(t.PauseTimeLeft > 0), t.Name)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func commandCounts(st core.ServerStats) map[string]uint64 {
	return map[string]uint64{
		"put":                  st.CmdPut,
		"peek":                 st.CmdPeek,
		"peek-ready":           st.CmdPeekReady,
		"peek-delayed":         st.CmdPeekDelayed,
		"peek-buried":          st.CmdPeekBuried,
		"reserve":              st.CmdReserve,
		"reserve-with-timeout": st.CmdReserveWithTimeout,
		"delete":               st.CmdDelete,
		"release":              st.CmdRelease,
		"use":                  st.CmdUse,
		"watch":                st.CmdWatch,
		"ignore":               st.CmdIgnore,
		"bury":                 st.CmdBury,
		"kick":                 st.CmdKick,
		"kick-job":             st.CmdKickJob,
		"touch":                st.CmdTouch,
		"stats":                st.CmdStats,
		"stats-job":            st.CmdStatsJob,
		"stats-tube":           st.CmdStatsTube,
		"list-tubes":           st.CmdListTubes,
		"list-tube-used":       st.CmdListTubeUsed,
		"list-tubes-watched":   st.CmdListTubesWatched,
		"pause-tube":           st.CmdPauseTube,
	}
}
