package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays TUBED_* environment variables onto cfg. Unparseable
// values are ignored.
func FromEnv(cfg *Config) {
	if v := os.Getenv("TUBED_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("TUBED_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("TUBED_USER"); v != "" {
		cfg.User = v
	}
	if v := os.Getenv("TUBED_MAX_JOB_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxJobSize = n
		}
	}
	if v := os.Getenv("TUBED_MAX_JOBS_PER_TUBE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxJobsPerTube = n
		}
	}
	if v := os.Getenv("TUBED_MAX_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxJobs = n
		}
	}
	if v := os.Getenv("TUBED_TICK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tick.Duration = d
		}
	}
	if v := os.Getenv("TUBED_ACCEPT_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.AcceptRate = f
		}
	}
	if v := os.Getenv("TUBED_ACCEPT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AcceptBurst = n
		}
	}
	if v := os.Getenv("TUBED_ADMIN_HTTP"); v != "" {
		cfg.Admin.HTTP = v
	}
	if v := os.Getenv("TUBED_ADMIN_GRPC"); v != "" {
		cfg.Admin.GRPC = v
	}
	if v := os.Getenv("TUBED_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TUBED_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("TUBED_LOG_OUTPUT"); v != "" {
		cfg.Log.Output = v
	}
}
