package serverrun

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rzbill/tubed/internal/config"
)

// NewCommand constructs the `server` command group with its `start`
// subcommand.
func NewCommand(version string) *cobra.Command {
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	startCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the tubed job server",
		Aliases: []string{"run"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd.Flags())
			if err != nil {
				return err
			}
			if err := Run(cmd.Context(), Options{Config: cfg, Version: version}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	def := config.Default()
	f := startCmd.Flags()
	f.String("config", "", "Config file (.yaml, .yml or .json); defaults to $TUBED_CONFIG or ~/.config/tubed/tubed.yaml")
	f.StringP("listen", "l", def.Listen, "Listen address for the job protocol")
	f.IntP("port", "p", def.Port, "Listen port for the job protocol")
	f.StringP("user", "u", "", "Become this user after binding (unix only)")
	f.Int64P("max-job-size", "z", def.MaxJobSize, "Maximum job body size in bytes")
	f.Int("max-jobs-per-tube", 0, "Maximum jobs in one tube's ready or delay queue (0 = unbounded)")
	f.Int("max-jobs", 0, "Maximum jobs held by the server; put replies OUT_OF_MEMORY beyond it (0 = unbounded)")
	f.Duration("tick", def.Tick.Duration, "Timer resolution for delays and reservation deadlines")
	f.Float64("accept-rate", 0, "Maximum new connections per second (0 = unlimited)")
	f.Int("accept-burst", 0, "Burst allowed above --accept-rate")
	f.String("admin-http", "", "HTTP admin listen address (empty disables)")
	f.String("admin-grpc", "", "gRPC health listen address (empty disables)")
	f.String("log-level", "", "Log level: debug|info|warn|error")
	f.String("log-format", "", "Log format: text|json (default text)")
	f.String("log-output", "", "Log output: stderr|null|<file path>")
	serverCmd.AddCommand(startCmd)
	return serverCmd
}

// buildConfig layers defaults, the config file, TUBED_* variables and
// explicitly set flags, in that order.
func buildConfig(f *pflag.FlagSet) (config.Config, error) {
	path, _ := f.GetString("config")
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	config.FromEnv(&cfg)

	if f.Changed("listen") {
		cfg.Listen, _ = f.GetString("listen")
	}
	if f.Changed("port") {
		cfg.Port, _ = f.GetInt("port")
	}
	if f.Changed("user") {
		cfg.User, _ = f.GetString("user")
	}
	if f.Changed("max-job-size") {
		cfg.MaxJobSize, _ = f.GetInt64("max-job-size")
	}
	if f.Changed("max-jobs-per-tube") {
		cfg.MaxJobsPerTube, _ = f.GetInt("max-jobs-per-tube")
	}
	if f.Changed("max-jobs") {
		cfg.MaxJobs, _ = f.GetInt("max-jobs")
	}
	if f.Changed("tick") {
		var d time.Duration
		d, _ = f.GetDuration("tick")
		cfg.Tick = config.Duration{Duration: d}
	}
	if f.Changed("accept-rate") {
		cfg.AcceptRate, _ = f.GetFloat64("accept-rate")
	}
	if f.Changed("accept-burst") {
		cfg.AcceptBurst, _ = f.GetInt("accept-burst")
	}
	if f.Changed("admin-http") {
		cfg.Admin.HTTP, _ = f.GetString("admin-http")
	}
	if f.Changed("admin-grpc") {
		cfg.Admin.GRPC, _ = f.GetString("admin-grpc")
	}
	if f.Changed("log-level") {
		cfg.Log.Level, _ = f.GetString("log-level")
	}
	if f.Changed("log-format") {
		cfg.Log.Format, _ = f.GetString("log-format")
	}
	if f.Changed("log-output") {
		cfg.Log.Output, _ = f.GetString("log-output")
	}
	return cfg, cfg.Validate()
}
