// Package serverrun exposes a shared Run entrypoint used by the CLI to start
// a tubed instance: the runtime, the job protocol listener and the optional
// HTTP and gRPC admin servers, handling lifecycle, drain and shutdown.
//
// Example:
//
//	cfg := config.Default()
//	cfg.Admin.HTTP = ":8080"
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
