// Package grpcserver hosts the gRPC admin endpoint for tubed. It serves the
// standard grpc.health.v1 service backed by the runtime's health check, so a
// draining instance reports NOT_SERVING, plus server reflection.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{Config: config.Default()})
//	s := grpcserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":50051")
package grpcserver
