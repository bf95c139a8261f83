package client

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

// grpcAddrFromEnv returns the gRPC admin address from TUBED_GRPC or a default.
func grpcAddrFromEnv() string {
	if addr := os.Getenv("TUBED_GRPC"); addr != "" {
		return addr
	}
	return "127.0.0.1:50051"
}

// withHealthClient provides a health client and ensures the connection is closed.
func withHealthClient(addr string, fn func(healthpb.HealthClient) error) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	return fn(healthpb.NewHealthClient(conn))
}

// newHealthCommand constructs the `health` subcommand. It exits non-zero
// unless the server reports SERVING.
func newHealthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the gRPC health service (requires --admin-grpc on the server)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("grpc")
			service, _ := cmd.Flags().GetString("service")
			ctx, cancel := commandContext(cmd)
			defer cancel()
			return withHealthClient(addr, func(c healthpb.HealthClient) error {
				return checkHealth(ctx, cmd, c, service)
			})
		},
	}
	cmd.Flags().String("grpc", grpcAddrFromEnv(), "gRPC admin address")
	cmd.Flags().String("service", "", "Service name to check (empty for the whole server)")
	return cmd
}

func checkHealth(ctx context.Context, cmd *cobra.Command, c healthpb.HealthClient, service string) error {
	res, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return err
	}
	b, err := protojson.Marshal(res)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	if res.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("server is %s", res.GetStatus())
	}
	return nil
}
