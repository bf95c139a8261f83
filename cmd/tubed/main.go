package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/tubed/internal/cmd/client"
	serverrun "github.com/rzbill/tubed/internal/cmd/server"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "tubed",
		Short:         "tubed job queue",
		Long:          "tubed is an in-memory work queue server speaking a simple line protocol. This CLI runs the server and talks to it.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serverrun.NewCommand(version))
	clientcmd.AddCommands(rootCmd)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "tubed:", err)
		cancel()
		os.Exit(1)
	}
}
