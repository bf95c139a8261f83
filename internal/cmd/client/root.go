package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command holding only the client commands.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "tubed",
		Short:         "tubed client commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	AddCommands(root)
	return root
}

// AddCommands registers the client commands and the --addr flag on root.
func AddCommands(root *cobra.Command) {
	root.PersistentFlags().String("addr", addrFromEnv(), "Server address (host:port)")
	root.PersistentFlags().Duration("timeout", defaultTimeout, "Timeout for a single command")
	root.AddCommand(
		newPutCommand(),
		newReserveCommand(),
		newDeleteCommand(),
		newKickCommand(),
		newKickJobCommand(),
		newPeekCommand(),
		newStatsCommand(),
		newStatsJobCommand(),
		newStatsTubeCommand(),
		newListTubesCommand(),
		newPauseTubeCommand(),
		newHealthCommand(),
	)
}
