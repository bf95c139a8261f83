package client

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/tubed/internal/protocol"
)

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "yaml", "Output format: yaml|json")
}

// dataCommand builds a command that prints the OK body of one request.
func dataCommand(use, short string, args cobra.PositionalArgs, line func(args []string) (string, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := line(args)
			if err != nil {
				return err
			}
			format, _ := cmd.Flags().GetString("output")
			return withClient(cmd, func(ctx context.Context, c *protocol.Client) error {
				body, err := c.Data(ctx, l)
				if err != nil {
					return err
				}
				return printDoc(cmd.OutOrStdout(), body, format)
			})
		},
	}
	addOutputFlag(cmd)
	return cmd
}

func newStatsCommand() *cobra.Command {
	return dataCommand("stats", "Show server statistics", cobra.NoArgs,
		func([]string) (string, error) { return "stats", nil })
}

func newStatsJobCommand() *cobra.Command {
	return dataCommand("stats-job <id>", "Show statistics for one job", cobra.ExactArgs(1),
		func(args []string) (string, error) {
			id, err := parseID(args[0])
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("stats-job %d", id), nil
		})
}

func newStatsTubeCommand() *cobra.Command {
	return dataCommand("stats-tube <tube>", "Show statistics for one tube", cobra.ExactArgs(1),
		func(args []string) (string, error) {
			if !protocol.ValidTubeName(args[0]) {
				return "", fmt.Errorf("invalid tube name %q", args[0])
			}
			return "stats-tube " + args[0], nil
		})
}

func newListTubesCommand() *cobra.Command {
	return dataCommand("list-tubes", "List existing tubes", cobra.NoArgs,
		func([]string) (string, error) { return "list-tubes", nil })
}

// newPauseTubeCommand constructs the `pause-tube` subcommand.
func newPauseTubeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pause-tube <tube> <delay>",
		Short: "Hold back reservations from a tube for delay (e.g. 30s)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delay, err := time.ParseDuration(args[1])
			if err != nil {
				return fmt.Errorf("invalid delay %q: %w", args[1], err)
			}
			return withClient(cmd, func(ctx context.Context, c *protocol.Client) error {
				if err := c.PauseTube(ctx, args[0], delay); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "paused %s for %s\n", args[0], delay)
				return nil
			})
		},
	}
}
