package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/tubed/internal/protocol"
)

// newPutCommand constructs the `put` subcommand.
func newPutCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Insert a job (body from --data, --file or stdin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tube, _ := cmd.Flags().GetString("tube")
			pri, _ := cmd.Flags().GetUint32("pri")
			delay, _ := cmd.Flags().GetDuration("delay")
			ttr, _ := cmd.Flags().GetDuration("ttr")
			body, err := readBody(cmd)
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, c *protocol.Client) error {
				if tube != "" {
					if err := c.Use(ctx, tube); err != nil {
						return err
					}
				}
				id, err := c.Put(ctx, pri, delay, ttr, body)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "inserted %d\n", id)
				return nil
			})
		},
	}
	cmd.Flags().String("tube", "", "Tube to put into (default tube when empty)")
	cmd.Flags().Uint32("pri", 0, "Priority; lower is more urgent")
	cmd.Flags().Duration("delay", 0, "Delay before the job becomes ready")
	cmd.Flags().Duration("ttr", time.Minute, "Time to run once reserved")
	cmd.Flags().String("data", "", "Job body")
	cmd.Flags().String("file", "", "Read the job body from a file")
	return cmd
}

func readBody(cmd *cobra.Command) ([]byte, error) {
	data, _ := cmd.Flags().GetString("data")
	file, _ := cmd.Flags().GetString("file")
	switch {
	case cmd.Flags().Changed("data") && file != "":
		return nil, errors.New("use only one of --data and --file")
	case cmd.Flags().Changed("data"):
		return []byte(data), nil
	case file != "":
		return os.ReadFile(file)
	default:
		return io.ReadAll(cmd.InOrStdin())
	}
}

// newReserveCommand constructs the `reserve` subcommand.
func newReserveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reserve",
		Short: "Reserve a job and optionally delete, release, bury or touch it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			watch, _ := cmd.Flags().GetStringSlice("watch")
			wait := time.Duration(-1)
			if cmd.Flags().Changed("wait") {
				wait, _ = cmd.Flags().GetDuration("wait")
			}
			then, _ := cmd.Flags().GetString("then")
			pri, _ := cmd.Flags().GetUint32("pri")
			delay, _ := cmd.Flags().GetDuration("delay")
			switch then {
			case "none", "delete", "release", "bury", "touch":
			default:
				return fmt.Errorf("invalid --then %q; use none|delete|release|bury|touch", then)
			}
			return withClient(cmd, func(ctx context.Context, c *protocol.Client) error {
				if err := watchOnly(ctx, c, watch); err != nil {
					return err
				}
				id, body, err := c.Reserve(ctx, wait)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printJob(out, id, body)
				switch then {
				case "delete":
					err = c.Delete(ctx, id)
				case "release":
					err = c.Release(ctx, id, pri, delay)
				case "bury":
					err = c.Bury(ctx, id, pri)
				case "touch":
					err = c.Touch(ctx, id)
				default:
					return nil
				}
				if err != nil {
					return fmt.Errorf("%s %d: %w", then, id, err)
				}
				fmt.Fprintf(out, "%s %d\n", then, id)
				return nil
			})
		},
	}
	cmd.Flags().StringSlice("watch", nil, "Tubes to watch instead of the default tube")
	cmd.Flags().Duration("wait", 0, "Give up after this long (blocks indefinitely when unset)")
	cmd.Flags().String("then", "none", "Follow-up on the reserved job: none|delete|release|bury|touch")
	cmd.Flags().Uint32("pri", 0, "Priority for --then release|bury")
	cmd.Flags().Duration("delay", 0, "Delay for --then release")
	return cmd
}

// watchOnly makes tubes the exact watch list. An empty list keeps the
// default tube.
func watchOnly(ctx context.Context, c *protocol.Client, tubes []string) error {
	if len(tubes) == 0 {
		return nil
	}
	keepDefault := false
	for _, t := range tubes {
		if t == "default" {
			keepDefault = true
		}
		if _, err := c.Watch(ctx, t); err != nil {
			return fmt.Errorf("watch %s: %w", t, err)
		}
	}
	if !keepDefault {
		if _, err := c.Ignore(ctx, "default"); err != nil {
			return fmt.Errorf("ignore default: %w", err)
		}
	}
	return nil
}

// newDeleteCommand constructs the `delete` subcommand.
func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a ready, buried or delayed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, c *protocol.Client) error {
				if err := c.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d\n", id)
				return nil
			})
		},
	}
}

// newKickCommand constructs the `kick` subcommand.
func newKickCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kick <bound>",
		Short: "Move up to bound buried (or else delayed) jobs to ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bound, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid bound %q", args[0])
			}
			tube, _ := cmd.Flags().GetString("tube")
			return withClient(cmd, func(ctx context.Context, c *protocol.Client) error {
				if tube != "" {
					if err := c.Use(ctx, tube); err != nil {
						return err
					}
				}
				n, err := c.Kick(ctx, uint32(bound))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "kicked %d\n", n)
				return nil
			})
		},
	}
	cmd.Flags().String("tube", "", "Tube to kick (default tube when empty)")
	return cmd
}

// newKickJobCommand constructs the `kick-job` subcommand.
func newKickJobCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "kick-job <id>",
		Short: "Move one buried or delayed job to ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, c *protocol.Client) error {
				if err := c.KickJob(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "kicked %d\n", id)
				return nil
			})
		},
	}
}

// newPeekCommand constructs the `peek` subcommand.
func newPeekCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peek [id]",
		Short: "Show a job by id, or the next ready, delayed or buried job of a tube",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ready, _ := cmd.Flags().GetBool("ready")
			delayed, _ := cmd.Flags().GetBool("delayed")
			buried, _ := cmd.Flags().GetBool("buried")
			tube, _ := cmd.Flags().GetString("tube")

			var line string
			picked := 0
			for _, b := range []bool{ready, delayed, buried} {
				if b {
					picked++
				}
			}
			switch {
			case len(args) == 1 && picked == 0:
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				line = "peek " + strconv.FormatUint(id, 10)
			case len(args) == 0 && picked == 1:
				switch {
				case ready:
					line = "peek-ready"
				case delayed:
					line = "peek-delayed"
				default:
					line = "peek-buried"
				}
			default:
				return errors.New("give a job id or exactly one of --ready, --delayed, --buried")
			}
			return withClient(cmd, func(ctx context.Context, c *protocol.Client) error {
				if tube != "" && len(args) == 0 {
					if err := c.Use(ctx, tube); err != nil {
						return err
					}
				}
				id, body, err := c.Peek(ctx, line)
				if err != nil {
					return err
				}
				printJob(cmd.OutOrStdout(), id, body)
				return nil
			})
		},
	}
	cmd.Flags().Bool("ready", false, "Peek the next ready job")
	cmd.Flags().Bool("delayed", false, "Peek the delayed job with the nearest deadline")
	cmd.Flags().Bool("buried", false, "Peek the oldest buried job")
	cmd.Flags().String("tube", "", "Tube for --ready/--delayed/--buried (default tube when empty)")
	return cmd
}
