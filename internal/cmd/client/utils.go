package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rzbill/tubed/internal/protocol"
	"github.com/rzbill/tubed/pkg/id"
)

const (
	defaultAddr    = "127.0.0.1:11300"
	defaultTimeout = 10 * time.Second
)

// addrFromEnv returns the server address from TUBED_ADDR or a default.
func addrFromEnv() string {
	if addr := os.Getenv("TUBED_ADDR"); addr != "" {
		return addr
	}
	return defaultAddr
}

// commandContext derives the per-command context from --timeout. A zero
// timeout means no deadline.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	d, _ := cmd.Flags().GetDuration("timeout")
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// withClient dials the server and ensures the connection is closed.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *protocol.Client) error) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	addr, _ := cmd.Flags().GetString("addr")
	c, err := protocol.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	return fn(ctx, c)
}

func parseID(s string) (uint64, error) {
	v, err := id.Parse(s)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid job id %q", s)
	}
	return uint64(v), nil
}

// printDoc writes a YAML stats body as YAML or JSON.
func printDoc(w io.Writer, body []byte, format string) error {
	switch format {
	case "", "yaml":
		_, err := w.Write(body)
		return err
	case "json":
		var v any
		if err := yaml.Unmarshal(body, &v); err != nil {
			return fmt.Errorf("decode reply: %w", err)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q; use yaml|json", format)
	}
}

// printJob prints a job header line and its body.
func printJob(w io.Writer, id uint64, body []byte) {
	fmt.Fprintf(w, "id: %d\n", id)
	fmt.Fprintf(w, "%s\n", body)
}
