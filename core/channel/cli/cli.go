// Package cli provides a CLI channel that invokes actions and prints store
// state from cobra commands.
// It creates invoke, actions and stores commands over a runtime opened per
// command run.
package cli

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/conveyr/core/formatter"
	"github.com/artpar/conveyr/core/runtime"
	"github.com/artpar/conveyr/core/store"
)

// Opener builds the runtime a command runs against. The returned close
// function is called when the command finishes.
type Opener func(cmd *cobra.Command) (rt *runtime.Runtime, close func() error, err error)

// Channel implements the CLI channel.
type Channel struct {
	open       Opener
	formatters *formatter.Registry
}

// New creates a new CLI channel.
func New(open Opener) *Channel {
	return &Channel{
		open:       open,
		formatters: formatter.DefaultRegistry,
	}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "cli"
}

// Register adds the channel's commands to root.
func (c *Channel) Register(root *cobra.Command) {
	root.AddCommand(c.buildInvokeCommand(), c.buildActionsCommand(), c.buildStoresCommand())
}

// Start starts the CLI channel (no-op for CLI).
func (c *Channel) Start(ctx context.Context) error {
	return nil
}

// Stop stops the CLI channel (no-op for CLI).
func (c *Channel) Stop(ctx context.Context) error {
	return nil
}

// withRuntime opens a runtime, runs fn and closes the runtime.
func (c *Channel) withRuntime(cmd *cobra.Command, fn func(rt *runtime.Runtime) error) (err error) {
	rt, closeFn, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(rt)
}

// buildInvokeCommand creates the invoke command.
func (c *Channel) buildInvokeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoke <action> [payload]",
		Short: "Invoke an action and wait for it to settle",
		Long: `Invoke an action in a fresh runtime and wait for every endpoint it calls.

The payload is parsed as JSON. Text that is not valid JSON is sent as a
string. Use --show to print stores after the invocation settles.`,
		Example: `  conveyr invoke increment 2 --show counts
  conveyr invoke note '{"text": "hello"}' -O json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw string
			if len(args) == 2 {
				raw = args[1]
			}
			payload := parsePayload(raw)

			wait, _ := cmd.Flags().GetDuration("wait")
			show, _ := cmd.Flags().GetStringSlice("show")

			return c.withRuntime(cmd, func(rt *runtime.Runtime) error {
				ctx := cmd.Context()
				if ctx == nil {
					ctx = context.Background()
				}
				if wait > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, wait)
					defer cancel()
				}

				start := time.Now()
				inv, err := rt.Invoke(ctx, args[0], payload)
				if err != nil {
					return c.formatError(cmd, err)
				}
				if err := inv.Wait(ctx); err != nil {
					return c.formatError(cmd, err)
				}

				record := map[string]any{
					"action":   inv.Action,
					"instance": inv.ID,
					"payload":  inv.Payload,
					"duration": time.Since(start).Round(time.Microsecond).String(),
				}
				if err := c.formatRecord(cmd, "invocation", []string{"action", "instance", "payload", "duration"}, record); err != nil {
					return err
				}

				for _, id := range show {
					st, err := rt.Store(id)
					if err != nil {
						return c.formatError(cmd, err)
					}
					if err := c.formatList(cmd, "fields", fieldColumns, fieldRecords(st)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().Duration("wait", 0, "Maximum time to wait for the invocation (0 = no limit)")
	cmd.Flags().StringSlice("show", nil, "Stores to print after the invocation settles")
	c.addOutputFlags(cmd)

	return cmd
}

// buildActionsCommand creates the actions command.
func (c *Channel) buildActionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List declared actions and the endpoints they call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd, func(rt *runtime.Runtime) error {
				actions := rt.Actions()
				records := make([]map[string]any, 0, len(actions))
				for _, a := range actions {
					targets := a.Targets()
					calls := make([]string, len(targets))
					for i, t := range targets {
						calls[i] = t.Endpoint.Ref()
					}
					records = append(records, map[string]any{"id": a.ID(), "calls": calls})
				}
				return c.formatList(cmd, "actions", []string{"id", "calls"}, records)
			})
		},
	}

	c.addOutputFlags(cmd)

	return cmd
}

// buildStoresCommand creates the stores command.
func (c *Channel) buildStoresCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stores [id]",
		Short: "List stores, or the fields of one store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd, func(rt *runtime.Runtime) error {
				if len(args) == 1 {
					st, err := rt.Store(args[0])
					if err != nil {
						return c.formatError(cmd, err)
					}
					return c.formatList(cmd, "fields", fieldColumns, fieldRecords(st))
				}

				stores := rt.Stores()
				records := make([]map[string]any, 0, len(stores))
				for _, st := range stores {
					fields := st.Fields()
					names := make([]string, len(fields))
					for i, f := range fields {
						names[i] = f.Name()
					}
					records = append(records, map[string]any{"id": st.ID(), "fields": names})
				}
				return c.formatList(cmd, "stores", []string{"id", "fields"}, records)
			})
		},
	}

	c.addOutputFlags(cmd)

	return cmd
}

var fieldColumns = []string{"name", "value", "revision"}

// fieldRecords reads every field of st with its revision.
func fieldRecords(st *store.Store) []map[string]any {
	fields := st.Fields()
	records := make([]map[string]any, 0, len(fields))
	for _, f := range fields {
		v, rev := f.Get()
		records = append(records, map[string]any{"name": f.Name(), "value": v, "revision": rev})
	}
	return records
}

// addOutputFlags adds common output format flags to a command.
func (c *Channel) addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "O", "table", "Output format: "+strings.Join(c.formatters.List(), ", "))
	cmd.Flags().Bool("no-header", false, "Disable header row (table format)")
	cmd.Flags().Bool("compact", false, "Compact output (json)")
}

// getFormatter returns the formatter for the current command.
func (c *Channel) getFormatter(cmd *cobra.Command) formatter.Formatter {
	outputFmt, _ := cmd.Flags().GetString("output")
	if f, ok := c.formatters.Get(outputFmt); ok {
		return f
	}
	return c.formatters.Default()
}

// getFormatOptions builds format options from command flags.
func (c *Channel) getFormatOptions(cmd *cobra.Command) formatter.FormatOptions {
	noHeader, _ := cmd.Flags().GetBool("no-header")
	compact, _ := cmd.Flags().GetBool("compact")

	return formatter.FormatOptions{
		NoHeader: noHeader,
		Compact:  compact,
		MaxWidth: 40,
	}
}

func (c *Channel) formatList(cmd *cobra.Command, kind string, columns []string, records []map[string]any) error {
	return c.getFormatter(cmd).FormatList(cmd.OutOrStdout(), kind, columns, records, c.getFormatOptions(cmd))
}

func (c *Channel) formatRecord(cmd *cobra.Command, kind string, columns []string, record map[string]any) error {
	return c.getFormatter(cmd).FormatRecord(cmd.OutOrStdout(), kind, columns, record, c.getFormatOptions(cmd))
}

// formatError writes err to the command's error stream and returns it.
func (c *Channel) formatError(cmd *cobra.Command, err error) error {
	_ = c.getFormatter(cmd).FormatError(cmd.ErrOrStderr(), err)
	return err
}

// parsePayload decodes raw as JSON. Empty input is a nil payload and
// anything that is not JSON is taken as a string.
func parsePayload(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
