package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reimagine/internal/api"
	"reimagine/internal/ipc"
	"reimagine/internal/logging"
)

const followWait = 25 * time.Second

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var follow bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				resp, err := client.LogTail(ipc.LogTailRequest{Limit: limit, Tail: true})
				if err != nil {
					return err
				}
				if err := printLogBatch(cmd, out, resp.LogBatch, asJSON, colorize); err != nil {
					return err
				}
				if !asJSON && !follow && len(resp.Records) == 0 {
					fmt.Fprintln(out, "Event log is empty")
				}
				cursor := resp.Next
				for follow {
					if err := cmd.Context().Err(); err != nil {
						return nil
					}
					resp, err = client.LogTail(ipc.LogTailRequest{
						Since:      cursor,
						Follow:     true,
						WaitMillis: int(followWait / time.Millisecond),
					})
					if err != nil {
						return err
					}
					if err := printLogBatch(cmd, out, resp.LogBatch, asJSON, colorize); err != nil {
						return err
					}
					cursor = resp.Next
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Number of recent records to show (0 for all)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new records as they arrive")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output records as JSON lines")

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Empty the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.LogClear(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Event log cleared")
				return nil
			})
		},
	})
	cmd.AddCommand(newDaemonLogCommand(ctx))
	return cmd
}

func newDaemonLogCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var follow bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Show the daemon's structured session log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.CurrentLogPath()
			out := cmd.OutOrStdout()

			lines, offset, err := logging.TailFile(path, limit)
			if err != nil {
				return err
			}
			for _, line := range lines {
				fmt.Fprintln(out, line)
			}
			if !follow {
				if len(lines) == 0 {
					fmt.Fprintf(out, "No daemon log at %s\n", path)
				}
				return nil
			}
			for cmd.Context().Err() == nil {
				lines, offset, err = logging.FollowFile(cmd.Context(), path, offset, followWait)
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				for _, line := range lines {
					fmt.Fprintln(out, line)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines as they are written")
	return cmd
}

func printLogBatch(cmd *cobra.Command, out io.Writer, batch api.LogBatch, asJSON, colorize bool) error {
	for _, record := range batch.Records {
		if asJSON {
			if err := writeJSONLine(cmd, record); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(out, formatLogRecord(record, colorize))
	}
	return nil
}

func formatLogRecord(record api.LogRecord, colorize bool) string {
	ts := record.Timestamp
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		ts = t.Local().Format("15:04:05")
	}
	severity := strings.ToUpper(record.Severity)
	line := fmt.Sprintf("%s %-7s %s", ts, severity, record.Message)
	if record.ItemID > 0 {
		line += fmt.Sprintf(" (item #%d)", record.ItemID)
	}
	if colorize {
		if color := statusKindColor(severityKind(record.Severity)); color != "" {
			return color + line + ansiReset
		}
	}
	return line
}
