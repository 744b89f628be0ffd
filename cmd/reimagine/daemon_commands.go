package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"reimagine/internal/api"
	"reimagine/internal/daemonctl"
	"reimagine/internal/ipc"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var noLaunch bool
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start processing pending items, launching the daemon if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			client, err := ctx.connectOrLaunch(stdout, !noLaunch)
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Start()
			if err != nil {
				return err
			}
			if resp.Started {
				fmt.Fprintln(stdout, "Batch started")
			} else {
				fmt.Fprintln(stdout, "Batch already running")
			}
			return nil
		},
	}
	startCmd.Flags().BoolVar(&noLaunch, "no-launch", false, "Fail instead of launching a daemon when none is running")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running batch after the current item finishes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Stop()
				if err != nil {
					return err
				}
				if resp.Stopping {
					fmt.Fprintln(cmd.OutOrStdout(), "Stop requested; the current item will finish first")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "No batch running")
				}
				return nil
			})
		},
	}

	var grace time.Duration
	shutdownCmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Terminate the daemon process; the in-flight item is marked failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			result, err := daemonctl.Shutdown(cfg, grace)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
				return nil
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}
	shutdownCmd.Flags().DurationVar(&grace, "grace", 10*time.Second, "How long to wait for a clean exit before killing the process")

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, stage, and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			client, err := daemonctl.Connect(ctx.socketPath())
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				if statusJSON {
					return writeJSON(cmd, map[string]any{"running": false})
				}
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusWarn, "Not running (run `reimagine daemon`)", shouldColorize(stdout)))
				return nil
			}
			if err != nil {
				return err
			}
			defer client.Close()
			status, err := client.Status()
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, status.DaemonStatus)
			}
			renderDaemonStatus(stdout, status.DaemonStatus, shouldColorize(stdout))
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")

	return []*cobra.Command{startCmd, stopCmd, shutdownCmd, statusCmd}
}

func (c *commandContext) connectOrLaunch(out io.Writer, launch bool) (*ipc.Client, error) {
	if !launch {
		return c.dialClient()
	}
	exe, err := daemonExecutable()
	if err != nil {
		return nil, err
	}
	client, launched, err := daemonctl.EnsureDaemon(c.socketPath(), exe, daemonctl.LaunchOptions{
		ConfigPath: c.configPath(),
	}, 10*time.Second)
	if err != nil {
		return nil, err
	}
	if launched {
		fmt.Fprintln(out, "Daemon not running, launched in the background")
	}
	return client, nil
}

func renderDaemonStatus(out io.Writer, status api.DaemonStatus, colorize bool) {
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Process", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
	if status.StartedAt != "" {
		fmt.Fprintln(out, renderStatusLine("Started", statusInfo, formatDisplayTime(status.StartedAt), colorize))
	}
	if status.APIBind != "" {
		fmt.Fprintln(out, renderStatusLine("HTTP API", statusInfo, "http://"+status.APIBind, colorize))
	}
	if status.SessionLog != "" {
		fmt.Fprintln(out, renderStatusLine("Session log", statusInfo, status.SessionLog, colorize))
	}
	workflow := status.Workflow
	switch {
	case workflow.Running && workflow.StopRequested:
		fmt.Fprintln(out, renderStatusLine("Batch", statusWarn, "Stopping after current item", colorize))
	case workflow.Running:
		fmt.Fprintln(out, renderStatusLine("Batch", statusOK, "Running", colorize))
	default:
		fmt.Fprintln(out, renderStatusLine("Batch", statusInfo, "Idle", colorize))
	}
	if workflow.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusError, workflow.LastError, colorize))
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Stages", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, health := range workflow.StageHealth {
		if health.Ready {
			fmt.Fprintln(out, renderStatusLine(formatStatusLabel(health.Name), statusOK, "Ready", colorize))
			continue
		}
		fmt.Fprintln(out, renderStatusLine(formatStatusLabel(health.Name), statusError, health.Detail, colorize))
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Queue", colorize) {
		fmt.Fprintln(out, line)
	}
	rows := buildQueueStatusRows(workflow.QueueStats)
	if len(rows) == 0 {
		fmt.Fprintln(out, "Queue is empty")
		return
	}
	fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}
