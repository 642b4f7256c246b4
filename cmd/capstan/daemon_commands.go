package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"capstan/internal/daemonctl"
	"capstan/internal/ipc"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startDebug bool
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the capstand daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonLaunchOptions(ctx, startDebug),
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(stdout, "Daemon already running (pid %d)\n", result.PID)
			}
			return nil
		},
	}
	startCmd.Flags().BoolVar(&startDebug, "debug", false, "Start the daemon with debug logging")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the capstand daemon (terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.StopAcknowledged {
				fmt.Fprintln(stdout, "Shutdown requested...")
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Killing daemon process (pid %d)...\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	var restartDebug bool
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the capstand daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.Restart(
				ctx.socketPath(),
				ctx.configValue(),
				exe,
				daemonLaunchOptions(ctx, restartDebug),
				5*time.Second,
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.WasRunning {
				if result.Stop.ForcedKill && result.Stop.PID > 0 {
					fmt.Fprintf(stdout, "Killing daemon process (pid %d)...\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			fmt.Fprintf(stdout, "Daemon restarted (pid %d)\n", result.Start.PID)
			return nil
		},
	}
	restartCmd.Flags().BoolVar(&restartDebug, "debug", false, "Restart the daemon with debug logging")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency, and task status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			statusResp, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range daemonLines(statusResp, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range dependencyLines(statusResp.Dependencies, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Checks", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, check := range statusResp.Checks {
				kind := statusOK
				if !check.Passed {
					kind = statusWarn
				}
				fmt.Fprintln(stdout, renderStatusLine(check.Name, kind, check.Detail, colorize))
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Tasks", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if table := renderCountTable(statusResp.Live); table != "" {
				fmt.Fprintln(stdout, table)
			} else {
				fmt.Fprintln(stdout, "No live tasks")
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Archive", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if table := renderCountTable(statusResp.Archived); table != "" {
				fmt.Fprintln(stdout, table)
			} else {
				fmt.Fprintln(stdout, "Archive is empty")
			}
			return nil
		},
	}

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func daemonLines(status *ipc.StatusResponse, colorize bool) []string {
	lines := make([]string, 0, 5)
	if status.Running {
		detail := fmt.Sprintf("Running (pid %d)", status.PID)
		if !status.StartedAt.IsZero() {
			detail = fmt.Sprintf("Running (pid %d, started %s)", status.PID, formatAge(status.StartedAt))
		}
		lines = append(lines, renderStatusLine("Daemon", statusOK, detail, colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusError, "Not running", colorize))
	}
	lines = append(lines, renderStatusLine("Socket", statusInfo, status.SocketPath, colorize))
	lines = append(lines, renderStatusLine("History DB", statusInfo, status.HistoryDBPath, colorize))
	if status.LogPath != "" {
		lines = append(lines, renderStatusLine("Log file", statusInfo, status.LogPath, colorize))
	}
	if status.Running {
		lines = append(lines, renderStatusLine("Active tasks", statusInfo, fmt.Sprintf("%d", status.Active), colorize))
	}
	return lines
}

func dependencyLines(deps []ipc.DependencyStatus, colorize bool) []string {
	available := 0
	for _, dep := range deps {
		if dep.Available {
			available++
		}
	}
	summaryKind := statusOK
	if available < len(deps) {
		summaryKind = statusWarn
	}

	lines := make([]string, 0, len(deps)+2)
	lines = append(lines, renderStatusLine("Summary", summaryKind, fmt.Sprintf("%d/%d available", available, len(deps)), colorize))

	missing := make([]string, 0)
	for _, dep := range deps {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}

		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
		if !dep.Optional {
			missing = append(missing, dep.Name)
		}
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing dependencies", statusWarn, strings.Join(missing, ", "), colorize))
	}
	return lines
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext, debug bool) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{Debug: debug}
	if ctx.socketFlag != nil {
		if socket := strings.TrimSpace(*ctx.socketFlag); socket != "" {
			opts.SocketPath = socket
		}
	}
	if ctx.configFlag != nil {
		if config := strings.TrimSpace(*ctx.configFlag); config != "" {
			opts.ConfigPath = config
		}
	}
	return opts
}
