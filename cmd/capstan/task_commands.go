package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"capstan/internal/ipc"
)

var taskTableHeaders = []string{"ID", "Title", "Status", "Progress", "Speed", "ETA"}

var taskTableAligns = []columnAlignment{
	alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight,
}

func newTasksCommand(ctx *commandContext) *cobra.Command {
	var watch bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List live tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				stdout := cmd.OutOrStdout()
				if !watch {
					return printTaskTable(client, stdout)
				}

				colorize := shouldColorize(stdout)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					if colorize {
						fmt.Fprint(stdout, "\x1b[2J\x1b[H")
					}
					if err := printTaskTable(client, stdout); err != nil {
						return err
					}
					select {
					case <-cmd.Context().Done():
						return nil
					case <-ticker.C:
					}
					if !colorize {
						fmt.Fprintln(stdout)
					}
				}
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Refresh the table until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Refresh interval for --watch")
	return cmd
}

func printTaskTable(client *ipc.Client, out io.Writer) error {
	resp, err := client.Tasks()
	if err != nil {
		return err
	}
	rows := buildTaskRows(resp.Tasks)
	if len(rows) == 0 {
		fmt.Fprintln(out, "No live tasks")
		return nil
	}
	fmt.Fprintln(out, renderTable(taskTableHeaders, rows, taskTableAligns))
	return nil
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Request cancellation of a live task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return errors.New("task id is required")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Cancel(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", id)
				return nil
			})
		},
	}
}
