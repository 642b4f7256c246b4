package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"capstan/internal/ipc"
	"capstan/internal/task"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var failedOnly bool
	var statuses []string

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List archived task outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := statuses
			if failedOnly {
				filter = append(filter, string(task.StatusFailed))
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.History(limit, filter)
				if err != nil {
					return err
				}
				rows := buildHistoryRows(resp.Entries)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "History is empty")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Title", "Status", "Size", "Finished", "Detail"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show (0 for all)")
	historyCmd.Flags().BoolVar(&failedOnly, "failed", false, "Show only failed tasks")
	historyCmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by terminal status (repeatable)")

	historyCmd.AddCommand(newHistoryClearCommand(ctx))
	return historyCmd
}

func newHistoryClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all archived task outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.HistoryClear()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d history entries\n", resp.Removed)
				return nil
			})
		},
	}
}
