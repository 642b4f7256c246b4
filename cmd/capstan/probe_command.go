package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"capstan/internal/ipc"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var cookiesFile string
	var cookiesFromBrowser string

	cmd := &cobra.Command{
		Use:   "probe URL",
		Short: "Inspect a URL without queueing a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := strings.TrimSpace(args[0])
			if url == "" {
				return errors.New("url is required")
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Probe(ipc.ProbeRequest{
					URL:                url,
					CookiesFile:        cookiesFile,
					CookiesFromBrowser: cookiesFromBrowser,
				})
				if err != nil {
					return err
				}

				stdout := cmd.OutOrStdout()
				fmt.Fprintf(stdout, "Title:    %s\n", resp.Title)
				fmt.Fprintf(stdout, "Duration: %s\n", formatProbeDuration(resp.Duration))

				rows := buildFormatRows(resp.Formats)
				if len(rows) == 0 {
					fmt.Fprintln(stdout, "No compatible video formats found")
					return nil
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"Format", "Ext", "Resolution", "Note"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&cookiesFile, "cookies", "", "Cookies file forwarded to the fetch tool")
	cmd.Flags().StringVar(&cookiesFromBrowser, "cookies-from-browser", "", "Browser profile to read cookies from")
	return cmd
}
