package main

import (
	"strings"

	"github.com/spf13/cobra"

	"capstan/internal/daemonrun"
)

// newDaemonRunCommand is the hidden entrypoint `capstan start` re-execs into.
// The standalone capstand binary wraps the same runner for init systems.
func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:          "daemon",
		Short:        "Run the capstand daemon in the foreground (internal)",
		Hidden:       true,
		Annotations:  map[string]string{"skipConfigLoad": "true"},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var socket string
			if ctx.socketFlag != nil {
				socket = strings.TrimSpace(*ctx.socketFlag)
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				SocketPath: socket,
				Debug:      debug,
			})
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "Log at debug level")
	return cmd
}
