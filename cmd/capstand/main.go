// capstand is the standalone Capstan daemon binary for init systems that run
// the process directly. `capstan start` re-execs the CLI's hidden daemon
// subcommand instead; both paths share the same runtime loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"capstan/internal/config"
	"capstan/internal/daemonrun"
)

func main() {
	opts, configPath, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if err := run(context.Background(), configPath, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (daemonrun.Options, string, error) {
	fs := flag.NewFlagSet("capstand", flag.ContinueOnError)
	configPath := fs.String("config", "", "Configuration file path")
	socketPath := fs.String("socket", "", "Control socket path override")
	logLevel := fs.String("log-level", "", "Log level override (debug, info, warn, error)")
	debug := fs.Bool("debug", false, "Log at debug level")

	if err := fs.Parse(args); err != nil {
		return daemonrun.Options{}, "", err
	}
	opts := daemonrun.Options{
		LogLevel:   *logLevel,
		SocketPath: *socketPath,
		Debug:      *debug,
	}
	return opts, *configPath, nil
}

func run(ctx context.Context, configPath string, opts daemonrun.Options) error {
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return daemonrun.Run(ctx, cfg, opts)
}
