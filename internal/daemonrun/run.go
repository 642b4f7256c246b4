// Package daemonrun hosts the capstand process loop: logger, archive,
// tool clients, task manager, control socket, and signal handling.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"capstan/internal/config"
	"capstan/internal/daemon"
	"capstan/internal/daemonctl"
	"capstan/internal/deps"
	"capstan/internal/history"
	"capstan/internal/ipc"
	"capstan/internal/logging"
	"capstan/internal/manager"
	"capstan/internal/services/ffmpeg"
	"capstan/internal/services/ytdlp"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel   string
	SocketPath string
	Debug      bool
}

// Run starts the capstand runtime loop and blocks until a signal or a
// shutdown request over the socket winds it down.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if sock := strings.TrimSpace(opts.SocketPath); sock != "" {
		cfg.Daemon.SocketPath = sock
	}

	level := cfg.Logging.Level
	if opts.Debug {
		level = "debug"
	}
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logPath := cfg.LogFilePath()
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logDependencySnapshot(logger, cfg)

	store, err := history.Open(cfg)
	if err != nil {
		logger.Error("open history store", logging.Error(err))
		return err
	}
	defer store.Close()

	grace := time.Duration(cfg.Transcode.GracePeriodSeconds) * time.Second
	fetcher, err := ytdlp.New(cfg.FetcherBinary(),
		ytdlp.WithFFmpegLocation(deps.ResolveFFmpegLocation(cfg)),
		ytdlp.WithGrace(grace))
	if err != nil {
		return fmt.Errorf("init fetch client: %w", err)
	}
	transcoder, err := ffmpeg.New(cfg.FFmpegBinary(), ffmpeg.WithGrace(grace))
	if err != nil {
		return fmt.Errorf("init transcoder client: %w", err)
	}

	mgr := manager.New(cfg, fetcher, transcoder, logger, manager.WithHistory(store))
	d, err := daemon.New(cfg, store, logger, mgr, fetcher)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	// The instance lock is taken before the socket binds and the pid file
	// is written: a second capstand must not clobber a live daemon's files.
	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed", logging.Error(err))
		return err
	}
	defer d.Stop()

	pidPath := filepath.Join(cfg.Paths.StateDir, daemonctl.PIDFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	socketPath := cfg.SocketPath()
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()
	logger.Info("capstand ready", logging.String("socket", socketPath))

	select {
	case <-signalCtx.Done():
		logger.Info("capstand shutting down", logging.String("reason", "signal"))
	case <-d.ShutdownRequested():
		logger.Info("capstand shutting down", logging.String("reason", "socket request"))
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	for _, status := range deps.Check(cfg) {
		logger.Info("dependency snapshot",
			logging.String("name", status.Name),
			logging.String("command", status.Command),
			logging.Bool("available", status.Available),
			logging.Bool("optional", status.Optional))
	}
}
