package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"capstan/internal/config"
	"capstan/internal/daemon"
	"capstan/internal/driver"
	"capstan/internal/history"
	"capstan/internal/ipc"
	"capstan/internal/logging"
	"capstan/internal/manager"
	"capstan/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	server     *ipc.Server
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T, exec *testsupport.FakeExecutor) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(filepath.Dir(cfg.Paths.StateDir), "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenHistory(t, cfg)
	fetcher, transcoder := testsupport.MustClients(t, cfg, exec)
	mgr := manager.New(cfg, fetcher, transcoder, logging.NewNop(), manager.WithHistory(store))

	d, err := daemon.New(cfg, store, logging.NewNop(), mgr, fetcher)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logging.NewNop())
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("unix sockets unavailable in this environment: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		server:     srv,
		socketPath: cfg.SocketPath(),
		configPath: configPath,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\ndownload_dir = %q\nlog_dir = %q\nstate_dir = %q\n",
		cfg.Paths.DownloadDir,
		cfg.Paths.LogDir,
		cfg.Paths.StateDir,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func probeJSON(title string) string {
	return fmt.Sprintf(`{"id":"vid9","title":%q,"duration":95,"formats":[`+
		`{"format_id":"137","ext":"mp4","height":1080,"vcodec":"avc1.640028","acodec":"none"},`+
		`{"format_id":"136","ext":"mp4","height":720,"vcodec":"avc1.4d401f","acodec":"none"},`+
		`{"format_id":"140","ext":"m4a","vcodec":"none","acodec":"mp4a.40.2"}]}`, title)
}

func writeFetchOutput(content string) func(driver.Command) error {
	return func(cmd driver.Command) error {
		for i, arg := range cmd.Args {
			if arg == "-o" && i+1 < len(cmd.Args) {
				path := strings.ReplaceAll(cmd.Args[i+1], "%(ext)s", "mp4")
				return os.WriteFile(path, []byte(content), 0o644)
			}
		}
		return fmt.Errorf("no output template in %v", cmd.Args)
	}
}

// awaitArchived polls the daemon directly until the task terminates.
func awaitArchived(t *testing.T, d *daemon.Daemon, id string) *history.Entry {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		res, err := d.Await(context.Background(), id, 500*time.Millisecond)
		if err != nil {
			t.Fatalf("Await: %v", err)
		}
		if res.Done {
			return res.Entry
		}
	}
	t.Fatalf("task %s never finished", id)
	return nil
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
