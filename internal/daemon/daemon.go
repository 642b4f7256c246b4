package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"capstan/internal/config"
	"capstan/internal/deps"
	"capstan/internal/history"
	"capstan/internal/logging"
	"capstan/internal/manager"
	"capstan/internal/preflight"
	"capstan/internal/services/ytdlp"
	"capstan/internal/task"
)

const (
	// aliasCap bounds the temporary-to-final id map. Aliases are only
	// needed briefly around the probe rebind, so old ones can age out.
	aliasCap = 512

	followerBuffer = 64
)

// Daemon owns the long-running process state: the single-instance lock, the
// task manager, the archive, and the id alias map that keeps submit-time ids
// addressable after the probe rebind.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *history.Store
	manager *manager.Manager
	fetcher *ytdlp.Client

	logPath  string
	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time

	aliasMu    sync.Mutex
	aliases    map[string]string
	aliasOrder []string

	followCancel func()
	followDone   chan struct{}

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// Status is the runtime snapshot served to `capstan status`.
type Status struct {
	Running       bool
	PID           int
	StartedAt     time.Time
	SocketPath    string
	LockPath      string
	HistoryDBPath string
	LogPath       string
	Active        int
	Live          map[task.Status]int
	Archived      map[task.Status]int
	Dependencies  []deps.Status
	Checks        []preflight.Result
}

// New wires a daemon around initialized dependencies. The fetcher client is
// used for probe-only requests that never enter the task table.
func New(cfg *config.Config, store *history.Store, logger *slog.Logger, mgr *manager.Manager, fetcher *ytdlp.Client) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || mgr == nil {
		return nil, errors.New("daemon requires config, store, logger, and task manager")
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      store,
		manager:    mgr,
		fetcher:    fetcher,
		logPath:    cfg.LogFilePath(),
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
		aliases:    make(map[string]string),
		shutdownCh: make(chan struct{}),
	}, nil
}

// Start acquires the single-instance lock, verifies the working directories,
// and launches the task manager. A second capstand against the same state
// directory is refused here.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another capstand instance is already running")
	}

	if results := preflight.RunAll(d.cfg); !preflight.AllPassed(results) {
		_ = d.lock.Unlock()
		for _, res := range results {
			if !res.Passed {
				return fmt.Errorf("preflight: %s: %s", res.Name, res.Detail)
			}
		}
	}

	if err := d.manager.Start(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("start task manager: %w", err)
	}
	d.startFollower()

	d.startedAt = time.Now().UTC()
	d.running.Store(true)
	d.logger.Info("capstand started",
		slog.String("lock", d.lockPath),
		slog.Int("pid", os.Getpid()))
	return nil
}

// Stop halts the task manager and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.followCancel != nil {
		d.followCancel()
		<-d.followDone
		d.followCancel = nil
		d.followDone = nil
	}
	d.manager.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock failed", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("capstand stopped")
}

// Close stops the daemon and releases the archive handle.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// RequestShutdown asks the hosting process to exit. It returns immediately;
// the run loop observes ShutdownRequested and winds down.
func (d *Daemon) RequestShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownCh) })
}

// ShutdownRequested signals when an IPC client asked the process to exit.
func (d *Daemon) ShutdownRequested() <-chan struct{} {
	return d.shutdownCh
}

// LogPath returns the daemon log file location served over LogTail.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status collects the runtime snapshot: live and archived task counts plus
// the dependency and directory checks.
func (d *Daemon) Status(ctx context.Context) Status {
	st := Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		StartedAt:     d.startedAt,
		SocketPath:    d.cfg.SocketPath(),
		LockPath:      d.lockPath,
		HistoryDBPath: d.cfg.HistoryDBPath(),
		LogPath:       d.logPath,
		Dependencies:  deps.Check(d.cfg),
		Checks:        preflight.RunAll(d.cfg),
	}
	if tasks, err := d.manager.Tasks(ctx); err == nil {
		st.Active = len(tasks)
		if len(tasks) > 0 {
			st.Live = make(map[task.Status]int, len(tasks))
			for _, t := range tasks {
				st.Live[t.Status]++
			}
		}
	}
	if stats, err := d.store.Stats(ctx); err == nil && len(stats) > 0 {
		st.Archived = stats
	}
	return st
}

// startFollower records probe rebinds so ids handed out at submit time keep
// resolving. ProbeResult events are never dropped by the subscriber buffer,
// which is what makes the alias map reliable.
func (d *Daemon) startFollower() {
	events, cancel := d.manager.Subscribe(followerBuffer)
	done := make(chan struct{})
	d.followCancel = cancel
	d.followDone = done
	go func() {
		defer close(done)
		for ev := range events {
			pr, ok := ev.(task.ProbeResult)
			if !ok || pr.Err != "" || pr.FinalID == "" || pr.FinalID == pr.ID {
				continue
			}
			d.bindAlias(pr.ID, pr.FinalID)
		}
	}()
}

func (d *Daemon) bindAlias(temp, final string) {
	d.aliasMu.Lock()
	defer d.aliasMu.Unlock()
	if _, exists := d.aliases[temp]; !exists {
		d.aliasOrder = append(d.aliasOrder, temp)
	}
	d.aliases[temp] = final
	for len(d.aliasOrder) > aliasCap {
		oldest := d.aliasOrder[0]
		d.aliasOrder = d.aliasOrder[1:]
		delete(d.aliases, oldest)
	}
}

// resolveID follows the temporary-to-final rebind, so clients holding a
// submit-time id keep addressing the task after the probe renames it.
func (d *Daemon) resolveID(id string) string {
	d.aliasMu.Lock()
	defer d.aliasMu.Unlock()
	if final, ok := d.aliases[id]; ok {
		return final
	}
	return id
}
