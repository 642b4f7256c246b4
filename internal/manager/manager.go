package manager

import (
	"context"
	"log/slog"
	"sync"

	"capstan/internal/config"
	"capstan/internal/history"
	"capstan/internal/logging"
	"capstan/internal/notifications"
	"capstan/internal/services/ffmpeg"
	"capstan/internal/services/ytdlp"
	"capstan/internal/task"
)

// stageWorker is the control surface shared by probe and fetch workers.
type stageWorker interface {
	Cancel()
	Run(ctx context.Context)
}

// entry is one live task plus the worker currently driving it. Entries are
// touched only by the event loop goroutine.
type entry struct {
	task   *task.Task
	worker stageWorker

	// videoArgs carries the codec argument template resolved at submission
	// time until the fetch worker is spawned.
	videoArgs []string

	sampler *logging.ProgressSampler
}

// Manager owns the live task table. All mutations funnel through a single
// event loop goroutine; the table itself needs no lock.
type Manager struct {
	cfg        *config.Config
	fetcher    *ytdlp.Client
	transcoder *ffmpeg.Client
	logger     *slog.Logger
	notifier   notifications.Service
	archive    *history.Store

	tasks map[string]*entry

	inbox     chan task.Event
	submits   chan *submitRequest
	cancels   chan *cancelRequest
	lists     chan *listRequest
	describes chan *describeRequest

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	stopped chan struct{}

	wg       sync.WaitGroup // event loop
	workers  sync.WaitGroup // stage workers
	notifyWg sync.WaitGroup // in-flight notifications

	subsMu     sync.Mutex
	subs       map[int]chan task.Event
	nextSubID  int
	subsClosed bool
}

type submitRequest struct {
	sub       task.Submission
	videoArgs []string
	reply     chan submitReply
}

type submitReply struct {
	snapshot *task.Task
	err      error
}

type cancelRequest struct {
	id    string
	reply chan error
}

type listRequest struct {
	reply chan []*task.Task
}

type describeRequest struct {
	id    string
	reply chan describeReply
}

type describeReply struct {
	snapshot *task.Task
	err      error
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithNotifier overrides the notification service (used in tests).
func WithNotifier(notifier notifications.Service) Option {
	return func(m *Manager) { m.notifier = notifier }
}

// WithHistory attaches the finished-task archive. Without one, terminal
// outcomes are not recorded anywhere.
func WithHistory(store *history.Store) Option {
	return func(m *Manager) { m.archive = store }
}

// New constructs a manager around the given tool clients. Start must be
// called before use; a stopped manager cannot be restarted.
func New(cfg *config.Config, fetcher *ytdlp.Client, transcoder *ffmpeg.Client, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	buffer := cfg.Daemon.EventBuffer
	if buffer <= 0 {
		buffer = 256
	}
	m := &Manager{
		cfg:        cfg,
		fetcher:    fetcher,
		transcoder: transcoder,
		logger:     logging.NewComponentLogger(logger, "manager"),
		notifier:   notifications.NewService(cfg),
		tasks:      make(map[string]*entry),
		inbox:      make(chan task.Event, buffer),
		submits:    make(chan *submitRequest),
		cancels:    make(chan *cancelRequest),
		lists:      make(chan *listRequest),
		describes:  make(chan *describeRequest),
		subs:       make(map[int]chan task.Event),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}
