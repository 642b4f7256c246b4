package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"log/slog"

	"capstan/internal/daemon"
	"capstan/internal/history"
	"capstan/internal/logging"
	"capstan/internal/logs"
	"capstan/internal/services/ytdlp"
	"capstan/internal/task"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path. A stale
// socket left by a crashed daemon is removed before binding.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Capstan", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("control socket listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed", logging.Error(err))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func viewFromTask(t *task.Task) TaskView {
	if t == nil {
		return TaskView{}
	}
	return TaskView{
		ID:           t.ID,
		SourceURL:    t.SourceURL,
		Title:        t.Title,
		DestDir:      t.DestDir,
		OutputPath:   t.OutputPath,
		Status:       string(t.Status),
		Percent:      t.Percent,
		Speed:        t.Speed,
		ETA:          t.ETA,
		Codec:        t.Codec,
		Preset:       t.Preset,
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    t.CreatedAt,
	}
}

func viewFromEntry(e *history.Entry) HistoryEntry {
	if e == nil {
		return HistoryEntry{}
	}
	return HistoryEntry{
		ID:           e.ID,
		TaskID:       e.TaskID,
		SourceURL:    e.SourceURL,
		Title:        e.Title,
		OutputPath:   e.OutputPath,
		Status:       string(e.Status),
		ErrorMessage: e.ErrorMessage,
		Bytes:        e.Bytes,
		CreatedAt:    e.CreatedAt,
		FinishedAt:   e.FinishedAt,
	}
}

func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	s.log().Debug("submit requested", logging.String(logging.FieldURL, req.URL))
	snapshot, err := s.daemon.Submit(s.ctx, task.Submission{
		SourceURL:          req.URL,
		DestDir:            req.DestDir,
		CookiesPath:        req.CookiesFile,
		CookiesFromBrowser: req.CookiesFromBrowser,
		StartTime:          req.Start,
		EndTime:            req.End,
		FormatExpr:         req.Format,
		Codec:              req.Codec,
		Preset:             req.Preset,
		Debug:              req.Debug,
	})
	if err != nil {
		return err
	}
	resp.Task = viewFromTask(snapshot)
	return nil
}

func (s *service) Cancel(req CancelRequest, resp *CancelResponse) error {
	s.log().Debug("cancel requested", logging.String(logging.FieldTaskID, req.ID))
	if err := s.daemon.Cancel(s.ctx, req.ID); err != nil {
		return err
	}
	resp.Cancelled = true
	return nil
}

func (s *service) Tasks(_ TasksRequest, resp *TasksResponse) error {
	tasks, err := s.daemon.Tasks(s.ctx)
	if err != nil {
		return err
	}
	resp.Tasks = make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, viewFromTask(t))
	}
	return nil
}

func (s *service) Describe(req DescribeRequest, resp *DescribeResponse) error {
	snapshot, archived, err := s.daemon.Describe(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Task = viewFromTask(snapshot)
	resp.Archived = archived
	return nil
}

func (s *service) Await(req AwaitRequest, resp *AwaitResponse) error {
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	result, err := s.daemon.Await(s.ctx, req.ID, wait)
	if err != nil {
		return err
	}
	resp.Done = result.Done
	if result.Entry != nil {
		entry := viewFromEntry(result.Entry)
		resp.Entry = &entry
	}
	if result.Task != nil {
		view := viewFromTask(result.Task)
		resp.Task = &view
	}
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.StartedAt = status.StartedAt
	resp.SocketPath = status.SocketPath
	resp.LockPath = status.LockPath
	resp.HistoryDBPath = status.HistoryDBPath
	resp.LogPath = status.LogPath
	resp.Active = status.Active
	if len(status.Live) > 0 {
		resp.Live = make(map[string]int, len(status.Live))
		for k, v := range status.Live {
			resp.Live[string(k)] = v
		}
	}
	if len(status.Archived) > 0 {
		resp.Archived = make(map[string]int, len(status.Archived))
		for k, v := range status.Archived {
			resp.Archived[string(k)] = v
		}
	}
	if len(status.Dependencies) > 0 {
		resp.Dependencies = make([]DependencyStatus, 0, len(status.Dependencies))
		for _, dep := range status.Dependencies {
			resp.Dependencies = append(resp.Dependencies, DependencyStatus{
				Name:        dep.Name,
				Command:     dep.Command,
				Description: dep.Description,
				Optional:    dep.Optional,
				Available:   dep.Available,
				Detail:      dep.Detail,
			})
		}
	}
	if len(status.Checks) > 0 {
		resp.Checks = make([]CheckResult, 0, len(status.Checks))
		for _, check := range status.Checks {
			resp.Checks = append(resp.Checks, CheckResult{
				Name:   check.Name,
				Passed: check.Passed,
				Detail: check.Detail,
			})
		}
	}
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	statuses := make([]task.Status, 0, len(req.Statuses))
	for _, raw := range req.Statuses {
		parsed, ok := task.ParseStatus(raw)
		if !ok {
			continue
		}
		statuses = append(statuses, parsed)
	}
	entries, err := s.daemon.History(s.ctx, req.Limit, statuses...)
	if err != nil {
		return err
	}
	resp.Entries = make([]HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, viewFromEntry(entry))
	}
	return nil
}

func (s *service) HistoryClear(_ HistoryClearRequest, resp *HistoryClearResponse) error {
	s.log().Debug("history clear requested")
	removed, err := s.daemon.HistoryClear(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.log().Info("history cleared", logging.Int64("removed_count", removed))
	return nil
}

func (s *service) Probe(req ProbeRequest, resp *ProbeResponse) error {
	info, err := s.daemon.Probe(s.ctx, ytdlp.ProbeRequest{
		URL:                req.URL,
		CookiesFile:        req.CookiesFile,
		CookiesFromBrowser: req.CookiesFromBrowser,
	})
	if err != nil {
		return err
	}
	resp.ID = info.ID
	resp.Title = info.DisplayTitle()
	resp.Duration = info.Duration
	for _, format := range info.CompatibleFormats() {
		resp.Formats = append(resp.Formats, FormatView{
			ID:         format.FormatID,
			Ext:        format.Ext,
			Resolution: format.Resolution(),
			Note:       format.FormatNote,
		})
	}
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			resp.Lines = result.Lines
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}

func (s *service) Shutdown(_ ShutdownRequest, resp *ShutdownResponse) error {
	s.log().Info("shutdown requested via socket")
	s.daemon.RequestShutdown()
	resp.Stopping = true
	return nil
}
