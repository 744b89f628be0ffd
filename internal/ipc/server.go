package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"reimagine/internal/api"
	"reimagine/internal/daemon"
	"reimagine/internal/logging"
	"reimagine/internal/queue"
)

const (
	defaultFollowWait = time.Second
	maxFollowWait     = 30 * time.Second
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(serviceName, &service{daemon: d, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Serve starts accepting RPC connections until Close is called.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Go(func() {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String("impact", "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.track(conn, true)
			s.wg.Go(func() {
				defer s.track(conn, false)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
			})
		}
	})
}

func (s *Server) track(conn net.Conn, add bool) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
		return
	}
	delete(s.conns, conn)
}

// Close stops the server, drops open client connections and removes the
// socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.connMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.connMu.Unlock()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String("impact", "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	resp.Started = s.daemon.Start()
	if resp.Started {
		resp.Message = "batch started"
		s.logger.Info("batch started via IPC", logging.String(logging.FieldEventType, "batch_start"))
	} else {
		resp.Message = "batch already running"
	}
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	resp.Stopping = s.daemon.Stop()
	if resp.Stopping {
		resp.Message = "stop requested; current item will finish first"
		s.logger.Info("batch stop requested via IPC", logging.String(logging.FieldEventType, "batch_stop"))
	} else {
		resp.Message = "no batch running"
	}
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.DaemonStatus = api.DaemonStatus{
		Workflow:   api.FromStatusSummary(status.Workflow),
		PID:        status.PID,
		APIBind:    status.APIBind,
		SocketPath: status.SocketPath,
		SessionLog: status.SessionLog,
	}
	if !status.StartedAt.IsZero() {
		resp.StartedAt = status.StartedAt.UTC().Format(time.RFC3339)
	}
	return nil
}

func (s *service) AddFiles(req AddFilesRequest, resp *AddFilesResponse) error {
	if len(req.Files) == 0 {
		return errors.New("no files provided")
	}
	files := make([]queue.Image, 0, len(req.Files))
	for _, file := range req.Files {
		files = append(files, queue.Image{Name: file.Name, MIMEType: file.MimeType, Data: file.Data})
	}
	items, err := s.daemon.AddFiles(s.ctx, files)
	if err != nil {
		return err
	}
	resp.Items = api.FromQueueItems(items)
	return nil
}

func (s *service) QueueList(req QueueListRequest, resp *QueueListResponse) error {
	statuses := make([]queue.Status, 0, len(req.Statuses))
	for _, value := range req.Statuses {
		parsed, ok := queue.ParseStatus(value)
		if !ok {
			return fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, parsed)
	}
	items, err := s.daemon.Items(s.ctx, statuses...)
	if err != nil {
		return err
	}
	stats, err := s.daemon.Stats(s.ctx)
	if err != nil {
		return err
	}
	resp.Items = api.FromQueueItems(items)
	resp.Stats = api.FromStats(stats)
	return nil
}

func (s *service) describe(id int64) (*queue.Item, error) {
	if id <= 0 {
		return nil, fmt.Errorf("invalid queue item id %d", id)
	}
	item, err := s.daemon.Item(s.ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("queue item %d not found", id)
	}
	return item, nil
}

func (s *service) QueueDescribe(req QueueDescribeRequest, resp *QueueDescribeResponse) error {
	item, err := s.describe(req.ID)
	if err != nil {
		return err
	}
	resp.Item = api.FromQueueItem(item)
	return nil
}

func (s *service) QueueResult(req QueueResultRequest, resp *QueueResultResponse) error {
	item, err := s.describe(req.ID)
	if err != nil {
		return err
	}
	result, ok := api.ResultFromItem(item)
	if !ok {
		return fmt.Errorf("queue item %d has no result (status %s)", item.ID, item.Status)
	}
	resp.Result = result
	return nil
}

func (s *service) QueueRetry(req QueueRetryRequest, resp *QueueRetryResponse) error {
	ids := req.IDs
	if len(ids) == 0 {
		failed, err := s.daemon.Items(s.ctx, queue.StatusError)
		if err != nil {
			return err
		}
		for _, item := range failed {
			ids = append(ids, item.ID)
		}
	}
	result, err := api.RetryItemsByID(s.ctx, s.daemon, ids)
	if err != nil {
		return err
	}
	resp.RetryItemsResult = result
	s.logger.Info("queue items retried",
		logging.String(logging.FieldEventType, "queue_retry"),
		logging.Int64("retried_count", result.RetriedCount))
	return nil
}

func (s *service) QueueRemove(req QueueRemoveRequest, resp *QueueRemoveResponse) error {
	if len(req.IDs) == 0 {
		return errors.New("queue remove requires at least one id")
	}
	result, err := api.RemoveItemsByID(s.ctx, s.daemon, req.IDs)
	if err != nil {
		return err
	}
	resp.RemoveItemsResult = result
	s.logger.Info("queue items removed",
		logging.String(logging.FieldEventType, "queue_remove"),
		logging.Int64("removed_count", result.RemovedCount))
	return nil
}

func (s *service) QueueReset(_ QueueResetRequest, resp *QueueResetResponse) error {
	result, err := s.daemon.ResetAll(s.ctx)
	if err != nil {
		return err
	}
	resp.BulkActionResult = result
	return nil
}

func (s *service) QueueClearFinished(_ QueueClearFinishedRequest, resp *QueueClearFinishedResponse) error {
	result, err := s.daemon.ClearFinished(s.ctx)
	if err != nil {
		return err
	}
	resp.BulkActionResult = result
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	events := s.daemon.Events()
	if req.Tail && req.Since == 0 && !req.Follow {
		records, next := events.Tail(req.Limit)
		resp.LogBatch = api.NewLogBatch(records, next, events.Dropped())
		return nil
	}

	ctx := s.ctx
	if req.Follow {
		wait := time.Duration(req.WaitMillis) * time.Millisecond
		if wait <= 0 {
			wait = defaultFollowWait
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, min(wait, maxFollowWait))
		defer cancel()
	}
	records, next, err := s.daemon.Logs(ctx, req.Since, req.Limit, req.Follow)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}
	resp.LogBatch = api.NewLogBatch(records, next, events.Dropped())
	return nil
}

func (s *service) LogClear(_ LogClearRequest, resp *LogClearResponse) error {
	s.daemon.ClearLogs()
	resp.Cleared = true
	return nil
}

func (s *service) DatabaseHealth(_ DatabaseHealthRequest, resp *DatabaseHealthResponse) error {
	health, err := s.daemon.DatabaseHealth(s.ctx)
	resp.Driver = health.Driver
	resp.SchemaVersion = health.SchemaVersion
	resp.TableExists = health.TableExists
	resp.ColumnsPresent = append(resp.ColumnsPresent, health.ColumnsPresent...)
	resp.MissingColumns = append(resp.MissingColumns, health.MissingColumns...)
	resp.IntegrityCheck = health.IntegrityCheck
	resp.TotalItems = health.TotalItems
	resp.Error = health.Error
	if err != nil && health.Error == "" {
		return err
	}
	return nil
}
