package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"reimagine/internal/config"
	"reimagine/internal/daemon"
	"reimagine/internal/eventlog"
	"reimagine/internal/ipc"
	"reimagine/internal/logging"
	"reimagine/internal/notifications"
	"reimagine/internal/queue"
	"reimagine/internal/services/imagegen"
	"reimagine/internal/services/openrouter"
	"reimagine/internal/services/vision"
	"reimagine/internal/stage"
	"reimagine/internal/workflow"
)

const (
	defaultShutdownGrace = 30 * time.Second
	logSweepInterval     = 12 * time.Hour
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// AutoStart starts a batch as soon as the daemon is up, in addition to
	// the workflow.auto_start config setting.
	AutoStart bool
	// ShutdownGrace bounds how long shutdown waits for the in-flight item.
	ShutdownGrace time.Duration
	// LogOutput receives console or JSON log lines; defaults to stdout.
	LogOutput io.Writer
	// Ready, when set, is called once the IPC and HTTP endpoints are serving.
	Ready func(*daemon.Daemon)
}

func (o Options) shutdownGrace() time.Duration {
	if o.ShutdownGrace > 0 {
		return o.ShutdownGrace
	}
	return defaultShutdownGrace
}

// Run starts the reimagine daemon and blocks until ctx ends or the process
// receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sessionID := uuid.NewString()
	logPath := filepath.Join(cfg.LogDir(), logging.SessionLogName(time.Now()))
	logger, err := logging.NewFromConfig(cfg, logging.Options{
		Level:       opts.LogLevel,
		Output:      opts.LogOutput,
		FilePath:    logPath,
		SessionID:   sessionID,
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.CurrentLogPath(), logPath); err != nil {
		logger.Warn("unable to update reimagine.log link", logging.Error(err))
	}
	sweepLogs(logger, cfg, logPath)

	store, err := queue.Open(signalCtx)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	events := eventlog.New(cfg.Workflow.LogCapacity)
	d, err := daemon.New(cfg, store, events, BuildStages(cfg, logger), logger, daemon.WithSessionLog(logPath), daemon.WithNotifier(notifications.NewService(cfg)))
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Open(signalCtx); err != nil {
		_ = d.Close(context.Background())
		return err
	}

	if err := writePIDFile(cfg.PIDPath()); err != nil {
		_ = d.Close(context.Background())
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(cfg.PIDPath())

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		_ = d.Close(context.Background())
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	logStageSnapshot(logger, d.Settings())
	if cfg.Workflow.AutoStart || opts.AutoStart {
		d.Start()
	}
	if opts.Ready != nil {
		opts.Ready(d)
	}

	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		ticker := time.NewTicker(logSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				sweepLogs(logger, cfg, logPath)
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("reimagine daemon shutting down",
			logging.Duration("grace", opts.shutdownGrace()),
			logging.String(logging.FieldEventType, "daemon_shutdown"),
		)
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), opts.shutdownGrace())
		defer cancelShutdown()
		return d.Close(shutdownCtx)
	})
	return g.Wait()
}

// BuildStages wires the HTTP stage clients described by cfg.
func BuildStages(cfg *config.Config, logger *slog.Logger) workflow.StageSet {
	analysis := openrouter.NewTransport(stage.NameAnalysis,
		openrouter.WithAttribution(cfg.Analysis.Referer, cfg.Analysis.Title),
		openrouter.WithMinInterval(cfg.Analysis.MinRequestInterval()),
		openrouter.WithLogger(logger),
	)
	generation := openrouter.NewTransport(stage.NameGeneration,
		openrouter.WithAttribution(cfg.Generation.Referer, cfg.Generation.Title),
		openrouter.WithMinInterval(cfg.Generation.MinRequestInterval()),
		openrouter.WithLogger(logger),
	)
	return workflow.StageSet{
		Analyzer:  vision.New(analysis, logger),
		Generator: imagegen.New(generation, logger),
	}
}

func sweepLogs(logger *slog.Logger, cfg *config.Config, current string) {
	removed := logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.LogDir(), Pattern: logging.SessionLogPattern, Exclude: []string{current}},
	)
	if removed > 0 {
		logger.Info("pruned old session logs", logging.Int("removed", removed))
	}
}

func ensureCurrentLogPointer(current, target string) error {
	if current == "" || target == "" {
		return nil
	}
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func logStageSnapshot(logger *slog.Logger, settings workflow.Settings) {
	for _, cfg := range []struct {
		name string
		cfg  stage.Config
	}{
		{stage.NameAnalysis, settings.Analysis},
		{stage.NameGeneration, settings.Generation},
	} {
		health := stage.CheckConfig(cfg.name, cfg.cfg)
		attrs := []logging.Attr{
			logging.String(logging.FieldStage, cfg.name),
			logging.String("model", cfg.cfg.Model),
			logging.String("base_url", cfg.cfg.BaseURL),
			logging.Bool("ready", health.Ready),
			logging.String(logging.FieldEventType, "stage_snapshot"),
		}
		if !health.Ready {
			attrs = append(attrs,
				logging.String("detail", health.Detail),
				logging.String(logging.FieldErrorHint, "items will fail with missing_credential until configured"),
			)
			logger.Warn("stage not ready", logging.Args(attrs...)...)
			continue
		}
		logger.Info("stage ready", logging.Args(attrs...)...)
	}
}
