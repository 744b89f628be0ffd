package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"reimagine/internal/config"
	"reimagine/internal/eventlog"
	"reimagine/internal/logging"
	"reimagine/internal/notifications"
	"reimagine/internal/queue"
	"reimagine/internal/services"
	"reimagine/internal/stage"
	"reimagine/internal/workflow"
)

// Daemon is the batch controller. It serializes user commands against the
// workflow engine and enforces the single-instance lock.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	baseLogger *slog.Logger
	store      *queue.Store
	events     *eventlog.Log
	engine     *workflow.Engine
	sessionLog string
	startedAt  time.Time
	notifier   notifications.Service

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	open    atomic.Bool
	closed  atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	unwatch func()

	// opMu serializes engine start against queue-wide maintenance so a reset
	// can never race a starting batch.
	opMu sync.Mutex

	settingsMu sync.RWMutex
	settings   workflow.Settings

	obsMu     sync.Mutex
	observers map[uint64]func()
	nextObs   uint64
}

// Status represents daemon runtime information.
type Status struct {
	Open       bool
	PID        int
	StartedAt  time.Time
	Workflow   workflow.StatusSummary
	APIBind    string
	SocketPath string
	LockPath   string
	SessionLog string
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithSessionLog records the session log path reported by Status.
func WithSessionLog(path string) Option {
	return func(d *Daemon) {
		d.sessionLog = strings.TrimSpace(path)
	}
}

// WithNotifier routes batch and item failure notifications through svc.
func WithNotifier(svc notifications.Service) Option {
	return func(d *Daemon) {
		d.notifier = svc
	}
}

// New constructs a daemon with initialized dependencies. The engine is idle
// until Start is called.
func New(cfg *config.Config, store *queue.Store, events *eventlog.Log, stages workflow.StageSet, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if events == nil {
		events = eventlog.New(cfg.Workflow.LogCapacity)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		baseLogger: logger,
		store:      store,
		events:     events,
		lockPath:   cfg.LockPath(),
		lock:       flock.New(cfg.LockPath()),
		ctx:        ctx,
		cancel:     cancel,
		settings:   SettingsFromConfig(cfg),
		observers:  make(map[uint64]func()),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.engine = workflow.NewEngine(store, events, logger, stages, d.Settings,
		workflow.WithChangeHook(d.notify),
		workflow.WithNotifier(d.notifier),
	)
	d.unwatch = events.Subscribe(d.notify)
	return d, nil
}

// SettingsFromConfig builds the engine settings a configuration describes.
func SettingsFromConfig(cfg *config.Config) workflow.Settings {
	if cfg == nil {
		return workflow.Settings{}
	}
	return workflow.Settings{
		Analysis:     stage.FromConfig(cfg.Analysis),
		Generation:   stage.FromConfig(cfg.Generation),
		PacingDelay:  cfg.PacingDelay(),
		StageTimeout: cfg.StageTimeout(),
	}
}

// Open acquires the daemon lock and starts the HTTP API when one is bound.
func (d *Daemon) Open(ctx context.Context) error {
	if d.closed.Load() {
		return errors.New("daemon closed")
	}
	if d.open.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another reimagine daemon instance is already running")
	}

	d.startedAt = time.Now()
	d.api = newAPIServer(d.cfg, d, d.baseLogger)
	if err := d.api.start(ctx); err != nil {
		_ = d.lock.Unlock()
		d.api = nil
		return err
	}
	d.open.Store(true)
	d.logger.Info("reimagine daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// APIAddress returns the address the HTTP API listens on, if any.
func (d *Daemon) APIAddress() string {
	if d.api == nil {
		return ""
	}
	return d.api.address()
}

// Close stops the engine and releases the daemon lock. The active item is
// given until ctx ends to finish; after that its stage call is aborted and
// the item fails with the daemon-stopped reason. Close is idempotent.
func (d *Daemon) Close(ctx context.Context) error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.engine.RequestStop() {
		select {
		case <-d.engine.Done():
		case <-ctx.Done():
			logging.WarnWithContext(d.logger, "shutdown grace expired; aborting in-flight item", "shutdown_forced",
				logging.String(logging.FieldErrorHint, "raise the shutdown grace period to let long generations finish"),
			)
		}
	}
	d.cancel()
	d.engine.Wait()

	var errs []error
	failed, err := d.store.FailProcessing(context.Background(), queue.DaemonStopReason, string(services.KindStageRequestFailed))
	if err != nil {
		errs = append(errs, fmt.Errorf("fail in-flight items: %w", err))
	} else if failed > 0 {
		d.logger.Warn("failed in-flight items on shutdown", logging.Int64("count", failed))
		d.notify()
	}

	d.unwatch()
	if d.open.Load() {
		d.api.stop()
		if err := d.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("release lock: %w", err))
		}
		d.open.Store(false)
	}
	d.logger.Info("reimagine daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
	return errors.Join(errs...)
}

// Subscribe registers fn to run after any store or event log change. The
// returned function removes the subscription.
func (d *Daemon) Subscribe(fn func()) func() {
	if fn == nil {
		return func() {}
	}
	d.obsMu.Lock()
	d.nextObs++
	id := d.nextObs
	d.observers[id] = fn
	d.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.obsMu.Lock()
			delete(d.observers, id)
			d.obsMu.Unlock()
		})
	}
}

func (d *Daemon) notify() {
	d.obsMu.Lock()
	fns := make([]func(), 0, len(d.observers))
	for _, fn := range d.observers {
		fns = append(fns, fn)
	}
	d.obsMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Open:       d.open.Load(),
		PID:        os.Getpid(),
		StartedAt:  d.startedAt,
		Workflow:   d.engine.Status(ctx),
		APIBind:    d.APIAddress(),
		SocketPath: d.cfg.SocketPath(),
		LockPath:   d.lockPath,
		SessionLog: d.sessionLog,
	}
}

// Settings returns the live engine settings. The engine reads them once per
// item, so changes apply from the next item on.
func (d *Daemon) Settings() workflow.Settings {
	d.settingsMu.RLock()
	defer d.settingsMu.RUnlock()
	return d.settings
}

// UpdateSettings applies fn to a copy of the settings and stores the result.
func (d *Daemon) UpdateSettings(fn func(*workflow.Settings)) workflow.Settings {
	d.settingsMu.Lock()
	next := d.settings
	if fn != nil {
		fn(&next)
	}
	d.settings = next
	d.settingsMu.Unlock()

	d.logger.Info("settings updated",
		logging.String("analysis_model", next.Analysis.Model),
		logging.String("generation_model", next.Generation.Model),
		logging.Duration("pacing_delay", next.PacingDelay),
		logging.String(logging.FieldEventType, "settings_updated"),
	)
	d.events.Append(eventlog.SeverityInfo, "Settings updated", nil)
	return next
}
