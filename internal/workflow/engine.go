package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"reimagine/internal/eventlog"
	"reimagine/internal/logging"
	"reimagine/internal/notifications"
	"reimagine/internal/queue"
	"reimagine/internal/stage"
)

// StageSet bundles the stage clients the engine drives items through.
type StageSet struct {
	Analyzer  stage.Analyzer
	Generator stage.Generator
}

// Settings is the per-iteration configuration snapshot.
type Settings struct {
	Analysis     stage.Config
	Generation   stage.Config
	PacingDelay  time.Duration
	StageTimeout time.Duration
}

// SettingsSource returns the current settings. It is called once per item.
type SettingsSource func() Settings

// StaticSettings returns a SettingsSource that always yields s.
func StaticSettings(s Settings) SettingsSource {
	return func() Settings { return s }
}

// Option customizes an Engine.
type Option func(*Engine)

// WithChangeHook registers fn to run after every store write the engine makes.
func WithChangeHook(fn func()) Option {
	return func(e *Engine) {
		if fn != nil {
			e.onChange = fn
		}
	}
}

// WithNotifier sends batch and item failure notifications through svc.
func WithNotifier(svc notifications.Service) Option {
	return func(e *Engine) {
		if svc != nil {
			e.notifier = svc
		}
	}
}

// Engine is the single-worker queue driver.
type Engine struct {
	store    *queue.Store
	events   *eventlog.Log
	logger   *slog.Logger
	stages   StageSet
	settings SettingsSource
	onChange func()
	notifier notifications.Service

	mu            sync.Mutex
	running       bool
	stopRequested bool
	stopCh        chan struct{}
	done          chan struct{}
	lastErr       error
	lastItem      *queue.Item
}

// NewEngine constructs an idle engine.
func NewEngine(store *queue.Store, events *eventlog.Log, logger *slog.Logger, stages StageSet, settings SettingsSource, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	if events == nil {
		events = eventlog.New(0)
	}
	if settings == nil {
		settings = StaticSettings(Settings{})
	}
	done := make(chan struct{})
	close(done)
	e := &Engine{
		store:    store,
		events:   events,
		logger:   logging.NewComponentLogger(logger, "workflow"),
		stages:   stages,
		settings: settings,
		onChange: func() {},
		notifier: notifications.Noop(),
		done:     done,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the driver loop unless one is already running. It reports
// whether a new loop was started. ctx bounds the daemon lifetime: canceling
// it aborts in-flight stage calls and fails the active item.
func (e *Engine) Start(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.logger.Debug("start ignored; workflow already running")
		return false
	}
	e.running = true
	e.stopRequested = false
	e.stopCh = make(chan struct{})
	e.done = make(chan struct{})
	e.lastErr = nil
	stopCh, done := e.stopCh, e.done
	e.mu.Unlock()

	go e.run(ctx, stopCh, done)
	return true
}

// RequestStop asks the loop to end at the next item boundary. It never aborts
// an in-flight stage call. It reports whether a loop was running.
func (e *Engine) RequestStop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return false
	}
	if !e.stopRequested {
		e.stopRequested = true
		close(e.stopCh)
		e.logger.Info("stop requested; finishing current item",
			logging.String(logging.FieldEventType, "workflow_stop_requested"),
		)
	}
	return true
}

// Running reports whether the driver loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// StopRequested reports whether a stop is pending for the current loop.
func (e *Engine) StopRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running && e.stopRequested
}

// Done returns a channel closed when the current loop exits. When idle the
// channel is already closed.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Wait blocks until the current loop exits.
func (e *Engine) Wait() {
	<-e.Done()
}

func (e *Engine) stopSignalled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopRequested
}

func (e *Engine) finishRun(done chan struct{}) {
	e.mu.Lock()
	e.running = false
	e.stopRequested = false
	e.mu.Unlock()
	close(done)
	e.onChange()
}

func (e *Engine) setLastError(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

func (e *Engine) setLastItem(item *queue.Item) {
	e.mu.Lock()
	if item != nil {
		cp := *item
		e.lastItem = &cp
	} else {
		e.lastItem = nil
	}
	e.mu.Unlock()
}
