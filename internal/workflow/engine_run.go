package workflow

import (
	"context"
	"fmt"
	"time"

	"reimagine/internal/eventlog"
	"reimagine/internal/logging"
	"reimagine/internal/notifications"
	"reimagine/internal/services"
)

// batchSummary counts item outcomes for one run of the loop.
type batchSummary struct {
	completed int
	failed    int
}

func (s batchSummary) detail() map[string]any {
	return map[string]any{"completed": s.completed, "failed": s.failed}
}

func (e *Engine) run(ctx context.Context, stopCh <-chan struct{}, done chan struct{}) {
	defer e.finishRun(done)

	// Store writes must land even while the daemon context is being canceled,
	// otherwise a shutdown could leave an item active.
	storeCtx := context.WithoutCancel(ctx)
	started := time.Now()

	pending := 0
	if stats, err := e.store.Stats(storeCtx); err == nil {
		pending = stats.Pending
	}
	e.logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_started"),
		logging.Int("pending", pending),
	)
	e.events.Append(eventlog.SeverityInfo, fmt.Sprintf("Batch started with %d pending", pending), map[string]any{"pending": pending})
	e.onChange()
	if pending > 0 {
		e.report("batch_started", func(ctx context.Context) error {
			return e.notifier.NotifyBatchStarted(ctx, pending)
		})
	}

	var summary batchSummary
	stopped := false
	for {
		if e.stopSignalled() || ctx.Err() != nil {
			stopped = true
			break
		}

		item, err := e.store.NextPending(storeCtx)
		if err != nil {
			e.abort(storeCtx, fmt.Errorf("find next pending item: %w", err))
			return
		}
		if item == nil {
			break
		}

		settings := e.settings()
		result, err := e.processItem(ctx, storeCtx, item, settings)
		if err != nil {
			e.abort(storeCtx, err)
			return
		}
		switch result {
		case outcomeCompleted:
			summary.completed++
		case outcomeFailed:
			summary.failed++
		case outcomeSkipped:
			continue
		}

		if !pace(ctx, stopCh, settings.PacingDelay) {
			stopped = true
			break
		}
	}

	attrs := []logging.Attr{
		logging.Int("completed", summary.completed),
		logging.Int("failed", summary.failed),
		logging.Duration("elapsed", time.Since(started)),
	}
	if stopped {
		e.logger.Info("workflow stopped", logging.Args(append(attrs, logging.String(logging.FieldEventType, "workflow_stopped"))...)...)
		e.events.Append(eventlog.SeverityWarning,
			fmt.Sprintf("Batch stopped: %d completed, %d failed", summary.completed, summary.failed),
			summary.detail())
		e.notifyFinished(summary, stopped, started)
		return
	}
	e.logger.Info("workflow finished", logging.Args(append(attrs, logging.String(logging.FieldEventType, "workflow_finished"))...)...)
	e.events.Append(eventlog.SeveritySuccess,
		fmt.Sprintf("Batch finished: %d completed, %d failed", summary.completed, summary.failed),
		summary.detail())
	e.notifyFinished(summary, stopped, started)
}

// notifyFinished skips batches that processed nothing.
func (e *Engine) notifyFinished(summary batchSummary, stopped bool, started time.Time) {
	if summary.completed+summary.failed == 0 {
		return
	}
	outcome := notifications.BatchSummary{
		Completed: summary.completed,
		Failed:    summary.failed,
		Stopped:   stopped,
		Duration:  time.Since(started),
	}
	e.report("batch_finished", func(ctx context.Context) error {
		return e.notifier.NotifyBatchFinished(ctx, outcome)
	})
}

// report delivers one notification. Failures are logged and never affect
// the batch.
func (e *Engine) report(kind string, send func(context.Context) error) {
	if err := send(context.Background()); err != nil {
		e.logger.Warn("notification failed",
			logging.String("notification", kind),
			logging.Error(err),
			logging.String(logging.FieldEventType, "notification_failed"),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network reachability"),
		)
	}
}

// abort ends the loop on a store failure or invariant violation. Any item
// still in a stage is failed so none stays active. The process keeps running;
// the error is reported through Status.
func (e *Engine) abort(storeCtx context.Context, err error) {
	e.setLastError(err)
	logging.ErrorWithContext(e.logger, "workflow halted", "workflow_halted",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "queue state is inconsistent; reset the queue"),
	)
	e.events.Append(eventlog.SeverityWarning, "Batch halted: "+err.Error(), nil)

	failed, failErr := e.store.FailProcessing(storeCtx, "batch halted: "+err.Error(), string(services.KindStageRequestFailed))
	if failErr != nil {
		e.logger.Warn("unable to fail in-flight items after halt",
			logging.Error(failErr),
			logging.String(logging.FieldEventType, "halt_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "reset the queue"),
		)
		return
	}
	if failed > 0 {
		e.onChange()
	}
}

// pace waits the inter-item delay. It returns false when the wait was cut
// short by a stop request or daemon shutdown.
func pace(ctx context.Context, stopCh <-chan struct{}, delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}
