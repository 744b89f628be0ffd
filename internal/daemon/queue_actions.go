package daemon

import (
	"context"
	"errors"
	"fmt"

	"reimagine/internal/api"
	"reimagine/internal/eventlog"
	"reimagine/internal/logging"
	"reimagine/internal/queue"
)

// AddFiles validates the sources and appends them as pending items in the
// given order. Nothing is added when any source is invalid.
func (d *Daemon) AddFiles(ctx context.Context, files []queue.Image) ([]*queue.Item, error) {
	if len(files) == 0 {
		return nil, nil
	}
	sources := make([]queue.Image, 0, len(files))
	for _, file := range files {
		source, err := queue.NewSource(file.Name, file.Data, file.MIMEType)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}

	items, err := d.store.Append(ctx, sources...)
	if err != nil {
		return nil, fmt.Errorf("enqueue images: %w", err)
	}
	d.logger.Info("images queued",
		logging.Int("count", len(items)),
		logging.String(logging.FieldEventType, "images_queued"),
	)
	d.events.Append(eventlog.SeverityInfo, fmt.Sprintf("Added %d image(s)", len(items)), map[string]any{"count": len(items)})
	d.notify()
	return items, nil
}

// Start begins the driver loop unless one is already running. It reports
// whether a new loop was started.
func (d *Daemon) Start() bool {
	if d.closed.Load() {
		return false
	}
	d.opMu.Lock()
	defer d.opMu.Unlock()
	return d.engine.Start(d.ctx)
}

// Stop asks the running loop to end after the current item. It reports
// whether a loop was running.
func (d *Daemon) Stop() bool {
	if !d.engine.RequestStop() {
		return false
	}
	d.events.Append(eventlog.SeverityInfo, "Stop requested; finishing current item", nil)
	return true
}

// Running reports whether a batch is in progress.
func (d *Daemon) Running() bool {
	return d.engine.Running()
}

// Retry moves a failed item back to pending.
func (d *Daemon) Retry(ctx context.Context, id int64) (api.RetryItemOutcome, error) {
	retried, err := d.store.RetryFailed(ctx, id)
	if err != nil {
		return "", err
	}
	if retried > 0 {
		item, err := d.store.GetByID(ctx, id)
		if err != nil {
			return "", err
		}
		name := "item"
		if item != nil {
			name = item.DisplayName()
		}
		d.events.AppendItem(eventlog.SeverityInfo, id, "Retrying "+name, nil)
		d.notify()
		return api.RetryItemRetried, nil
	}
	item, err := d.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if item == nil {
		return api.RetryItemNotFound, nil
	}
	return api.RetryItemNotFailed, nil
}

// Remove deletes an item that is not inside a stage. Active items are left
// untouched and the rejection is recorded in the event log.
func (d *Daemon) Remove(ctx context.Context, id int64) (api.RemoveItemOutcome, error) {
	item, err := d.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if item == nil {
		return api.RemoveItemNotFound, nil
	}
	removed, err := d.store.RemoveIfStatus(ctx, id, queue.StatusPending, queue.StatusCompleted, queue.StatusError)
	if err != nil {
		return "", err
	}
	if removed {
		d.events.AppendItem(eventlog.SeverityInfo, id, "Removed "+item.DisplayName(), nil)
		d.notify()
		return api.RemoveItemRemoved, nil
	}

	current, err := d.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if current == nil {
		return api.RemoveItemNotFound, nil
	}
	d.events.AppendItem(eventlog.SeverityWarning, id,
		fmt.Sprintf("Cannot remove %s while it is %s", current.DisplayName(), current.Status),
		map[string]any{"status": string(current.Status)},
	)
	d.logger.Warn("remove rejected for active item",
		logging.Int64(logging.FieldItemID, id),
		logging.String("status", string(current.Status)),
		logging.String(logging.FieldEventType, "remove_rejected"),
	)
	return api.RemoveItemActive, nil
}

// errBatchRunning is reported when a queue-wide action is attempted during a batch.
var errBatchRunning = errors.New("batch is running")

// ResetAll removes every item. It is rejected while a batch is running.
func (d *Daemon) ResetAll(ctx context.Context) (api.BulkActionResult, error) {
	return d.bulk(ctx, "Reset", d.store.Clear, "Queue reset: removed %d item(s)")
}

// ClearFinished removes completed and failed items. It is rejected while a
// batch is running.
func (d *Daemon) ClearFinished(ctx context.Context) (api.BulkActionResult, error) {
	return d.bulk(ctx, "Clear finished", d.store.RemoveFinished, "Cleared %d finished item(s)")
}

func (d *Daemon) bulk(ctx context.Context, action string, op func(context.Context) (int64, error), doneFormat string) (api.BulkActionResult, error) {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	if d.engine.Running() {
		message := fmt.Sprintf("%s ignored: %s", action, errBatchRunning)
		d.events.Append(eventlog.SeverityWarning, message, nil)
		logging.WarnWithContext(d.logger, "queue action rejected while running", "queue_action_rejected",
			logging.String("action", action),
			logging.String(logging.FieldErrorHint, "stop the batch and wait for the current item to finish"),
		)
		return api.BulkActionResult{Applied: false, Message: message}, nil
	}

	count, err := op(ctx)
	if err != nil {
		return api.BulkActionResult{}, err
	}
	message := fmt.Sprintf(doneFormat, count)
	d.events.Append(eventlog.SeverityInfo, message, map[string]any{"count": count})
	d.notify()
	return api.BulkActionResult{Applied: true, Count: count, Message: message}, nil
}

// Stats folds the current store snapshot into counts.
func (d *Daemon) Stats(ctx context.Context) (queue.Stats, error) {
	return d.store.Stats(ctx)
}

// Items lists items in insertion order, optionally filtered by status.
func (d *Daemon) Items(ctx context.Context, statuses ...queue.Status) ([]*queue.Item, error) {
	return d.store.List(ctx, statuses...)
}

// Item returns one item, or nil when the id is unknown.
func (d *Daemon) Item(ctx context.Context, id int64) (*queue.Item, error) {
	return d.store.GetByID(ctx, id)
}

// Events exposes the event log.
func (d *Daemon) Events() *eventlog.Log {
	return d.events
}

// Logs returns event log records after since. See eventlog.Log.Fetch.
func (d *Daemon) Logs(ctx context.Context, since uint64, limit int, wait bool) ([]eventlog.Record, uint64, error) {
	return d.events.Fetch(ctx, since, limit, wait)
}

// ClearLogs empties the event log.
func (d *Daemon) ClearLogs() {
	d.events.Clear()
}

// DatabaseHealth returns diagnostics for the in-memory store.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	return d.store.Health(ctx)
}
