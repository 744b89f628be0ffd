package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"reimagine/internal/eventlog"
	"reimagine/internal/logging"
	"reimagine/internal/queue"
	"reimagine/internal/services"
)

// fail records a stage failure on the item and reports it once to the event
// log and once to the operator log.
func (e *Engine) fail(ctx, storeCtx context.Context, item *queue.Item, current queue.Status, stageName string, stageErr error, logger *slog.Logger) (outcome, error) {
	details := services.Details(stageErr)
	kind := services.ItemKind(stageErr)
	message := failureMessage(stageName, details)
	if errors.Is(stageErr, errDaemonStopped) || ctx.Err() != nil {
		message = queue.DaemonStopReason
		kind = services.KindStageRequestFailed
	}

	finished := time.Now().UTC()
	ok, err := e.store.Update(storeCtx, item.ID, queue.Patch{
		IfStatus:     queue.Ptr(current),
		Status:       queue.Ptr(queue.StatusError),
		ErrorMessage: &message,
		ErrorKind:    queue.Ptr(string(kind)),
		ClearResult:  true,
		FinishedAt:   &finished,
	})
	if err != nil {
		return outcomeSkipped, fmt.Errorf("item %d: record failure: %w", item.ID, err)
	}
	if !ok {
		return outcomeSkipped, fmt.Errorf("item %d left %s while the engine owned it", item.ID, current)
	}
	e.onChange()
	e.rememberItem(storeCtx, item.ID)

	attrs := []logging.Attr{
		logging.String(logging.FieldStage, stageName),
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.String("error_message", message),
		logging.String("source", item.DisplayName()),
		logging.Alert("stage_failure"),
	}
	if details.Operation != "" {
		attrs = append(attrs, logging.String("operation", details.Operation))
	}
	attrs = append(attrs, logging.Error(stageErr), logging.String(logging.FieldErrorHint, failureHint(details.Kind)))
	logging.ErrorWithContext(logger, "stage failed", "stage_failed", attrs...)

	e.events.AppendItem(eventlog.SeverityError, item.ID, fmt.Sprintf("%s failed: %s", item.DisplayName(), message), map[string]any{
		"stage": stageName,
		"kind":  string(kind),
	})
	if message != queue.DaemonStopReason {
		e.report("item_failed", func(ctx context.Context) error {
			return e.notifier.NotifyItemFailed(ctx, item.DisplayName(), message)
		})
	}
	return outcomeFailed, nil
}

// failureMessage renders the human-readable cause stored on the item.
func failureMessage(stageName string, details services.ErrorDetails) string {
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = "failed without error detail"
	}
	if stageName == "" || strings.HasPrefix(message, stageName+":") {
		return message
	}
	return stageName + ": " + message
}

func failureHint(kind services.ErrorKind) string {
	switch kind {
	case services.KindMissingCredential:
		return "set the stage api_key or OPENROUTER_API_KEY, then retry the item"
	case services.KindStageRequestFailed:
		return "check connectivity and provider status, then retry the item"
	case services.KindMalformedStageResponse:
		return "the model answered in an unexpected shape; check the configured model"
	case services.KindConfiguration:
		return "check the daemon configuration"
	default:
		return "check logs for details"
	}
}
