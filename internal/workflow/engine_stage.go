package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"reimagine/internal/logging"
	"reimagine/internal/services"
)

// runStage invokes call with a stage-scoped context bounded by timeout. The
// call runs on its own goroutine so a client that ignores its context still
// cannot hold the engine past the deadline, and a panic inside the client
// becomes a stage failure.
func runStage[T any](ctx context.Context, stageName string, timeout time.Duration, logger *slog.Logger, call func(context.Context) (T, error)) (T, error) {
	requestID := uuid.NewString()
	stageCtx := services.WithStage(ctx, stageName)
	stageCtx = services.WithRequestID(stageCtx, requestID)
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		stageCtx, cancel = context.WithTimeout(stageCtx, timeout)
	}
	defer cancel()

	stageLogger := logger.With(
		logging.String(logging.FieldStage, stageName),
		logging.String(logging.FieldCorrelationID, requestID),
	)
	started := time.Now()
	stageLogger.Debug("stage started", logging.String(logging.FieldEventType, "stage_start"))

	type result struct {
		value T
		err   error
	}
	results := make(chan result, 1)
	go func() {
		var r result
		defer func() {
			if p := recover(); p != nil {
				stageLogger.Error("stage client panicked",
					logging.Any("panic", p),
					logging.Alert("stage_panic"),
				)
				r = result{err: services.Wrap(services.ErrStageRequest, stageName, "", fmt.Sprintf("stage client panicked: %v", p), nil)}
			}
			results <- r
		}()
		r.value, r.err = call(stageCtx)
	}()

	var r result
	select {
	case r = <-results:
	case <-stageCtx.Done():
		select {
		case r = <-results:
		default:
			r.err = stageCtx.Err()
		}
	}

	if r.err != nil {
		r.err = classifyStageError(ctx, stageCtx, stageName, timeout, r.err)
		return r.value, r.err
	}
	stageLogger.Debug("stage finished",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(started)),
	)
	return r.value, nil
}

// errDaemonStopped marks failures caused by daemon shutdown.
var errDaemonStopped = errors.New("daemon stopped")

func classifyStageError(parent, stageCtx context.Context, stageName string, timeout time.Duration, err error) error {
	switch {
	case parent.Err() != nil:
		return errors.Join(errDaemonStopped, err)
	case errors.Is(stageCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, services.ErrTimeout):
		return services.Wrap(services.ErrTimeout, stageName, "", fmt.Sprintf("timed out after %s", timeout), err)
	default:
		return err
	}
}
