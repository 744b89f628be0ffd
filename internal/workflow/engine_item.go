package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"reimagine/internal/eventlog"
	"reimagine/internal/logging"
	"reimagine/internal/queue"
	"reimagine/internal/services"
	"reimagine/internal/stage"
)

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCompleted
	outcomeFailed
)

// processItem drives one item from pending to a terminal status. A returned
// error means the store no longer agrees with the engine about an item it
// owns; stage failures are recorded on the item and never returned.
func (e *Engine) processItem(ctx, storeCtx context.Context, item *queue.Item, settings Settings) (outcome, error) {
	itemCtx := services.WithItemID(ctx, item.ID)
	logger := e.logger.With(logging.Int64(logging.FieldItemID, item.ID))
	name := item.DisplayName()
	started := time.Now().UTC()

	ok, err := e.store.Update(storeCtx, item.ID, queue.Patch{
		IfStatus:    queue.Ptr(queue.StatusPending),
		Status:      queue.Ptr(queue.StatusAnalyzing),
		Description: queue.Ptr(""),
		ClearResult: true,
		ClearError:  true,
		StartedAt:   &started,
	})
	if err != nil {
		return outcomeSkipped, fmt.Errorf("item %d: enter analyzing: %w", item.ID, err)
	}
	if !ok {
		// Removed by the user between lookup and transition.
		logger.Debug("pending item vanished before analysis")
		return outcomeSkipped, nil
	}
	e.onChange()
	logger.Info("item started",
		logging.String(logging.FieldEventType, "item_started"),
		logging.String("source", name),
	)
	e.events.AppendItem(eventlog.SeverityInfo, item.ID, "Analyzing "+name, nil)

	description, err := e.analyze(itemCtx, storeCtx, item, settings, logger)
	if err != nil {
		return e.fail(ctx, storeCtx, item, queue.StatusAnalyzing, stage.NameAnalysis, err, logger)
	}

	ok, err = e.store.Update(storeCtx, item.ID, queue.Patch{
		IfStatus:    queue.Ptr(queue.StatusAnalyzing),
		Status:      queue.Ptr(queue.StatusGenerating),
		Description: &description,
	})
	if err != nil {
		return outcomeSkipped, fmt.Errorf("item %d: enter generating: %w", item.ID, err)
	}
	if !ok {
		return outcomeSkipped, fmt.Errorf("item %d left analyzing while the engine owned it", item.ID)
	}
	e.onChange()
	e.events.AppendItem(eventlog.SeverityInfo, item.ID, "Generating "+name, map[string]any{"description_chars": len(description)})

	result, err := e.generate(itemCtx, item, description, settings, logger)
	if err != nil {
		return e.fail(ctx, storeCtx, item, queue.StatusGenerating, stage.NameGeneration, err, logger)
	}

	finished := time.Now().UTC()
	ok, err = e.store.Update(storeCtx, item.ID, queue.Patch{
		IfStatus:   queue.Ptr(queue.StatusGenerating),
		Status:     queue.Ptr(queue.StatusCompleted),
		Result:     &result,
		FinishedAt: &finished,
	})
	if err != nil {
		return outcomeSkipped, fmt.Errorf("item %d: record result: %w", item.ID, err)
	}
	if !ok {
		return outcomeSkipped, fmt.Errorf("item %d left generating while the engine owned it", item.ID)
	}
	e.onChange()
	e.rememberItem(storeCtx, item.ID)

	elapsed := finished.Sub(started)
	logger.Info("item completed",
		logging.String(logging.FieldEventType, "item_completed"),
		logging.String("source", name),
		logging.String("result", result.Name),
		logging.Bool("reference", result.URL != ""),
		logging.Duration("elapsed", elapsed),
	)
	e.events.AppendItem(eventlog.SeveritySuccess, item.ID, "Completed "+name, map[string]any{
		"elapsed_ms": elapsed.Milliseconds(),
	})
	return outcomeCompleted, nil
}

// analyze runs the analysis stage, streaming partials into the item's
// description. Partials arriving after the call returned are dropped.
func (e *Engine) analyze(ctx, storeCtx context.Context, item *queue.Item, settings Settings, logger *slog.Logger) (string, error) {
	if e.stages.Analyzer == nil {
		return "", services.Wrap(services.ErrConfiguration, stage.NameAnalysis, "", "no analysis stage configured", nil)
	}

	sink := &partialSink{
		write: func(text string) {
			ok, err := e.store.Update(storeCtx, item.ID, queue.Patch{
				IfStatus:    queue.Ptr(queue.StatusAnalyzing),
				Description: &text,
			})
			if err != nil {
				logger.Warn("partial description not stored", logging.Error(err))
				return
			}
			if ok {
				e.onChange()
			}
		},
		sampler: logging.NewStreamSampler(0),
		logger:  logger,
	}
	defer sink.close()

	description, err := runStage(ctx, stage.NameAnalysis, settings.StageTimeout, logger, func(stageCtx context.Context) (string, error) {
		return e.stages.Analyzer.Analyze(stageCtx, item.Source, settings.Analysis, sink.accept)
	})
	sink.close()
	if err != nil {
		return "", err
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return "", services.Wrap(services.ErrMalformedResponse, stage.NameAnalysis, "", "empty description", nil)
	}
	return description, nil
}

func (e *Engine) generate(ctx context.Context, item *queue.Item, description string, settings Settings, logger *slog.Logger) (queue.Image, error) {
	if e.stages.Generator == nil {
		return queue.Image{}, services.Wrap(services.ErrConfiguration, stage.NameGeneration, "", "no generation stage configured", nil)
	}
	result, err := runStage(ctx, stage.NameGeneration, settings.StageTimeout, logger, func(stageCtx context.Context) (queue.Image, error) {
		return e.stages.Generator.Generate(stageCtx, item.Source, description, settings.Generation)
	})
	if err != nil {
		return queue.Image{}, err
	}
	if result.IsEmpty() {
		return queue.Image{}, services.Wrap(services.ErrMalformedResponse, stage.NameGeneration, "", "no image in response", nil)
	}
	if strings.TrimSpace(result.Name) == "" {
		result.Name = "reimagined-" + item.DisplayName()
	}
	return result, nil
}

func (e *Engine) rememberItem(ctx context.Context, id int64) {
	item, err := e.store.GetByID(ctx, id)
	if err != nil || item == nil {
		return
	}
	e.setLastItem(item)
}

// partialSink serializes partial description writes and rejects any that
// arrive after close.
type partialSink struct {
	mu      sync.Mutex
	closed  bool
	write   func(string)
	sampler *logging.StreamSampler
	logger  *slog.Logger
}

func (s *partialSink) accept(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Debug("stale partial description ignored")
		return
	}
	if s.sampler.ShouldLog(len(text)) {
		s.logger.Debug("partial description", logging.Int("chars", len(text)))
	}
	s.write(text)
}

func (s *partialSink) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
