package workflow

import (
	"context"

	"reimagine/internal/logging"
	"reimagine/internal/queue"
	"reimagine/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running       bool
	StopRequested bool
	LastError     string
	LastItem      *queue.Item
	QueueStats    queue.Stats
	StageHealth   map[string]stage.Health
}

// Status returns the latest workflow information.
func (e *Engine) Status(ctx context.Context) StatusSummary {
	e.mu.Lock()
	summary := StatusSummary{
		Running:       e.running,
		StopRequested: e.running && e.stopRequested,
	}
	if e.lastErr != nil {
		summary.LastError = e.lastErr.Error()
	}
	if e.lastItem != nil {
		cp := *e.lastItem
		summary.LastItem = &cp
	}
	e.mu.Unlock()

	stats, err := e.store.Stats(ctx)
	if err != nil {
		e.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.QueueStats = stats

	settings := e.settings()
	summary.StageHealth = map[string]stage.Health{
		stage.NameAnalysis:   stageHealth(ctx, stage.NameAnalysis, e.stages.Analyzer, settings.Analysis),
		stage.NameGeneration: stageHealth(ctx, stage.NameGeneration, e.stages.Generator, settings.Generation),
	}
	return summary
}

func stageHealth(ctx context.Context, name string, client any, cfg stage.Config) stage.Health {
	if client == nil {
		return stage.Unhealthy(name, "stage not configured")
	}
	if checker, ok := client.(stage.HealthChecker); ok {
		return checker.HealthCheck(ctx, cfg)
	}
	return stage.Healthy(name)
}
