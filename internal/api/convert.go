package api

import (
	"slices"
	"strings"
	"time"

	"reimagine/internal/eventlog"
	"reimagine/internal/queue"
	"reimagine/internal/stage"
	"reimagine/internal/workflow"
)

// FromQueueItem converts a queue record to its API representation.
func FromQueueItem(item *queue.Item) QueueItem {
	if item == nil {
		return QueueItem{}
	}
	dto := QueueItem{
		ID:             item.ID,
		Name:           item.DisplayName(),
		SourceMimeType: item.Source.MIMEType,
		SourceBytes:    len(item.Source.Data),
		Status:         string(item.Status),
		Description:    item.Description,
		ErrorMessage:   item.ErrorMessage,
		ErrorKind:      item.ErrorKind,
		CreatedAt:      formatTime(item.CreatedAt),
		UpdatedAt:      formatTime(item.UpdatedAt),
	}
	if item.StartedAt != nil {
		dto.StartedAt = formatTime(*item.StartedAt)
	}
	if item.FinishedAt != nil {
		dto.FinishedAt = formatTime(*item.FinishedAt)
	}
	if item.Result != nil && !item.Result.IsEmpty() {
		dto.Result = &ResultImage{
			Name:     item.Result.Name,
			MimeType: item.Result.MIMEType,
			Bytes:    len(item.Result.Data),
			URL:      item.Result.URL,
		}
	}
	return dto
}

// FromQueueItems converts a slice of queue records, skipping nil entries.
func FromQueueItems(items []*queue.Item) []QueueItem {
	out := make([]QueueItem, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, FromQueueItem(item))
	}
	return out
}

// ResultFromItem extracts the generated image of a completed item.
func ResultFromItem(item *queue.Item) (ResultPayload, bool) {
	if item == nil || item.Status != queue.StatusCompleted || item.Result == nil || item.Result.IsEmpty() {
		return ResultPayload{}, false
	}
	return ResultPayload{
		ID:       item.ID,
		Name:     item.Result.Name,
		MimeType: item.Result.MIMEType,
		Data:     item.Result.Data,
		URL:      item.Result.URL,
	}, true
}

// FromStats converts aggregate queue counts.
func FromStats(stats queue.Stats) Stats {
	return Stats{
		Total:      stats.Total,
		Pending:    stats.Pending,
		Analyzing:  stats.Analyzing,
		Generating: stats.Generating,
		Completed:  stats.Completed,
		Failed:     stats.Failed,
	}
}

// FromLogRecord converts an event log record.
func FromLogRecord(rec eventlog.Record) LogRecord {
	return LogRecord{
		Seq:       rec.Seq,
		ID:        rec.ID,
		Timestamp: formatTime(rec.Timestamp),
		Severity:  string(rec.Severity),
		Message:   rec.Message,
		ItemID:    rec.ItemID,
		Detail:    rec.Detail,
	}
}

// NewLogBatch converts a page of records fetched from the event log.
func NewLogBatch(records []eventlog.Record, next, dropped uint64) LogBatch {
	batch := LogBatch{
		Records: make([]LogRecord, 0, len(records)),
		Next:    next,
		Dropped: dropped,
	}
	for _, rec := range records {
		batch.Records = append(batch.Records, FromLogRecord(rec))
	}
	return batch
}

// FromStatusSummary converts a workflow status summary.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:       summary.Running,
		StopRequested: summary.StopRequested,
		QueueStats:    FromStats(summary.QueueStats),
		LastError:     summary.LastError,
		StageHealth:   StageHealthSlice(summary.StageHealth),
	}
	if summary.LastItem != nil {
		item := FromQueueItem(summary.LastItem)
		status.LastItem = &item
	}
	return status
}

// StageHealthSlice returns stage health ordered by name.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	out := make([]StageHealth, 0, len(health))
	for name, h := range health {
		if h.Name == "" {
			h.Name = name
		}
		out = append(out, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	slices.SortFunc(out, func(a, b StageHealth) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// FromSettings converts live engine settings, omitting credentials.
func FromSettings(settings workflow.Settings) Settings {
	return Settings{
		Analysis:            fromStageConfig(settings.Analysis),
		Generation:          fromStageConfig(settings.Generation),
		PacingDelayMS:       settings.PacingDelay.Milliseconds(),
		StageTimeoutSeconds: int64(settings.StageTimeout / time.Second),
	}
}

func fromStageConfig(cfg stage.Config) StageSettings {
	return StageSettings{
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Instruction: cfg.Instruction,
		AspectRatio: cfg.AspectRatio,
		HasAPIKey:   strings.TrimSpace(cfg.APIKey) != "",
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
