package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reimagine/internal/config"
)

const userAgent = "reimagine/0.1"

// BatchSummary describes how a batch ended.
type BatchSummary struct {
	Completed int
	Failed    int
	Stopped   bool
	Duration  time.Duration
}

// Service defines the notification surface exposed to the workflow engine.
type Service interface {
	NotifyBatchStarted(ctx context.Context, pending int) error
	NotifyBatchFinished(ctx context.Context, summary BatchSummary) error
	NotifyItemFailed(ctx context.Context, name, message string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return Noop()
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return Noop()
	}

	timeout := cfg.NotificationTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:     topic,
		client:       &http.Client{Timeout: timeout},
		itemFailures: cfg.Notifications.ItemFailures,
	}
}

// Noop returns a Service that sends nothing.
func Noop() Service {
	return noopService{}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint     string
	client       *http.Client
	itemFailures bool
}

func (n *ntfyService) NotifyBatchStarted(ctx context.Context, pending int) error {
	return n.send(ctx, payload{
		title:   "Reimagine - Batch Started",
		message: fmt.Sprintf("Processing %d image(s)", pending),
		tags:    []string{"reimagine", "batch", "started"},
	})
}

func (n *ntfyService) NotifyBatchFinished(ctx context.Context, summary BatchSummary) error {
	duration := max(summary.Duration.Round(time.Second), 0)

	data := payload{tags: []string{"reimagine", "batch"}}
	switch {
	case summary.Stopped:
		data.title = "Reimagine - Batch Stopped"
		data.message = fmt.Sprintf("Stopped after %s: %d completed, %d failed", duration, summary.Completed, summary.Failed)
		data.tags = append(data.tags, "stopped")
	case summary.Failed == 0:
		data.title = "Reimagine - Batch Complete"
		data.message = fmt.Sprintf("%d image(s) reimagined in %s", summary.Completed, duration)
		data.tags = append(data.tags, "completed")
	default:
		data.title = "Reimagine - Batch Complete (with errors)"
		data.message = fmt.Sprintf("%d succeeded, %d failed in %s", summary.Completed, summary.Failed, duration)
		data.tags = append(data.tags, "completed", "warning")
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyItemFailed(ctx context.Context, name, message string) error {
	if !n.itemFailures {
		return nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "item"
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = "unknown error"
	}
	return n.send(ctx, payload{
		title:   "Reimagine - Item Failed",
		message: fmt.Sprintf("%s: %s", name, message),
		tags:    []string{"reimagine", "error"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Reimagine - Test",
		message:  "Notification system test",
		tags:     []string{"reimagine", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyBatchStarted(context.Context, int) error           { return nil }
func (noopService) NotifyBatchFinished(context.Context, BatchSummary) error { return nil }
func (noopService) NotifyItemFailed(context.Context, string, string) error  { return nil }
func (noopService) TestNotification(context.Context) error                  { return nil }
