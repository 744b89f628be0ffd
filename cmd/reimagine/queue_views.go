package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"reimagine/internal/api"
)

func buildQueueStatusRows(stats api.Stats) [][]string {
	if stats.Total == 0 {
		return nil
	}
	rows := make([][]string, 0, 6)
	for _, entry := range []struct {
		label string
		count int
	}{
		{"Pending", stats.Pending},
		{"Analyzing", stats.Analyzing},
		{"Generating", stats.Generating},
		{"Completed", stats.Completed},
		{"Failed", stats.Failed},
	} {
		if entry.count == 0 {
			continue
		}
		rows = append(rows, []string{entry.label, fmt.Sprintf("%d", entry.count)})
	}
	rows = append(rows, []string{"Total", fmt.Sprintf("%d", stats.Total)})
	return rows
}

// buildQueueListRows keeps the daemon's queue order.
func buildQueueListRows(items []api.QueueItem) [][]string {
	if len(items) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			name = "Unknown"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", item.ID),
			name,
			formatStatusLabel(item.Status),
			formatSize(item.SourceBytes),
			formatDisplayTime(item.CreatedAt),
			itemNote(item),
		})
	}
	return rows
}

func itemNote(item api.QueueItem) string {
	switch {
	case item.ErrorMessage != "":
		return truncate(item.ErrorMessage, 48)
	case item.Result != nil && item.Result.URL != "" && item.Result.Bytes == 0:
		return "result by reference"
	case item.Result != nil:
		return "result " + formatSize(item.Result.Bytes)
	default:
		return ""
	}
}

func formatStatusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return ""
	}
	if status == "error" {
		return "Failed"
	}
	parts := strings.Split(status, "_")
	for i, part := range parts {
		lower := strings.ToLower(part)
		if lower == "" {
			continue
		}
		parts[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(parts, " ")
}

func formatDisplayTime(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.Local().Format("2006-01-02 15:04:05")
	}
	return value
}

func formatSize(bytes int) string {
	if bytes <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(bytes))
}

func truncate(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
