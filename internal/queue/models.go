package queue

import (
	"encoding/base64"
	"strings"
	"time"
)

// Status represents the lifecycle of a work item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAnalyzing  Status = "analyzing"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// DaemonStopReason is the error message set when an in-flight item is failed
// because the daemon shut down underneath it.
const DaemonStopReason = "daemon stopped"

var allStatuses = []Status{
	StatusPending,
	StatusAnalyzing,
	StatusGenerating,
	StatusCompleted,
	StatusError,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusAnalyzing:  {},
	StatusGenerating: {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status. "failed" is accepted as
// an alias for the error status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	if normalized == "failed" {
		return StatusError, true
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessingStatus reports whether a status reflects an in-flight stage.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsTerminalStatus reports whether a status only changes through a user command.
func IsTerminalStatus(status Status) bool {
	return status == StatusCompleted || status == StatusError
}

// Image is an opaque handle to image bytes. Source images carry inline data;
// results carry inline data, a direct reference URL, or both.
type Image struct {
	Name     string
	MIMEType string
	Data     []byte
	URL      string
}

// IsEmpty reports whether the image has neither inline data nor a reference.
func (img Image) IsEmpty() bool {
	return len(img.Data) == 0 && strings.TrimSpace(img.URL) == ""
}

// DataURL renders the inline data as a base64 data URL.
func (img Image) DataURL() string {
	mime := img.MIMEType
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// Item represents one image's progress through the pipeline.
type Item struct {
	ID           int64
	Source       Image
	Status       Status
	Description  string
	Result       *Image
	ErrorMessage string
	ErrorKind    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// IsProcessing returns true when the item is inside a stage.
func (i Item) IsProcessing() bool {
	return IsProcessingStatus(i.Status)
}

// IsTerminal returns true for completed and failed items.
func (i Item) IsTerminal() bool {
	return IsTerminalStatus(i.Status)
}

// DisplayName returns the source name or a fallback based on the id.
func (i Item) DisplayName() string {
	if name := strings.TrimSpace(i.Source.Name); name != "" {
		return name
	}
	return "item"
}

// Stats aggregates item counts by status.
type Stats struct {
	Total      int
	Pending    int
	Analyzing  int
	Generating int
	Completed  int
	Failed     int
}

// Active returns the number of items inside a stage.
func (s Stats) Active() int {
	return s.Analyzing + s.Generating
}

// StatsOf folds a snapshot into aggregate counts.
func StatsOf(items []*Item) Stats {
	var stats Stats
	for _, item := range items {
		if item == nil {
			continue
		}
		stats.add(item.Status, 1)
	}
	return stats
}

func (s *Stats) add(status Status, count int) {
	s.Total += count
	switch status {
	case StatusPending:
		s.Pending += count
	case StatusAnalyzing:
		s.Analyzing += count
	case StatusGenerating:
		s.Generating += count
	case StatusCompleted:
		s.Completed += count
	case StatusError:
		s.Failed += count
	}
}

// DatabaseHealth captures diagnostic information about the in-memory store.
type DatabaseHealth struct {
	Driver         string
	SchemaVersion  int
	TableExists    bool
	ColumnsPresent []string
	MissingColumns []string
	IntegrityCheck bool
	TotalItems     int
	Error          string
}
