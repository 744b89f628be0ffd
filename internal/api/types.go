package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// QueueItem describes a work item in a transport-friendly format.
type QueueItem struct {
	ID             int64        `json:"id"`
	Name           string       `json:"name"`
	SourceMimeType string       `json:"sourceMimeType,omitempty"`
	SourceBytes    int          `json:"sourceBytes"`
	Status         string       `json:"status"`
	Description    string       `json:"description,omitempty"`
	Result         *ResultImage `json:"result,omitempty"`
	ErrorMessage   string       `json:"errorMessage,omitempty"`
	ErrorKind      string       `json:"errorKind,omitempty"`
	CreatedAt      string       `json:"createdAt,omitempty"`
	UpdatedAt      string       `json:"updatedAt,omitempty"`
	StartedAt      string       `json:"startedAt,omitempty"`
	FinishedAt     string       `json:"finishedAt,omitempty"`
}

// ResultImage summarizes a generated image without its bytes.
type ResultImage struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Bytes    int    `json:"bytes"`
	URL      string `json:"url,omitempty"`
}

// ResultPayload carries a generated image, inline or by reference.
type ResultPayload struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Stats aggregates item counts by status.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Analyzing  int `json:"analyzing"`
	Generating int `json:"generating"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// LogRecord is one event log entry.
type LogRecord struct {
	Seq       uint64         `json:"seq"`
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	ItemID    int64          `json:"itemId,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// LogBatch is a page of event log records. Next is the cursor to pass as
// since on the following request.
type LogBatch struct {
	Records []LogRecord `json:"records"`
	Next    uint64      `json:"next"`
	Dropped uint64      `json:"dropped"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running       bool          `json:"running"`
	StopRequested bool          `json:"stopRequested"`
	QueueStats    Stats         `json:"queueStats"`
	LastError     string        `json:"lastError,omitempty"`
	LastItem      *QueueItem    `json:"lastItem,omitempty"`
	StageHealth   []StageHealth `json:"stageHealth"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates runtime information about the daemon process.
type DaemonStatus struct {
	Workflow   WorkflowStatus `json:"workflow"`
	PID        int            `json:"pid"`
	StartedAt  string         `json:"startedAt,omitempty"`
	APIBind    string         `json:"apiBind,omitempty"`
	SocketPath string         `json:"socketPath,omitempty"`
	SessionLog string         `json:"sessionLog,omitempty"`
}

// StageSettings is the client-visible configuration of one stage. The API key
// itself is never returned.
type StageSettings struct {
	BaseURL     string `json:"baseUrl"`
	Model       string `json:"model"`
	Instruction string `json:"instruction,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
	HasAPIKey   bool   `json:"hasApiKey"`
}

// Settings is the live engine configuration.
type Settings struct {
	Analysis            StageSettings `json:"analysis"`
	Generation          StageSettings `json:"generation"`
	PacingDelayMS       int64         `json:"pacingDelayMs"`
	StageTimeoutSeconds int64         `json:"stageTimeoutSeconds"`
}

// StageSettingsUpdate changes the non-nil fields of a stage configuration.
type StageSettingsUpdate struct {
	BaseURL     *string `json:"baseUrl,omitempty"`
	APIKey      *string `json:"apiKey,omitempty"`
	Model       *string `json:"model,omitempty"`
	Instruction *string `json:"instruction,omitempty"`
	AspectRatio *string `json:"aspectRatio,omitempty"`
}

// SettingsUpdate changes the non-nil fields of the engine configuration.
type SettingsUpdate struct {
	Analysis            *StageSettingsUpdate `json:"analysis,omitempty"`
	Generation          *StageSettingsUpdate `json:"generation,omitempty"`
	PacingDelayMS       *int64               `json:"pacingDelayMs,omitempty"`
	StageTimeoutSeconds *int64               `json:"stageTimeoutSeconds,omitempty"`
}

// BulkActionResult reports a queue-wide action such as reset or clear.
type BulkActionResult struct {
	Applied bool   `json:"applied"`
	Count   int64  `json:"count"`
	Message string `json:"message,omitempty"`
}

// QueueListResponse wraps a queue listing.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueItemResponse wraps a single queue item.
type QueueItemResponse struct {
	Item QueueItem `json:"item"`
}

// EngineActionResult reports a start or stop request. Changed is false when
// the request was a no-op (already running, or nothing to stop).
type EngineActionResult struct {
	Changed bool `json:"changed"`
	Running bool `json:"running"`
}
