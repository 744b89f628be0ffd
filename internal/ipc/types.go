package ipc

import "reimagine/internal/api"

// serviceName is the RPC receiver name shared by client and server.
const serviceName = "Reimagine"

// QueueItem mirrors the HTTP API queue DTO for IPC callers.
type QueueItem = api.QueueItem

// StartRequest starts a batch.
type StartRequest struct{}

// StartResponse reports whether a new batch was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest asks the running batch to stop after the current item.
type StopRequest struct{}

// StopResponse reports whether a batch was running.
type StopResponse struct {
	Stopping bool   `json:"stopping"`
	Message  string `json:"message"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon and workflow status.
type StatusResponse struct {
	api.DaemonStatus
}

// File is one source image sent by the CLI.
type File struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	Data     []byte `json:"data"`
}

// AddFilesRequest enqueues images in order.
type AddFilesRequest struct {
	Files []File `json:"files"`
}

// AddFilesResponse lists the created items.
type AddFilesResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueListRequest filters queue listing by status.
type QueueListRequest struct {
	Statuses []string `json:"statuses"`
}

// QueueListResponse contains queue entries.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
	Stats api.Stats   `json:"stats"`
}

// QueueDescribeRequest fetches a single queue item by id.
type QueueDescribeRequest struct {
	ID int64 `json:"id"`
}

// QueueDescribeResponse contains a single queue entry.
type QueueDescribeResponse struct {
	Item QueueItem `json:"item"`
}

// QueueResultRequest fetches the generated image of a completed item.
type QueueResultRequest struct {
	ID int64 `json:"id"`
}

// QueueResultResponse carries the generated image.
type QueueResultResponse struct {
	Result api.ResultPayload `json:"result"`
}

// QueueRetryRequest retries failed items. An empty list retries every failed item.
type QueueRetryRequest struct {
	IDs []int64 `json:"ids"`
}

// QueueRetryResponse reports an outcome per id.
type QueueRetryResponse struct {
	api.RetryItemsResult
}

// QueueRemoveRequest removes items by id.
type QueueRemoveRequest struct {
	IDs []int64 `json:"ids"`
}

// QueueRemoveResponse reports an outcome per id.
type QueueRemoveResponse struct {
	api.RemoveItemsResult
}

// QueueResetRequest removes every item.
type QueueResetRequest struct{}

// QueueResetResponse reports the reset.
type QueueResetResponse struct {
	api.BulkActionResult
}

// QueueClearFinishedRequest removes completed and failed items.
type QueueClearFinishedRequest struct{}

// QueueClearFinishedResponse reports the clear.
type QueueClearFinishedResponse struct {
	api.BulkActionResult
}

// LogTailRequest pages through the event log. With Tail set and Since zero
// the most recent Limit records are returned. With Follow set the call waits
// up to WaitMillis for new records.
type LogTailRequest struct {
	Since      uint64 `json:"since"`
	Limit      int    `json:"limit"`
	Tail       bool   `json:"tail"`
	Follow     bool   `json:"follow"`
	WaitMillis int    `json:"waitMillis"`
}

// LogTailResponse is a page of event log records.
type LogTailResponse struct {
	api.LogBatch
}

// LogClearRequest empties the event log.
type LogClearRequest struct{}

// LogClearResponse acknowledges a log clear.
type LogClearResponse struct {
	Cleared bool `json:"cleared"`
}

// DatabaseHealthRequest fetches store diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse contains store diagnostics.
type DatabaseHealthResponse struct {
	Driver         string   `json:"driver"`
	SchemaVersion  int      `json:"schemaVersion"`
	TableExists    bool     `json:"tableExists"`
	ColumnsPresent []string `json:"columnsPresent"`
	MissingColumns []string `json:"missingColumns"`
	IntegrityCheck bool     `json:"integrityCheck"`
	TotalItems     int      `json:"totalItems"`
	Error          string   `json:"error,omitempty"`
}
