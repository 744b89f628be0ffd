// Package api defines wire-format types and converters shared by the IPC and
// HTTP layers. It translates queue items, event log records and workflow
// status into camelCase DTOs so clients never depend on internal types.
//
// Per-item actions (retry, remove) report an outcome for every requested id
// rather than a bare count; RetryItemsByID and RemoveItemsByID drive any
// service that can act on one id at a time.
//
// Timestamps use RFC3339 with milliseconds. Image bytes never appear in
// QueueItem; callers fetch results through the dedicated result endpoints.
package api
