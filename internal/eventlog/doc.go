// Package eventlog holds the user-facing record of what the workflow did:
// timestamped, categorized entries appended by the engine and the batch
// controller and read by the CLI and HTTP API.
//
// The log may be bounded. Eviction always appends a warning record carrying
// the dropped count, so truncation is visible to readers.
package eventlog
