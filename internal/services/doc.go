// Package services defines shared utilities consumed by the workflow engine
// and the remote stage clients.
//
// Key responsibilities:
//   - Context helpers that stamp work item IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that translate stage
//     failures into the per-item failure taxonomy (missing credential, failed
//     request, malformed response).
//
// Stage clients should return errors built with Wrap so the engine can record
// a consistent error kind and message on the failed item.
package services
