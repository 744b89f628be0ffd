// Package logging assembles structured slog loggers and formatting helpers used
// across reimagine.
//
// It owns the configurable console/JSON handlers, the per-session JSON log
// file, and log retention. Context-aware helpers tag log lines with work item
// IDs, stage names, and correlation IDs. The package also provides a no-op
// logger for tests and wiring code that cannot fail.
//
// This is the operator's record. The user-facing activity feed lives in the
// eventlog package.
package logging
