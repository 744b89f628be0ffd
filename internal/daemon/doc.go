// Package daemon coordinates the long-running reimagine process: the batch
// controller that user commands go through, and the HTTP API.
//
// Daemon wraps the queue store, event log and workflow engine behind the
// operations a presentation layer needs (add files, start, stop, retry,
// remove, reset, clear finished) and enforces the rules that keep an
// in-flight item consistent: active items cannot be removed, and queue-wide
// resets are rejected while a batch is running. It owns the flock that keeps
// a single daemon per state directory.
//
// Change notification is push-based: Subscribe registers a callback that
// fires after any store or event log change made through the daemon or the
// engine.
package daemon
