// Package main hosts the reimagine CLI entrypoint and command graph.
//
// The Cobra command tree runs the daemon in the foreground and translates
// terminal invocations into JSON-RPC calls against it: adding images,
// starting and stopping batches, queue maintenance, saving results, and
// tailing the event log.
package main
