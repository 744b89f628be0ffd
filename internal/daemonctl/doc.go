// Package daemonctl launches, locates, and terminates the reimagine daemon
// process on behalf of CLI commands.
package daemonctl
