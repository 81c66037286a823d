// Package signal ties process shutdown signals to a context.
package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Shutdown returns a child of parent that is cancelled on SIGINT or SIGTERM,
// so `serve` and `mcp serve` drain in-flight sends before exiting.
func Shutdown(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
