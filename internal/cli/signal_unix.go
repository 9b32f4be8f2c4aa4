//go:build !windows

package cli

import (
	"os"
	"syscall"
)

// interruptSignals cancel a running batch. SIGHUP covers a closed terminal
// so a spawned daemon is not left behind.
func interruptSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}
}
