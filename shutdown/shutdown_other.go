//go:build !windows

package shutdown

import (
	"os"
	"syscall"
)

var terminate = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
