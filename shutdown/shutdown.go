// Package shutdown reports the signals that should end the process.
package shutdown

import (
	"os"
	"os/signal"
)

// Signals returns a channel that receives termination signals and a func
// that stops delivery.
func Signals() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, terminate...)
	return ch, func() { signal.Stop(ch) }
}
