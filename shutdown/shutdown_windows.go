//go:build windows

package shutdown

import "os"

var terminate = []os.Signal{os.Interrupt}
