//go:build !windows

package main

import (
	"os"

	sys "golang.org/x/sys/unix"
)

// interruptSignals cancel the running symbolizer.
var interruptSignals = []os.Signal{sys.SIGINT, sys.SIGTERM}
