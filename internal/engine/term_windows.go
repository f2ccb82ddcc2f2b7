//go:build windows

package engine

import (
	"os"
	"syscall"
)

func trapSignals(interactive bool) []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

func ignoreSignals() []os.Signal {
	return nil
}

func signalNumber(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return int(s)
	}
	return -1
}
