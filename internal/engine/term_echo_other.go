//go:build !linux

package engine

// setEcho is a no-op where termios echo toggling is unavailable.
func setEcho(on bool) {}
