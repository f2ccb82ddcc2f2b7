//go:build linux

package engine

import (
	"os"

	"golang.org/x/sys/unix"
)

// setEcho toggles TTY echo while the console prompts for a command line.
func setEcho(on bool) {
	fd := int(os.Stdin.Fd())
	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return
	}
	if on {
		tio.Lflag |= unix.ECHO
	} else {
		tio.Lflag &^= unix.ECHO
	}
	unix.IoctlSetTermios(fd, unix.TCSETS, tio)
}
