// Package main is the entry point for the transmux application.
package main

import (
	"os"

	"github.com/jmylchreest/transmux/cmd/transmux/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
