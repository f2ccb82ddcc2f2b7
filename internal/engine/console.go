package engine

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const consoleHelp = `key    function
?      show this help
+      increase verbosity
-      decrease verbosity
c      Send command to first matching filter supporting it
C      Send/Queue command to all matching filters
q      quit
`

// checkKeyboardInteraction polls for one typed key (at most once per
// 100 ms) and dispatches it. It returns ErrExit when the user asked to
// stop.
func (e *Engine) checkKeyboardInteraction(curTime int64) error {
	if e.term.signalCount() > 0 {
		return ErrExit
	}

	key := -1
	if curTime-e.lastKeyPollAt >= 100_000 {
		key = e.term.readKey()
		e.lastKeyPollAt = curTime
	}

	switch key {
	case 'q':
		e.log.Info("[q] command received. Exiting.")
		return ErrExit
	case '+':
		e.adjustVerbosity(1)
	case '-':
		e.adjustVerbosity(-1)
	case 'c', 'C':
		e.handleFilterCommand(key == 'C')
	case '?':
		fmt.Fprint(os.Stderr, consoleHelp)
	}

	return nil
}

// adjustVerbosity raises or lowers the log level one notch per keypress.
func (e *Engine) adjustVerbosity(dir int) {
	if e.levelVar == nil {
		return
	}
	// slog levels grow less verbose upwards, so "+" subtracts.
	e.levelVar.Set(e.levelVar.Level() - slog.Level(4*dir))
	e.log.Info("log level changed", slog.String("level", e.levelVar.Level().String()))
}

// handleFilterCommand prompts for `<target>|all <time>|-1 <command>[ <arg>]`
// and forwards it to the filter graphs: immediately when time < 0, queued
// for the given stream time otherwise (broadcast form only).
func (e *Engine) handleFilterCommand(broadcast bool) {
	fmt.Fprintf(os.Stderr, "\nEnter command: <target>|all <time>|-1 <command>[ <argument>]\n")

	line := e.readCommandLine()

	target, at, command, arg, ok := parseFilterCommand(line)
	if !ok {
		e.log.Error("parse error, at least 3 arguments were expected",
			slog.String("input", line))
		return
	}

	e.log.Debug("processing command",
		slog.String("target", target),
		slog.Float64("time", at),
		slog.String("command", command),
		slog.String("arg", arg))

	for _, fg := range e.filterGraphs {
		if fg.Runtime == nil {
			continue
		}
		switch {
		case at < 0:
			res, err := fg.Runtime.SendCommand(target, command, arg, !broadcast)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Command reply for graph %d: error: %v\n", fg.Index, err)
			} else {
				fmt.Fprintf(os.Stderr, "Command reply for graph %d:\n%s\n", fg.Index, res)
			}
		case !broadcast:
			fmt.Fprintf(os.Stderr, "Queuing commands only on filters supporting the specific command is unsupported\n")
		default:
			if err := fg.Runtime.QueueCommand(target, command, arg, at); err != nil {
				fmt.Fprintf(os.Stderr, "Queuing command failed with error %v\n", err)
			}
		}
	}
}

// readCommandLine collects typed bytes until newline, echoing while the
// prompt is up.
func (e *Engine) readCommandLine() string {
	var sb strings.Builder

	setEcho(true)
	defer func() {
		setEcho(false)
		fmt.Fprintln(os.Stderr)
	}()

	for sb.Len() < 4095 {
		k := e.term.readKey()
		if k < 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		if k == '\n' || k == '\r' {
			break
		}
		sb.WriteByte(byte(k))
	}

	return sb.String()
}

// parseFilterCommand splits `<target> <time> <command>[ <arg>]`. At least
// three fields are required; everything after the third stays in arg.
func parseFilterCommand(line string) (target string, at float64, command, arg string, ok bool) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 4)
	if len(fields) < 3 {
		return "", 0, "", "", false
	}

	at, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return "", 0, "", "", false
	}

	target = fields[0]
	command = fields[2]
	if len(fields) == 4 {
		arg = strings.TrimSuffix(fields[3], "\n")
	}
	return target, at, command, arg, true
}
