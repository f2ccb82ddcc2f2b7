package engine

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"golang.org/x/term"
)

const hardExitMsg = "Received > 3 system signals, hard exiting\n"

// terminal owns process signal handling and the controlling TTY. The TTY
// is a scoped resource: raw mode is entered only for interactive runs and
// restored on every exit path, including signal-driven ones.
type terminal struct {
	log         *slog.Logger
	interactive bool

	receivedSigterm   atomic.Int32
	receivedNbSignals atomic.Int32
	initDone          atomic.Bool
	exited            atomic.Bool

	ttyState   *term.State
	restoreTTY atomic.Bool

	keys chan byte

	sigCh    chan os.Signal
	initOnce sync.Once

	// exitFunc is swapped out in tests; the real thing never returns.
	exitFunc func(code int)
}

func newTerminal(interactive bool, log *slog.Logger) *terminal {
	return &terminal{
		log:         log,
		interactive: interactive,
		keys:        make(chan byte, 64),
		exitFunc:    os.Exit,
	}
}

// init installs signal handlers and, for interactive runs on a real TTY,
// puts the terminal into raw mode and starts the key reader.
func (t *terminal) init() {
	t.initOnce.Do(func() {
		stdinFD := int(os.Stdin.Fd())
		if t.interactive && term.IsTerminal(stdinFD) {
			if state, err := term.MakeRaw(stdinFD); err == nil {
				t.ttyState = state
				t.restoreTTY.Store(true)
			}
			go t.readKeys()
		}

		t.sigCh = make(chan os.Signal, 8)
		signal.Notify(t.sigCh, trapSignals(t.interactive)...)
		// signal.Ignore with an empty set would ignore everything.
		if ignored := ignoreSignals(); len(ignored) > 0 {
			signal.Ignore(ignored...)
		}
		go t.watchSignals()
	})
}

// watchSignals records each termination signal and restores the TTY. The
// fourth signal forces an immediate process exit with no teardown.
func (t *terminal) watchSignals() {
	for sig := range t.sigCh {
		t.receivedSigterm.Store(int32(signalNumber(sig)))
		n := t.receivedNbSignals.Add(1)
		t.restore()
		if n > 3 {
			// Destructors are skipped on purpose: a process that ignored
			// three signals cannot be trusted to shut down.
			os.Stderr.WriteString(hardExitMsg)
			t.exitFunc(ExitSignalStorm)
		}
	}
}

// readKeys feeds stdin bytes into the non-blocking key channel.
func (t *terminal) readKeys() {
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return
		}
		if n == 1 {
			select {
			case t.keys <- buf[0]:
			default:
				// Console is behind; drop rather than block the reader.
			}
		}
	}
}

// readKey returns the next typed byte, or -1 when none is pending.
func (t *terminal) readKey() int {
	select {
	case b := <-t.keys:
		return int(b)
	default:
		return -1
	}
}

// restore puts the TTY back into its original state. Safe to call from
// the signal path and more than once.
func (t *terminal) restore() {
	if t.restoreTTY.CompareAndSwap(true, false) {
		term.Restore(int(os.Stdin.Fd()), t.ttyState)
	}
}

// exit restores the terminal at the end of a run.
func (t *terminal) exit() {
	t.restore()
}

func (t *terminal) markInitDone() {
	t.initDone.Store(true)
}

func (t *terminal) markExited() {
	t.exited.Store(true)
}

func (t *terminal) signalCount() int {
	return int(t.receivedNbSignals.Load())
}

func (t *terminal) sigtermReceived() bool {
	return t.receivedSigterm.Load() != 0
}

func (t *terminal) sigtermSignal() int {
	return int(t.receivedSigterm.Load())
}

// interrupted implements the cancellation callback for blocking I/O: true
// once signals outnumber the initialization gate (0 before the main loop
// starts, 1 after), so a single signal cancels setup-time reads while a
// running loop handles the first signal itself.
func (t *terminal) interrupted() bool {
	gate := int32(0)
	if t.initDone.Load() {
		gate = 1
	}
	return t.receivedNbSignals.Load() > gate
}
