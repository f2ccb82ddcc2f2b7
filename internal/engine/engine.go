package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
)

// Process exit codes.
const (
	ExitSuccess           = 0
	ExitSetupError        = 1
	ExitErrorRateExceeded = 69
	ExitSignalStorm       = 123
	ExitInterrupted       = 255
)

// QP2Lambda converts between quantizer scale and lambda units, matching
// the scale encoders report Quality in.
const QP2Lambda = 118

// Options is the pre-parsed configuration the engine consumes. Option
// parsing itself happens upstream.
type Options struct {
	// StdinInteraction enables the interactive keyboard console and TTY
	// raw mode when standard input is a terminal.
	StdinInteraction bool

	DoBenchmark    bool
	DoBenchmarkAll bool

	// PrintStats selects periodic report emission: 0 quiet, 1 directly to
	// stderr, 2 through the logger.
	PrintStats int

	// StatsPeriod is the minimum interval between periodic reports.
	StatsPeriod time.Duration

	// CopyTS preserves input timestamps instead of zero-basing them.
	CopyTS      bool
	StartAtZero bool

	// ExitOnError aborts the transcode on demuxer read errors instead of
	// treating them as end of file.
	ExitOnError bool

	// MaxErrorRate is the decode error rate ceiling, in [0,1], where a
	// stream's rate is decode errors / (decoded frames + decode errors). A
	// nonzero rate at or above it fails the transcode with
	// ExitErrorRateExceeded.
	MaxErrorRate float64

	// VStatsPath, when set, receives one line of statistics per muxed
	// video packet.
	VStatsPath string

	// Progress, when set, receives machine-readable progress blocks.
	Progress io.Writer
}

// Engine supervises one transcode: the full bipartite graph of input
// streams, filter graphs, and output streams. It is driven by a single
// goroutine; external collaborators may thread internally.
type Engine struct {
	opts Options
	log  *slog.Logger

	runID ulid.ULID

	inputFiles   []*InputFile
	outputFiles  []*OutputFile
	filterGraphs []*FilterGraph

	term *terminal

	clock        *benchClock
	benchStart   benchTimes
	benchCurrent benchTimes

	nbFramesDup  int64
	nbFramesDrop int64

	copyTSFirstPTS int64

	// Periodic report state.
	lastReportAt int64
	firstReport  bool

	// Console state.
	lastKeyPollAt int64
	levelVar      *slog.LevelVar

	vstats *os.File

	errRateExceeded bool
}

// New returns an engine for the given options. Files and graphs are
// registered afterwards with AddInput, AddOutput, and AddFilterGraph.
func New(opts Options, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		opts:           opts,
		log:            log,
		runID:          ulid.Make(),
		term:           newTerminal(opts.StdinInteraction, log),
		clock:          newBenchClock(),
		copyTSFirstPTS: NoPTS,
		lastReportAt:   -1,
		firstReport:    true,
	}
	e.benchStart = e.clock.now()
	e.benchCurrent = e.benchStart
	return e
}

// SetLevelVar hands the engine the level knob of the process logger so
// the console's +/- keys can adjust verbosity at runtime.
func (e *Engine) SetLevelVar(lv *slog.LevelVar) {
	e.levelVar = lv
}

// RunID returns the identifier stamped into this run's logs.
func (e *Engine) RunID() string {
	return e.runID.String()
}

// AddInput registers an input file. The file keeps the index it was
// created with; files must be added in index order.
func (e *Engine) AddInput(f *InputFile) {
	e.inputFiles = append(e.inputFiles, f)
}

// AddOutput registers an output file.
func (e *Engine) AddOutput(of *OutputFile) {
	e.outputFiles = append(e.outputFiles, of)
}

// AddFilterGraph registers a filter graph.
func (e *Engine) AddFilterGraph(fg *FilterGraph) {
	e.filterGraphs = append(e.filterGraphs, fg)
}

// InputFiles returns the registered input files.
func (e *Engine) InputFiles() []*InputFile {
	return e.inputFiles
}

// OutputFiles returns the registered output files.
func (e *Engine) OutputFiles() []*OutputFile {
	return e.outputFiles
}

// DecodeInterrupt is the cancellation callback handed to blocking demuxer
// I/O. Before the main loop starts, the first termination signal makes it
// report true; once the loop is running the first signal is left to the
// loop itself and only a second one makes it report true.
func (e *Engine) DecodeInterrupt() bool {
	return e.term.interrupted()
}

// closeOutputStream marks the encoder half of the stream finished and, if
// the stream is managed by a sync queue, tells the queue so linked
// streams can close in step.
func (e *Engine) closeOutputStream(ost *OutputStream) {
	of := e.outputFiles[ost.FileIndex]
	ost.FinishEncoder()

	if ost.SQIdxEncode >= 0 && of.SQEncode != nil {
		of.SQEncode.SendFinish(ost.SQIdxEncode)
	}
}

// resetEagain clears the no-data markers everywhere: any progress on any
// file can unblock the rest of the pipeline.
func (e *Engine) resetEagain() {
	for _, f := range e.inputFiles {
		f.eagain = false
	}
	for ost := e.nextOutputStream(nil); ost != nil; ost = e.nextOutputStream(ost) {
		ost.Unavailable = false
	}
}

// reapFilters drains ready frames from every configured graph into their
// encoders.
func (e *Engine) reapFilters(flush bool) error {
	for _, fg := range e.filterGraphs {
		if fg.Runtime == nil {
			continue
		}
		if err := fg.Runtime.ReapFrames(flush); err != nil {
			return err
		}
	}
	return nil
}

// printStreamMaps logs the input→filter→output wiring once at startup.
func (e *Engine) printStreamMaps() {
	e.log.Info("stream mapping", slog.String("run_id", e.runID.String()))
	for ist := e.nextInputStream(nil); ist != nil; ist = e.nextInputStream(ist) {
		for _, fil := range ist.Filters {
			if fil.Graph().IsSimple() {
				continue
			}
			attrs := []any{
				slog.String("from", fmt.Sprintf("%d:%d", ist.FileIndex, ist.Index)),
				slog.String("codec", ist.CodecName),
				slog.String("to", fil.Name()),
			}
			if len(e.filterGraphs) > 1 {
				attrs = append(attrs, slog.Int("graph", fil.Graph().Index))
			}
			e.log.Info("  stream -> filter", attrs...)
		}
	}

	for ost := e.nextOutputStream(nil); ost != nil; ost = e.nextOutputStream(ost) {
		switch {
		case ost.Filter != nil && !ost.Filter.Graph().IsSimple():
			attrs := []any{
				slog.String("from", ost.Filter.Name()),
				slog.String("to", fmt.Sprintf("%d:%d", ost.FileIndex, ost.Index)),
			}
			if len(e.filterGraphs) > 1 {
				attrs = append(attrs, slog.Int("graph", ost.Filter.Graph().Index))
			}
			e.log.Info("  filter -> stream", attrs...)
		case ost.Source != nil:
			mode := "copy"
			if ost.Enc != nil {
				mode = "transcode"
			}
			e.log.Info("  stream -> stream",
				slog.String("from", fmt.Sprintf("%d:%d", ost.Source.FileIndex, ost.Source.Index)),
				slog.String("to", fmt.Sprintf("%d:%d", ost.FileIndex, ost.Index)),
				slog.String("mode", mode))
		}
	}
}

// transcodeStep advances the given output stream by one unit of upstream
// work: pick the input stream it needs, pull one packet for it, then
// harvest whatever the filter graphs made ready.
func (e *Engine) transcodeStep(ost *OutputStream) error {
	var ist *InputStream

	if ost.Filter != nil {
		fg := ost.Filter.Graph()
		if fg.Runtime == nil {
			return nil
		}
		var err error
		ist, err = fg.Runtime.TranscodeStep()
		if err != nil {
			return err
		}
		if ist == nil {
			// The graph is waiting on something other than input.
			return nil
		}
	} else {
		ist = ost.Source
		if ist == nil {
			return fmt.Errorf("output stream %d:%d has neither filter nor source", ost.FileIndex, ost.Index)
		}
	}

	err := e.processInput(ist.FileIndex)
	if errors.Is(err, ErrAgain) {
		if e.inputFiles[ist.FileIndex].eagain {
			ost.Unavailable = true
		}
		return nil
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	return e.reapFilters(false)
}

// Transcode runs the main supervision loop until every output stream is
// finished or a termination signal arrives. The returned error reflects
// transcode failures; signal and error-rate outcomes are folded into
// ExitCode.
func (e *Engine) Transcode() error {
	var ret error

	e.printStreamMaps()

	e.errRateExceeded = false
	e.term.markInitDone()

	if e.opts.StdinInteraction {
		e.log.Info("Press [q] to stop, [?] for help")
	}

	if e.opts.VStatsPath != "" {
		f, err := os.Create(e.opts.VStatsPath)
		if err != nil {
			return fmt.Errorf("opening vstats file %s: %w", e.opts.VStatsPath, err)
		}
		e.vstats = f
	}

	timerStart := e.clock.now().realUS

	for !e.term.sigtermReceived() {
		curTime := e.clock.now().realUS

		if e.opts.StdinInteraction {
			if err := e.checkKeyboardInteraction(curTime); err != nil {
				break
			}
		}

		ost, err := e.chooseOutput()
		if errors.Is(err, ErrAgain) {
			e.resetEagain()
			time.Sleep(10 * time.Millisecond)
			continue
		} else if err != nil {
			e.log.Debug("no more output streams to write to, finishing")
			break
		}

		if err := e.transcodeStep(ost); err != nil && !errors.Is(err, io.EOF) {
			e.log.Error("error while transcoding", slog.String("error", err.Error()))
			ret = err
			break
		}

		e.printReport(false, timerStart, curTime)
	}

	// At the end of stream, flush the decoder buffers and check each
	// stream's decode error rate.
	for ist := e.nextInputStream(nil); ist != nil; ist = e.nextInputStream(ist) {
		if !e.inputFiles[ist.FileIndex].eofReached {
			e.processInputPacket(ist, nil, false)
		}

		var errRate float64
		if ist.FramesDecoded > 0 || ist.DecodeErrors > 0 {
			errRate = float64(ist.DecodeErrors) / float64(ist.FramesDecoded+ist.DecodeErrors)
		}
		if errRate > 0 && errRate >= e.opts.MaxErrorRate {
			e.log.Error(fmt.Sprintf("Decode error rate %g exceeds maximum %g", errRate, e.opts.MaxErrorRate),
				slog.String("stream", fmt.Sprintf("%d:%d", ist.FileIndex, ist.Index)))
			e.errRateExceeded = true
		} else if errRate > 0 {
			e.log.Debug("decode error rate",
				slog.Float64("rate", errRate),
				slog.String("stream", fmt.Sprintf("%d:%d", ist.FileIndex, ist.Index)))
		}
	}

	e.flushEncoders()

	e.term.exit()

	for _, of := range e.outputFiles {
		if of.Mux == nil {
			continue
		}
		if err := of.Mux.WriteTrailer(); err != nil {
			e.log.Error("error writing trailer",
				slog.String("file", of.Name),
				slog.String("error", err.Error()))
			ret = errors.Join(ret, err)
		}
	}

	e.printReport(true, timerStart, e.clock.now().realUS)

	if e.vstats != nil {
		if err := e.vstats.Close(); err != nil {
			e.log.Error("error closing vstats file, loss of information possible",
				slog.String("path", e.opts.VStatsPath),
				slog.String("error", err.Error()))
		}
		e.vstats = nil
	}

	return ret
}

// flushEncoders drains every encoder-backed output stream.
func (e *Engine) flushEncoders() {
	for ost := e.nextOutputStream(nil); ost != nil; ost = e.nextOutputStream(ost) {
		if ost.Enc == nil {
			continue
		}
		if err := ost.Enc.Flush(); err != nil {
			e.log.Error("error flushing encoder",
				slog.String("stream", fmt.Sprintf("%d:%d", ost.FileIndex, ost.Index)),
				slog.String("error", err.Error()))
		}
		ost.FinishEncoder()
	}
}

// ErrRateExceeded reports whether any input stream's decode error rate
// exceeded the configured maximum.
func (e *Engine) ErrRateExceeded() bool {
	return e.errRateExceeded
}

// ExitCode folds the transcode result, signal state, and error-rate gate
// into the process exit code.
func (e *Engine) ExitCode(transcodeErr error) int {
	switch {
	case e.term.signalCount() > 0:
		return ExitInterrupted
	case e.errRateExceeded:
		return ExitErrorRateExceeded
	case transcodeErr != nil:
		return ExitSetupError
	default:
		return ExitSuccess
	}
}

// Run installs the terminal controller, runs the transcode, and tears
// everything down. It returns the process exit code.
func (e *Engine) Run() int {
	e.term.init()
	defer e.Cleanup()

	if len(e.inputFiles) == 0 || len(e.outputFiles) == 0 {
		e.log.Error("at least one input and one output must be configured")
		return ExitSetupError
	}

	ti := e.clock.now()
	e.benchCurrent = ti

	err := e.Transcode()
	if err != nil && e.term.signalCount() == 0 {
		e.log.Info("Conversion failed!")
	}

	if err == nil && e.opts.DoBenchmark {
		t := e.clock.now()
		e.log.Info("bench",
			slog.Float64("utime_s", float64(t.userUS-ti.userUS)/1e6),
			slog.Float64("stime_s", float64(t.sysUS-ti.sysUS)/1e6),
			slog.Float64("rtime_s", float64(t.realUS-ti.realUS)/1e6))
	}

	return e.ExitCode(err)
}

// Cleanup releases everything in teardown order: filter graphs first,
// then output files, then input files. It is safe to call more than once.
func (e *Engine) Cleanup() {
	if e.opts.DoBenchmark {
		if rss := e.clock.maxRSS(); rss > 0 {
			e.log.Info("bench", slog.Int64("maxrss_kb", rss/1024))
		}
	}

	for _, fg := range e.filterGraphs {
		fg.Runtime = nil
	}
	e.filterGraphs = nil
	e.outputFiles = nil
	e.inputFiles = nil

	if sig := e.term.sigtermSignal(); sig != 0 {
		e.log.Info("Exiting normally, received signal", slog.Int("signal", sig))
	}

	e.term.exit()
	e.term.markExited()
}
