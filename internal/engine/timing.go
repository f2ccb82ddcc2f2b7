package engine

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Rational is an exact time base: one tick lasts Num/Den seconds.
type Rational struct {
	Num int64
	Den int64
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// IsValid reports whether the time base is usable for rescaling.
func (r Rational) IsValid() bool {
	return r.Num > 0 && r.Den > 0
}

// Rescale converts a into the dst time base, rounding to the nearest tick
// with halfway cases away from zero. NoPTS passes through unchanged.
func Rescale(a int64, src, dst Rational) int64 {
	if a == NoPTS {
		return NoPTS
	}
	return rescaleRnd(a, src.Num*dst.Den, src.Den*dst.Num)
}

// RescaleToMicro converts a timestamp into the canonical microsecond base.
func RescaleToMicro(a int64, src Rational) int64 {
	return Rescale(a, src, MicroTimeBase)
}

func rescaleRnd(a, b, c int64) int64 {
	if a < 0 {
		return -rescaleRnd(-a, b, c)
	}
	return (a*b + c/2) / c
}

// benchTimes is one sample of the three benchmark clocks, in microseconds.
type benchTimes struct {
	realUS int64
	userUS int64
	sysUS  int64
}

// benchClock samples real, user, and system time for this process.
type benchClock struct {
	origin time.Time
	proc   *process.Process
}

func newBenchClock() *benchClock {
	c := &benchClock{origin: time.Now()}
	// Best effort: without a process handle user/sys stay zero.
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		c.proc = p
	}
	return c
}

func (c *benchClock) now() benchTimes {
	t := benchTimes{realUS: time.Since(c.origin).Microseconds()}
	if c.proc != nil {
		if times, err := c.proc.Times(); err == nil {
			t.userUS = int64(times.User * 1e6)
			t.sysUS = int64(times.System * 1e6)
		}
	}
	return t
}

// maxRSS returns the process's resident set size in bytes at the time of
// the call, or 0 if unavailable. It is a current sample, not a peak.
func (c *benchClock) maxRSS() int64 {
	if c.proc == nil {
		return 0
	}
	mem, err := c.proc.MemoryInfo()
	if err != nil || mem == nil {
		return 0
	}
	return int64(mem.RSS)
}

// UpdateBenchmark snapshots the benchmark clocks and, when per-step
// benchmarking is on, logs the deltas since the previous call under the
// given label. An empty label only resets the reference sample.
func (e *Engine) UpdateBenchmark(format string, args ...any) {
	if !e.opts.DoBenchmarkAll {
		return
	}
	t := e.clock.now()
	if format != "" {
		e.log.Info("bench",
			slog.Int64("user_us", t.userUS-e.benchCurrent.userUS),
			slog.Int64("sys_us", t.sysUS-e.benchCurrent.sysUS),
			slog.Int64("real_us", t.realUS-e.benchCurrent.realUS),
			slog.String("step", fmt.Sprintf(format, args...)))
	}
	e.benchCurrent = t
}
