package engine

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
)

// printReport emits the periodic progress line and, when a progress sink
// is configured, the machine-readable key=value block.
//
// Reports are throttled to one per stats period. The very first report is
// additionally held back until every output file has been dumped, so the
// line never shows a half-initialized picture.
func (e *Engine) printReport(isLast bool, timerStart, curTime int64) {
	if e.opts.PrintStats == 0 && !isLast && e.opts.Progress == nil {
		return
	}

	if !isLast {
		if e.lastReportAt == -1 {
			e.lastReportAt = curTime
		}
		statsPeriod := e.opts.StatsPeriod.Microseconds()
		if (curTime-e.lastReportAt < statsPeriod && !e.firstReport) ||
			(e.firstReport && e.dumpedOutputs() < len(e.outputFiles)) {
			return
		}
		e.lastReportAt = curTime
	}

	t := float64(curTime-timerStart) / 1e6

	var totalSize int64 = -1
	if len(e.outputFiles) > 0 && e.outputFiles[0].Mux != nil {
		totalSize = e.outputFiles[0].Mux.FileSize()
	}

	var buf, script strings.Builder
	vid := false
	pts := int64(math.MinInt64) + 1

	for ost := e.nextOutputStream(nil); ost != nil; ost = e.nextOutputStream(ost) {
		q := float64(-1)
		if ost.Enc != nil {
			q = float64(ost.Quality) / QP2Lambda
		}

		if vid && ost.Type == MediaTypeVideo {
			fmt.Fprintf(&buf, "q=%2.1f ", q)
			fmt.Fprintf(&script, "stream_%d_%d_q=%.1f\n", ost.FileIndex, ost.Index, q)
		}
		if !vid && ost.Type == MediaTypeVideo {
			frameNumber := ost.PacketsWritten()
			fps := 0.0
			if t > 1 {
				fps = float64(frameNumber) / t
			}
			prec := 0
			if fps < 9.95 {
				prec = 1
			}
			fmt.Fprintf(&buf, "frame=%5d fps=%3.*f q=%3.1f ", frameNumber, prec, fps, q)
			fmt.Fprintf(&script, "frame=%d\n", frameNumber)
			fmt.Fprintf(&script, "fps=%.2f\n", fps)
			fmt.Fprintf(&script, "stream_%d_%d_q=%.1f\n", ost.FileIndex, ost.Index, q)
			if isLast {
				buf.WriteString("L")
			}

			vid = true
		}

		// The displayed time is the furthest point any output reached.
		if last := ost.LastMuxDTS(); last != NoPTS {
			if last > pts {
				pts = last
			}
			if e.opts.CopyTS {
				// Latch the first non-sentinel PTS so displayed time
				// starts at zero even with preserved input timestamps.
				if e.copyTSFirstPTS == NoPTS && pts != math.MinInt64+1 {
					e.copyTSFirstPTS = pts
				}
				if e.copyTSFirstPTS != NoPTS {
					pts -= e.copyTSFirstPTS
				}
			}
		}

		if isLast {
			e.nbFramesDrop += ost.LastDropped
		}
	}

	abs := pts
	if abs < 0 {
		abs = -abs
	}
	secs := abs / TimeBaseUS
	us := abs % TimeBaseUS
	mins := secs / 60
	secs %= 60
	hours := mins / 60
	mins %= 60
	hoursSign := ""
	if pts < 0 {
		hoursSign = "-"
	}

	bitrate := -1.0
	if pts != 0 && totalSize >= 0 {
		bitrate = float64(totalSize) * 8 / (float64(pts) / 1000.0)
	}
	speed := -1.0
	if t != 0 {
		speed = float64(pts) / float64(TimeBaseUS) / t
	}

	if totalSize < 0 {
		buf.WriteString("size=N/A time=")
	} else {
		fmt.Fprintf(&buf, "size=%8.0fkB time=", float64(totalSize)/1024.0)
	}
	if pts == NoPTS {
		buf.WriteString("N/A ")
	} else {
		fmt.Fprintf(&buf, "%s%02d:%02d:%02d.%02d ", hoursSign, hours, mins, secs, (100*us)/TimeBaseUS)
	}

	if bitrate < 0 {
		buf.WriteString("bitrate=N/A")
		script.WriteString("bitrate=N/A\n")
	} else {
		fmt.Fprintf(&buf, "bitrate=%6.1fkbits/s", bitrate)
		fmt.Fprintf(&script, "bitrate=%6.1fkbits/s\n", bitrate)
	}

	if totalSize < 0 {
		script.WriteString("total_size=N/A\n")
	} else {
		fmt.Fprintf(&script, "total_size=%d\n", totalSize)
	}
	if pts == NoPTS {
		script.WriteString("out_time_us=N/A\n")
		script.WriteString("out_time_ms=N/A\n")
		script.WriteString("out_time=N/A\n")
	} else {
		fmt.Fprintf(&script, "out_time_us=%d\n", pts)
		fmt.Fprintf(&script, "out_time_ms=%d\n", pts)
		fmt.Fprintf(&script, "out_time=%s%02d:%02d:%02d.%06d\n", hoursSign, hours, mins, secs, us)
	}

	if e.nbFramesDup > 0 || e.nbFramesDrop > 0 {
		fmt.Fprintf(&buf, " dup=%d drop=%d", e.nbFramesDup, e.nbFramesDrop)
	}
	fmt.Fprintf(&script, "dup_frames=%d\n", e.nbFramesDup)
	fmt.Fprintf(&script, "drop_frames=%d\n", e.nbFramesDrop)

	if speed < 0 {
		buf.WriteString(" speed=N/A")
		script.WriteString("speed=N/A\n")
	} else {
		fmt.Fprintf(&buf, " speed=%4.3gx", speed)
		fmt.Fprintf(&script, "speed=%4.3gx\n", speed)
	}

	if e.opts.PrintStats != 0 || isLast {
		end := "\r"
		if isLast {
			end = "\n"
		}
		if e.opts.PrintStats == 1 {
			fmt.Fprintf(os.Stderr, "%s    %s", buf.String(), end)
		} else {
			e.log.Info(buf.String())
		}
	}

	if e.opts.Progress != nil {
		state := "continue"
		if isLast {
			state = "end"
		}
		fmt.Fprintf(&script, "progress=%s\n", state)
		if _, err := io.WriteString(e.opts.Progress, script.String()); err != nil {
			e.log.Error("error writing progress report", slog.String("error", err.Error()))
		}
		if isLast {
			if c, ok := e.opts.Progress.(io.Closer); ok {
				if err := c.Close(); err != nil {
					e.log.Error("error closing progress log, loss of information possible",
						slog.String("error", err.Error()))
				}
			}
		}
	}

	e.firstReport = false
}

// dumpedOutputs counts output files whose headers have been written.
func (e *Engine) dumpedOutputs() int {
	n := 0
	for _, of := range e.outputFiles {
		if of.Dumped() {
			n++
		}
	}
	return n
}

// writeVideoStats appends one line to the vstats file for a muxed video
// packet.
func (e *Engine) writeVideoStats(ost *OutputStream) {
	if e.vstats == nil {
		return
	}

	of := e.outputFiles[ost.FileIndex]

	var size int64 = -1
	if of.Mux != nil {
		size = of.Mux.FileSize()
	}

	t := 0.0
	if last := ost.LastMuxDTS(); last != NoPTS {
		t = float64(last) / float64(TimeBaseUS)
	}

	bitrate := -1.0
	if t > 0 && size >= 0 {
		bitrate = float64(size) * 8 / t / 1000.0
	}

	q := float64(-1)
	if ost.Enc != nil {
		q = float64(ost.Quality) / QP2Lambda
	}

	fmt.Fprintf(e.vstats, "frame= %5d q= %2.1f size= %8d time= %0.3f br= %7.1fkbits/s\n",
		ost.PacketsWritten(), q, size, t, bitrate)
}
