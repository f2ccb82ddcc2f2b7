package engine

import (
	"io"
	"log/slog"
	"math"
)

// chooseOutput selects the output stream most in need of data: the live
// stream whose current presentation time is furthest behind. This is
// virtual-clock scheduling, not round-robin — the output lagging most
// pulls upstream work first, which keeps all outputs advancing together.
//
// It returns io.EOF when no stream needs output anymore and ErrAgain when
// the chosen stream is waiting on input that is not available yet.
func (e *Engine) chooseOutput() (*OutputStream, error) {
	optsMin := int64(math.MaxInt64)
	var ostMin *OutputStream

	for ost := e.nextOutputStream(nil); ost != nil; ost = e.nextOutputStream(ost) {
		var opts int64

		if ost.Filter != nil && ost.Filter.LastPTS() != NoPTS {
			opts = ost.Filter.LastPTS()
		} else {
			last := ost.LastMuxDTS()
			if last == NoPTS {
				opts = math.MinInt64
				e.log.Debug("cur_dts is invalid (this is harmless if it occurs once at the start per stream)",
					slog.String("stream", ost.Name),
					slog.Bool("initialized", ost.Initialized),
					slog.Bool("inputs_done", ost.InputsDone),
					slog.Int("finished", int(ost.Finished())))
			} else {
				opts = last
			}
		}

		// A stream that has never produced output and still has live
		// inputs wins outright: it must be primed before timestamps can
		// be compared at all.
		if !ost.Initialized && !ost.InputsDone && ost.Finished() == 0 {
			ostMin = ost
			break
		}
		if ost.Finished() == 0 && opts < optsMin {
			optsMin = opts
			ostMin = ost
		}
	}

	if ostMin == nil {
		return nil, io.EOF
	}
	if ostMin.Unavailable {
		return ostMin, ErrAgain
	}
	return ostMin, nil
}
