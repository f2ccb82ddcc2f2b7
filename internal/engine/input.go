package engine

import (
	"errors"
	"io"
	"log/slog"
	"math"
)

// processInputPacket feeds one packet (or, with pkt nil, an EOF flush)
// into the input stream's decode and stream-copy paths. It reports true
// while more data is likely and false once the stream reached EOF.
//
// noEOF suppresses EOF propagation to stream-copy outputs during
// mid-file flushes such as an input loop restart.
func (e *Engine) processInputPacket(ist *InputStream, pkt *Packet, noEOF bool) bool {
	f := e.inputFiles[ist.FileIndex]
	dtsEst := NoPTS
	eofReached := false

	if ist.DecodingNeeded {
		err := ist.Dec.SendPacket(pkt, noEOF)
		if errors.Is(err, io.EOF) {
			eofReached = true
		}
	}
	if pkt == nil && !ist.DecodingNeeded {
		eofReached = true
	}

	if pkt != nil {
		dtsEst = pkt.DTSEst
	}

	durationExceeded := false
	if f.RecordingTime != math.MaxInt64 {
		startTime := int64(0)
		if e.opts.CopyTS {
			if f.StartTime != NoPTS {
				startTime += f.StartTime
			}
			if !e.opts.StartAtZero {
				startTime += f.StartTimeEffective
			}
		}
		if dtsEst != NoPTS && dtsEst >= f.RecordingTime+startTime {
			durationExceeded = true
		}
	}

	for _, ost := range ist.Outputs {
		if ost.Enc != nil || (pkt == nil && noEOF) {
			continue
		}

		if durationExceeded {
			e.closeOutputStream(ost)
			continue
		}

		e.streamCopy(ost, pkt, dtsEst)
	}

	return !eofReached
}

// streamCopy forwards one pass-through packet (or EOF) to an output
// stream. Key packets first fan out the fix-sub-duration heartbeat so a
// still-displayed subtitle gets its duration extended before the packet
// that outlives it is muxed.
func (e *Engine) streamCopy(ost *OutputStream, pkt *Packet, dtsEst int64) {
	of := e.outputFiles[ost.FileIndex]

	// A finished stream accepts nothing further.
	if ost.Finished() != 0 {
		return
	}

	if pkt != nil {
		if err := e.TriggerFixSubDurationHeartbeat(ost, pkt); err != nil {
			e.log.Error("fix_sub_duration heartbeat failed",
				slog.String("stream", ost.Name),
				slog.String("error", err.Error()))
		}
	}

	if of.Mux == nil {
		return
	}
	if err := of.Mux.WriteStreamCopy(ost, pkt, dtsEst); err != nil {
		e.log.Error("error muxing packet",
			slog.String("file", of.Name),
			slog.String("error", err.Error()))
		return
	}
	if pkt != nil {
		ost.Initialized = true
		of.MarkDumped()
		if ost.Type == MediaTypeVideo {
			e.writeVideoStats(ost)
		}
	}
}

// decodeFlush pushes EOF through every decoder of the file without
// closing its stream-copy outputs, then resets the decoders. Used when
// the input loops back to its start.
func (e *Engine) decodeFlush(f *InputFile) {
	for i, ist := range f.Streams {
		if ist.Discard {
			continue
		}

		for e.processInputPacket(ist, nil, true) {
		}

		if !ist.DecodingNeeded {
			continue
		}

		// Report the last frame duration to the demuxer thread so it
		// knows when it is safe to stop feeding this stream.
		if ist.Type == MediaTypeAudio && f.AudioDurationCh != nil && ist.SampleRate > 0 {
			f.AudioDurationCh <- LastFrameDuration{
				StreamIndex: i,
				Duration: Rescale(ist.NbSamples,
					Rational{Num: 1, Den: int64(ist.SampleRate)}, ist.TimeBase),
			}
		}

		ist.Dec.FlushBuffers()
	}
}

// processInput pulls one packet from the file's demuxer and routes it.
//
// It returns nil when a packet was processed, ErrAgain when the caller
// should retry later (no data, loop restart, or EOF just reached), and
// any other error when the transcode must stop.
func (e *Engine) processInput(fileIndex int) error {
	f := e.inputFiles[fileIndex]

	pkt, err := f.Demuxer.ReadPacket()

	if errors.Is(err, ErrAgain) {
		f.eagain = true
		return ErrAgain
	}
	if errors.Is(err, ErrLoopRestart) {
		e.decodeFlush(f)
		return ErrAgain
	}
	if err != nil {
		if !errors.Is(err, io.EOF) {
			e.log.Error("error retrieving a packet from demuxer",
				slog.String("file", f.Name),
				slog.String("error", err.Error()))
			if e.opts.ExitOnError {
				return err
			}
		}

		for _, ist := range f.Streams {
			if !ist.Discard {
				if e.processInputPacket(ist, nil, false) {
					// The decoder still has buffered output; come back.
					return nil
				}
			}

			// Everything downstream of this stream that bypasses the
			// filter graphs is done now.
			for _, ost := range ist.Outputs {
				of := e.outputFiles[ost.FileIndex]
				e.closeOutputStream(ost)
				if of.Mux != nil {
					if merr := of.Mux.OutputPacket(ost, true); merr != nil {
						e.log.Error("error finalizing stream",
							slog.String("stream", ost.Name),
							slog.String("error", merr.Error()))
					}
				}
			}
		}

		f.eofReached = true
		return ErrAgain
	}

	// Any progress can unblock every other file.
	e.resetEagain()

	if pkt.StreamIndex < 0 || pkt.StreamIndex >= len(f.Streams) {
		e.log.Warn("packet for unknown stream",
			slog.String("file", f.Name),
			slog.Int("stream_index", pkt.StreamIndex))
		return nil
	}
	ist := f.Streams[pkt.StreamIndex]

	e.sub2videoHeartbeat(f, pkt.PTS, pkt.TimeBase)

	e.processInputPacket(ist, pkt, false)
	e.UpdateBenchmark("demux %d.%d", ist.FileIndex, ist.Index)

	return nil
}
