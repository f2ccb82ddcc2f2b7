// Package engine implements the transcoding orchestrator: it drives data
// from input files through decoders, filter graphs, and encoders into
// output files while honoring timing, duration, and liveness constraints.
// The engine does not decode, filter, or mux itself; those subsystems are
// supplied by the caller and the engine schedules and arbitrates among them.
package engine

import (
	"errors"
	"math"
	"sync/atomic"
)

// NoPTS marks an unset timestamp. Any field of this value must be treated
// as "unknown" rather than as a real time.
const NoPTS = int64(math.MinInt64)

// TimeBaseUS is the number of ticks per second of the canonical time base.
// All cross-stream comparisons happen after rescaling into this base.
const TimeBaseUS = int64(1_000_000)

// MicroTimeBase is the canonical microsecond time base.
var MicroTimeBase = Rational{Num: 1, Den: 1_000_000}

// Sentinel results used across the demuxer and scheduling protocol.
var (
	// ErrAgain signals that no data is available right now and the caller
	// should retry after other streams have made progress.
	ErrAgain = errors.New("resource temporarily unavailable")

	// ErrLoopRestart is returned by a demuxer when its input loops back to
	// the start. Decoders must be flushed before the next read.
	ErrLoopRestart = errors.New("input loop restart")

	// ErrExit is returned by the interactive console when the user asked to
	// stop the transcode.
	ErrExit = errors.New("exit requested")
)

// MediaType identifies the elementary stream kind.
type MediaType int

const (
	MediaTypeVideo MediaType = iota
	MediaTypeAudio
	MediaTypeSubtitle
	MediaTypeData
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeVideo:
		return "video"
	case MediaTypeAudio:
		return "audio"
	case MediaTypeSubtitle:
		return "subtitle"
	case MediaTypeData:
		return "data"
	default:
		return "unknown"
	}
}

// PacketFlags carries per-packet flags from the demuxer.
type PacketFlags int

const (
	// PacketFlagKey marks a random access point.
	PacketFlagKey PacketFlags = 1 << iota
)

// Packet is one demuxed unit of compressed data. Timestamps are expressed
// in the packet's own TimeBase; DTSEst is the demux-side DTS estimate
// already rescaled into the canonical microsecond base (NoPTS if the
// demuxer did not annotate the packet).
type Packet struct {
	StreamIndex int
	PTS         int64
	DTS         int64
	TimeBase    Rational
	Duration    int64
	Flags       PacketFlags
	Data        []byte

	DTSEst int64
}

// NewPacket returns a packet with all timestamps unset.
func NewPacket(streamIndex int) *Packet {
	return &Packet{
		StreamIndex: streamIndex,
		PTS:         NoPTS,
		DTS:         NoPTS,
		DTSEst:      NoPTS,
	}
}

// IsKey reports whether the packet is a random access point.
func (p *Packet) IsKey() bool {
	return p.Flags&PacketFlagKey != 0
}

// LastFrameDuration tells the demuxer thread the duration of the final
// audio frame of a stream, so it knows when it is safe to stop.
type LastFrameDuration struct {
	StreamIndex int
	Duration    int64
}

// Demuxer yields packets for one input file.
type Demuxer interface {
	// ReadPacket returns the next packet. It returns ErrAgain when no data
	// is available right now, ErrLoopRestart when the input loops back to
	// its start, io.EOF at end of input, or another error on failure.
	ReadPacket() (*Packet, error)
}

// Decoder consumes packets for one input stream and emits decoded frames
// into the stream's filter sinks.
type Decoder interface {
	// SendPacket feeds one packet into the decoder. A nil packet flushes
	// buffered frames; noEOF suppresses end-of-stream propagation during
	// mid-file flushes. Returns io.EOF once the decoder is fully drained.
	SendPacket(pkt *Packet, noEOF bool) error

	// FlushBuffers resets decoder state after an input loop restart.
	FlushBuffers()

	// ProcessSubtitle submits a decoded subtitle through the subtitle
	// output path (sub2video sinks and subtitle encoders).
	ProcessSubtitle(sub *Subtitle) error
}

// Encoder drains one output stream's encoder at end of stream.
type Encoder interface {
	// Flush drains any frames still buffered inside the encoder.
	Flush() error
}

// InputFilter is one filter-graph input fed by a decoded input stream.
type InputFilter interface {
	// Name identifies the filter input for logging.
	Name() string

	// Graph returns the graph this input belongs to.
	Graph() *FilterGraph

	// SubtitleHeartbeat refreshes the effective timestamp of a sparse
	// subtitle input so the graph does not stall waiting for it.
	SubtitleHeartbeat(pts int64, tb Rational)
}

// OutputFilter is one filter-graph output feeding an encoder.
type OutputFilter interface {
	// Name identifies the filter output for logging.
	Name() string

	// Graph returns the graph this output belongs to.
	Graph() *FilterGraph

	// LastPTS returns the presentation time of the most recent frame in
	// the canonical time base, or NoPTS before the first frame.
	LastPTS() int64
}

// FilterGraphRuntime is the configured, running form of a filter graph.
type FilterGraphRuntime interface {
	// TranscodeStep returns the input stream the graph needs data from
	// next, or nil if the graph is waiting on something else.
	TranscodeStep() (*InputStream, error)

	// ReapFrames harvests ready frames from graph outputs and hands them
	// to their encoders. With flush set, drains everything buffered.
	ReapFrames(flush bool) error

	// SendCommand delivers a runtime command to matching filters
	// immediately. With oneShot, only the first matching filter runs it.
	SendCommand(target, cmd, arg string, oneShot bool) (string, error)

	// QueueCommand schedules a command on matching filters for the given
	// stream time in seconds.
	QueueCommand(target, cmd, arg string, at float64) error
}

// FilterGraph is a user-constructed DAG of transformations over decoded
// frames. Runtime is nil until the graph is configured.
type FilterGraph struct {
	Index   int
	Simple  bool
	Runtime FilterGraphRuntime
}

// IsSimple reports whether the graph is a straight line with one input
// and one output.
func (fg *FilterGraph) IsSimple() bool {
	return fg.Simple
}

// Muxer writes packets and trailers for one output file.
type Muxer interface {
	// WriteStreamCopy forwards a pass-through packet to the output stream
	// without re-encoding. A nil packet signals end of stream. dtsEst is
	// the demux-side DTS estimate in the canonical time base.
	WriteStreamCopy(ost *OutputStream, pkt *Packet, dtsEst int64) error

	// OutputPacket emits a terminal packet for a stream whose input went
	// away so the muxer can close it out.
	OutputPacket(ost *OutputStream, eof bool) error

	// WriteTrailer finalizes the output file.
	WriteTrailer() error

	// FileSize returns the current output size in bytes, or -1 if unknown.
	FileSize() int64
}

// SyncQueue coordinates aligned closure of linked output streams.
type SyncQueue interface {
	// SendFinish tells the queue that the stream at the given encode index
	// will produce no more frames.
	SendFinish(idx int)
}

// FinishedFlags records which halves of an output stream have terminated.
type FinishedFlags int

const (
	// EncoderFinished is monotonic: once set it is never cleared, and no
	// further data may be accepted for the stream.
	EncoderFinished FinishedFlags = 1 << iota
	// MuxerFinished is set once the muxer wrote the stream's last packet.
	MuxerFinished
)

// InputFile is a demuxed source owning an ordered set of input streams.
type InputFile struct {
	Index   int
	Name    string
	Streams []*InputStream
	Demuxer Demuxer

	// RecordingTime caps the presentation time read from this file, in
	// canonical microseconds. math.MaxInt64 means unbounded.
	RecordingTime int64

	StartTime          int64
	StartTimeEffective int64

	// AudioDurationCh reports last-frame durations back to the demuxer
	// thread at decode flush. Optional.
	AudioDurationCh chan<- LastFrameDuration

	eagain     bool
	eofReached bool
}

// NewInputFile returns an input file with an unbounded recording time.
func NewInputFile(index int, name string, dmx Demuxer) *InputFile {
	return &InputFile{
		Index:         index,
		Name:          name,
		Demuxer:       dmx,
		RecordingTime: math.MaxInt64,
		StartTime:     NoPTS,
	}
}

// EOFReached reports whether the demuxer signalled end of file.
func (f *InputFile) EOFReached() bool {
	return f.eofReached
}

// InputStream is one elementary track inside an input file.
type InputStream struct {
	FileIndex int
	Index     int
	Type      MediaType
	CodecName string

	// TimeBase is the stream's own time base from the container.
	TimeBase Rational

	Dec            Decoder
	DecodingNeeded bool
	Discard        bool

	// Filters are the filter-graph inputs fed by this stream's decoder.
	Filters []InputFilter

	// Outputs are the stream-copy consumers of this stream.
	Outputs []*OutputStream

	// FixSubDuration enables retroactive extension of subtitle display
	// times; PrevSub caches the last decoded subtitle for it.
	FixSubDuration bool
	PrevSub        *Subtitle

	SampleRate int

	// Counters maintained by the decoder.
	FramesDecoded uint64
	DecodeErrors  uint64
	NbSamples     int64
}

// OutputStream is one elementary track inside an output file.
type OutputStream struct {
	FileIndex int
	Index     int
	Type      MediaType
	Name      string

	// Enc is nil for stream-copy outputs.
	Enc Encoder

	// Filter is the upstream filter sink, nil for stream copy. Exactly one
	// of Filter and Source feeds the stream, never both.
	Filter OutputFilter
	Source *InputStream

	// Quality is the encoder's most recent quantizer scale, in lambda
	// units (see QP2Lambda).
	Quality int64

	// SQIdxEncode is the stream's index inside the output file's sync
	// queue, or -1 when the stream is not queue-managed.
	SQIdxEncode int

	FixSubDurationHeartbeat bool

	Initialized bool
	InputsDone  bool
	Unavailable bool

	LastDropped int64

	// packetsWritten and lastMuxDTS are atomic because muxers may run
	// their own writer threads.
	packetsWritten atomic.Int64
	lastMuxDTS     atomic.Int64
	finished       FinishedFlags
}

// NewOutputStream returns an output stream with no source bound yet.
func NewOutputStream(fileIndex, index int, typ MediaType) *OutputStream {
	ost := &OutputStream{
		FileIndex:   fileIndex,
		Index:       index,
		Type:        typ,
		SQIdxEncode: -1,
	}
	ost.lastMuxDTS.Store(NoPTS)
	return ost
}

// NoteMuxedPacket records that the muxer accepted a packet with the given
// DTS (canonical time base). The muxer or its stand-in must call this for
// every packet it writes; LastMuxDTS never moves backwards.
func (ost *OutputStream) NoteMuxedPacket(dts int64) {
	ost.packetsWritten.Add(1)
	if dts == NoPTS {
		return
	}
	last := ost.lastMuxDTS.Load()
	if last == NoPTS || dts > last {
		ost.lastMuxDTS.Store(dts)
	}
}

// PacketsWritten returns the number of packets muxed so far.
func (ost *OutputStream) PacketsWritten() int64 {
	return ost.packetsWritten.Load()
}

// LastMuxDTS returns the DTS of the last muxed packet in the canonical
// time base, or NoPTS before the first packet.
func (ost *OutputStream) LastMuxDTS() int64 {
	return ost.lastMuxDTS.Load()
}

// Finished returns the stream's termination flags.
func (ost *OutputStream) Finished() FinishedFlags {
	return ost.finished
}

// FinishEncoder marks the encoder half of the stream as terminated.
func (ost *OutputStream) FinishEncoder() {
	ost.finished |= EncoderFinished
}

// OutputFile groups output streams behind one muxer.
type OutputFile struct {
	Index   int
	Name    string
	Streams []*OutputStream
	Mux     Muxer

	// SQEncode is the encode-side sync queue, nil when no stream of this
	// file is queue-managed.
	SQEncode SyncQueue

	dumped bool
}

// MarkDumped records that the file reached its initialized state (header
// written). The first progress report is held back until every output
// file has been dumped.
func (of *OutputFile) MarkDumped() {
	of.dumped = true
}

// Dumped reports whether the file header has been written.
func (of *OutputFile) Dumped() bool {
	return of.dumped
}
