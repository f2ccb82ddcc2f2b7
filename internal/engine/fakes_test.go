package engine

import (
	"io"
	"log/slog"
)

// scriptedDemuxer replays a fixed sequence of read results.
type scriptedDemuxer struct {
	packets []*Packet
	errs    []error
	pos     int
	// tail is returned once the script is exhausted.
	tail error
}

func newScriptedDemuxer(tail error) *scriptedDemuxer {
	return &scriptedDemuxer{tail: tail}
}

func (d *scriptedDemuxer) push(pkt *Packet) {
	d.packets = append(d.packets, pkt)
	d.errs = append(d.errs, nil)
}

func (d *scriptedDemuxer) pushErr(err error) {
	d.packets = append(d.packets, nil)
	d.errs = append(d.errs, err)
}

func (d *scriptedDemuxer) ReadPacket() (*Packet, error) {
	if d.pos >= len(d.packets) {
		return nil, d.tail
	}
	pkt, err := d.packets[d.pos], d.errs[d.pos]
	d.pos++
	return pkt, err
}

// recordingDecoder records what the engine feeds it.
type recordingDecoder struct {
	ist        *InputStream
	packets    []*Packet
	flushes    int
	resets     int
	subtitles  []*Subtitle
	drainAfter int // SendPacket(nil) returns io.EOF after this many flushes
}

func (d *recordingDecoder) SendPacket(pkt *Packet, noEOF bool) error {
	if pkt == nil {
		d.flushes++
		if d.flushes > d.drainAfter {
			return io.EOF
		}
		return nil
	}
	d.packets = append(d.packets, pkt)
	return nil
}

func (d *recordingDecoder) FlushBuffers() {
	d.resets++
}

func (d *recordingDecoder) ProcessSubtitle(sub *Subtitle) error {
	d.subtitles = append(d.subtitles, sub)
	if d.ist != nil {
		d.ist.PrevSub = sub
	}
	return nil
}

// recordingMuxer records stream-copy packets per stream index and mirrors
// the real muxer contract by noting each muxed packet on the stream.
type recordingMuxer struct {
	packets    []*Packet
	eofs       int
	terminal   int
	trailers   int
	trailerErr error
	size       int64
	sizeKnown  bool
}

func newRecordingMuxer() *recordingMuxer {
	return &recordingMuxer{sizeKnown: true}
}

func (m *recordingMuxer) WriteStreamCopy(ost *OutputStream, pkt *Packet, dtsEst int64) error {
	if pkt == nil {
		m.eofs++
		return nil
	}
	m.packets = append(m.packets, pkt)
	m.size += int64(len(pkt.Data))
	ost.NoteMuxedPacket(dtsEst)
	return nil
}

func (m *recordingMuxer) OutputPacket(ost *OutputStream, eof bool) error {
	if eof {
		m.terminal++
	}
	return nil
}

func (m *recordingMuxer) WriteTrailer() error {
	m.trailers++
	return m.trailerErr
}

func (m *recordingMuxer) FileSize() int64 {
	if !m.sizeKnown {
		return -1
	}
	return m.size
}

// recordingEncoder counts flushes.
type recordingEncoder struct {
	flushes int
}

func (e *recordingEncoder) Flush() error {
	e.flushes++
	return nil
}

// recordingSyncQueue records finish notifications.
type recordingSyncQueue struct {
	finished []int
}

func (q *recordingSyncQueue) SendFinish(idx int) {
	q.finished = append(q.finished, idx)
}

// fakeInputFilter records subtitle heartbeats.
type fakeInputFilter struct {
	name  string
	graph *FilterGraph
	beats []int64
}

func (f *fakeInputFilter) Name() string       { return f.name }
func (f *fakeInputFilter) Graph() *FilterGraph { return f.graph }
func (f *fakeInputFilter) SubtitleHeartbeat(pts int64, tb Rational) {
	f.beats = append(f.beats, Rescale(pts, tb, MicroTimeBase))
}

// fakeOutputFilter exposes a settable last PTS.
type fakeOutputFilter struct {
	name    string
	graph   *FilterGraph
	lastPTS int64
}

func (f *fakeOutputFilter) Name() string        { return f.name }
func (f *fakeOutputFilter) Graph() *FilterGraph { return f.graph }
func (f *fakeOutputFilter) LastPTS() int64      { return f.lastPTS }

// fakeGraphRuntime scripts TranscodeStep and records commands.
type fakeGraphRuntime struct {
	needs   *InputStream
	reaps   int
	sent    []sentCommand
	queued  []sentCommand
	stepErr error
}

type sentCommand struct {
	target, cmd, arg string
	oneShot          bool
	at               float64
}

func (g *fakeGraphRuntime) TranscodeStep() (*InputStream, error) {
	return g.needs, g.stepErr
}

func (g *fakeGraphRuntime) ReapFrames(flush bool) error {
	g.reaps++
	return nil
}

func (g *fakeGraphRuntime) SendCommand(target, cmd, arg string, oneShot bool) (string, error) {
	g.sent = append(g.sent, sentCommand{target: target, cmd: cmd, arg: arg, oneShot: oneShot})
	return "ok", nil
}

func (g *fakeGraphRuntime) QueueCommand(target, cmd, arg string, at float64) error {
	g.queued = append(g.queued, sentCommand{target: target, cmd: cmd, arg: arg, at: at})
	return nil
}

// quietOptions returns options that keep tests silent and fast.
func quietOptions() Options {
	return Options{
		PrintStats:   0,
		StatsPeriod:  0,
		MaxErrorRate: 2.0 / 3.0,
	}
}

func newTestEngine(opts Options) *Engine {
	return New(opts, slog.New(slog.DiscardHandler))
}

// microPacket returns a key video packet with all timestamps in the
// microsecond base.
func microPacket(streamIndex int, ptsUS int64, size int) *Packet {
	pkt := NewPacket(streamIndex)
	pkt.PTS = ptsUS
	pkt.DTS = ptsUS
	pkt.TimeBase = MicroTimeBase
	pkt.Flags = PacketFlagKey
	pkt.DTSEst = ptsUS
	if size > 0 {
		pkt.Data = make([]byte, size)
	}
	return pkt
}

// singleCopyPipeline wires one input file with one stream into one output
// file with one stream-copy stream.
func singleCopyPipeline(e *Engine, dmx Demuxer) (*InputFile, *InputStream, *OutputFile, *OutputStream, *recordingMuxer) {
	f := NewInputFile(0, "in", dmx)
	ist := &InputStream{
		FileIndex: 0,
		Index:     0,
		Type:      MediaTypeVideo,
		TimeBase:  MicroTimeBase,
	}
	f.Streams = []*InputStream{ist}

	mux := newRecordingMuxer()
	of := &OutputFile{Index: 0, Name: "out", Mux: mux}
	ost := NewOutputStream(0, 0, MediaTypeVideo)
	ost.Source = ist
	ist.Outputs = []*OutputStream{ost}
	of.Streams = []*OutputStream{ost}

	e.AddInput(f)
	e.AddOutput(of)
	return f, ist, of, ost, mux
}
