package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bitmapSubtitle(ptsUS int64) *Subtitle {
	pixels := make([]byte, 2*300)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	palette := make([]byte, PaletteSize)
	for i := range palette {
		palette[i] = byte(255 - i)
	}

	return &Subtitle{
		Format:           0,
		StartDisplayTime: 0,
		EndDisplayTime:   500,
		PTS:              ptsUS,
		Rects: []*SubtitleRect{{
			Type:     SubtitleBitmap,
			X:        10,
			Y:        20,
			W:        300,
			H:        2,
			NbColors: 256,
			Data:     [4][]byte{pixels, palette, nil, nil},
			Linesize: [4]int{300, 300, 0, 0},
		}},
	}
}

func TestSubtitleClone_DeepCopiesBitmap(t *testing.T) {
	src := bitmapSubtitle(1_000_000)
	dst := src.Clone()

	require.Equal(t, src, dst)

	// Plane 1 is a palette: its size never derives from linesize, which
	// here would have produced 600 bytes instead of 1024.
	assert.Len(t, dst.Rects[0].Data[1], PaletteSize)
	assert.Len(t, dst.Rects[0].Data[0], 600)

	// Mutating the clone must not touch the source.
	dst.Rects[0].Data[1][0] ^= 0xff
	dst.Rects[0].Text = "changed"
	assert.NotEqual(t, src.Rects[0].Data[1][0], dst.Rects[0].Data[1][0])
	assert.Empty(t, src.Rects[0].Text)
}

func TestSubtitleClone_Idempotent(t *testing.T) {
	src := bitmapSubtitle(42)
	once := src.Clone()
	twice := once.Clone()
	assert.Equal(t, once, twice)
}

func TestSubtitleClone_TextRects(t *testing.T) {
	src := &Subtitle{
		PTS: 7,
		Rects: []*SubtitleRect{{
			Type: SubtitleASS,
			Text: "hello",
			ASS:  "Dialogue: hello",
		}},
	}
	dst := src.Clone()
	require.Equal(t, src, dst)
}

func TestSubtitleClone_NoRects(t *testing.T) {
	src := &Subtitle{PTS: 9, EndDisplayTime: 100}
	dst := src.Clone()
	assert.Equal(t, src, dst)
	assert.Nil(t, dst.Rects)
}

func TestSub2videoHeartbeat_RefreshesSubtitleFilters(t *testing.T) {
	e := newTestEngine(quietOptions())

	fg := &FilterGraph{Index: 0}
	subFilter := &fakeInputFilter{name: "sub2video", graph: fg}
	vidFilter := &fakeInputFilter{name: "video", graph: fg}

	f := NewInputFile(0, "in", nil)
	f.Streams = []*InputStream{
		{FileIndex: 0, Index: 0, Type: MediaTypeVideo, Filters: []InputFilter{vidFilter}},
		{FileIndex: 0, Index: 1, Type: MediaTypeSubtitle, Filters: []InputFilter{subFilter}},
	}
	e.AddInput(f)

	e.sub2videoHeartbeat(f, 40, Rational{1, 25})

	assert.Equal(t, []int64{1_600_000}, subFilter.beats)
	assert.Empty(t, vidFilter.beats, "non-subtitle streams must not receive heartbeats")
}

// fixSubEngine builds an output file with a video stream-copy stream that
// emits heartbeats and a subtitle stream sourced from a decoded subtitle
// input.
func fixSubEngine(t *testing.T) (*Engine, *OutputStream, *InputStream, *recordingDecoder) {
	t.Helper()
	e := newTestEngine(quietOptions())

	subIst := &InputStream{
		FileIndex:      0,
		Index:          1,
		Type:           MediaTypeSubtitle,
		DecodingNeeded: true,
		FixSubDuration: true,
		PrevSub:        bitmapSubtitle(1_000_000),
	}
	dec := &recordingDecoder{ist: subIst}
	subIst.Dec = dec

	f := NewInputFile(0, "in", nil)
	vidIst := &InputStream{FileIndex: 0, Index: 0, Type: MediaTypeVideo, TimeBase: MicroTimeBase}
	f.Streams = []*InputStream{vidIst, subIst}
	e.AddInput(f)

	of := &OutputFile{Index: 0, Mux: newRecordingMuxer()}
	vidOst := NewOutputStream(0, 0, MediaTypeVideo)
	vidOst.Source = vidIst
	vidOst.FixSubDurationHeartbeat = true
	subOst := NewOutputStream(0, 1, MediaTypeSubtitle)
	subOst.Source = subIst
	of.Streams = []*OutputStream{vidOst, subOst}
	e.AddOutput(of)

	return e, vidOst, subIst, dec
}

func TestTriggerFixSubDurationHeartbeat_ExtendsPreviousSubtitle(t *testing.T) {
	e, vidOst, subIst, dec := fixSubEngine(t)
	orig := subIst.PrevSub

	pkt := microPacket(0, 2_000_000, 0)
	require.NoError(t, e.TriggerFixSubDurationHeartbeat(vidOst, pkt))

	require.Len(t, dec.subtitles, 1)
	got := dec.subtitles[0]
	assert.Equal(t, int64(2_000_000), got.PTS)
	// The resubmitted subtitle is a copy, not the cached original.
	assert.NotSame(t, orig, got)
	assert.Equal(t, int64(1_000_000), orig.PTS)
	assert.Equal(t, PaletteSize, len(got.Rects[0].Data[1]))
}

func TestTriggerFixSubDurationHeartbeat_IgnoresNonKeyPackets(t *testing.T) {
	e, vidOst, _, dec := fixSubEngine(t)

	pkt := microPacket(0, 2_000_000, 0)
	pkt.Flags = 0
	require.NoError(t, e.TriggerFixSubDurationHeartbeat(vidOst, pkt))
	assert.Empty(t, dec.subtitles)
}

func TestTriggerFixSubDurationHeartbeat_IgnoresOlderSignal(t *testing.T) {
	e, vidOst, _, dec := fixSubEngine(t)

	pkt := microPacket(0, 500_000, 0)
	require.NoError(t, e.TriggerFixSubDurationHeartbeat(vidOst, pkt))
	assert.Empty(t, dec.subtitles)
}

func TestTriggerFixSubDurationHeartbeat_RequiresOptIn(t *testing.T) {
	e, vidOst, _, dec := fixSubEngine(t)
	vidOst.FixSubDurationHeartbeat = false

	require.NoError(t, e.TriggerFixSubDurationHeartbeat(vidOst, microPacket(0, 2_000_000, 0)))
	assert.Empty(t, dec.subtitles)
}

func TestFixSubDurationHeartbeat_PTSMonotonic(t *testing.T) {
	e, vidOst, subIst, dec := fixSubEngine(t)

	require.NoError(t, e.TriggerFixSubDurationHeartbeat(vidOst, microPacket(0, 2_000_000, 0)))
	require.NoError(t, e.TriggerFixSubDurationHeartbeat(vidOst, microPacket(0, 3_000_000, 0)))
	require.Len(t, dec.subtitles, 2)

	assert.Equal(t, int64(2_000_000), dec.subtitles[0].PTS)
	assert.Equal(t, int64(3_000_000), dec.subtitles[1].PTS)
	assert.Equal(t, int64(3_000_000), subIst.PrevSub.PTS)
}
