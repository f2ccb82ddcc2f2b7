package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func progressEngine(opts Options) (*Engine, *strings.Builder) {
	var sink strings.Builder
	opts.Progress = &sink
	e := newTestEngine(opts)
	return e, &sink
}

func progressLines(s string) map[string]string {
	m := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			m[k] = v
		}
	}
	return m
}

func TestPrintReport_MachineBlockKeys(t *testing.T) {
	e, sink := progressEngine(quietOptions())
	_, _, of, ost, _ := singleCopyPipeline(e, nil)
	of.MarkDumped()
	ost.NoteMuxedPacket(1_500_000)

	e.printReport(false, 0, 10_000_000)

	got := progressLines(sink.String())
	for _, key := range []string{
		"frame", "fps", "stream_0_0_q", "bitrate", "total_size",
		"out_time_us", "out_time_ms", "out_time", "dup_frames",
		"drop_frames", "speed", "progress",
	} {
		assert.Contains(t, got, key, "missing key %q", key)
	}
	assert.Equal(t, "continue", got["progress"])
	assert.Equal(t, "1500000", got["out_time_us"])
	assert.Equal(t, "00:00:01.500000", got["out_time"])
}

func TestPrintReport_FinalBlockEndsProgress(t *testing.T) {
	e, sink := progressEngine(quietOptions())
	_, _, of, ost, _ := singleCopyPipeline(e, nil)
	of.MarkDumped()
	ost.NoteMuxedPacket(0)

	e.printReport(true, 0, 1_000_000)
	got := progressLines(sink.String())
	assert.Equal(t, "end", got["progress"])
}

func TestPrintReport_FirstReportWaitsForAllOutputsDumped(t *testing.T) {
	e, sink := progressEngine(quietOptions())
	_, _, of, ost, _ := singleCopyPipeline(e, nil)

	mux2 := newRecordingMuxer()
	of2 := &OutputFile{Index: 1, Name: "out2", Mux: mux2}
	of2.Streams = []*OutputStream{NewOutputStream(1, 0, MediaTypeAudio)}
	e.AddOutput(of2)

	ost.NoteMuxedPacket(0)
	of.MarkDumped()

	e.printReport(false, 0, 1_000_000)
	assert.Empty(t, sink.String(), "report must wait for every output header")

	of2.MarkDumped()
	e.printReport(false, 0, 2_000_000)
	assert.NotEmpty(t, sink.String())
}

func TestPrintReport_ThrottledByStatsPeriod(t *testing.T) {
	opts := quietOptions()
	opts.StatsPeriod = 0 // first report always passes
	e, sink := progressEngine(opts)
	_, _, of, ost, _ := singleCopyPipeline(e, nil)
	of.MarkDumped()
	ost.NoteMuxedPacket(0)

	e.opts.StatsPeriod = 500_000_000 // 500ms in ns
	e.printReport(false, 0, 1_000_000)
	first := sink.String()
	require.NotEmpty(t, first)

	// 100ms later: below the 500ms period, suppressed.
	e.printReport(false, 0, 1_100_000)
	assert.Equal(t, first, sink.String())

	// 600ms later: emitted again.
	e.printReport(false, 0, 1_600_000)
	assert.Greater(t, len(sink.String()), len(first))
}

func TestPrintReport_CopyTSZeroBasesDisplayedTime(t *testing.T) {
	opts := quietOptions()
	opts.CopyTS = true
	e, sink := progressEngine(opts)
	_, _, of, ost, _ := singleCopyPipeline(e, nil)
	of.MarkDumped()

	// First muxed packet at a large absolute timestamp: displayed time
	// must still start at zero.
	ost.NoteMuxedPacket(5_000_000)
	e.printReport(false, 0, 1_000_000)

	got := progressLines(sink.String())
	assert.Equal(t, "0", got["out_time_us"])
	assert.Equal(t, "00:00:00.000000", got["out_time"])

	// Later packets display relative to the latched origin.
	sink.Reset()
	ost.NoteMuxedPacket(6_500_000)
	e.printReport(false, 0, 2_000_000)
	got = progressLines(sink.String())
	assert.Equal(t, "1500000", got["out_time_us"])
}

func TestPrintReport_NASubstitutions(t *testing.T) {
	e, sink := progressEngine(quietOptions())
	_, _, of, ost, mux := singleCopyPipeline(e, nil)
	of.MarkDumped()
	ost.NoteMuxedPacket(0)
	mux.sizeKnown = false

	e.printReport(false, 0, 1_000_000)
	got := progressLines(sink.String())
	assert.Equal(t, "N/A", got["total_size"])
	assert.Equal(t, "N/A", got["bitrate"])
}

func TestPrintReport_SecondVideoStreamContributesOnlyQuality(t *testing.T) {
	e, sink := progressEngine(quietOptions())
	_, ist, of, ost, _ := singleCopyPipeline(e, nil)
	of.MarkDumped()
	ost.NoteMuxedPacket(0)

	second := NewOutputStream(0, 1, MediaTypeVideo)
	second.Source = ist
	second.Enc = &recordingEncoder{}
	second.Quality = 2 * QP2Lambda
	second.NoteMuxedPacket(0)
	of.Streams = append(of.Streams, second)

	e.printReport(false, 0, 1_000_000)
	s := sink.String()

	assert.Equal(t, 1, strings.Count(s, "frame="), "only the first video stream reports frames")
	assert.Contains(t, s, "stream_0_0_q=")
	assert.Contains(t, s, "stream_0_1_q=2.0")
}

func TestPrintReport_QuietWithoutSinks(t *testing.T) {
	opts := quietOptions()
	e := newTestEngine(opts)
	_, _, of, ost, _ := singleCopyPipeline(e, nil)
	of.MarkDumped()
	ost.NoteMuxedPacket(0)

	// No stats printing, no progress sink, not the last report: the
	// throttle state must stay untouched.
	e.printReport(false, 0, 1_000_000)
	assert.True(t, e.firstReport)
}
