package engine

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chooserEngine(n int) (*Engine, []*OutputStream) {
	e := newTestEngine(quietOptions())
	of := &OutputFile{Index: 0}
	for i := 0; i < n; i++ {
		ost := NewOutputStream(0, i, MediaTypeVideo)
		ost.Initialized = true
		of.Streams = append(of.Streams, ost)
	}
	e.AddOutput(of)
	return e, of.Streams
}

func TestChooseOutput_NoCandidates(t *testing.T) {
	e, streams := chooserEngine(2)
	for _, ost := range streams {
		ost.FinishEncoder()
	}

	_, err := e.chooseOutput()
	assert.ErrorIs(t, err, io.EOF)
}

func TestChooseOutput_NeverSelectsFinished(t *testing.T) {
	e, streams := chooserEngine(2)
	streams[0].FinishEncoder()
	streams[0].NoteMuxedPacket(0)
	streams[1].NoteMuxedPacket(5_000_000)

	ost, err := e.chooseOutput()
	require.NoError(t, err)
	assert.Same(t, streams[1], ost)
}

func TestChooseOutput_FurthestBehindWins(t *testing.T) {
	e, streams := chooserEngine(3)
	streams[0].NoteMuxedPacket(300)
	streams[1].NoteMuxedPacket(100)
	streams[2].NoteMuxedPacket(200)

	ost, err := e.chooseOutput()
	require.NoError(t, err)
	assert.Same(t, streams[1], ost)
}

func TestChooseOutput_TieBreaksTowardIterationOrder(t *testing.T) {
	e, streams := chooserEngine(2)
	streams[0].NoteMuxedPacket(100)
	streams[1].NoteMuxedPacket(100)

	ost, err := e.chooseOutput()
	require.NoError(t, err)
	assert.Same(t, streams[0], ost)
}

func TestChooseOutput_UninitializedWinsRegardlessOfMetric(t *testing.T) {
	e, streams := chooserEngine(3)
	streams[0].NoteMuxedPacket(-1_000_000)
	streams[1].NoteMuxedPacket(100)
	streams[2].Initialized = false

	ost, err := e.chooseOutput()
	require.NoError(t, err)
	assert.Same(t, streams[2], ost)
}

func TestChooseOutput_UninitializedButDoneDoesNotShortCircuit(t *testing.T) {
	e, streams := chooserEngine(2)
	streams[0].NoteMuxedPacket(100)
	streams[1].Initialized = false
	streams[1].InputsDone = true
	streams[1].NoteMuxedPacket(500)

	ost, err := e.chooseOutput()
	require.NoError(t, err)
	assert.Same(t, streams[0], ost)
}

func TestChooseOutput_FilterLastPTSPreferred(t *testing.T) {
	e, streams := chooserEngine(2)
	fg := &FilterGraph{Index: 0}
	streams[0].Filter = &fakeOutputFilter{graph: fg, lastPTS: 50}
	streams[0].NoteMuxedPacket(9_000_000)
	streams[1].NoteMuxedPacket(100)

	ost, err := e.chooseOutput()
	require.NoError(t, err)
	assert.Same(t, streams[0], ost)
}

func TestChooseOutput_UnsetFilterPTSFallsBackToMuxDTS(t *testing.T) {
	e, streams := chooserEngine(2)
	fg := &FilterGraph{Index: 0}
	streams[0].Filter = &fakeOutputFilter{graph: fg, lastPTS: NoPTS}
	streams[0].NoteMuxedPacket(200)
	streams[1].NoteMuxedPacket(100)

	ost, err := e.chooseOutput()
	require.NoError(t, err)
	assert.Same(t, streams[1], ost)
}

func TestChooseOutput_UnavailableWinnerReportsAgain(t *testing.T) {
	e, streams := chooserEngine(1)
	streams[0].NoteMuxedPacket(0)
	streams[0].Unavailable = true

	ost, err := e.chooseOutput()
	assert.ErrorIs(t, err, ErrAgain)
	assert.Same(t, streams[0], ost)
}
