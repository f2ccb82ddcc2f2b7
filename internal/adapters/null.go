// Package adapters provides built-in I/O collaborators for the engine:
// a synthetic packet source and a discarding sink. They carry no
// container knowledge and exist so the orchestrator can be driven end to
// end without external demuxers or muxers, both from the CLI and from
// tests.
package adapters

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/transmux/internal/engine"
)

// NullSourceConfig describes a synthetic stream source.
type NullSourceConfig struct {
	// FrameRate is the number of packets generated per second of stream
	// time.
	FrameRate int

	// Duration limits the generated stream; zero means 10 seconds.
	Duration time.Duration

	// PacketSize is the payload size of each generated packet.
	PacketSize int

	// Realtime throttles generation to wall-clock speed.
	Realtime bool
}

// ParseNullSourceSpec parses "key=value,key=value" option strings, e.g.
// "rate=25,duration=3s,size=1024".
func ParseNullSourceSpec(spec string) (NullSourceConfig, error) {
	cfg := NullSourceConfig{FrameRate: 25, Duration: 10 * time.Second, PacketSize: 1024}

	if spec == "" {
		return cfg, nil
	}
	for _, kv := range strings.Split(spec, ",") {
		k, v, found := strings.Cut(kv, "=")
		if !found {
			return cfg, fmt.Errorf("null source: malformed option %q", kv)
		}
		switch k {
		case "rate":
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return cfg, fmt.Errorf("null source: bad rate %q", v)
			}
			cfg.FrameRate = n
		case "duration":
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				return cfg, fmt.Errorf("null source: bad duration %q", v)
			}
			cfg.Duration = d
		case "size":
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return cfg, fmt.Errorf("null source: bad size %q", v)
			}
			cfg.PacketSize = n
		case "realtime":
			cfg.Realtime = v == "1" || v == "true"
		default:
			return cfg, fmt.Errorf("null source: unknown option %q", k)
		}
	}
	return cfg, nil
}

// NullDemuxer generates one video stream of fixed-rate synthetic packets
// with monotonic timestamps. Every packet is a key frame.
type NullDemuxer struct {
	cfg     NullSourceConfig
	tb      engine.Rational
	nextPTS int64
	total   int64
	emitted int64
	started time.Time
}

// NewNullDemuxer returns a demuxer generating cfg's packet schedule.
func NewNullDemuxer(cfg NullSourceConfig) *NullDemuxer {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 25
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	return &NullDemuxer{
		cfg:   cfg,
		tb:    engine.Rational{Num: 1, Den: int64(cfg.FrameRate)},
		total: int64(cfg.Duration.Seconds() * float64(cfg.FrameRate)),
	}
}

// TimeBase returns the generated stream's time base.
func (d *NullDemuxer) TimeBase() engine.Rational {
	return d.tb
}

// ReadPacket implements engine.Demuxer.
func (d *NullDemuxer) ReadPacket() (*engine.Packet, error) {
	if d.emitted >= d.total {
		return nil, io.EOF
	}

	if d.cfg.Realtime {
		if d.started.IsZero() {
			d.started = time.Now()
		}
		due := d.started.Add(time.Duration(d.nextPTS) * time.Second / time.Duration(d.cfg.FrameRate))
		if wait := time.Until(due); wait > 0 {
			time.Sleep(wait)
		}
	}

	pkt := engine.NewPacket(0)
	pkt.PTS = d.nextPTS
	pkt.DTS = d.nextPTS
	pkt.TimeBase = d.tb
	pkt.Duration = 1
	pkt.Flags = engine.PacketFlagKey
	pkt.Data = make([]byte, d.cfg.PacketSize)
	pkt.DTSEst = engine.RescaleToMicro(d.nextPTS, d.tb)

	d.nextPTS++
	d.emitted++
	return pkt, nil
}

// NullMuxer discards packets while tracking per-stream accounting, the
// way a measurement-only output does.
type NullMuxer struct {
	mu   sync.Mutex
	size int64
}

// NewNullMuxer returns a muxer that counts and drops everything.
func NewNullMuxer() *NullMuxer {
	return &NullMuxer{}
}

// WriteStreamCopy implements engine.Muxer.
func (m *NullMuxer) WriteStreamCopy(ost *engine.OutputStream, pkt *engine.Packet, dtsEst int64) error {
	if pkt == nil {
		return nil
	}
	m.mu.Lock()
	m.size += int64(len(pkt.Data))
	m.mu.Unlock()
	ost.NoteMuxedPacket(dtsEst)
	return nil
}

// OutputPacket implements engine.Muxer.
func (m *NullMuxer) OutputPacket(ost *engine.OutputStream, eof bool) error {
	return nil
}

// WriteTrailer implements engine.Muxer.
func (m *NullMuxer) WriteTrailer() error {
	return nil
}

// FileSize implements engine.Muxer.
func (m *NullMuxer) FileSize() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}
