package engine

// Subtitle bridging: subtitle tracks are sparse, but downstream video
// filters (overlay in particular) expect a steady stream. Heartbeats
// refresh the last subtitle's effective timestamp so filter graphs never
// stall waiting on a track that simply has nothing to say.

// SubtitleType identifies the payload of a subtitle rect.
type SubtitleType int

const (
	SubtitleNone SubtitleType = iota
	// SubtitleBitmap rects carry image data in plane 0 and a PAL8-style
	// palette in plane 1.
	SubtitleBitmap
	SubtitleText
	SubtitleASS
)

// PaletteSize is the byte size of a bitmap subtitle palette: 256 entries
// of 4 bytes each.
const PaletteSize = 256 * 4

// SubtitleRect is one rectangle of a rendered subtitle.
type SubtitleRect struct {
	Type     SubtitleType
	Flags    int
	X, Y     int
	W, H     int
	NbColors int

	// Text and ASS carry the textual forms; Data/Linesize the bitmap
	// planes.
	Text string
	ASS  string

	Data     [4][]byte
	Linesize [4]int
}

// Subtitle is one decoded subtitle event. PTS is in the canonical
// microsecond base.
type Subtitle struct {
	Format           int
	StartDisplayTime uint32
	EndDisplayTime   uint32
	PTS              int64
	Rects            []*SubtitleRect
}

// Clone returns a deep copy of the subtitle: fresh rects, duplicated
// strings, duplicated data planes.
//
// Bitmap rects are PAL8-like: plane 0 is pixel data sized h*linesize,
// plane 1 is the palette, whose size is always PaletteSize regardless of
// linesize. Computing plane 1 from h*linesize would corrupt palettes.
func (s *Subtitle) Clone() *Subtitle {
	dst := &Subtitle{
		Format:           s.Format,
		StartDisplayTime: s.StartDisplayTime,
		EndDisplayTime:   s.EndDisplayTime,
		PTS:              s.PTS,
	}

	if len(s.Rects) == 0 {
		return dst
	}

	dst.Rects = make([]*SubtitleRect, 0, len(s.Rects))
	for _, src := range s.Rects {
		r := &SubtitleRect{
			Type:     src.Type,
			Flags:    src.Flags,
			X:        src.X,
			Y:        src.Y,
			W:        src.W,
			H:        src.H,
			NbColors: src.NbColors,
			Text:     src.Text,
			ASS:      src.ASS,
		}

		for j := 0; j < 4; j++ {
			if src.Data[j] == nil {
				continue
			}
			size := src.H * src.Linesize[j]
			if src.Type == SubtitleBitmap && j == 1 {
				size = PaletteSize
			}
			if size > len(src.Data[j]) {
				size = len(src.Data[j])
			}
			r.Data[j] = make([]byte, size)
			copy(r.Data[j], src.Data[j][:size])
			r.Linesize[j] = src.Linesize[j]
		}

		dst.Rects = append(dst.Rects, r)
	}

	return dst
}

// sub2videoHeartbeat refreshes every subtitle filter input of the file
// with the timestamp of the packet just read, so decoded video frames do
// not pile up in a graph waiting on a sparse subtitle track.
func (e *Engine) sub2videoHeartbeat(f *InputFile, pts int64, tb Rational) {
	for _, ist := range f.Streams {
		if ist.Type != MediaTypeSubtitle {
			continue
		}
		for _, fil := range ist.Filters {
			fil.SubtitleHeartbeat(pts, tb)
		}
	}
}

// fixSubDurationHeartbeat retroactively extends the previous subtitle's
// display time: it clones the cached subtitle, moves its PTS up to the
// signal time, and re-submits it through the subtitle path.
func (e *Engine) fixSubDurationHeartbeat(ist *InputStream, signalPTS int64) error {
	prev := ist.PrevSub
	if !ist.FixSubDuration || prev == nil || len(prev.Rects) == 0 ||
		signalPTS <= prev.PTS {
		return nil
	}

	sub := prev.Clone()
	sub.PTS = signalPTS

	return ist.Dec.ProcessSubtitle(sub)
}

// TriggerFixSubDurationHeartbeat fans a key packet leaving ost out to the
// decoded subtitle streams feeding the same output file. Only random
// access points count: they are the moments a player could seek to and
// find the previous subtitle missing.
func (e *Engine) TriggerFixSubDurationHeartbeat(ost *OutputStream, pkt *Packet) error {
	of := e.outputFiles[ost.FileIndex]
	signalPTS := Rescale(pkt.PTS, pkt.TimeBase, MicroTimeBase)

	if !ost.FixSubDurationHeartbeat || !pkt.IsKey() {
		return nil
	}

	for _, iter := range of.Streams {
		ist := iter.Source

		// Skip the stream that caused the heartbeat, outputs without an
		// input stream, undecoded streams (fix_sub_duration only applies
		// to decoded subtitles), and non-subtitle streams.
		if iter == ost || ist == nil || !ist.DecodingNeeded ||
			ist.Type != MediaTypeSubtitle {
			continue
		}

		if err := e.fixSubDurationHeartbeat(ist, signalPTS); err != nil {
			return err
		}
	}

	return nil
}
