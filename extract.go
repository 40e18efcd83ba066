package qtparse

import "fmt"

// VideoInfo describes the first video track of a movie.
type VideoInfo struct {
	Codec  string `json:"codec"`
	Width  uint16 `json:"width"`
	Height uint16 `json:"height"`
}

// AudioInfo describes the first sound track of a movie.
type AudioInfo struct {
	Codec      string `json:"codec"`
	SampleRate uint32 `json:"sample_rate"`
	Channels   uint32 `json:"channels"`
	SampleSize uint32 `json:"sample_size"`
}

// Metadata is the result of an extraction. Video and Audio are nil when the
// movie has no track of that kind.
type Metadata struct {
	Video *VideoInfo `json:"video,omitempty"`
	Audio *AudioInfo `json:"audio,omitempty"`
}

// Dimensions returns the pixel size of the video track.
func (m Metadata) Dimensions() (width, height uint16, ok bool) {
	if m.Video == nil {
		return 0, 0, false
	}
	return m.Video.Width, m.Video.Height, true
}

// SampleRate returns the sample rate of the sound track in Hz.
func (m Metadata) SampleRate() (uint32, bool) {
	if m.Audio == nil {
		return 0, false
	}
	return m.Audio.SampleRate, true
}

// Summary is the flat form of Metadata; absent values are nil.
type Summary struct {
	Width      *uint16 `json:"width,omitempty"`
	Height     *uint16 `json:"height,omitempty"`
	SampleRate *uint32 `json:"sample_rate,omitempty"`
}

// Summary flattens m into width, height and sample rate.
func (m Metadata) Summary() Summary {
	var s Summary
	if w, h, ok := m.Dimensions(); ok {
		s.Width, s.Height = &w, &h
	}
	if rate, ok := m.SampleRate(); ok {
		s.SampleRate = &rate
	}
	return s
}

// FindMovie returns the single moov atom among atoms. A moov nested in a
// top-level QT atom container (sean) counts as well. Zero or several moov
// atoms yield ErrMissingAtom.
func FindMovie(atoms []*Atom) (*Atom, error) {
	var movies []*Atom
	for _, a := range atoms {
		switch a.Type {
		case TypeMoov:
			movies = append(movies, a)
		case TypeSean:
			movies = append(movies, a.ChildList(TypeMoov)...)
		}
	}
	switch len(movies) {
	case 0:
		return nil, fmt.Errorf("%w: no moov atom", ErrMissingAtom)
	case 1:
		return movies[0], nil
	}
	return nil, fmt.Errorf("%w: %d moov atoms, expected one", ErrMissingAtom, len(movies))
}

// Handler returns the decoded mdia/hdlr atom of a trak.
func Handler(trak *Atom) (MediaHandler, bool) {
	hdlr := trak.Find(TypeMdia, TypeHdlr)
	if hdlr == nil {
		return MediaHandler{}, false
	}
	h, err := DecodeHandler(hdlr.Payload())
	if err != nil {
		return MediaHandler{}, false
	}
	return h, true
}

// Classify returns the media kind of a trak from its handler subtype.
// Tracks without a readable handler are MediaUnknown.
func Classify(trak *Atom) MediaKind {
	h, ok := Handler(trak)
	if !ok {
		return MediaUnknown
	}
	return MediaKindOf(h.ComponentSubtype)
}

// sampleDescription decodes the stsd of a trak. Returns a zero description
// and no error when the trak has no sample table.
func sampleDescription(trak *Atom, kind MediaKind) (SampleDescription, bool, error) {
	stsd := trak.Find(TypeMdia, TypeMinf, TypeStbl, TypeStsd)
	if stsd == nil {
		return SampleDescription{}, false, nil
	}
	d, err := DecodeSampleDescription(stsd.Payload(), kind)
	if err != nil {
		return SampleDescription{}, false, atomErr(stsd.Type, stsd.Offset, err)
	}
	return d, true, nil
}

// Extract reduces a parsed file to its video dimensions and audio sample
// rate. The first video and the first sound track in document order win.
// A movie without such tracks is not an error.
func Extract(atoms []*Atom) (Metadata, error) {
	moov, err := FindMovie(atoms)
	if err != nil {
		return Metadata{}, err
	}

	var m Metadata
	for _, trak := range moov.ChildList(TypeTrak) {
		if m.Video != nil && m.Audio != nil {
			break
		}
		kind := Classify(trak)
		switch {
		case kind == MediaVideo && m.Video == nil:
		case kind == MediaSound && m.Audio == nil:
		default:
			continue
		}

		d, ok, err := sampleDescription(trak, kind)
		if err != nil {
			return Metadata{}, err
		}
		if !ok {
			continue
		}
		if v := d.Video; v != nil {
			m.Video = &VideoInfo{Codec: v.Codec, Width: v.Width, Height: v.Height}
		}
		if s := d.Sound; s != nil {
			m.Audio = &AudioInfo{
				Codec:      s.Codec,
				SampleRate: s.SampleRate,
				Channels:   s.ChannelCount,
				SampleSize: s.SampleSize,
			}
		}
	}
	return m, nil
}

// ExtractBytes parses buf and extracts its metadata.
func ExtractBytes(buf []byte) (Metadata, error) {
	atoms, err := ReadAtoms(buf)
	if err != nil {
		return Metadata{}, err
	}
	return Extract(atoms)
}

// TrackInfo describes one trak atom.
type TrackInfo struct {
	Index   int      // position among the movie's tracks
	Handler AtomType // handler subtype, zero when the track has no hdlr
	Kind    MediaKind

	Header *TrackHeader
	Media  *MediaHeader
	Sample *SampleDescription
	Table  *SampleTable
}

// Duration returns the media duration in seconds, or 0 if unknown.
func (t TrackInfo) Duration() float64 {
	if t.Media == nil || t.Media.TimeScale == 0 {
		return 0
	}
	return float64(t.Media.Duration) / float64(t.Media.TimeScale)
}

// Tracks lists every track of the movie in document order, with whatever
// headers each one carries.
func Tracks(atoms []*Atom) ([]TrackInfo, error) {
	moov, err := FindMovie(atoms)
	if err != nil {
		return nil, err
	}

	traks := moov.ChildList(TypeTrak)
	tracks := make([]TrackInfo, 0, len(traks))
	for i, trak := range traks {
		info := TrackInfo{Index: i}
		if h, ok := Handler(trak); ok {
			info.Handler = h.ComponentSubtype
			info.Kind = MediaKindOf(h.ComponentSubtype)
		}
		if tkhd := trak.Child(TypeTkhd); tkhd != nil {
			h, err := DecodeTrackHeader(tkhd.Payload())
			if err != nil {
				return nil, atomErr(tkhd.Type, tkhd.Offset, err)
			}
			info.Header = &h
		}
		if mdhd := trak.Find(TypeMdia, TypeMdhd); mdhd != nil {
			h, err := DecodeMediaHeader(mdhd.Payload())
			if err != nil {
				return nil, atomErr(mdhd.Type, mdhd.Offset, err)
			}
			info.Media = &h
		}
		d, ok, err := sampleDescription(trak, info.Kind)
		if err != nil {
			return nil, err
		}
		if ok {
			info.Sample = &d
		}
		if stbl := trak.Find(TypeMdia, TypeMinf, TypeStbl); stbl != nil {
			st, err := DecodeSampleTable(stbl)
			if err != nil {
				return nil, err
			}
			info.Table = &st
		}
		tracks = append(tracks, info)
	}
	return tracks, nil
}

// MovieHeaderOf decodes the mvhd of a moov atom.
func MovieHeaderOf(moov *Atom) (MovieHeader, error) {
	mvhd := moov.Child(TypeMvhd)
	if mvhd == nil {
		return MovieHeader{}, fmt.Errorf("%w: no mvhd in moov", ErrMissingAtom)
	}
	h, err := DecodeMovieHeader(mvhd.Payload())
	if err != nil {
		return MovieHeader{}, atomErr(mvhd.Type, mvhd.Offset, err)
	}
	return h, nil
}
