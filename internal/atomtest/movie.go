package atomtest

import "math"

// Track describes one trak of a synthetic movie.
type Track struct {
	ID      uint32
	Handler string // "vide", "soun", "text", ...; empty omits the hdlr atom
	Format  string // sample entry type; defaults to avc1 for video, mp4a for sound

	Width, Height uint16 // video entry dimensions
	// DisplayWidth and DisplayHeight go into tkhd as 16.16 values. They
	// default to Width and Height.
	DisplayWidth, DisplayHeight uint16

	Channels   uint16
	SampleSize uint16
	SampleRate uint32 // Hz; rates above 65535 get a version 2 entry

	NoStsd bool // omit the sample table
}

// Movie returns a complete ftyp+moov+mdat file holding tracks.
func Movie(tracks ...Track) []byte {
	var b Builder
	b.Ftyp("isom", 0x200, "isom", "iso2", "mp41")
	b.Moov(tracks...)
	b.Atom("mdat", make([]byte, 64))
	return b.Bytes()
}

// Ftyp writes a complete ftyp atom.
func (b *Builder) Ftyp(brand string, minor uint32, compat ...string) {
	b.Start("ftyp")
	b.FourCC(brand)
	b.U32(minor)
	for _, c := range compat {
		b.FourCC(c)
	}
	b.End()
}

// Moov writes a complete moov atom with an mvhd and one trak per track.
func (b *Builder) Moov(tracks ...Track) {
	b.Start("moov")
	b.Mvhd(0, 1000, 10000, uint32(len(tracks)+1))
	for _, t := range tracks {
		b.Trak(t)
	}
	b.End()
}

// Trak writes a complete trak atom.
func (b *Builder) Trak(t Track) {
	dw, dh := t.DisplayWidth, t.DisplayHeight
	if dw == 0 && dh == 0 {
		dw, dh = t.Width, t.Height
	}

	b.Start("trak")
	b.Tkhd(0, t.ID, 10000, uint32(dw)<<16, uint32(dh)<<16)
	b.Start("mdia")
	timescale := uint32(1000)
	if t.SampleRate != 0 {
		timescale = t.SampleRate
	}
	b.Mdhd(0, timescale, uint64(timescale)*10)
	if t.Handler != "" {
		b.Hdlr("mhlr", t.Handler, handlerName(t.Handler))
	}
	b.Start("minf")
	switch t.Handler {
	case "vide":
		b.Atom("vmhd", []byte{0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0})
	case "soun":
		b.Atom("smhd", make([]byte, 8))
	}
	if !t.NoStsd {
		b.Start("stbl")
		b.StartStsd(1)
		b.entry(t)
		b.End()
		b.Atom("stts", make([]byte, 8))
		b.Atom("stsc", make([]byte, 8))
		b.Atom("stsz", make([]byte, 12))
		b.Atom("stco", make([]byte, 8))
		b.End()
	}
	b.End() // minf
	b.End() // mdia
	b.End() // trak
}

func (b *Builder) entry(t Track) {
	format := t.Format
	switch t.Handler {
	case "soun":
		if format == "" {
			format = "mp4a"
		}
		if t.SampleRate > 0xffff {
			b.SoundEntryV2(format, uint32(t.Channels), uint32(t.SampleSize), float64(t.SampleRate))
			break
		}
		b.SoundEntry(format, t.Channels, t.SampleSize, t.SampleRate, nil)
	default:
		if format == "" {
			format = "avc1"
		}
		b.VisualEntry(format, t.Width, t.Height, "", nil)
	}
}

func handlerName(subtype string) string {
	switch subtype {
	case "vide":
		return "VideoHandler"
	case "soun":
		return "SoundHandler"
	}
	return "Handler"
}

func float64bits(v float64) uint64 { return math.Float64bits(v) }
