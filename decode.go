package qtparse

import (
	"fmt"
	"math"
)

// headerLayout selects the field widths of a versioned header (mvhd, tkhd,
// mdhd). Version 0 stores times and durations in 32 bits, version 1 in 64
// bits, which shifts every later field.
type headerLayout struct {
	version uint8
	flags   uint32
	t       int // width of a time or duration field
}

// layoutOf reads the version/flags word at the start of a full atom payload
// and returns the matching layout.
func layoutOf(name string, payload []byte) (headerLayout, error) {
	if len(payload) < 4 {
		return headerLayout{}, truncated(name, 4, len(payload))
	}
	vf := be.Uint32(payload)
	l := headerLayout{version: uint8(vf >> 24), flags: vf & 0x00ffffff}
	switch l.version {
	case 0:
		l.t = 4
	case 1:
		l.t = 8
	default:
		return headerLayout{}, fmt.Errorf("%w: %s version %d", ErrUnsupportedVersion, name, l.version)
	}
	return l, nil
}

// time reads a time or duration field of the layout's width.
func (l headerLayout) time(b []byte, off int) uint64 {
	if l.t == 8 {
		return be.Uint64(b[off:])
	}
	return uint64(be.Uint32(b[off:]))
}

func truncated(name string, need, have int) error {
	return fmt.Errorf("%w: %s needs %d bytes, have %d", ErrTruncated, name, need, have)
}

// MovieHeader holds the fields of an mvhd atom.
type MovieHeader struct {
	Version          uint8
	Flags            uint32
	CreationTime     uint64
	ModificationTime uint64
	TimeScale        uint32
	Duration         uint64
	PreferredRate    uint32 // 16.16 fixed point
	PreferredVolume  uint16 // 8.8 fixed point
	NextTrackID      uint32
}

// DecodeMovieHeader decodes an mvhd payload.
func DecodeMovieHeader(payload []byte) (MovieHeader, error) {
	l, err := layoutOf("mvhd", payload)
	if err != nil {
		return MovieHeader{}, err
	}
	// vf(4)+ctime(t)+mtime(t)+timescale(4)+duration(t)+rate(4)+volume(2)+reserved(10)+matrix(36)+predefined(24)+nextTrackId(4)
	t := l.t
	if need := 88 + 3*t; len(payload) < need {
		return MovieHeader{}, truncated("mvhd", need, len(payload))
	}
	return MovieHeader{
		Version:          l.version,
		Flags:            l.flags,
		CreationTime:     l.time(payload, 4),
		ModificationTime: l.time(payload, 4+t),
		TimeScale:        be.Uint32(payload[4+2*t:]),
		Duration:         l.time(payload, 8+2*t),
		PreferredRate:    be.Uint32(payload[8+3*t:]),
		PreferredVolume:  be.Uint16(payload[12+3*t:]),
		NextTrackID:      be.Uint32(payload[84+3*t:]),
	}, nil
}

// TrackHeader holds the fields of a tkhd atom.
//
// Width and height describe the display size after the track matrix and may
// differ from the encoded picture size found in the sample description.
type TrackHeader struct {
	Version          uint8
	Flags            uint32
	CreationTime     uint64
	ModificationTime uint64
	TrackID          uint32
	Duration         uint64
	Layer            int16
	AlternateGroup   int16
	Volume           uint16 // 8.8 fixed point
	Width            uint32 // 16.16 fixed point
	Height           uint32 // 16.16 fixed point
}

// DecodeTrackHeader decodes a tkhd payload.
func DecodeTrackHeader(payload []byte) (TrackHeader, error) {
	l, err := layoutOf("tkhd", payload)
	if err != nil {
		return TrackHeader{}, err
	}
	// vf(4)+ctime(t)+mtime(t)+trackId(4)+reserved(4)+duration(t)+reserved(8)+layer(2)+altGroup(2)+volume(2)+reserved(2)+matrix(36)+width(4)+height(4)
	t := l.t
	if need := 72 + 3*t; len(payload) < need {
		return TrackHeader{}, truncated("tkhd", need, len(payload))
	}
	return TrackHeader{
		Version:          l.version,
		Flags:            l.flags,
		CreationTime:     l.time(payload, 4),
		ModificationTime: l.time(payload, 4+t),
		TrackID:          be.Uint32(payload[4+2*t:]),
		Duration:         l.time(payload, 12+2*t),
		Layer:            int16(be.Uint16(payload[20+3*t:])),
		AlternateGroup:   int16(be.Uint16(payload[22+3*t:])),
		Volume:           be.Uint16(payload[24+3*t:]),
		Width:            be.Uint32(payload[64+3*t:]),
		Height:           be.Uint32(payload[68+3*t:]),
	}, nil
}

// PixelWidth returns the integer part of the 16.16 width.
func (h TrackHeader) PixelWidth() uint32 { return h.Width >> 16 }

// PixelHeight returns the integer part of the 16.16 height.
func (h TrackHeader) PixelHeight() uint32 { return h.Height >> 16 }

// MediaHeader holds the fields of an mdhd atom.
type MediaHeader struct {
	Version   uint8
	TimeScale uint32
	Duration  uint64
	Language  uint16
	Quality   uint16
}

// DecodeMediaHeader decodes an mdhd payload.
func DecodeMediaHeader(payload []byte) (MediaHeader, error) {
	l, err := layoutOf("mdhd", payload)
	if err != nil {
		return MediaHeader{}, err
	}
	// vf(4)+ctime(t)+mtime(t)+timescale(4)+duration(t)+lang(2)+quality(2)
	t := l.t
	if need := 12 + 3*t; len(payload) < need {
		return MediaHeader{}, truncated("mdhd", need, len(payload))
	}
	return MediaHeader{
		Version:   l.version,
		TimeScale: be.Uint32(payload[4+2*t:]),
		Duration:  l.time(payload, 8+2*t),
		Language:  be.Uint16(payload[8+3*t:]),
		Quality:   be.Uint16(payload[10+3*t:]),
	}, nil
}

// MediaHandler holds the fields of an hdlr atom.
type MediaHandler struct {
	ComponentType         AtomType // "mhlr" or "dhlr" in QuickTime, zero in MP4
	ComponentSubtype      AtomType // "vide", "soun", ...
	ComponentManufacturer AtomType
	Name                  string
}

// DecodeHandler decodes an hdlr payload. The name may be a QuickTime counted
// string or an MP4 null-terminated string.
func DecodeHandler(payload []byte) (MediaHandler, error) {
	// vf(4)+componentType(4)+subtype(4)+manufacturer(4)+flags(4)+flagsMask(4)+name
	if len(payload) < 24 {
		return MediaHandler{}, truncated("hdlr", 24, len(payload))
	}
	var h MediaHandler
	copy(h.ComponentType[:], payload[4:8])
	copy(h.ComponentSubtype[:], payload[8:12])
	copy(h.ComponentManufacturer[:], payload[12:16])

	name := payload[24:]
	if len(name) > 0 && int(name[0]) == len(name)-1 {
		h.Name = string(name[1:])
		return h, nil
	}
	end := 0
	for end < len(name) && name[end] != 0 {
		end++
	}
	h.Name = string(name[:end])
	return h, nil
}

// FileType holds the fields of an ftyp atom.
type FileType struct {
	MajorBrand   AtomType
	MinorVersion uint32
	Compatible   []AtomType
}

// DecodeFileType decodes an ftyp payload.
func DecodeFileType(payload []byte) (FileType, error) {
	if len(payload) < 8 {
		return FileType{}, truncated("ftyp", 8, len(payload))
	}
	f := FileType{MinorVersion: be.Uint32(payload[4:8])}
	copy(f.MajorBrand[:], payload[0:4])
	for i := 8; i+4 <= len(payload); i += 4 {
		var b AtomType
		copy(b[:], payload[i:i+4])
		f.Compatible = append(f.Compatible, b)
	}
	return f, nil
}

var brandQuickTime = AtomType{'q', 't', ' ', ' '}

// IsQuickTime reports whether the file declares the QuickTime brand.
func (f FileType) IsQuickTime() bool {
	if f.MajorBrand == brandQuickTime {
		return true
	}
	for _, b := range f.Compatible {
		if b == brandQuickTime {
			return true
		}
	}
	return false
}

// MediaKind classifies a track by its media handler.
type MediaKind uint8

const (
	MediaUnknown MediaKind = iota
	MediaVideo
	MediaSound
)

func (k MediaKind) String() string {
	switch k {
	case MediaVideo:
		return "video"
	case MediaSound:
		return "sound"
	}
	return "unknown"
}

// MediaKindOf maps a handler subtype to a MediaKind.
func MediaKindOf(subtype AtomType) MediaKind {
	switch subtype {
	case HandlerVideo:
		return MediaVideo
	case HandlerSound:
		return MediaSound
	}
	return MediaUnknown
}

// SampleDescription is the first entry of an stsd atom, decoded according
// to the media kind of its track. Video is set for MediaVideo, Sound for
// MediaSound, neither for MediaUnknown.
type SampleDescription struct {
	Kind       MediaKind
	Format     AtomType // codec four-character code of the first entry
	EntryCount uint32

	Video *VideoSampleDescription
	Sound *SoundSampleDescription
}

// VideoSampleDescription holds the fields of a video sample entry.
type VideoSampleDescription struct {
	Format             AtomType
	DataReferenceIndex uint16
	Width              uint16
	Height             uint16
	HResolution        uint32 // 16.16 fixed point
	VResolution        uint32 // 16.16 fixed point
	FrameCount         uint16
	CompressorName     string
	Depth              uint16
	Codec              string // e.g. "avc1.64001f", or the format when no avcC is present
}

// SoundSampleDescription holds the fields of a sound sample entry.
type SoundSampleDescription struct {
	Format             AtomType
	DataReferenceIndex uint16
	Version            uint16 // QuickTime sound description version (0, 1 or 2)
	ChannelCount       uint32
	SampleSize         uint32 // bits per sample
	SampleRateFixed    uint32 // 16.16 sample rate field as stored
	SampleRate         uint32 // integer Hz, fraction discarded
	Codec              string // e.g. "mp4a.40.2", or the format when no esds is present
}

// Sample entry layout, relative to the start of the entry (size and format
// included).
const (
	sampleEntryHeader = 16 // size(4)+format(4)+reserved(6)+dataRefIdx(2)

	videoEntryMin  = 36 // through height
	videoEntryFull = 86 // through color table id; child atoms follow

	soundEntryMin = 36 // through sample rate
	soundEntryV1  = 52 // + samplesPerPacket, bytesPerPacket, bytesPerFrame, bytesPerSample
	soundEntryV2  = 72 // + sizeOfStructOnly, float64 rate, channels, flags, packet sizes
)

// DecodeSampleDescription decodes an stsd payload. Every declared entry
// header is bounds-checked; only the first entry is decoded, using the
// layout selected by kind.
func DecodeSampleDescription(payload []byte, kind MediaKind) (SampleDescription, error) {
	// vf(4)+entryCount(4)+entries
	if len(payload) < 8 {
		return SampleDescription{}, truncated("stsd", 8, len(payload))
	}
	count := be.Uint32(payload[4:8])
	if count == 0 {
		return SampleDescription{}, fmt.Errorf("%w: stsd has no entries", ErrMissingAtom)
	}

	var first []byte
	ptr := 8
	for i := uint32(0); i < count; i++ {
		rest := len(payload) - ptr
		if rest < 8 {
			return SampleDescription{}, fmt.Errorf("%w: stsd entry %d header at offset %d", ErrTruncated, i, ptr)
		}
		size := be.Uint32(payload[ptr:])
		if size < 8 || uint64(size) > uint64(rest) {
			return SampleDescription{}, fmt.Errorf("%w: stsd entry %d size %d with %d bytes left", ErrMalformedSize, i, size, rest)
		}
		if i == 0 {
			first = payload[ptr : ptr+int(size)]
		}
		ptr += int(size)
	}

	d := SampleDescription{Kind: kind, EntryCount: count}
	copy(d.Format[:], first[4:8])

	var err error
	switch kind {
	case MediaVideo:
		d.Video, err = decodeVideoEntry(first)
	case MediaSound:
		d.Sound, err = decodeSoundEntry(first)
	}
	if err != nil {
		return SampleDescription{}, err
	}
	return d, nil
}

func decodeVideoEntry(e []byte) (*VideoSampleDescription, error) {
	if len(e) < videoEntryMin {
		return nil, truncated("video sample entry", videoEntryMin, len(e))
	}
	// +version(2)+revision(2)+vendor(4)+temporalQuality(4)+spatialQuality(4)+width(2)+height(2)
	v := &VideoSampleDescription{
		DataReferenceIndex: be.Uint16(e[14:16]),
		Width:              be.Uint16(e[32:34]),
		Height:             be.Uint16(e[34:36]),
	}
	copy(v.Format[:], e[4:8])
	v.Codec = v.Format.String()

	if len(e) < videoEntryFull {
		return v, nil
	}
	// +hres(4)+vres(4)+dataSize(4)+frameCount(2)+compressorName(32)+depth(2)+colorTableId(2)
	v.HResolution = be.Uint32(e[36:40])
	v.VResolution = be.Uint32(e[40:44])
	v.FrameCount = be.Uint16(e[48:50])
	nameLen := min(int(e[50]), 31)
	v.CompressorName = string(e[51 : 51+nameLen])
	v.Depth = be.Uint16(e[82:84])

	if v.Format == TypeAvc1 || v.Format == TypeAvc3 {
		if avcC := extension(e, videoEntryFull, TypeAvcC); avcC != nil {
			if profile := avcProfile(avcC.Payload()); profile != "" {
				v.Codec += "." + profile
			}
		}
	}
	return v, nil
}

func decodeSoundEntry(e []byte) (*SoundSampleDescription, error) {
	if len(e) < soundEntryMin {
		return nil, truncated("sound sample entry", soundEntryMin, len(e))
	}
	// +version(2)+revision(2)+vendor(4)+channels(2)+sampleSize(2)+compressionId(2)+packetSize(2)+sampleRate(4)
	s := &SoundSampleDescription{
		DataReferenceIndex: be.Uint16(e[14:16]),
		Version:            be.Uint16(e[16:18]),
		ChannelCount:       uint32(be.Uint16(e[24:26])),
		SampleSize:         uint32(be.Uint16(e[26:28])),
		SampleRateFixed:    be.Uint32(e[32:36]),
	}
	copy(s.Format[:], e[4:8])
	s.Codec = s.Format.String()
	s.SampleRate = s.SampleRateFixed >> 16

	children := soundEntryMin
	switch s.Version {
	case 1:
		children = soundEntryV1
	case 2:
		if len(e) < soundEntryV2 {
			return nil, truncated("sound sample entry v2", soundEntryV2, len(e))
		}
		// +sizeOfStructOnly(4)+sampleRate(float64)+channels(4)+always7F000000(4)+bitsPerChannel(4)+flags(4)+bytesPerPacket(4)+framesPerPacket(4)
		rate := math.Float64frombits(be.Uint64(e[40:48]))
		if rate < 0 || rate > math.MaxUint32 || math.IsNaN(rate) {
			return nil, fmt.Errorf("%w: sound sample entry v2 sample rate %v", ErrMalformedSize, rate)
		}
		s.SampleRate = uint32(rate)
		s.ChannelCount = be.Uint32(e[48:52])
		s.SampleSize = be.Uint32(e[56:60])
		children = soundEntryV2
	}

	if s.Format == TypeMp4a && len(e) > children {
		esds := extension(e, children, TypeEsds)
		if esds == nil {
			if wave := extension(e, children, TypeWave); wave != nil {
				esds = wave.Child(TypeEsds)
			}
		}
		// esds payload starts with version and flags
		if esds != nil && esds.PayloadLen() > 4 {
			if oti := esdsCodec(esds.Payload()[4:]); oti != "" {
				s.Codec += "." + oti
			}
		}
	}
	return s, nil
}

// extension finds a child atom of type t among the atoms that follow the
// fixed fields of a sample entry. Malformed extensions are ignored: they only
// refine the codec string.
func extension(entry []byte, off int, t AtomType) *Atom {
	if off >= len(entry) {
		return nil
	}
	for a, err := range Siblings(entry, off, len(entry)-off) {
		if err != nil {
			return nil
		}
		if a.Type == t {
			return a
		}
	}
	return nil
}
