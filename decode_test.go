package qtparse

import (
	"errors"
	"testing"

	"github.com/tetsuo/qtparse/internal/atomtest"
)

// payloadOf builds a single atom and returns its payload.
func payloadOf(t *testing.T, build func(b *atomtest.Builder)) []byte {
	t.Helper()
	var b atomtest.Builder
	build(&b)
	atoms := mustRead(t, b.Bytes())
	if len(atoms) != 1 {
		t.Fatalf("built %d atoms, want 1", len(atoms))
	}
	return atoms[0].Payload()
}

func TestDecodeMovieHeaderVersions(t *testing.T) {
	for _, version := range []uint8{0, 1} {
		payload := payloadOf(t, func(b *atomtest.Builder) { b.Mvhd(version, 90000, 5400000, 3) })
		h, err := DecodeMovieHeader(payload)
		if err != nil {
			t.Fatalf("v%d: %v", version, err)
		}
		if h.Version != version || h.TimeScale != 90000 || h.Duration != 5400000 || h.NextTrackID != 3 {
			t.Errorf("v%d: got %+v", version, h)
		}
		if h.CreationTime != 1 || h.ModificationTime != 2 {
			t.Errorf("v%d: times = %d, %d, want 1, 2", version, h.CreationTime, h.ModificationTime)
		}
		if h.PreferredRate != 0x00010000 || h.PreferredVolume != 0x0100 {
			t.Errorf("v%d: rate/volume = %#x/%#x", version, h.PreferredRate, h.PreferredVolume)
		}
	}
}

func TestDecodeMovieHeaderLargeDuration(t *testing.T) {
	payload := payloadOf(t, func(b *atomtest.Builder) { b.Mvhd(1, 1000, 1<<40, 2) })
	h, err := DecodeMovieHeader(payload)
	if err != nil {
		t.Fatal(err)
	}
	if h.Duration != 1<<40 {
		t.Errorf("Duration = %d, want %d", h.Duration, uint64(1)<<40)
	}
}

func TestDecodeTrackHeaderVersions(t *testing.T) {
	for _, version := range []uint8{0, 1} {
		payload := payloadOf(t, func(b *atomtest.Builder) { b.Tkhd(version, 7, 12345, 1280<<16, 720<<16|0x8000) })
		h, err := DecodeTrackHeader(payload)
		if err != nil {
			t.Fatalf("v%d: %v", version, err)
		}
		if h.TrackID != 7 || h.Duration != 12345 {
			t.Errorf("v%d: track %d duration %d, want 7 and 12345", version, h.TrackID, h.Duration)
		}
		if h.PixelWidth() != 1280 || h.PixelHeight() != 720 {
			t.Errorf("v%d: size %dx%d, want 1280x720", version, h.PixelWidth(), h.PixelHeight())
		}
		if h.Flags != 3 {
			t.Errorf("v%d: flags = %#x, want 0x3", version, h.Flags)
		}
	}
}

func TestDecodeMediaHeaderVersions(t *testing.T) {
	for _, version := range []uint8{0, 1} {
		payload := payloadOf(t, func(b *atomtest.Builder) { b.Mdhd(version, 44100, 441000) })
		h, err := DecodeMediaHeader(payload)
		if err != nil {
			t.Fatalf("v%d: %v", version, err)
		}
		if h.TimeScale != 44100 || h.Duration != 441000 || h.Language != 0x55c4 {
			t.Errorf("v%d: got %+v", version, h)
		}
	}
}

func TestVersionedHeaderErrors(t *testing.T) {
	decoders := map[string]func([]byte) error{
		"mvhd": func(p []byte) error { _, err := DecodeMovieHeader(p); return err },
		"tkhd": func(p []byte) error { _, err := DecodeTrackHeader(p); return err },
		"mdhd": func(p []byte) error { _, err := DecodeMediaHeader(p); return err },
	}
	for name, decode := range decoders {
		t.Run(name, func(t *testing.T) {
			v2 := make([]byte, 128)
			v2[0] = 2
			if err := decode(v2); !errors.Is(err, ErrUnsupportedVersion) {
				t.Errorf("version 2: err = %v, want ErrUnsupportedVersion", err)
			}
			if err := decode([]byte{0, 0}); !errors.Is(err, ErrTruncated) {
				t.Errorf("2 bytes: err = %v, want ErrTruncated", err)
			}
			// a version 1 layout needs more bytes than version 0
			v1 := make([]byte, 24)
			v1[0] = 1
			if err := decode(v1); !errors.Is(err, ErrTruncated) {
				t.Errorf("short v1: err = %v, want ErrTruncated", err)
			}
		})
	}
}

func TestDecodeHandler(t *testing.T) {
	payload := payloadOf(t, func(b *atomtest.Builder) { b.Hdlr("mhlr", "vide", "VideoHandler") })
	h, err := DecodeHandler(payload)
	if err != nil {
		t.Fatal(err)
	}
	if h.ComponentType.String() != "mhlr" || h.ComponentSubtype != HandlerVideo || h.Name != "VideoHandler" {
		t.Errorf("got %+v", h)
	}

	// QuickTime counted string
	counted := append(make([]byte, 24), 5, 'A', 'p', 'p', 'l', 'e')
	copy(counted[8:], "soun")
	h, err = DecodeHandler(counted)
	if err != nil {
		t.Fatal(err)
	}
	if h.ComponentSubtype != HandlerSound || h.Name != "Apple" {
		t.Errorf("counted name: got %+v", h)
	}

	if _, err := DecodeHandler(make([]byte, 12)); !errors.Is(err, ErrTruncated) {
		t.Errorf("short hdlr: err = %v, want ErrTruncated", err)
	}
}

func TestDecodeFileType(t *testing.T) {
	f, err := DecodeFileType([]byte("qt  \x20\x05\x03\x00qt  "))
	if err != nil {
		t.Fatal(err)
	}
	if f.MajorBrand.String() != "qt  " || f.MinorVersion != 0x20050300 || len(f.Compatible) != 1 {
		t.Errorf("got %+v", f)
	}
	if !f.IsQuickTime() {
		t.Error("IsQuickTime = false for qt brand")
	}

	f, err = DecodeFileType([]byte("isom\x00\x00\x02\x00isomiso2mp41"))
	if err != nil {
		t.Fatal(err)
	}
	if f.IsQuickTime() || len(f.Compatible) != 3 {
		t.Errorf("isom: got %+v", f)
	}
}

var (
	avcCPayload = []byte{1, 0x64, 0x00, 0x1f, 0xff, 0xe1, 0x00, 0x00}
	// version/flags, then ES, DecoderConfig (OTI 0x40) and DecoderSpecificInfo (AAC-LC) descriptors
	esdsPayload = []byte{
		0, 0, 0, 0,
		0x03, 25, 0, 1, 0,
		0x04, 17, 0x40, 0x15, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0x05, 2, 0x12, 0x10,
		0x06, 1, 2,
	}
)

func TestDecodeSampleDescriptionVideo(t *testing.T) {
	payload := payloadOf(t, func(b *atomtest.Builder) {
		b.StartStsd(1)
		b.VisualEntry("avc1", 1920, 1080, "x264", func(b *atomtest.Builder) {
			b.Atom("avcC", avcCPayload)
			b.Atom("pasp", make([]byte, 8))
		})
		b.End()
	})

	d, err := DecodeSampleDescription(payload, MediaVideo)
	if err != nil {
		t.Fatal(err)
	}
	if d.Kind != MediaVideo || d.Format != TypeAvc1 || d.EntryCount != 1 || d.Sound != nil {
		t.Fatalf("got %+v", d)
	}
	v := d.Video
	if v.Width != 1920 || v.Height != 1080 {
		t.Errorf("size = %dx%d, want 1920x1080", v.Width, v.Height)
	}
	if v.CompressorName != "x264" || v.Depth != 0x18 || v.FrameCount != 1 || v.HResolution != 0x00480000 {
		t.Errorf("fixed fields = %+v", v)
	}
	if v.Codec != "avc1.64001f" {
		t.Errorf("Codec = %q, want avc1.64001f", v.Codec)
	}
}

func TestDecodeSampleDescriptionSound(t *testing.T) {
	tests := []struct {
		name  string
		entry func(b *atomtest.Builder)
		rate  uint32
		ch    uint32
		bits  uint32
		codec string
	}{
		{
			name:  "plain",
			entry: func(b *atomtest.Builder) { b.SoundEntry("twos", 2, 16, 48000, nil) },
			rate:  48000, ch: 2, bits: 16, codec: "twos",
		},
		{
			name: "fraction discarded",
			entry: func(b *atomtest.Builder) {
				b.SoundEntryFixed("sowt", 1, 16, 44100<<16|0x8000, nil)
			},
			rate: 44100, ch: 1, bits: 16, codec: "sowt",
		},
		{
			name: "esds",
			entry: func(b *atomtest.Builder) {
				b.SoundEntry("mp4a", 2, 16, 44100, func(b *atomtest.Builder) { b.Atom("esds", esdsPayload) })
			},
			rate: 44100, ch: 2, bits: 16, codec: "mp4a.40.2",
		},
		{
			name: "esds inside wave",
			entry: func(b *atomtest.Builder) {
				b.SoundEntry("mp4a", 2, 16, 32000, func(b *atomtest.Builder) {
					b.Start("wave")
					b.Atom("frma", []byte("mp4a"))
					b.Atom("esds", esdsPayload)
					b.End()
				})
			},
			rate: 32000, ch: 2, bits: 16, codec: "mp4a.40.2",
		},
		{
			name:  "version 2",
			entry: func(b *atomtest.Builder) { b.SoundEntryV2("lpcm", 6, 24, 96000) },
			rate:  96000, ch: 6, bits: 24, codec: "lpcm",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := payloadOf(t, func(b *atomtest.Builder) {
				b.StartStsd(1)
				tt.entry(b)
				b.End()
			})
			d, err := DecodeSampleDescription(payload, MediaSound)
			if err != nil {
				t.Fatal(err)
			}
			s := d.Sound
			if s == nil || d.Video != nil {
				t.Fatalf("got %+v", d)
			}
			if s.SampleRate != tt.rate || s.ChannelCount != tt.ch || s.SampleSize != tt.bits {
				t.Errorf("rate %d ch %d bits %d, want %d %d %d", s.SampleRate, s.ChannelCount, s.SampleSize, tt.rate, tt.ch, tt.bits)
			}
			if s.Codec != tt.codec {
				t.Errorf("Codec = %q, want %q", s.Codec, tt.codec)
			}
		})
	}
}

func TestDecodeSampleDescriptionFirstEntryWins(t *testing.T) {
	payload := payloadOf(t, func(b *atomtest.Builder) {
		b.StartStsd(2)
		b.VisualEntry("hvc1", 3840, 2160, "", nil)
		b.VisualEntry("avc1", 1920, 1080, "", nil)
		b.End()
	})
	d, err := DecodeSampleDescription(payload, MediaVideo)
	if err != nil {
		t.Fatal(err)
	}
	if d.EntryCount != 2 || d.Format.String() != "hvc1" || d.Video.Width != 3840 {
		t.Errorf("got format %s width %d count %d", d.Format, d.Video.Width, d.EntryCount)
	}
}

func TestDecodeSampleDescriptionUnknownKind(t *testing.T) {
	payload := payloadOf(t, func(b *atomtest.Builder) {
		b.StartStsd(1)
		b.Atom("text", make([]byte, 40))
		b.End()
	})
	d, err := DecodeSampleDescription(payload, MediaUnknown)
	if err != nil {
		t.Fatal(err)
	}
	if d.Format.String() != "text" || d.Video != nil || d.Sound != nil {
		t.Errorf("got %+v", d)
	}
}

func TestDecodeSampleDescriptionErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		kind    MediaKind
		want    error
	}{
		{"short header", []byte{0, 0, 0, 0, 0}, MediaVideo, ErrTruncated},
		{"no entries", []byte{0, 0, 0, 0, 0, 0, 0, 0}, MediaVideo, ErrMissingAtom},
		{"entry overruns", append([]byte{0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 200}, "avc1"...), MediaVideo, ErrMalformedSize},
		{"entry too small", append([]byte{0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 4}, "avc1"...), MediaVideo, ErrMalformedSize},
		{"missing second entry", append([]byte{0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 8}, "avc1"...), MediaVideo, ErrTruncated},
		{"short video entry", append([]byte{0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 12}, "avc1\x00\x00\x00\x00"...), MediaVideo, ErrTruncated},
		{"short sound entry", append([]byte{0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 12}, "mp4a\x00\x00\x00\x00"...), MediaSound, ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSampleDescription(tt.payload, tt.kind)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEsdsCodecWithoutDecoderSpecificInfo(t *testing.T) {
	data := []byte{0x03, 0x80, 0x80, 0x15, 0, 2, 0, 0x04, 13, 0x6b, 0x15, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	if got := esdsCodec(data); got != "6b" {
		t.Errorf("esdsCodec = %q, want 6b", got)
	}
	if got := esdsCodec([]byte{0x04, 1}); got != "" {
		t.Errorf("esdsCodec without ES descriptor = %q, want empty", got)
	}
}
