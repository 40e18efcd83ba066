package crosscheck

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"github.com/tetsuo/qtparse"
	"github.com/tetsuo/qtparse/internal/atomtest"
)

func TestExtractAgreesWithQtparse(t *testing.T) {
	movies := map[string][]atomtest.Track{
		"video and sound": {
			{ID: 1, Handler: "vide", Width: 1920, Height: 1080},
			{ID: 2, Handler: "soun", Channels: 2, SampleSize: 16, SampleRate: 48000},
		},
		"sound first": {
			{ID: 1, Handler: "soun", Channels: 1, SampleSize: 16, SampleRate: 22050},
			{ID: 2, Handler: "vide", Width: 640, Height: 360},
		},
		"two video tracks": {
			{ID: 1, Handler: "vide", Width: 1280, Height: 720},
			{ID: 2, Handler: "vide", Width: 3840, Height: 2160},
		},
		"video only": {
			{ID: 1, Handler: "vide", Width: 720, Height: 480, DisplayWidth: 640, DisplayHeight: 480},
		},
		"no tracks": nil,
	}

	for name, tracks := range movies {
		t.Run(name, func(t *testing.T) {
			buf := atomtest.Movie(tracks...)
			m, err := qtparse.ExtractBytes(buf)
			if err != nil {
				t.Fatalf("qtparse: %v", err)
			}
			ref, err := Extract(bytes.NewReader(buf))
			if err != nil {
				t.Fatalf("crosscheck: %v", err)
			}
			if len(ref.Unrecognized) != 0 {
				t.Errorf("Unrecognized = %v, want none", ref.Unrecognized)
			}
			if err := Compare(m, ref.Metadata); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestExtractUnrecognizedEntries(t *testing.T) {
	tests := []struct {
		name   string
		tracks []atomtest.Track
		skip   []qtparse.MediaKind
	}{
		{
			name: "hevc video",
			tracks: []atomtest.Track{
				{ID: 1, Handler: "vide", Format: "hvc1", Width: 3840, Height: 2160},
				{ID: 2, Handler: "soun", Channels: 2, SampleSize: 16, SampleRate: 48000},
			},
			skip: []qtparse.MediaKind{qtparse.MediaVideo},
		},
		{
			name: "pcm sound",
			tracks: []atomtest.Track{
				{ID: 1, Handler: "vide", Width: 1280, Height: 720},
				{ID: 2, Handler: "soun", Format: "lpcm", Channels: 2, SampleSize: 24, SampleRate: 48000},
			},
			skip: []qtparse.MediaKind{qtparse.MediaSound},
		},
		{
			name: "jpeg before avc1",
			tracks: []atomtest.Track{
				{ID: 1, Handler: "vide", Format: "jpeg", Width: 640, Height: 480},
				{ID: 2, Handler: "vide", Width: 1920, Height: 1080},
			},
			skip: []qtparse.MediaKind{qtparse.MediaVideo},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := atomtest.Movie(tt.tracks...)
			m, err := qtparse.ExtractBytes(buf)
			if err != nil {
				t.Fatalf("qtparse: %v", err)
			}
			ref, err := Extract(bytes.NewReader(buf))
			if err != nil {
				t.Fatalf("crosscheck: %v", err)
			}
			if !slices.Equal(ref.Unrecognized, tt.skip) {
				t.Errorf("Unrecognized = %v, want %v", ref.Unrecognized, tt.skip)
			}
			if err := ref.Compare(m); err != nil {
				t.Errorf("Compare: %v", err)
			}
			if err := Compare(m, ref.Metadata); !errors.Is(err, ErrMismatch) {
				t.Errorf("plain Compare err = %v, want ErrMismatch", err)
			}
		})
	}
}

func TestExtractWithoutMovie(t *testing.T) {
	var b atomtest.Builder
	b.Ftyp("isom", 0)
	b.Atom("mdat", make([]byte, 8))

	_, err := Extract(bytes.NewReader(b.Bytes()))
	if !errors.Is(err, qtparse.ErrMissingAtom) {
		t.Fatalf("err = %v, want ErrMissingAtom", err)
	}
}

func TestCompare(t *testing.T) {
	full := qtparse.Metadata{
		Video: &qtparse.VideoInfo{Width: 1920, Height: 1080},
		Audio: &qtparse.AudioInfo{SampleRate: 48000},
	}
	tests := []struct {
		name  string
		other qtparse.Metadata
		ok    bool
	}{
		{"equal", qtparse.Metadata{
			Video: &qtparse.VideoInfo{Codec: "avc1.64001f", Width: 1920, Height: 1080},
			Audio: &qtparse.AudioInfo{Codec: "mp4a.40.2", SampleRate: 48000},
		}, true},
		{"other size", qtparse.Metadata{
			Video: &qtparse.VideoInfo{Width: 1280, Height: 720},
			Audio: &qtparse.AudioInfo{SampleRate: 48000},
		}, false},
		{"other rate", qtparse.Metadata{
			Video: &qtparse.VideoInfo{Width: 1920, Height: 1080},
			Audio: &qtparse.AudioInfo{SampleRate: 44100},
		}, false},
		{"missing audio", qtparse.Metadata{
			Video: &qtparse.VideoInfo{Width: 1920, Height: 1080},
		}, false},
		{"empty", qtparse.Metadata{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Compare(tt.other, full)
			if tt.ok && err != nil {
				t.Errorf("Compare: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrMismatch) {
				t.Errorf("err = %v, want ErrMismatch", err)
			}
		})
	}
}
