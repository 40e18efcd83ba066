// Package crosscheck extracts movie metadata with github.com/abema/go-mp4 so
// that results from qtparse can be compared against an independent ISO BMFF
// parser.
package crosscheck

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/abema/go-mp4"

	"github.com/tetsuo/qtparse"
)

// ErrMismatch is returned by Compare when two extractions disagree.
var ErrMismatch = errors.New("metadata mismatch")

var sampleEntryPaths = []mp4.BoxPath{
	{mp4.BoxTypeMdia(), mp4.BoxTypeHdlr()},
	{mp4.BoxTypeMdia(), mp4.BoxTypeMinf(), mp4.BoxTypeStbl(), mp4.BoxTypeStsd()},
	{mp4.BoxTypeMdia(), mp4.BoxTypeMinf(), mp4.BoxTypeStbl(), mp4.BoxTypeStsd(), mp4.BoxTypeAvc1()},
	{mp4.BoxTypeMdia(), mp4.BoxTypeMinf(), mp4.BoxTypeStbl(), mp4.BoxTypeStsd(), mp4.BoxTypeEncv()},
	{mp4.BoxTypeMdia(), mp4.BoxTypeMinf(), mp4.BoxTypeStbl(), mp4.BoxTypeStsd(), mp4.BoxTypeMp4a()},
	{mp4.BoxTypeMdia(), mp4.BoxTypeMinf(), mp4.BoxTypeStbl(), mp4.BoxTypeStsd(), mp4.BoxTypeEnca()},
}

// Result is the outcome of Extract.
type Result struct {
	qtparse.Metadata

	// Unrecognized lists the media kinds whose first described track uses
	// a sample entry type Extract does not decode. Metadata leaves them
	// empty and Compare skips them.
	Unrecognized []qtparse.MediaKind
}

// Skipped reports whether kind is listed in Unrecognized.
func (r Result) Skipped(kind qtparse.MediaKind) bool {
	return slices.Contains(r.Unrecognized, kind)
}

// Compare reports every difference between got and the kinds r decoded.
func (r Result) Compare(got qtparse.Metadata) error {
	return compare(got, r.Metadata, r.Skipped(qtparse.MediaVideo), r.Skipped(qtparse.MediaSound))
}

// Extract reads the first described video and sound track of the movie in
// rs. Only avc1/encv video and mp4a/enca sound entries are decoded; codec
// strings are the bare sample entry types.
func Extract(rs io.ReadSeeker) (Result, error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return Result{}, err
	}
	moovs, err := mp4.ExtractBox(rs, nil, mp4.BoxPath{mp4.BoxTypeMoov()})
	if err != nil {
		return Result{}, err
	}
	if len(moovs) != 1 {
		return Result{}, fmt.Errorf("%w: %d moov boxes", qtparse.ErrMissingAtom, len(moovs))
	}
	traks, err := mp4.ExtractBox(rs, moovs[0], mp4.BoxPath{mp4.BoxTypeTrak()})
	if err != nil {
		return Result{}, err
	}

	var r Result
	for _, trak := range traks {
		if r.done(qtparse.MediaVideo) && r.done(qtparse.MediaSound) {
			break
		}
		if err := r.processTrak(rs, trak); err != nil {
			return Result{}, fmt.Errorf("trak at offset %d: %w", trak.Offset, err)
		}
	}
	return r, nil
}

// done reports whether a track of kind has been decoded or skipped.
func (r *Result) done(kind qtparse.MediaKind) bool {
	switch kind {
	case qtparse.MediaVideo:
		return r.Video != nil || r.Skipped(kind)
	case qtparse.MediaSound:
		return r.Audio != nil || r.Skipped(kind)
	}
	return true
}

func (r *Result) processTrak(rs io.ReadSeeker, trak *mp4.BoxInfo) error {
	bips, err := mp4.ExtractBoxesWithPayload(rs, trak, sampleEntryPaths)
	if err != nil {
		return err
	}

	var handler [4]byte
	var entries uint32
	var visual *mp4.VisualSampleEntry
	var audio *mp4.AudioSampleEntry
	var format mp4.BoxType
	for _, bip := range bips {
		switch bip.Info.Type {
		case mp4.BoxTypeHdlr():
			handler = bip.Payload.(*mp4.Hdlr).HandlerType
		case mp4.BoxTypeStsd():
			entries = bip.Payload.(*mp4.Stsd).EntryCount
		case mp4.BoxTypeAvc1(), mp4.BoxTypeEncv():
			if visual == nil && audio == nil {
				visual = bip.Payload.(*mp4.VisualSampleEntry)
				format = bip.Info.Type
			}
		case mp4.BoxTypeMp4a(), mp4.BoxTypeEnca():
			if visual == nil && audio == nil {
				audio = bip.Payload.(*mp4.AudioSampleEntry)
				format = bip.Info.Type
			}
		}
	}

	kind := qtparse.MediaKindOf(qtparse.AtomType(handler))
	if kind == qtparse.MediaUnknown || r.done(kind) {
		return nil
	}
	switch {
	case kind == qtparse.MediaVideo && visual != nil:
		r.Video = &qtparse.VideoInfo{Codec: format.String(), Width: visual.Width, Height: visual.Height}
	case kind == qtparse.MediaSound && audio != nil:
		r.Audio = &qtparse.AudioInfo{
			Codec:      format.String(),
			SampleRate: audio.SampleRate >> 16,
			Channels:   uint32(audio.ChannelCount),
			SampleSize: uint32(audio.SampleSize),
		}
	case entries > 0:
		// described with an entry type not in sampleEntryPaths
		r.Unrecognized = append(r.Unrecognized, kind)
	}
	return nil
}

// Compare reports every difference in video dimensions and audio sample rate
// between got and want. Codec strings are not compared since go-mp4 does not
// derive them.
func Compare(got, want qtparse.Metadata) error {
	return compare(got, want, false, false)
}

func compare(got, want qtparse.Metadata, skipVideo, skipAudio bool) error {
	var errs []error
	gw, gh, gok := got.Dimensions()
	ww, wh, wok := want.Dimensions()
	switch {
	case skipVideo:
	case gok != wok:
		errs = append(errs, fmt.Errorf("%w: video present %v, want %v", ErrMismatch, gok, wok))
	case gw != ww || gh != wh:
		errs = append(errs, fmt.Errorf("%w: dimensions %dx%d, want %dx%d", ErrMismatch, gw, gh, ww, wh))
	}
	gr, gok := got.SampleRate()
	wr, wok := want.SampleRate()
	switch {
	case skipAudio:
	case gok != wok:
		errs = append(errs, fmt.Errorf("%w: audio present %v, want %v", ErrMismatch, gok, wok))
	case gr != wr:
		errs = append(errs, fmt.Errorf("%w: sample rate %d, want %d", ErrMismatch, gr, wr))
	}
	return errors.Join(errs...)
}
