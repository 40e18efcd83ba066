// Package atomtest builds synthetic QuickTime and MP4 files for tests.
package atomtest

import (
	"encoding/binary"
	"fmt"
)

var be = binary.BigEndian

type frame struct {
	offset int
	large  bool // 64-bit size at offset+8
}

// Builder encodes atoms into a growing byte buffer. Sizes are backpatched
// when an atom is closed with End.
type Builder struct {
	buf   []byte
	stack []frame
}

// Bytes returns the written data.
func (b *Builder) Bytes() []byte { return b.buf }

// Len returns the number of bytes written.
func (b *Builder) Len() int { return len(b.buf) }

// U8 appends a single byte.
func (b *Builder) U8(v uint8) { b.buf = append(b.buf, v) }

// U16 appends a big-endian uint16.
func (b *Builder) U16(v uint16) { b.buf = be.AppendUint16(b.buf, v) }

// U32 appends a big-endian uint32.
func (b *Builder) U32(v uint32) { b.buf = be.AppendUint32(b.buf, v) }

// U64 appends a big-endian uint64.
func (b *Builder) U64(v uint64) { b.buf = be.AppendUint64(b.buf, v) }

// Zeros appends n zero bytes.
func (b *Builder) Zeros(n int) { b.buf = append(b.buf, make([]byte, n)...) }

// Raw appends p unchanged.
func (b *Builder) Raw(p []byte) { b.buf = append(b.buf, p...) }

// FourCC appends a four-character code.
func (b *Builder) FourCC(s string) {
	var t [4]byte
	copy(t[:], s)
	b.buf = append(b.buf, t[:]...)
}

// Start begins a new atom. Write content, then call End.
func (b *Builder) Start(t string) {
	b.stack = append(b.stack, frame{offset: len(b.buf)})
	b.U32(0) // placeholder size
	b.FourCC(t)
}

// StartFull begins a new atom with version and flags.
func (b *Builder) StartFull(t string, version uint8, flags uint32) {
	b.Start(t)
	b.U32(uint32(version)<<24 | flags&0x00ffffff)
}

// StartLarge begins a new atom that uses the 64-bit extended size field.
func (b *Builder) StartLarge(t string) {
	b.stack = append(b.stack, frame{offset: len(b.buf), large: true})
	b.U32(1)
	b.FourCC(t)
	b.U64(0) // placeholder size
}

// StartQT begins a QT atom with the given atom ID and child count.
func (b *Builder) StartQT(t string, id uint32, children uint16) {
	b.Start(t)
	b.U32(id)
	b.U16(0)
	b.U16(children)
	b.U32(0)
}

// QTContainer writes the 12-byte QT atom container header.
func (b *Builder) QTContainer() { b.Zeros(12) }

// End finishes the current atom by backpatching its size.
func (b *Builder) End() {
	f := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	size := len(b.buf) - f.offset
	if f.large {
		be.PutUint64(b.buf[f.offset+8:], uint64(size))
		return
	}
	be.PutUint32(b.buf[f.offset:], uint32(size))
}

// Atom writes a complete atom with the given payload.
func (b *Builder) Atom(t string, payload []byte) {
	b.Start(t)
	b.Raw(payload)
	b.End()
}

// Mvhd writes a complete mvhd atom. Version 1 stores times in 64 bits.
func (b *Builder) Mvhd(version uint8, timescale uint32, duration uint64, nextTrackID uint32) {
	b.StartFull("mvhd", version, 0)
	b.time(version, 1) // creation time
	b.time(version, 2) // modification time
	b.U32(timescale)
	b.time(version, duration)
	b.U32(0x00010000) // rate 1.0
	b.U16(0x0100)     // volume 1.0
	b.Zeros(10)
	b.matrix()
	b.Zeros(24) // predefined
	b.U32(nextTrackID)
	b.End()
}

// Tkhd writes a complete tkhd atom. width and height are 16.16 fixed point.
func (b *Builder) Tkhd(version uint8, trackID uint32, duration uint64, width, height uint32) {
	b.StartFull("tkhd", version, 0x000003) // enabled, in movie
	b.time(version, 1)
	b.time(version, 2)
	b.U32(trackID)
	b.U32(0)
	b.time(version, duration)
	b.Zeros(8)
	b.U16(0) // layer
	b.U16(0) // alternate group
	b.U16(0) // volume
	b.U16(0)
	b.matrix()
	b.U32(width)
	b.U32(height)
	b.End()
}

// Mdhd writes a complete mdhd atom.
func (b *Builder) Mdhd(version uint8, timescale uint32, duration uint64) {
	b.StartFull("mdhd", version, 0)
	b.time(version, 1)
	b.time(version, 2)
	b.U32(timescale)
	b.time(version, duration)
	b.U16(0x55c4) // "und"
	b.U16(0)
	b.End()
}

// Hdlr writes a complete hdlr atom with a null-terminated name.
func (b *Builder) Hdlr(componentType, subtype, name string) {
	b.StartFull("hdlr", 0, 0)
	b.FourCC(componentType)
	b.FourCC(subtype)
	b.Zeros(12) // manufacturer, flags, flags mask
	b.Raw([]byte(name))
	b.U8(0)
	b.End()
}

// StartStsd begins an stsd atom declaring count entries.
func (b *Builder) StartStsd(count uint32) {
	b.StartFull("stsd", 0, 0)
	b.U32(count)
}

// VisualEntry writes the 86-byte visual sample entry. children, if not nil,
// writes the extension atoms that follow the fixed fields.
func (b *Builder) VisualEntry(format string, width, height uint16, compressor string, children func(*Builder)) {
	b.Start(format)
	b.Zeros(6)
	b.U16(1)    // data reference index
	b.U16(0)    // version
	b.U16(0)    // revision
	b.Zeros(12) // vendor, temporal quality, spatial quality
	b.U16(width)
	b.U16(height)
	b.U32(0x00480000) // 72 dpi
	b.U32(0x00480000)
	b.U32(0) // data size
	b.U16(1) // frame count
	name := make([]byte, 32)
	name[0] = byte(copy(name[1:], compressor))
	b.Raw(name)
	b.U16(0x0018)
	b.U16(0xffff)
	if children != nil {
		children(b)
	}
	b.End()
}

// SoundEntry writes a version 0 sound sample entry. rate is in Hz and is
// stored as 16.16 fixed point, so it panics above 65535 Hz; use SoundEntryV2
// for higher rates.
func (b *Builder) SoundEntry(format string, channels, sampleSize uint16, rate uint32, children func(*Builder)) {
	if rate > 0xffff {
		panic(fmt.Sprintf("atomtest: %d Hz does not fit a 16.16 sample rate", rate))
	}
	b.SoundEntryFixed(format, channels, sampleSize, rate<<16, children)
}

// SoundEntryFixed writes a version 0 sound sample entry with a raw 16.16
// sample rate field.
func (b *Builder) SoundEntryFixed(format string, channels, sampleSize uint16, rate uint32, children func(*Builder)) {
	b.Start(format)
	b.Zeros(6)
	b.U16(1) // data reference index
	b.U16(0) // version
	b.U16(0) // revision
	b.U32(0) // vendor
	b.U16(channels)
	b.U16(sampleSize)
	b.U16(0) // compression id
	b.U16(0) // packet size
	b.U32(rate)
	if children != nil {
		children(b)
	}
	b.End()
}

// SoundEntryV2 writes a QuickTime version 2 sound sample entry.
func (b *Builder) SoundEntryV2(format string, channels, bitsPerChannel uint32, rate float64) {
	b.Start(format)
	b.Zeros(6)
	b.U16(1)
	b.U16(2) // version
	b.U16(0)
	b.U32(0)
	b.U16(3)      // always 3
	b.U16(16)     // always 16
	b.U16(0xfffe) // always -2
	b.U16(0)
	b.U32(0x00010000) // always 65536
	b.U32(72)         // size of struct only
	b.U64(float64bits(rate))
	b.U32(channels)
	b.U32(0x7f000000)
	b.U32(bitsPerChannel)
	b.U32(0) // format specific flags
	b.U32(0) // bytes per audio packet
	b.U32(1) // frames per audio packet
	b.End()
}

func (b *Builder) time(version uint8, v uint64) {
	if version == 1 {
		b.U64(v)
		return
	}
	b.U32(uint32(v))
}

// matrix writes the unity transformation matrix.
func (b *Builder) matrix() {
	for _, v := range [9]uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000} {
		b.U32(v)
	}
}
