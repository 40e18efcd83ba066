package qtparse

import "strconv"

// MPEG-4 descriptor tags (ISO/IEC 14496-1).
const (
	tagESDescriptor            = 0x03
	tagDecoderConfigDescriptor = 0x04
	tagDecoderSpecificInfo     = 0x05
)

// descriptorReader walks a chain of MPEG-4 descriptors inside esds data.
type descriptorReader struct {
	data []byte
	pos  int
}

// enter consumes a descriptor tag and its variable-length size, and
// returns false if the tag does not match or the header is cut short.
func (d *descriptorReader) enter(tag byte) bool {
	if d.pos >= len(d.data) || d.data[d.pos] != tag {
		return false
	}
	d.pos++
	for d.pos < len(d.data) {
		b := d.data[d.pos]
		d.pos++
		if b&0x80 == 0 {
			return true
		}
	}
	return false
}

func (d *descriptorReader) skip(n int) bool {
	d.pos += n
	return d.pos <= len(d.data)
}

// esdsCodec returns the RFC 6381 codec suffix for an esds descriptor chain
// (without version and flags), e.g. "40.2" for AAC-LC. Returns "" when the
// chain does not carry an object type indication.
func esdsCodec(data []byte) string {
	d := descriptorReader{data: data}
	if !d.enter(tagESDescriptor) || d.pos+3 > len(data) {
		return ""
	}
	// ES_ID(2) + stream dependence, URL and OCR stream flags(1)
	flags := data[d.pos+2]
	d.skip(3)
	if flags&0x80 != 0 && !d.skip(2) {
		return ""
	}
	if flags&0x40 != 0 {
		if d.pos >= len(data) {
			return ""
		}
		if !d.skip(1 + int(data[d.pos])) {
			return ""
		}
	}
	if flags&0x20 != 0 && !d.skip(2) {
		return ""
	}

	if !d.enter(tagDecoderConfigDescriptor) || d.pos+13 > len(data) {
		return ""
	}
	oti := data[d.pos]
	if oti == 0 {
		return ""
	}
	codec := strconv.FormatUint(uint64(oti), 16)

	// OTI(1)+streamType(1)+bufferSizeDB(3)+maxBitrate(4)+avgBitrate(4)
	d.skip(13)
	if !d.enter(tagDecoderSpecificInfo) || d.pos >= len(data) {
		return codec
	}
	if aot := data[d.pos] >> 3; aot != 0 {
		codec += "." + strconv.Itoa(int(aot))
	}
	return codec
}

// avcProfile returns the profile, compatibility and level bytes of an avcC
// payload as six lowercase hex digits, e.g. "64001f".
func avcProfile(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	const hexChars = "0123456789abcdef"
	var buf [6]byte
	for i, b := range data[1:4] {
		buf[2*i] = hexChars[b>>4]
		buf[2*i+1] = hexChars[b&0x0f]
	}
	return string(buf[:])
}
