package qtparse

import (
	"encoding/binary"
	"fmt"
	"iter"
)

var be = binary.BigEndian

// maxDepth limits container nesting.
const maxDepth = 16

// Header sizes.
const (
	atomHeaderSize        = 8
	largeAtomHeaderSize   = 16
	qtContainerHeaderSize = 12 // reserved(10) + lock count(2), all zero in practice
	qtAtomHeaderSize      = 20 // size, type, atom ID, reserved(2), child count(2), reserved(4)
)

// Reader parses the sibling atoms of one window of a buffer.
//
// Each call to Next reads one atom header and, for container types, the
// whole subtree below it. The buffer is never modified and payloads are not
// copied.
type Reader struct {
	// Strict rejects top-level atoms whose type is not listed by IsTopLevel.
	Strict bool

	buf   []byte
	pos   int // next position to parse from
	end   int // window end
	depth int

	// qt is set while iterating the children of a QT atom, which are
	// bounded by an explicit count rather than by the window.
	qt        bool
	remaining int

	atom *Atom
	err  error
}

// NewReader creates a Reader over the whole buffer.
func NewReader(buf []byte) Reader {
	return Reader{buf: buf, end: len(buf)}
}

// NewWindowReader creates a Reader over buf[off:off+n], for example the
// payload of an atom read earlier. A window outside the buffer makes the
// first call to Next fail with ErrTruncated.
func NewWindowReader(buf []byte, off, n int) Reader {
	r := Reader{buf: buf, pos: off, end: off + n}
	if off < 0 || n < 0 || off > len(buf) || n > len(buf)-off {
		r.end = off
		r.err = fmt.Errorf("%w: window [%d,+%d) outside %d-byte buffer", ErrTruncated, off, n, len(buf))
	}
	return r
}

// Next advances to the next sibling atom. Returns false when the window is
// exhausted or an error occurs. Check Err after the loop.
func (r *Reader) Next() bool {
	r.atom = nil
	if r.err != nil {
		return false
	}
	if r.qt {
		if r.remaining == 0 {
			return false
		}
	} else if r.pos >= r.end {
		return false
	}

	a, err := r.read()
	if err != nil {
		r.err = err
		return false
	}
	if a == nil {
		return false
	}
	if r.qt {
		r.remaining--
	}
	r.atom = a
	return true
}

// Atom returns the current atom. Only valid after Next returns true.
func (r *Reader) Atom() *Atom { return r.atom }

// Err returns the first error encountered by the Reader.
func (r *Reader) Err() error { return r.err }

// All returns an iterator over the remaining sibling atoms. A parse error
// is yielded once, as the last element.
func (r *Reader) All() iter.Seq2[*Atom, error] {
	return func(yield func(*Atom, error) bool) {
		for r.Next() {
			if !yield(r.atom, nil) {
				return
			}
		}
		if r.err != nil {
			yield(nil, r.err)
		}
	}
}

// Siblings returns an iterator over the atoms in buf[off:off+n]. Every
// iteration starts over from off.
func Siblings(buf []byte, off, n int) iter.Seq2[*Atom, error] {
	return func(yield func(*Atom, error) bool) {
		r := NewWindowReader(buf, off, n)
		r.All()(yield)
	}
}

// ReadAtoms parses the whole buffer into a tree of atoms.
func ReadAtoms(buf []byte) ([]*Atom, error) {
	r := NewReader(buf)
	return r.collect()
}

// ReadAtomsStrict is like ReadAtoms but fails with ErrUnknownAtom on an
// unexpected top-level atom type.
func ReadAtomsStrict(buf []byte) ([]*Atom, error) {
	r := NewReader(buf)
	r.Strict = true
	return r.collect()
}

// ReadAtomsWindow parses buf[off:off+n] into a tree of atoms.
func ReadAtomsWindow(buf []byte, off, n int) ([]*Atom, error) {
	r := NewWindowReader(buf, off, n)
	return r.collect()
}

func (r *Reader) collect() ([]*Atom, error) {
	var atoms []*Atom
	for r.Next() {
		atoms = append(atoms, r.atom)
	}
	if r.err != nil {
		return nil, r.err
	}
	return atoms, nil
}

// read parses the atom at the cursor. It returns (nil, nil) when the rest of
// the window is zero: a QuickTime 32-bit terminator or zero padding.
//
// An atom preceded by a 12-byte zero QT atom container header is a QT atom;
// any other atom is classic. This holds at every depth, so the children of a
// QT atom may mix both kinds.
func (r *Reader) read() (*Atom, error) {
	rest := r.end - r.pos
	if !r.qt && rest >= 4 && allZero(r.buf[r.pos:r.end]) {
		r.pos = r.end
		return nil, nil
	}
	if rest >= qtContainerHeaderSize && allZero(r.buf[r.pos:r.pos+qtContainerHeaderSize]) {
		r.pos += qtContainerHeaderSize
		return r.readQT()
	}
	return r.readClassic()
}

func (r *Reader) readClassic() (*Atom, error) {
	start := r.pos
	rest := r.end - start
	if rest < atomHeaderSize {
		return nil, fmt.Errorf("%w: %d trailing bytes at offset %d", ErrTruncated, rest, start)
	}

	a := &Atom{Offset: start, HeaderSize: atomHeaderSize}
	copy(a.Type[:], r.buf[start+4:start+8])
	size := uint64(be.Uint32(r.buf[start:]))

	switch size {
	case 1:
		// Extended 64-bit size
		if rest < largeAtomHeaderSize {
			return nil, atomErr(a.Type, start, fmt.Errorf("%w: missing extended size field", ErrTruncated))
		}
		size = be.Uint64(r.buf[start+8:])
		a.HeaderSize = largeAtomHeaderSize
	case 0:
		// Atom extends to the end of the window
		size = uint64(rest)
	}

	if err := r.fits(a, size, rest); err != nil {
		return nil, err
	}
	end := r.settle(a, size)

	if IsContainer(a.Type) {
		children, err := r.descend(a, false, 0)
		if err != nil {
			return nil, err
		}
		a.Children = children
	}
	r.pos = end
	return a, nil
}

func (r *Reader) readQT() (*Atom, error) {
	start := r.pos
	rest := r.end - start
	if rest < qtAtomHeaderSize {
		return nil, fmt.Errorf("%w: QT atom header at offset %d needs %d bytes, have %d", ErrTruncated, start, qtAtomHeaderSize, rest)
	}

	a := &Atom{Offset: start, HeaderSize: qtAtomHeaderSize, QT: true}
	copy(a.Type[:], r.buf[start+4:start+8])
	size := uint64(be.Uint32(r.buf[start:]))
	a.ID = be.Uint32(r.buf[start+8:])
	count := int(be.Uint16(r.buf[start+14:]))

	if err := r.fits(a, size, rest); err != nil {
		return nil, err
	}
	end := r.settle(a, size)

	var err error
	switch {
	case count > 0:
		a.Children, err = r.descend(a, true, count)
	case IsContainer(a.Type):
		// A QT leaf of a container type holds classic atoms.
		a.Children, err = r.descend(a, false, 0)
	}
	if err != nil {
		return nil, err
	}
	r.pos = end
	return a, nil
}

// fits validates a resolved size against the header and the window.
func (r *Reader) fits(a *Atom, size uint64, rest int) error {
	if size < uint64(a.HeaderSize) {
		return atomErr(a.Type, a.Offset, fmt.Errorf("%w: size %d is smaller than the %d-byte header", ErrMalformedSize, size, a.HeaderSize))
	}
	if size > uint64(rest) {
		kind := ErrMalformedSize
		if r.end == len(r.buf) {
			kind = ErrTruncated
		}
		return atomErr(a.Type, a.Offset, fmt.Errorf("%w: size %d exceeds the %d bytes available", kind, size, rest))
	}
	if r.Strict && r.depth == 0 && !IsTopLevel(a.Type) {
		return atomErr(a.Type, a.Offset, ErrUnknownAtom)
	}
	return nil
}

// settle records the size and payload view of a validated atom and returns
// its end offset.
func (r *Reader) settle(a *Atom, size uint64) int {
	end := a.Offset + int(size)
	a.Size = size
	a.payload = r.buf[a.Offset+a.HeaderSize : end : end]
	return end
}

// descend parses the payload of a as a child window.
func (r *Reader) descend(a *Atom, qt bool, count int) ([]*Atom, error) {
	if r.depth+1 >= maxDepth {
		return nil, atomErr(a.Type, a.Offset, fmt.Errorf("%w: nesting deeper than %d levels", ErrMalformedSize, maxDepth))
	}
	child := Reader{
		buf:       r.buf,
		pos:       a.PayloadOffset(),
		end:       a.Offset + int(a.Size),
		depth:     r.depth + 1,
		qt:        qt,
		remaining: count,
	}
	return child.collect()
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
