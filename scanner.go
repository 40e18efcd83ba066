package qtparse

import (
	"fmt"
	"io"
	"strings"
)

// ScanEntry represents a top-level atom discovered by the Scanner.
type ScanEntry struct {
	Type       AtomType
	Size       int64 // total atom size including header
	Offset     int64 // byte offset of the atom header from the start of the stream
	HeaderSize int   // 8, 16 for extended sizes, 20 for QT atoms
	Prefix     int   // QT atom container header preceding the atom, 0 or 12
}

// DataSize returns the size of the atom payload (excluding the header).
func (e ScanEntry) DataSize() int64 {
	return e.Size - int64(e.HeaderSize)
}

// Scanner reads top-level atom headers from an io.ReadSeeker without
// loading atom contents into memory. Callers can then read only the atoms
// they need (usually moov) and parse them with ReadAtoms.
//
//	sc := qtparse.NewScanner(f)
//	for sc.Next() {
//	    e := sc.Entry()
//	    if e.Type == qtparse.TypeMoov {
//	        buf := make([]byte, e.Size)
//	        sc.ReadAtom(buf)
//	        atoms, err := qtparse.ReadAtoms(buf)
//	        // ...
//	    }
//	}
//	if err := sc.Err(); err != nil { ... }
type Scanner struct {
	rs     io.ReadSeeker
	hdr    [qtAtomHeaderSize]byte // reusable header buffer
	entry  ScanEntry
	err    error
	pos    int64 // offset of the next atom
	length int64 // stream length, -1 until measured
}

// NewScanner creates a Scanner that reads atom headers from rs, starting at
// its current position.
func NewScanner(rs io.ReadSeeker) Scanner {
	return Scanner{rs: rs, pos: -1, length: -1}
}

// Next advances to the next top-level atom. Returns false when there are no
// more atoms or an error occurs. Check Err after the loop.
func (s *Scanner) Next() bool {
	if s.err != nil {
		return false
	}
	if s.length < 0 {
		if err := s.measure(); err != nil {
			s.err = err
			return false
		}
	}
	if s.pos >= s.length {
		return false
	}
	if s.length-s.pos == 4 {
		end, err := s.terminated()
		if err != nil || end {
			s.err = err
			return false
		}
	}
	e, err := s.readHeader()
	if err != nil {
		s.err = err
		return false
	}
	s.entry = e
	s.pos = e.Offset + e.Size
	return true
}

// measure records the start position and the total length of the stream.
func (s *Scanner) measure() error {
	cur, err := s.rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	end, err := s.rs.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	s.pos, s.length = cur, end
	return nil
}

// terminated reports whether the stream ends at s.pos with a 32-bit zero
// terminator.
func (s *Scanner) terminated() (bool, error) {
	if err := s.readAt(s.pos, s.hdr[:4]); err != nil {
		return false, err
	}
	if be.Uint32(s.hdr[:4]) != 0 {
		return false, nil
	}
	s.pos = s.length
	return true, nil
}

func (s *Scanner) readHeader() (ScanEntry, error) {
	rest := s.length - s.pos
	if rest < atomHeaderSize {
		return ScanEntry{}, fmt.Errorf("%w: %d trailing bytes at offset %d", ErrTruncated, rest, s.pos)
	}
	if _, err := s.rs.Seek(s.pos, io.SeekStart); err != nil {
		return ScanEntry{}, err
	}
	if _, err := io.ReadFull(s.rs, s.hdr[:atomHeaderSize]); err != nil {
		return ScanEntry{}, err
	}

	e := ScanEntry{Offset: s.pos, HeaderSize: atomHeaderSize}
	size := uint64(be.Uint32(s.hdr[:4]))
	copy(e.Type[:], s.hdr[4:8])

	if size == 0 && e.Type == (AtomType{}) && rest >= qtContainerHeaderSize+qtAtomHeaderSize {
		var tail [4]byte
		if _, err := io.ReadFull(s.rs, tail[:]); err != nil {
			return ScanEntry{}, err
		}
		if allZero(tail[:]) {
			return s.readQTHeader(rest)
		}
	}

	switch size {
	case 1:
		// Extended 64-bit size
		if rest < largeAtomHeaderSize {
			return ScanEntry{}, atomErr(e.Type, int(e.Offset), fmt.Errorf("%w: missing extended size field", ErrTruncated))
		}
		if _, err := io.ReadFull(s.rs, s.hdr[8:16]); err != nil {
			return ScanEntry{}, err
		}
		size = be.Uint64(s.hdr[8:16])
		e.HeaderSize = largeAtomHeaderSize
	case 0:
		// Atom extends to end of stream
		size = uint64(rest)
	}
	if err := checkScanned(e, size, rest); err != nil {
		return ScanEntry{}, err
	}
	e.Size = int64(size)
	return e, nil
}

// readQTHeader reads the QT atom that follows a 12-byte QT atom container
// header at s.pos.
func (s *Scanner) readQTHeader(rest int64) (ScanEntry, error) {
	if _, err := s.rs.Seek(s.pos+qtContainerHeaderSize, io.SeekStart); err != nil {
		return ScanEntry{}, err
	}
	if _, err := io.ReadFull(s.rs, s.hdr[:qtAtomHeaderSize]); err != nil {
		return ScanEntry{}, err
	}
	e := ScanEntry{
		Offset:     s.pos + qtContainerHeaderSize,
		HeaderSize: qtAtomHeaderSize,
		Prefix:     qtContainerHeaderSize,
	}
	copy(e.Type[:], s.hdr[4:8])
	size := uint64(be.Uint32(s.hdr[:4]))
	if err := checkScanned(e, size, rest-qtContainerHeaderSize); err != nil {
		return ScanEntry{}, err
	}
	e.Size = int64(size)
	return e, nil
}

func checkScanned(e ScanEntry, size uint64, rest int64) error {
	if size < uint64(e.HeaderSize) {
		return atomErr(e.Type, int(e.Offset), fmt.Errorf("%w: size %d is smaller than the %d-byte header", ErrMalformedSize, size, e.HeaderSize))
	}
	if size > uint64(rest) {
		return atomErr(e.Type, int(e.Offset), fmt.Errorf("%w: size %d exceeds the %d bytes left in the stream", ErrTruncated, size, rest))
	}
	return nil
}

// Entry returns the current atom entry. Only valid after Next returns true.
func (s *Scanner) Entry() ScanEntry {
	return s.entry
}

// Err returns the first error encountered by the Scanner.
func (s *Scanner) Err() error {
	return s.err
}

// ReadBody reads the current atom's payload (excluding header) into buf.
// buf must be exactly DataSize() bytes.
func (s *Scanner) ReadBody(buf []byte) error {
	return s.readAt(s.entry.Offset+int64(s.entry.HeaderSize), buf)
}

// ReadAtom reads the current atom, including its header and any QT atom
// container header, into buf. buf must be exactly Prefix+Size bytes.
func (s *Scanner) ReadAtom(buf []byte) error {
	return s.readAt(s.entry.Offset-int64(s.entry.Prefix), buf)
}

func (s *Scanner) readAt(off int64, buf []byte) error {
	if _, err := s.rs.Seek(off, io.SeekStart); err != nil {
		return err
	}
	_, err := io.ReadFull(s.rs, buf)
	return err
}

// IsMediaData reports whether a top-level atom of type t carries sample or
// padding data rather than metadata.
func IsMediaData(t AtomType) bool {
	switch t {
	case TypeMdat, TypeFree, TypeSkip, TypeWide:
		return true
	}
	return false
}

// LoadMetadata reads every top-level atom of rs except media data (see
// IsMediaData) into one buffer, in file order. The result parses with
// ReadAtoms; atom offsets refer to the buffer, not to the file.
func LoadMetadata(rs io.ReadSeeker) ([]byte, error) {
	sc := NewScanner(rs)
	var buf []byte
	for sc.Next() {
		e := sc.Entry()
		if IsMediaData(e.Type) {
			continue
		}
		n := len(buf)
		buf = append(buf, make([]byte, e.Prefix+int(e.Size))...)
		if err := sc.ReadAtom(buf[n:]); err != nil {
			return nil, fmt.Errorf("reading %s at offset %d: %w", printableType(e.Type), e.Offset, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return buf, nil
}

// FormatStream renders the top-level atoms of rs in file order, like Format.
// Metadata atoms are read and rendered with their subtrees; media data atoms
// are listed from their headers alone.
func FormatStream(rs io.ReadSeeker) (string, error) {
	sc := NewScanner(rs)
	var sb strings.Builder
	for sc.Next() {
		e := sc.Entry()
		if IsMediaData(e.Type) {
			fmt.Fprintf(&sb, "- %s (%d)\n", e.Type, e.Size)
			continue
		}
		buf := make([]byte, e.Prefix+int(e.Size))
		if err := sc.ReadAtom(buf); err != nil {
			return "", fmt.Errorf("reading %s at offset %d: %w", printableType(e.Type), e.Offset, err)
		}
		atoms, err := ReadAtoms(buf)
		if err != nil {
			return "", err
		}
		sb.WriteString(Format(atoms))
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}
