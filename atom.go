// Package qtparse reads QuickTime and ISO base media (MP4) atom trees and
// extracts basic track parameters: the pixel dimensions of the video track
// and the sample rate of the audio track.
package qtparse

import (
	"fmt"
	"strings"
)

// AtomType is a 4-byte atom type code.
type AtomType [4]byte

func (t AtomType) String() string {
	return string(t[:])
}

// Known atom types.
var (
	TypeFtyp = AtomType{'f', 't', 'y', 'p'}
	TypeMoov = AtomType{'m', 'o', 'o', 'v'}
	TypeMvhd = AtomType{'m', 'v', 'h', 'd'}
	TypeIods = AtomType{'i', 'o', 'd', 's'}
	TypeTrak = AtomType{'t', 'r', 'a', 'k'}
	TypeTkhd = AtomType{'t', 'k', 'h', 'd'}
	TypeTref = AtomType{'t', 'r', 'e', 'f'}
	TypeEdts = AtomType{'e', 'd', 't', 's'}
	TypeElst = AtomType{'e', 'l', 's', 't'}
	TypeMdia = AtomType{'m', 'd', 'i', 'a'}
	TypeMdhd = AtomType{'m', 'd', 'h', 'd'}
	TypeHdlr = AtomType{'h', 'd', 'l', 'r'}
	TypeMinf = AtomType{'m', 'i', 'n', 'f'}
	TypeVmhd = AtomType{'v', 'm', 'h', 'd'}
	TypeSmhd = AtomType{'s', 'm', 'h', 'd'}
	TypeGmhd = AtomType{'g', 'm', 'h', 'd'}
	TypeDinf = AtomType{'d', 'i', 'n', 'f'}
	TypeDref = AtomType{'d', 'r', 'e', 'f'}
	TypeStbl = AtomType{'s', 't', 'b', 'l'}
	TypeStsd = AtomType{'s', 't', 's', 'd'}
	TypeStts = AtomType{'s', 't', 't', 's'}
	TypeStsc = AtomType{'s', 't', 's', 'c'}
	TypeStsz = AtomType{'s', 't', 's', 'z'}
	TypeStco = AtomType{'s', 't', 'c', 'o'}
	TypeCo64 = AtomType{'c', 'o', '6', '4'}
	TypeStss = AtomType{'s', 't', 's', 's'}
	// QuickTime movie-level atoms
	TypeClip = AtomType{'c', 'l', 'i', 'p'}
	TypeMatt = AtomType{'m', 'a', 't', 't'}
	TypeCtab = AtomType{'c', 't', 'a', 'b'}
	TypeWave = AtomType{'w', 'a', 'v', 'e'}
	TypeSean = AtomType{'s', 'e', 'a', 'n'} // root of a QT atom container
	// Fragment movie atoms
	TypeMvex = AtomType{'m', 'v', 'e', 'x'}
	TypeMoof = AtomType{'m', 'o', 'o', 'f'}
	TypeTraf = AtomType{'t', 'r', 'a', 'f'}
	// Metadata atoms
	TypeMeta = AtomType{'m', 'e', 't', 'a'}
	TypeUdta = AtomType{'u', 'd', 't', 'a'}
	TypeUUID = AtomType{'u', 'u', 'i', 'd'}
	// Data atoms
	TypeMdat = AtomType{'m', 'd', 'a', 't'}
	TypeFree = AtomType{'f', 'r', 'e', 'e'}
	TypeSkip = AtomType{'s', 'k', 'i', 'p'}
	TypeWide = AtomType{'w', 'i', 'd', 'e'}
	TypePnot = AtomType{'p', 'n', 'o', 't'}
	// Sample entry atoms
	TypeAvc1 = AtomType{'a', 'v', 'c', '1'}
	TypeAvc3 = AtomType{'a', 'v', 'c', '3'}
	TypeAvcC = AtomType{'a', 'v', 'c', 'C'}
	TypeMp4a = AtomType{'m', 'p', '4', 'a'}
	TypeEsds = AtomType{'e', 's', 'd', 's'}
)

// Handler subtypes found in hdlr atoms.
var (
	HandlerVideo = AtomType{'v', 'i', 'd', 'e'}
	HandlerSound = AtomType{'s', 'o', 'u', 'n'}
)

// IsContainer reports whether atoms of type t hold a sequence of child atoms
// directly in their payload. Atoms like meta or stsd that carry extra fields
// before their children are not containers.
func IsContainer(t AtomType) bool {
	switch t {
	case TypeMoov, TypeTrak, TypeEdts, TypeMdia,
		TypeMinf, TypeDinf, TypeStbl, TypeUdta,
		TypeMvex, TypeMoof, TypeTraf, TypeTref,
		TypeClip, TypeMatt, TypeWave, TypeGmhd,
		TypeSean:
		return true
	}
	return false
}

// IsTopLevel reports whether t is an atom type expected at the top level of
// a file. Strict readers reject anything else.
func IsTopLevel(t AtomType) bool {
	switch t {
	case TypeFtyp, TypeMoov, TypeMdat, TypeFree,
		TypeSkip, TypeWide, TypePnot, TypeUUID,
		TypeSean, TypeMeta, TypeMoof:
		return true
	}
	return false
}

// Atom is a node in a parsed atom tree.
//
// Offset, Size and HeaderSize locate the atom in the buffer it was read from.
// The payload is a view into that buffer; callers must not modify it.
// Children is only populated for container types (see IsContainer) and for
// QT atoms that declare a child count.
type Atom struct {
	Type       AtomType
	Size       uint64 // total size including header
	Offset     int    // byte offset of the atom header in the source buffer
	HeaderSize int    // 8, 16 for extended sizes, 20 for QT atoms

	// QT is set for atoms read from a QT atom container, which carry an
	// atom ID and an explicit child count in their header.
	QT bool
	ID uint32

	Children []*Atom

	payload []byte
}

// PayloadOffset returns the byte offset of the payload in the source buffer.
func (a *Atom) PayloadOffset() int { return a.Offset + a.HeaderSize }

// PayloadLen returns the payload length in bytes.
func (a *Atom) PayloadLen() int { return len(a.payload) }

// Payload returns the atom's payload (everything after the header).
// The returned slice points into the original buffer.
func (a *Atom) Payload() []byte { return a.payload }

// Child returns the first direct child of type t, or nil.
func (a *Atom) Child(t AtomType) *Atom {
	for _, c := range a.Children {
		if c.Type == t {
			return c
		}
	}
	return nil
}

// ChildList returns all direct children of type t in document order.
func (a *Atom) ChildList(t AtomType) []*Atom {
	var list []*Atom
	for _, c := range a.Children {
		if c.Type == t {
			list = append(list, c)
		}
	}
	return list
}

// Find follows path through first-matching children, e.g.
// trak.Find(TypeMdia, TypeMinf, TypeStbl, TypeStsd). Returns nil if any step
// is missing.
func (a *Atom) Find(path ...AtomType) *Atom {
	cur := a
	for _, t := range path {
		cur = cur.Child(t)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func (a *Atom) String() string {
	return fmt.Sprintf("%s (%d)", a.Type, a.Size)
}

// FindAll returns every atom of type t in the trees rooted at atoms,
// depth-first in document order.
func FindAll(atoms []*Atom, t AtomType) []*Atom {
	var found []*Atom
	Walk(atoms, func(a *Atom, _ int) bool {
		if a.Type == t {
			found = append(found, a)
		}
		return true
	})
	return found
}

// Walk calls fn for every atom in the trees rooted at atoms, depth-first in
// document order, with the nesting depth (0 for the roots). Returning false
// from fn skips the atom's children.
func Walk(atoms []*Atom, fn func(a *Atom, depth int) bool) {
	walk(atoms, 0, fn)
}

func walk(atoms []*Atom, depth int, fn func(*Atom, int) bool) {
	for _, a := range atoms {
		if fn(a, depth) {
			walk(a.Children, depth+1, fn)
		}
	}
}

// Format renders the trees rooted at atoms one atom per line, indented two
// spaces per nesting level.
func Format(atoms []*Atom) string {
	var sb strings.Builder
	Walk(atoms, func(a *Atom, depth int) bool {
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString("- ")
		sb.WriteString(a.String())
		sb.WriteByte('\n')
		return true
	})
	return sb.String()
}
