package qtparse

import (
	"errors"
	"fmt"
)

// Errors reported by the reader, the decoders and the extractor.
// Match them with errors.Is; positional detail comes wrapped in *AtomError.
var (
	// ErrTruncated means a header or fixed-layout field extends past the end
	// of the available data.
	ErrTruncated = errors.New("truncated input")
	// ErrMalformedSize means a declared size is smaller than its header or
	// overruns the enclosing atom.
	ErrMalformedSize = errors.New("malformed atom size")
	// ErrMissingAtom means a required atom is absent or duplicated.
	ErrMissingAtom = errors.New("missing required atom")
	// ErrUnsupportedVersion means a versioned header uses a layout other
	// than 0 or 1.
	ErrUnsupportedVersion = errors.New("unsupported version")
	// ErrUnknownAtom is reported by strict readers for unexpected
	// top-level atom types.
	ErrUnknownAtom = errors.New("unknown top-level atom")
)

// AtomError records the atom an error was detected in.
type AtomError struct {
	Type   AtomType
	Offset int
	Err    error
}

func (e *AtomError) Error() string {
	return fmt.Sprintf("%s atom at offset %d: %v", printableType(e.Type), e.Offset, e.Err)
}

func (e *AtomError) Unwrap() error { return e.Err }

func atomErr(t AtomType, offset int, err error) error {
	return &AtomError{Type: t, Offset: offset, Err: err}
}

// printableType renders t for error messages, substituting non-printable
// bytes so garbage headers do not corrupt terminal output.
func printableType(t AtomType) string {
	var b [4]byte
	for i, c := range t {
		if c < 0x20 || c > 0x7e {
			c = '.'
		}
		b[i] = c
	}
	return string(b[:])
}
