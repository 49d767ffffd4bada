package serum

import (
	"errors"
	"fmt"
)

var (
	// ErrLengthMismatch is returned when a buffer does not have the serialized
	// length of the structure being decoded.
	ErrLengthMismatch = errors.New("serum: length mismatch")
	// ErrMalformedNode marks a slab node whose fields cannot be interpreted.
	ErrMalformedNode = errors.New("serum: malformed slab node")
	// ErrUnexpectedFlags is returned when the account flags do not describe the
	// account type the caller asked for.
	ErrUnexpectedFlags = errors.New("serum: unexpected account flags")
)

// LengthError describes a length mismatch for a named structure.
type LengthError struct {
	Structure string
	Want      int
	Got       int
	AtLeast   bool
}

func (e *LengthError) Error() string {
	if e.AtLeast {
		return fmt.Sprintf("serum: %s needs at least %d bytes, got %d", e.Structure, e.Want, e.Got)
	}
	return fmt.Sprintf("serum: %s needs %d bytes, got %d", e.Structure, e.Want, e.Got)
}

func (e *LengthError) Is(target error) bool {
	return target == ErrLengthMismatch
}

func exactLength(structure string, data []byte, want int) error {
	if len(data) != want {
		return &LengthError{Structure: structure, Want: want, Got: len(data)}
	}
	return nil
}

func minLength(structure string, data []byte, want int) error {
	if len(data) < want {
		return &LengthError{Structure: structure, Want: want, Got: len(data), AtLeast: true}
	}
	return nil
}

// NodeError records a slab node that could not be decoded. Sibling nodes are
// still decoded.
type NodeError struct {
	Index uint32
	Err   error
}

func (e NodeError) Error() string {
	return fmt.Sprintf("slab node %d: %v", e.Index, e.Err)
}

func (e NodeError) Unwrap() error {
	return e.Err
}
