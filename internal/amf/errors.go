package amf

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated       = errors.New("amf: truncated input")
	ErrUnknownMarker   = errors.New("amf: unknown type marker")
	ErrBadReference    = errors.New("amf: reference index out of range")
	ErrMalformedVarint = errors.New("amf: malformed varint")
)

// DecodeError reports one decode failure with the byte offset where it
// was detected. It unwraps to the matching sentinel for errors.Is.
type DecodeError struct {
	Err    error
	Offset int
	Marker byte
	Index  int
}

func (e *DecodeError) Error() string {
	switch e.Err {
	case ErrUnknownMarker:
		return fmt.Sprintf("%v: marker=0x%02x offset=%d", e.Err, e.Marker, e.Offset)
	case ErrBadReference:
		return fmt.Sprintf("%v: index=%d offset=%d", e.Err, e.Index, e.Offset)
	default:
		return fmt.Sprintf("%v: offset=%d", e.Err, e.Offset)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

func errTruncated(offset int) error {
	return &DecodeError{Err: ErrTruncated, Offset: offset}
}

func errUnknownMarker(marker byte, offset int) error {
	return &DecodeError{Err: ErrUnknownMarker, Marker: marker, Offset: offset}
}

func errBadReference(index, offset int) error {
	return &DecodeError{Err: ErrBadReference, Index: index, Offset: offset}
}

func errMalformedVarint(offset int) error {
	return &DecodeError{Err: ErrMalformedVarint, Offset: offset}
}
