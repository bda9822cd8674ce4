package dav1d

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a native dav1d error code.
type ErrorKind int

const (
	// KindAgain means no data can be accepted or returned right now. The
	// caller should drain pictures or submit more data and retry.
	KindAgain ErrorKind = iota
	KindInvalidArgument
	KindNotEnoughMemory
	KindUnsupportedBitstream
	// KindUnknown preserves a code the binding does not recognise.
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindAgain:
		return "again"
	case KindInvalidArgument:
		return "invalid argument"
	case KindNotEnoughMemory:
		return "not enough memory"
	case KindUnsupportedBitstream:
		return "unsupported bitstream"
	default:
		return "unknown"
	}
}

// Error is a translated dav1d error code.
type Error struct {
	Kind ErrorKind
	// Code is the raw native code. Only meaningful for KindUnknown.
	Code int32
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindAgain:
		return "dav1d: try again"
	case KindInvalidArgument:
		return "dav1d: invalid argument"
	case KindNotEnoughMemory:
		return "dav1d: not enough memory"
	case KindUnsupportedBitstream:
		return "dav1d: unsupported bitstream"
	default:
		return fmt.Sprintf("dav1d: unknown error %d", e.Code)
	}
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrAgain)
// works for errors produced anywhere in the package. Unknown errors
// additionally compare their codes.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind == KindUnknown && t.Kind == KindUnknown {
		return e.Code == t.Code
	}
	return e.Kind == t.Kind
}

// nativeCode returns the negative native code for e.
func (e *Error) nativeCode() int32 {
	switch e.Kind {
	case KindAgain:
		return -errnoAgain
	case KindInvalidArgument:
		return -errnoInvalid
	case KindNotEnoughMemory:
		return -errnoNoMemory
	case KindUnsupportedBitstream:
		return -errnoNoProtoOpt
	default:
		return e.Code
	}
}

var (
	ErrAgain                = &Error{Kind: KindAgain}
	ErrInvalidArgument      = &Error{Kind: KindInvalidArgument}
	ErrNotEnoughMemory      = &Error{Kind: KindNotEnoughMemory}
	ErrUnsupportedBitstream = &Error{Kind: KindUnsupportedBitstream}
)

// ErrNotSupported is returned when the loaded libdav1d lacks an optional
// entry point.
var ErrNotSupported = errors.New("dav1d: not supported by this libdav1d")

// ErrDecoderClosed is returned by Decoder methods after Close.
var ErrDecoderClosed = errors.New("dav1d: decoder closed")

// IsAgain reports whether err is the transient "try again" condition.
func IsAgain(err error) bool {
	return errors.Is(err, ErrAgain)
}

// errorFromCode translates a native return value. Non-negative codes are
// success and yield nil. Some platforms report errno values with the
// opposite sign convention, so the magnitude is matched.
func errorFromCode(code int32) error {
	if code >= 0 {
		return nil
	}
	switch -code {
	case errnoAgain:
		return ErrAgain
	case errnoInvalid:
		return ErrInvalidArgument
	case errnoNoMemory:
		return ErrNotEnoughMemory
	case errnoNoProtoOpt:
		return ErrUnsupportedBitstream
	default:
		return &Error{Kind: KindUnknown, Code: code}
	}
}
