package saml

import (
	"errors"
	"fmt"
)

// Class partitions engine failures into the categories the HTTP layer is
// allowed to distinguish. The remote party only ever sees a generic message
// per class; the wrapped cause stays in the server-side log.
type Class int

const (
	// ClassDecode covers base64 and inflate failures on the transport layer.
	ClassDecode Class = iota + 1
	// ClassParse covers malformed protocol XML.
	ClassParse
	// ClassSignature covers missing-when-required or cryptographically
	// invalid signatures, detached or enveloped.
	ClassSignature
	// ClassValidation covers rule failures on a well-formed message:
	// non-success status, no assertions, expired timestamps, replay.
	ClassValidation
	// ClassRelayState covers unknown or expired relay-state tokens.
	ClassRelayState
	// ClassSession covers rejection by the downstream login pipeline.
	ClassSession
)

func (c Class) String() string {
	switch c {
	case ClassDecode:
		return "decode"
	case ClassParse:
		return "parse"
	case ClassSignature:
		return "signature"
	case ClassValidation:
		return "validation"
	case ClassRelayState:
		return "relay-state"
	case ClassSession:
		return "session"
	default:
		return "unknown"
	}
}

// Error is a classified engine failure.
type Error struct {
	Class Class
	msg   string
	err   error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.Class.String() + ": " + e.msg + ": " + e.err.Error()
	}
	return e.Class.String() + ": " + e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Errorf creates a classified error with a formatted message.
func Errorf(class Class, format string, args ...any) *Error {
	return &Error{Class: class, msg: fmt.Sprintf(format, args...)}
}

// WrapError classifies an underlying error.
func WrapError(class Class, msg string, err error) *Error {
	return &Error{Class: class, msg: msg, err: err}
}

// ClassOf reports the class of err, or 0 when err carries no class.
func ClassOf(err error) Class {
	var se *Error
	if errors.As(err, &se) {
		return se.Class
	}
	return 0
}
