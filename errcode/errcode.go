package errcode

import "errors"

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK             Code = "ok"
	Busy           Code = "busy"
	Unsupported    Code = "unsupported"
	InvalidParams  Code = "invalid_params"
	InvalidPayload Code = "invalid_payload"
	InvalidTopic   Code = "invalid_topic"
	Timeout        Code = "timeout"

	StorageFault         Code = "storage_fault"
	TransportUnavailable Code = "transport_unavailable"
	Backpressure         Code = "backpressure"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, errcode.X) match a wrapped E by code.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Error
}

// Class groups codes by how callers should react.
type Class int

const (
	// Transient errors clear on their own; the next period retries.
	Transient Class = iota
	// Invalid errors come from bad input or requests made in the wrong mode.
	Invalid
	// Fatal errors leave storage unusable until reset.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Invalid:
		return "invalid"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassOf classifies an error by its code.
func ClassOf(err error) Class {
	switch Of(err) {
	case StorageFault:
		return Fatal
	case Busy, Unsupported, InvalidParams, InvalidPayload, InvalidTopic:
		return Invalid
	default:
		return Transient
	}
}

// IsFatal reports whether err must stop the subsystem that produced it.
func IsFatal(err error) bool { return err != nil && ClassOf(err) == Fatal }
