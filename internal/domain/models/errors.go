package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput marks events, fills or proposals carrying non-finite,
	// non-positive or otherwise unusable values. State is never touched.
	ErrMalformedInput = errors.New("malformed input")
	// ErrInvariantViolation marks a computed result that breaks a hard rule
	// such as a crossed quote. Callers abort the current cycle.
	ErrInvariantViolation = errors.New("internal invariant violation")
	// ErrQueueFull is returned to a feeder when the event queue cannot accept more work.
	ErrQueueFull = errors.New("event queue full")
	// ErrDisconnected wraps transport failures of the market data stream.
	ErrDisconnected = errors.New("market data stream disconnected")
)

// InputError describes which field of an input was rejected.
type InputError struct {
	Field  string
	Value  any
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s=%v: %s", ErrMalformedInput, e.Field, e.Value, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrMalformedInput }

// Malformed builds an *InputError.
func Malformed(field string, value any, reason string) error {
	return &InputError{Field: field, Value: value, Reason: reason}
}
