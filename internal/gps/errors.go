package gps

import (
	"errors"
	"fmt"
)

// Parse failure kinds. Every error returned by Parse matches exactly one of
// these with errors.Is.
var (
	ErrChecksumMissing     = errors.New("nmea: checksum missing")
	ErrChecksumMismatch    = errors.New("nmea: checksum mismatch")
	ErrUnsupportedSentence = errors.New("nmea: unsupported sentence")
	ErrIncompleteSentence  = errors.New("nmea: incomplete sentence")
	ErrTimeNotSynchronized = errors.New("nmea: time not synchronized")
	ErrNoFixObtained       = errors.New("nmea: no fix obtained")
	ErrMalformedField      = errors.New("nmea: malformed field")
)

// ErrAcquisitionTimeout is matched by the error Acquire returns when the
// time budget runs out without a usable sentence.
var ErrAcquisitionTimeout = errors.New("gps: acquisition timeout")

// Telemetry is the satellite count and HDOP a receiver reports even when it
// has no position yet.
type Telemetry struct {
	Satellites int
	HDOP       float64
}

// ParseError describes why a sentence did not yield a Fix.
type ParseError struct {
	Kind  error
	Field string
	// Telemetry is set on ErrNoFixObtained when fields 7 and 8 were readable.
	Telemetry *Telemetry
	Err       error
}

func (e *ParseError) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		msg += " field=" + e.Field
	}
	if e.Telemetry != nil {
		msg += fmt.Sprintf(" sats=%d hdop=%.1f", e.Telemetry.Satellites, e.Telemetry.HDOP)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Is(target error) bool { return target == e.Kind }

func (e *ParseError) Unwrap() error { return e.Err }

func parseErr(kind error) *ParseError { return &ParseError{Kind: kind} }

func fieldErr(field string, err error) *ParseError {
	return &ParseError{Kind: ErrMalformedField, Field: field, Err: err}
}

// AcquireError is returned by Acquire when no fix was produced. LastErr holds
// the most recent parser or source failure seen during the window, if any.
type AcquireError struct {
	Attempts int
	LastErr  error
	Err      error
}

func (e *AcquireError) Error() string {
	msg := fmt.Sprintf("gps: no fix after %d sentences", e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.LastErr != nil {
		msg += " (last: " + e.LastErr.Error() + ")"
	}
	return msg
}

func (e *AcquireError) Unwrap() error { return e.Err }
