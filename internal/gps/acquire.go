package gps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"loramapper/internal/observability"
)

var afterFn = time.After

// DefaultPollInterval is how long Acquire idles after an empty read.
const DefaultPollInterval = 50 * time.Millisecond

// NMEA sentences are < 82 chars; anything longer without a newline is noise.
const maxPendingBytes = 4096

// Flusher is implemented by sources that can discard input buffered before
// the acquisition window opened (stale sentences from a previous period).
type Flusher interface {
	Flush() error
}

// Acquirer polls a GNSS byte source for a fix. Reads are expected to be
// short-blocking; (0, nil) and io.EOF both mean "nothing available yet".
type Acquirer struct {
	src          io.Reader
	pollInterval time.Duration
}

func NewAcquirer(src io.Reader, pollInterval time.Duration) *Acquirer {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Acquirer{src: src, pollInterval: pollInterval}
}

// Acquire runs a single acquisition against src. See Acquirer.Acquire.
func Acquire(ctx context.Context, src io.Reader, timeout time.Duration) (Fix, error) {
	return NewAcquirer(src, 0).Acquire(ctx, timeout)
}

// Acquire returns the first sentence that parses into a Fix, stamped with
// AcquiredAt. If none arrives within timeout it returns an *AcquireError
// matching ErrAcquisitionTimeout; cancelling ctx ends the wait early with an
// *AcquireError wrapping ctx.Err().
func (a *Acquirer) Acquire(ctx context.Context, timeout time.Duration) (Fix, error) {
	if a == nil || a.src == nil {
		return Fix{}, fmt.Errorf("gps: acquirer has no source")
	}
	start := time.Now()
	deadline := start.Add(timeout)
	defer func() {
		observability.AcquireSeconds.Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	record := func(err error) {
		// GSV/RMC chatter would otherwise hide the interesting GGA failure.
		if errors.Is(err, ErrUnsupportedSentence) && lastErr != nil {
			return
		}
		lastErr = err
	}

	if fl, ok := a.src.(Flusher); ok {
		if err := fl.Flush(); err != nil {
			record(fmt.Errorf("flush: %w", err))
		}
	}

	attempts := 0
	pending := make([]byte, 0, 256)
	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return Fix{}, &AcquireError{Attempts: attempts, LastErr: lastErr, Err: err}
		}
		if !time.Now().Before(deadline) {
			return Fix{}, &AcquireError{Attempts: attempts, LastErr: lastErr, Err: ErrAcquisitionTimeout}
		}

		n, rerr := a.src.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				nl := bytes.IndexByte(pending, '\n')
				if nl == -1 {
					break
				}
				line := bytes.TrimSpace(pending[:nl])
				pending = pending[nl+1:]
				if len(line) == 0 {
					continue
				}
				attempts++
				fix, perr := Parse(line)
				if perr == nil {
					fix.AcquiredAt = time.Now()
					return fix, nil
				}
				observability.ParseErrors.WithLabelValues(ErrorKind(perr)).Inc()
				record(perr)
			}
			if len(pending) > maxPendingBytes {
				record(fmt.Errorf("gps: dropped %d bytes without line terminator", len(pending)))
				pending = pending[:0]
			}
		}
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			record(fmt.Errorf("read: %w", rerr))
		}
		if n > 0 && rerr == nil {
			continue
		}

		wait := a.pollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
		case <-afterFn(wait):
		}
	}
}

// ErrorKind returns a short label for the parse failure kind of err, used for
// metrics and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrChecksumMissing):
		return "checksum_missing"
	case errors.Is(err, ErrChecksumMismatch):
		return "checksum_mismatch"
	case errors.Is(err, ErrUnsupportedSentence):
		return "unsupported_sentence"
	case errors.Is(err, ErrIncompleteSentence):
		return "incomplete_sentence"
	case errors.Is(err, ErrTimeNotSynchronized):
		return "time_not_synchronized"
	case errors.Is(err, ErrNoFixObtained):
		return "no_fix"
	case errors.Is(err, ErrMalformedField):
		return "malformed_field"
	case errors.Is(err, ErrAcquisitionTimeout):
		return "timeout"
	default:
		return "other"
	}
}
