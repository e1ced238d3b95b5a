package assistant

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTooManyRequests is returned by Ask when the global in-flight cap is reached.
	ErrTooManyRequests = errors.New("too many assistant requests in flight")
	// ErrRequestInFlight is returned by Ask when the request id is already running.
	ErrRequestInFlight = errors.New("assistant request already in flight")
	// ErrRequestNotFound is returned by Cancel for ids with nothing in flight.
	ErrRequestNotFound = errors.New("assistant request not found")
	// ErrOutputLimit completes a request whose output outgrew the configured cap.
	ErrOutputLimit = errors.New("assistant output exceeded size limit")
	// ErrNoResult completes a request that exited cleanly without producing text.
	ErrNoResult = errors.New("no result")
	// ErrCancelled completes a request stopped by Cancel or Shutdown.
	ErrCancelled = errors.New("assistant request cancelled")
)

// TimeoutError completes a request that ran longer than the configured timeout.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	if e.After >= time.Minute && e.After%time.Minute == 0 {
		n := int(e.After / time.Minute)
		if n == 1 {
			return "timed out after 1 minute"
		}
		return fmt.Sprintf("timed out after %d minutes", n)
	}
	return fmt.Sprintf("timed out after %s", e.After)
}

// ExitError completes a request whose process failed.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return e.Stderr
	}
	return fmt.Sprintf("exited with code %d", e.Code)
}
