package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrNotPending      = errors.New("signal is not pending")
	ErrRateLimited     = errors.New("rate limited")
	ErrInvalidLeverage = errors.New("leverage must be between 1 and 125")
	ErrUnsupported     = errors.New("operation not supported by venue")
	ErrWSDisconnect    = errors.New("websocket disconnected")
	ErrLockHeld        = errors.New("lock already held")
)

// VenueError is a typed remote failure carrying the venue's status code and
// detail, used to separate transient failures (retryable) from permanent
// ones (auth, bad parameters).
type VenueError struct {
	Venue   string
	Code    int64
	Message string
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("%s: code %d: %s", e.Venue, e.Code, e.Message)
}

// transientVenueCodes are the venue status codes worth retrying: internal
// disconnects, request-weight limits, and timestamp drift.
var transientVenueCodes = map[int64]bool{
	-1001: true, // DISCONNECTED
	-1003: true, // TOO_MANY_REQUESTS
	-1021: true, // INVALID_TIMESTAMP
}

// Transient reports whether the error is worth retrying.
func (e *VenueError) Transient() bool {
	return transientVenueCodes[e.Code]
}

// IsTransient classifies an error chain as retryable. Rate-limit sentinels
// and transient venue codes qualify; everything else (including validation
// and auth failures) does not.
func IsTransient(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var ve *VenueError
	if errors.As(err, &ve) {
		return ve.Transient()
	}
	return false
}
