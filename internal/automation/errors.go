package automation

import "errors"

var (
	// ErrInvalidPulse is returned when a control request is out of range.
	ErrInvalidPulse = errors.New("automation: invalid pulse")

	// ErrStopped is returned when work is submitted after Stop.
	ErrStopped = errors.New("automation: engine stopped")
)
