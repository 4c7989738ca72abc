package hardware

import "errors"

// Domain errors for the hardware package, checked with errors.Is.
var (
	ErrSensorNotFound = errors.New("hardware: sensor not found")
	ErrActorNotFound  = errors.New("hardware: actor not found")
	ErrRuleNotFound   = errors.New("hardware: rule not found")

	// ErrRuleExists is returned when a rule name is already taken.
	ErrRuleExists = errors.New("hardware: rule name already exists")

	// ErrNoReadings is returned by LastReading for a sensor never polled.
	ErrNoReadings = errors.New("hardware: no readings")

	ErrInvalidSensor = errors.New("hardware: invalid sensor")
	ErrInvalidActor  = errors.New("hardware: invalid actor")
	ErrInvalidRule   = errors.New("hardware: invalid rule")
)
