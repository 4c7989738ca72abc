package hardware

import (
	"fmt"
	"math"
	"strings"
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 500

	// MaxDriveValue is the largest value an actuator accepts.
	MaxDriveValue = 255

	// MaxPeriodSec caps intervals and durations at 31 days.
	MaxPeriodSec = 31 * 24 * 60 * 60
)

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("name exceeds %d characters", maxNameLength)
	}
	return nil
}

func validateEndpoint(name, description string, channel, pin, intervalSec int) error {
	if err := validateName(name); err != nil {
		return err
	}
	if len(description) > maxDescriptionLength {
		return fmt.Errorf("description exceeds %d characters", maxDescriptionLength)
	}
	if channel < 0 || pin < 0 {
		return fmt.Errorf("channel and pin must not be negative")
	}
	if intervalSec < 0 || intervalSec > MaxPeriodSec {
		return fmt.Errorf("interval_sec must be between 0 and %d", MaxPeriodSec)
	}
	return nil
}

// ValidateSensor checks a sensor definition.
func ValidateSensor(s *Sensor) error {
	if err := validateEndpoint(s.Name, s.Description, s.Channel, s.Pin, s.IntervalSec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSensor, err)
	}
	return nil
}

// ValidateActor checks an actor definition.
func ValidateActor(a *Actor) error {
	if err := validateEndpoint(a.Name, a.Description, a.Channel, a.Pin, a.IntervalSec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidActor, err)
	}
	if a.Value < 0 || a.Value > MaxDriveValue {
		return fmt.Errorf("%w: value must be between 0 and %d", ErrInvalidActor, MaxDriveValue)
	}
	if a.DurationSec < 0 || a.DurationSec > MaxPeriodSec {
		return fmt.Errorf("%w: duration_sec must be between 0 and %d", ErrInvalidActor, MaxPeriodSec)
	}
	return nil
}

// ValidateRule checks a rule definition. Referenced entities are checked by
// the Registry.
func ValidateRule(r *Rule) error {
	if err := validateName(r.Name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if !r.Comparison.Valid() {
		return fmt.Errorf("%w: comparison must be %q or %q", ErrInvalidRule, AtLeast, AtMost)
	}
	if math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) {
		return fmt.Errorf("%w: threshold must be a finite number", ErrInvalidRule)
	}
	if r.ActorValue < 0 || r.ActorValue > MaxDriveValue {
		return fmt.Errorf("%w: actor_value must be between 0 and %d", ErrInvalidRule, MaxDriveValue)
	}
	return nil
}
