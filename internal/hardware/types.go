package hardware

import (
	"encoding/json"
	"math"
	"time"
)

// Sensor is a physical input sampled every IntervalSec seconds.
// An interval of 0 disables polling.
type Sensor struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Channel     int       `json:"channel"`
	Pin         int       `json:"pin"`
	IntervalSec int       `json:"interval_sec"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Interval returns the poll period.
func (s Sensor) Interval() time.Duration {
	return time.Duration(s.IntervalSec) * time.Second
}

// Enabled reports whether the sensor is polled.
func (s Sensor) Enabled() bool {
	return s.IntervalSec > 0
}

// Actor is a physical output driven with Value every IntervalSec seconds.
// When DurationSec is positive the actor is driven back to 0 after that
// many seconds; 0 means it stays on until the next drive.
type Actor struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Channel     int       `json:"channel"`
	Pin         int       `json:"pin"`
	IntervalSec int       `json:"interval_sec"`
	Value       int       `json:"value"`
	DurationSec int       `json:"duration_sec"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Interval returns the pause between duty cycles.
func (a Actor) Interval() time.Duration {
	return time.Duration(a.IntervalSec) * time.Second
}

// Duration returns the on-phase length, 0 for no automatic off.
func (a Actor) Duration() time.Duration {
	return time.Duration(a.DurationSec) * time.Second
}

// Enabled reports whether the actor runs a duty cycle.
func (a Actor) Enabled() bool {
	return a.IntervalSec > 0
}

// Comparison is the direction of a rule's threshold test.
type Comparison string

const (
	AtLeast Comparison = ">="
	AtMost  Comparison = "<="
)

// Valid reports whether c is a known comparison.
func (c Comparison) Valid() bool {
	return c == AtLeast || c == AtMost
}

// Holds applies the comparison to value and threshold.
func (c Comparison) Holds(value, threshold float64) bool {
	if c == AtLeast {
		return value >= threshold
	}
	return value <= threshold
}

// Rule drives ActorID to ActorValue while the sensor reading satisfies
// Comparison against Threshold, and to 0 otherwise.
type Rule struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	SensorID   int64      `json:"sensor_id"`
	Threshold  float64    `json:"threshold"`
	Comparison Comparison `json:"comparison"`
	ActorID    int64      `json:"actor_id"`
	ActorValue int        `json:"actor_value"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Reading is one sample of a sensor. Value is NaN when the device did not
// answer in time.
type Reading struct {
	SensorID  int64
	Timestamp time.Time
	Value     float64
}

// NoData reports whether the reading carries the timeout sentinel.
func (r Reading) NoData() bool {
	return math.IsNaN(r.Value)
}

// MarshalJSON encodes a NaN value as null.
func (r Reading) MarshalJSON() ([]byte, error) {
	var value *float64
	if !r.NoData() {
		value = &r.Value
	}
	return json.Marshal(struct {
		SensorID  int64     `json:"sensor_id"`
		Timestamp time.Time `json:"timestamp"`
		Value     *float64  `json:"value"`
	}{r.SensorID, r.Timestamp, value})
}

// Actuation sources.
const (
	SourceCycle   = "cycle"
	SourceRule    = "rule"
	SourceControl = "control"
)

// Actuation is one drive command sent to an actor and the raw reply line.
type Actuation struct {
	ActorID   int64     `json:"actor_id"`
	Value     int       `json:"value"`
	Source    string    `json:"source"`
	Ack       string    `json:"ack"`
	Timestamp time.Time `json:"timestamp"`
}
