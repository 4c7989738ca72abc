package automation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/serialhome/serialhome-core/internal/gateway"
	"github.com/serialhome/serialhome-core/internal/hardware"
)

// Gateway is the serial link the engine drives.
type Gateway interface {
	ReadSensor(ctx context.Context, addr gateway.Address) (float64, error)
	WriteActor(ctx context.Context, addr gateway.Address, value int) (string, error)
}

// ActorLookup resolves rule targets.
type ActorLookup interface {
	GetActor(ctx context.Context, id int64) (*hardware.Actor, error)
}

// Registry is the part of hardware.Registry the engine needs.
type Registry interface {
	ActorLookup
	EnabledSensors(ctx context.Context) ([]hardware.Sensor, error)
	EnabledActors(ctx context.Context) ([]hardware.Actor, error)
	GetSensor(ctx context.Context, id int64) (*hardware.Sensor, error)
	RulesForSensor(ctx context.Context, sensorID int64) ([]hardware.Rule, error)
	RecordReading(ctx context.Context, rd hardware.Reading) error
	PruneReadings(ctx context.Context, before time.Time) (int64, error)
}

// Publisher forwards readings and actuations to the message bus.
type Publisher interface {
	PublishReading(rd hardware.Reading) error
	PublishActuation(act hardware.Actuation) error
}

// TimeSeries receives readings and actuations for long-term storage.
// Writes are expected not to block.
type TimeSeries interface {
	WriteReading(rd hardware.Reading)
	WriteActuation(act hardware.Actuation)
}

// WSHub is the interface for broadcasting WebSocket events.
type WSHub interface {
	Broadcast(channel string, payload any)
}

// Observer counts engine activity.
type Observer interface {
	ObserveReading(noData bool)
	ObserveActuation(source string)
}

// WebSocket channels.
const (
	EventSensorReading = "sensor.reading"
	EventActorActuated = "actor.actuated"
)

// Command is the drive value a rule asks for.
type Command struct {
	RuleID  int64
	ActorID int64
	Value   int
}

// Target is a Command whose actor has been resolved.
type Target struct {
	RuleID int64
	Actor  hardware.Actor
	Value  int
}

// PulseRequest describes a single-shot control: after Delay drive Value,
// and when Duration is positive drive 0 once it has elapsed.
type PulseRequest struct {
	Delay    time.Duration
	Value    int
	Duration time.Duration
}

// MaxPulseWait bounds both the delay and the duration of a pulse.
const MaxPulseWait = time.Duration(hardware.MaxPeriodSec) * time.Second

// NewPulseRequest builds a request from second counts, as the HTTP and MQTT
// control surfaces carry them. Fractions are kept.
//
// Parameters:
//   - value: drive value, 0 to hardware.MaxDriveValue
//   - delaySec: wait before driving, 0 to MaxPulseWait in seconds
//   - durationSec: on time before the off command; 0 means no off command
//
// Returns:
//   - PulseRequest: the validated request
//   - error: wraps ErrInvalidPulse when any field is out of range
func NewPulseRequest(value int, delaySec, durationSec float64) (PulseRequest, error) {
	delay, err := secondsToDuration("delay", delaySec)
	if err != nil {
		return PulseRequest{}, err
	}
	duration, err := secondsToDuration("duration", durationSec)
	if err != nil {
		return PulseRequest{}, err
	}
	req := PulseRequest{Delay: delay, Value: value, Duration: duration}
	if err := req.Validate(); err != nil {
		return PulseRequest{}, err
	}
	return req, nil
}

// secondsToDuration converts sec without overflowing time.Duration.
func secondsToDuration(field string, sec float64) (time.Duration, error) {
	switch {
	case math.IsNaN(sec) || math.IsInf(sec, 0):
		return 0, fmt.Errorf("%w: %s must be a finite number", ErrInvalidPulse, field)
	case sec < 0:
		return 0, fmt.Errorf("%w: %s cannot be negative", ErrInvalidPulse, field)
	case sec > MaxPulseWait.Seconds():
		return 0, fmt.Errorf("%w: %s cannot exceed %v", ErrInvalidPulse, field, MaxPulseWait)
	}
	return time.Duration(sec * float64(time.Second)), nil
}

// Validate checks the request ranges.
func (p PulseRequest) Validate() error {
	switch {
	case p.Delay < 0:
		return fmt.Errorf("%w: delay cannot be negative", ErrInvalidPulse)
	case p.Duration < 0:
		return fmt.Errorf("%w: duration cannot be negative", ErrInvalidPulse)
	case p.Delay > MaxPulseWait:
		return fmt.Errorf("%w: delay cannot exceed %v", ErrInvalidPulse, MaxPulseWait)
	case p.Duration > MaxPulseWait:
		return fmt.Errorf("%w: duration cannot exceed %v", ErrInvalidPulse, MaxPulseWait)
	case p.Value < 0 || p.Value > hardware.MaxDriveValue:
		return fmt.Errorf("%w: value must be between 0 and %d", ErrInvalidPulse, hardware.MaxDriveValue)
	}
	return nil
}

// Logger defines the logging interface used by the Engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

func addressOf(channel, pin int) gateway.Address {
	return gateway.Address{Channel: channel, Pin: pin}
}
