package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/serialhome/serialhome-core/internal/hardware"
)

// Publisher is the part of Client the event publisher needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
}

// EventPublisher publishes readings and actuations.
// It implements automation.Publisher.
type EventPublisher struct {
	pub Publisher
	qos byte
}

// NewEventPublisher creates a publisher that sends actuation events at the
// given QoS. Sensor state goes out retained at the client's QoS.
func NewEventPublisher(pub Publisher, qos byte) *EventPublisher {
	return &EventPublisher{pub: pub, qos: qos}
}

type readingPayload struct {
	SensorID  int64    `json:"sensor_id"`
	Value     *float64 `json:"value"`
	NoData    bool     `json:"no_data"`
	Timestamp string   `json:"timestamp"`
}

// PublishReading publishes rd retained on the sensor's state topic.
// A timed-out reading carries a null value and no_data=true.
func (p *EventPublisher) PublishReading(rd hardware.Reading) error {
	msg := readingPayload{
		SensorID:  rd.SensorID,
		NoData:    rd.NoData(),
		Timestamp: rd.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if !msg.NoData {
		v := rd.Value
		msg.Value = &v
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling reading: %w", err)
	}
	return p.pub.PublishRetained(Topics{}.SensorState(rd.SensorID), payload)
}

// PublishActuation publishes act on the actor's event topic.
func (p *EventPublisher) PublishActuation(act hardware.Actuation) error {
	payload, err := json.Marshal(act)
	if err != nil {
		return fmt.Errorf("marshalling actuation: %w", err)
	}
	return p.pub.Publish(Topics{}.ActorEvent(act.ActorID), payload, p.qos, false)
}
