package mqtt

import (
	"encoding/json"
	"fmt"
)

// ControlCommand is a control request received on an actor command topic:
//
//	{"value": 200, "delay_s": 120, "duration_s": 30}
type ControlCommand struct {
	Value       int     `json:"value"`
	DelaySec    float64 `json:"delay_s"`
	DurationSec float64 `json:"duration_s"`
}

// ControlHandler acts on a decoded control request.
type ControlHandler func(actorID int64, cmd ControlCommand) error

// ParseControl decodes a message received on an actor command topic.
func ParseControl(topic string, payload []byte) (int64, ControlCommand, error) {
	actorID, err := EntityID(topic)
	if err != nil {
		return 0, ControlCommand{}, err
	}
	var cmd ControlCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return 0, ControlCommand{}, fmt.Errorf("decoding control for actor %d: %w", actorID, err)
	}
	return actorID, cmd, nil
}

// controlMessageHandler adapts h to a MessageHandler.
func controlMessageHandler(h ControlHandler) MessageHandler {
	return func(topic string, payload []byte) error {
		actorID, cmd, err := ParseControl(topic, payload)
		if err != nil {
			return err
		}
		return h(actorID, cmd)
	}
}

// SubscribeControl routes every actor command topic to h.
func (c *Client) SubscribeControl(h ControlHandler) error {
	if h == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	return c.Subscribe(Topics{}.AllActorCommands(), byte(c.cfg.QoS), controlMessageHandler(h))
}
