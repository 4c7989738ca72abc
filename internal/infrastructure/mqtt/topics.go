package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Topic prefixes.
const (
	// TopicPrefix is the base of every SerialHome topic.
	TopicPrefix = "serialhome"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "serialhome/system"
)

// Topics provides builders for SerialHome MQTT topics:
//
//	serialhome/state/sensor/{id}     latest reading, retained
//	serialhome/event/actor/{id}      drive commands sent to an actor
//	serialhome/command/actor/{id}    control requests from other services
//	serialhome/system/status         online/offline, retained
type Topics struct{}

// SensorState returns the retained state topic of a sensor.
//
// Example: serialhome/state/sensor/4
func (Topics) SensorState(sensorID int64) string {
	return fmt.Sprintf("%s/state/sensor/%d", TopicPrefix, sensorID)
}

// ActorEvent returns the topic actuations of an actor are published to.
//
// Example: serialhome/event/actor/2
func (Topics) ActorEvent(actorID int64) string {
	return fmt.Sprintf("%s/event/actor/%d", TopicPrefix, actorID)
}

// ActorCommand returns the topic control requests for an actor arrive on.
//
// Example: serialhome/command/actor/2
func (Topics) ActorCommand(actorID int64) string {
	return fmt.Sprintf("%s/command/actor/%d", TopicPrefix, actorID)
}

// SystemStatus returns the system status topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllSensorStates matches every sensor state topic.
func (Topics) AllSensorStates() string {
	return TopicPrefix + "/state/sensor/+"
}

// AllActorCommands matches every actor command topic.
func (Topics) AllActorCommands() string {
	return TopicPrefix + "/command/actor/+"
}

// AllTopics matches all SerialHome traffic.
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// EntityID extracts the trailing numeric id from a state, event or command
// topic.
func EntityID(topic string) (int64, error) {
	i := strings.LastIndexByte(topic, '/')
	if i < 0 || !strings.HasPrefix(topic, TopicPrefix+"/") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	id, err := strconv.ParseInt(topic[i+1:], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q has no entity id", ErrInvalidTopic, topic)
	}
	return id, nil
}
