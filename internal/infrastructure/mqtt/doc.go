// Package mqtt connects SerialHome Core to an MQTT broker.
//
// The broker is optional. When enabled, Core publishes every sensor
// reading retained on serialhome/state/sensor/{id}, every actuator drive on
// serialhome/event/actor/{id}, and accepts control pulses on
// serialhome/command/actor/{id}. A retained serialhome/system/status topic
// carries online/offline, backed by a Last Will.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	engine.SetPublisher(mqtt.NewEventPublisher(client, byte(cfg.MQTT.QoS)))
//	err = client.SubscribeControl(func(actorID int64, cmd mqtt.ControlCommand) error {
//	    _, err := engine.Control(ctx, actorID, ...)
//	    return err
//	})
package mqtt
