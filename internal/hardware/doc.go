// Package hardware is the durable registry of sensor, actor and rule
// definitions and of the sensor reading history.
//
// A Sensor and an Actor are addressed on the serial bus by (channel, pin).
// A Rule binds one sensor's threshold condition to one actor's drive value.
// Readings are append-only; a reading whose device timed out is stored with
// a NULL value and surfaces as NaN.
//
// The Registry wraps a Repository with a thread-safe cache and notifies a
// ChangeHandler after every sensor or actor mutation so that polling can be
// rescheduled. It never schedules anything itself.
package hardware
