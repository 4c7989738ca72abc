package influxdb

import (
	"strconv"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/serialhome/serialhome-core/internal/hardware"
)

// Measurements.
const (
	MeasurementReadings   = "sensor_readings"
	MeasurementActuations = "actuations"
)

// WriteReading records one sensor sample.
//
// The write is non-blocking; points are batched and sent asynchronously.
// A timed-out read is written with timeout=true and no value field.
//
// Parameters:
//   - rd: The reading as recorded in the registry
//
// Example:
//
//	client.WriteReading(hardware.Reading{SensorID: 4, Value: 512, Timestamp: time.Now()})
func (c *Client) WriteReading(rd hardware.Reading) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(readingPoint(rd))
}

// WriteActuation records one drive command and the device's ack line.
//
// Parameters:
//   - act: The actuation, tagged by actor id and source (cycle, rule, control)
func (c *Client) WriteActuation(act hardware.Actuation) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(actuationPoint(act))
}

// readingPoint tags the sensor id. A timed-out reading has no value field;
// it carries timeout=true instead so gaps stay visible.
func readingPoint(rd hardware.Reading) *write.Point {
	fields := map[string]interface{}{}
	if rd.NoData() {
		fields["timeout"] = true
	} else {
		fields["value"] = rd.Value
	}
	return write.NewPoint(
		MeasurementReadings,
		map[string]string{"sensor_id": strconv.FormatInt(rd.SensorID, 10)},
		fields,
		rd.Timestamp,
	)
}

func actuationPoint(act hardware.Actuation) *write.Point {
	return write.NewPoint(
		MeasurementActuations,
		map[string]string{
			"actor_id": strconv.FormatInt(act.ActorID, 10),
			"source":   act.Source,
		},
		map[string]interface{}{
			"value": act.Value,
			"ack":   act.Ack,
		},
		act.Timestamp,
	)
}
