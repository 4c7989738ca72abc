// Package influxdb mirrors sensor readings and actuator commands into
// InfluxDB for long-term history and dashboards.
//
// The integration is optional (influxdb.enabled). Two measurements are
// written:
//
//	sensor_readings  tag sensor_id            field value, or timeout=true
//	actuations       tags actor_id, source    fields value, ack
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	engine.SetTimeSeries(client)
package influxdb
