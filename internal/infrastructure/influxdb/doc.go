// Package influxdb writes numeric entity telemetry to InfluxDB v2.
//
// Every mirrored state change whose value (or attribute) is numeric or
// boolean becomes one point in the "entity_state" measurement, tagged with
// entity_id and domain. Writes are non-blocking and batched by the client
// library; asynchronous failures are reported through SetOnError.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.WriteEntityState("sensor.outdoor_temp", "21.5", attrs, time.Now())
package influxdb
