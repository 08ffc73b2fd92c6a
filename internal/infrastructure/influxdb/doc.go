// Package influxdb feeds the site historian from the registry.
//
// Two measurements are written:
//
//	ied_status  device_id, status   connected=1|0    one per state change
//	ied_events  severity[, device_id] count=1        one per log entry
//
// Writes are queued and batched by influxdb-client-go; they never block
// the registry. Batch failures are reported through SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package influxdb
