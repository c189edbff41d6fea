// Package influxdb mirrors fleet telemetry into an InfluxDB v2 bucket.
//
// Numeric resource observations, signal strength readings, and command
// outcomes flow through here when config.yaml selects the influxdb
// telemetry backend. The canonical record stays in SQLite; this store
// only serves dashboards and retention queries, so writes are batched
// and non-blocking and their failures arrive through the SetOnError
// callback rather than stalling the message path.
//
//	client, err := influxdb.Connect(cfg.Telemetry.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteResourceValue("urn:imei:990000862471854", 4, 2, -87, observedAt)
//
// All methods are safe for concurrent use.
package influxdb
