// Package tsdb is the VictoriaMetrics telemetry backend.
//
// It speaks plain HTTP: InfluxDB line protocol POSTed to /write for
// ingestion, PromQL against /api/v1/query and /api/v1/query_range for
// reads. No client library is needed. The same resource observations,
// signal readings, and command outcomes that the influxdb package
// handles go through here when config.yaml selects the
// victoriametrics backend.
//
//	client, err := tsdb.Connect(ctx, cfg.Telemetry.VictoriaMetrics)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteResourceValue("urn:imei:990000862471854", 4, 2, -87, observedAt)
//
// Writes batch in memory and flush on a size threshold or timer; flush
// failures surface through the SetOnError callback. All methods are
// safe for concurrent use.
package tsdb
