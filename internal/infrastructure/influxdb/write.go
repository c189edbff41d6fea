package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteResourceValue mirrors a numeric resource observation to InfluxDB.
//
// This is the primary method for recording gateway telemetry data.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - endpoint: Gateway endpoint identity (e.g., "urn:imei:990000862471854")
//   - objectID: LWM2M object identifier (e.g., 4 for connectivity monitoring)
//   - resourceID: LWM2M resource identifier within the object
//   - value: The numeric value observed
//   - observedAt: When the gateway observed the value
//
// Example:
//
//	client.WriteResourceValue("urn:imei:990000862471854", 4, 2, -87, observedAt)
func (c *Client) WriteResourceValue(endpoint string, objectID, resourceID int, value float64, observedAt time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"resource_values",
		map[string]string{
			"endpoint": endpoint,
			"object":   strconv.Itoa(objectID),
			"resource": strconv.Itoa(resourceID),
		},
		map[string]interface{}{
			"value": value,
		},
		observedAt,
	)

	c.writeAPI.WritePoint(point)
}

// WriteSignalStrength writes a cellular signal strength observation.
//
// Kept separate from generic resource values so dashboards can query
// fleet-wide signal health without knowing object/resource numbering.
//
// Parameters:
//   - endpoint: Gateway endpoint identity
//   - rssiDBm: Received signal strength in dBm (negative, closer to 0 is better)
func (c *Client) WriteSignalStrength(endpoint string, rssiDBm float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"signal_strength",
		map[string]string{
			"endpoint": endpoint,
		},
		map[string]interface{}{
			"rssi_dbm": rssiDBm,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCommandOutcome records a completed command for delivery analytics.
//
// Used for tracking per-fleet command success rates and retry behaviour.
//
// Parameters:
//   - endpoint: Gateway endpoint identity
//   - status: Terminal command status ("succeeded" or "failed")
//   - attempts: Number of delivery attempts consumed
func (c *Client) WriteCommandOutcome(endpoint string, status string, attempts int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"command_outcomes",
		map[string]string{
			"endpoint": endpoint,
			"status":   status,
		},
		map[string]interface{}{
			"attempts": attempts,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("fleet_stats",
//	    map[string]string{"fleet": "eu-west"},
//	    map[string]interface{}{"registered": 412, "stale": 7})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed or buffered data
// flushed after a gateway reconnects).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
