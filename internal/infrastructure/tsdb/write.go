package tsdb

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// WriteResourceValue mirrors a numeric resource observation, tagged by
// endpoint and LWM2M object/resource path. Non-blocking; the point is
// batched and sent asynchronously.
func (c *Client) WriteResourceValue(endpoint string, objectID, resourceID int, value float64, observedAt time.Time) {
	c.addLine(formatLineProtocol(
		"resource_values",
		map[string]string{
			"endpoint": endpoint,
			"object":   strconv.Itoa(objectID),
			"resource": strconv.Itoa(resourceID),
		},
		map[string]interface{}{"value": value},
		observedAt,
	))
}

// WriteSignalStrength records a cellular RSSI reading in dBm.
func (c *Client) WriteSignalStrength(endpoint string, rssiDBm float64) {
	c.addLine(formatLineProtocol(
		"signal_strength",
		map[string]string{"endpoint": endpoint},
		map[string]interface{}{"rssi_dbm": rssiDBm},
		time.Now(),
	))
}

// WriteCommandOutcome records a command that reached a terminal status
// ("succeeded" or "failed") and how many delivery attempts it took.
func (c *Client) WriteCommandOutcome(endpoint string, status string, attempts int) {
	c.addLine(formatLineProtocol(
		"command_outcomes",
		map[string]string{"endpoint": endpoint, "status": status},
		map[string]interface{}{"attempts": attempts},
		time.Now(),
	))
}

// WritePoint writes an arbitrary measurement. Keep tags low cardinality.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.addLine(formatLineProtocol(measurement, tags, fields, time.Now()))
}

// WritePointWithTime is WritePoint with an explicit timestamp, for
// backfill or delayed data.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	c.addLine(formatLineProtocol(measurement, tags, fields, timestamp))
}

// formatLineProtocol renders one InfluxDB line protocol entry:
//
//	measurement,tag1=v1,tag2=v2 field1=v1,field2=v2 timestamp_ns
//
// Tags and fields are emitted in sorted key order so output is
// deterministic.
func formatLineProtocol(measurement string, tags map[string]string, fields map[string]interface{}, t time.Time) string {
	var b strings.Builder
	b.WriteString(escapeMeasurement(measurement))

	tagKeys := make([]string, 0, len(tags))
	for k := range tags {
		tagKeys = append(tagKeys, k)
	}
	sort.Strings(tagKeys)
	for _, k := range tagKeys {
		b.WriteByte(',')
		b.WriteString(escapeTag(k))
		b.WriteByte('=')
		b.WriteString(escapeTag(tags[k]))
	}

	fieldKeys := make([]string, 0, len(fields))
	for k := range fields {
		fieldKeys = append(fieldKeys, k)
	}
	sort.Strings(fieldKeys)
	b.WriteByte(' ')
	for i, k := range fieldKeys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(escapeTag(k))
		b.WriteByte('=')
		switch val := fields[k].(type) {
		case float64:
			b.WriteString(fmt.Sprintf("%g", val))
		case int:
			b.WriteString(fmt.Sprintf("%di", val))
		case int64:
			b.WriteString(fmt.Sprintf("%di", val))
		case bool:
			b.WriteString(strconv.FormatBool(val))
		case string:
			b.WriteString(fmt.Sprintf("%q", val))
		default:
			b.WriteString(fmt.Sprintf("%v", val))
		}
	}

	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(t.UnixNano(), 10))
	return b.String()
}

// escapeTag backslash-escapes commas, equals signs, and spaces, and
// strips newlines so payloads cannot inject extra protocol lines.
func escapeTag(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, " ", "\\ ")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "=", "\\=")
	return s
}

func escapeMeasurement(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, " ", "\\ ")
	s = strings.ReplaceAll(s, ",", "\\,")
	return s
}
