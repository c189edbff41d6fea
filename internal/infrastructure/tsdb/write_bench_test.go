package tsdb

import (
	"testing"
	"time"
)

func BenchmarkFormatLineProtocol_Simple(b *testing.B) {
	tags := map[string]string{"endpoint": "urn:imei:990000862471854", "object": "4", "resource": "2"}
	fields := map[string]interface{}{"value": -87.0}
	ts := time.Date(2026, 2, 5, 12, 0, 0, 0, time.UTC)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		formatLineProtocol("resource_values", tags, fields, ts)
	}
}

func BenchmarkFormatLineProtocol_MultiField(b *testing.B) {
	tags := map[string]string{"endpoint": "gw-berlin-042"}
	fields := map[string]interface{}{
		"rssi_dbm":     -92.0,
		"link_quality": 18.0,
		"error_rate":   0.03,
		"network":      "lte-m",
	}
	ts := time.Date(2026, 2, 5, 12, 0, 0, 0, time.UTC)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		formatLineProtocol("signal_strength", tags, fields, ts)
	}
}

func BenchmarkFormatLineProtocol_ManyTags(b *testing.B) {
	tags := map[string]string{
		"endpoint": "urn:imei:990000862471854",
		"object":   "10262",
		"resource": "1",
		"fleet":    "eu-west",
		"network":  "lte-m",
	}
	fields := map[string]interface{}{"value": 75.0}
	ts := time.Date(2026, 2, 5, 12, 0, 0, 0, time.UTC)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		formatLineProtocol("resource_values", tags, fields, ts)
	}
}

func BenchmarkEscapeTag(b *testing.B) {
	for i := 0; i < b.N; i++ {
		escapeTag("endpoint=urn:imei\\,fleet eu-west")
	}
}
