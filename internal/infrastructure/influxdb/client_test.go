package influxdb_test

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/influxdb"
)

// testConfig matches the local development InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "graylogic-dev-token",
		Org:           "graylogic",
		Bucket:        "metrics",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestNilClient(t *testing.T) {
	var c *influxdb.Client
	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if c.WriteEntityState("sensor.t", "1", nil, time.Now()) {
		t.Error("nil client should not queue points")
	}
}

func TestEntityPoint(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	point, ok := influxdb.EntityPoint("sensor.outdoor_temp", "21.5", map[string]any{
		"battery":       float64(87),
		"friendly_name": "Outdoor",
		"unit":          "°C",
		"charging":      false,
	}, ts)
	if !ok {
		t.Fatal("EntityPoint() ok = false")
	}

	if point.Name() != influxdb.EntityMeasurement {
		t.Errorf("Name() = %q", point.Name())
	}
	if !point.Time().Equal(ts) {
		t.Errorf("Time() = %v", point.Time())
	}

	tags := map[string]string{}
	for _, tag := range point.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["entity_id"] != "sensor.outdoor_temp" || tags["domain"] != "sensor" {
		t.Errorf("tags = %v", tags)
	}

	fields := map[string]any{}
	for _, f := range point.FieldList() {
		fields[f.Key] = f.Value
	}
	if fields["value"] != 21.5 {
		t.Errorf("value = %v", fields["value"])
	}
	if fields["battery"] != float64(87) {
		t.Errorf("battery = %v", fields["battery"])
	}
	if fields["charging"] != false {
		t.Errorf("charging = %v", fields["charging"])
	}
	if _, ok := fields["friendly_name"]; ok {
		t.Error("string attributes must not become fields")
	}
}

func TestEntityPoint_BinaryStates(t *testing.T) {
	tests := []struct {
		value any
		want  any
	}{
		{"on", true},
		{"off", false},
		{"above_horizon", true},
		{"not_home", false},
		{float64(3), float64(3)},
	}
	for _, tt := range tests {
		point, ok := influxdb.EntityPoint("switch.x", tt.value, nil, time.Now())
		if !ok {
			t.Fatalf("EntityPoint(%v) ok = false", tt.value)
		}
		if got := point.FieldList()[0].Value; got != tt.want {
			t.Errorf("EntityPoint(%v) value = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestEntityPoint_NothingNumeric(t *testing.T) {
	if _, ok := influxdb.EntityPoint("media_player.tv", "playing", map[string]any{"source": "HDMI"}, time.Now()); ok {
		t.Error("expected no point for non-numeric state")
	}
}

func TestConnect_Integration(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("RUN_INTEGRATION not set")
	}

	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // test cleanup

	if !client.WriteEntityState("sensor.test", 1.0, nil, time.Now()) {
		t.Error("WriteEntityState() = false")
	}
	client.Flush()
}
