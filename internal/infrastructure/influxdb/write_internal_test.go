package influxdb

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/config"
)

// recordingWriteAPI keeps written points in memory.
type recordingWriteAPI struct {
	api.WriteAPI

	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (r *recordingWriteAPI) WritePoint(p *write.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, p)
}

func (r *recordingWriteAPI) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
}

func TestWriteEntityState_DomainFilter(t *testing.T) {
	w := &recordingWriteAPI{}
	c := newClient(config.InfluxDBConfig{Domains: []string{"Sensor", " light ", ""}}, w)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if !c.WriteEntityState("sensor.temperature", "21.5", nil, ts) {
		t.Error("sensor point should be written")
	}
	if !c.WriteEntityState("light.kitchen", "on", nil, ts) {
		t.Error("light point should be written")
	}
	if c.WriteEntityState("switch.fan", "on", nil, ts) {
		t.Error("switch is outside the configured domains")
	}
	if c.WriteEntityState("sensor.label", "cloudy", nil, ts) {
		t.Error("non-numeric state should be skipped")
	}

	if len(w.points) != 2 {
		t.Fatalf("points = %d, want 2", len(w.points))
	}
	st := c.Stats()
	if st.Points != 2 || st.Filtered != 1 || st.NotNumeric != 1 {
		t.Errorf("Stats() = %+v", st)
	}
	if !st.Connected {
		t.Error("Stats().Connected = false")
	}
}

func TestWriteEntityState_NoDomainsWritesAll(t *testing.T) {
	w := &recordingWriteAPI{}
	c := newClient(config.InfluxDBConfig{}, w)

	if !c.WriteEntityState("switch.fan", "off", nil, time.Now()) {
		t.Error("empty domain list should allow every domain")
	}
}

func TestClient_WriteErrorsCounted(t *testing.T) {
	c := newClient(config.InfluxDBConfig{}, &recordingWriteAPI{})

	var got []error
	c.SetOnError(func(err error) { got = append(got, err) })

	errs := make(chan error, 2)
	errs <- errors.New("bucket not found")
	errs <- errors.New("unauthorized")
	close(errs)
	c.forwardErrors(errs)

	if len(got) != 2 {
		t.Errorf("callback calls = %d, want 2", len(got))
	}
	st := c.Stats()
	if st.WriteErrors != 2 {
		t.Errorf("WriteErrors = %d, want 2", st.WriteErrors)
	}
	if st.LastError != "unauthorized" || st.LastErrorAt.IsZero() {
		t.Errorf("last error = %q at %v", st.LastError, st.LastErrorAt)
	}
}

func TestClient_CloseStopsWrites(t *testing.T) {
	w := &recordingWriteAPI{}
	c := newClient(config.InfluxDBConfig{}, w)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1", w.flushes)
	}
	if c.WriteEntityState("sensor.t", "1", nil, time.Now()) {
		t.Error("closed client should not queue points")
	}
	c.Flush()
	if w.flushes != 1 {
		t.Error("Flush after Close should be a no-op")
	}
}
