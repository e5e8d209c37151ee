package influxdb

import (
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// EntityMeasurement is the measurement all entity points are written to.
const EntityMeasurement = "entity_state"

// WriteEntityState records the numeric parts of one entity state.
//
// The value becomes field "value" when it parses as a number or boolean;
// numeric and boolean attributes become fields of the same name. States with
// nothing numeric are skipped, as are entities outside the configured
// domains.
//
// Parameters:
//   - entityID: Full entity id, e.g. "sensor.temperature"
//   - value: The flattened state value
//   - attributes: The remaining flattened attributes
//   - ts: Point timestamp, usually last_updated
//
// Returns:
//   - bool: true if a point was queued
func (c *Client) WriteEntityState(entityID string, value any, attributes map[string]any, ts time.Time) bool {
	if !c.IsConnected() {
		return false
	}
	if !c.domains.allows(entityID) {
		c.filtered.Add(1)
		return false
	}
	point, ok := EntityPoint(entityID, value, attributes, ts)
	if !ok {
		c.notNumeric.Add(1)
		return false
	}
	c.writeAPI.WritePoint(point)
	c.points.Add(1)
	return true
}

// domainSet selects which entity domains are written. An empty set allows
// every domain.
type domainSet map[string]struct{}

func newDomainSet(domains []string) domainSet {
	set := make(domainSet, len(domains))
	for _, d := range domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			set[d] = struct{}{}
		}
	}
	return set
}

func (s domainSet) allows(entityID string) bool {
	if len(s) == 0 {
		return true
	}
	domain, _, _ := strings.Cut(entityID, ".")
	_, ok := s[domain]
	return ok
}

// EntityPoint builds the point WriteEntityState would write.
func EntityPoint(entityID string, value any, attributes map[string]any, ts time.Time) (*write.Point, bool) {
	fields := make(map[string]any)
	if v, ok := numericField(value); ok {
		fields["value"] = v
	}
	for k, raw := range attributes {
		// Strings in attributes are labels, not measurements.
		switch raw.(type) {
		case float64, float32, int, int64, bool:
			if v, ok := numericField(raw); ok {
				fields[k] = v
			}
		}
	}
	if len(fields) == 0 {
		return nil, false
	}

	domain, _, _ := strings.Cut(entityID, ".")
	tags := map[string]string{
		"entity_id": entityID,
		"domain":    domain,
	}
	return write.NewPoint(EntityMeasurement, tags, fields, ts), true
}

// numericField converts value to float64 or bool. Hub states arrive as
// strings ("21.5", "on"), so common binary states map to booleans.
func numericField(value any) (any, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		return v, true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
		switch strings.ToLower(v) {
		case "on", "open", "home", "true", "above_horizon":
			return true, true
		case "off", "closed", "not_home", "false", "below_horizon":
			return false, true
		}
	}
	return nil, false
}
