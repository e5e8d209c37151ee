package entity

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Reserved keys of a flattened state. They are written before custom
// attributes and custom attributes never replace them.
const (
	KeyValue       = "value"
	KeyLastUpdated = "last_updated"
	KeyLastChanged = "last_changed"
	KeyUserID      = "user_id"
)

// reservedKeys lists the flattened keys that are not custom attributes.
var reservedKeys = []string{KeyValue, KeyLastUpdated, KeyLastChanged, KeyUserID}

// IsReserved reports whether key is one of the reserved flattened keys.
func IsReserved(key string) bool {
	for _, k := range reservedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Flatten merges a hub state snapshot into one flat mapping.
//
// Input shape:
//
//	{"entity_id": "light.kitchen", "state": "on",
//	 "last_updated": "...", "last_changed": "...",
//	 "context": {"user_id": "abc"}, "attributes": {"brightness": 200}}
//
// Output:
//
//	{"value": "on", "last_updated": "...", "last_changed": "...",
//	 "user_id": "abc", "brightness": 200}
//
// A map that is already flat (it carries "value") is returned as a copy, so
// Flatten(Flatten(x)) equals Flatten(x).
func Flatten(snapshot map[string]any) map[string]any {
	if _, flat := snapshot[KeyValue]; flat {
		out := maps.Clone(snapshot)
		for _, k := range reservedKeys {
			if _, ok := out[k]; !ok {
				out[k] = nil
			}
		}
		return out
	}

	attrs, _ := snapshot["attributes"].(map[string]any)
	out := make(map[string]any, len(attrs)+len(reservedKeys))

	out[KeyValue] = snapshot["state"]
	out[KeyLastUpdated] = snapshot["last_updated"]
	out[KeyLastChanged] = snapshot["last_changed"]
	out[KeyUserID] = nil
	if ctx, ok := snapshot["context"].(map[string]any); ok {
		out[KeyUserID] = ctx["user_id"]
	}

	for k, v := range attrs {
		if IsReserved(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// FlattenJSON decodes a raw snapshot and flattens it.
func FlattenJSON(raw json.RawMessage) (map[string]any, error) {
	var snapshot map[string]any
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("decoding state snapshot: %w", err)
	}
	if snapshot == nil {
		return nil, fmt.Errorf("decoding state snapshot: null state")
	}
	return Flatten(snapshot), nil
}

// SnapshotID returns the entity_id of a raw (unflattened) snapshot.
func SnapshotID(snapshot map[string]any) string {
	id, _ := snapshot["entity_id"].(string)
	return id
}
