// Package api implements the read-only status API of the hub link.
//
// It exposes:
//   - the entity mirror (all entities, one entity, recorded history)
//   - scheduled tasks
//   - the service-call audit log
//   - connection and relay counters
//   - a WebSocket stream of entity state changes
//
// The API never drives the hub; commands go through MQTT or the CLI. It runs
// without the history store or the audit log, in which case those endpoints
// answer 503.
package api
