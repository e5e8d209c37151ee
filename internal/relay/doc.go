// Package relay connects the entity mirror to the rest of Gray Logic.
//
// Outbound, every state change applied to the entity store is published as a
// retained MQTT message, written to InfluxDB when it is numeric, and appended
// to the SQLite state history. The work happens on the relay's own goroutine
// so slow sinks never stall hub dispatch.
//
// Inbound, messages on graylogic/hass/command/<domain>/<service> become hub
// service calls, and every service call is recorded in the audit log.
package relay
