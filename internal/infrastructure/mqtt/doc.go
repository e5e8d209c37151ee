// Package mqtt connects the hub link to the Gray Logic MQTT broker.
//
// The link uses MQTT in two directions:
//   - Outbound: every mirrored entity state is published retained on
//     graylogic/hass/state/<entity_id>, and selected hub events on
//     graylogic/hass/event/<event_type>.
//   - Inbound: graylogic/hass/command/<domain>/<service> messages are turned
//     into hub service calls.
//
// A retained status document on graylogic/hass/status reports whether the
// link is online; the broker publishes the Last Will if the process dies.
//
// Handlers run on paho's goroutines and are wrapped with panic recovery.
// Subscriptions are restored after an automatic reconnect.
package mqtt
