package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic the link publishes or consumes.
const TopicPrefix = "graylogic/hass"

// Topics provides builders for the link's MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.EntityState("light.kitchen") // graylogic/hass/state/light.kitchen
type Topics struct{}

// EntityState returns the retained state topic for an entity.
func (Topics) EntityState(entityID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, entityID)
}

// Event returns the topic hub events of one type are relayed to.
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, eventType)
}

// ServiceCommand returns the topic that triggers domain.service on the hub.
func (Topics) ServiceCommand(domain, service string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, domain, service)
}

// AllServiceCommands matches every service command topic.
func (Topics) AllServiceCommands() string {
	return TopicPrefix + "/command/+/+"
}

// LinkStatus returns the retained online/offline status topic.
func (Topics) LinkStatus() string {
	return TopicPrefix + "/status"
}

// ParseServiceCommand extracts domain and service from a command topic.
//
// Returns ok=false when topic is not graylogic/hass/command/<domain>/<service>.
func ParseServiceCommand(topic string) (domain, service string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefix+"/command/")
	if !found {
		return "", "", false
	}
	domain, service, found = strings.Cut(rest, "/")
	if !found || domain == "" || service == "" || strings.Contains(service, "/") {
		return "", "", false
	}
	return domain, service, true
}
