package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every CCBC topic.
const TopicPrefix = "ccbc"

// Topics builds CCBC topic names:
//
//	ccbc/state                          full store snapshot (retained)
//	ccbc/state/{category}/{id}          one entity (retained)
//	ccbc/command/{category}/{id}        operator edits, JSON field map
//	ccbc/event/transition               control engine switch events
//	ccbc/health/{component}             component health (retained)
//	ccbc/system/status                  online/offline, also the LWT
type Topics struct{}

// Snapshot returns the topic carrying the whole store.
func (Topics) Snapshot() string {
	return TopicPrefix + "/state"
}

// EntityState returns the retained state topic of one entity.
func (Topics) EntityState(category, id string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, category, escapeLevel(id))
}

// Command returns the topic operators publish edits to for one entity.
func (Topics) Command(category, id string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, category, escapeLevel(id))
}

// AllCommands is the subscription pattern for every entity command.
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+/+"
}

// Transition returns the topic for control engine switch events.
func (Topics) Transition() string {
	return TopicPrefix + "/event/transition"
}

// Health returns the health topic of a component.
func (Topics) Health(component string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, component)
}

// SystemStatus returns the online/offline topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// ParseCommand splits a command topic into category and entity ID.
func (Topics) ParseCommand(topic string) (category, id string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "command" || parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], unescapeLevel(parts[3]), true
}

// Entity IDs are free text ("Heater 1"); '/', '+' and '#' would change the
// topic structure, so they are percent-encoded within a level.
var (
	levelEscaper   = strings.NewReplacer("%", "%25", "/", "%2F", "+", "%2B", "#", "%23")
	levelUnescaper = strings.NewReplacer("%2F", "/", "%2B", "+", "%23", "#", "%25", "%")
)

func escapeLevel(s string) string   { return levelEscaper.Replace(s) }
func unescapeLevel(s string) string { return levelUnescaper.Replace(s) }
