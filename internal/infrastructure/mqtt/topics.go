package mqtt

import "fmt"

// TopicPrefix is the root of every LumiSync topic.
const TopicPrefix = "lumisync"

// Topics builds LumiSync MQTT topics.
//
//	mqtt.Topics{}.Command("a4:c1:38:aa:bb:cc")
//	// lumisync/command/a4:c1:38:aa:bb:cc
type Topics struct{}

// Command is where remote clients send commands for one device.
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// Ack carries the result of a command sent to Command(deviceID).
func (Topics) Ack(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, deviceID)
}

// State carries the retained registry view of one device.
func (Topics) State(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// Session carries session lifecycle events for one device.
func (Topics) Session(deviceID string) string {
	return fmt.Sprintf("%s/session/%s", TopicPrefix, deviceID)
}

// Health is the periodic service health topic.
func (Topics) Health() string {
	return TopicPrefix + "/health"
}

// SystemStatus is the online/offline topic, also used for the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllCommands matches commands for every device.
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+"
}

// AllStates matches state for every device.
func (Topics) AllStates() string {
	return TopicPrefix + "/state/+"
}

// DeviceFromTopic returns the last topic level, which for command, ack,
// state and session topics is the device ID. Device IDs contain colons
// but never slashes.
func DeviceFromTopic(topic string) (string, bool) {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			id := topic[i+1:]
			return id, id != ""
		}
	}
	return "", false
}
