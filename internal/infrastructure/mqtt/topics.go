package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the CellFleet MQTT namespace.
//
// All device topics use the flat scheme: cellfleet/{category}/{endpoint}
// This matches the gateway firmware's publisher and all runtime subscribers.
const (
	// TopicPrefixDevice is the base for all device-facing topics.
	// Flat scheme: cellfleet/{category}/{endpoint}
	TopicPrefixDevice = "cellfleet"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "cellfleet/system"
)

// Topics provides builders for CellFleet MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.Command("urn:imei:990000862471854")
//	// Returns: "cellfleet/cmd/urn:imei:990000862471854"
type Topics struct{}

// =============================================================================
// Inbound Device Topics
// =============================================================================

// Register returns the topic a gateway publishes its registration request on.
//
// Example: cellfleet/reg/urn:imei:990000862471854
func (Topics) Register(endpoint string) string {
	return fmt.Sprintf("%s/reg/%s", TopicPrefixDevice, endpoint)
}

// Update returns the topic for registration refresh requests.
//
// Example: cellfleet/update/urn:imei:990000862471854
func (Topics) Update(endpoint string) string {
	return fmt.Sprintf("%s/update/%s", TopicPrefixDevice, endpoint)
}

// Deregister returns the topic for explicit deregistration requests.
//
// Example: cellfleet/dereg/urn:imei:990000862471854
func (Topics) Deregister(endpoint string) string {
	return fmt.Sprintf("%s/dereg/%s", TopicPrefixDevice, endpoint)
}

// Notify returns the topic gateways report resource values on.
//
// Example: cellfleet/notify/urn:imei:990000862471854
func (Topics) Notify(endpoint string) string {
	return fmt.Sprintf("%s/notify/%s", TopicPrefixDevice, endpoint)
}

// Ack returns the topic gateways acknowledge command execution on.
//
// Example: cellfleet/ack/urn:imei:990000862471854
func (Topics) Ack(endpoint string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefixDevice, endpoint)
}

// =============================================================================
// Outbound Device Topics
// =============================================================================

// Command returns the topic the server delivers commands to a gateway on.
//
// Example: cellfleet/cmd/urn:imei:990000862471854
func (Topics) Command(endpoint string) string {
	return fmt.Sprintf("%s/cmd/%s", TopicPrefixDevice, endpoint)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the server status topic.
// The server publishes "online" here on connect and the broker publishes
// "offline" via LWT when the server drops.
//
// Example: cellfleet/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllRegistrations returns a pattern matching all registration requests.
//
// Pattern: cellfleet/reg/+
func (Topics) AllRegistrations() string {
	return fmt.Sprintf("%s/reg/+", TopicPrefixDevice)
}

// AllUpdates returns a pattern matching all registration refreshes.
//
// Pattern: cellfleet/update/+
func (Topics) AllUpdates() string {
	return fmt.Sprintf("%s/update/+", TopicPrefixDevice)
}

// AllDeregistrations returns a pattern matching all deregistration requests.
//
// Pattern: cellfleet/dereg/+
func (Topics) AllDeregistrations() string {
	return fmt.Sprintf("%s/dereg/+", TopicPrefixDevice)
}

// AllNotifications returns a pattern matching all resource notifications.
//
// Pattern: cellfleet/notify/+
func (Topics) AllNotifications() string {
	return fmt.Sprintf("%s/notify/+", TopicPrefixDevice)
}

// AllAcks returns a pattern matching all command acknowledgements.
//
// Pattern: cellfleet/ack/+
func (Topics) AllAcks() string {
	return fmt.Sprintf("%s/ack/+", TopicPrefixDevice)
}

// AllTopics returns a pattern matching all CellFleet topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: cellfleet/#
func (Topics) AllTopics() string {
	return "cellfleet/#"
}

// EndpointFromTopic extracts the endpoint segment from a device topic.
// Returns an empty string if the topic does not follow the
// cellfleet/{category}/{endpoint} scheme.
func EndpointFromTopic(topic string) string {
	parts := strings.SplitN(topic, "/", 3)
	if len(parts) != 3 || parts[0] != TopicPrefixDevice || parts[2] == "" {
		return ""
	}
	return parts[2]
}
