package types

// NATS subject layout for the event pipeline. Protocol adapters publish
// northbound to the sensor subject for their protocol; clients (or the
// gateway on their behalf) publish southbound to the client subject; the
// pipeline announces fully processed events on the completed subject for
// the event's attribute.
const (
	// SubjectSensorPrefix + "." + protocolName carries northbound
	// attribute events from protocol adapters.
	SubjectSensorPrefix = "assets.events.sensor"

	// SubjectClient carries southbound attribute events from clients.
	SubjectClient = "assets.events.client"

	// SubjectCompletedPrefix + "." + assetID + "." + attributeName
	// announces events that passed the full consumer chain.
	SubjectCompletedPrefix = "assets.events.completed"
)

// SensorSubject returns the northbound ingress subject for a protocol.
func SensorSubject(protocolName string) string {
	return SubjectSensorPrefix + "." + protocolName
}

// SensorWildcard subscribes to all protocol ingress subjects.
func SensorWildcard() string {
	return SubjectSensorPrefix + ".*"
}

// CompletedSubject returns the completion subject for one attribute.
func CompletedSubject(assetID, attributeName string) string {
	return SubjectCompletedPrefix + "." + assetID + "." + attributeName
}

// CompletedWildcard subscribes to all completion subjects.
func CompletedWildcard() string {
	return SubjectCompletedPrefix + ".>"
}
