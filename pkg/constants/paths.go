package constants

// HTTP paths shared between router and health checks.
const (
	PathHealth = "/health"
	PathReady  = "/ready"
)

// Well-known MQTT topics relative to the configured base topic.
const (
	TopicDevices        = "bridge/devices"
	TopicDevicesRequest = "bridge/request/devices"
)
