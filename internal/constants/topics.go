package constants

const (
	// TopicDeviceLocation carries location reports from publishers to the ingestor.
	TopicDeviceLocation = "device/location"
	// TopicLocationUpdates is subscribed by publishers for server pushes. No payload contract yet.
	TopicLocationUpdates = "location/updates"
)
