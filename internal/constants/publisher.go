package constants

// Publisher states.
const (
	PublisherStateIdle         = "idle"
	PublisherStateConnecting   = "connecting"
	PublisherStateConnected    = "connected"
	PublisherStateDisconnected = "disconnected"
)

// Publisher events.
const (
	PublisherEventStart     = "start"
	PublisherEventConnected = "connected"
	PublisherEventFail      = "fail"
	PublisherEventLose      = "lose"
	PublisherEventRetry     = "retry"
)
