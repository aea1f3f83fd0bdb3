package registry

// Service is a long-running component managed by the service registry.
// Start must not block; Stop waits for the component to wind down.
type Service interface {
	Start() error
	Stop() error
}
