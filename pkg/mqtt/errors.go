package mqtt

import (
	"errors"
	"fmt"
)

// ErrTimeout is wrapped by errors caused by a bounded wait running out.
var ErrTimeout = errors.New("mqtt: operation timed out")

// ConnectError reports a failed handshake. It never carries a live connection.
type ConnectError struct {
	Endpoint string
	Reason   string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s: %s", e.Endpoint, e.Reason)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
