package mqtt

import (
	"fmt"
	"strings"
)

const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
)

// Endpoint builds a broker URL. The websocket transport uses wsPort and the
// conventional /mqtt path; anything else is treated as plain TCP.
func Endpoint(transport, host string, port, wsPort int) string {
	switch strings.ToLower(transport) {
	case TransportWebSocket, "websocket":
		return fmt.Sprintf("ws://%s:%d/mqtt", host, wsPort)
	default:
		return fmt.Sprintf("tcp://%s:%d", host, port)
	}
}
