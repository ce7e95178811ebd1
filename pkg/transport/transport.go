// ABOUTME: Best-effort publish/subscribe transport contracts
// ABOUTME: Implementations drop messages rather than block either side
package transport

import "errors"

// Transport errors
var (
	ErrConnect = errors.New("transport connect failed")
	ErrClosed  = errors.New("transport closed")
)

// Publisher sends whole messages to every connected subscriber.
// Publish must never block on a slow or absent subscriber.
type Publisher interface {
	Publish(buf []byte) error
	Close() error
}

// Subscriber receives whole messages. TryReceive returns immediately,
// reporting false when nothing is waiting.
type Subscriber interface {
	TryReceive() ([]byte, bool)
	Close() error
}

// Stats counts traffic through one endpoint
type Stats struct {
	Sent     uint64
	Received uint64
	Dropped  uint64
}

// Names of the available transports
const (
	WebSocket = "ws"
	NATS      = "nats"
	Memory    = "memory"
)

// Valid reports whether name is a known transport
func Valid(name string) bool {
	switch name {
	case WebSocket, NATS, Memory:
		return true
	}
	return false
}
