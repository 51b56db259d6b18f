package transport

import "net"

// Pipe returns two Transports wired together with net.Pipe, one standing
// in for the host side and one for a mock device, so tests can drive both
// ends of the wire protocol without any real USB or TCP endpoint.
func Pipe() (host Transport, device Transport) {
	a, b := net.Pipe()
	return NewTCPTransport(a), NewTCPTransport(b)
}
