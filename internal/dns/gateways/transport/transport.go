// Package transport owns the network side of the fault server: it binds the
// socket, reads request datagrams, hands them to a responder and writes the
// faulted header back to whoever sent the request.
package transport

import (
	"context"
	"net"

	"github.com/haukened/faultdns/internal/dns/services/responder"
)

// ServerTransport is a start/stop lifecycle around one listening socket.
type ServerTransport interface {
	// Start binds the socket and begins serving in the background. A bind
	// failure is returned directly and nothing is left running.
	Start(ctx context.Context, handler DatagramResponder) error

	// Stop closes the socket and returns once the serve loop has exited.
	Stop() error

	// Address returns the bound address while running, otherwise the configured one.
	Address() string
}

// DatagramResponder turns one request datagram into the bytes to send back.
type DatagramResponder interface {
	HandleDatagram(ctx context.Context, data []byte, clientAddr net.Addr) (responder.Reply, error)
}

var _ DatagramResponder = (*responder.Responder)(nil)
