package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/haukened/faultdns/internal/dns/common/log"
	"github.com/haukened/faultdns/internal/dns/domain"
)

// UDPTransport serves fault responses over a single UDP socket.
// Datagrams are handled strictly one at a time, in arrival order.
type UDPTransport struct {
	addr   string
	conn   *net.UDPConn
	logger log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewUDPTransport creates a new UDP transport for addr (host:port).
func NewUDPTransport(addr string, logger log.Logger) *UDPTransport {
	return &UDPTransport{
		addr:   addr,
		logger: logger,
	}
}

// Start binds the UDP socket and starts the serve loop. Cancelling ctx has the
// same effect as calling Stop.
func (t *UDPTransport) Start(ctx context.Context, handler DatagramResponder) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("UDP transport already running")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", t.addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to bind UDP socket on %s: %w", t.addr, err)
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	t.conn = conn
	t.stopCh = stopCh
	t.doneCh = doneCh
	t.running = true

	t.logger.Info(map[string]any{
		"transport": "udp",
		"address":   conn.LocalAddr().String(),
	}, "DNS transport started")

	go t.serve(ctx, conn, handler, stopCh, doneCh)

	go func() {
		select {
		case <-ctx.Done():
			t.logger.Debug(nil, "UDP transport stopping due to context cancellation")
			_ = t.Stop()
		case <-stopCh:
		}
	}()

	return nil
}

// Stop closes the socket and waits for the serve loop to return. Concurrent
// callers all wait for the same exit; calling Stop on a transport that was
// never started is a no-op.
func (t *UDPTransport) Stop() error {
	t.mu.Lock()
	if !t.running {
		done := t.doneCh
		t.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	}
	t.running = false
	close(t.stopCh)

	var closeErr error
	if t.conn != nil {
		closeErr = t.conn.Close()
		if closeErr != nil {
			t.logger.Warn(map[string]any{
				"error": closeErr.Error(),
			}, "Error closing UDP connection")
		}
	}
	done := t.doneCh
	t.mu.Unlock()

	// serve never takes t.mu
	if done != nil {
		<-done
	}

	t.logger.Info(map[string]any{
		"transport": "udp",
		"address":   t.addr,
	}, "DNS transport stopped")

	return closeErr
}

// Address returns the bound local address while running, the configured address otherwise.
func (t *UDPTransport) Address() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running && t.conn != nil {
		return t.conn.LocalAddr().String()
	}
	return t.addr
}

// Running reports whether the socket is bound and being served.
func (t *UDPTransport) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// serve reads datagrams until the socket is closed.
func (t *UDPTransport) serve(ctx context.Context, conn *net.UDPConn, handler DatagramResponder, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	buffer := make([]byte, domain.MaxDatagramSize)
	for {
		n, clientAddr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			select {
			case <-stopCh:
				t.logger.Debug(nil, "UDP transport stopping due to stop signal")
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				t.logger.Warn(map[string]any{
					"error": err.Error(),
				}, "UDP socket closed unexpectedly")
				return
			}
			t.logger.Warn(map[string]any{
				"error": err.Error(),
			}, "Failed to read UDP packet")
			continue
		}

		t.handlePacket(ctx, conn, buffer[:n], clientAddr, handler)
	}
}

// handlePacket answers one datagram. The handler runs synchronously, so data
// may alias the read buffer.
func (t *UDPTransport) handlePacket(ctx context.Context, conn *net.UDPConn, data []byte, clientAddr *net.UDPAddr, handler DatagramResponder) {
	t.logger.Debug(map[string]any{
		"client": clientAddr.String(),
		"size":   len(data),
		"raw":    fmt.Sprintf("%x", data),
	}, "Received raw DNS request data")

	reply, err := handler.HandleDatagram(ctx, data, clientAddr)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedRequest) {
			t.logger.Error(map[string]any{
				"client": clientAddr.String(),
				"size":   len(data),
				"error":  err.Error(),
			}, "Dropped malformed DNS request")
			return
		}
		t.logger.Error(map[string]any{
			"client": clientAddr.String(),
			"error":  err.Error(),
		}, "Failed to handle DNS request")
		return
	}

	if _, err := conn.WriteToUDP(reply.Payload, clientAddr); err != nil {
		t.logger.Error(map[string]any{
			"client":     clientAddr.String(),
			"request_id": reply.Exchange.RequestID,
			"error":      err.Error(),
		}, "Failed to send fault response")
		return
	}

	t.logger.Info(map[string]any{
		"mode":        reply.Exchange.Mode.String(),
		"client":      clientAddr.String(),
		"request_id":  reply.Exchange.RequestID,
		"response_id": reply.Exchange.ResponseID,
	}, "Sent fault response")
}
