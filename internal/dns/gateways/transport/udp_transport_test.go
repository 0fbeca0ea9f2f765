package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/haukened/faultdns/internal/dns/domain"
	"github.com/haukened/faultdns/internal/dns/services/responder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockDatagramResponder implements DatagramResponder for testing
type MockDatagramResponder struct {
	mock.Mock
}

func (m *MockDatagramResponder) HandleDatagram(ctx context.Context, data []byte, clientAddr net.Addr) (responder.Reply, error) {
	args := m.Called(ctx, data, clientAddr)
	return args.Get(0).(responder.Reply), args.Error(1)
}

// MockLogger implements log.Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Info(fields map[string]any, msg string)  { m.Called(fields, msg) }
func (m *MockLogger) Error(fields map[string]any, msg string) { m.Called(fields, msg) }
func (m *MockLogger) Debug(fields map[string]any, msg string) { m.Called(fields, msg) }
func (m *MockLogger) Warn(fields map[string]any, msg string)  { m.Called(fields, msg) }
func (m *MockLogger) Panic(fields map[string]any, msg string) { m.Called(fields, msg) }
func (m *MockLogger) Fatal(fields map[string]any, msg string) { m.Called(fields, msg) }

// testLogger provides a no-op logger for tests that don't need to verify logging
type testLogger struct{}

func (t *testLogger) Info(map[string]any, string)  {}
func (t *testLogger) Error(map[string]any, string) {}
func (t *testLogger) Debug(map[string]any, string) {}
func (t *testLogger) Warn(map[string]any, string)  {}
func (t *testLogger) Panic(map[string]any, string) {}
func (t *testLogger) Fatal(map[string]any, string) {}

// startTransport starts a transport on an OS-chosen loopback port and
// registers Stop as cleanup.
func startTransport(t *testing.T, handler DatagramResponder, logger *MockLogger) *UDPTransport {
	t.Helper()
	var transport *UDPTransport
	if logger != nil {
		transport = NewUDPTransport("127.0.0.1:0", logger)
	} else {
		transport = NewUDPTransport("127.0.0.1:0", &testLogger{})
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, transport.Start(ctx, handler))
	t.Cleanup(func() { _ = transport.Stop() })
	return transport
}

func dial(t *testing.T, transport *UDPTransport) *net.UDPConn {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", transport.Address())
	require.NoError(t, err)
	conn, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func exchange(t *testing.T, conn *net.UDPConn, query []byte) []byte {
	t.Helper()
	_, err := conn.Write(query)
	require.NoError(t, err)
	return read(t, conn, 2*time.Second)
}

func read(t *testing.T, conn *net.UDPConn, timeout time.Duration) []byte {
	t.Helper()
	buf := make([]byte, domain.MaxDatagramSize)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return buf[:n]
}

func expectNoDatagram(t *testing.T, conn *net.UDPConn, timeout time.Duration) {
	t.Helper()
	buf := make([]byte, domain.MaxDatagramSize)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, err := conn.Read(buf)
	require.Error(t, err)
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
}

func realResponder(mode domain.FaultMode) *responder.Responder {
	return responder.New(responder.Options{Mode: mode})
}

func TestNewUDPTransport(t *testing.T) {
	logger := &testLogger{}
	addr := "127.0.0.1:5300"

	transport := NewUDPTransport(addr, logger)

	assert.NotNil(t, transport)
	assert.Equal(t, addr, transport.addr)
	assert.Equal(t, logger, transport.logger)
	assert.False(t, transport.running)
	assert.Equal(t, addr, transport.Address())
}

func TestUDPTransport_StartStop(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid address",
			addr: "127.0.0.1:0", // Let OS choose port
		},
		{
			name:    "invalid address format",
			addr:    "invalid-address",
			wantErr: true,
			errMsg:  "failed to resolve UDP address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := NewUDPTransport(tt.addr, &testLogger{})
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := transport.Start(ctx, &MockDatagramResponder{})

			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.False(t, transport.running)
				return
			}

			require.NoError(t, err)
			assert.True(t, transport.Running())
			assert.NotEqual(t, "127.0.0.1:0", transport.Address(), "bound port should be reported")

			err = transport.Start(ctx, &MockDatagramResponder{})
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "already running")

			assert.NoError(t, transport.Stop())
			assert.False(t, transport.running)
			assert.Equal(t, tt.addr, transport.Address())

			// double stop is safe
			assert.NoError(t, transport.Stop())
		})
	}
}

func TestUDPTransport_BindFailure(t *testing.T) {
	occupied, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer func() { require.NoError(t, occupied.Close()) }()

	transport := NewUDPTransport(occupied.LocalAddr().String(), &testLogger{})
	err = transport.Start(context.Background(), &MockDatagramResponder{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to bind UDP socket")
	assert.False(t, transport.running)
	assert.NoError(t, transport.Stop())
}

func TestUDPTransport_RestartAfterStop(t *testing.T) {
	transport := NewUDPTransport("127.0.0.1:0", &testLogger{})
	handler := realResponder(domain.ModeGood)

	for i := 0; i < 2; i++ {
		require.NoError(t, transport.Start(context.Background(), handler))
		conn := dial(t, transport)
		got := exchange(t, conn, []byte{0x00, byte(i)})
		assert.Equal(t, responder.Build(uint16(i), domain.ModeGood), got)
		require.NoError(t, transport.Stop())
	}
}

func TestUDPTransport_RequestHandling(t *testing.T) {
	handler := &MockDatagramResponder{}
	mockLogger := &MockLogger{}

	query := []byte{0x12, 0x34, 0x01, 0x00}
	reply := responder.Reply{
		Payload: responder.Build(0x1234, domain.ModeRCode2),
		Exchange: domain.Exchange{
			RequestID:  0x1234,
			ResponseID: 0x1234,
			Mode:       domain.ModeRCode2,
		},
	}
	handler.On("HandleDatagram", mock.Anything, query, mock.AnythingOfType("*net.UDPAddr")).Return(reply, nil).Once()

	mockLogger.On("Info", mock.MatchedBy(func(fields map[string]any) bool {
		return fields["mode"] == "rcode2" && fields["client"] != nil && fields["request_id"] == uint16(0x1234)
	}), "Sent fault response").Once()
	mockLogger.On("Info", mock.Anything, mock.Anything).Maybe()
	mockLogger.On("Debug", mock.Anything, mock.Anything).Maybe()

	transport := startTransport(t, handler, mockLogger)
	conn := dial(t, transport)

	got := exchange(t, conn, query)
	assert.Equal(t, reply.Payload, got)

	require.NoError(t, transport.Stop())
	handler.AssertExpectations(t)
	mockLogger.AssertExpectations(t)
}

func TestUDPTransport_MalformedRequestIsDropped(t *testing.T) {
	mockLogger := &MockLogger{}
	mockLogger.On("Error", mock.MatchedBy(func(fields map[string]any) bool {
		return fields["size"] == 1 && fields["error"] != nil
	}), "Dropped malformed DNS request").Once()
	mockLogger.On("Info", mock.Anything, mock.Anything).Maybe()
	mockLogger.On("Debug", mock.Anything, mock.Anything).Maybe()

	transport := startTransport(t, realResponder(domain.ModeGood), mockLogger)
	conn := dial(t, transport)

	_, err := conn.Write([]byte{0x42})
	require.NoError(t, err)
	expectNoDatagram(t, conn, 200*time.Millisecond)

	// the server keeps serving after the malformed datagram
	got := exchange(t, conn, []byte{0x12, 0x34})
	assert.Equal(t, []byte{0x12, 0x34, 0x81, 0x80, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, got)

	require.NoError(t, transport.Stop())
	mockLogger.AssertExpectations(t)
}

func TestUDPTransport_HandlerError(t *testing.T) {
	handler := &MockDatagramResponder{}
	handler.On("HandleDatagram", mock.Anything, []byte{0x00, 0x01}, mock.Anything).Return(responder.Reply{}, assert.AnError).Once()
	handler.On("HandleDatagram", mock.Anything, []byte{0x00, 0x02}, mock.Anything).
		Return(responder.Reply{Payload: responder.Build(2, domain.ModeGood)}, nil).Once()

	mockLogger := &MockLogger{}
	mockLogger.On("Error", mock.MatchedBy(func(fields map[string]any) bool {
		return fields["error"] == assert.AnError.Error()
	}), "Failed to handle DNS request").Once()
	mockLogger.On("Info", mock.Anything, mock.Anything).Maybe()
	mockLogger.On("Debug", mock.Anything, mock.Anything).Maybe()

	transport := startTransport(t, handler, mockLogger)
	conn := dial(t, transport)

	_, err := conn.Write([]byte{0x00, 0x01})
	require.NoError(t, err)
	assert.Equal(t, responder.Build(2, domain.ModeGood), exchange(t, conn, []byte{0x00, 0x02}))

	require.NoError(t, transport.Stop())
	handler.AssertExpectations(t)
	mockLogger.AssertExpectations(t)
}

func TestUDPTransport_SequentialRequests(t *testing.T) {
	transport := startTransport(t, realResponder(domain.ModeBadID), nil)
	conn := dial(t, transport)

	ids := []uint16{0x0001, 0x7FFF, 0xFFFF, 0xABCD, 0x0000}
	for _, id := range ids {
		_, err := conn.Write([]byte{byte(id >> 8), byte(id), 0x01, 0x00})
		require.NoError(t, err)
	}
	for _, id := range ids {
		h, err := domain.ParseHeader(read(t, conn, 2*time.Second))
		require.NoError(t, err)
		assert.Equal(t, id+1, h.ID)
	}
}

func TestUDPTransport_OversizedDatagramIsCapped(t *testing.T) {
	handler := &MockDatagramResponder{}
	handler.On("HandleDatagram", mock.Anything, mock.MatchedBy(func(data []byte) bool {
		return len(data) == domain.MaxDatagramSize
	}), mock.Anything).Return(responder.Reply{Payload: responder.Build(0x0102, domain.ModeGood)}, nil).Once()

	transport := startTransport(t, handler, nil)
	conn := dial(t, transport)

	query := make([]byte, 1024)
	query[0], query[1] = 0x01, 0x02
	assert.Equal(t, responder.Build(0x0102, domain.ModeGood), exchange(t, conn, query))

	require.NoError(t, transport.Stop())
	handler.AssertExpectations(t)
}

func TestUDPTransport_ContextCancellation(t *testing.T) {
	transport := NewUDPTransport("127.0.0.1:0", &testLogger{})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, transport.Start(ctx, &MockDatagramResponder{}))
	cancel()

	require.Eventually(t, func() bool {
		return !transport.Running()
	}, 2*time.Second, 10*time.Millisecond)

	// the serve loop has exited, so a second stop is a no-op
	assert.NoError(t, transport.Stop())
}

func TestUDPTransport_StopWaitsForServeLoop(t *testing.T) {
	transport := NewUDPTransport("127.0.0.1:0", &testLogger{})
	require.NoError(t, transport.Start(context.Background(), &MockDatagramResponder{}))

	done := transport.doneCh
	require.NoError(t, transport.Stop())

	select {
	case <-done:
	default:
		t.Fatal("serve loop still running after Stop returned")
	}
}

func TestUDPTransport_ConcurrentStopWaitsForInFlightRequest(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	handler := &MockDatagramResponder{}
	handler.On("HandleDatagram", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(responder.Reply{Payload: responder.Build(0x0102, domain.ModeGood)}, nil).
		Once()

	transport := NewUDPTransport("127.0.0.1:0", &testLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, transport.Start(ctx, handler))

	conn := dial(t, transport)
	_, err := conn.Write([]byte{0x01, 0x02})
	require.NoError(t, err)

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
	}

	// the context watcher takes the first Stop and blocks on the handler
	cancel()
	require.Eventually(t, func() bool {
		return !transport.Running()
	}, 2*time.Second, 10*time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- transport.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a request was still being handled")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the handler finished")
	}

	select {
	case <-transport.doneCh:
	default:
		t.Fatal("serve loop still running after Stop returned")
	}
	handler.AssertExpectations(t)
}

func TestUDPTransport_StopBeforeStart(t *testing.T) {
	transport := NewUDPTransport("127.0.0.1:0", &testLogger{})
	assert.NoError(t, transport.Stop())
}

func TestUDPTransport_SocketClosedUnderneath(t *testing.T) {
	mockLogger := &MockLogger{}
	mockLogger.On("Warn", mock.Anything, "UDP socket closed unexpectedly").Once()
	mockLogger.On("Warn", mock.Anything, "Error closing UDP connection").Once()
	mockLogger.On("Info", mock.Anything, mock.Anything).Maybe()
	mockLogger.On("Debug", mock.Anything, mock.Anything).Maybe()

	transport := NewUDPTransport("127.0.0.1:0", mockLogger)
	require.NoError(t, transport.Start(context.Background(), &MockDatagramResponder{}))

	require.NoError(t, transport.conn.Close())
	select {
	case <-transport.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("serve loop did not exit after socket close")
	}

	// closing an already closed socket reports the error
	assert.Error(t, transport.Stop())
	mockLogger.AssertExpectations(t)
}

func TestUDPTransport_InterfaceCompliance(t *testing.T) {
	var _ ServerTransport = NewUDPTransport("127.0.0.1:0", &testLogger{})
}
