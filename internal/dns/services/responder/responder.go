// Package responder builds the deliberately faulty DNS headers the server sends back.
package responder

import (
	"context"
	"net"

	"github.com/haukened/faultdns/internal/dns/common/clock"
	"github.com/haukened/faultdns/internal/dns/common/log"
	"github.com/haukened/faultdns/internal/dns/domain"
)

// Build returns the 12-byte response header for a request carrying id, with
// the fault of mode applied to the baseline flags. It is pure and never fails.
func Build(id uint16, mode domain.FaultMode) []byte {
	return buildHeader(id, mode).Marshal()
}

func buildHeader(id uint16, mode domain.FaultMode) domain.Header {
	transform, corruptID := mode.Transform()
	if corruptID {
		id = domain.CorruptID(id)
	}
	return domain.NewResponseHeader(id, transform(domain.Baseline))
}

// Reply is what the responder hands back to the transport for one datagram.
type Reply struct {
	Payload  []byte
	Exchange domain.Exchange
}

// Responder answers every datagram with a header faulted by one fixed mode.
type Responder struct {
	clock   clock.Clock
	history ExchangeRecorder
	logger  log.Logger
	mode    domain.FaultMode
}

// Options configures a Responder. Clock and Logger default when nil.
type Options struct {
	Clock   clock.Clock
	History ExchangeRecorder // optional
	Logger  log.Logger
	Mode    domain.FaultMode
}

// New returns a Responder. The mode is fixed for the responder's lifetime.
func New(opts Options) *Responder {
	r := &Responder{
		clock:   opts.Clock,
		history: opts.History,
		logger:  opts.Logger,
		mode:    opts.Mode,
	}
	if r.clock == nil {
		r.clock = clock.RealClock{}
	}
	if r.logger == nil {
		r.logger = log.NewNoopLogger()
	}
	return r
}

// Mode returns the fault mode this responder injects.
func (r *Responder) Mode() domain.FaultMode {
	return r.mode
}

// HandleDatagram builds the reply for one request datagram. Datagrams shorter
// than two bytes yield domain.ErrMalformedRequest and no reply.
func (r *Responder) HandleDatagram(_ context.Context, data []byte, clientAddr net.Addr) (Reply, error) {
	id, err := domain.RequestID(data)
	if err != nil {
		return Reply{}, err
	}

	header := buildHeader(id, r.mode)
	ex := domain.Exchange{
		Client:     addrString(clientAddr),
		RequestID:  id,
		ResponseID: header.ID,
		Flags:      header.Flags,
		Mode:       r.mode,
		At:         r.clock.Now(),
	}
	if r.history != nil {
		ex = r.history.Record(ex)
	}

	r.logger.Debug(map[string]any{
		"client":      ex.Client,
		"request_id":  id,
		"response_id": header.ID,
		"flags":       header.Flags.String(),
	}, "Built fault response")

	return Reply{Payload: header.Marshal(), Exchange: ex}, nil
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
