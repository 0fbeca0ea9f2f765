package responder

import (
	"github.com/haukened/faultdns/internal/dns/domain"
)

// ExchangeRecorder stores the exchanges the responder answered.
type ExchangeRecorder interface {
	// Record stores ex and returns it with its sequence number assigned.
	Record(ex domain.Exchange) domain.Exchange
}
