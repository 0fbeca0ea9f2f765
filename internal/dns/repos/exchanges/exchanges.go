// Package exchanges keeps a bounded, in-memory history of the responses the server sent.
package exchanges

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/haukened/faultdns/internal/dns/domain"
	"github.com/haukened/faultdns/internal/dns/services/responder"
)

// History is an LRU-bounded exchange log. Once full, the oldest exchanges are evicted first.
type History struct {
	lru   *lru.Cache[uint64, domain.Exchange]
	total atomic.Uint64
}

// New returns a History holding at most size exchanges.
func New(size int) (*History, error) {
	cache, err := lru.New[uint64, domain.Exchange](size)
	if err != nil {
		return nil, err
	}
	return &History{lru: cache}, nil
}

// Record assigns the next sequence number to ex and stores it.
func (h *History) Record(ex domain.Exchange) domain.Exchange {
	ex.Seq = h.total.Add(1)
	h.lru.Add(ex.Seq, ex)
	return ex
}

// Recent returns the retained exchanges, oldest first.
func (h *History) Recent() []domain.Exchange {
	return h.lru.Values()
}

// Last returns the most recently recorded exchange still retained.
func (h *History) Last() (domain.Exchange, bool) {
	return h.lru.Peek(h.total.Load())
}

// Len returns how many exchanges are retained.
func (h *History) Len() int {
	return h.lru.Len()
}

// Total returns how many exchanges were ever recorded, including evicted ones.
func (h *History) Total() uint64 {
	return h.total.Load()
}

var _ responder.ExchangeRecorder = (*History)(nil)
