package domain

import (
	"fmt"

	"github.com/miekg/dns"
)

// RCode represents the 4-bit DNS response code carried in the low bits of the header flags.
type RCode uint8

// Response codes a fault mode can inject. Values follow RFC 1035 §4.1.1.
const (
	RCodeNoError        RCode = dns.RcodeSuccess
	RCodeFormatError    RCode = dns.RcodeFormatError
	RCodeServerFailure  RCode = dns.RcodeServerFailure
	RCodeNameError      RCode = dns.RcodeNameError
	RCodeNotImplemented RCode = dns.RcodeNotImplemented
	RCodeRefused        RCode = dns.RcodeRefused
)

// IsValid returns true if the RCode fits in the 4-bit header field.
func (r RCode) IsValid() bool {
	return r <= 0x0F
}

// String returns the textual representation of the RCode.
func (r RCode) String() string {
	if s, ok := dns.RcodeToString[int(r)]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%d)", r)
}
