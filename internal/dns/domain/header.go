package domain

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed length of a DNS message header in bytes (RFC 1035 §4.1.1).
const HeaderSize = 12

// MaxDatagramSize caps how much of an incoming UDP datagram is read.
const MaxDatagramSize = 512

// ErrMalformedRequest is returned when a datagram is too short to carry a transaction ID.
var ErrMalformedRequest = errors.New("malformed request: datagram shorter than 2 bytes")

// ControlBits is the 16-bit flags word of a DNS header.
//
//	 15 | 14..11 | 10 |  9 |  8 |  7 | 6..4 | 3..0
//	 QR | Opcode | AA | TC | RD | RA |  Z   | RCODE
type ControlBits uint16

const (
	FlagQR ControlBits = 1 << 15
	FlagAA ControlBits = 1 << 10
	FlagTC ControlBits = 1 << 9
	FlagRD ControlBits = 1 << 8
	FlagRA ControlBits = 1 << 7

	opcodeMask ControlBits = 0x7800
	zMask      ControlBits = 0x0070
	rcodeMask  ControlBits = 0x000F
)

// Baseline is a well-formed successful response: QR=1, RD=1, RA=1, RCODE=NOERROR.
const Baseline = FlagQR | FlagRD | FlagRA

// Has reports whether every bit in flag is set.
func (c ControlBits) Has(flag ControlBits) bool {
	return c&flag == flag
}

// Set returns c with flag set.
func (c ControlBits) Set(flag ControlBits) ControlBits {
	return c | flag
}

// Clear returns c with flag cleared.
func (c ControlBits) Clear(flag ControlBits) ControlBits {
	return c &^ flag
}

// WithRCode returns c with the RCODE field replaced. Only the low 4 bits of r are used.
func (c ControlBits) WithRCode(r RCode) ControlBits {
	return c&^rcodeMask | ControlBits(r)&rcodeMask
}

// RCode extracts the RCODE field.
func (c ControlBits) RCode() RCode {
	return RCode(c & rcodeMask)
}

// Opcode extracts the 4-bit opcode field.
func (c ControlBits) Opcode() uint8 {
	return uint8((c & opcodeMask) >> 11)
}

// Z extracts the 3 reserved bits.
func (c ControlBits) Z() uint8 {
	return uint8((c & zMask) >> 4)
}

// String renders the flags the way dig prints them, plus the rcode name.
func (c ControlBits) String() string {
	s := fmt.Sprintf("0x%04X", uint16(c))
	for _, f := range []struct {
		flag ControlBits
		name string
	}{
		{FlagQR, "qr"}, {FlagAA, "aa"}, {FlagTC, "tc"}, {FlagRD, "rd"}, {FlagRA, "ra"},
	} {
		if c.Has(f.flag) {
			s += " " + f.name
		}
	}
	return s + " " + c.RCode().String()
}

// Header is the fixed 12-byte DNS message header.
type Header struct {
	ID      uint16
	Flags   ControlBits
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// NewResponseHeader returns a header with the given ID and flags and the fixed
// section counts this server always advertises: one question, nothing else.
func NewResponseHeader(id uint16, flags ControlBits) Header {
	return Header{
		ID:      id,
		Flags:   flags,
		QDCount: 1,
	}
}

// Marshal serializes the header in network byte order.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.ID)
	binary.BigEndian.PutUint16(buf[2:4], uint16(h.Flags))
	binary.BigEndian.PutUint16(buf[4:6], h.QDCount)
	binary.BigEndian.PutUint16(buf[6:8], h.ANCount)
	binary.BigEndian.PutUint16(buf[8:10], h.NSCount)
	binary.BigEndian.PutUint16(buf[10:12], h.ARCount)
	return buf
}

// ParseHeader decodes the first 12 bytes of data into a Header.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("header too short: %d < %d", len(data), HeaderSize)
	}
	return Header{
		ID:      binary.BigEndian.Uint16(data[0:2]),
		Flags:   ControlBits(binary.BigEndian.Uint16(data[2:4])),
		QDCount: binary.BigEndian.Uint16(data[4:6]),
		ANCount: binary.BigEndian.Uint16(data[6:8]),
		NSCount: binary.BigEndian.Uint16(data[8:10]),
		ARCount: binary.BigEndian.Uint16(data[10:12]),
	}, nil
}

// RequestID extracts the transaction ID from the first two bytes of a request.
// Everything after those two bytes is ignored.
func RequestID(data []byte) (uint16, error) {
	if len(data) < 2 {
		return 0, ErrMalformedRequest
	}
	return binary.BigEndian.Uint16(data[0:2]), nil
}
