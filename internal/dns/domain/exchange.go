package domain

import "time"

// Exchange records one request the server answered and what it answered with.
type Exchange struct {
	Seq        uint64
	Client     string
	RequestID  uint16
	ResponseID uint16
	Flags      ControlBits
	Mode       FaultMode
	At         time.Time
}
