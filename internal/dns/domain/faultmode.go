package domain

// FaultMode selects which protocol invariant the server violates in its responses.
type FaultMode uint8

const (
	ModeGood FaultMode = iota
	ModeBadID
	ModeBadQR
	ModeNoRA
	ModeTruncated
	ModeRCode1
	ModeRCode2
	ModeRCode3
	ModeRCode4
	ModeRCode5

	modeCount
)

// BitTransform maps the baseline flags to the flags actually sent.
type BitTransform func(ControlBits) ControlBits

// fault is one row of the registry.
type fault struct {
	name        string
	description string
	transform   BitTransform
	corruptID   bool
}

func identity(c ControlBits) ControlBits { return c }

func clearFlag(f ControlBits) BitTransform {
	return func(c ControlBits) ControlBits { return c.Clear(f) }
}

func setFlag(f ControlBits) BitTransform {
	return func(c ControlBits) ControlBits { return c.Set(f) }
}

func withRCode(r RCode) BitTransform {
	return func(c ControlBits) ControlBits { return c.WithRCode(r) }
}

// registry is indexed by FaultMode and must cover every mode below modeCount.
var registry = [modeCount]fault{
	ModeGood:      {"good", "well-formed NOERROR response", identity, false},
	ModeBadID:     {"bad_id", "transaction ID does not match the request", identity, true},
	ModeBadQR:     {"bad_qr", "QR bit cleared, response looks like a query", clearFlag(FlagQR), false},
	ModeNoRA:      {"no_ra", "RA bit cleared, recursion not available", clearFlag(FlagRA), false},
	ModeTruncated: {"truncated", "TC bit set, response truncated", setFlag(FlagTC), false},
	ModeRCode1:    {"rcode1", "RCODE 1, format error", withRCode(RCodeFormatError), false},
	ModeRCode2:    {"rcode2", "RCODE 2, server failure", withRCode(RCodeServerFailure), false},
	ModeRCode3:    {"rcode3", "RCODE 3, name error", withRCode(RCodeNameError), false},
	ModeRCode4:    {"rcode4", "RCODE 4, not implemented", withRCode(RCodeNotImplemented), false},
	ModeRCode5:    {"rcode5", "RCODE 5, refused", withRCode(RCodeRefused), false},
}

var modesByName = func() map[string]FaultMode {
	m := make(map[string]FaultMode, len(registry))
	for i, f := range registry {
		m[f.name] = FaultMode(i)
	}
	return m
}()

// lookup returns the registry row for m, falling back to ModeGood for values
// outside the enumeration.
func (m FaultMode) lookup() fault {
	if m >= modeCount {
		return registry[ModeGood]
	}
	return registry[m]
}

// ParseFaultMode resolves a mode name. Unknown names resolve to ModeGood with ok=false;
// callers may log that but must not treat it as an error.
func ParseFaultMode(name string) (FaultMode, bool) {
	m, ok := modesByName[name]
	if !ok {
		return ModeGood, false
	}
	return m, true
}

// Modes returns every known mode in registry order.
func Modes() []FaultMode {
	out := make([]FaultMode, modeCount)
	for i := range out {
		out[i] = FaultMode(i)
	}
	return out
}

// String returns the mode's canonical name.
func (m FaultMode) String() string {
	return m.lookup().name
}

// Description returns a short human readable summary of the injected fault.
func (m FaultMode) Description() string {
	return m.lookup().description
}

// Transform returns the mode's flag transform and whether the transaction ID is corrupted.
func (m FaultMode) Transform() (BitTransform, bool) {
	f := m.lookup()
	return f.transform, f.corruptID
}

// CorruptID returns the ID a bad_id response carries: the request ID plus one, wrapping at 2^16.
func CorruptID(id uint16) uint16 {
	return id + 1
}
