package association

import "time"

// Config is the configuration surface enumerated for this module: AE
// titles, PDU sizing, timeouts, and presentation-context negotiation
// policy. Every duration-like knob is expressed as a time.Duration rather
// than raw seconds, the one place this module departs from the spec's
// literal units, because idiomatic Go timers take a Duration.
type Config struct {
	CallingAE string
	CalledAE  string

	// MaxPduSize is this side's advertised Maximum Length Received. 0
	// selects MaxPduSize default (pdu.MaxPDULength).
	MaxPduSize uint32

	// PreferredTransferSyntax, when non-empty, is ensured to appear
	// exactly once at position 0 of every proposed TS list (Design Notes,
	// resolving the OnConnected Contains-guard ambiguity).
	PreferredTransferSyntax string

	// OfferExplicitSyntax appends ExplicitVRLittleEndian to every
	// proposed TS list ahead of the ImplicitVRLittleEndian fallback.
	OfferExplicitSyntax bool

	// SerializedPresentationContexts, when true, proposes one PCID per
	// (abstract syntax, transfer syntax) pair instead of coalescing all
	// transfer syntaxes for an abstract syntax under one PCID.
	SerializedPresentationContexts bool

	ConnectTimeout time.Duration
	SocketTimeout  time.Duration
	DimseTimeout   time.Duration

	// ThrottleSpeed caps the send path in bytes/sec; 0 disables throttling.
	ThrottleSpeed int64

	// UseFileBuffer controls whether this side spills inbound datasets to
	// a temp file rather than buffering them in memory.
	UseFileBuffer bool
	SpillDir      string
}

// DefaultConfig returns the spec's default timeout values.
func DefaultConfig() Config {
	return Config{
		MaxPduSize:     0,
		ConnectTimeout: 10 * time.Second,
		SocketTimeout:  30 * time.Second,
		DimseTimeout:   180 * time.Second,
	}
}

const (
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
)
