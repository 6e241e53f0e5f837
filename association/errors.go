// Package association implements the DICOM Upper Layer association state
// machine: negotiating an Association over a Transport Session, routing
// DIMSE exchanges through a Dispatcher, and reporting terminal events to an
// injected Observer capability. It generalizes the teacher's channel-driven
// statemachine.go to the simplified six-state model this module targets,
// replacing its ad-hoc PDU_STATE_ACTION table with typed errors and an
// explicit state record instead of free-floating mutable flags.
package association

import "fmt"

// Kind distinguishes the error taxonomy this package reports, so callers
// can switch on category without string matching.
type Kind int

const (
	KindProtocolViolation Kind = iota
	KindNegotiationFailure
	KindNetworkError
	KindDimseTimeout
	KindCodecError
	KindNoAcceptedContext
	KindServiceStatus
)

func (k Kind) String() string {
	switch k {
	case KindProtocolViolation:
		return "ProtocolViolation"
	case KindNegotiationFailure:
		return "NegotiationFailure"
	case KindNetworkError:
		return "NetworkError"
	case KindDimseTimeout:
		return "DimseTimeout"
	case KindCodecError:
		return "CodecError"
	case KindNoAcceptedContext:
		return "NoAcceptedContext"
	case KindServiceStatus:
		return "ServiceStatus"
	default:
		return "UnknownError"
	}
}

// Error is the typed/wrapped error this package's transport, state machine
// and dispatcher return for protocol, network, Dimse-timeout and
// no-accepted-context failures (a rejection is a NegotiationFailureError). The
// pdu, dimse, codec and scu packages return plain wrapped errors instead.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func ProtocolViolation(msg string, err error) *Error   { return newErr(KindProtocolViolation, msg, err) }
func NetworkError(msg string, err error) *Error        { return newErr(KindNetworkError, msg, err) }
func DimseTimeoutError(msg string) *Error              { return newErr(KindDimseTimeout, msg, nil) }
func NoAcceptedContextError(msg string) *Error         { return newErr(KindNoAcceptedContext, msg, nil) }

// NegotiationFailureError carries the A-ASSOCIATE-RJ result/source/reason codes.
type NegotiationFailureError struct {
	Result byte
	Source byte
	Reason byte
}

func (e *NegotiationFailureError) Error() string {
	return fmt.Sprintf("NegotiationFailure: result=%d source=%d reason=%d", e.Result, e.Source, e.Reason)
}

// ServiceStatusError reports a non-success DIMSE Status from the peer.
type ServiceStatusError struct {
	Status       uint16
	ErrorComment string
}

func (e *ServiceStatusError) Error() string {
	return fmt.Sprintf("ServiceStatus: status=0x%04x comment=%q", e.Status, e.ErrorComment)
}
