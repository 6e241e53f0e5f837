package association

import (
	"fmt"

	"github.com/dicomdul/duldicom/netlog"
	"github.com/dicomdul/duldicom/pdu"
	"github.com/grailbio/go-dicom/dicomuid"
)

// State is one of the six states this module's simplified Association state
// machine moves through. The teacher's statemachine.go tracks the full
// 13-state/19-event PS3.8 9.2.3 table (AE-1..AE-8, AA-1..AA-8, ...); this
// module collapses the service-user side of that table down to the states
// that matter for a single in-flight association with no release-collision
// handling, per the simplified model this module targets.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitAC
	StateOpen
	StateAwaitRP
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitAC:
		return "AWAIT_AC"
	case StateOpen:
		return "OPEN"
	case StateAwaitRP:
		return "AWAIT_RP"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Observer receives Association lifecycle events. A nil Observer is
// replaced by NopObserver.
type Observer interface {
	OnStateChange(old, new State)
	OnAssociateAccepted(accepted []*PresentationContext)
	OnAssociateRejected(err *NegotiationFailureError)
	OnAbort(source pdu.AbortSource, reason pdu.AbortReason)
	OnClosed(err error)
}

type nopObserver struct{}

func (nopObserver) OnStateChange(State, State) {}
func (nopObserver) OnAssociateAccepted([]*PresentationContext) {}
func (nopObserver) OnAssociateRejected(*NegotiationFailureError) {}
func (nopObserver) OnAbort(pdu.AbortSource, pdu.AbortReason) {}
func (nopObserver) OnClosed(error) {}

// NopObserver returns an Observer whose methods do nothing.
func NopObserver() Observer { return nopObserver{} }

// stateMachine drives one Association's lifecycle: dialing, proposing
// presentation contexts, waiting for A-ASSOCIATE-AC/RJ, and — once open —
// handing P-DATA-TF PDUs to the Dispatcher until a release or abort closes
// the association. It mirrors the teacher's sm.currentState/runOneStep
// shape but as a linear sequence of blocking calls rather than a
// channel-fed event-action table, since this module only ever drives one
// association per goroutine and needs no cross-association multiplexing.
type stateMachine struct {
	cfg       Config
	transport *transport
	ctxMgr    *contextManager
	observer  Observer
	log       netlog.Logger

	state State
}

func newStateMachine(cfg Config, t *transport, observer Observer, log netlog.Logger) *stateMachine {
	if observer == nil {
		observer = NopObserver()
	}
	if log == nil {
		log = netlog.Nop()
	}
	return &stateMachine{cfg: cfg, transport: t, ctxMgr: newContextManager(), observer: observer, log: log, state: StateIdle}
}

func (sm *stateMachine) setState(s State) {
	old := sm.state
	sm.state = s
	sm.observer.OnStateChange(old, s)
}

// RequestAssociate sends an A-ASSOCIATE-RQ proposing syntaxesByAbstract and
// blocks for the AC/RJ response, implementing AE-1/AE-2/AE-3/AE-4/AA-8 of
// PS3.8 9.2.3 for the requestor role only.
func (sm *stateMachine) RequestAssociate(syntaxesByAbstract map[string][]string) error {
	sm.setState(StateConnecting)
	items := sm.ctxMgr.BuildProposal(sm.cfg, syntaxesByAbstract)
	rq := &pdu.AAssociate{
		Accept:          false,
		ProtocolVersion: pdu.CurrentProtocolVersion,
		CalledAETitle:   sm.cfg.CalledAE,
		CallingAETitle:  sm.cfg.CallingAE,
		Items:           items,
	}
	if err := sm.transport.Send(rq); err != nil {
		sm.setState(StateClosed)
		return err
	}
	sm.setState(StateAwaitAC)

	p, err := sm.transport.Recv()
	if err != nil {
		sm.setState(StateClosed)
		return err
	}
	switch v := p.(type) {
	case *pdu.AAssociate:
		if !v.Accept {
			sm.setState(StateClosed)
			return ProtocolViolation("expected A-ASSOCIATE-AC, got A-ASSOCIATE-RQ", nil)
		}
		if err := sm.ctxMgr.OnAssociateResponse(v); err != nil {
			_ = sm.abort(pdu.AbortReasonUnexpectedPDUParam)
			sm.setState(StateClosed)
			return ProtocolViolation("negotiating presentation contexts", err)
		}
		accepted := sm.ctxMgr.AcceptedContexts()
		if len(accepted) == 0 {
			_ = sm.abort(pdu.AbortReasonNotSpecified)
			sm.setState(StateClosed)
			return NoAcceptedContextError("peer accepted zero presentation contexts")
		}
		sm.setState(StateOpen)
		for _, pc := range accepted {
			sm.log.Info("presentation context accepted",
				"abstractSyntax", dicomuid.UIDString(pc.AbstractSyntaxUID),
				"transferSyntax", dicomuid.UIDString(pc.AcceptedTransferSyntaxUID))
		}
		sm.observer.OnAssociateAccepted(accepted)
		return nil
	case *pdu.AAssociateRJ:
		sm.setState(StateClosed)
		nerr := &NegotiationFailureError{Result: byte(v.Result), Source: byte(v.Source), Reason: byte(v.Reason)}
		sm.log.Warn("association rejected", "result", nerr.Result, "source", nerr.Source, "reason", nerr.Reason)
		sm.observer.OnAssociateRejected(nerr)
		return nerr
	case *pdu.AAbort:
		sm.setState(StateClosed)
		sm.observer.OnAbort(v.Source, v.Reason)
		return ProtocolViolation("peer aborted during negotiation", nil)
	default:
		_ = sm.abort(pdu.AbortReasonUnexpectedPDU)
		sm.setState(StateClosed)
		return ProtocolViolation(fmt.Sprintf("unexpected PDU %T while awaiting A-ASSOCIATE-AC", p), nil)
	}
}

// Recv blocks for the next PDU while the association is Open or AwaitRP.
func (sm *stateMachine) Recv() (pdu.PDU, error) {
	return sm.transport.Recv()
}

// SendDataTF transmits a P-DATA-TF PDU on the open association.
func (sm *stateMachine) SendDataTF(p *pdu.PDataTF) error {
	if sm.state != StateOpen {
		return ProtocolViolation(fmt.Sprintf("cannot send P-DATA-TF in state %s", sm.state), nil)
	}
	return sm.transport.Send(p)
}

// SendRelease sends the A-RELEASE-RQ that begins an orderly release (ARTIM
// states sta07/sta08 collapsed: this module never originates a release
// collision since it drives a single outstanding request at a time) and
// returns without waiting for the A-RELEASE-RP. The single background
// Dispatcher.Run already owns the socket's receive loop (§5) and observes
// the RP itself, closing the association; Association.Release blocks on
// that loop's done signal instead of racing it with a second Recv here.
func (sm *stateMachine) SendRelease() error {
	if sm.state != StateOpen {
		return ProtocolViolation(fmt.Sprintf("cannot release in state %s", sm.state), nil)
	}
	if err := sm.transport.Send(&pdu.AReleaseRQ{}); err != nil {
		sm.setState(StateClosed)
		return err
	}
	sm.setState(StateAwaitRP)
	return nil
}

// Abort sends an A-ABORT and closes the transport immediately, without
// waiting for any response, per PS3.8 9.3.8.
func (sm *stateMachine) Abort(reason pdu.AbortReason) error {
	err := sm.abort(reason)
	sm.setState(StateClosed)
	sm.observer.OnClosed(err)
	return err
}

func (sm *stateMachine) abort(reason pdu.AbortReason) error {
	err := sm.transport.Send(&pdu.AAbort{Source: pdu.AbortSourceServiceUser, Reason: reason})
	_ = sm.transport.Close()
	return err
}

// Close tears down the transport without negotiating a release, for use
// after a network error has already been observed.
func (sm *stateMachine) Close() error {
	err := sm.transport.Close()
	sm.setState(StateClosed)
	sm.observer.OnClosed(err)
	return err
}

// ContextFor returns the negotiated PresentationContext for abstract, if any.
func (sm *stateMachine) ContextFor(abstract string) (*PresentationContext, bool) {
	return sm.ctxMgr.LookupByAbstractSyntax(abstract)
}
