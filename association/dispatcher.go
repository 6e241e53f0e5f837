package association

import (
	"fmt"

	"github.com/dicomdul/duldicom/dimse"
	"github.com/dicomdul/duldicom/pdu"
)

// Handler processes one fully reassembled DIMSE exchange on an open
// Association. dataset is non-nil iff msg.HasData().
type Handler func(contextID byte, msg dimse.Message, dataset *dimse.ReceivedDataset) error

// Dispatcher routes reassembled DIMSE command+dataset exchanges to
// per-CommandField handlers, generalizing the teacher's upcallEvent
// handling in serviceclass.go: instead of a single fixed switch over known
// SOP classes, this module keys a handler table by CommandField so the
// caller (scu.Orchestrator or a test harness) wires up only the exchanges
// it cares about.
type Dispatcher struct {
	handlers map[uint16]Handler
	fallback Handler
	sm       *stateMachine
	asm      *dimse.Assembler
}

// NewDispatcher constructs a Dispatcher bound to sm, feeding P-DATA-TF PDVs
// through asm before routing completed exchanges.
func NewDispatcher(sm *stateMachine, asm *dimse.Assembler) *Dispatcher {
	return &Dispatcher{handlers: make(map[uint16]Handler), sm: sm, asm: asm}
}

// Handle registers h for every DIMSE exchange whose command field is field.
func (d *Dispatcher) Handle(field uint16, h Handler) { d.handlers[field] = h }

// Run blocks, reading PDUs from sm until the association closes or an
// unrecoverable error occurs. Every P-DATA-TF PDV is folded into the
// Assembler; a completed exchange is routed to its registered Handler, or
// to the default unimplemented-field handling (A-ABORT with
// AbortReasonNotSpecified) if none is registered, per PS3.8's requirement
// that an unsupported DIMSE service abort rather than hang the peer.
func (d *Dispatcher) Run() error {
	for {
		p, err := d.sm.Recv()
		if err != nil {
			return err
		}
		switch v := p.(type) {
		case *pdu.PDataTF:
			if err := d.dispatchPDataTF(v); err != nil {
				return err
			}
		case *pdu.AReleaseRQ:
			if err := d.sm.transport.Send(&pdu.AReleaseRP{}); err != nil {
				return err
			}
			d.sm.setState(StateClosed)
			d.sm.observer.OnClosed(nil)
			return nil
		case *pdu.AReleaseRP:
			d.sm.setState(StateClosed)
			d.sm.observer.OnClosed(nil)
			return nil
		case *pdu.AAbort:
			d.sm.setState(StateClosed)
			d.sm.observer.OnAbort(v.Source, v.Reason)
			return ProtocolViolation("peer aborted association", nil)
		default:
			_ = d.sm.abort(pdu.AbortReasonUnexpectedPDU)
			d.sm.setState(StateClosed)
			return ProtocolViolation(fmt.Sprintf("unexpected PDU %T on open association", p), nil)
		}
	}
}

func (d *Dispatcher) dispatchPDataTF(v *pdu.PDataTF) error {
	for _, item := range v.Items {
		contextID, msg, dataset, err := d.asm.AddPDV(item)
		if err != nil {
			_ = d.sm.abort(pdu.AbortReasonInvalidPDUParamValue)
			d.sm.setState(StateClosed)
			return ProtocolViolation("reassembling DIMSE exchange", err)
		}
		if msg == nil {
			continue
		}
		h, ok := d.handlers[msg.CommandField()]
		if !ok {
			h = d.fallback
		}
		if h == nil {
			_ = d.sm.abort(pdu.AbortReasonNotSpecified)
			d.sm.setState(StateClosed)
			return ProtocolViolation(fmt.Sprintf("no handler registered for command field 0x%04x", msg.CommandField()), nil)
		}
		if err := h(contextID, msg, dataset); err != nil {
			return err
		}
	}
	return nil
}
