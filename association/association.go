package association

import (
	"io"

	"github.com/dicomdul/duldicom/dimse"
	"github.com/dicomdul/duldicom/netlog"
	"github.com/dicomdul/duldicom/pdu"
)

// Association is the public handle a caller (principally scu.Orchestrator)
// uses to negotiate, exchange DIMSE messages over, and tear down one DICOM
// Upper Layer association. It composes the transport, state machine,
// Assembler, Emitter, and Dispatcher this package builds internally behind
// one capability-shaped surface, per the Design Notes' preference for a
// single injected Observer over the teacher's scattered upcall channel.
type Association struct {
	cfg  Config
	sm   *stateMachine
	asm  *dimse.Assembler
	emit *dimse.Emitter
	disp *Dispatcher
	log  netlog.Logger

	done chan error
}

// Dial opens a TCP connection to addr and negotiates presentation contexts
// for syntaxesByAbstract (abstract syntax UID -> ordered transfer syntax
// UID list), blocking until the peer's A-ASSOCIATE-AC/RJ arrives.
func Dial(addr string, cfg Config, syntaxesByAbstract map[string][]string, observer Observer, dimseObserver dimse.Observer, log netlog.Logger) (*Association, error) {
	if log == nil {
		log = netlog.Nop()
	}
	t, err := dial(addr, cfg, log)
	if err != nil {
		return nil, err
	}
	sm := newStateMachine(cfg, t, observer, log)
	if err := sm.RequestAssociate(syntaxesByAbstract); err != nil {
		_ = t.Close()
		return nil, err
	}
	return newAssociation(cfg, sm, dimseObserver, log), nil
}

func newAssociation(cfg Config, sm *stateMachine, dimseObserver dimse.Observer, log netlog.Logger) *Association {
	asm := dimse.NewAssembler(dimseObserver, cfg.UseFileBuffer, cfg.SpillDir)
	asm.Resolver = func(contextID byte) (string, string, bool) {
		pc, ok := sm.ctxMgr.LookupByContextID(contextID)
		if !ok {
			return "", "", false
		}
		return pc.AbstractSyntaxUID, pc.AcceptedTransferSyntaxUID, true
	}
	maxPDU := sm.transport.maxPDULength
	if peer := sm.ctxMgr.peerMaxPDUSize; peer != 0 && peer < maxPDU {
		maxPDU = peer
	}
	emit := dimse.NewEmitter(sm.transport.Writer(), maxPDU, dimseObserver)
	a := &Association{cfg: cfg, sm: sm, asm: asm, emit: emit, log: log, done: make(chan error, 1)}
	a.disp = NewDispatcher(sm, asm)
	return a
}

// ContextFor returns the negotiated PresentationContext for abstract.
func (a *Association) ContextFor(abstract string) (*PresentationContext, bool) {
	return a.sm.ContextFor(abstract)
}

// Handle registers h to process reassembled DIMSE exchanges whose command
// field equals field, e.g. dimse.CommandFieldCStoreRsp. Every Handle call
// must complete before Start, which is the only happens-before guarantee
// the handler table relies on (Go's go-statement semantics) instead of a
// mutex: Start's background loop only reads the table from then on.
func (a *Association) Handle(field uint16, h Handler) { a.disp.Handle(field, h) }

// Send fragments and transmits msg (and dataset, if msg.HasData()) on
// contextID via the negotiated association. dataset may be nil when
// msg.HasData() is false.
func (a *Association) Send(contextID byte, msg dimse.Message, dataset io.Reader) error {
	return a.emit.Send(contextID, msg, dataset)
}

// Start launches the single background task that owns this association's
// socket and receive loop for its entire lifetime, per §5's scheduling
// model ("one background task per open transport session owns the socket
// and runs the receive loop"). Call exactly once per Association, after
// every Handle registration.
func (a *Association) Start() {
	go func() { a.done <- a.disp.Run() }()
}

// Done reports the background receive loop's terminal outcome (nil on an
// orderly release) once it returns. Callers that need to know the loop has
// ended — a send loop awaiting the next response, or Release awaiting the
// peer's A-RELEASE-RP — read from the same channel, since at most one of
// them is live at a time per the at-most-one-exchange-in-flight invariant.
func (a *Association) Done() <-chan error { return a.done }

// Release performs an orderly association release: it sends A-RELEASE-RQ
// and then waits for the background receive loop — which observes the
// peer's A-RELEASE-RP and returns — rather than racing that loop for the
// RP with a second, independent Recv.
func (a *Association) Release() error {
	if err := a.sm.SendRelease(); err != nil {
		return err
	}
	return <-a.done
}

// Abort immediately tears down the association.
func (a *Association) Abort() error { return a.sm.Abort(pdu.AbortReasonNotSpecified) }

// CloseNow force-closes the transport without a release handshake, for
// Cancel(wait=false): the peer observes a TCP RST or half-close.
func (a *Association) CloseNow() error { return a.sm.Close() }

// State reports the association's current lifecycle state.
func (a *Association) State() State { return a.sm.state }
