package scu

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dicomdul/duldicom/association"
	"github.com/dicomdul/duldicom/codec"
	"github.com/dicomdul/duldicom/dimse"
	"github.com/dicomdul/duldicom/netlog"
)

// Options is the Orchestrator's configuration surface — the external
// interfaces section's knobs layered over association.Config.
type Options struct {
	Association association.Config

	PreferredTransferSyntaxParams codec.Params
	DisableFileStreaming          bool
	PreloadCount                  int
	Linger                        time.Duration
}

// Observer receives the orchestrator's lifecycle events, §4.G/§7's
// on_cstore_request_begin / on_cstore_response_received /
// on_cstore_request_failed / on_network_error / on_connection_closed
// callbacks collapsed into one capability interface, run on the session
// task — implementations MUST NOT block, per §5's scheduling model.
type Observer interface {
	OnCStoreRequestBegin(r *Request)
	OnCStoreResponseReceived(r *Request, status dimse.Status)
	OnCStoreRequestFailed(r *Request, status RequestStatus, err error)
	OnNetworkError(err error)
	OnConnectionClosed()
}

type nopObserver struct{}

func (nopObserver) OnCStoreRequestBegin(*Request) {}
func (nopObserver) OnCStoreResponseReceived(*Request, dimse.Status) {}
func (nopObserver) OnCStoreRequestFailed(*Request, RequestStatus, error) {}
func (nopObserver) OnNetworkError(error) {}
func (nopObserver) OnConnectionClosed() {}

// NopObserver returns an Observer whose methods do nothing.
func NopObserver() Observer { return nopObserver{} }

// Orchestrator is the C-STORE SCU orchestrator, Component G: it holds a
// PreloadQueue and drives zero or more Associations against addr across
// the queue's lifetime, implementing the linger/reassociate/reconnect send
// loop from §4.G.
type Orchestrator struct {
	addr string
	opts Options
	log  netlog.Logger

	observer Observer
	registry *codec.Registry
	queue    *PreloadQueue

	mu               sync.Mutex
	canceled         bool
	current          *association.Association // the in-flight association, if any, for Cancel(wait=false)
	syntaxesObserved map[string][]string       // abstract syntax UID -> observed TS, in first-seen order
	seenTS           map[string]map[string]bool
}

// NewOrchestrator constructs an Orchestrator targeting addr.
func NewOrchestrator(addr string, opts Options, observer Observer, registry *codec.Registry, log netlog.Logger) *Orchestrator {
	if observer == nil {
		observer = NopObserver()
	}
	if registry == nil {
		registry = codec.NewRegistry()
	}
	if log == nil {
		log = netlog.Nop()
	}
	return &Orchestrator{
		addr:             addr,
		opts:             opts,
		log:              log,
		observer:         observer,
		registry:         registry,
		queue:            NewPreloadQueue(registry, opts.DisableFileStreaming, opts.Association.PreferredTransferSyntax, opts.PreferredTransferSyntaxParams, opts.PreloadCount),
		syntaxesObserved: make(map[string][]string),
		seenTS:           make(map[string]map[string]bool),
	}
}

// AddFile parses path's File Meta Information and enqueues it, returning
// the resulting handle. A parse failure returns a non-nil error and a nil
// handle; per §4.G the handle is never enqueued in that case.
func (o *Orchestrator) AddFile(path string, userState any) (*Request, error) {
	r, err := Preload(path, userState)
	if err != nil {
		return nil, err
	}
	o.recordObservedSyntax(r.SOPClassUID, r.FileSyntax)
	o.queue.Push(r)
	return r, nil
}

func (o *Orchestrator) recordObservedSyntax(abstract, ts string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seenTS[abstract] == nil {
		o.seenTS[abstract] = make(map[string]bool)
	}
	if !o.seenTS[abstract][ts] {
		o.seenTS[abstract][ts] = true
		o.syntaxesObserved[abstract] = append(o.syntaxesObserved[abstract], ts)
	}
}

// Cancel sets the cancel flag, observed by the send loop between iterations;
// it is not checked between the PDV fragments of a C-STORE-RQ already being
// sent. If wait, the caller should follow with joining
// Run's goroutine (e.g. via a WaitGroup the embedder owns) so the in-flight
// exchange completes before the transport closes. If !wait, per §4.G this
// forces the transport closed immediately — the peer sees a TCP RST or
// half-close — instead of waiting for the current iteration to finish.
func (o *Orchestrator) Cancel(wait bool) {
	o.mu.Lock()
	o.canceled = true
	current := o.current
	o.mu.Unlock()
	if !wait && current != nil {
		_ = current.CloseNow()
	}
}

func (o *Orchestrator) setCurrent(assoc *association.Association) {
	o.mu.Lock()
	o.current = assoc
	o.mu.Unlock()
}

func (o *Orchestrator) isCanceled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.canceled
}

// Run drives the queue to completion: connects, negotiates presentation
// contexts for every abstract syntax observed so far, and executes the
// send loop until the queue drains and Linger expires, or until Cancel is
// called. A transport-level error mid-exchange resets the in-flight
// request and reconnects automatically unless canceled, per §7's
// propagation policy.
func (o *Orchestrator) Run() error {
	for {
		if o.isCanceled() {
			return nil
		}
		if err := o.runOneAssociation(); err != nil {
			o.observer.OnNetworkError(err)
			if o.isCanceled() || o.queue.Len() == 0 {
				return err
			}
			continue // reconnect
		}
		if o.queue.Len() == 0 || o.isCanceled() {
			return nil
		}
	}
}

func (o *Orchestrator) proposal() map[string][]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string][]string, len(o.syntaxesObserved))
	for k, v := range o.syntaxesObserved {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (o *Orchestrator) runOneAssociation() error {
	assoc, err := association.Dial(o.addr, o.opts.Association, o.proposal(), nil, nil, o.log)
	if err != nil {
		return err
	}
	o.setCurrent(assoc)
	defer o.setCurrent(nil)
	defer assoc.Abort() //nolint:errcheck // best-effort cleanup if sendLoop returns early

	// One Handle registration, one Start: per §5 a single background task
	// owns the socket and runs the receive loop for the association's whole
	// life, instead of a fresh Dispatcher.Run per exchange.
	respCh := make(chan *dimse.CStoreRsp, 1)
	assoc.Handle(dimse.CommandFieldCStoreRsp, func(_ byte, msg dimse.Message, _ *dimse.ReceivedDataset) error {
		rsp, ok := msg.(*dimse.CStoreRsp)
		if !ok {
			return fmt.Errorf("scu: expected CStoreRsp, got %T", msg)
		}
		respCh <- rsp
		return nil
	})
	assoc.Start()

	acceptedTS := func(sopClassUID string) (string, bool) {
		pc, ok := assoc.ContextFor(sopClassUID)
		if !ok || !pc.Accepted() {
			return "", false
		}
		return pc.AcceptedTransferSyntaxUID, true
	}

	return o.sendLoop(assoc, respCh, acceptedTS)
}

func (o *Orchestrator) sendLoop(assoc *association.Association, respCh <-chan *dimse.CStoreRsp, acceptedTS func(string) (string, bool)) error {
	lingerDeadline := time.Now().Add(o.opts.Linger + time.Second)
	for !o.isCanceled() && time.Now().Before(lingerDeadline) {
		for o.queue.Len() > 0 && !o.isCanceled() {
			current := o.queue.Pop()
			o.queue.Preload(context.Background(), o.opts.PreloadCount, acceptedTS)

			ts, ok := acceptedTS(current.SOPClassUID)
			if !ok {
				if current.IsLoaded() {
					current.setStatus(StatusSOPClassNotSupported, nil)
					o.observer.OnCStoreRequestFailed(current, StatusSOPClassNotSupported, nil)
					continue
				}
				// Never negotiated at all: reassociate so a fresh proposal
				// set (including this SOP class) goes out.
				o.queue.PushFront(current)
				if err := assoc.Release(); err != nil {
					return err
				}
				return nil
			}

			if err := Load(current, ts, o.opts.DisableFileStreaming, o.opts.Association.PreferredTransferSyntax, o.opts.PreferredTransferSyntaxParams, o.registry); err != nil {
				current.setStatus(StatusProcessingFailure, err)
				o.observer.OnCStoreRequestFailed(current, StatusProcessingFailure, err)
				continue
			}

			o.observer.OnCStoreRequestBegin(current)

			pcID, ok := contextIDFor(assoc, current.SOPClassUID)
			if !ok {
				current.setStatus(StatusSOPClassNotSupported, nil)
				o.observer.OnCStoreRequestFailed(current, StatusSOPClassNotSupported, nil)
				continue
			}

			if err := o.exchange(assoc, respCh, pcID, current); err != nil {
				o.queue.PushFront(current)
				current.Reset()
				return err
			}
			current.Unload()
			lingerDeadline = time.Now().Add(o.opts.Linger + time.Second)
		}
		time.Sleep(100 * time.Millisecond)
	}
	return assoc.Release()
}

func contextIDFor(assoc *association.Association, sopClassUID string) (byte, bool) {
	pc, ok := assoc.ContextFor(sopClassUID)
	if !ok || !pc.Accepted() {
		return 0, false
	}
	return pc.ContextID, true
}

// exchange sends exactly one C-STORE-RQ and awaits its C-STORE-RSP on the
// association's shared respCh, the at-most-one-in-flight-per-association
// invariant from §5 — the one background Dispatcher.Run launched by
// runOneAssociation's assoc.Start() delivers the response here instead of a
// dedicated receive loop per exchange.
func (o *Orchestrator) exchange(assoc *association.Association, respCh <-chan *dimse.CStoreRsp, contextID byte, r *Request) error {
	loaded, err := r.open()
	if err != nil {
		return err
	}
	var reader io.Reader
	if loaded.stream {
		defer loaded.reader.Close()
		reader = loaded.reader
	} else {
		reader = bytes.NewReader(loaded.dataset)
	}

	rq := &dimse.CStoreRq{
		AffectedSOPClassUID:    r.SOPClassUID,
		MessageID:              1,
		CommandDataSetType:     dimse.CommandDataSetTypeNonNull,
		AffectedSOPInstanceUID: r.SOPInstanceUID,
	}

	if err := assoc.Send(contextID, rq, reader); err != nil {
		return err
	}

	select {
	case rsp := <-respCh:
		r.setStatus(statusFromDimse(rsp.Status.Status), nil)
		o.observer.OnCStoreResponseReceived(r, rsp.Status)
		return nil
	case err := <-assoc.Done():
		if err == nil {
			err = fmt.Errorf("scu: association closed before C-STORE response arrived")
		}
		return err
	}
}

func statusFromDimse(s dimse.StatusCode) RequestStatus {
	if s == dimse.StatusSuccess {
		return StatusSuccess
	}
	return StatusServiceStatus
}
