package dimse

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dicomdul/duldicom/pdu"
)

// pduHeaderOverhead is the fixed 6-byte P-DATA-TF header plus the 6-byte
// PresentationDataValueItem header (4-byte length + context ID + flags
// byte) that precedes every PDV fragment's payload.
const pduHeaderOverhead = 6 + 6

// Emitter fragments an outbound DIMSE command and optional dataset stream
// into PresentationDataValueItems and flushes them as P-DATA-TF PDUs sized
// to fit the negotiated max PDU length, mirroring the Assembler's
// counterpart on the receive side.
type Emitter struct {
	Writer      io.Writer
	MaxPDULen   uint32 // min(our advertised max, peer's advertised max)
	Observer    Observer
}

// NewEmitter constructs an Emitter. A nil observer defaults to NopObserver.
func NewEmitter(w io.Writer, maxPDULen uint32, observer Observer) *Emitter {
	if observer == nil {
		observer = NopObserver()
	}
	if maxPDULen == 0 {
		maxPDULen = pdu.MaxPDULength
	}
	return &Emitter{Writer: w, MaxPDULen: maxPDULen, Observer: observer}
}

// Send encodes msg's command set and, if msg.HasData(), streams dataset
// (already-encoded dataset bytes in the negotiated transfer syntax) across
// one or more P-DATA-TF PDUs on contextID. dataset may be nil when
// msg.HasData() is false.
func (e *Emitter) Send(contextID byte, msg Message, dataset io.Reader) error {
	e.Observer.OnSendDimseBegin(contextID)

	var cmdBuf bytes.Buffer
	if err := EncodeMessage(&cmdBuf, msg); err != nil {
		return fmt.Errorf("dimse: encoding command: %w", err)
	}

	sent := 0
	if err := e.streamFragments(contextID, true, &cmdBuf, !msg.HasData()); err != nil {
		return err
	}
	sent += cmdBuf.Len()
	e.Observer.OnSendDimseProgress(contextID, sent)

	if msg.HasData() {
		if dataset == nil {
			return fmt.Errorf("dimse: %s declares a dataset but none was provided", msg)
		}
		n, err := e.streamDataset(contextID, dataset)
		if err != nil {
			return err
		}
		sent += n
		e.Observer.OnSendDimseProgress(contextID, sent)
	}

	e.Observer.OnSendDimse(contextID, msg)
	return nil
}

// fragmentCapacity is the maximum payload bytes one PDV fragment may carry
// while keeping its enclosing single-PDV P-DATA-TF PDU within MaxPDULen.
func (e *Emitter) fragmentCapacity() int {
	capacity := int(e.MaxPDULen) - pduHeaderOverhead
	if capacity < 1 {
		capacity = 1
	}
	return capacity
}

// streamFragments emits r's full contents as IsCommand=command PDVs, each
// its own P-DATA-TF PDU, marking the final fragment Last.
func (e *Emitter) streamFragments(contextID byte, command bool, r *bytes.Buffer, last bool) error {
	capacity := e.fragmentCapacity()
	total := r.Len()
	if total == 0 {
		return e.writePDV(pdu.PresentationDataValueItem{ContextID: contextID, Command: command, Last: last})
	}
	for r.Len() > 0 {
		n := r.Len()
		if n > capacity {
			n = capacity
		}
		chunk := make([]byte, n)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return fmt.Errorf("dimse: reading fragment: %w", err)
		}
		isLast := r.Len() == 0 && last
		if err := e.writePDV(pdu.PresentationDataValueItem{ContextID: contextID, Command: command, Last: isLast, Value: chunk}); err != nil {
			return err
		}
	}
	return nil
}

// streamDataset reads dataset to EOF, fragmenting as it goes so a caller can
// pass an io.Reader over a spill file without holding the whole dataset in
// memory at once — the lazy streaming the dataset assembler's sender side
// needs for large C-STORE payloads.
func (e *Emitter) streamDataset(contextID byte, dataset io.Reader) (int, error) {
	capacity := e.fragmentCapacity()
	buf := make([]byte, capacity)
	total := 0
	pending := false
	var pendingChunk []byte
	for {
		n, err := io.ReadFull(dataset, buf)
		if n > 0 {
			if pending {
				if err := e.writePDV(pdu.PresentationDataValueItem{ContextID: contextID, Command: false, Last: false, Value: pendingChunk}); err != nil {
					return total, err
				}
				total += len(pendingChunk)
			}
			pendingChunk = append([]byte(nil), buf[:n]...)
			pending = true
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return total, fmt.Errorf("dimse: reading dataset: %w", err)
		}
	}
	if pending {
		if err := e.writePDV(pdu.PresentationDataValueItem{ContextID: contextID, Command: false, Last: true, Value: pendingChunk}); err != nil {
			return total, err
		}
		total += len(pendingChunk)
	} else {
		if err := e.writePDV(pdu.PresentationDataValueItem{ContextID: contextID, Command: false, Last: true}); err != nil {
			return total, err
		}
	}
	return total, nil
}

func (e *Emitter) writePDV(item pdu.PresentationDataValueItem) error {
	p := &pdu.PDataTF{Items: []pdu.PresentationDataValueItem{item}}
	if err := pdu.WritePDU(e.Writer, p); err != nil {
		return fmt.Errorf("dimse: %w", err)
	}
	return nil
}
