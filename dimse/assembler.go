package dimse

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dicomdul/duldicom/pdu"
	"github.com/google/uuid"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// synthetic File Meta Information constants for spilled datasets (§4.C.2):
// this module fabricates the header itself rather than forwarding one the
// peer never sent (DIMSE datasets carry no File Meta group on the wire), so
// the Implementation Class UID/Version Name identify this assembler, not a
// registered vendor. implicitVRLittleEndian is the fallback transfer syntax
// when no Resolver is wired (unit tests) or it reports no accepted context.
const (
	spillImplementationClassUID    = "1.2.826.0.1.3680043.9.7391.2"
	spillImplementationVersionName = "DULDICOM_SPILL_1"
	implicitVRLittleEndian         = "1.2.840.10008.1.2"
)

// Observer receives progress notifications as the Assembler and Emitter work
// through a DIMSE exchange. It is the one capability this package needs from
// its embedder, replacing the teacher's scattered callback fields with a
// single injected interface (the session or orchestrator implements it).
type Observer interface {
	OnReceiveDimseBegin(contextID byte)
	OnReceiveDimseProgress(contextID byte, bytesTransferred int)
	OnReceiveDimse(contextID byte, msg Message)
	OnSendDimseBegin(contextID byte)
	OnSendDimseProgress(contextID byte, bytesTransferred int)
	OnSendDimse(contextID byte, msg Message)
}

type nopObserver struct{}

func (nopObserver) OnReceiveDimseBegin(byte) {}
func (nopObserver) OnReceiveDimseProgress(byte, int) {}
func (nopObserver) OnReceiveDimse(byte, Message) {}
func (nopObserver) OnSendDimseBegin(byte) {}
func (nopObserver) OnSendDimseProgress(byte, int) {}
func (nopObserver) OnSendDimse(byte, Message) {}

// NopObserver returns an Observer that discards every event.
func NopObserver() Observer { return nopObserver{} }

// ContextResolver maps a negotiated presentation context ID to its abstract
// and accepted transfer syntax UIDs, so a spilled dataset file can be
// opened with a synthetic File Meta Information header built from the
// accepted context (§4.C.2) instead of a bare PDV byte dump.
type ContextResolver func(contextID byte) (abstractSyntaxUID, transferSyntaxUID string, ok bool)

// ReceivedDataset is the payload handed to a command handler once an
// Assembler completes an exchange carrying a dataset. Exactly one of
// InMemory or FilePath is populated, depending on the Assembler's
// UseFileBuffer policy.
type ReceivedDataset struct {
	InMemory []byte
	FilePath string
}

// Assembler reassembles one DIMSE command+dataset exchange from a sequence
// of P-DATA-TF PresentationDataValueItem fragments, mirroring the teacher's
// CommandAssembler but adding spill-to-file support and progress events.
type Assembler struct {
	// UseFileBuffer, when true, writes the inbound dataset to a temp file
	// under SpillDir instead of an in-memory buffer.
	UseFileBuffer bool
	SpillDir      string
	Observer      Observer

	// Resolver maps a PDV's context ID to the negotiated abstract/transfer
	// syntax for the spill file's synthetic File Meta header. A nil
	// Resolver (unit tests, or a Resolver that returns ok=false) falls back
	// to the implicit-VR-little-endian default transfer syntax.
	Resolver ContextResolver

	contextID      byte
	commandBytes   []byte
	command        Message
	readAllCommand bool
	readAllData    bool
	started        bool
	bytesIn        int

	dataBuf   bytes.Buffer
	spillFile *os.File
	spillPath string
}

// NewAssembler constructs an Assembler. A nil observer defaults to NopObserver.
func NewAssembler(observer Observer, useFileBuffer bool, spillDir string) *Assembler {
	if observer == nil {
		observer = NopObserver()
	}
	return &Assembler{Observer: observer, UseFileBuffer: useFileBuffer, SpillDir: spillDir}
}

// AddPDV folds one PDV into the in-progress exchange. It returns a non-nil
// msg once the command (and, if HasData() holds, the dataset) is fully
// reassembled; the Assembler then clears its own state, so the next AddPDV
// call starts a new exchange.
func (a *Assembler) AddPDV(item pdu.PresentationDataValueItem) (contextID byte, msg Message, dataset *ReceivedDataset, err error) {
	if !a.started {
		a.started = true
		a.contextID = item.ContextID
		a.Observer.OnReceiveDimseBegin(item.ContextID)
	} else if a.contextID != item.ContextID {
		return 0, nil, nil, fmt.Errorf("dimse: PDV context %d does not match in-progress exchange context %d", item.ContextID, a.contextID)
	}

	if item.Command {
		if a.readAllCommand {
			return 0, nil, nil, fmt.Errorf("dimse: command PDV received after command was already complete")
		}
		a.commandBytes = append(a.commandBytes, item.Value...)
		if item.Last {
			a.readAllCommand = true
		}
	} else {
		if a.readAllData {
			return 0, nil, nil, fmt.Errorf("dimse: dataset PDV received after dataset was already complete")
		}
		if err := a.appendDataset(item.Value); err != nil {
			a.abort()
			return 0, nil, nil, err
		}
		if item.Last {
			a.readAllData = true
		}
	}

	a.bytesIn += len(item.Value)
	a.Observer.OnReceiveDimseProgress(a.contextID, a.bytesIn)

	if !a.readAllCommand {
		return 0, nil, nil, nil
	}
	if a.command == nil {
		cmdset, err := dicom.Parse(bytes.NewReader(a.commandBytes), int64(len(a.commandBytes)), nil,
			dicom.SkipPixelData(), dicom.SkipMetadataReadOnNewParserInit())
		if err != nil {
			a.abort()
			return 0, nil, nil, fmt.Errorf("dimse: failed to parse command set: %w", err)
		}
		a.command, err = ReadMessage(&cmdset)
		if err != nil {
			a.abort()
			return 0, nil, nil, err
		}
	}
	if a.command.HasData() && !a.readAllData {
		return 0, nil, nil, nil
	}

	result := a.finish()
	a.Observer.OnReceiveDimse(result.contextID, result.msg)
	return result.contextID, result.msg, result.dataset, nil
}

type finishedExchange struct {
	contextID byte
	msg       Message
	dataset   *ReceivedDataset
}

func (a *Assembler) finish() finishedExchange {
	result := finishedExchange{contextID: a.contextID, msg: a.command}
	if a.command.HasData() {
		if a.spillFile != nil {
			a.spillFile.Close()
			result.dataset = &ReceivedDataset{FilePath: a.spillPath}
		} else {
			result.dataset = &ReceivedDataset{InMemory: append([]byte(nil), a.dataBuf.Bytes()...)}
		}
	}
	*a = Assembler{Observer: a.Observer, UseFileBuffer: a.UseFileBuffer, SpillDir: a.SpillDir}
	return result
}

// abort discards the in-progress exchange and deletes any spill file,
// per the requirement that a decode error never leaves orphaned temp files.
func (a *Assembler) abort() {
	if a.spillFile != nil {
		a.spillFile.Close()
		os.Remove(a.spillPath)
	}
	*a = Assembler{Observer: a.Observer, UseFileBuffer: a.UseFileBuffer, SpillDir: a.SpillDir}
}

func (a *Assembler) appendDataset(b []byte) error {
	if !a.UseFileBuffer {
		a.dataBuf.Write(b)
		return nil
	}
	if a.spillFile == nil {
		dir := a.SpillDir
		if dir == "" {
			dir = os.TempDir()
		}
		path := filepath.Join(dir, fmt.Sprintf("dicom-recv-%s.dcm", uuid.NewString()))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("dimse: failed to open spill file: %w", err)
		}
		if err := a.writeSyntheticFileMetaHeader(f); err != nil {
			f.Close()
			os.Remove(path)
			return err
		}
		a.spillFile = f
		a.spillPath = path
	}
	// Append-only: the file is never seeked or re-read until the exchange
	// completes and the consumer re-opens it, so an interleaved reader never
	// races the writer's position.
	if _, err := a.spillFile.Write(b); err != nil {
		return fmt.Errorf("dimse: failed to write spill file: %w", err)
	}
	return nil
}

// writeSyntheticFileMetaHeader writes a 128-byte preamble, the "DICM" magic,
// and a minimal group 0002 File Meta Information group to w, built from the
// accepted presentation context and the in-progress command's affected SOP
// class/instance, so a spilled dataset is independently openable as a valid
// DICOM file (§4.C.2) rather than a bare PDV byte dump.
func (a *Assembler) writeSyntheticFileMetaHeader(w io.Writer) error {
	transferSyntaxUID := implicitVRLittleEndian
	if a.Resolver != nil {
		if _, ts, ok := a.Resolver(a.contextID); ok && ts != "" {
			transferSyntaxUID = ts
		}
	}
	sopClassUID, sopInstanceUID := affectedSOPFromCommand(a.command)

	versionElem, err := dicom.NewElement(tag.FileMetaInformationVersion, []byte{0x00, 0x01})
	if err != nil {
		return fmt.Errorf("dimse: building FileMetaInformationVersion: %w", err)
	}
	elems := []*dicom.Element{versionElem}
	for _, f := range []struct {
		t tag.Tag
		v string
	}{
		{tag.MediaStorageSOPClassUID, sopClassUID},
		{tag.MediaStorageSOPInstanceUID, sopInstanceUID},
		{tag.TransferSyntaxUID, transferSyntaxUID},
		{tag.ImplementationClassUID, spillImplementationClassUID},
		{tag.ImplementationVersionName, spillImplementationVersionName},
	} {
		elem, err := NewElement(f.t, f.v)
		if err != nil {
			return fmt.Errorf("dimse: building File Meta element %s: %w", f.t.String(), err)
		}
		elems = append(elems, elem)
	}

	var body bytes.Buffer
	bodyWriter, err := dicom.NewWriter(&body)
	if err != nil {
		return fmt.Errorf("dimse: creating File Meta writer: %w", err)
	}
	bodyWriter.SetTransferSyntax(binary.LittleEndian, false)
	for _, elem := range elems {
		if err := bodyWriter.WriteElement(elem); err != nil {
			return fmt.Errorf("dimse: writing File Meta element %s: %w", elem.Tag.String(), err)
		}
	}

	lengthElem, err := NewElement(tag.FileMetaInformationGroupLength, body.Len())
	if err != nil {
		return fmt.Errorf("dimse: building FileMetaInformationGroupLength: %w", err)
	}

	if _, err := w.Write(make([]byte, 128)); err != nil {
		return fmt.Errorf("dimse: writing preamble: %w", err)
	}
	if _, err := io.WriteString(w, "DICM"); err != nil {
		return fmt.Errorf("dimse: writing DICM magic: %w", err)
	}
	headerWriter, err := dicom.NewWriter(w)
	if err != nil {
		return fmt.Errorf("dimse: creating header writer: %w", err)
	}
	headerWriter.SetTransferSyntax(binary.LittleEndian, false)
	if err := headerWriter.WriteElement(lengthElem); err != nil {
		return fmt.Errorf("dimse: writing FileMetaInformationGroupLength: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("dimse: writing File Meta group: %w", err)
	}
	return nil
}

// affectedSOPFromCommand extracts the affected SOP class/instance UID from
// the in-progress command, when it is the one command type in this module
// that carries a dataset.
func affectedSOPFromCommand(msg Message) (classUID, instanceUID string) {
	if rq, ok := msg.(*CStoreRq); ok {
		return rq.AffectedSOPClassUID, rq.AffectedSOPInstanceUID
	}
	return "", ""
}
