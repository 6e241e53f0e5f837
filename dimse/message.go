// Package dimse implements the DICOM Message Service Element layer: typed
// command messages (Component C/D's payload), their encode/decode against
// github.com/suyashkumar/dicom Elements, and the Assembler/Emitter that
// interleave command and dataset bytes across PDV fragments.
package dimse

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dicomdul/duldicom/commandset"
	"github.com/suyashkumar/dicom"
	dicomtag "github.com/suyashkumar/dicom/pkg/tag"
)

// Message is the common interface implemented by every DIMSE command type.
type Message interface {
	fmt.Stringer
	Encode(io.Writer) error
	GetMessageID() MessageID
	CommandField() uint16
	// GetStatus is nil for request messages, non-nil for response messages.
	GetStatus() *Status
	// HasData reports whether a dataset PDV stream follows the command.
	HasData() bool
}

// Command fields this module's SCU role actually exchanges: C-STORE and
// C-ECHO. C-FIND/C-GET/C-MOVE are out of scope (Non-goals) and carry no
// message types here — the Dispatcher aborts on any unregistered field.
const (
	CommandFieldCStoreRq  uint16 = 0x0001
	CommandFieldCStoreRsp uint16 = 0x8001
	CommandFieldCEchoRq   uint16 = 0x0030
	CommandFieldCEchoRsp  uint16 = 0x8030
)

type MessageID = uint16

// ReadMessage decodes a DIMSE command from a parsed command dataset.
func ReadMessage(dataset *dicom.Dataset) (Message, error) {
	decoder := MessageDecoder{elements: make(map[dicomtag.Tag]*dicom.Element)}
	for _, elem := range dataset.Elements {
		decoder.elements[elem.Tag] = elem
	}
	commandField, err := decoder.GetUInt16(commandset.CommandField, RequiredElement)
	if err != nil {
		return nil, fmt.Errorf("ReadMessage: failed to get command field: %w", err)
	}
	return decoder.Decode(commandField)
}

// EncodeMessage serializes v, prefixed with the CommandGroupLength element
// PS3.7 E.1 requires. DIMSE command sets are always Implicit VR Little
// Endian (PS3.7 6.3.1).
func EncodeMessage(out io.Writer, v Message) error {
	writer, err := dicom.NewWriter(out)
	if err != nil {
		return fmt.Errorf("EncodeMessage: error creating writer: %w", err)
	}
	writer.SetTransferSyntax(binary.LittleEndian, true)

	var body bytes.Buffer
	if err := v.Encode(&body); err != nil {
		return fmt.Errorf("EncodeMessage: error encoding message: %w", err)
	}
	lengthElem, err := NewElement(commandset.CommandGroupLength, body.Len())
	if err != nil {
		return fmt.Errorf("EncodeMessage: failed to create CommandGroupLength element: %w", err)
	}
	if err := writer.WriteElement(lengthElem); err != nil {
		return fmt.Errorf("EncodeMessage: failed to write CommandGroupLength: %w", err)
	}
	if _, err := out.Write(body.Bytes()); err != nil {
		return fmt.Errorf("EncodeMessage: failed to write command body: %w", err)
	}
	return nil
}
