// Package pdu implements the DICOM Upper Layer Protocol Data Units defined
// in PS3.8: the seven PDU types exchanged during association negotiation,
// data transfer, and release/abort. All PDUs share a 6-byte header (1-byte
// type, 1 reserved byte, 4-byte big-endian length) followed by a
// type-specific payload; ReadPDU/WritePDU handle that envelope, each PDU
// type encodes/decodes its own payload.
//
// The wire format is fixed binary framing with no textual or
// self-describing structure, so this package reads/writes it directly with
// encoding/binary rather than through a DICOM codec library.
package pdu

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PDU is the interface implemented by every Upper Layer PDU type.
type PDU interface {
	fmt.Stringer
	Type() Type
	// WritePayload encodes everything after the 6-byte common header.
	WritePayload(io.Writer) error
}

// Type is the PDU-type byte in the common header, PS3.8 Table 9-1.
type Type byte

const (
	TypeAAssociateRQ Type = 0x01
	TypeAAssociateAC Type = 0x02
	TypeAAssociateRJ Type = 0x03
	TypePDataTF      Type = 0x04
	TypeAReleaseRQ   Type = 0x05
	TypeAReleaseRP   Type = 0x06
	TypeAAbort       Type = 0x07
)

func (t Type) String() string {
	switch t {
	case TypeAAssociateRQ:
		return "A-ASSOCIATE-RQ"
	case TypeAAssociateAC:
		return "A-ASSOCIATE-AC"
	case TypeAAssociateRJ:
		return "A-ASSOCIATE-RJ"
	case TypePDataTF:
		return "P-DATA-TF"
	case TypeAReleaseRQ:
		return "A-RELEASE-RQ"
	case TypeAReleaseRP:
		return "A-RELEASE-RP"
	case TypeAAbort:
		return "A-ABORT"
	default:
		return fmt.Sprintf("unknown PDU type 0x%02x", byte(t))
	}
}

// MaxPDULength is the default value this module advertises and accepts for
// Maximum Length Received, large enough for a single-frame CT/MR image PDV
// without forcing excessive fragmentation.
const MaxPDULength uint32 = 16 << 20

// WritePDU serializes p, prefixed with the 6-byte common header, to w.
func WritePDU(w io.Writer, p PDU) error {
	var payload bufWriter
	if err := p.WritePayload(&payload); err != nil {
		return fmt.Errorf("pdu: encoding %s payload: %w", p.Type(), err)
	}
	var header [6]byte
	header[0] = byte(p.Type())
	binary.BigEndian.PutUint32(header[2:6], uint32(len(payload.b)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("pdu: writing header: %w", err)
	}
	if _, err := w.Write(payload.b); err != nil {
		return fmt.Errorf("pdu: writing payload: %w", err)
	}
	return nil
}

// bufWriter is an io.Writer backed by a growable slice, avoiding an import
// of bytes.Buffer purely for its Write method.
type bufWriter struct{ b []byte }

func (w *bufWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

// ReadPDU reads one PDU from r. A payload longer than twice maxLength is
// rejected (PS3.8 does not itself bound it, but an unbounded read is a
// memory-exhaustion vector against a malicious or confused peer).
func ReadPDU(r io.Reader, maxLength uint32) (PDU, error) {
	var header [6]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("pdu: reading header: %w", err)
	}
	pduType := Type(header[0])
	length := binary.BigEndian.Uint32(header[2:6])
	if length > maxLength*2 {
		return nil, fmt.Errorf("pdu: PDU length %d exceeds limit %d", length, maxLength*2)
	}
	body := io.LimitReader(r, int64(length))
	switch pduType {
	case TypeAAssociateRQ:
		return readAAssociate(body, TypeAAssociateRQ)
	case TypeAAssociateAC:
		return readAAssociate(body, TypeAAssociateAC)
	case TypeAAssociateRJ:
		return readAAssociateRJ(body)
	case TypePDataTF:
		return readPDataTF(body, length)
	case TypeAReleaseRQ:
		return readAReleaseRQ(body)
	case TypeAReleaseRP:
		return readAReleaseRP(body)
	case TypeAAbort:
		return readAAbort(body)
	default:
		return nil, fmt.Errorf("pdu: %w", fmt.Errorf("unknown PDU type 0x%02x", header[0]))
	}
}

func readFull(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func writeUint16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeZeros(w io.Writer, n int) error {
	_, err := w.Write(make([]byte, n))
	return err
}

// fillAETitle right-pads or truncates an AE title to the fixed 16-byte field
// width PS3.8 9.3.2 requires.
func fillAETitle(v string) string {
	if len(v) > 16 {
		return v[:16]
	}
	for len(v) < 16 {
		v += " "
	}
	return v
}
