package pdu

import (
	"fmt"
	"io"
	"strings"
)

// CurrentProtocolVersion is the only Protocol-version this module speaks,
// PS3.8 9.3.2.
const CurrentProtocolVersion uint16 = 1

// AAssociate is the shared shape of A-ASSOCIATE-RQ and A-ASSOCIATE-AC,
// PS3.8 9.3.2/9.3.3 — they differ only in PDU type and how a peer
// interprets the Items, not in wire layout.
type AAssociate struct {
	Accept          bool // false: RQ, true: AC
	ProtocolVersion uint16
	CalledAETitle   string
	CallingAETitle  string
	Items           []SubItem
}

func (v *AAssociate) Type() Type {
	if v.Accept {
		return TypeAAssociateAC
	}
	return TypeAAssociateRQ
}

func (v *AAssociate) WritePayload(w io.Writer) error {
	if v.CalledAETitle == "" || v.CallingAETitle == "" {
		return fmt.Errorf("pdu: CalledAETitle and CallingAETitle must not be empty")
	}
	if err := writeUint16(w, v.ProtocolVersion); err != nil {
		return err
	}
	if err := writeZeros(w, 2); err != nil {
		return err
	}
	if _, err := io.WriteString(w, fillAETitle(v.CalledAETitle)); err != nil {
		return err
	}
	if _, err := io.WriteString(w, fillAETitle(v.CallingAETitle)); err != nil {
		return err
	}
	if err := writeZeros(w, 8*4); err != nil {
		return err
	}
	for _, item := range v.Items {
		if err := item.Write(w); err != nil {
			return err
		}
	}
	return nil
}

func readAAssociate(r io.Reader, t Type) (*AAssociate, error) {
	v := &AAssociate{Accept: t == TypeAAssociateAC}
	version, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	if _, err := readFull(r, 2); err != nil {
		return nil, err
	}
	called, err := readFull(r, 16)
	if err != nil {
		return nil, err
	}
	calling, err := readFull(r, 16)
	if err != nil {
		return nil, err
	}
	if _, err := readFull(r, 8*4); err != nil {
		return nil, err
	}
	v.ProtocolVersion = version
	v.CalledAETitle = strings.TrimRight(string(called), " ")
	v.CallingAETitle = strings.TrimRight(string(calling), " ")
	for {
		item, err := DecodeSubItem(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		v.Items = append(v.Items, item)
	}
	if v.CalledAETitle == "" || v.CallingAETitle == "" {
		return nil, fmt.Errorf("pdu: %s with empty Called/CallingAETitle", t)
	}
	return v, nil
}

func (v *AAssociate) String() string {
	parts := make([]string, len(v.Items))
	for i, it := range v.Items {
		parts[i] = it.String()
	}
	return fmt.Sprintf("%s{version:%d called:%q calling:%q items:[%s]}",
		v.Type(), v.ProtocolVersion, v.CalledAETitle, v.CallingAETitle, strings.Join(parts, ", "))
}

// PresentationContexts returns the PresentationContextItem entries among Items.
func (v *AAssociate) PresentationContexts() []*PresentationContextItem {
	var out []*PresentationContextItem
	for _, it := range v.Items {
		if pc, ok := it.(*PresentationContextItem); ok {
			out = append(out, pc)
		}
	}
	return out
}

// UserInformation returns the UserInformationItem among Items, or nil.
func (v *AAssociate) UserInformation() *UserInformationItem {
	for _, it := range v.Items {
		if ui, ok := it.(*UserInformationItem); ok {
			return ui
		}
	}
	return nil
}

// RejectResult is the rejection outcome reported in an A-ASSOCIATE-RJ, PS3.8 9.3.4.
type RejectResult byte

const (
	RejectPermanent RejectResult = 1
	RejectTransient RejectResult = 2
)

// RejectSource identifies which actor produced the rejection, PS3.8 9.3.4.
type RejectSource byte

const (
	SourceServiceUser                 RejectSource = 1
	SourceServiceProviderACSE         RejectSource = 2
	SourceServiceProviderPresentation RejectSource = 3
)

// RejectReason enumerates reason codes across all three sources; the
// meaning of a given value depends on Source, PS3.8 Table 9-21.
type RejectReason byte

const (
	ReasonNone                               RejectReason = 1
	ReasonApplicationContextNameNotSupported RejectReason = 2
	ReasonCallingAETitleNotRecognized        RejectReason = 3
	ReasonCalledAETitleNotRecognized         RejectReason = 7
)

// AAssociateRJ is the A-ASSOCIATE-RJ PDU, PS3.8 9.3.4.
type AAssociateRJ struct {
	Result RejectResult
	Source RejectSource
	Reason RejectReason
}

func (v *AAssociateRJ) Type() Type { return TypeAAssociateRJ }
func (v *AAssociateRJ) WritePayload(w io.Writer) error {
	if err := writeZeros(w, 1); err != nil {
		return err
	}
	_, err := w.Write([]byte{byte(v.Result), byte(v.Source), byte(v.Reason)})
	return err
}

func readAAssociateRJ(r io.Reader) (*AAssociateRJ, error) {
	if _, err := readByte(r); err != nil {
		return nil, err
	}
	result, err := readByte(r)
	if err != nil {
		return nil, err
	}
	source, err := readByte(r)
	if err != nil {
		return nil, err
	}
	reason, err := readByte(r)
	if err != nil {
		return nil, err
	}
	return &AAssociateRJ{Result: RejectResult(result), Source: RejectSource(source), Reason: RejectReason(reason)}, nil
}

func (v *AAssociateRJ) String() string {
	return fmt.Sprintf("A-ASSOCIATE-RJ{result:%d source:%d reason:%d}", v.Result, v.Source, v.Reason)
}
