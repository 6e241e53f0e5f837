package dimse

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// NewElement builds a command-set Element for one of the scalar Go types a
// DIMSE command field is encoded as. DIMSE command elements are always
// encoded Implicit VR Little Endian (PS3.7 6.3.1), so the VR is inferred by
// the dicom library from the tag's dictionary entry.
func NewElement(t tag.Tag, value any) (*dicom.Element, error) {
	switch v := value.(type) {
	case string:
		return dicom.NewElement(t, []string{v})
	case uint16:
		return dicom.NewElement(t, []int{int(v)})
	case int:
		return dicom.NewElement(t, []int{v})
	default:
		return nil, fmt.Errorf("NewElement: unsupported value type %T for tag %s", value, t.String())
	}
}

// elementBuilder accumulates a command's encoded elements, collecting the
// first NewElement failure instead of every command's Encode method
// repeating the same build-check-append boilerplate for each field.
type elementBuilder struct {
	caller string // e.g. "CStoreRq.Encode", for error context
	elems  []*dicom.Element
	err    error
}

func newElementBuilder(caller string) *elementBuilder {
	return &elementBuilder{caller: caller}
}

// add appends the encoded element for (t, value), a no-op once an earlier
// add has already failed.
func (b *elementBuilder) add(t tag.Tag, value any) {
	if b.err != nil {
		return
	}
	elem, err := NewElement(t, value)
	if err != nil {
		b.err = fmt.Errorf("%s: failed to create %s element: %w", b.caller, t.String(), err)
		return
	}
	b.elems = append(b.elems, elem)
}

// addIf calls add only when cond holds, for the command fields that are
// conditionally present (e.g. CStoreRq's move-originator pair).
func (b *elementBuilder) addIf(cond bool, t tag.Tag, value any) {
	if cond {
		b.add(t, value)
	}
}

// build returns the accumulated elements plus extra (a message's unparsed
// Extra elements), or the first error any add/addIf call recorded.
func (b *elementBuilder) build(extra []*dicom.Element) ([]*dicom.Element, error) {
	if b.err != nil {
		return nil, b.err
	}
	return append(b.elems, extra...), nil
}

// EncodeElements writes elems to out as a raw Implicit VR Little Endian
// command stream (no CommandGroupLength — the caller, EncodeMessage,
// prepends that once it knows the encoded length of everything else).
func EncodeElements(out io.Writer, elems []*dicom.Element) error {
	writer, err := dicom.NewWriter(out)
	if err != nil {
		return fmt.Errorf("EncodeElements: failed to create writer: %w", err)
	}
	writer.SetTransferSyntax(binary.LittleEndian, true)
	for _, elem := range elems {
		if err := writer.WriteElement(elem); err != nil {
			return fmt.Errorf("EncodeElements: failed to write element %s: %w", elem.Tag.String(), err)
		}
	}
	return nil
}
