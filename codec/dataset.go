package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Dataset wraps a github.com/suyashkumar/dicom Dataset with the narrow
// PixelData get/replace operations transcoding needs, keeping the one
// inference this package makes about the library's Value shape (that an OB
// PixelData element's GetValue() returns a plain []byte for a
// single-fragment native payload, by the same per-VR-typed-Go-value
// convention this module already relies on for []string-valued UI/LO
// elements in scu.stringElement) isolated to one file.
type Dataset struct {
	inner *dicom.Dataset
}

// NewDataset wraps d.
func NewDataset(d *dicom.Dataset) *Dataset { return &Dataset{inner: d} }

// Unwrap returns the underlying *dicom.Dataset.
func (d *Dataset) Unwrap() *dicom.Dataset { return d.inner }

// PixelData returns the raw bytes of the dataset's PixelData element.
func (d *Dataset) PixelData() ([]byte, error) {
	el, err := d.inner.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("codec: dataset has no PixelData element: %w", err)
	}
	b, ok := el.Value.GetValue().([]byte)
	if !ok {
		return nil, fmt.Errorf("codec: PixelData element has unsupported value type %T", el.Value.GetValue())
	}
	return b, nil
}

// WithPixelData returns a new Dataset equal to d but with PixelData
// replaced by payload and TransferSyntaxUID set to transferSyntaxUID.
func (d *Dataset) WithPixelData(payload []byte, transferSyntaxUID string) *Dataset {
	elements := make([]*dicom.Element, 0, len(d.inner.Elements))
	for _, el := range d.inner.Elements {
		switch el.Tag {
		case tag.PixelData, tag.TransferSyntaxUID:
			continue
		default:
			elements = append(elements, el)
		}
	}
	pixelEl, err := dicom.NewElement(tag.PixelData, payload)
	if err == nil {
		elements = append(elements, pixelEl)
	}
	tsEl, err := dicom.NewElement(tag.TransferSyntaxUID, []string{transferSyntaxUID})
	if err == nil {
		elements = append(elements, tsEl)
	}
	return &Dataset{inner: &dicom.Dataset{Elements: elements}}
}

// WriteDataset serializes ds under transferSyntaxUID, the stream-oriented
// write the spec's Dataset interface names, implemented directly against
// dicom.NewWriter/WriteElement the way dimse.EncodeMessage already does for
// command sets.
func WriteDataset(ds *Dataset, transferSyntaxUID string) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := dicom.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("codec: creating writer: %w", err)
	}
	implicit := transferSyntaxUID == implicitVRLittleEndian
	writer.SetTransferSyntax(binary.LittleEndian, implicit)
	for _, el := range ds.inner.Elements {
		if err := writer.WriteElement(el); err != nil {
			return nil, fmt.Errorf("codec: writing element %v: %w", el.Tag, err)
		}
	}
	return buf.Bytes(), nil
}

const implicitVRLittleEndian = "1.2.840.10008.1.2"
