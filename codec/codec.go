// Package codec implements the pixel-data transcoding plugins the C-STORE
// SCU orchestrator calls when a peer accepts a presentation context under a
// transfer syntax that differs from a queued file's own encoding: decoding
// an encapsulated (compressed) pixel stream to an uncompressed native form,
// and, when the target is itself encapsulated, re-encoding to it.
//
// Grounded on codeninja55-go-radx/dicom/pixel's decoder family (JPEG
// Baseline via stdlib image/jpeg); generalized from per-decoder types
// keyed by transfer syntax to one Registry callers look codecs up through,
// since this module's Request.Load needs a single collaborator rather than
// a type switch over decoder structs.
package codec

import "fmt"

// Params carries encode-time tuning (e.g. JPEG quality) the spec names
// PreferredTransferSyntaxParams.
type Params struct {
	// Quality is the JPEG quality factor (1-100) used when Encode targets a
	// JPEG transfer syntax. 0 selects a sensible default.
	Quality int
}

// Codec implements the spec's codec plug-in interface for one transfer
// syntax family.
type Codec interface {
	// Decode converts encapsulated pixel data in this codec's transfer
	// syntax to native (uncompressed) pixel bytes.
	Decode(pixelData []byte, params Params) ([]byte, error)
	// Encode converts native pixel bytes to this codec's encapsulated
	// transfer syntax.
	Encode(pixelData []byte, params Params) ([]byte, error)
	// ScanHeaderForPrecision inspects an already-encoded pixelData stream
	// (e.g. a JPEG SOF marker) to report its sample precision in bits, used
	// during encode parameter selection.
	ScanHeaderForPrecision(pixelData []byte) (int, error)
}

// Error reports a transcoding failure for one CStoreRequest; it never
// terminates the Association (spec §7: "CodecError... do not terminate the
// Association").
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("codec: %s: %v", e.Msg, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Registry maps a transfer syntax UID to the Codec that handles it.
// Transfer syntaxes outside the map (notably the two uncompressed
// syntaxes) are native and need no codec at all.
type Registry struct {
	codecs map[string]Codec
}

// NewRegistry returns a Registry pre-populated with this module's built-in
// codecs (JPEG Baseline Process 1 and Process 2&4).
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Codec)}
	jb := &jpegBaselineCodec{}
	r.Register(JPEGBaselineProcess1, jb)
	r.Register(JPEGBaselineProcess2And4, jb)
	return r
}

// Register installs codec for transferSyntaxUID, overwriting any existing
// registration — tests use this to inject a fake codec.
func (r *Registry) Register(transferSyntaxUID string, c Codec) {
	r.codecs[transferSyntaxUID] = c
}

// HasCodec reports whether a registered Codec handles transferSyntaxUID.
func (r *Registry) HasCodec(transferSyntaxUID string) bool {
	_, ok := r.codecs[transferSyntaxUID]
	return ok
}

// knownEncapsulated lists every transfer syntax this module recognizes as
// encapsulated (compressed) even when it has no codec to actually decode
// it — so IsEncapsulated can correctly report "yes, but unsupported"
// rather than silently treating an unknown compressed syntax as native.
var knownEncapsulated = map[string]bool{
	JPEGBaselineProcess1:     true,
	JPEGBaselineProcess2And4: true,
	JPEGLosslessNonHierarchical: true,
	JPEGLSLossless:           true,
	JPEG2000Lossless:         true,
	JPEG2000:                 true,
	RLELossless:              true,
}

// IsEncapsulated reports whether transferSyntaxUID carries its PixelData as
// one or more encapsulated (compressed) fragments rather than a native
// byte stream, per PS3.5 A.4.
func (r *Registry) IsEncapsulated(transferSyntaxUID string) bool {
	return knownEncapsulated[transferSyntaxUID]
}

// Decode decodes ds's PixelData from sourceTS to native pixel bytes under
// ExplicitVRLittleEndian, returning a new Dataset with PixelData and
// TransferSyntaxUID replaced.
func (r *Registry) Decode(ds *Dataset, sourceTS string) (*Dataset, error) {
	c, ok := r.codecs[sourceTS]
	if !ok {
		return nil, fmt.Errorf("codec: no decoder registered for transfer syntax %s", sourceTS)
	}
	pixelData, err := ds.PixelData()
	if err != nil {
		return nil, err
	}
	native, err := c.Decode(pixelData, Params{})
	if err != nil {
		return nil, fmt.Errorf("codec: decode: %w", err)
	}
	return ds.WithPixelData(native, explicitVRLittleEndian), nil
}

// Encode encodes ds's native PixelData to targetTS, returning a new Dataset
// with PixelData and TransferSyntaxUID replaced.
func (r *Registry) Encode(ds *Dataset, targetTS string, params Params) (*Dataset, error) {
	c, ok := r.codecs[targetTS]
	if !ok {
		return nil, fmt.Errorf("codec: no encoder registered for transfer syntax %s", targetTS)
	}
	pixelData, err := ds.PixelData()
	if err != nil {
		return nil, err
	}
	encapsulated, err := c.Encode(pixelData, params)
	if err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return ds.WithPixelData(encapsulated, targetTS), nil
}

// Well-known transfer syntax UIDs this module's codecs address, PS3.5 A.4.
const (
	explicitVRLittleEndian = "1.2.840.10008.1.2.1"

	JPEGBaselineProcess1        = "1.2.840.10008.1.2.4.50"
	JPEGBaselineProcess2And4    = "1.2.840.10008.1.2.4.51"
	JPEGLosslessNonHierarchical = "1.2.840.10008.1.2.4.70"
	JPEGLSLossless              = "1.2.840.10008.1.2.4.80"
	JPEG2000Lossless            = "1.2.840.10008.1.2.4.90"
	JPEG2000                    = "1.2.840.10008.1.2.4.91"
	RLELossless                 = "1.2.840.10008.1.2.5"
)
