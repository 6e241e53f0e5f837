// Package scu implements the C-STORE SCU request orchestrator: a preload
// queue of CStoreRequest handles, per-request transcoding, and a send loop
// that drives an association's lifecycle with linger/reassociate/reconnect
// semantics.
package scu

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dicomdul/duldicom/codec"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// RequestStatus is the outcome recorded on a CStoreRequest once its
// exchange (or an attempt to start one) concludes.
type RequestStatus int

const (
	StatusPending RequestStatus = iota
	StatusSuccess
	StatusSOPClassNotSupported
	StatusProcessingFailure
	StatusServiceStatus
	StatusCanceled
)

func (s RequestStatus) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusSuccess:
		return "Success"
	case StatusSOPClassNotSupported:
		return "SOPClassNotSupported"
	case StatusProcessingFailure:
		return "ProcessingFailure"
	case StatusServiceStatus:
		return "ServiceStatus"
	case StatusCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// Request is one file queued for a C-STORE exchange — the CStoreRequest
// handle named in the spec's Data Model, reworked per the Design Notes as a
// pure-function Load/Unload pair instead of a self-mutating object with a
// back-reference to its owning client: Load takes the association's
// accepted transfer syntax explicitly rather than reaching out through a
// stored client pointer.
type Request struct {
	Path      string
	UserState any

	SOPClassUID    string
	SOPInstanceUID string
	FileSyntax     string // transfer syntax the file itself is encoded in
	metaLength     int64  // byte offset where the File Meta Information group ends and the dataset begins

	mu       sync.Mutex
	loaded   int32 // atomic: 0=not loaded, 1=loaded
	status   RequestStatus
	err      error
	stream   bool   // true: loaded by deferring to a file stream, not an in-memory dataset
	dataset  []byte // populated when stream is false
	streamTS string // the effective TS actually being sent
}

// loadedRequest is the immutable result of Load, handed to the sender.
type loadedRequest struct {
	effectiveTS string
	stream      bool
	reader      io.ReadCloser
	dataset     []byte
}

// Preload parses a file to read its SOP class/instance UIDs, transfer
// syntax and File Meta group length, yielding the handle add_file
// describes. It parses the whole file with PixelData skipped; parsing does
// not stop after the File Meta Information group. A parse failure
// returns a nil *Request and a non-nil error — the caller must never
// enqueue such a handle.
func Preload(path string, userState any) (*Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scu: opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("scu: stat %s: %w", path, err)
	}

	ds, err := dicom.Parse(f, info.Size(), nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("scu: parsing meta information of %s: %w", path, err)
	}

	sopClass, err := stringElement(&ds, tag.MediaStorageSOPClassUID)
	if err != nil {
		return nil, fmt.Errorf("scu: %s missing SOPClassUID: %w", path, err)
	}
	sopInstance, err := stringElement(&ds, tag.MediaStorageSOPInstanceUID)
	if err != nil {
		return nil, fmt.Errorf("scu: %s missing SOPInstanceUID: %w", path, err)
	}
	ts, err := stringElement(&ds, tag.TransferSyntaxUID)
	if err != nil {
		return nil, fmt.Errorf("scu: %s missing TransferSyntaxUID: %w", path, err)
	}
	groupLength, err := intElement(&ds, tag.FileMetaInformationGroupLength)
	if err != nil {
		return nil, fmt.Errorf("scu: %s missing FileMetaInformationGroupLength: %w", path, err)
	}

	return &Request{
		Path:           path,
		UserState:      userState,
		SOPClassUID:    sopClass,
		SOPInstanceUID: sopInstance,
		FileSyntax:     ts,
		metaLength:     preambleAndGroupLengthElementSize + int64(groupLength),
	}, nil
}

// preambleAndGroupLengthElementSize is PS3.10's fixed 128-byte preamble plus
// the 4-byte "DICM" magic plus the 12-byte explicit-VR UL encoding of the
// FileMetaInformationGroupLength element itself (tag 4 + VR 2 + length 2 +
// value 4): the fixed portion of every DICOM file header that precedes the
// File Meta Information group whose length that element's value reports.
const preambleAndGroupLengthElementSize = 128 + 4 + 12

func stringElement(ds *dicom.Dataset, t tag.Tag) (string, error) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return "", err
	}
	v, ok := el.Value.GetValue().([]string)
	if !ok || len(v) == 0 {
		return "", fmt.Errorf("scu: tag %v has no string value", t)
	}
	return v[0], nil
}

// intElement extracts a UL-VR element's numeric value. Construction call
// sites in the pack (flatmapit-crgodicom's test_dicom_minimal.go) build UL
// elements from []int, so a read-back is accepted as either []int or
// []uint32 in case the library normalizes to the tag's native width.
func intElement(ds *dicom.Dataset, t tag.Tag) (uint32, error) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, err
	}
	switch v := el.Value.GetValue().(type) {
	case []int:
		if len(v) == 0 {
			break
		}
		return uint32(v[0]), nil
	case []uint32:
		if len(v) == 0 {
			break
		}
		return v[0], nil
	}
	return 0, fmt.Errorf("scu: tag %v has no integer value", t)
}

// IsLoaded reports whether Load has already populated this request's payload.
func (r *Request) IsLoaded() bool { return atomic.LoadInt32(&r.loaded) == 1 }

// Status returns the request's current outcome and error, if any.
func (r *Request) Status() (RequestStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.err
}

func (r *Request) setStatus(s RequestStatus, err error) {
	r.mu.Lock()
	r.status, r.err = s, err
	r.mu.Unlock()
}

// Reset clears status/error and marks the request not-loaded, per the
// orchestrator's transport-loss recovery: the request is returned to the
// queue as if freshly preloaded.
func (r *Request) Reset() {
	atomic.StoreInt32(&r.loaded, 0)
	r.mu.Lock()
	r.status, r.err = StatusPending, nil
	r.dataset, r.stream, r.streamTS = nil, false, ""
	r.mu.Unlock()
}

// Load resolves the effective transfer syntax for an accepted presentation
// context and, if the file's own transfer syntax differs from the
// accepted one, decodes+transcodes the dataset via codecs. Load is
// idempotent: a second concurrent caller (the preloader racing the sender)
// observes loaded already true and is a no-op, per 4.H's race resolution.
func Load(r *Request, acceptedTS string, disableFileStreaming bool, preferred string, preferredParams codec.Params, registry *codec.Registry) error {
	if !atomic.CompareAndSwapInt32(&r.loaded, 0, 1) {
		return nil
	}

	if !disableFileStreaming && acceptedTS == r.FileSyntax {
		r.mu.Lock()
		r.stream = true
		r.streamTS = acceptedTS
		r.mu.Unlock()
		return nil
	}

	f, err := os.Open(r.Path)
	if err != nil {
		atomic.StoreInt32(&r.loaded, 0)
		return fmt.Errorf("scu: reopening %s to load dataset: %w", r.Path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		atomic.StoreInt32(&r.loaded, 0)
		return err
	}
	ds, err := dicom.Parse(f, info.Size(), nil)
	if err != nil {
		atomic.StoreInt32(&r.loaded, 0)
		return fmt.Errorf("scu: parsing dataset of %s: %w", r.Path, err)
	}

	sourceTS := r.FileSyntax
	params := codec.Params{}
	if acceptedTS == preferred {
		params = preferredParams
	}

	payload, err := transcode(codec.NewDataset(&ds), sourceTS, acceptedTS, params, registry)
	if err != nil {
		atomic.StoreInt32(&r.loaded, 0)
		return &codec.Error{Msg: fmt.Sprintf("transcoding %s from %s to %s", r.Path, sourceTS, acceptedTS), Err: err}
	}

	r.mu.Lock()
	r.dataset = payload
	r.stream = false
	r.streamTS = acceptedTS
	r.mu.Unlock()
	return nil
}

// transcode implements the rule from 4.G: if sourceTS is encapsulated,
// decode to ExplicitVRLittleEndian first; then, if targetTS is
// encapsulated, encode to it.
func transcode(ds *codec.Dataset, sourceTS, targetTS string, params codec.Params, registry *codec.Registry) ([]byte, error) {
	working := ds
	if registry.IsEncapsulated(sourceTS) {
		decoded, err := registry.Decode(working, sourceTS)
		if err != nil {
			return nil, err
		}
		working = decoded
	}
	if registry.IsEncapsulated(targetTS) {
		encoded, err := registry.Encode(working, targetTS, params)
		if err != nil {
			return nil, err
		}
		working = encoded
	}
	return codec.WriteDataset(working, targetTS)
}

// Unload releases the request's in-memory payload to cap memory, per 4.H.
// It also clears stream and resets streamTS to FileSyntax, so the effective
// transfer syntax equals the original TS and the next Load recomputes it
// from scratch.
// It is not undone by the preloader; only the sender calls it, after send.
func (r *Request) Unload() {
	atomic.StoreInt32(&r.loaded, 0)
	r.mu.Lock()
	r.dataset, r.stream, r.streamTS = nil, false, r.FileSyntax
	r.mu.Unlock()
}

// open returns a loadedRequest's dataset source: either the in-memory
// payload from a transcode, or a stream reading the already-framed file
// bytes starting after the File Meta group (r.metaLength, captured by
// Preload), for the streaming-bypass path.
func (r *Request) open() (*loadedRequest, error) {
	r.mu.Lock()
	stream, streamTS, dataset := r.stream, r.streamTS, r.dataset
	r.mu.Unlock()

	if stream {
		f, err := os.Open(r.Path)
		if err != nil {
			return nil, err
		}
		if _, err := f.Seek(r.metaLength, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
		return &loadedRequest{effectiveTS: streamTS, stream: true, reader: f}, nil
	}
	return &loadedRequest{effectiveTS: streamTS, stream: false, dataset: dataset}, nil
}
