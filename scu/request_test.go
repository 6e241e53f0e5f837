package scu

import (
	"testing"

	"github.com/dicomdul/duldicom/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestStatusString(t *testing.T) {
	cases := map[RequestStatus]string{
		StatusPending:              "Pending",
		StatusSuccess:              "Success",
		StatusSOPClassNotSupported: "SOPClassNotSupported",
		StatusProcessingFailure:    "ProcessingFailure",
		StatusServiceStatus:        "ServiceStatus",
		StatusCanceled:             "Canceled",
	}
	for status, want := range cases {
		assert.Equal(t, want, status.String())
	}
}

func TestRequestLoadIsIdempotent(t *testing.T) {
	r := &Request{
		Path:        "does-not-matter.dcm",
		SOPClassUID: "1.2.840.10008.5.1.4.1.1.7",
		FileSyntax:  "1.2.840.10008.1.2.1",
	}
	require.False(t, r.IsLoaded())

	err := Load(r, r.FileSyntax, false, "", codec.Params{}, nil)
	require.NoError(t, err)
	assert.True(t, r.IsLoaded())

	// A second Load call on an already-loaded request is a no-op and must
	// not attempt to reopen the (nonexistent) file.
	err = Load(r, r.FileSyntax, false, "", codec.Params{}, nil)
	assert.NoError(t, err)
}

func TestPreambleAndGroupLengthElementSizeMatchesPS3_10(t *testing.T) {
	// 128-byte preamble + 4-byte "DICM" magic + 12-byte explicit-VR UL
	// encoding of the FileMetaInformationGroupLength element itself.
	assert.EqualValues(t, 144, preambleAndGroupLengthElementSize)
}

func TestRequestResetClearsLoadedState(t *testing.T) {
	r := &Request{FileSyntax: "1.2.840.10008.1.2.1"}
	require.NoError(t, Load(r, r.FileSyntax, false, "", codec.Params{}, nil))
	r.setStatus(StatusSuccess, nil)

	r.Reset()

	assert.False(t, r.IsLoaded())
	status, err := r.Status()
	assert.Equal(t, StatusPending, status)
	assert.NoError(t, err)
}
