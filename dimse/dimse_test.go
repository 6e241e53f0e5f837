package dimse

import (
	"bytes"
	"testing"

	"github.com/dicomdul/duldicom/pdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
)

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, EncodeMessage(&buf, msg))

	cmdset, err := dicom.Parse(bytes.NewReader(buf.Bytes()), int64(buf.Len()), nil,
		dicom.SkipPixelData(), dicom.SkipMetadataReadOnNewParserInit())
	require.NoError(t, err)
	decoded, err := ReadMessage(&cmdset)
	require.NoError(t, err)
	return decoded
}

func TestCEchoRqRoundTrip(t *testing.T) {
	rq := &CEchoRq{MessageID: 7, CommandDataSetType: CommandDataSetTypeNull}
	got := roundTrip(t, rq)
	echo, ok := got.(*CEchoRq)
	require.True(t, ok)
	assert.Equal(t, rq.MessageID, echo.MessageID)
	assert.False(t, echo.HasData())
}

func TestCEchoRspRoundTrip(t *testing.T) {
	rsp := &CEchoRsp{
		MessageIDBeingRespondedTo: 7,
		CommandDataSetType:        CommandDataSetTypeNull,
		Status:                    Success,
	}
	got := roundTrip(t, rsp)
	echo, ok := got.(*CEchoRsp)
	require.True(t, ok)
	assert.Equal(t, rsp.MessageIDBeingRespondedTo, echo.MessageIDBeingRespondedTo)
	assert.Equal(t, StatusSuccess, echo.Status.Status)
}

func TestCStoreRqRoundTrip(t *testing.T) {
	rq := &CStoreRq{
		AffectedSOPClassUID:    "1.2.840.10008.5.1.4.1.1.7",
		MessageID:              3,
		Priority:               0,
		CommandDataSetType:     CommandDataSetTypeNonNull,
		AffectedSOPInstanceUID: "1.2.3.4.5",
	}
	got := roundTrip(t, rq)
	store, ok := got.(*CStoreRq)
	require.True(t, ok)
	assert.Equal(t, rq.AffectedSOPClassUID, store.AffectedSOPClassUID)
	assert.Equal(t, rq.AffectedSOPInstanceUID, store.AffectedSOPInstanceUID)
	assert.True(t, store.HasData())
}

func TestCStoreRspStatusRoundTrip(t *testing.T) {
	rsp := &CStoreRsp{
		AffectedSOPClassUID:       "1.2.840.10008.5.1.4.1.1.7",
		MessageIDBeingRespondedTo: 3,
		CommandDataSetType:        CommandDataSetTypeNull,
		AffectedSOPInstanceUID:    "1.2.3.4.5",
		Status:                    Status{Status: CStoreCannotUnderstand, ErrorComment: "bad transfer syntax"},
	}
	got := roundTrip(t, rsp)
	store, ok := got.(*CStoreRsp)
	require.True(t, ok)
	assert.Equal(t, CStoreCannotUnderstand, store.Status.Status)
	assert.Equal(t, "bad transfer syntax", store.Status.ErrorComment)
}

func TestAssemblerReassemblesFragmentedCommand(t *testing.T) {
	rq := &CEchoRq{MessageID: 1, CommandDataSetType: CommandDataSetTypeNull}
	var cmdBuf bytes.Buffer
	require.NoError(t, EncodeMessage(&cmdBuf, rq))
	full := cmdBuf.Bytes()
	mid := len(full) / 2

	a := NewAssembler(nil, false, "")
	_, msg, _, err := a.AddPDV(pdu.PresentationDataValueItem{ContextID: 1, Command: true, Last: false, Value: full[:mid]})
	require.NoError(t, err)
	assert.Nil(t, msg)

	_, msg, dataset, err := a.AddPDV(pdu.PresentationDataValueItem{ContextID: 1, Command: true, Last: true, Value: full[mid:]})
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Nil(t, dataset)
	echo, ok := msg.(*CEchoRq)
	require.True(t, ok)
	assert.Equal(t, MessageID(1), echo.MessageID)
}

func TestEmitterFragmentsLargeDataset(t *testing.T) {
	rq := &CStoreRq{
		AffectedSOPClassUID:    "1.2.840.10008.5.1.4.1.1.7",
		MessageID:              1,
		CommandDataSetType:     CommandDataSetTypeNonNull,
		AffectedSOPInstanceUID: "1.2.3.4.5",
	}
	dataset := bytes.Repeat([]byte{0xAB}, 5000)
	var out bytes.Buffer
	e := NewEmitter(&out, 256, nil)
	require.NoError(t, e.Send(1, rq, bytes.NewReader(dataset)))

	var pdvCount int
	var reassembled []byte
	r := bytes.NewReader(out.Bytes())
	a := NewAssembler(nil, false, "")
	for {
		p, err := pdu.ReadPDU(r, 1<<20)
		if err != nil {
			break
		}
		dataTF, ok := p.(*pdu.PDataTF)
		require.True(t, ok)
		for _, item := range dataTF.Items {
			pdvCount++
			_, msg, ds, aerr := a.AddPDV(item)
			require.NoError(t, aerr)
			if msg != nil && ds != nil {
				reassembled = ds.InMemory
			}
		}
	}
	assert.Greater(t, pdvCount, 1)
	assert.Equal(t, dataset, reassembled)
}
