package scu

import (
	"testing"

	"github.com/dicomdul/duldicom/dimse"
	"github.com/stretchr/testify/assert"
)

func TestRecordObservedSyntaxDedupesAndPreservesOrder(t *testing.T) {
	o := NewOrchestrator("127.0.0.1:104", Options{}, nil, nil, nil)

	o.recordObservedSyntax("1.2.840.10008.5.1.4.1.1.7", "1.2.840.10008.1.2")
	o.recordObservedSyntax("1.2.840.10008.5.1.4.1.1.7", "1.2.840.10008.1.2.1")
	o.recordObservedSyntax("1.2.840.10008.5.1.4.1.1.7", "1.2.840.10008.1.2") // duplicate

	got := o.proposal()["1.2.840.10008.5.1.4.1.1.7"]
	assert.Equal(t, []string{"1.2.840.10008.1.2", "1.2.840.10008.1.2.1"}, got)
}

func TestStatusFromDimse(t *testing.T) {
	assert.Equal(t, StatusSuccess, statusFromDimse(dimse.StatusSuccess))
	assert.Equal(t, StatusServiceStatus, statusFromDimse(dimse.StatusCode(0xA700)))
}

func TestCancelObservedByIsCanceled(t *testing.T) {
	o := NewOrchestrator("127.0.0.1:104", Options{}, nil, nil, nil)
	assert.False(t, o.isCanceled())
	o.Cancel(false)
	assert.True(t, o.isCanceled())
}

func TestNopObserverDoesNotPanic(t *testing.T) {
	obs := NopObserver()
	obs.OnCStoreRequestBegin(nil)
	obs.OnCStoreResponseReceived(nil, dimse.Success)
	obs.OnCStoreRequestFailed(nil, StatusProcessingFailure, nil)
	obs.OnNetworkError(nil)
	obs.OnConnectionClosed()
}
