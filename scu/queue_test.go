package scu

import (
	"context"
	"testing"
	"time"

	"github.com/dicomdul/duldicom/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreloadQueueFIFO(t *testing.T) {
	q := NewPreloadQueue(codec.NewRegistry(), false, "", codec.Params{}, 2)
	a := &Request{Path: "a.dcm"}
	b := &Request{Path: "b.dcm"}
	c := &Request{Path: "c.dcm"}

	q.Push(a)
	q.Push(b)
	require.Equal(t, 2, q.Len())

	q.PushFront(c)
	assert.Equal(t, c, q.Pop())
	assert.Equal(t, a, q.Pop())
	assert.Equal(t, b, q.Pop())
	assert.Nil(t, q.Pop())
	assert.Equal(t, 0, q.Len())
}

func TestPreloadQueuePreloadSkipsLoaded(t *testing.T) {
	// disableStreaming=false and FileSyntax==acceptedTS drive Load down the
	// streaming branch, which never touches disk, so the fixture path
	// doesn't need to exist.
	q := NewPreloadQueue(codec.NewRegistry(), false, "", codec.Params{}, 1)
	r := &Request{
		Path:        "a.dcm",
		SOPClassUID: "1.2.840.10008.5.1.4.1.1.7",
		FileSyntax:  "1.2.840.10008.1.2.1",
	}
	q.Push(r)

	accepted := func(string) (string, bool) {
		return "1.2.840.10008.1.2.1", true
	}
	q.Preload(context.Background(), 1, accepted)

	require.Eventually(t, r.IsLoaded, time.Second, time.Millisecond)

	// A second Preload pass must not re-trigger a load of an already-loaded
	// request.
	q.Push(r)
	q.Preload(context.Background(), 1, func(string) (string, bool) {
		t.Fatal("accepted callback invoked for an already-loaded request")
		return "", false
	})
	assert.True(t, r.IsLoaded())
}
