package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJPEGBaselineRoundTrip(t *testing.T) {
	c := jpegBaselineCodec{}

	native := make([]byte, 16*16)
	for i := range native {
		native[i] = byte(i)
	}

	encoded, err := c.Encode(native, Params{Quality: 95})
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)

	decoded, err := c.Decode(encoded, Params{})
	require.NoError(t, err)
	assert.Len(t, decoded, len(native))
}

func TestScanHeaderForPrecision(t *testing.T) {
	c := jpegBaselineCodec{}
	native := make([]byte, 8*8)
	encoded, err := c.Encode(native, Params{Quality: 80})
	require.NoError(t, err)

	precision, err := c.ScanHeaderForPrecision(encoded)
	require.NoError(t, err)
	assert.Equal(t, 8, precision)
}

func TestRegistryIsEncapsulated(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.IsEncapsulated(JPEGBaselineProcess1))
	assert.False(t, r.IsEncapsulated(explicitVRLittleEndian))
	assert.True(t, r.HasCodec(JPEGBaselineProcess2And4))
}
