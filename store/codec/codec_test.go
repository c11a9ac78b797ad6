package codec

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := New()
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestCodec_Compress(t *testing.T) {
	c := newTestCodec(t)

	t.Run("small values stay identity", func(t *testing.T) {
		data := []byte("small")
		payload, tag := c.Compress(data)
		assert.Equal(t, TagIdentity, tag)
		assert.Equal(t, data, payload)
	})

	t.Run("large compressible values use zstd", func(t *testing.T) {
		data := bytes.Repeat([]byte("service worker "), 1000)
		payload, tag := c.Compress(data)
		assert.Equal(t, TagZstd, tag)
		assert.Less(t, len(payload), len(data))

		out, err := c.Decompress(payload, tag)
		require.NoError(t, err)
		assert.Equal(t, data, out)
	})

	t.Run("unknown tag", func(t *testing.T) {
		_, err := c.Decompress([]byte("x"), Tag(9))
		require.ErrorIs(t, err, ErrCorrupted)
	})

	t.Run("corrupted zstd payload", func(t *testing.T) {
		_, err := c.Decompress([]byte("not zstd"), TagZstd)
		require.ErrorIs(t, err, ErrCorrupted)
	})
}

func TestCodec_Value(t *testing.T) {
	c := newTestCodec(t)

	for _, data := range [][]byte{
		{},
		[]byte("value"),
		bytes.Repeat([]byte{0xab}, CompressionThreshold*4),
	} {
		encoded := c.EncodeValue(data)
		decoded, err := c.DecodeValue(encoded)
		require.NoError(t, err)
		assert.Equal(t, data, decoded)
	}

	_, err := c.DecodeValue(nil)
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestCodec_DecodeValueDoesNotAlias(t *testing.T) {
	c := newTestCodec(t)

	encoded := c.EncodeValue([]byte("abc"))
	decoded, err := c.DecodeValue(encoded)
	require.NoError(t, err)

	encoded[1] = 'z'
	assert.Equal(t, []byte("abc"), decoded)
}

func TestCodec_Closed(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	data := bytes.Repeat([]byte("a"), CompressionThreshold*2)
	payload, tag := c.Compress(data)
	require.Equal(t, TagZstd, tag)

	c.Close()
	c.Close()

	_, err = c.Decompress(payload, tag)
	require.ErrorIs(t, err, ErrClosed)
}

func TestStream(t *testing.T) {
	data := bytes.Repeat([]byte("importScripts('a.js');\n"), 500)

	var buf bytes.Buffer
	enc, err := NewStreamWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write(data)
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	dec, err := NewStreamReader(&buf)
	require.NoError(t, err)
	defer dec.Close()

	out, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}
