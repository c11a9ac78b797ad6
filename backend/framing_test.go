package backend

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFramingRoundTrip(t *testing.T) {
	header := &PartHeader{
		Kind:       PartBody,
		ResourceID: 42,
		Encoding:   EncodingZstd,
		WrittenAt:  time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
	payload := []byte("compressed bytes would go here")

	var buf bytes.Buffer
	require.NoError(t, WriteFramed(&buf, header, bytes.NewReader(payload)))

	got, r, err := ReadFramed(&buf)
	require.NoError(t, err)
	require.Equal(t, header.Kind, got.Kind)
	require.Equal(t, header.ResourceID, got.ResourceID)
	require.Equal(t, header.Encoding, got.Encoding)
	require.True(t, header.WrittenAt.Equal(got.WrittenAt))

	body, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, payload, body)
}

func TestWriteFrameHeaderThenStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrameHeader(&buf, &PartHeader{Kind: PartHead, ResourceID: 1, Encoding: EncodingIdentity}))
	_, _ = buf.WriteString("chunk-1")
	_, _ = buf.WriteString("chunk-2")

	header, r, err := ReadFramed(&buf)
	require.NoError(t, err)
	require.Equal(t, PartHead, header.Kind)

	body, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "chunk-1chunk-2", string(body))
}

func TestReadFramedInvalidMagic(t *testing.T) {
	_, _, err := ReadFramed(strings.NewReader("CCB1\x00\x00\x00\x02{}"))
	require.ErrorIs(t, err, ErrInvalidMagic)

	_, _, err = ReadFramed(strings.NewReader("SW"))
	require.Error(t, err)
}

func TestReadFramedHeaderTooLarge(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(MagicBytes)
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(MaxHeaderSize+1)))

	_, _, err := ReadFramed(&buf)
	require.ErrorIs(t, err, ErrHeaderTooLarge)
}

func TestReadFramedEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFramed(&buf, &PartHeader{Kind: PartMetadata, ResourceID: 7, Encoding: EncodingIdentity}, strings.NewReader("")))

	header, r, err := ReadFramed(&buf)
	require.NoError(t, err)
	require.Equal(t, PartMetadata, header.Kind)

	body, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Empty(t, body)
}
