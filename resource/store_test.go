package resource

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/swstore"
	"github.com/wolfeidau/swstore/backend"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *backend.Filesystem) {
	t.Helper()
	fs, err := backend.NewFilesystem(t.TempDir(), backend.WithNoSync())
	require.NoError(t, err)
	s, err := New(fs, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, fs
}

func testHead() *ResponseHead {
	return &ResponseHead{
		StatusCode: 200,
		StatusText: "OK",
		MIMEType:   "application/javascript",
		Headers: http.Header{
			"Content-Type":  {"application/javascript"},
			"Cache-Control": {"no-cache"},
		},
		ResponseTime: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func writeResource(t *testing.T, s *Store, id swstore.ResourceID, body []byte) {
	t.Helper()
	ctx := context.Background()
	w := s.NewWriter(id)
	_, err := w.WriteResponseHead(ctx, testHead())
	require.NoError(t, err)
	n, err := w.WriteData(ctx, body)
	require.NoError(t, err)
	require.Equal(t, len(body), n)
	require.NoError(t, w.Commit(ctx))
}

func readBody(t *testing.T, s *Store, id swstore.ResourceID, maxSize int64) ([]byte, error) {
	t.Helper()
	var buf bytes.Buffer
	n, err := s.NewReader(id).ReadData(context.Background(), &buf, maxSize)
	require.Equal(t, int64(buf.Len()), n)
	return buf.Bytes(), err
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	body := []byte("self.addEventListener('fetch', () => {});")
	writeResource(t, s, 1, body)

	n, err := s.NewMetadataWriter(1).WriteMetadata(ctx, []byte("v8 code cache"))
	require.NoError(t, err)
	assert.Equal(t, 13, n)

	result, err := s.NewReader(1).ReadResponseHead(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200, result.Head.StatusCode)
	assert.Equal(t, "application/javascript", result.Head.MIMEType)
	assert.Equal(t, int64(len(body)), result.Head.ContentLength)
	assert.Equal(t, swstore.HashBytes(body), result.Head.BodyChecksum)
	assert.Equal(t, []byte("v8 code cache"), result.Metadata)
	assert.Positive(t, result.HeadSize)

	got, err := readBody(t, s, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestStore_RoundTripWithoutCache(t *testing.T) {
	ctx := context.Background()
	s, fs := newTestStore(t)

	body := bytes.Repeat([]byte("importScripts('lib.js');\n"), 4096)
	writeResource(t, s, 7, body)

	// A second store over the same backend has a cold head cache.
	cold, err := New(fs)
	require.NoError(t, err)
	t.Cleanup(cold.Close)

	result, err := cold.NewReader(7).ReadResponseHead(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), result.Head.ContentLength)
	assert.Nil(t, result.Metadata)
	assert.Equal(t, []string{"no-cache"}, result.Head.Headers["Cache-Control"])

	got, err := readBody(t, cold, 7, 0)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestStore_ReadData_MaxSize(t *testing.T) {
	s, _ := newTestStore(t)
	body := []byte("0123456789")
	writeResource(t, s, 2, body)

	t.Run("partial read", func(t *testing.T) {
		got, err := readBody(t, s, 2, 4)
		require.NoError(t, err)
		assert.Equal(t, []byte("0123"), got)
	})

	t.Run("exact size", func(t *testing.T) {
		got, err := readBody(t, s, 2, 10)
		require.NoError(t, err)
		assert.Equal(t, body, got)
	})

	t.Run("larger than body", func(t *testing.T) {
		got, err := readBody(t, s, 2, 100)
		require.NoError(t, err)
		assert.Equal(t, body, got)
	})
}

func TestStore_CacheMiss(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.NewReader(99).ReadResponseHead(ctx)
	require.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, NetErrCacheMiss, NetErrorCode(err))

	_, err = readBody(t, s, 99, 0)
	require.ErrorIs(t, err, ErrCacheMiss)

	_, err = s.NewMetadataWriter(99).WriteMetadata(ctx, []byte("meta"))
	require.ErrorIs(t, err, ErrCacheMiss)
}

func TestWriter_DataBeforeHead(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	w := s.NewWriter(3)
	_, err := w.WriteData(ctx, []byte("body"))
	require.ErrorIs(t, err, ErrHeadNotWritten)
	require.ErrorIs(t, w.Commit(ctx), ErrHeadNotWritten)
}

func TestWriter_BodyVisibleOnlyAfterCommit(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	w := s.NewWriter(4)
	_, err := w.WriteResponseHead(ctx, testHead())
	require.NoError(t, err)
	_, err = w.WriteData(ctx, []byte("partial"))
	require.NoError(t, err)

	_, err = readBody(t, s, 4, 0)
	require.ErrorIs(t, err, ErrCacheMiss)

	result, err := s.NewReader(4).ReadResponseHead(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), result.Head.ContentLength)

	require.NoError(t, w.Close())
	got, err := readBody(t, s, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("partial"), got)

	_, err = w.WriteData(ctx, []byte("more"))
	require.ErrorIs(t, err, ErrWriterClosed)
}

func TestWriter_EmptyBody(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	w := s.NewWriter(5)
	_, err := w.WriteResponseHead(ctx, testHead())
	require.NoError(t, err)
	require.NoError(t, w.Commit(ctx))

	got, err := readBody(t, s, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriter_Abort(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	w := s.NewWriter(6)
	_, err := w.WriteResponseHead(ctx, testHead())
	require.NoError(t, err)
	_, err = w.WriteData(ctx, []byte("discard me"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())
	require.NoError(t, w.Abort())

	_, err = readBody(t, s, 6, 0)
	require.ErrorIs(t, err, ErrCacheMiss)
}

func TestMetadataWriter_EmptyRemoves(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	writeResource(t, s, 8, []byte("body"))

	mw := s.NewMetadataWriter(8)
	_, err := mw.WriteMetadata(ctx, []byte("first"))
	require.NoError(t, err)
	_, err = mw.WriteMetadata(ctx, []byte("second"))
	require.NoError(t, err)

	result, err := s.NewReader(8).ReadResponseHead(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), result.Metadata)

	n, err := mw.WriteMetadata(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	result, err = s.NewReader(8).ReadResponseHead(ctx)
	require.NoError(t, err)
	assert.Nil(t, result.Metadata)
}

func TestStore_Doom(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	writeResource(t, s, 9, []byte("doomed"))
	_, err := s.NewMetadataWriter(9).WriteMetadata(ctx, []byte("meta"))
	require.NoError(t, err)

	require.NoError(t, s.Doom(ctx, 9))
	require.NoError(t, s.Doom(ctx, 9), "doom should be idempotent")

	_, err = s.NewReader(9).ReadResponseHead(ctx)
	require.ErrorIs(t, err, ErrCacheMiss)
	_, err = readBody(t, s, 9, 0)
	require.ErrorIs(t, err, ErrCacheMiss)

	exists, err := s.Exists(ctx, 9)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	s, fs := newTestStore(t)
	writeResource(t, s, 10, []byte("original body"))

	var buf bytes.Buffer
	require.NoError(t, backend.WriteFramed(&buf, &backend.PartHeader{
		Kind:       backend.PartBody,
		ResourceID: 10,
		Encoding:   backend.EncodingIdentity,
	}, strings.NewReader("tampered body")))
	require.NoError(t, fs.Write(ctx, partKey(10, backend.PartBody), &buf))

	_, err := readBody(t, s, 10, 0)
	require.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Equal(t, NetErrFailed, NetErrorCode(err))

	// A partial read cannot be verified.
	got, err := readBody(t, s, 10, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("tamp"), got)
}

func TestStore_ResourceIDs(t *testing.T) {
	ctx := context.Background()
	s, fs := newTestStore(t)

	ids, err := s.ResourceIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	writeResource(t, s, 300, []byte("a"))
	writeResource(t, s, 44, []byte("b"))
	writeResource(t, s, 556, []byte("c"))
	require.NoError(t, fs.Write(ctx, "resources/zz/not-an-id/head", strings.NewReader("junk")))

	ids, err = s.ResourceIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []swstore.ResourceID{44, 300, 556}, ids)
}

func TestParseResourceKey(t *testing.T) {
	id, ok := parseResourceKey(partKey(300, backend.PartBody))
	require.True(t, ok)
	assert.Equal(t, swstore.ResourceID(300), id)

	for _, key := range []string{
		"resources/2c/300",
		"resources/00/300/head",
		"other/2c/300/head",
		"resources/2c/-1/head",
	} {
		_, ok := parseResourceKey(key)
		assert.False(t, ok, key)
	}
}

func TestNetErrorCode(t *testing.T) {
	assert.Equal(t, NetOK, NetErrorCode(nil))
	assert.Equal(t, NetErrCacheMiss, NetErrorCode(ErrCacheMiss))
	assert.Equal(t, NetErrFailed, NetErrorCode(ErrHeadNotWritten))
}
