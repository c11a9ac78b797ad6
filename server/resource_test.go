package server

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/swstore"
	"github.com/wolfeidau/swstore/resource"
)

func TestServer_Resource(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, Config{})
	c := s.Control()

	body := []byte("self.addEventListener('install', () => {});")
	id, err := c.GetNewResourceID(ctx)
	require.NoError(t, err)
	w, err := c.CreateResourceWriter(ctx, id)
	require.NoError(t, err)
	_, err = w.WriteResponseHead(ctx, &resource.ResponseHead{
		StatusCode: http.StatusOK,
		StatusText: "OK",
		MIMEType:   "text/javascript",
	})
	require.NoError(t, err)
	_, err = w.WriteData(ctx, body)
	require.NoError(t, err)
	require.NoError(t, w.Commit(ctx))

	sum := swstore.HashBytes(body)
	target := fmt.Sprintf("/resources/%d", id)

	t.Run("describe", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, target, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		view := decode[resourceView](t, rec)
		assert.Equal(t, id, view.ResourceID)
		assert.Equal(t, "text/javascript", view.MIMEType)
		assert.Equal(t, int64(len(body)), view.ContentLength)
		assert.Equal(t, sum, view.BodyChecksum)
	})

	t.Run("matching checksum", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, target+"?checksum="+sum.String(), nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("different checksum", func(t *testing.T) {
		other := swstore.HashBytes([]byte("other"))
		rec := do(t, s, http.MethodGet, target+"?checksum="+other.String(), nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, sum, decode[resourceView](t, rec).BodyChecksum)
	})

	t.Run("malformed checksum", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, target+"?checksum=abc", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing resource", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, fmt.Sprintf("/resources/%d", id+100), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/resources/x", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
