package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/swstore"
	"github.com/wolfeidau/swstore/control"
)

const (
	testScope  = "https://a.example/"
	testScript = "https://a.example/sw.js"
	testOrigin = swstore.Origin("https://a.example")
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.StoragePath = t.TempDir()
	cfg.NoSync = true
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { _ = s.Control().Close(context.Background()) })
	return s
}

// seedRegistration stores one registration with a single resource.
func seedRegistration(t *testing.T, c *control.Control) swstore.RegistrationID {
	t.Helper()
	ctx := context.Background()
	regID, err := c.GetNewRegistrationID(ctx)
	require.NoError(t, err)
	version, ref, err := c.GetNewVersionID(ctx)
	require.NoError(t, err)
	defer ref.Release()
	resID, err := c.GetNewResourceID(ctx)
	require.NoError(t, err)

	data := swstore.NewRegistrationData(regID, testScope, testScript, version)
	require.NoError(t, c.StoreRegistration(ctx, data, []swstore.ResourceRecord{
		{ResourceID: resID, URL: testScript, SizeBytes: 42},
	}))
	require.NoError(t, c.StoreUserData(ctx, regID, testOrigin, map[string][]byte{
		"push:sub": []byte("endpoint"),
		"sync:tag": []byte("daily"),
	}))
	return regID
}

func do(t *testing.T, s *Server, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	body := decode[map[string]string](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, s.Control().SessionID(), body["session_id"])
}

func TestServer_RequestIDPropagated(t *testing.T) {
	s := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestServer_Registrations(t *testing.T) {
	s := newTestServer(t, Config{})
	regID := seedRegistration(t, s.Control())

	t.Run("origins", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/origins", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[[]originUsage](t, rec)
		assert.Equal(t, []originUsage{{Origin: testOrigin, UsageBytes: 42}}, got)
	})

	t.Run("list all", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/registrations", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[[]registrationView](t, rec)
		require.Len(t, got, 1)
		assert.Equal(t, testScope, got[0].Registration.Scope)
	})

	t.Run("list by origin", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/registrations?origin=https://a.example", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[[]registrationView](t, rec)
		require.Len(t, got, 1)
		require.Len(t, got[0].Resources, 1)
		assert.Equal(t, testScript, got[0].Resources[0].URL)
	})

	t.Run("invalid origin", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/registrations?origin=https://a.example/path", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/registrations/"+regID.String(), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[registrationView](t, rec)
		assert.Equal(t, regID, got.Registration.RegistrationID)
		assert.Equal(t, int64(42), got.Registration.ResourcesTotalSizeBytes)
	})

	t.Run("user data", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/registrations/"+regID.String()+"/userdata?prefix=push:", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[map[string][]byte](t, rec)
		assert.Equal(t, map[string][]byte{"sub": []byte("endpoint")}, got)
	})

	t.Run("bad id", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/registrations/abc", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		rec := do(t, s, http.MethodDelete, "/registrations/"+regID.String(), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "delete", decode[map[string]string](t, rec)["origin_state"])

		rec = do(t, s, http.MethodGet, "/registrations/"+regID.String(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_Admin(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := do(t, s, http.MethodGet, "/admin/gc/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "never_run", decode[map[string]string](t, rec)["status"])

	rec = do(t, s, http.MethodPost, "/admin/gc", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/admin/gc/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "orphans_purged")

	rec = do(t, s, http.MethodPost, "/admin/cleanup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[map[string]int](t, rec)["purged"])

	rec = do(t, s, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[control.Stats](t, rec)
	assert.True(t, stats.Initialized)
}

func TestServer_Policy(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := do(t, s, http.MethodPut, "/admin/policy",
		strings.NewReader(`[{"origin":"https://a.example","purge_on_shutdown":true}]`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[map[string]int](t, rec)["applied"])

	rec = do(t, s, http.MethodPut, "/admin/policy", strings.NewReader(`{`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPut, "/admin/policy", strings.NewReader(`[{"origin":"not a url"}]`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Disabled(t *testing.T) {
	s := newTestServer(t, Config{})
	require.NoError(t, s.Control().Disable(context.Background()))

	rec := do(t, s, http.MethodGet, "/origins", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_AuthToken(t *testing.T) {
	s := newTestServer(t, Config{AuthToken: "secret"})

	rec := do(t, s, http.MethodGet, "/origins", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/origins", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
