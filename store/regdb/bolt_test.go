package regdb

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/swstore"
)

func newTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	db := New(append([]Option{WithNoSync(true)}, opts...)...)
	dbPath := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, db.Open(dbPath))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDB_NotOpen(t *testing.T) {
	ctx := context.Background()
	db := New()

	_, err := db.NextRegistrationID(ctx)
	require.ErrorIs(t, err, ErrNotOpen)
	require.ErrorIs(t, err, swstore.ErrFailed)

	_, err = db.FindRegistrationForScope(ctx, "https://a.example/")
	require.ErrorIs(t, err, ErrNotOpen)

	require.NoError(t, db.Close(), "close of an unopened db is a no-op")
}

func TestDB_Counters(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db := New(WithNoSync(true))
	require.NoError(t, db.Open(dbPath))

	for want := swstore.RegistrationID(0); want < 3; want++ {
		id, err := db.NextRegistrationID(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}

	vid, err := db.NextVersionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, swstore.VersionID(0), vid)

	peek, err := db.PeekNextResourceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, swstore.ResourceID(0), peek)

	rid, err := db.NextResourceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, swstore.ResourceID(0), rid)
	require.NoError(t, db.Close())

	t.Run("ids are not reused after reopen", func(t *testing.T) {
		db := New(WithNoSync(true))
		require.NoError(t, db.Open(dbPath))
		t.Cleanup(func() { _ = db.Close() })

		id, err := db.NextRegistrationID(ctx)
		require.NoError(t, err)
		assert.Equal(t, swstore.RegistrationID(3), id)

		peek, err := db.PeekNextResourceID(ctx)
		require.NoError(t, err)
		assert.Equal(t, swstore.ResourceID(1), peek)

		rid, err := db.NextResourceID(ctx)
		require.NoError(t, err)
		assert.Equal(t, swstore.ResourceID(1), rid)
	})
}

func TestKeys(t *testing.T) {
	t.Run("registration key", func(t *testing.T) {
		key := makeRegistrationKey("https://a.example", "https://a.example/scope/")
		origin, scope := parseRegistrationKey(key)
		assert.Equal(t, swstore.Origin("https://a.example"), origin)
		assert.Equal(t, "https://a.example/scope/", scope)
	})

	t.Run("user data key", func(t *testing.T) {
		id, key := parseUserDataKey(makeUserDataKey(42, "cache:v1"))
		assert.Equal(t, swstore.RegistrationID(42), id)
		assert.Equal(t, "cache:v1", key)
	})

	t.Run("user data index key", func(t *testing.T) {
		key, id := parseUserDataIndexKey(makeUserDataIndexKey("cache:v1", 7))
		assert.Equal(t, "cache:v1", key)
		assert.Equal(t, swstore.RegistrationID(7), id)
	})

	t.Run("ids sort numerically", func(t *testing.T) {
		assert.Negative(t, bytes.Compare(encodeID(255), encodeID(256)))
		assert.Equal(t, int64(256), decodeID(encodeID(256)))
		assert.Equal(t, int64(-1), decodeID([]byte{1}))
	})

	t.Run("user data key validation", func(t *testing.T) {
		assert.True(t, validUserDataKey("k"))
		assert.False(t, validUserDataKey(""))
		assert.False(t, validUserDataKey("a\x00b"))
	})
}
