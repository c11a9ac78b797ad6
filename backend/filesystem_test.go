package backend

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFilesystem(t *testing.T) *Filesystem {
	t.Helper()
	fs, err := NewFilesystem(t.TempDir(), WithNoSync())
	require.NoError(t, err)
	return fs
}

func readAll(t *testing.T, b Backend, key string) []byte {
	t.Helper()
	rc, err := b.Read(context.Background(), key)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	return got
}

func TestNewFilesystem(t *testing.T) {
	root := filepath.Join(t.TempDir(), "resources")

	fs, err := NewFilesystem(root)
	require.NoError(t, err)
	require.Equal(t, root, fs.Root())

	info, err := os.Stat(root)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestFilesystemWriteRead(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	data := []byte("self.addEventListener('fetch', () => {})")

	require.NoError(t, fs.Write(ctx, "resources/01/1/body", bytes.NewReader(data)))
	require.Equal(t, data, readAll(t, fs, "resources/01/1/body"))

	size, err := fs.Size(ctx, "resources/01/1/body")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), size)
}

func TestFilesystemNotFound(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	_, err := fs.Read(ctx, "resources/ff/255/head")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = fs.Size(ctx, "resources/ff/255/head")
	require.ErrorIs(t, err, ErrNotFound)

	exists, err := fs.Exists(ctx, "resources/ff/255/head")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, fs.Delete(ctx, "resources/ff/255/head"), "delete is idempotent")
}

func TestFilesystemDeletePrefix(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	for _, key := range []string{"resources/02/2/head", "resources/02/2/body", "resources/02/2/meta", "resources/03/3/head"} {
		require.NoError(t, fs.Write(ctx, key, bytes.NewReader([]byte("x"))))
	}

	require.NoError(t, fs.DeletePrefix(ctx, "resources/02/2"))
	require.NoError(t, fs.DeletePrefix(ctx, "resources/02/2"), "delete prefix is idempotent")

	keys, err := fs.List(ctx, "resources")
	require.NoError(t, err)
	require.Equal(t, []string{"resources/03/3/head"}, keys)

	require.Error(t, fs.DeletePrefix(ctx, ""), "the root must never be removed")
}

func TestFilesystemList(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	keys := []string{
		"resources/01/1/head",
		"resources/01/1/body",
		"resources/01/257/head",
		"other/file.txt",
	}
	for _, key := range keys {
		require.NoError(t, fs.Write(ctx, key, bytes.NewReader([]byte("data"))))
	}

	all, err := fs.List(ctx, "")
	require.NoError(t, err)
	sort.Strings(all)
	sort.Strings(keys)
	require.Equal(t, keys, all)

	got, err := fs.List(ctx, "resources/01")
	require.NoError(t, err)
	sort.Strings(got)
	require.Equal(t, []string{"resources/01/1/body", "resources/01/1/head", "resources/01/257/head"}, got)

	missing, err := fs.List(ctx, "nothing/here")
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestFilesystemWriter(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	w, err := fs.Writer(ctx, "resources/04/4/body")
	require.NoError(t, err)

	_, err = w.Write([]byte("first chunk "))
	require.NoError(t, err)

	exists, err := fs.Exists(ctx, "resources/04/4/body")
	require.NoError(t, err)
	require.False(t, exists, "data is invisible until the writer is closed")

	_, err = w.Write([]byte("second chunk"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "close is idempotent")

	require.Equal(t, []byte("first chunk second chunk"), readAll(t, fs, "resources/04/4/body"))

	keys, err := fs.List(ctx, "resources/04")
	require.NoError(t, err)
	require.Equal(t, []string{"resources/04/4/body"}, keys, "no temp files are left behind")
}

func TestFilesystemAbortKeepsPreviousValue(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	key := "resources/05/5/meta"
	original := []byte("original metadata")

	require.NoError(t, fs.Write(ctx, key, bytes.NewReader(original)))

	w, err := fs.Writer(ctx, key)
	require.NoError(t, err)
	_, _ = w.Write([]byte("partial"))
	require.NoError(t, Abort(w))

	require.Equal(t, original, readAll(t, fs, key))

	keys, err := fs.List(ctx, "resources/05")
	require.NoError(t, err)
	require.Equal(t, []string{key}, keys)
}

func TestFilesystemOverwrite(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	key := "resources/06/6/head"

	require.NoError(t, fs.Write(ctx, key, bytes.NewReader([]byte("initial"))))
	newData := []byte("new content that is longer")
	require.NoError(t, fs.Write(ctx, key, bytes.NewReader(newData)))

	require.Equal(t, newData, readAll(t, fs, key))
}
