// Package backend provides the byte store that resource parts are written to.
package backend

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a key does not exist in the backend.
var ErrNotFound = errors.New("backend: not found")

// Backend stores opaque byte blobs under slash separated keys.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Write stores data at the given key, replacing any existing value.
	Write(ctx context.Context, key string, r io.Reader) error

	// Read returns ErrNotFound if the key does not exist.
	// The caller must close the returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete is idempotent.
	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// WriterBackend extends Backend with streaming writes.
type WriterBackend interface {
	Backend

	// Writer returns a WriteCloser for the given key.
	// The write is only committed when Close returns nil. Writers that also
	// implement Aborter discard their data on Abort.
	Writer(ctx context.Context, key string) (io.WriteCloser, error)

	// DeletePrefix removes every key under prefix. Idempotent.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Aborter is implemented by writers that can discard an uncommitted write.
type Aborter interface {
	Abort() error
}

// Abort discards w if it supports aborting, otherwise it closes it.
func Abort(w io.WriteCloser) error {
	if a, ok := w.(Aborter); ok {
		return a.Abort()
	}
	return w.Close()
}
