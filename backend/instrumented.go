package backend

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/wolfeidau/swstore/telemetry"
)

// InstrumentedBackend wraps a WriterBackend with metrics recording.
type InstrumentedBackend struct {
	backend WriterBackend
	name    string
}

// NewInstrumentedBackend creates a new instrumented backend wrapper.
func NewInstrumentedBackend(b WriterBackend, name string) *InstrumentedBackend {
	return &InstrumentedBackend{backend: b, name: name}
}

func (ib *InstrumentedBackend) Write(ctx context.Context, key string, r io.Reader) error {
	start := time.Now()
	cr := &countingReader{r: r}
	err := ib.backend.Write(ctx, key, cr)
	telemetry.RecordBackendOp(ctx, ib.name, "write", outcomeFromError(err), time.Since(start), cr.n)
	return err
}

// Read records the open immediately and the bytes read when the reader is
// closed.
func (ib *InstrumentedBackend) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := ib.backend.Read(ctx, key)
	if err != nil {
		telemetry.RecordBackendOp(ctx, ib.name, "read", outcomeFromError(err), time.Since(start), 0)
		return nil, err
	}
	return &countingReadCloser{
		countingReader: countingReader{r: rc},
		closer:         rc,
		onClose: func(n int64) {
			telemetry.RecordBackendOp(ctx, ib.name, "read", "success", time.Since(start), n)
		},
	}, nil
}

func (ib *InstrumentedBackend) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := ib.backend.Delete(ctx, key)
	telemetry.RecordBackendOp(ctx, ib.name, "delete", outcomeFromError(err), time.Since(start), 0)
	return err
}

func (ib *InstrumentedBackend) DeletePrefix(ctx context.Context, prefix string) error {
	start := time.Now()
	err := ib.backend.DeletePrefix(ctx, prefix)
	telemetry.RecordBackendOp(ctx, ib.name, "delete_prefix", outcomeFromError(err), time.Since(start), 0)
	return err
}

func (ib *InstrumentedBackend) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	exists, err := ib.backend.Exists(ctx, key)
	telemetry.RecordBackendOp(ctx, ib.name, "exists", outcomeFromError(err), time.Since(start), 0)
	return exists, err
}

func (ib *InstrumentedBackend) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := ib.backend.List(ctx, prefix)
	telemetry.RecordBackendOp(ctx, ib.name, "list", outcomeFromError(err), time.Since(start), 0)
	return keys, err
}

// Writer records the bytes written when the returned writer is committed or
// aborted.
func (ib *InstrumentedBackend) Writer(ctx context.Context, key string) (io.WriteCloser, error) {
	start := time.Now()
	wc, err := ib.backend.Writer(ctx, key)
	if err != nil {
		telemetry.RecordBackendOp(ctx, ib.name, "writer", outcomeFromError(err), time.Since(start), 0)
		return nil, err
	}
	return &countingWriter{
		w: wc,
		onDone: func(n int64, outcome string) {
			telemetry.RecordBackendOp(ctx, ib.name, "writer", outcome, time.Since(start), n)
		},
	}, nil
}

// Unwrap returns the underlying backend.
func (ib *InstrumentedBackend) Unwrap() WriterBackend {
	return ib.backend
}

func outcomeFromError(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, ErrNotFound) {
		return "not_found"
	}
	return "error"
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

type countingReadCloser struct {
	countingReader
	closer  io.Closer
	onClose func(n int64)
	closed  bool
}

func (c *countingReadCloser) Close() error {
	if !c.closed {
		c.closed = true
		c.onClose(c.n)
	}
	return c.closer.Close()
}

type countingWriter struct {
	w      io.WriteCloser
	n      int64
	onDone func(n int64, outcome string)
	done   bool
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (c *countingWriter) Close() error {
	err := c.w.Close()
	c.finish(outcomeFromError(err))
	return err
}

func (c *countingWriter) Abort() error {
	err := Abort(c.w)
	c.finish("aborted")
	return err
}

func (c *countingWriter) finish(outcome string) {
	if c.done {
		return
	}
	c.done = true
	c.onDone(c.n, outcome)
}

var (
	_ WriterBackend = (*InstrumentedBackend)(nil)
	_ Aborter       = (*countingWriter)(nil)
)
