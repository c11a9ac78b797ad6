package resource

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/wolfeidau/swstore"
	"github.com/wolfeidau/swstore/backend"
	"github.com/wolfeidau/swstore/store/codec"
	"github.com/wolfeidau/swstore/telemetry"
)

// Writer writes one resource: the response head first, then the body.
// The body becomes readable when the writer is committed.
// A Writer is not safe for concurrent use.
type Writer struct {
	store *Store
	id    swstore.ResourceID

	head   *ResponseHead
	body   io.WriteCloser
	enc    *zstd.Encoder
	hasher *swstore.HashingWriter
	closed bool
}

// ID returns the resource id being written.
func (w *Writer) ID() swstore.ResourceID { return w.id }

// WriteResponseHead stores the response head and returns its encoded size.
// It may be called again before the body is written to replace the head.
func (w *Writer) WriteResponseHead(ctx context.Context, head *ResponseHead) (int, error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	if head == nil {
		return 0, fmt.Errorf("%w: nil response head", swstore.ErrFailed)
	}

	h := head.Clone()
	h.ContentLength = -1
	h.BodyChecksum = swstore.Hash{}

	n, err := w.store.writeHead(ctx, w.id, h)
	if err != nil {
		return 0, err
	}
	w.head = h
	return n, nil
}

// WriteData appends p to the body and returns len(p).
func (w *Writer) WriteData(ctx context.Context, p []byte) (int, error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	if w.head == nil {
		return 0, ErrHeadNotWritten
	}
	if w.body == nil {
		if err := w.openBody(ctx); err != nil {
			return 0, err
		}
	}

	n, err := w.hasher.Write(p)
	if err != nil {
		return n, fmt.Errorf("writing body of resource %d: %w", w.id, err)
	}
	return n, nil
}

func (w *Writer) openBody(ctx context.Context) error {
	body, err := w.store.backend.Writer(ctx, partKey(w.id, backend.PartBody))
	if err != nil {
		return fmt.Errorf("opening body of resource %d: %w", w.id, err)
	}

	header := &backend.PartHeader{
		Kind:       backend.PartBody,
		ResourceID: int64(w.id),
		Encoding:   backend.EncodingZstd,
		WrittenAt:  w.store.now().UTC(),
	}
	if err := backend.WriteFrameHeader(body, header); err != nil {
		_ = backend.Abort(body)
		return fmt.Errorf("framing body of resource %d: %w", w.id, err)
	}

	enc, err := codec.NewStreamWriter(body)
	if err != nil {
		_ = backend.Abort(body)
		return err
	}

	w.body = body
	w.enc = enc
	w.hasher = swstore.NewHashingWriter(enc)
	return nil
}

// Commit makes the body readable and records its length and checksum in
// the head. A writer with a head but no body data commits an empty body.
func (w *Writer) Commit(ctx context.Context) error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.head == nil {
		w.closed = true
		return ErrHeadNotWritten
	}
	if w.body == nil {
		if err := w.openBody(ctx); err != nil {
			w.closed = true
			return err
		}
	}
	w.closed = true

	if err := w.enc.Close(); err != nil {
		_ = backend.Abort(w.body)
		return fmt.Errorf("flushing body of resource %d: %w", w.id, err)
	}
	if err := w.body.Close(); err != nil {
		return fmt.Errorf("committing body of resource %d: %w", w.id, err)
	}

	w.head.ContentLength = w.hasher.BytesWritten()
	w.head.BodyChecksum = w.hasher.Sum()
	if _, err := w.store.writeHead(ctx, w.id, w.head); err != nil {
		return err
	}

	telemetry.RecordResourceIO(ctx, "write", w.head.ContentLength)
	w.store.logger.Debug("resource committed",
		"resource_id", w.id,
		"size", w.head.ContentLength,
		"checksum", w.head.BodyChecksum.ShortString(),
	)
	return nil
}

// Close commits the writer.
func (w *Writer) Close() error {
	return w.Commit(context.Background())
}

// Abort discards any uncommitted body data. A head that was already
// written stays until the resource is doomed.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.body == nil {
		return nil
	}
	w.enc.Reset(io.Discard)
	_ = w.enc.Close()
	return backend.Abort(w.body)
}

// MetadataWriter replaces the metadata of an existing resource.
type MetadataWriter struct {
	store *Store
	id    swstore.ResourceID
}

// WriteMetadata stores p as the resource metadata and returns len(p).
// Writing empty metadata removes it. Returns ErrCacheMiss if the resource
// has no head.
func (m *MetadataWriter) WriteMetadata(ctx context.Context, p []byte) (int, error) {
	exists, err := m.store.Exists(ctx, m.id)
	if err != nil {
		return 0, fmt.Errorf("checking resource %d: %w", m.id, err)
	}
	if !exists {
		return 0, ErrCacheMiss
	}

	if len(p) == 0 {
		if err := m.store.backend.Delete(ctx, partKey(m.id, backend.PartMetadata)); err != nil {
			return 0, fmt.Errorf("removing metadata of resource %d: %w", m.id, err)
		}
		return 0, nil
	}

	if err := m.store.writePart(ctx, m.id, backend.PartMetadata, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
