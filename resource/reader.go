package resource

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wolfeidau/swstore"
	"github.com/wolfeidau/swstore/backend"
	"github.com/wolfeidau/swstore/store/codec"
	"github.com/wolfeidau/swstore/telemetry"
)

// Reader reads one resource. A Reader is not safe for concurrent use.
type Reader struct {
	store *Store
	id    swstore.ResourceID
}

// ID returns the resource id being read.
func (r *Reader) ID() swstore.ResourceID { return r.id }

// ReadResponseHead returns the head and any metadata of the resource.
func (r *Reader) ReadResponseHead(ctx context.Context) (*HeadResult, error) {
	head, size, err := r.store.readHead(ctx, r.id)
	if err != nil {
		return nil, err
	}

	metadata, err := r.store.readPart(ctx, r.id, backend.PartMetadata)
	switch {
	case errors.Is(err, ErrCacheMiss):
		metadata = nil
	case err != nil:
		return nil, err
	}

	return &HeadResult{Head: head, Metadata: metadata, HeadSize: size}, nil
}

// ReadData copies up to maxSize body bytes to w and returns the number
// copied. maxSize <= 0 reads the whole body. When the whole body was read
// its checksum is verified against the committed head.
func (r *Reader) ReadData(ctx context.Context, w io.Writer, maxSize int64) (int64, error) {
	head, _, err := r.store.readHead(ctx, r.id)
	if err != nil {
		return 0, err
	}

	rc, err := r.store.backend.Read(ctx, partKey(r.id, backend.PartBody))
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return 0, ErrCacheMiss
		}
		return 0, fmt.Errorf("opening body of resource %d: %w", r.id, err)
	}
	defer func() { _ = rc.Close() }()

	header, payload, err := backend.ReadFramed(rc)
	if err != nil {
		return 0, fmt.Errorf("reading body frame of resource %d: %w", r.id, err)
	}

	var src io.Reader = payload
	if header.Encoding == backend.EncodingZstd {
		dec, err := codec.NewStreamReader(payload)
		if err != nil {
			return 0, err
		}
		defer dec.Close()
		src = dec
	}

	hr := swstore.NewHashingReader(src)
	var n int64
	complete := false
	if maxSize <= 0 {
		n, err = io.Copy(w, hr)
		complete = err == nil
	} else {
		n, err = io.CopyN(w, hr, maxSize)
		switch {
		case errors.Is(err, io.EOF):
			err = nil
			complete = true
		case err == nil:
			complete, err = atEOF(hr)
		}
	}
	if err != nil {
		return n, fmt.Errorf("reading body of resource %d: %w", r.id, err)
	}

	telemetry.RecordResourceIO(ctx, "read", n)

	if complete && !head.BodyChecksum.IsZero() && hr.Sum() != head.BodyChecksum {
		r.store.logger.Warn("resource body checksum mismatch",
			"resource_id", r.id,
			"expected", head.BodyChecksum.ShortString(),
			"actual", hr.Sum().ShortString(),
			"bytes", hr.BytesRead(),
		)
		return n, ErrChecksumMismatch
	}
	return n, nil
}

// atEOF reports whether r has no more data.
func atEOF(r io.Reader) (bool, error) {
	var one [1]byte
	for {
		n, err := r.Read(one[:])
		if n > 0 {
			return false, nil
		}
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
}
