// Package resource stores the response head, body and metadata of service
// worker script resources on a blob backend, keyed by resource id.
package resource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wolfeidau/swstore"
	"github.com/wolfeidau/swstore/backend"
	"github.com/wolfeidau/swstore/store/codec"
)

// DefaultHeadCacheSize is the number of decoded heads kept in memory.
const DefaultHeadCacheSize = 1024

type cachedHead struct {
	head *ResponseHead
	size int
}

// Store reads and writes resource parts. Safe for concurrent use; writers
// and readers it hands out are not.
type Store struct {
	backend  backend.WriterBackend
	codec    *codec.Codec
	ownCodec bool
	heads    *lru.Cache[swstore.ResourceID, cachedHead]
	logger   *slog.Logger

	// headMu orders head cache fills against dooms. dooms counts Doom
	// calls; a head loaded under an older count is not cached.
	headMu sync.Mutex
	dooms  uint64
	now      func() time.Time

	headCacheSize int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithNow sets the time source, useful for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithCodec shares an existing codec instead of creating one.
func WithCodec(c *codec.Codec) Option {
	return func(s *Store) {
		s.codec = c
	}
}

// WithHeadCacheSize sets the number of cached heads.
func WithHeadCacheSize(n int) Option {
	return func(s *Store) {
		s.headCacheSize = n
	}
}

// New creates a Store over b.
func New(b backend.WriterBackend, opts ...Option) (*Store, error) {
	s := &Store{
		backend:       b,
		logger:        slog.Default(),
		now:           time.Now,
		headCacheSize: DefaultHeadCacheSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.codec == nil {
		c, err := codec.New()
		if err != nil {
			return nil, err
		}
		s.codec = c
		s.ownCodec = true
	}

	heads, err := lru.New[swstore.ResourceID, cachedHead](s.headCacheSize)
	if err != nil {
		if s.ownCodec {
			s.codec.Close()
		}
		return nil, fmt.Errorf("creating head cache: %w", err)
	}
	s.heads = heads
	return s, nil
}

// Close releases the codec if the store created it.
func (s *Store) Close() {
	s.heads.Purge()
	if s.ownCodec {
		s.codec.Close()
	}
}

// NewWriter returns a writer for the resource id.
func (s *Store) NewWriter(id swstore.ResourceID) *Writer {
	return &Writer{store: s, id: id}
}

// NewReader returns a reader for the resource id.
func (s *Store) NewReader(id swstore.ResourceID) *Reader {
	return &Reader{store: s, id: id}
}

// NewMetadataWriter returns a metadata writer for the resource id.
func (s *Store) NewMetadataWriter(id swstore.ResourceID) *MetadataWriter {
	return &MetadataWriter{store: s, id: id}
}

// Doom permanently deletes every part of the resource. Readers that
// already opened the body keep reading their open handle; later reads miss.
func (s *Store) Doom(ctx context.Context, id swstore.ResourceID) error {
	s.evictHead(id)
	if err := s.backend.DeletePrefix(ctx, resourceDir(id)); err != nil {
		return fmt.Errorf("dooming resource %d: %w", id, err)
	}
	s.evictHead(id)
	s.logger.Debug("resource doomed", "resource_id", id)
	return nil
}

func (s *Store) evictHead(id swstore.ResourceID) {
	s.headMu.Lock()
	s.dooms++
	s.heads.Remove(id)
	s.headMu.Unlock()
}

func (s *Store) doomCount() uint64 {
	s.headMu.Lock()
	defer s.headMu.Unlock()
	return s.dooms
}

// cacheHead caches head unless a Doom ran since gen was taken.
func (s *Store) cacheHead(id swstore.ResourceID, gen uint64, head cachedHead) {
	s.headMu.Lock()
	defer s.headMu.Unlock()
	if s.dooms == gen {
		s.heads.Add(id, head)
	}
}

// Exists reports whether the resource has a stored head.
func (s *Store) Exists(ctx context.Context, id swstore.ResourceID) (bool, error) {
	return s.backend.Exists(ctx, partKey(id, backend.PartHead))
}

// ResourceIDs returns the ids of every resource with at least one stored
// part, in ascending order.
func (s *Store) ResourceIDs(ctx context.Context) ([]swstore.ResourceID, error) {
	keys, err := s.backend.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}

	seen := make(map[swstore.ResourceID]struct{})
	ids := make([]swstore.ResourceID, 0, len(keys)/2)
	for _, key := range keys {
		id, ok := parseResourceKey(key)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// writePart stores a small part, compressing it when worthwhile.
func (s *Store) writePart(ctx context.Context, id swstore.ResourceID, kind backend.PartKind, data []byte) error {
	payload, tag := s.codec.Compress(data)
	header := &backend.PartHeader{
		Kind:       kind,
		ResourceID: int64(id),
		Encoding:   encodingForTag(tag),
		WrittenAt:  s.now().UTC(),
	}

	var buf bytes.Buffer
	if err := backend.WriteFramed(&buf, header, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("framing %s: %w", kind, err)
	}
	if err := s.backend.Write(ctx, partKey(id, kind), &buf); err != nil {
		return fmt.Errorf("writing %s: %w", kind, err)
	}
	return nil
}

// readPart returns ErrCacheMiss when the part does not exist.
func (s *Store) readPart(ctx context.Context, id swstore.ResourceID, kind backend.PartKind) ([]byte, error) {
	rc, err := s.backend.Read(ctx, partKey(id, kind))
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("reading %s: %w", kind, err)
	}
	defer func() { _ = rc.Close() }()

	header, payload, err := backend.ReadFramed(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s frame: %w", kind, err)
	}
	if header.Kind != kind || header.ResourceID != int64(id) {
		return nil, fmt.Errorf("reading %s: frame belongs to %s of resource %d", kind, header.Kind, header.ResourceID)
	}

	data, err := io.ReadAll(payload)
	if err != nil {
		return nil, fmt.Errorf("reading %s payload: %w", kind, err)
	}
	tag, err := tagForEncoding(header.Encoding)
	if err != nil {
		return nil, err
	}
	return s.codec.Decompress(data, tag)
}

func (s *Store) writeHead(ctx context.Context, id swstore.ResourceID, head *ResponseHead) (int, error) {
	encoded := marshalHead(head)
	s.heads.Remove(id)
	gen := s.doomCount()
	if err := s.writePart(ctx, id, backend.PartHead, encoded); err != nil {
		return 0, err
	}
	s.cacheHead(id, gen, cachedHead{head: head.Clone(), size: len(encoded)})
	return len(encoded), nil
}

// readHead returns a copy the caller may modify.
func (s *Store) readHead(ctx context.Context, id swstore.ResourceID) (*ResponseHead, int, error) {
	if cached, ok := s.heads.Get(id); ok {
		return cached.head.Clone(), cached.size, nil
	}

	gen := s.doomCount()
	encoded, err := s.readPart(ctx, id, backend.PartHead)
	if err != nil {
		return nil, 0, err
	}
	head, err := unmarshalHead(encoded)
	if err != nil {
		return nil, 0, err
	}
	s.cacheHead(id, gen, cachedHead{head: head.Clone(), size: len(encoded)})
	return head, len(encoded), nil
}

func encodingForTag(tag codec.Tag) backend.Encoding {
	if tag == codec.TagZstd {
		return backend.EncodingZstd
	}
	return backend.EncodingIdentity
}

func tagForEncoding(enc backend.Encoding) (codec.Tag, error) {
	switch enc {
	case backend.EncodingIdentity, "":
		return codec.TagIdentity, nil
	case backend.EncodingZstd:
		return codec.TagZstd, nil
	default:
		return 0, fmt.Errorf("unknown part encoding %q", enc)
	}
}
