// Package codec compresses stored values and resource bodies with zstd.
package codec

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	// CompressionThreshold is the minimum value size before compression is
	// considered. zstd overhead is not worth it below 2KB.
	CompressionThreshold = 2048

	// MaxDecompressedSize caps decompression to guard against compression bombs.
	MaxDecompressedSize = 64 * 1024 * 1024
)

// Tag prefixes an encoded value.
type Tag byte

const (
	TagIdentity Tag = 0
	TagZstd     Tag = 1
)

var (
	// ErrDecompressionBomb is returned when a value inflates past MaxDecompressedSize.
	ErrDecompressionBomb = errors.New("codec: decompressed value exceeds maximum size")

	// ErrCorrupted is returned for values with an unknown tag or bad payload.
	ErrCorrupted = errors.New("codec: corrupted value")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("codec: closed")
)

// Codec encodes values with optional compression. Safe for concurrent use;
// the shared encoder and decoder are only used through EncodeAll and
// DecodeAll.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	mu      sync.RWMutex
}

// New creates a codec with a shared zstd encoder and decoder.
func New() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Codec{encoder: enc, decoder: dec}, nil
}

// Close releases encoder and decoder resources.
func (c *Codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
}

// Compress returns data compressed when that is worthwhile, with the tag
// describing the result.
func (c *Codec) Compress(data []byte) ([]byte, Tag) {
	if len(data) < CompressionThreshold {
		return data, TagIdentity
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.encoder == nil {
		return data, TagIdentity
	}

	compressed := c.encoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return data, TagIdentity
	}
	return compressed, TagZstd
}

// Decompress reverses Compress.
func (c *Codec) Decompress(payload []byte, tag Tag) ([]byte, error) {
	switch tag {
	case TagIdentity:
		return payload, nil
	case TagZstd:
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrCorrupted, tag)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.decoder == nil {
		return nil, ErrClosed
	}

	out, err := c.decoder.DecodeAll(payload, nil)
	if err != nil {
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
			return nil, ErrDecompressionBomb
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if len(out) > MaxDecompressedSize {
		return nil, ErrDecompressionBomb
	}
	return out, nil
}

// EncodeValue compresses data and prefixes it with its tag.
func (c *Codec) EncodeValue(data []byte) []byte {
	payload, tag := c.Compress(data)
	out := make([]byte, 1+len(payload))
	out[0] = byte(tag)
	copy(out[1:], payload)
	return out
}

// DecodeValue reverses EncodeValue. The result never aliases b.
func (c *Codec) DecodeValue(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty value", ErrCorrupted)
	}
	out, err := c.Decompress(b[1:], Tag(b[0]))
	if err != nil {
		return nil, err
	}
	if Tag(b[0]) == TagIdentity {
		out = append([]byte{}, out...)
	}
	return out, nil
}

// NewStreamWriter returns a zstd stream encoder writing to w. Close flushes
// the stream but does not close w.
func NewStreamWriter(w io.Writer) (*zstd.Encoder, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating zstd stream encoder: %w", err)
	}
	return enc, nil
}

// NewStreamReader returns a zstd stream decoder reading from r. The caller
// must call Close on the decoder.
func NewStreamReader(r io.Reader) (*zstd.Decoder, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	if err != nil {
		return nil, fmt.Errorf("creating zstd stream decoder: %w", err)
	}
	return dec, nil
}
