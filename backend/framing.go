package backend

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	// MagicBytes is the 4-byte prefix of every framed resource part.
	MagicBytes = []byte("SWR1")

	// ErrInvalidMagic is returned when a part doesn't start with MagicBytes.
	ErrInvalidMagic = errors.New("invalid magic bytes: expected SWR1")

	// ErrHeaderTooLarge is returned when the header exceeds MaxHeaderSize.
	ErrHeaderTooLarge = errors.New("header exceeds maximum size")
)

// MaxHeaderSize is the maximum allowed size for the JSON part header (64 KiB).
const MaxHeaderSize = 64 * 1024

// PartKind names one of the stored parts of a resource.
type PartKind string

const (
	PartHead     PartKind = "head"
	PartBody     PartKind = "body"
	PartMetadata PartKind = "meta"
)

// Encoding is the payload encoding of a part.
type Encoding string

const (
	EncodingIdentity Encoding = "identity"
	EncodingZstd     Encoding = "zstd"
)

// PartHeader describes the payload that follows it in a framed part.
type PartHeader struct {
	Kind       PartKind  `json:"kind"`
	ResourceID int64     `json:"resource_id"`
	Encoding   Encoding  `json:"encoding"`
	WrittenAt  time.Time `json:"written_at"`
}

// WriteFrameHeader writes the frame preamble. The payload is written to w by
// the caller afterwards.
// Format: MAGIC (4 bytes) | HDRLEN (uint32 big-endian) | HDRBYTES (JSON) | PAYLOAD
func WriteFrameHeader(w io.Writer, header *PartHeader) error {
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}

	headerLen := len(headerBytes)
	if headerLen > MaxHeaderSize {
		return ErrHeaderTooLarge
	}

	if _, err := w.Write(MagicBytes); err != nil {
		return fmt.Errorf("writing magic bytes: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(headerLen)); err != nil { //nolint:gosec // headerLen is bounds-checked above
		return fmt.Errorf("writing header length: %w", err)
	}
	if _, err := w.Write(headerBytes); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	return nil
}

// WriteFramed writes a complete framed part.
func WriteFramed(w io.Writer, header *PartHeader, payload io.Reader) error {
	if err := WriteFrameHeader(w, header); err != nil {
		return err
	}
	if _, err := io.Copy(w, payload); err != nil {
		return fmt.Errorf("writing payload: %w", err)
	}
	return nil
}

// ReadFramed parses the frame preamble and returns the header and a reader
// positioned at the payload.
func ReadFramed(r io.Reader) (*PartHeader, io.Reader, error) {
	magic := make([]byte, len(MagicBytes))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, nil, fmt.Errorf("reading magic bytes: %w", err)
	}
	if !bytes.Equal(magic, MagicBytes) {
		return nil, nil, ErrInvalidMagic
	}

	var headerLen uint32
	if err := binary.Read(r, binary.BigEndian, &headerLen); err != nil {
		return nil, nil, fmt.Errorf("reading header length: %w", err)
	}
	if headerLen > MaxHeaderSize {
		return nil, nil, ErrHeaderTooLarge
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}

	var header PartHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, nil, fmt.Errorf("parsing header: %w", err)
	}
	return &header, r, nil
}
