package swstore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the lookup or update target is absent.
	ErrNotFound = errors.New("swstore: not found")

	// ErrFailed is returned for I/O, validation or serialization failures.
	// The operation has been rolled back when this is returned.
	ErrFailed = errors.New("swstore: operation failed")

	// ErrDisabled is returned when storage is used before initialization or
	// after it was disabled.
	ErrDisabled = errors.New("swstore: storage disabled")

	// ErrInvalidURL is returned for URLs that cannot identify an origin.
	ErrInvalidURL = fmt.Errorf("%w: invalid url", ErrFailed)
)

// Status is the caller-facing outcome of a storage operation.
type Status int

const (
	StatusOK Status = iota
	StatusErrorNotFound
	StatusErrorFailed
	StatusErrorDisabled
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusErrorNotFound:
		return "error_not_found"
	case StatusErrorFailed:
		return "error_failed"
	case StatusErrorDisabled:
		return "error_disabled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StatusOf classifies err. Errors outside the taxonomy are reported as
// StatusErrorFailed.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrNotFound):
		return StatusErrorNotFound
	case errors.Is(err, ErrDisabled):
		return StatusErrorDisabled
	default:
		return StatusErrorFailed
	}
}
