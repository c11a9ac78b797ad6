package resource

import "errors"

var (
	// ErrCacheMiss is returned when a resource or one of its parts does not exist.
	ErrCacheMiss = errors.New("resource: cache miss")

	// ErrHeadNotWritten is returned when body data is written before the response head.
	ErrHeadNotWritten = errors.New("resource: response head not written")

	// ErrChecksumMismatch is returned when a fully read body does not match
	// the checksum recorded at commit.
	ErrChecksumMismatch = errors.New("resource: body checksum mismatch")

	// ErrWriterClosed is returned when a committed or aborted writer is used.
	ErrWriterClosed = errors.New("resource: writer closed")
)

// Numeric status codes for callers that report net error values.
const (
	NetOK           = 0
	NetErrFailed    = -2
	NetErrCacheMiss = -400
)

// NetErrorCode maps err to a net error value.
func NetErrorCode(err error) int {
	switch {
	case err == nil:
		return NetOK
	case errors.Is(err, ErrCacheMiss):
		return NetErrCacheMiss
	default:
		return NetErrFailed
	}
}
