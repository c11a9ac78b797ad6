package resource

import (
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/wolfeidau/swstore"
)

// SSLInfo carries the TLS details of the response that produced a resource.
// Certificates are opaque DER bytes.
type SSLInfo struct {
	CertificateChain [][]byte
	CertStatus       uint32
	ConnectionStatus uint32
}

// ResponseHead is the stored HTTP response head of a resource.
type ResponseHead struct {
	StatusCode   int
	StatusText   string
	MIMEType     string
	Headers      http.Header
	ResponseTime time.Time
	SSLInfo      *SSLInfo

	// ContentLength and BodyChecksum are set when the body is committed.
	// ContentLength is -1 until then.
	ContentLength int64
	BodyChecksum  swstore.Hash
}

// Clone returns a deep copy of h.
func (h *ResponseHead) Clone() *ResponseHead {
	if h == nil {
		return nil
	}
	c := *h
	if h.Headers != nil {
		c.Headers = h.Headers.Clone()
	}
	if h.SSLInfo != nil {
		ssl := *h.SSLInfo
		ssl.CertificateChain = make([][]byte, len(h.SSLInfo.CertificateChain))
		for i, cert := range h.SSLInfo.CertificateChain {
			ssl.CertificateChain[i] = slices.Clone(cert)
		}
		c.SSLInfo = &ssl
	}
	return &c
}

// Equal reports whether two heads carry the same values.
func (h *ResponseHead) Equal(o *ResponseHead) bool {
	if h == nil || o == nil {
		return h == o
	}
	if h.StatusCode != o.StatusCode || h.StatusText != o.StatusText || h.MIMEType != o.MIMEType ||
		h.ContentLength != o.ContentLength || h.BodyChecksum != o.BodyChecksum ||
		!h.ResponseTime.Equal(o.ResponseTime) {
		return false
	}
	if len(h.Headers) != len(o.Headers) || !maps.EqualFunc(h.Headers, o.Headers, slices.Equal[[]string]) {
		return false
	}
	if (h.SSLInfo == nil) != (o.SSLInfo == nil) {
		return false
	}
	if h.SSLInfo != nil {
		if h.SSLInfo.CertStatus != o.SSLInfo.CertStatus || h.SSLInfo.ConnectionStatus != o.SSLInfo.ConnectionStatus {
			return false
		}
		if !slices.EqualFunc(h.SSLInfo.CertificateChain, o.SSLInfo.CertificateChain, slices.Equal[[]byte]) {
			return false
		}
	}
	return true
}

// HeadResult is returned by Reader.ReadResponseHead.
type HeadResult struct {
	Head *ResponseHead

	// Metadata is nil when no metadata was written.
	Metadata []byte

	// HeadSize is the encoded size of the head.
	HeadSize int
}
