package resource

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wolfeidau/swstore"
)

// Field numbers of the encoded response head.
const (
	fieldStatusCode    protowire.Number = 1
	fieldStatusText    protowire.Number = 2
	fieldMIMEType      protowire.Number = 3
	fieldHeader        protowire.Number = 4
	fieldContentLength protowire.Number = 5
	fieldResponseTime  protowire.Number = 6
	fieldSSLInfo       protowire.Number = 7
	fieldBodyChecksum  protowire.Number = 8

	fieldHeaderName  protowire.Number = 1
	fieldHeaderValue protowire.Number = 2

	fieldSSLCertificate      protowire.Number = 1
	fieldSSLCertStatus       protowire.Number = 2
	fieldSSLConnectionStatus protowire.Number = 3
)

var errMalformedHead = errors.New("resource: malformed response head")

// marshalHead encodes h in protobuf wire format. Headers are written in
// sorted name order so the encoding is deterministic.
func marshalHead(h *ResponseHead) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldStatusCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.StatusCode)) //nolint:gosec // status codes are small positive ints
	if h.StatusText != "" {
		b = protowire.AppendTag(b, fieldStatusText, protowire.BytesType)
		b = protowire.AppendString(b, h.StatusText)
	}
	if h.MIMEType != "" {
		b = protowire.AppendTag(b, fieldMIMEType, protowire.BytesType)
		b = protowire.AppendString(b, h.MIMEType)
	}

	names := make([]string, 0, len(h.Headers))
	for name := range h.Headers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		for _, value := range h.Headers[name] {
			var field []byte
			field = protowire.AppendTag(field, fieldHeaderName, protowire.BytesType)
			field = protowire.AppendString(field, name)
			field = protowire.AppendTag(field, fieldHeaderValue, protowire.BytesType)
			field = protowire.AppendString(field, value)
			b = protowire.AppendTag(b, fieldHeader, protowire.BytesType)
			b = protowire.AppendBytes(b, field)
		}
	}

	b = protowire.AppendTag(b, fieldContentLength, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(h.ContentLength))

	if !h.ResponseTime.IsZero() {
		b = protowire.AppendTag(b, fieldResponseTime, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(h.ResponseTime.UnixNano()))
	}

	if h.SSLInfo != nil {
		var ssl []byte
		for _, cert := range h.SSLInfo.CertificateChain {
			ssl = protowire.AppendTag(ssl, fieldSSLCertificate, protowire.BytesType)
			ssl = protowire.AppendBytes(ssl, cert)
		}
		ssl = protowire.AppendTag(ssl, fieldSSLCertStatus, protowire.VarintType)
		ssl = protowire.AppendVarint(ssl, uint64(h.SSLInfo.CertStatus))
		ssl = protowire.AppendTag(ssl, fieldSSLConnectionStatus, protowire.VarintType)
		ssl = protowire.AppendVarint(ssl, uint64(h.SSLInfo.ConnectionStatus))
		b = protowire.AppendTag(b, fieldSSLInfo, protowire.BytesType)
		b = protowire.AppendBytes(b, ssl)
	}

	if !h.BodyChecksum.IsZero() {
		b = protowire.AppendTag(b, fieldBodyChecksum, protowire.BytesType)
		b = protowire.AppendBytes(b, h.BodyChecksum[:])
	}
	return b
}

// unmarshalHead decodes a head written by marshalHead. Unknown fields are
// skipped.
func unmarshalHead(b []byte) (*ResponseHead, error) {
	h := &ResponseHead{ContentLength: -1}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", errMalformedHead, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldStatusCode && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: status code: %v", errMalformedHead, protowire.ParseError(n))
			}
			h.StatusCode = int(v) //nolint:gosec // written from an int
			b = b[n:]
		case num == fieldStatusText && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: status text: %v", errMalformedHead, protowire.ParseError(n))
			}
			h.StatusText = v
			b = b[n:]
		case num == fieldMIMEType && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: mime type: %v", errMalformedHead, protowire.ParseError(n))
			}
			h.MIMEType = v
			b = b[n:]
		case num == fieldHeader && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: header: %v", errMalformedHead, protowire.ParseError(n))
			}
			name, value, err := unmarshalHeaderField(v)
			if err != nil {
				return nil, err
			}
			if h.Headers == nil {
				h.Headers = make(http.Header)
			}
			h.Headers[name] = append(h.Headers[name], value)
			b = b[n:]
		case num == fieldContentLength && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: content length: %v", errMalformedHead, protowire.ParseError(n))
			}
			h.ContentLength = protowire.DecodeZigZag(v)
			b = b[n:]
		case num == fieldResponseTime && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: response time: %v", errMalformedHead, protowire.ParseError(n))
			}
			h.ResponseTime = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			b = b[n:]
		case num == fieldSSLInfo && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: ssl info: %v", errMalformedHead, protowire.ParseError(n))
			}
			ssl, err := unmarshalSSLInfo(v)
			if err != nil {
				return nil, err
			}
			h.SSLInfo = ssl
			b = b[n:]
		case num == fieldBodyChecksum && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: body checksum: %v", errMalformedHead, protowire.ParseError(n))
			}
			sum, err := swstore.HashFromBytes(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", errMalformedHead, err)
			}
			h.BodyChecksum = sum
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", errMalformedHead, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return h, nil
}

func unmarshalHeaderField(b []byte) (name, value string, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", fmt.Errorf("%w: header field: %v", errMalformedHead, protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.BytesType || (num != fieldHeaderName && num != fieldHeaderValue) {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", "", fmt.Errorf("%w: header field: %v", errMalformedHead, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return "", "", fmt.Errorf("%w: header field: %v", errMalformedHead, protowire.ParseError(n))
		}
		if num == fieldHeaderName {
			name = v
		} else {
			value = v
		}
		b = b[n:]
	}
	return name, value, nil
}

func unmarshalSSLInfo(b []byte) (*SSLInfo, error) {
	ssl := &SSLInfo{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: ssl info: %v", errMalformedHead, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldSSLCertificate && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: certificate: %v", errMalformedHead, protowire.ParseError(n))
			}
			ssl.CertificateChain = append(ssl.CertificateChain, slices.Clone(v))
			b = b[n:]
		case num == fieldSSLCertStatus && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: cert status: %v", errMalformedHead, protowire.ParseError(n))
			}
			ssl.CertStatus = uint32(v) //nolint:gosec // written from a uint32
			b = b[n:]
		case num == fieldSSLConnectionStatus && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: connection status: %v", errMalformedHead, protowire.ParseError(n))
			}
			ssl.ConnectionStatus = uint32(v) //nolint:gosec // written from a uint32
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: ssl field %d: %v", errMalformedHead, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return ssl, nil
}
