package swstore

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Origin is the serialized scheme, host and port of a URL, for example
// "https://a.example" or "http://localhost:8080". Default ports are omitted.
type Origin string

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// OriginOf returns the origin of an absolute http or https URL.
func OriginOf(rawURL string) (Origin, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	return originOfURL(u)
}

func originOfURL(u *url.URL) (Origin, error) {
	scheme := strings.ToLower(u.Scheme)
	defPort, ok := defaultPorts[scheme]
	if !ok {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidURL, u.String())
	}

	port := u.Port()
	if port == defPort {
		port = ""
	}
	switch {
	case port != "":
		host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		host = "[" + host + "]"
	}
	return Origin(scheme + "://" + host), nil
}

// ParseOrigin validates and normalizes a serialized origin. An explicit
// default port or a trailing slash is accepted.
func ParseOrigin(s string) (Origin, error) {
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return "", fmt.Errorf("%w: %q is not a serialized origin", ErrInvalidURL, s)
	}
	return originOfURL(u)
}

// Matches reports whether rawURL belongs to the origin.
func (o Origin) Matches(rawURL string) bool {
	other, err := OriginOf(rawURL)
	return err == nil && other == o
}

func (o Origin) String() string { return string(o) }
