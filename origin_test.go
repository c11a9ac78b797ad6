package swstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOriginOf(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want Origin
	}{
		{"https scope", "https://www.example.com/scope/", "https://www.example.com"},
		{"default port dropped", "https://a.example:443/sw.js", "https://a.example"},
		{"http default port dropped", "http://a.example:80/", "http://a.example"},
		{"custom port kept", "http://localhost:8080/app/", "http://localhost:8080"},
		{"case folded", "HTTPS://A.Example/x", "https://a.example"},
		{"ipv6 host", "https://[::1]/", "https://[::1]"},
		{"ipv6 host with port", "https://[::1]:8443/", "https://[::1]:8443"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OriginOf(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOriginOfRejectsNonHTTP(t *testing.T) {
	for _, raw := range []string{"ftp://a.example/", "/relative/path", "https:///nohost", "::not a url"} {
		t.Run(raw, func(t *testing.T) {
			_, err := OriginOf(raw)
			require.ErrorIs(t, err, ErrInvalidURL)
			require.ErrorIs(t, err, ErrFailed)
		})
	}
}

func TestParseOrigin(t *testing.T) {
	o, err := ParseOrigin("https://a.example/")
	require.NoError(t, err)
	assert.Equal(t, Origin("https://a.example"), o)

	o, err = ParseOrigin("https://a.example:443")
	require.NoError(t, err)
	assert.Equal(t, Origin("https://a.example"), o)

	_, err = ParseOrigin("https://a.example/path")
	require.ErrorIs(t, err, ErrInvalidURL)
}

func TestOriginMatches(t *testing.T) {
	o := Origin("https://a.example")
	assert.True(t, o.Matches("https://a.example/sw.js"))
	assert.False(t, o.Matches("https://b.example/sw.js"))
	assert.False(t, o.Matches("http://a.example/sw.js"))
	assert.False(t, o.Matches("not a url"))
}
