package shorturl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase and tracking strip", "https://Example.COM/path?utm_source=x&a=1", "https://example.com/path?a=1"},
		{"trailing slash and tracking strip", "https://example.com/path/?a=1&utm_medium=y", "https://example.com/path?a=1"},
		{"default http port and trailing slash", "http://example.com:80/page/", "http://example.com/page"},
		{"default https port keeps root slash", "https://example.com:443/", "https://example.com/"},
		{"fragment dropped", "https://example.com/a#section", "https://example.com/a"},
		{"empty query dropped", "https://example.com/a?", "https://example.com/a"},
		{"query order preserved", "https://example.com/a?b=2&a=1", "https://example.com/a?b=2&a=1"},
		{"click ids stripped", "https://example.com/x?gclid=123&fbclid=456&q=go", "https://example.com/x?q=go"},
		{"non-default port kept", "https://example.com:8443/a", "https://example.com:8443/a"},
		{"encoding of kept pairs untouched", "https://example.com/a?q=a%20b", "https://example.com/a?q=a%20b"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"https://Example.COM/path?utm_source=x&a=1",
		"http://example.com:80/page/",
		"https://example.com/a?b=2&a=1#frag",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestNormalizeUnparseablePassthrough(t *testing.T) {
	assert.Equal(t, "not a url", Normalize("not a url"))
	assert.Equal(t, "://missing", Normalize("://missing"))
}

func TestValidScheme(t *testing.T) {
	assert.True(t, ValidScheme("https://example.com"))
	assert.True(t, ValidScheme("HTTP://example.com/a"))
	assert.False(t, ValidScheme("ftp://example.com"))
	assert.False(t, ValidScheme("javascript:alert(1)"))
	assert.False(t, ValidScheme("/relative/path"))
	assert.False(t, ValidScheme("https://"))
}
