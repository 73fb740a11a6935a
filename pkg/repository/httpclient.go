package repository

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// DefaultTimeout bounds every provider HTTP call.
const DefaultTimeout = 15 * time.Second

// NewHTTPClient returns a pooled client with the given timeout. A
// non-positive timeout falls back to DefaultTimeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := cleanhttp.DefaultPooledClient()
	c.Timeout = timeout
	return c
}

// wrapTransport returns a shallow copy of base whose transport is decorated by
// wrap. The caller's client is never mutated.
func wrapTransport(base *http.Client, wrap func(http.RoundTripper) http.RoundTripper) *http.Client {
	if base == nil {
		base = NewHTTPClient(DefaultTimeout)
	}
	cp := *base
	rt := cp.Transport
	if rt == nil {
		rt = cleanhttp.DefaultPooledTransport()
	}
	cp.Transport = wrap(rt)
	return &cp
}
