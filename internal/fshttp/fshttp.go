// Package fshttp builds the *http.Client every driver uses, the way the
// teacher's fs/fshttp.NewClient centralizes timeouts/TLS/proxy settings
// instead of letting each backend construct its own ad-hoc client.
package fshttp

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// Options configures the shared transport. Zero value is sane defaults.
type Options struct {
	Timeout         time.Duration
	DialTimeout     time.Duration
	TLSSkipVerify   bool
	UserAgent       string
	IdleConnTimeout time.Duration
}

const defaultUserAgent = "drivercore/1.0"

// NewClient builds an *http.Client configured per opt. Every driver
// funnels its HTTP traffic through a client built this way instead of
// http.DefaultClient, so TLS/timeout/proxy knobs are consistent and
// configurable from the driver's own tunables (spec.md's
// tls_skip_verify flag, §3).
func NewClient(opt Options) *http.Client {
	if opt.Timeout == 0 {
		opt.Timeout = 5 * time.Minute
	}
	if opt.DialTimeout == 0 {
		opt.DialTimeout = 30 * time.Second
	}
	if opt.IdleConnTimeout == 0 {
		opt.IdleConnTimeout = 90 * time.Second
	}
	dialer := &net.Dialer{Timeout: opt.DialTimeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       opt.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if opt.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &http.Client{
		Transport: &userAgentTransport{base: transport, ua: firstNonEmpty(opt.UserAgent, defaultUserAgent)},
		Timeout:   opt.Timeout,
	}
}

type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
