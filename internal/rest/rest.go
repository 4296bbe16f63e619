// Package rest is a small REST client shared by every driver that
// speaks JSON/XML over HTTP, grounded on the teacher's lib/rest
// package: an Opts struct describing one call, and a Client with
// CallJSON/CallXML/Call methods, used identically by backend/discord
// ("opts := rest.Opts{Method: "GET", ...}; f.srv.CallJSON(...)") and
// backend/webdav ("opts := rest.Opts{Method: "PROPFIND", ...};
// f.srv.CallXML(...)").
package rest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Opts describes one HTTP call.
type Opts struct {
	Method        string
	Path          string // joined onto the client's root
	RootURL       string // overrides root entirely when set
	Body          io.Reader
	ContentType   string
	ContentLength *int64
	ExtraHeaders  map[string]string
	NoResponse    bool // caller doesn't care about the body, just status
	Options       []RangeHeader
}

// RangeHeader is a minimal stand-in for the teacher's fs.OpenOption
// set, just covering Range headers, which is all this module's
// drivers need this client to add.
type RangeHeader struct {
	Start, End int64 // End == -1 means open-ended
}

func (r RangeHeader) header() string {
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// ErrorHandler turns a non-2xx *http.Response into an error. Each
// driver supplies one matching its backend's error body shape.
type ErrorHandler func(resp *http.Response) error

// Client is a thin, stateful HTTP client: a root URL, default headers,
// and a pluggable error handler, exactly the role the teacher's
// rest.Client plays for every backend that isn't hand-rolling
// net/http calls inline.
type Client struct {
	hc           *http.Client
	root         string
	headers      map[string]string
	cookies      []*http.Cookie
	errorHandler ErrorHandler
}

// NewClient wraps an *http.Client.
func NewClient(hc *http.Client) *Client {
	return &Client{hc: hc, headers: map[string]string{}}
}

// SetRoot sets the base URL every relative Opts.Path is joined onto.
func (c *Client) SetRoot(root string) *Client {
	c.root = strings.TrimRight(root, "/")
	return c
}

// SetHeader sets a default header sent with every request.
func (c *Client) SetHeader(key, value string) *Client {
	c.headers[key] = value
	return c
}

// SetBearer sets an Authorization: Bearer header.
func (c *Client) SetBearer(token string) *Client {
	if token != "" {
		c.headers["Authorization"] = "Bearer " + token
	}
	return c
}

// SetErrorHandler installs a backend-specific error decoder.
func (c *Client) SetErrorHandler(h ErrorHandler) *Client {
	c.errorHandler = h
	return c
}

// SetBasicAuth sets HTTP Basic auth credentials sent with every
// request. A no-op if both are empty.
func (c *Client) SetBasicAuth(user, pass string) *Client {
	if user == "" && pass == "" {
		return c
	}
	c.headers["Authorization"] = "Basic " + basicAuthValue(user, pass)
	return c
}

func basicAuthValue(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

// RemoveHeader removes a previously-set default header, used by
// backends that authenticate via cookies instead (webdav's sharepoint
// vendor quirk).
func (c *Client) RemoveHeader(key string) *Client {
	delete(c.headers, key)
	return c
}

// SetCookie adds cookies sent with every request, replacing whatever
// this client's cookie jar held before.
func (c *Client) SetCookie(cookies ...*http.Cookie) *Client {
	c.cookies = cookies
	return c
}

func (c *Client) url(opts *Opts) (string, error) {
	if opts.RootURL != "" {
		return opts.RootURL, nil
	}
	if c.root == "" {
		return "", errors.New("rest: no root URL configured and Opts.RootURL unset")
	}
	return URLJoin(c.root, opts.Path)
}

// URLJoin joins a base URL string and a path, handling the leading/
// trailing slash bookkeeping the teacher's rest.URLJoin does.
func URLJoin(base, elem string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrap(err, "rest: bad base URL")
	}
	e, err := url.Parse(elem)
	if err != nil {
		return "", errors.Wrap(err, "rest: bad path")
	}
	return b.ResolveReference(e).String(), nil
}

// URLPathEscape escapes a logical path's segments for use in a URL,
// preserving the '/' separators (the teacher's rest.URLPathEscape does
// the same: escape each segment, not the whole string).
func URLPathEscape(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// Call issues the HTTP request described by opts and returns the raw
// response (caller must close the body unless NoResponse was set, in
// which case Call closes it itself after checking status).
func (c *Client) Call(ctx context.Context, opts *Opts) (*http.Response, error) {
	target, err := c.url(opts)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, target, opts.Body)
	if err != nil {
		return nil, errors.Wrap(err, "rest: building request")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range opts.ExtraHeaders {
		req.Header.Set(k, v)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	if opts.ContentLength != nil {
		req.ContentLength = *opts.ContentLength
	}
	for _, r := range opts.Options {
		req.Header.Set("Range", r.header())
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return resp, errors.Wrap(err, "rest: request failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var handlerErr error
		if c.errorHandler != nil {
			handlerErr = c.errorHandler(resp)
		} else {
			body, _ := ReadBody(resp)
			handlerErr = fmt.Errorf("rest: HTTP %d: %s", resp.StatusCode, string(body))
		}
		return resp, handlerErr
	}
	if opts.NoResponse {
		defer resp.Body.Close() //nolint:errcheck
	}
	return resp, nil
}

// CallJSON issues opts, marshalling in (if non-nil) as the request
// body and unmarshalling the response into out (if non-nil).
func (c *Client) CallJSON(ctx context.Context, opts *Opts, in, out any) (*http.Response, error) {
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, errors.Wrap(err, "rest: marshal request")
		}
		opts.Body = bytes.NewReader(b)
		if opts.ContentType == "" {
			opts.ContentType = "application/json"
		}
	}
	resp, err := c.Call(ctx, opts)
	if err != nil {
		return resp, err
	}
	if out == nil {
		return resp, nil
	}
	defer resp.Body.Close() //nolint:errcheck
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil {
		return resp, errors.Wrap(err, "rest: decode JSON response")
	}
	return resp, nil
}

// CallXML is CallJSON's XML counterpart, used by the WebDAV driver for
// PROPFIND/Multistatus bodies.
func (c *Client) CallXML(ctx context.Context, opts *Opts, in, out any) (*http.Response, error) {
	if in != nil {
		b, err := xml.Marshal(in)
		if err != nil {
			return nil, errors.Wrap(err, "rest: marshal XML request")
		}
		opts.Body = bytes.NewReader(b)
		if opts.ContentType == "" {
			opts.ContentType = "application/xml"
		}
	}
	resp, err := c.Call(ctx, opts)
	if err != nil {
		return resp, err
	}
	if out == nil {
		return resp, nil
	}
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, errors.Wrap(err, "rest: read XML response")
	}
	if err := xml.Unmarshal(body, out); err != nil {
		return resp, errors.Wrap(err, "rest: decode XML response")
	}
	return resp, nil
}

// CallNDJSON POSTs a sequence of already-marshalled JSON lines as a
// single newline-delimited body — the wire format the Hub dataset
// driver's commit endpoint requires (spec.md §6).
func (c *Client) CallNDJSON(ctx context.Context, opts *Opts, lines []json.RawMessage, out any) (*http.Response, error) {
	var buf bytes.Buffer
	for i, l := range lines {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(l)
	}
	opts.Body = &buf
	if opts.ContentType == "" {
		opts.ContentType = "application/x-ndjson"
	}
	resp, err := c.Call(ctx, opts)
	if err != nil {
		return resp, err
	}
	if out == nil {
		if resp.Body != nil {
			defer resp.Body.Close() //nolint:errcheck
		}
		return resp, nil
	}
	defer resp.Body.Close() //nolint:errcheck
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp, errors.Wrap(err, "rest: decode NDJSON commit response")
	}
	return resp, nil
}

// ReadBody reads and closes resp.Body, returning its bytes. Safe to
// call even if resp or resp.Body is nil.
func ReadBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, nil
	}
	defer resp.Body.Close() //nolint:errcheck
	return io.ReadAll(resp.Body)
}

// ParseSizeFromHeaders reads Content-Length, returning -1 if absent or
// unparseable (the teacher's rest.ParseSizeFromHeaders does the same
// for backend/http's directory-listing HEAD probes).
func ParseSizeFromHeaders(h http.Header) int64 {
	v := h.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// ParseLinkNext extracts the RFC 5988 rel="next" URL from a Link
// header, as HubDataset's tree pagination (spec.md §4.3.1) requires.
func ParseLinkNext(h http.Header) string {
	raw := h.Get("Link")
	if raw == "" {
		return ""
	}
	for _, part := range strings.Split(raw, ",") {
		segs := strings.Split(part, ";")
		if len(segs) < 2 {
			continue
		}
		urlPart := strings.TrimSpace(segs[0])
		if !strings.HasPrefix(urlPart, "<") || !strings.HasSuffix(urlPart, ">") {
			continue
		}
		isNext := false
		for _, attr := range segs[1:] {
			attr = strings.TrimSpace(attr)
			if attr == `rel="next"` || attr == "rel=next" {
				isNext = true
			}
		}
		if isNext {
			return strings.Trim(urlPart, "<>")
		}
	}
	return ""
}
