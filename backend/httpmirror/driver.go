package httpmirror

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/hubdrive/drivercore/driver"
	"github.com/hubdrive/drivercore/internal/logging"
	"github.com/hubdrive/drivercore/internal/rest"
	"github.com/hubdrive/drivercore/internal/ttlcache"
)

// sniffBudget bounds how much of a listing page (or a Range-sniff) this
// driver ever reads into memory (spec.md §4.7: "read up to a bounded
// buffer (~2 MiB)").
const sniffBudget = 2 << 20

// headConcurrency bounds how many per-entry HEAD requests run at once
// when a listing format didn't already supply size/modtime, the same
// role the teacher's List() plays with its f.ci.Checkers worker pool.
const headConcurrency = 8

// httpClientWithHeaders adds the configured static headers to every
// request, the same role the teacher's addHeaders(req, opt) plays.
type httpClientWithHeaders struct {
	hc      *http.Client
	headers []string // flattened key,value pairs
}

func (c *httpClientWithHeaders) addHeaders(req *http.Request) {
	for i := 0; i+1 < len(c.headers); i += 2 {
		req.Header.Add(c.headers[i], c.headers[i+1])
	}
}

func (c *httpClientWithHeaders) do(req *http.Request) (*http.Response, error) {
	c.addHeaders(req)
	return c.hc.Do(req)
}

// Fs is the HTTP-mirror driver (spec.md §4.7): read-only, no Writer
// capability, so every write method refuses before any network call.
type Fs struct {
	name        string
	root        string
	opt         Options
	client      *httpClientWithHeaders
	endpoint    *url.URL
	endpointURL string
	caps        driver.Capabilities
	listings    *ttlcache.Cache
}

// NewDriver constructs the httpmirror driver and resolves the root
// endpoint (mirroring the teacher's httpConnection: ensure a trailing
// slash, join root onto the base URL).
func NewDriver(ctx context.Context, name, root string, raw map[string]string, _ driver.Collaborators) (driver.Driver, error) {
	opt, err := parseOptions(raw)
	if err != nil {
		return nil, err
	}
	norm, err := driver.NormalizePath(root, true)
	if err != nil {
		return nil, err
	}
	client := newHTTPClient(opt)

	base := opt.URL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, driver.Wrap(driver.CodeInvalidConfig, err, "httpmirror: invalid url")
	}
	rel := strings.TrimPrefix(norm, "/")
	joined, err := rest.URLJoin(baseURL.String(), rest.URLPathEscape(rel))
	if err != nil {
		return nil, driver.Wrap(driver.CodeInvalidConfig, err, "httpmirror: joining root onto url")
	}
	if !strings.HasSuffix(joined, "/") {
		joined += "/"
	}
	endpoint, err := url.Parse(joined)
	if err != nil {
		return nil, driver.Wrap(driver.CodeInvalidConfig, err, "httpmirror: invalid endpoint")
	}

	return &Fs{
		name:        name,
		root:        strings.TrimSuffix(strings.TrimPrefix(norm, "/"), "/"),
		opt:         *opt,
		client:      client,
		endpoint:    endpoint,
		endpointURL: endpoint.String(),
		listings:    ttlcache.New(opt.CacheTTL(), opt.CacheTTL()),
	}, nil
}

func (f *Fs) Name() string { return f.name }
func (f *Fs) Root() string { return f.root }
func (f *Fs) String() string {
	return fmt.Sprintf("httpmirror root '%s' at %s", f.root, f.endpointURL)
}

func (f *Fs) Initialize(ctx context.Context) error {
	f.caps = driver.NewCapabilities(driver.Reader, driver.DirectLink, driver.Proxy)
	return nil
}

func (f *Fs) Capabilities() driver.Capabilities { return f.caps }

// url joins remote (a path relative to the root) onto the endpoint, the
// teacher's Fs.url with the same no_escape branch.
func (f *Fs) url(remote string) string {
	remote = strings.TrimPrefix(remote, "/")
	if f.opt.NoEscape {
		return f.endpointURL + remote
	}
	return f.endpointURL + rest.URLPathEscape(remote)
}

func statusError(resp *http.Response, err error) error {
	if err != nil {
		return driver.Wrap(driver.CodeInvalidResponse, err, "httpmirror: request failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close() //nolint:errcheck
		if resp.StatusCode == http.StatusNotFound {
			return driver.NewError(driver.CodeNotFound, "httpmirror: not found")
		}
		return driver.NewError(driver.CodeInvalidResponse, fmt.Sprintf("httpmirror: HTTP %s", resp.Status))
	}
	return nil
}

// Stat HEADs the path; if the response looks like an HTML directory
// index it Range-sniffs a small prefix to decide file vs directory
// (spec.md §4.7).
func (f *Fs) Stat(ctx context.Context, p string) (driver.Stat, error) {
	norm, err := driver.NormalizePath(p, false)
	if err != nil {
		return driver.Stat{}, err
	}
	target := f.url(norm)
	req, err := http.NewRequestWithContext(ctx, "HEAD", target, nil)
	if err != nil {
		return driver.Stat{}, driver.Wrap(driver.CodeInvalidResponse, err, "httpmirror: building HEAD request")
	}
	resp, err := f.client.do(req)
	if statErr := statusError(resp, err); statErr != nil {
		return driver.Stat{}, statErr
	}
	defer resp.Body.Close() //nolint:errcheck

	st := driver.Stat{
		Path: norm,
		Name: driver.Name(norm),
	}
	if sz := rest.ParseSizeFromHeaders(resp.Header); sz >= 0 {
		st.Size = driver.WithSize(sz)
	}
	if t, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		st.Modified = &t
	}
	contentType := strings.SplitN(resp.Header.Get("Content-Type"), ";", 2)[0]
	st.Mimetype = contentType
	if contentType == "text/html" {
		isDir, snErr := f.looksLikeDirectoryIndex(ctx, target)
		if snErr == nil && isDir {
			st.IsDirectory = true
			st.Size = nil
			st.Mimetype = ""
		}
	}
	return st, nil
}

func (f *Fs) Exists(ctx context.Context, p string) (bool, error) {
	_, err := f.Stat(ctx, p)
	if err == nil {
		return true, nil
	}
	if driver.Is(err, driver.CodeNotFound) {
		return false, nil
	}
	return false, err
}

// looksLikeDirectoryIndex Range-sniffs the first sniffBudget bytes of
// an HTML response and reports whether it parses as an anchor-bearing
// directory listing (spec.md §4.7's "small Range-sniff").
func (f *Fs) looksLikeDirectoryIndex(ctx context.Context, target string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", sniffBudget-1))
	resp, err := f.client.do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("httpmirror: sniff HTTP %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, sniffBudget))
	if err != nil {
		return false, err
	}
	base, _ := url.Parse(target)
	names, _ := parseHTMLAnchors(base, bytes.NewReader(body))
	return len(names) > 0, nil
}

// ListDirectory lists dir, using a TTL-bounded cache keyed by the
// normalized directory path (spec.md §3, §5: concurrent misses for the
// same key are de-duplicated by ttlcache.GetOrLoad).
func (f *Fs) ListDirectory(ctx context.Context, p string, opts driver.ListOptions) (driver.ListPage, error) {
	norm, err := driver.NormalizePath(p, true)
	if err != nil {
		return driver.ListPage{}, err
	}
	if opts.Refresh {
		f.listings.Invalidate(norm)
	}
	v, err := f.listings.GetOrLoad(ctx, norm, func(ctx context.Context) (any, error) {
		return f.listDirUncached(ctx, norm)
	})
	if err != nil {
		return driver.ListPage{}, err
	}
	items := v.([]driver.Stat)
	return driver.ListPage{Items: items, IsRoot: norm == "/"}, nil
}

func (f *Fs) listDirUncached(ctx context.Context, dir string) ([]driver.Stat, error) {
	entries, err := f.fetchAndParseListing(ctx, dir)
	if err != nil {
		return nil, err
	}
	return f.resolveEntries(ctx, dir, entries)
}

// fetchAndParseListing GETs the directory page, auto-detects its
// format, and extracts the mirrorEntry set (spec.md §4.7).
func (f *Fs) fetchAndParseListing(ctx context.Context, dir string) ([]mirrorEntry, error) {
	target := f.url(dir)
	if !strings.HasSuffix(target, "/") {
		target += "/"
	}
	base, err := url.Parse(target)
	if err != nil {
		return nil, driver.Wrap(driver.CodeInvalidResponse, err, "httpmirror: bad listing URL")
	}
	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return nil, driver.Wrap(driver.CodeInvalidResponse, err, "httpmirror: building listing request")
	}
	resp, err := f.client.do(req)
	if statErr := statusError(resp, err); statErr != nil {
		if driver.Is(statErr, driver.CodeNotFound) {
			return nil, driver.NewError(driver.CodeNotFound, "httpmirror: directory not found").WithDetails("path", dir)
		}
		return nil, statErr
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, sniffBudget))
	if err != nil {
		return nil, driver.Wrap(driver.CodeInvalidResponse, err, "httpmirror: reading listing body")
	}
	contentType := strings.SplitN(resp.Header.Get("Content-Type"), ";", 2)[0]

	entries, err := parseListing(base, contentType, body, f.opt)
	if err != nil {
		return nil, driver.Wrap(driver.CodeInvalidResponse, err, "httpmirror: parsing listing")
	}

	if f.opt.Preset == "aliyun" {
		if more, ok := nextAliyunPage(base); ok {
			entries = append(entries, f.fetchAliyunPage(ctx, more)...)
		}
	}
	return dedupeEntries(entries), nil
}

func (f *Fs) fetchAliyunPage(ctx context.Context, pageURL string) []mirrorEntry {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil
	}
	resp, err := f.client.do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, sniffBudget))
	if err != nil {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	entries, err := parseListing(base, "text/html", body, f.opt)
	if err != nil {
		logging.Debugf(nil, "httpmirror: discarding unparseable aliyun page 2: %v", err)
		return nil
	}
	return entries
}

// resolveEntries turns the parsed anchor/table entries into Stats,
// HEADing each entry concurrently to fill in size/modtime the listing
// format didn't already supply (spec.md §4.7, the teacher's List()).
func (f *Fs) resolveEntries(ctx context.Context, dir string, entries []mirrorEntry) ([]driver.Stat, error) {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make([]driver.Stat, 0, len(entries))
		in  = make(chan mirrorEntry, headConcurrency)
	)
	add := func(s driver.Stat) {
		mu.Lock()
		out = append(out, s)
		mu.Unlock()
	}
	worker := func() {
		defer wg.Done()
		for e := range in {
			remote := driver.Join(dir, e.Name)
			st := driver.Stat{Path: remote, Name: e.Name, IsDirectory: e.IsDir}
			if e.Size >= 0 {
				st.Size = driver.WithSize(e.Size)
			}
			if !e.Modified.IsZero() {
				m := e.Modified
				st.Modified = &m
			}
			if !e.IsDir && e.Size < 0 && !f.opt.NoHead {
				f.fillFromHead(ctx, remote, &st)
			}
			add(st)
		}
	}
	workers := headConcurrency
	if workers > len(entries)+1 {
		workers = len(entries) + 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker()
	}
	for _, e := range entries {
		in <- e
	}
	close(in)
	wg.Wait()
	return out, nil
}

func (f *Fs) fillFromHead(ctx context.Context, remote string, st *driver.Stat) {
	target := f.url(remote)
	req, err := http.NewRequestWithContext(ctx, "HEAD", target, nil)
	if err != nil {
		return
	}
	resp, err := f.client.do(req)
	if err != nil {
		logging.Debugf(remote, "httpmirror: HEAD failed, leaving size/modtime unknown: %v", err)
		return
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return
	}
	if sz := rest.ParseSizeFromHeaders(resp.Header); sz >= 0 {
		st.Size = driver.WithSize(sz)
	}
	if t, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		st.Modified = &t
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			st.Mimetype = mt
		}
	}
}

// DownloadFile builds a descriptor that passes Range requests straight
// through (spec.md §4.7: "native passthrough; Range honored"). Mirror
// origins are treated as slice-safe, so the fallback policy is
// honor_206 (spec.md §4.8), unlike the WebDAV driver's full-fetch
// default.
func (f *Fs) DownloadFile(ctx context.Context, p string) (*driver.StreamDescriptor, error) {
	if err := driver.RequireCapability(f.caps, driver.Reader); err != nil {
		return nil, err
	}
	norm, err := driver.NormalizePath(p, false)
	if err != nil {
		return nil, err
	}
	target := f.url(norm)

	st, err := f.Stat(ctx, norm)
	if err != nil {
		return nil, err
	}
	desc := &driver.StreamDescriptor{
		Size:                st.Size,
		ContentType:         st.Mimetype,
		LastModified:        st.Modified,
		SupportsRange:       true,
		RangeFallbackPolicy: driver.Honor206,
		OpenHead: func(ctx context.Context) (*http.Response, error) {
			req, err := http.NewRequestWithContext(ctx, "HEAD", target, nil)
			if err != nil {
				return nil, err
			}
			return f.client.do(req)
		},
		OpenFull: func(ctx context.Context) (*http.Response, error) {
			req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
			if err != nil {
				return nil, err
			}
			resp, err := f.client.do(req)
			if statErr := statusError(resp, err); statErr != nil {
				return nil, statErr
			}
			return resp, nil
		},
		OpenRange: func(ctx context.Context, r driver.ByteRange) (*http.Response, error) {
			req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
			if err != nil {
				return nil, err
			}
			rh := rest.RangeHeader{Start: r.Start, End: r.End}
			req.Header.Set("Range", rangeHeaderValue(rh))
			resp, err := f.client.do(req)
			if statErr := statusError(resp, err); statErr != nil {
				return nil, statErr
			}
			return resp, nil
		},
	}
	return desc, nil
}

func rangeHeaderValue(r rest.RangeHeader) string {
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// GenerateDirectLink returns the mirror's own URL unchanged: the
// underlying HTTP origin requires no credentials, so it's directly
// usable by a browser (spec.md §6's native_direct contract).
func (f *Fs) GenerateDirectLink(ctx context.Context, p string, _ bool) (driver.Link, error) {
	if err := driver.RequireCapability(f.caps, driver.DirectLink); err != nil {
		return driver.Link{}, err
	}
	norm, err := driver.NormalizePath(p, false)
	if err != nil {
		return driver.Link{}, err
	}
	return driver.Link{URL: f.url(norm), Type: driver.LinkNativeDirect}, nil
}

func (f *Fs) GenerateProxyLink(ctx context.Context, p string) (driver.Link, error) {
	if err := driver.RequireCapability(f.caps, driver.Proxy); err != nil {
		return driver.Link{}, err
	}
	norm, err := driver.NormalizePath(p, false)
	if err != nil {
		return driver.Link{}, err
	}
	return driver.Link{URL: "proxy://" + f.name + norm, Type: driver.LinkProxy}, nil
}

// Every write operation refuses before any network call: this driver
// never advertises Writer (spec.md §8's capability-honesty invariant).
func (f *Fs) UploadFile(ctx context.Context, p string, src io.Reader, info driver.UploadInfo) (driver.UploadResult, error) {
	return driver.UploadResult{}, driver.RequireCapability(f.caps, driver.Writer)
}

func (f *Fs) UpdateFile(ctx context.Context, p string, body io.Reader) (string, error) {
	return "", driver.RequireCapability(f.caps, driver.Writer)
}

func (f *Fs) CreateDirectory(ctx context.Context, p string) (driver.CreateDirResult, error) {
	return driver.CreateDirResult{}, driver.RequireCapability(f.caps, driver.Writer)
}

func (f *Fs) RenameItem(ctx context.Context, src, dst string) (driver.OpResult, error) {
	return driver.OpResult{}, driver.RequireCapability(f.caps, driver.Writer, driver.Atomic)
}

func (f *Fs) CopyItem(ctx context.Context, src, dst string, skipExisting bool) (driver.OpResult, error) {
	return driver.OpResult{}, driver.RequireCapability(f.caps, driver.Writer, driver.Atomic)
}

func (f *Fs) BatchRemoveItems(ctx context.Context, paths []string, displayPaths []string) (driver.BatchRemoveResult, error) {
	return driver.BatchRemoveResult{}, driver.RequireCapability(f.caps, driver.Writer)
}

// Command implements "refresh", forcing the next listing of every
// cached directory to bypass the TTL cache (SPEC_FULL.md's Command
// extension for this driver).
func (f *Fs) Command(ctx context.Context, name string, args []string, opts map[string]string) (any, error) {
	switch name {
	case "refresh":
		f.listings.Flush()
		return nil, nil
	default:
		return nil, driver.NewError(driver.CodeInvalidConfig, "httpmirror: unknown command "+name)
	}
}

var _ driver.Driver = (*Fs)(nil)
var _ driver.Commander = (*Fs)(nil)
