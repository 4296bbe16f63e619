package hubdataset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hubdrive/drivercore/driver"
	"github.com/hubdrive/drivercore/internal/pacer"
	"github.com/hubdrive/drivercore/internal/rest"
	"github.com/hubdrive/drivercore/internal/ttlcache"
)

const (
	treeCacheTTL           = 10 * time.Second
	refsCacheTTL           = 60 * time.Second
	pathsInfoTTL           = 30 * time.Second
	defaultTreeLimitExpand = 100
)

// Fs is the Hub dataset driver instance (spec.md §4.3).
type Fs struct {
	name string
	root string
	opt  Options

	hc     *http.Client
	client *rest.Client
	pacer  *pacer.Pacer

	sessions driver.SessionStore

	caps driver.Capabilities

	treeCache  *ttlcache.Cache
	refsCache  *ttlcache.Cache
	pathsCache *ttlcache.Cache

	isPrivate      bool
	isGated        bool
	requiresAuth   bool
	wasmDisallowed bool
}

// wasmDisallowEnvVar is the signal a sandboxed host sets when it
// refuses runtime Wasm compilation (spec.md §4.3.7): some embedding
// environments (serverless sandboxes, certain restricted containers)
// disable this outright, which the Xet upload path depends on.
const wasmDisallowEnvVar = "HUBDATASET_WASM_DISALLOWED"

// NewDriver constructs a Hub dataset driver (spec.md §4.3, §6).
func NewDriver(ctx context.Context, name, root string, raw map[string]string, collab driver.Collaborators) (driver.Driver, error) {
	opt, err := parseOptions(ctx, raw, collab.Decrypt)
	if err != nil {
		return nil, err
	}
	normRoot, err := driver.NormalizePath(root, true)
	if err != nil {
		return nil, driver.Wrap(driver.CodeInvalidPath, err, "hubdataset: invalid root")
	}

	hc := newHTTPClient(opt)
	client := rest.NewClient(hc).SetRoot(opt.Endpoint).SetErrorHandler(apiErrorHandler)
	if opt.Token != "" {
		client.SetBearer(opt.Token)
	}

	p := pacer.New().SetMinSleep(100 * time.Millisecond).SetMaxSleep(10 * time.Second).SetDecayConstant(2).SetRetries(5)

	return &Fs{
		name:       name,
		root:       strings.TrimSuffix(normRoot, "/"),
		opt:        *opt,
		hc:         hc,
		client:     client,
		pacer:      p,
		sessions:   collab.Sessions,
		treeCache:  ttlcache.New(treeCacheTTL, treeCacheTTL),
		refsCache:  ttlcache.New(refsCacheTTL, refsCacheTTL),
		pathsCache: ttlcache.New(pathsInfoTTL, pathsInfoTTL),
	}, nil
}

// apiErrorBody is the shape of the backend's JSON error responses,
// when it bothers to send one; its "code" travels as a stable
// identifier a caller can act on (spec.md §4.1: "driver-specific codes
// are carried as stable identifiers in a code field"; §4.3.1: "the
// backend may reject invalid limits with a distinct code which is
// surfaced verbatim").
type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func apiErrorHandler(resp *http.Response) error {
	body, _ := rest.ReadBody(resp)
	var parsed apiErrorBody
	_ = json.Unmarshal(body, &parsed)

	var e *driver.Error
	switch resp.StatusCode {
	case http.StatusNotFound:
		e = driver.NewError(driver.CodeNotFound, "hubdataset: not found")
	case http.StatusUnauthorized:
		e = driver.NewError(driver.CodeTokenRequired, "hubdataset: authentication required")
	case http.StatusForbidden:
		e = driver.NewError(driver.CodeForbidden, "hubdataset: forbidden")
	case http.StatusTooManyRequests:
		e = driver.NewError(driver.CodeTooManyRequests, "hubdataset: rate limited")
	case http.StatusBadRequest:
		e = driver.NewError(driver.CodeInvalidResponse, "hubdataset: bad request")
	default:
		e = driver.NewError(driver.CodeInvalidResponse, fmt.Sprintf("hubdataset: HTTP %d", resp.StatusCode))
	}
	e.WithDetails("body", string(body))
	if parsed.Code != "" {
		e.WithDetails("backend_code", parsed.Code)
	}
	return e
}

// retryStatusCodes mirrors the teacher's retryErrorCodes: rate-limit
// and server-side transients are worth a retry, nothing else is.
var retryStatusCodes = []int{429, 500, 502, 503, 504, 509}

func shouldRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	return pacer.ShouldRetryError(ctx, err) || pacer.ShouldRetryHTTP(resp, retryStatusCodes), err
}

func (f *Fs) Name() string { return f.name }
func (f *Fs) Root() string { return f.root }
func (f *Fs) String() string {
	return fmt.Sprintf("hubdataset root '%s' (%s@%s)", f.root, f.opt.Repo, f.opt.Revision)
}

// Initialize probes dataset metadata and derives the capability set
// (spec.md §4.3: "always READER+DIRECT_LINK+PROXY+PAGED_LIST; add
// WRITER+ATOMIC+MULTIPART iff credential present and ref is not a
// commit id"). The driver starts optimistic; a later refs-probe
// failure during a write doesn't revoke capabilities, it only blocks
// that one write (requireWritableRef).
func (f *Fs) Initialize(ctx context.Context) error {
	var meta repoMeta
	opts := &rest.Opts{
		Method: "GET",
		Path:   fmt.Sprintf("/api/datasets/%s", f.opt.Repo),
	}
	err := f.pacer.Call(func() (bool, error) {
		resp, callErr := f.client.CallJSON(ctx, opts, nil, &meta)
		return shouldRetry(ctx, resp, callErr)
	})
	if err != nil {
		return err
	}
	f.isPrivate = meta.Private
	f.isGated = meta.Gated
	f.requiresAuth = meta.RequiresAuth
	f.wasmDisallowed = os.Getenv(wasmDisallowEnvVar) != ""

	caps := driver.NewCapabilities(driver.Reader, driver.DirectLink, driver.Proxy, driver.PagedList)
	if f.opt.Token != "" && driver.ClassifyRef(f.opt.Revision, nil, nil) != driver.RefCommit {
		caps = caps.Add(driver.Writer, driver.Atomic, driver.Multipart)
	}
	f.caps = caps
	return nil
}

func (f *Fs) Capabilities() driver.Capabilities { return f.caps }

func (f *Fs) repoPath(p string) string {
	rel := strings.TrimPrefix(p, "/")
	return rel
}

// Stat resolves a single path via the paths-info batch (spec.md
// §4.3.3), which is cheaper than a dedicated stat endpoint and already
// carries the LFS/Xet/lastCommit metadata a caller may want.
func (f *Fs) Stat(ctx context.Context, p string) (driver.Stat, error) {
	norm, err := driver.NormalizePath(p, false)
	if err != nil {
		return driver.Stat{}, driver.Wrap(driver.CodeInvalidPath, err, "hubdataset: invalid path")
	}
	infos, err := f.pathsInfo(ctx, []string{f.repoPath(norm)}, true, "stat")
	if err != nil {
		return driver.Stat{}, err
	}
	info, ok := infos[f.repoPath(norm)]
	if !ok {
		return driver.Stat{}, driver.NewError(driver.CodeNotFound, "hubdataset: path not found")
	}
	return f.statFromPathInfo(norm, info), nil
}

func (f *Fs) statFromPathInfo(remote string, info pathInfo) driver.Stat {
	st := driver.Stat{
		Path:           remote,
		Name:           driver.Name(remote),
		IsDirectory:    info.Type == "directory",
		StorageBackend: "hubdataset",
	}
	if info.Type != "directory" {
		st.Size = driver.WithSize(info.Size)
	}
	if info.LastCommit != nil && info.LastCommit.Date != "" {
		if t, err := time.Parse(time.RFC3339, info.LastCommit.Date); err == nil {
			st.Modified = &t
		}
	}
	if info.LFS != nil {
		st.ETag = info.LFS.OID
	} else if info.XetHash != "" {
		st.ETag = info.XetHash
	}
	return st
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

// ListDirectory pages through the tree API (spec.md §4.3.1). The
// cursor travels via the Link response header; pagination stops at
// fixed-point (a repeated cursor) as a defense against a backend bug
// that never advances.
func (f *Fs) ListDirectory(ctx context.Context, p string, opts driver.ListOptions) (driver.ListPage, error) {
	norm, err := driver.NormalizePath(p, true)
	if err != nil {
		return driver.ListPage{}, driver.Wrap(driver.CodeInvalidPath, err, "hubdataset: invalid path")
	}

	// Listings always request expand (per-entry size/oid inline, sparing
	// a paths-info round trip for every browsed directory), so the
	// lower of the two spec-mandated default limits applies.
	const expand = true
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultTreeLimitExpand
	}
	key := fmt.Sprintf("tree:%s@%s:%s:expand=%v:recursive=%v:limit=%d:cursor=%s",
		f.opt.Repo, f.opt.Revision, norm, expand, false, limit, opts.Cursor)
	if opts.Refresh {
		f.treeCache.Invalidate(key)
	}

	v, err := f.treeCache.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) {
		return f.fetchTreePage(ctx, norm, opts.Cursor, limit)
	})
	if err != nil {
		return driver.ListPage{}, err
	}
	page := v.(treePageResult)

	items := make([]driver.Stat, 0, len(page.entries))
	for _, e := range page.entries {
		child := driver.Join(norm, driver.Name("/"+e.Path))
		st := driver.Stat{
			Path:           child,
			Name:           driver.Name(child),
			IsDirectory:    e.Type == "directory",
			StorageBackend: "hubdataset",
		}
		if e.Type != "directory" {
			st.Size = driver.WithSize(e.Size)
		}
		if e.OID != "" {
			st.ETag = e.OID
		}
		items = append(items, st)
	}

	return driver.ListPage{
		Items:      items,
		IsRoot:     norm == "/",
		HasMore:    page.nextCursor != "",
		NextCursor: page.nextCursor,
	}, nil
}

type treePageResult struct {
	entries    []treeEntry
	nextCursor string
}

func (f *Fs) fetchTreePage(ctx context.Context, dir string, cursor string, limit int) (treePageResult, error) {
	pathSeg := strings.Trim(dir, "/")
	urlPath := fmt.Sprintf("/api/datasets/%s/tree/%s", f.opt.Repo, f.opt.Revision)
	if pathSeg != "" {
		urlPath += "/" + rest.URLPathEscape(pathSeg)
	}
	urlPath += fmt.Sprintf("?expand=true&limit=%d", limit)
	if cursor != "" {
		urlPath += "&cursor=" + cursor
	}

	var page treePage
	var lastCursor string
	var resp *http.Response
	err := f.pacer.Call(func() (bool, error) {
		var callErr error
		resp, callErr = f.client.CallJSON(ctx, &rest.Opts{Method: "GET", Path: urlPath}, nil, &page)
		return shouldRetry(ctx, resp, callErr)
	})
	if err != nil {
		return treePageResult{}, err
	}
	if resp != nil {
		lastCursor = rest.ParseLinkNext(resp.Header)
		if u, err := url.Parse(lastCursor); err == nil && u.Query().Get("cursor") != "" {
			lastCursor = u.Query().Get("cursor")
		}
	}
	if lastCursor == cursor && cursor != "" {
		// Fixed-point termination (spec.md §4.3.1): a repeated cursor
		// means the backend isn't advancing; stop rather than loop.
		lastCursor = ""
	}
	return treePageResult{entries: page.Entries, nextCursor: lastCursor}, nil
}

// DownloadFile streams a file via Range passthrough (spec.md §4.3.6:
// "the stream descriptor supports Range by passing through").
func (f *Fs) DownloadFile(ctx context.Context, p string) (*driver.StreamDescriptor, error) {
	if err := driver.RequireCapability(f.caps, driver.Reader); err != nil {
		return nil, err
	}
	norm, err := driver.NormalizePath(p, false)
	if err != nil {
		return nil, driver.Wrap(driver.CodeInvalidPath, err, "hubdataset: invalid path")
	}
	st, err := f.Stat(ctx, norm)
	if err != nil {
		return nil, err
	}
	resolveURL, err := f.resolveURL(norm)
	if err != nil {
		return nil, err
	}

	open := func(ctx context.Context, method string, r *driver.ByteRange) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, resolveURL, nil)
		if err != nil {
			return nil, err
		}
		if f.opt.Token != "" {
			req.Header.Set("Authorization", "Bearer "+f.opt.Token)
		}
		if r != nil {
			req.Header.Set("Range", rangeHeaderValue(*r))
		}
		resp, err := f.hc.Do(req)
		if err != nil {
			return nil, driver.Wrap(driver.CodeInvalidResponse, err, "hubdataset: download request failed")
		}
		if resp.StatusCode >= 300 {
			return nil, apiErrorHandler(resp)
		}
		return resp, nil
	}

	return &driver.StreamDescriptor{
		Size:                st.Size,
		SupportsRange:       true,
		RangeFallbackPolicy: driver.Honor206,
		OpenHead: func(ctx context.Context) (*http.Response, error) {
			return open(ctx, "HEAD", nil)
		},
		OpenFull: func(ctx context.Context) (*http.Response, error) {
			return open(ctx, "GET", nil)
		},
		OpenRange: func(ctx context.Context, r driver.ByteRange) (*http.Response, error) {
			return open(ctx, "GET", &r)
		},
	}, nil
}

func rangeHeaderValue(r driver.ByteRange) string {
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

func (f *Fs) resolveURL(p string) (string, error) {
	rel := f.repoPath(p)
	return rest.URLJoin(f.opt.Endpoint, fmt.Sprintf("/api/datasets/%s/resolve/%s/%s", f.opt.Repo, f.opt.Revision, rest.URLPathEscape(rel)))
}

// GenerateDirectLink refuses on private/gated datasets (spec.md
// §4.3.6): a direct URL a browser can hit with no credentials is only
// meaningful for a public dataset.
func (f *Fs) GenerateDirectLink(ctx context.Context, p string, _ bool) (driver.Link, error) {
	if err := driver.RequireCapability(f.caps, driver.DirectLink); err != nil {
		return driver.Link{}, err
	}
	if f.isPrivate || f.isGated || f.requiresAuth {
		return driver.Link{}, driver.NewError(driver.CodeDirectLinkUnavail,
			"hubdataset: direct link unavailable for a private/gated dataset; use the proxy link")
	}
	norm, err := driver.NormalizePath(p, false)
	if err != nil {
		return driver.Link{}, driver.Wrap(driver.CodeInvalidPath, err, "hubdataset: invalid path")
	}
	u, err := f.resolveURL(norm)
	if err != nil {
		return driver.Link{}, driver.Wrap(driver.CodeInvalidResponse, err, "hubdataset: building resolve URL")
	}
	return driver.Link{URL: u, Type: driver.LinkNativeDirect}, nil
}

func (f *Fs) GenerateProxyLink(ctx context.Context, p string) (driver.Link, error) {
	if err := driver.RequireCapability(f.caps, driver.Proxy); err != nil {
		return driver.Link{}, err
	}
	norm, err := driver.NormalizePath(p, false)
	if err != nil {
		return driver.Link{}, driver.Wrap(driver.CodeInvalidPath, err, "hubdataset: invalid path")
	}
	return driver.Link{URL: "proxy://" + f.name + norm, Type: driver.LinkProxy}, nil
}

// UpdateFile overwrites an existing object with new bytes, reusing the
// upload route selection in upload.go.
func (f *Fs) UpdateFile(ctx context.Context, p string, body io.Reader) (string, error) {
	if err := driver.RequireCapability(f.caps, driver.Writer); err != nil {
		return "", err
	}
	res, err := f.UploadFile(ctx, p, body, driver.UploadInfo{ContentLength: -1})
	if err != nil {
		return "", err
	}
	return res.StoragePath, nil
}

// CreateDirectory writes a .gitkeep sentinel blob (spec.md §4.1: "on
// backends without directories, writes a sentinel blob or an index
// node"), since a Git tree has no directory objects of its own.
func (f *Fs) CreateDirectory(ctx context.Context, p string) (driver.CreateDirResult, error) {
	if err := driver.RequireCapability(f.caps, driver.Writer); err != nil {
		return driver.CreateDirResult{}, err
	}
	norm, err := driver.NormalizePath(p, true)
	if err != nil {
		return driver.CreateDirResult{}, driver.Wrap(driver.CodeInvalidPath, err, "hubdataset: invalid path")
	}
	if err := f.requireWritableRef(ctx); err != nil {
		return driver.CreateDirResult{}, err
	}
	keep := driver.Join(norm, ".gitkeep")
	if exists, _ := f.Exists(ctx, keep); exists {
		return driver.CreateDirResult{Path: norm, AlreadyExisted: true}, nil
	}
	_, err = f.UploadFile(ctx, keep, strings.NewReader(""), driver.UploadInfo{ContentLength: 0})
	if err != nil {
		return driver.CreateDirResult{}, err
	}
	return driver.CreateDirResult{Path: norm, AlreadyExisted: false}, nil
}

func (f *Fs) Command(ctx context.Context, name string, args []string, opts map[string]string) (any, error) {
	switch name {
	case "refresh":
		f.treeCache.Flush()
		f.refsCache.Flush()
		f.pathsCache.Flush()
		return nil, nil
	default:
		return nil, driver.NewError(driver.CodeInvalidConfig, "hubdataset: unknown command "+name)
	}
}

// checkXetRuntime enforces spec.md §4.3.7: when use_xet is set, a
// commit routes through the Xet upload path, which this environment
// may be unable to serve if it rejects runtime Wasm compilation.
func (f *Fs) checkXetRuntime() error {
	if !f.opt.UseXet {
		return nil
	}
	if f.wasmDisallowed {
		return driver.NewError(driver.CodeWasmDisallowed,
			"hubdataset: this environment disallows runtime Wasm compilation; disable use_xet to continue").
			WithDetails("remediation", "set use_xet=false")
	}
	return nil
}

var _ driver.Driver = (*Fs)(nil)
var _ driver.Commander = (*Fs)(nil)
var _ driver.MultipartUploader = (*Fs)(nil)

// parseExpires reads an X-Amz-Expires query parameter off a presigned
// URL string, returning 0 if absent/unparseable (spec.md §4.3.4:
// "TTL parsed from the first URL's X-Amz-Expires").
func parseExpires(rawURL string) int64 {
	idx := strings.Index(rawURL, "X-Amz-Expires=")
	if idx < 0 {
		return 0
	}
	rest := rawURL[idx+len("X-Amz-Expires="):]
	if amp := strings.IndexByte(rest, '&'); amp >= 0 {
		rest = rest[:amp]
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
