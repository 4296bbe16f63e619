package githost

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hubdrive/drivercore/driver"
	"github.com/hubdrive/drivercore/internal/boundedcache"
	"github.com/hubdrive/drivercore/internal/pacer"
	"github.com/hubdrive/drivercore/internal/rest"
	"golang.org/x/time/rate"
)

const (
	largeListThreshold = 1000 // spec.md §4.4: switch to a single non-recursive trees call at this count
	modifiedCacheSize  = 1000
	treeShaCacheSize   = 500
	gitkeepName        = ".gitkeep"
)

// Fs is the Git-hosting driver instance (spec.md §4.4).
type Fs struct {
	name string
	root string
	opt  Options

	hc     *http.Client
	client *rest.Client

	caps driver.Capabilities

	// writeMu serializes every write under a process-wide lock per
	// driver instance (spec.md §4.4: "serialized under a process-wide
	// lock per driver instance, plus a throttle"); writeLimiter enforces
	// the minimum inter-write delay as a 1-event burst limiter.
	writeMu      sync.Mutex
	writeLimiter *rate.Limiter

	modifiedCache *boundedcache.Cache[string, time.Time]
	treeShaCache  *boundedcache.Cache[string, string]

	isPrivate bool
}

// NewDriver constructs a Git-hosting driver (spec.md §4.4, §6).
func NewDriver(ctx context.Context, name, root string, raw map[string]string, collab driver.Collaborators) (driver.Driver, error) {
	opt, err := parseOptions(ctx, raw, collab.Decrypt)
	if err != nil {
		return nil, err
	}
	normRoot, err := driver.NormalizePath(root, true)
	if err != nil {
		return nil, driver.Wrap(driver.CodeInvalidPath, err, "githost: invalid root")
	}

	hc := newHTTPClient(opt)
	client := rest.NewClient(hc).SetRoot(opt.Endpoint).SetErrorHandler(apiErrorHandler)
	if opt.Token != "" {
		client.SetBearer(opt.Token)
	}

	return &Fs{
		name:          name,
		root:          strings.TrimSuffix(normRoot, "/"),
		opt:           *opt,
		hc:            hc,
		client:        client,
		isPrivate:     opt.Private,
		writeLimiter:  rate.NewLimiter(rate.Every(opt.writeThrottle()), 1),
		modifiedCache: boundedcache.New[string, time.Time](modifiedCacheSize),
		treeShaCache:  boundedcache.New[string, string](treeShaCacheSize),
	}, nil
}

type apiErrorBody struct {
	Message string `json:"message"`
}

func apiErrorHandler(resp *http.Response) error {
	body, _ := rest.ReadBody(resp)
	var parsed apiErrorBody
	_ = json.Unmarshal(body, &parsed)

	var e *driver.Error
	switch resp.StatusCode {
	case http.StatusNotFound:
		e = driver.NewError(driver.CodeNotFound, "githost: not found")
	case http.StatusUnauthorized:
		e = driver.NewError(driver.CodeTokenRequired, "githost: authentication required")
	case http.StatusForbidden:
		e = driver.NewError(driver.CodeForbidden, "githost: forbidden")
	case http.StatusTooManyRequests:
		e = driver.NewError(driver.CodeTooManyRequests, "githost: rate limited")
	default:
		e = driver.NewError(driver.CodeInvalidResponse, fmt.Sprintf("githost: HTTP %d", resp.StatusCode))
	}
	e.WithDetails("body", string(body))
	if parsed.Message != "" {
		e.WithDetails("message", parsed.Message)
	}
	return e
}

// doGet issues a retrying GET honoring Retry-After/X-RateLimit-Reset
// precedence (spec.md §4.4.5): up to opt.MaxRetries attempts on 429/5xx,
// otherwise exponential backoff capped at retry_max_delay_ms.
func (f *Fs) doGet(ctx context.Context, urlPath string, out any) (*http.Response, error) {
	var resp *http.Response
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = f.client.CallJSON(ctx, &rest.Opts{Method: "GET", Path: urlPath}, nil, out)
		retry := pacer.ShouldRetryHTTP(resp, pacer.DefaultRetryStatusCodes) || (resp == nil && pacer.ShouldRetryError(ctx, err))
		if !retry || attempt+1 >= f.opt.MaxRetries {
			return resp, err
		}
		delay := pacer.RetryAfter(resp, 0, backoffFor(attempt, f.opt.retryMaxDelay()))
		if delay > f.opt.retryMaxDelay() {
			delay = f.opt.retryMaxDelay()
		}
		select {
		case <-ctx.Done():
			return resp, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func backoffFor(attempt int, maxDelay time.Duration) time.Duration {
	d := 200 * time.Millisecond
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > maxDelay {
			return maxDelay
		}
	}
	return d
}

// throttleWrite enforces the minimum inter-write delay (spec.md §4.4)
// via a 1-event rate.Limiter, and must be called while holding writeMu.
func (f *Fs) throttleWrite(ctx context.Context) error {
	return f.writeLimiter.Wait(ctx)
}

func (f *Fs) Name() string { return f.name }
func (f *Fs) Root() string { return f.root }
func (f *Fs) String() string {
	return fmt.Sprintf("githost root '%s' (%s@%s)", f.root, f.opt.Repo, f.opt.Revision)
}

// Initialize derives the capability set (spec.md §4.4): a credential
// grants write capabilities when the revision isn't already a commit
// id (mirrors the hub dataset driver's capability derivation).
func (f *Fs) Initialize(ctx context.Context) error {
	caps := driver.NewCapabilities(driver.Reader, driver.DirectLink, driver.Proxy, driver.PagedList)
	if f.opt.Token != "" && driver.ClassifyRef(f.opt.Revision, nil, nil) != driver.RefCommit {
		caps = caps.Add(driver.Writer, driver.Atomic)
	}
	f.caps = caps
	return nil
}

func (f *Fs) Capabilities() driver.Capabilities { return f.caps }

func (f *Fs) repoPath(p string) string {
	return strings.TrimPrefix(p, "/")
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

func (f *Fs) Command(ctx context.Context, name string, args []string, opts map[string]string) (any, error) {
	switch name {
	case "refresh":
		f.modifiedCache.Purge()
		f.treeShaCache.Purge()
		return nil, nil
	default:
		return nil, driver.NewError(driver.CodeInvalidConfig, "githost: unknown command "+name)
	}
}

func (f *Fs) resolveHead(ctx context.Context) (commitSHA, treeSHA string, err error) {
	var ref refResponse
	_, err = f.doGet(ctx, fmt.Sprintf("/api/repos/%s/git/refs/heads/%s", f.opt.Repo, rest.URLPathEscape(f.opt.Revision)), &ref)
	if err != nil {
		return "", "", err
	}
	commitSHA = ref.Object.SHA
	var commit commitObject
	_, err = f.doGet(ctx, fmt.Sprintf("/api/repos/%s/git/commits/%s", f.opt.Repo, commitSHA), &commit)
	if err != nil {
		return "", "", err
	}
	return commitSHA, commit.Tree.SHA, nil
}

var _ driver.Driver = (*Fs)(nil)
var _ driver.Commander = (*Fs)(nil)
