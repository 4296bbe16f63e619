package githost

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hubdrive/drivercore/driver"
	"github.com/hubdrive/drivercore/internal/rest"
)

// DownloadFile streams a file (spec.md §4.4.4): public repos prefer
// the CDN raw URL (rewritten through proxy_base when configured),
// falling back to the Contents-API raw path on a 404 (to distinguish a
// real 404 from a submodule, which the CDN serves as a 404 too);
// private repos always use the authenticated Contents-API raw path.
// Range is passed through on both paths.
func (f *Fs) DownloadFile(ctx context.Context, p string) (*driver.StreamDescriptor, error) {
	if err := driver.RequireCapability(f.caps, driver.Reader); err != nil {
		return nil, err
	}
	norm, err := driver.NormalizePath(p, false)
	if err != nil {
		return nil, driver.Wrap(driver.CodeInvalidPath, err, "githost: invalid path")
	}
	st, err := f.Stat(ctx, norm)
	if err != nil {
		return nil, err
	}
	if st.Mimetype == submoduleMimetype {
		return nil, driver.NewError(driver.CodeSubmoduleUnsup, "githost: cannot download a submodule entry")
	}
	rel := f.repoPath(norm)

	open := func(ctx context.Context, method string, r *driver.ByteRange) (*http.Response, error) {
		if !f.isPrivate {
			resp, err := f.openRaw(ctx, f.cdnURL(rel), method, r, false)
			if err == nil && resp.StatusCode != http.StatusNotFound {
				return resp, nil
			}
			if resp != nil {
				resp.Body.Close()
			}
		}
		return f.openRaw(ctx, f.contentsRawURL(rel), method, r, true)
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

func (f *Fs) openRaw(ctx context.Context, url, method string, r *driver.ByteRange, withAuth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	if withAuth && f.opt.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.opt.Token)
	}
	if r != nil {
		req.Header.Set("Range", rangeHeaderValue(*r))
	}
	resp, err := f.hc.Do(req)
	if err != nil {
		return nil, driver.Wrap(driver.CodeInvalidResponse, err, "githost: download request failed")
	}
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		defer resp.Body.Close()
		return nil, apiErrorHandler(resp)
	}
	return resp, nil
}

func rangeHeaderValue(r driver.ByteRange) string {
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// cdnURL builds the public raw-content URL, rewritten through
// proxy_base when configured (spec.md §4.4.4).
func (f *Fs) cdnURL(rel string) string {
	base := f.opt.CDNBase
	if base == "" {
		base = f.opt.Endpoint
	}
	u, _ := rest.URLJoin(base, fmt.Sprintf("/%s/%s/%s", f.opt.Repo, f.opt.Revision, rest.URLPathEscape(rel)))
	if f.opt.ProxyBase != "" {
		sep := "?"
		if strings.Contains(f.opt.ProxyBase, "?") {
			sep = "&"
		}
		return f.opt.ProxyBase + sep + "url=" + url.QueryEscape(u)
	}
	return u
}

func (f *Fs) contentsRawURL(rel string) string {
	u, _ := rest.URLJoin(f.opt.Endpoint, fmt.Sprintf("/api/repos/%s/contents/%s?ref=%s&raw=1",
		f.opt.Repo, rest.URLPathEscape(rel), rest.URLPathEscape(f.opt.Revision)))
	return u
}

func (f *Fs) GenerateDirectLink(ctx context.Context, p string, _ bool) (driver.Link, error) {
	if err := driver.RequireCapability(f.caps, driver.DirectLink); err != nil {
		return driver.Link{}, err
	}
	if f.isPrivate {
		return driver.Link{}, driver.NewError(driver.CodeDirectLinkUnavail,
			"githost: direct link unavailable for a private repository; use the proxy link")
	}
	norm, err := driver.NormalizePath(p, false)
	if err != nil {
		return driver.Link{}, driver.Wrap(driver.CodeInvalidPath, err, "githost: invalid path")
	}
	return driver.Link{URL: f.cdnURL(f.repoPath(norm)), Type: driver.LinkNativeDirect}, nil
}

func (f *Fs) GenerateProxyLink(ctx context.Context, p string) (driver.Link, error) {
	if err := driver.RequireCapability(f.caps, driver.Proxy); err != nil {
		return driver.Link{}, err
	}
	norm, err := driver.NormalizePath(p, false)
	if err != nil {
		return driver.Link{}, driver.Wrap(driver.CodeInvalidPath, err, "githost: invalid path")
	}
	return driver.Link{URL: "proxy://" + f.name + norm, Type: driver.LinkProxy}, nil
}
