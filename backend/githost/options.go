// Package githost implements the Git-hosting driver (spec.md §4.4): a
// read-write FS view of a Git repository at a branch/tag/commit, built
// on a Contents API for reads and the Git Database API (blobs, trees,
// commits, refs) for writes. Grounded on the teacher's backend/b2 for
// the streamed-upload/commit shape, and on backend/webdav's
// options/Command layering for the rest of the ambient plumbing.
package githost

import (
	"context"
	"net/http"
	"time"

	"github.com/hubdrive/drivercore/driver"
	"github.com/hubdrive/drivercore/driver/configstruct"
	"github.com/hubdrive/drivercore/internal/fshttp"
)

func init() {
	driver.Register(&driver.RegInfo{
		Name:        "githost",
		Description: "Git-hosted repository (Contents + Git Database API)",
		NewDriver:   NewDriver,
		Options: []driver.Option{
			{Name: "endpoint", Help: "API base URL.", Required: true},
			{Name: "repo", Help: "Repository id, e.g. org/name.", Required: true},
			{Name: "revision", Help: "Branch, tag, or commit id.", Default: "main"},
			{Name: "token", Help: "Bearer token, or \"encrypted:...\".", Advanced: true},
			{Name: "cdn_base", Help: "Raw-content CDN base URL for public downloads.", Advanced: true},
			{Name: "proxy_base", Help: "Rewrite the CDN raw URL through this proxy base instead.", Advanced: true},
			{Name: "private", Help: "Always use the authenticated Contents-API raw download path.", Default: false, Advanced: true},
			{Name: "write_throttle_ms", Help: "Minimum delay between writes.", Default: 1000, Advanced: true},
			{Name: "retry_max_delay_ms", Help: "Cap on the exponential GET retry backoff.", Default: 20000, Advanced: true},
			{Name: "max_retries", Help: "Maximum GET retry attempts.", Default: 4, Advanced: true},
			{Name: "tls_skip_verify", Help: "Disable TLS certificate verification.", Default: false, Advanced: true},
		},
	})
}

// Options is this backend's configuration envelope (spec.md §3).
type Options struct {
	Endpoint        string `config:"endpoint"`
	Repo            string `config:"repo"`
	Revision        string `config:"revision" default:"main"`
	Token           string `config:"token"`
	CDNBase         string `config:"cdn_base"`
	ProxyBase       string `config:"proxy_base"`
	Private         bool   `config:"private"`
	WriteThrottleMs int    `config:"write_throttle_ms" default:"1000"`
	RetryMaxDelayMs int    `config:"retry_max_delay_ms" default:"20000"`
	MaxRetries      int    `config:"max_retries" default:"4"`
	TLSSkipVerify   bool   `config:"tls_skip_verify"`
}

func (o *Options) writeThrottle() time.Duration {
	return time.Duration(o.WriteThrottleMs) * time.Millisecond
}

func (o *Options) retryMaxDelay() time.Duration {
	return time.Duration(o.RetryMaxDelayMs) * time.Millisecond
}

func parseOptions(ctx context.Context, raw map[string]string, dec driver.Decryptor) (*Options, error) {
	opt := new(Options)
	if err := configstruct.Set(raw, opt); err != nil {
		return nil, driver.Wrap(driver.CodeInvalidConfig, err, "githost: invalid configuration")
	}
	if opt.Endpoint == "" {
		return nil, driver.NewError(driver.CodeInvalidConfig, "githost: endpoint is required")
	}
	if opt.Repo == "" {
		return nil, driver.NewError(driver.CodeInvalidConfig, "githost: repo is required")
	}
	if opt.Revision == "" {
		opt.Revision = "main"
	}
	if opt.WriteThrottleMs <= 0 {
		opt.WriteThrottleMs = 1000
	}
	if opt.RetryMaxDelayMs <= 0 {
		opt.RetryMaxDelayMs = 20000
	}
	if opt.MaxRetries <= 0 {
		opt.MaxRetries = 4
	}
	if opt.Token != "" {
		clear, err := driver.ResolveCredential(ctx, opt.Token, dec)
		if err != nil {
			return nil, err
		}
		opt.Token = clear
	}
	return opt, nil
}

func newHTTPClient(opt *Options) *http.Client {
	return fshttp.NewClient(fshttp.Options{TLSSkipVerify: opt.TLSSkipVerify})
}
