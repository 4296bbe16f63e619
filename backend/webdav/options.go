// Package webdav implements the WebDAV driver (spec.md §4.6): PROPFIND
// listing, PUT/MOVE/COPY/MKCOL, and RFC 4331 quota discovery against an
// arbitrary WebDAV endpoint. Grounded directly on the teacher's
// backend/webdav package — the PROPFIND depth:1 listing, the MKCOL
// parent-walk, and the vendor-quirk table are adapted close to
// line-for-line, with the size<=2 re-stat quirk and the full-fetch
// Range fallback policy added per spec.
package webdav

import (
	"time"

	"github.com/hubdrive/drivercore/driver"
	"github.com/hubdrive/drivercore/driver/configstruct"
	"github.com/hubdrive/drivercore/internal/fshttp"
	"github.com/hubdrive/drivercore/internal/rest"
)

func init() {
	driver.Register(&driver.RegInfo{
		Name:        "webdav",
		Description: "WebDAV server",
		NewDriver:   NewDriver,
		Options: []driver.Option{
			{Name: "url", Help: "URL of the WebDAV host to connect to.", Required: true},
			{Name: "vendor", Help: "nextcloud, owncloud, sharepoint, or other.", Default: "other"},
			{Name: "user", Help: "User name."},
			{Name: "pass", Help: "Password (may be \"encrypted:...\")."},
			{Name: "tls_skip_verify", Help: "Disable TLS certificate verification.", Default: false, Advanced: true},
			{Name: "quota_enabled", Help: "Probe RFC 4331 quota on Initialize.", Default: true, Advanced: true},
			{Name: "write_throttle_ms", Help: "Minimum spacing between write calls.", Default: "0", Advanced: true},
		},
	})
}

const (
	minSleep      = 10 * time.Millisecond
	maxSleep      = 2 * time.Second
	decayConstant = 2
)

// Options is this backend's configuration envelope (spec.md §3).
type Options struct {
	URL             string `config:"url"`
	Vendor          string `config:"vendor" default:"other"`
	User            string `config:"user"`
	Pass            string `config:"pass"`
	TLSSkipVerify   bool   `config:"tls_skip_verify"`
	QuotaEnabled    bool   `config:"quota_enabled" default:"true"`
	WriteThrottleMS int64  `config:"write_throttle_ms" default:"0"`
}

func (o Options) WriteThrottle() time.Duration {
	return time.Duration(o.WriteThrottleMS) * time.Millisecond
}

func newHTTPClient(opt *Options) *rest.Client {
	return rest.NewClient(fshttp.NewClient(fshttp.Options{
		UserAgent:     "drivercore-webdav/1.0",
		TLSSkipVerify: opt.TLSSkipVerify,
	}))
}

func parseOptions(raw map[string]string) (*Options, error) {
	opt := new(Options)
	if err := configstruct.Set(raw, opt); err != nil {
		return nil, driver.Wrap(driver.CodeInvalidConfig, err, "webdav: invalid configuration")
	}
	if opt.URL == "" {
		return nil, driver.NewError(driver.CodeInvalidConfig, "webdav: url is required")
	}
	if opt.Vendor == "" {
		opt.Vendor = "other"
	}
	return opt, nil
}
