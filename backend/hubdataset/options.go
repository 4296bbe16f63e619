// Package hubdataset implements the Hub dataset driver (spec.md §4.3):
// read/write access to a dataset-style Git repository over its HTTP
// APIs, with LFS presign/commit, optional Xet metadata, and FS-style
// CRUD plus front-end-oriented multipart uploads. Grounded on the
// teacher's backend/b2 for the "fetch an upload action, PUT to it,
// then commit a manifest line" shape (b2's upload.go large-file
// session) and on backend/webdav's options/Command layering for the
// rest of the ambient plumbing.
package hubdataset

import (
	"context"
	"net/http"

	"github.com/hubdrive/drivercore/driver"
	"github.com/hubdrive/drivercore/driver/configstruct"
	"github.com/hubdrive/drivercore/internal/fshttp"
)

func init() {
	driver.Register(&driver.RegInfo{
		Name:        "hubdataset",
		Description: "Hub-hosted dataset repository (Git + LFS/Xet)",
		NewDriver:   NewDriver,
		Options: []driver.Option{
			{Name: "endpoint", Help: "API base URL.", Required: true},
			{Name: "repo", Help: "Repository id, e.g. org/name.", Required: true},
			{Name: "revision", Help: "Branch, tag, or commit id.", Default: "main"},
			{Name: "token", Help: "Bearer token, or \"encrypted:...\".", Advanced: true},
			{Name: "use_xet", Help: "Route commits through the Xet upload path.", Default: false, Advanced: true},
			{Name: "delete_lfs_on_remove", Help: "Best-effort LFS blob cleanup after a delete.", Default: false, Advanced: true},
			{Name: "tls_skip_verify", Help: "Disable TLS certificate verification.", Default: false, Advanced: true},
		},
	})
}

// Options is this backend's configuration envelope (spec.md §3).
type Options struct {
	Endpoint          string `config:"endpoint"`
	Repo              string `config:"repo"`
	Revision          string `config:"revision" default:"main"`
	Token             string `config:"token"`
	UseXet            bool   `config:"use_xet"`
	DeleteLFSOnRemove bool   `config:"delete_lfs_on_remove"`
	TLSSkipVerify     bool   `config:"tls_skip_verify"`
}

func parseOptions(ctx context.Context, raw map[string]string, dec driver.Decryptor) (*Options, error) {
	opt := new(Options)
	if err := configstruct.Set(raw, opt); err != nil {
		return nil, driver.Wrap(driver.CodeInvalidConfig, err, "hubdataset: invalid configuration")
	}
	if opt.Endpoint == "" {
		return nil, driver.NewError(driver.CodeInvalidConfig, "hubdataset: endpoint is required")
	}
	if opt.Repo == "" {
		return nil, driver.NewError(driver.CodeInvalidConfig, "hubdataset: repo is required")
	}
	if opt.Revision == "" {
		opt.Revision = "main"
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
