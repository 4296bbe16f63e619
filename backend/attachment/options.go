// Package attachment implements the message-attachment driver
// (spec.md §4.5): a chat service's message stream, presented as a
// filesystem via an external VFS node index plus message-create
// uploads. Grounded directly on the teacher's backend/discord package
// — its bot session setup, chunked upload loop, and CDN Range-emulation
// reader are adapted almost line-for-line, with the journal-message
// index replaced by the driver.NodeStore external collaborator spec.md
// §4.5 calls for.
package attachment

import (
	"time"

	"github.com/hubdrive/drivercore/driver"
	"github.com/hubdrive/drivercore/driver/configstruct"
	"github.com/hubdrive/drivercore/internal/fshttp"
	"github.com/hubdrive/drivercore/internal/rest"
)

func init() {
	driver.Register(&driver.RegInfo{
		Name:        "attachment",
		Description: "Chat-service message attachments as a filesystem",
		NewDriver:   NewDriver,
		Options: []driver.Option{
			{Name: "auth_token", Help: "Bot token.", Required: true},
			{Name: "chunks_channel", Help: "Channel ID(s) to post file chunks to, space-separated.", Required: true},
			{Name: "admin_id", Help: "Owner ID used as the default scope owner.", Required: true},
			{Name: "chunk_message", Help: "Message content posted alongside each chunk.", Default: "uploaded by drivercore", Advanced: true},
			{Name: "scope", Help: "Logical scope partition within the node store.", Default: "default", Advanced: true},
			{Name: "semaphore_key", Help: "Key identifying the shared upload-concurrency semaphore.", Advanced: true},
			{Name: "upload_concurrency", Help: "Max concurrent message-API calls across all instances sharing semaphore_key.", Default: "4", Advanced: true},
			{Name: "list_timeout_ms", Help: "Timeout for directory listing scans. 0 for no timeout.", Default: "0", Advanced: true},
		},
	})
}

const (
	// ChunkSize is the maximum attachment size this driver uploads per
	// message, matching the teacher's 8 MiB overallUploadLimit.
	ChunkSize int64 = 8 * 1024 * 1024

	indexWriteRetries = 6
)

// Options is this backend's configuration envelope (spec.md §3's
// "backend-specific identifiers" and "tunables"), bound via
// driver/configstruct the way every teacher backend binds its Options
// struct via fs/config/configstruct.
type Options struct {
	AuthToken         string        `config:"auth_token"`
	ChunksChannel     string        `config:"chunks_channel"`
	AdminID           string        `config:"admin_id"`
	ChunkMessage      string        `config:"chunk_message" default:"uploaded by drivercore"`
	Scope             string        `config:"scope" default:"default"`
	SemaphoreKey      string        `config:"semaphore_key"`
	UploadConcurrency int64         `config:"upload_concurrency" default:"4"`
	ListTimeoutMS     int64         `config:"list_timeout_ms" default:"0"`
}

// ListTimeout returns the configured scan timeout, or 0 for none.
func (o Options) ListTimeout() time.Duration {
	return time.Duration(o.ListTimeoutMS) * time.Millisecond
}

func newHTTPClient() *rest.Client {
	return rest.NewClient(fshttp.NewClient(fshttp.Options{UserAgent: "drivercore-attachment/1.0"}))
}

func parseOptions(raw map[string]string) (*Options, error) {
	opt := new(Options)
	if err := configstruct.Set(raw, opt); err != nil {
		return nil, driver.Wrap(driver.CodeInvalidConfig, err, "attachment: invalid configuration")
	}
	if opt.AuthToken == "" {
		return nil, driver.NewError(driver.CodeTokenRequired, "attachment: auth_token is required")
	}
	if opt.SemaphoreKey == "" {
		opt.SemaphoreKey = "attachment:" + opt.ChunksChannel
	}
	return opt, nil
}
