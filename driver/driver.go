package driver

import (
	"context"
	"fmt"
	"io"
)

// Driver is the uniform contract every backend implements (spec.md
// §4.1). The orchestrator type-asserts to the optional interfaces
// below (Writer-capability operations, multipart, etc) based on the
// Capabilities the driver publishes; a driver that doesn't advertise a
// capability should still implement the corresponding method by
// returning a CodeCapabilityMissing *Error; callers asserting
// interfaces is an optimization, not a substitute for that invariant.
type Driver interface {
	fmt.Stringer

	Name() string
	Root() string

	// Initialize resolves credentials, probes the backend, and
	// (re)computes Capabilities. Must be called, and must succeed,
	// before any other method is used.
	Initialize(ctx context.Context) error
	Capabilities() Capabilities

	Stat(ctx context.Context, path string) (Stat, error)
	Exists(ctx context.Context, path string) (bool, error)
	ListDirectory(ctx context.Context, path string, opts ListOptions) (ListPage, error)
	DownloadFile(ctx context.Context, path string) (*StreamDescriptor, error)

	GenerateDirectLink(ctx context.Context, path string, forceDownload bool) (Link, error)
	GenerateProxyLink(ctx context.Context, path string) (Link, error)

	UploadFile(ctx context.Context, path string, src io.Reader, info UploadInfo) (UploadResult, error)
	UpdateFile(ctx context.Context, path string, body io.Reader) (string, error)
	CreateDirectory(ctx context.Context, path string) (CreateDirResult, error)

	RenameItem(ctx context.Context, src, dst string) (OpResult, error)
	CopyItem(ctx context.Context, src, dst string, skipExisting bool) (OpResult, error)
	BatchRemoveItems(ctx context.Context, paths []string, displayPaths []string) (BatchRemoveResult, error)
}

// LinkType distinguishes a URL a browser can use with no extra
// credentials from one that must be proxied through the orchestrator.
type LinkType string

const (
	LinkNativeDirect LinkType = "native_direct"
	LinkProxy        LinkType = "proxy"
)

// Link is the result of GenerateDirectLink/GenerateProxyLink.
type Link struct {
	URL  string
	Type LinkType
}

// UploadInfo carries the source metadata for UploadFile (spec.md §4.1).
type UploadInfo struct {
	Filename      string
	ContentType   string
	ContentLength int64 // -1 if unknown
	ModTime       int64 // unix nanos, 0 if unknown
}

// UploadResult is what UploadFile returns. StoragePath preserves
// whichever of the two conventions (§6) the caller used: it is either
// a mount-relative view path or the input sub-path, echoed back
// unchanged, never reinterpreted by the driver.
type UploadResult struct {
	StoragePath string
}

// CreateDirResult is the result of CreateDirectory.
type CreateDirResult struct {
	Path          string
	AlreadyExisted bool
}

// OpStatus is the per-item result of a rename/copy/delete.
type OpStatus string

const (
	OpSuccess OpStatus = "success"
	OpSkipped OpStatus = "skipped"
	OpFailed  OpStatus = "failed"
)

// OpResult is the result of RenameItem/CopyItem.
type OpResult struct {
	Status OpStatus
	Error  *Error
}

// PathError pairs a path with the error that occurred for it, used in
// batch results.
type PathError struct {
	Path  string
	Error *Error
}

// BatchRemoveResult is the result of BatchRemoveItems: every path not
// named in Failed succeeded (spec.md §4.1, §8 - duplicate paths
// collapse to the per-path result granularity).
type BatchRemoveResult struct {
	Success []string
	Failed  []PathError
}

// Shutdowner is implemented by drivers that hold resources needing an
// explicit release (the teacher's discord backend closes its bot
// session on Shutdown).
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Commander is implemented by drivers exposing a narrow runtime
// reconfiguration/debug hook (the teacher's http/webdav backends'
// Command method).
type Commander interface {
	Command(ctx context.Context, name string, args []string, opts map[string]string) (any, error)
}

// MultipartUploader is the optional interface drivers advertising the
// Multipart capability implement (spec.md §4.1, §4.7's three
// strategies share this shape even though their ProviderMeta differs).
type MultipartUploader interface {
	InitializeFrontendMultipartUpload(ctx context.Context, path string, size int64, contentType string) (Session, error)
	SignMultipartParts(ctx context.Context, sessionID string, partNumbers []int) (Session, error)
	ListMultipartParts(ctx context.Context, sessionID string) ([]PartInfo, error)
	ListMultipartUploads(ctx context.Context, filter map[string]string) ([]Session, error)
	CompleteFrontendMultipartUpload(ctx context.Context, sessionID string, parts []PartCompletion) (UploadResult, error)
	AbortFrontendMultipartUpload(ctx context.Context, sessionID string) error
	ProxyFrontendMultipartChunk(ctx context.Context, sessionID string, partNumber int, body io.Reader, size int64) (PartInfo, error)
}

// PartInfo describes one uploaded/known part of a multipart session.
type PartInfo struct {
	PartNumber int
	ETag       string
	Size       int64
	URL        string
}

// PartCompletion is what the caller supplies to complete a multipart
// upload: the part number and the ETag the upstream returned for it.
type PartCompletion struct {
	PartNumber int
	ETag       string
}
