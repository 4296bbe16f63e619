package attachment

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/hubdrive/drivercore/driver"
	"github.com/hubdrive/drivercore/internal/logging"
	"github.com/hubdrive/drivercore/internal/ratelimit"
	"github.com/hubdrive/drivercore/internal/rest"
)

// Fs is the message-attachment driver (spec.md §4.5). Named Fs, like
// every teacher backend's top-level type, even though this module
// calls the interface it implements Driver rather than fs.Fs.
type Fs struct {
	name  string
	root  string
	opt   Options
	caps  driver.Capabilities

	bot      *discordgo.Session
	channels []*discordgo.Channel
	srv      *rest.Client
	sessions driver.SessionStore
	nodes    driver.NodeStore
	sem      *ratelimit.DynamicSemaphore

	// indexRetryDelay is the writeIndexWithRetry base backoff; a field
	// rather than a constant so tests can shrink it.
	indexRetryDelay time.Duration
}

// NewDriver constructs the attachment Fs from its configuration
// envelope, mirroring the teacher's discord.NewFs.
func NewDriver(ctx context.Context, name, root string, raw map[string]string, collab driver.Collaborators) (driver.Driver, error) {
	opt, err := parseOptions(raw)
	if err != nil {
		return nil, err
	}
	if collab.Nodes == nil {
		return nil, driver.NewError(driver.CodeInvalidConfig, "attachment: a NodeStore collaborator is required")
	}
	token, err := driver.ResolveCredential(ctx, opt.AuthToken, collab.Decrypt)
	if err != nil {
		return nil, err
	}

	bot, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, driver.Wrap(driver.CodeInvalidConfig, err, "attachment: failed to build bot session")
	}

	f := &Fs{
		name:            name,
		root:            root,
		opt:             *opt,
		bot:             bot,
		srv:             newHTTPClient(),
		sessions:        collab.Sessions,
		nodes:           collab.Nodes,
		sem:             ratelimit.Acquire(opt.SemaphoreKey, opt.UploadConcurrency),
		indexRetryDelay: 100 * time.Millisecond,
	}
	return f, nil
}

func (f *Fs) Name() string { return f.name }
func (f *Fs) Root() string { return f.root }

func (f *Fs) String() string {
	if f.root == "" || f.root == "/" {
		return fmt.Sprintf("attachment channel %s root", f.opt.ChunksChannel)
	}
	return fmt.Sprintf("attachment channel %s path %s", f.opt.ChunksChannel, f.root)
}

func (f *Fs) Capabilities() driver.Capabilities { return f.caps }

// Initialize resolves the configured channel IDs and fixes this
// driver's advertised capability set (spec.md §9: capabilities are
// computed in initialize(), not guessed by the orchestrator).
func (f *Fs) Initialize(ctx context.Context) error {
	for _, id := range strings.Fields(f.opt.ChunksChannel) {
		ch, err := f.bot.Channel(id)
		if err != nil {
			return driver.Wrap(driver.CodeInvalidConfig, err, "attachment: failed to resolve chunk channel").WithDetails("channel_id", id)
		}
		f.channels = append(f.channels, ch)
	}
	if len(f.channels) == 0 {
		return driver.NewError(driver.CodeInvalidConfig, "attachment: no chunk channels resolved")
	}
	f.caps = driver.NewCapabilities(
		driver.Reader, driver.Writer, driver.Proxy, driver.Multipart,
	)
	return nil
}

// Shutdown releases the bot session (the teacher's discord.Shutdown
// does the same).
func (f *Fs) Shutdown(ctx context.Context) error {
	return f.bot.Close()
}

func (f *Fs) fullPath(p string) (string, error) {
	return driver.NormalizePath(driver.Join(strings.TrimRight(f.root, "/"), strings.TrimLeft(p, "/")), false)
}

func (f *Fs) owner() string { return f.opt.AdminID }
func (f *Fs) scope() string { return f.opt.Scope }

func (f *Fs) randomChannel() *discordgo.Channel {
	return f.channels[rand.Intn(len(f.channels))] //nolint:gosec
}

// resolveNode walks the node store from the root to find the node at
// the given full (root-joined) path, or reports it as absent.
func (f *Fs) resolveNode(ctx context.Context, fullPath string) (driver.Node, bool, error) {
	return f.nodes.GetByPath(ctx, f.owner(), f.scope(), fullPath)
}

func (f *Fs) Stat(ctx context.Context, p string) (driver.Stat, error) {
	full, err := f.fullPath(p)
	if err != nil {
		return driver.Stat{}, err
	}
	n, ok, err := f.resolveNode(ctx, full)
	if err != nil {
		return driver.Stat{}, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: node lookup failed")
	}
	if !ok {
		return driver.Stat{}, driver.NewError(driver.CodeNotFound, "attachment: no such path").WithDetails("path", p)
	}
	return nodeToStat(p, n), nil
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

func (f *Fs) ListDirectory(ctx context.Context, p string, opts driver.ListOptions) (driver.ListPage, error) {
	if t := f.opt.ListTimeout(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	full, err := f.fullPath(p)
	if err != nil {
		return driver.ListPage{}, err
	}
	var parentID string
	if full != "/" {
		n, ok, err := f.resolveNode(ctx, full)
		if err != nil {
			return driver.ListPage{}, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: node lookup failed")
		}
		if !ok {
			return driver.ListPage{}, driver.NewError(driver.CodeNotFound, "attachment: no such directory").WithDetails("path", p)
		}
		if n.NodeType != driver.NodeDir {
			return driver.ListPage{}, driver.NewError(driver.CodeInvalidPath, "attachment: not a directory").WithDetails("path", p)
		}
		parentID = n.ID
	}
	children, err := f.nodes.ListChildren(ctx, f.owner(), f.scope(), parentID)
	if err != nil {
		return driver.ListPage{}, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: listing children failed")
	}
	page := driver.ListPage{IsRoot: full == "/"}
	for _, n := range children {
		page.Items = append(page.Items, nodeToStat(driver.Join(p, n.Name), n))
	}
	return page, nil
}

func nodeToStat(path string, n driver.Node) driver.Stat {
	s := driver.Stat{
		Path:           path,
		Name:           n.Name,
		IsDirectory:    n.NodeType == driver.NodeDir,
		Mimetype:       n.Mime,
		StorageBackend: "attachment",
	}
	if !s.IsDirectory {
		s.Size = driver.WithSize(n.Size)
	}
	if n.ModTime != 0 {
		t := time.Unix(0, n.ModTime)
		s.Modified = &t
	}
	return s
}

// DownloadFile builds a stream descriptor honoring Range both for
// single-attachment nodes and chunked nodes, software-slicing the CDN
// response when it ignores Range and returns 200 (spec.md §4.5, §4.8),
// the same situation the teacher's dummyRead/linearReader exist to
// paper over, except here we can trust Content-Range when present and
// only fall back to slicing when the response came back 200.
func (f *Fs) DownloadFile(ctx context.Context, p string) (*driver.StreamDescriptor, error) {
	full, err := f.fullPath(p)
	if err != nil {
		return nil, err
	}
	n, ok, err := f.resolveNode(ctx, full)
	if err != nil {
		return nil, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: node lookup failed")
	}
	if !ok {
		return nil, driver.NewError(driver.CodeNotFound, "attachment: no such file").WithDetails("path", p)
	}
	if n.NodeType != driver.NodeFile {
		return nil, driver.NewError(driver.CodeInvalidPath, "attachment: not a file").WithDetails("path", p)
	}
	cr, err := n.DecodeContentRef()
	if err != nil {
		return nil, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: bad content_ref")
	}

	size := driver.WithSize(n.Size)
	desc := &driver.StreamDescriptor{
		Size:                size,
		ContentType:         n.Mime,
		SupportsRange:       true,
		RangeFallbackPolicy: driver.Honor206,
	}

	switch cr.Kind {
	case driver.ContentRefSingle:
		desc.OpenFull = func(ctx context.Context) (*http.Response, error) { return f.fetchURL(ctx, cr.URL, nil) }
		desc.OpenRange = func(ctx context.Context, r driver.ByteRange) (*http.Response, error) {
			return f.fetchURL(ctx, cr.URL, &rest.RangeHeader{Start: r.Start, End: r.End})
		}
		desc.OpenHead = func(ctx context.Context) (*http.Response, error) { return f.fetchURL(ctx, cr.URL, nil) }
	case driver.ContentRefChunks:
		desc.OpenFull = func(ctx context.Context) (*http.Response, error) {
			return f.openChunkedRange(ctx, cr.Parts, 0, -1)
		}
		desc.OpenRange = func(ctx context.Context, r driver.ByteRange) (*http.Response, error) {
			return f.openChunkedRange(ctx, cr.Parts, r.Start, r.End)
		}
		desc.OpenHead = func(ctx context.Context) (*http.Response, error) {
			return f.openChunkedRange(ctx, cr.Parts, 0, 0)
		}
	default:
		return nil, driver.NewError(driver.CodeInvalidResponse, "attachment: unknown content_ref kind").WithDetails("kind", string(cr.Kind))
	}
	return desc, nil
}

func (f *Fs) GenerateDirectLink(ctx context.Context, p string, forceDownload bool) (driver.Link, error) {
	// Discord CDN URLs are directly browser-usable but expire; the
	// proxy link is the only stable option this driver offers.
	return driver.Link{}, driver.NewError(driver.CodeDirectLinkUnavail, "attachment: direct links are not available, use a proxy link")
}

func (f *Fs) GenerateProxyLink(ctx context.Context, p string) (driver.Link, error) {
	full, err := f.fullPath(p)
	if err != nil {
		return driver.Link{}, err
	}
	if _, ok, err := f.resolveNode(ctx, full); err != nil {
		return driver.Link{}, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: node lookup failed")
	} else if !ok {
		return driver.Link{}, driver.NewError(driver.CodeNotFound, "attachment: no such file").WithDetails("path", p)
	}
	return driver.Link{URL: "proxy://" + f.name + full, Type: driver.LinkProxy}, nil
}

// UploadFile posts the source as one or more chunk messages, then
// writes the VFS index entry with its own retry budget, separate from
// (and never triggering) a re-upload (spec.md §4.5).
func (f *Fs) UploadFile(ctx context.Context, p string, src io.Reader, info driver.UploadInfo) (driver.UploadResult, error) {
	if err := driver.RequireCapability(f.caps, driver.Writer); err != nil {
		return driver.UploadResult{}, err
	}
	full, err := f.fullPath(p)
	if err != nil {
		return driver.UploadResult{}, err
	}

	cr, size, sniffedType, err := f.uploadChunks(ctx, src, info.ContentLength)
	if err != nil {
		return driver.UploadResult{}, err
	}
	contentType := info.ContentType
	if contentType == "" {
		contentType = sniffedType
	}
	cr.ContentType = contentType

	raw, err := driver.EncodeContentRef(cr)
	if err != nil {
		return driver.UploadResult{}, driver.Wrap(driver.CodeInternal, err, "attachment: encoding content_ref")
	}

	parentDir, err := f.nodes.EnsureDir(ctx, f.owner(), f.scope(), driver.Parent(full))
	if err != nil {
		return driver.UploadResult{}, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: ensuring parent directory")
	}

	node := driver.Node{
		ParentID:   parentDir.ID,
		Owner:      f.owner(),
		Scope:      f.scope(),
		Name:       driver.Name(full),
		NodeType:   driver.NodeFile,
		Mime:       contentType,
		Size:       size,
		ModTime:    time.Now().UnixNano(),
		ContentRef: raw,
	}
	if err := f.writeIndexWithRetry(ctx, full, node); err != nil {
		return driver.UploadResult{}, err
	}
	return driver.UploadResult{StoragePath: p}, nil
}

func (f *Fs) writeIndexWithRetry(ctx context.Context, full string, node driver.Node) error {
	existing, ok, err := f.resolveNode(ctx, full)
	delay := f.indexRetryDelay
	if delay == 0 {
		delay = 100 * time.Millisecond
	}
	var lastErr error
	for attempt := 0; attempt < indexWriteRetries; attempt++ {
		if ok {
			node.ID = existing.ID
			lastErr = f.nodes.Update(ctx, node)
		} else {
			_, lastErr = f.nodes.Create(ctx, node)
		}
		if lastErr == nil {
			return nil
		}
		logging.Errorf(f, "index write attempt %d failed: %v", attempt+1, lastErr)
		time.Sleep(delay)
		delay *= 2
	}
	// index write exhausted its retries: the upstream upload already
	// succeeded and durably persists data, so this is never retried.
	return driver.Wrap(driver.CodeIndexWriteFailed, lastErr,
		"attachment: file was uploaded but the index could not be updated; do not re-upload").WithDetails("path", full)
}

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

func (f *Fs) CreateDirectory(ctx context.Context, p string) (driver.CreateDirResult, error) {
	if err := driver.RequireCapability(f.caps, driver.Writer); err != nil {
		return driver.CreateDirResult{}, err
	}
	full, err := f.fullPath(p)
	if err != nil {
		return driver.CreateDirResult{}, err
	}
	_, existed, err := f.resolveNode(ctx, full)
	if err != nil {
		return driver.CreateDirResult{}, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: node lookup failed")
	}
	if _, err := f.nodes.EnsureDir(ctx, f.owner(), f.scope(), full); err != nil {
		return driver.CreateDirResult{}, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: creating directory")
	}
	return driver.CreateDirResult{Path: p, AlreadyExisted: existed}, nil
}

// RenameItem and CopyItem operate on the index only — message content
// is never touched, mirroring the teacher's copyOrMove which only
// amends metadata (spec.md §4.5's "mutations operate on the index
// only").
func (f *Fs) RenameItem(ctx context.Context, src, dst string) (driver.OpResult, error) {
	return f.moveOrCopy(ctx, src, dst, false)
}

func (f *Fs) CopyItem(ctx context.Context, src, dst string, skipExisting bool) (driver.OpResult, error) {
	return f.moveOrCopy(ctx, src, dst, true)
}

func (f *Fs) moveOrCopy(ctx context.Context, src, dst string, copy bool) (driver.OpResult, error) {
	if err := driver.RequireCapability(f.caps, driver.Writer); err != nil {
		return driver.OpResult{}, err
	}
	fullSrc, err := f.fullPath(src)
	if err != nil {
		return driver.OpResult{}, err
	}
	fullDst, err := f.fullPath(dst)
	if err != nil {
		return driver.OpResult{}, err
	}
	n, ok, err := f.resolveNode(ctx, fullSrc)
	if err != nil {
		return driver.OpResult{}, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: node lookup failed")
	}
	if !ok {
		return driver.OpResult{}, driver.NewError(driver.CodeNotFound, "attachment: source not found").WithDetails("path", src)
	}
	parent, err := f.nodes.EnsureDir(ctx, f.owner(), f.scope(), driver.Parent(fullDst))
	if err != nil {
		return driver.OpResult{}, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: ensuring destination parent")
	}
	out := n
	out.ParentID = parent.ID
	out.Name = driver.Name(fullDst)
	if copy {
		out.ID = ""
		if _, err := f.nodes.Create(ctx, out); err != nil {
			return driver.OpResult{}, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: copy index write failed")
		}
	} else {
		if err := f.nodes.Update(ctx, out); err != nil {
			return driver.OpResult{}, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: rename index write failed")
		}
	}
	return driver.OpResult{Status: driver.OpSuccess}, nil
}

func (f *Fs) BatchRemoveItems(ctx context.Context, paths []string, displayPaths []string) (driver.BatchRemoveResult, error) {
	if err := driver.RequireCapability(f.caps, driver.Writer); err != nil {
		return driver.BatchRemoveResult{}, err
	}
	seen := map[string]bool{}
	var result driver.BatchRemoveResult
	for i, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		display := p
		if i < len(displayPaths) {
			display = displayPaths[i]
		}
		full, err := f.fullPath(p)
		if err != nil {
			result.Failed = append(result.Failed, driver.PathError{Path: display, Error: mustErr(err)})
			continue
		}
		n, ok, err := f.resolveNode(ctx, full)
		if err != nil {
			result.Failed = append(result.Failed, driver.PathError{Path: display, Error: mustErr(err)})
			continue
		}
		if !ok {
			// absence is authoritative: deleting something already gone succeeds.
			result.Success = append(result.Success, display)
			continue
		}
		// Mutations operate on the index only: chunk messages are never
		// deleted from the chat service, so a removed path's messages
		// stay in place as harmless orphans.
		if err := f.nodes.Delete(ctx, n.ID); err != nil {
			result.Failed = append(result.Failed, driver.PathError{Path: display, Error: mustErr(driver.Wrap(driver.CodeInvalidResponse, err, "attachment: index delete failed"))})
			continue
		}
		result.Success = append(result.Success, display)
	}
	return result, nil
}

func mustErr(err error) *driver.Error {
	if de, ok := driver.AsError(err); ok {
		return de
	}
	return driver.Wrap(driver.CodeInternal, err, "attachment: unexpected error")
}

