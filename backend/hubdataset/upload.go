package hubdataset

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hubdrive/drivercore/driver"
	"github.com/hubdrive/drivercore/internal/rest"
)

// UploadFile picks one of the three routes spec.md §4.3.4 names:
// small/basic LFS, front-end multipart LFS (only reachable through the
// MultipartUploader interface, not this method), or a plain commit for
// non-LFS-sized content. This method always drives the single-shot
// basic-LFS-or-plain path; callers wanting the multipart session use
// InitializeFrontendMultipartUpload instead.
func (f *Fs) UploadFile(ctx context.Context, p string, src io.Reader, info driver.UploadInfo) (driver.UploadResult, error) {
	if err := driver.RequireCapability(f.caps, driver.Writer); err != nil {
		return driver.UploadResult{}, err
	}
	norm, err := driver.NormalizePath(p, false)
	if err != nil {
		return driver.UploadResult{}, driver.Wrap(driver.CodeInvalidPath, err, "hubdataset: invalid path")
	}
	if err := f.requireWritableRef(ctx); err != nil {
		return driver.UploadResult{}, err
	}
	if err := f.checkXetRuntime(); err != nil {
		return driver.UploadResult{}, err
	}

	body, err := io.ReadAll(src)
	if err != nil {
		return driver.UploadResult{}, driver.Wrap(driver.CodeInvalidResponse, err, "hubdataset: reading upload source")
	}
	sum := sha256.Sum256(body)
	oid := fmt.Sprintf("%x", sum)
	size := int64(len(body))
	rel := f.repoPath(norm)

	// Small objects are committed inline as base64 content (spec.md
	// §4.3.4 implies a plain route exists alongside the LFS routes for
	// objects that don't warrant LFS); anything else goes through the
	// LFS "basic" transfer.
	const inlineThreshold = 1 << 20 // 1MiB
	if size <= inlineThreshold {
		if err := f.commitPlainFile(ctx, rel, body); err != nil {
			return driver.UploadResult{}, err
		}
		f.invalidateAfterWrite(norm)
		return driver.UploadResult{StoragePath: norm}, nil
	}

	action, alreadyUploaded, err := f.lfsBatchUpload(ctx, oid, size)
	if err != nil {
		return driver.UploadResult{}, err
	}
	if !alreadyUploaded {
		if err := f.putToAction(ctx, action, body); err != nil {
			return driver.UploadResult{}, err
		}
	}
	if err := f.commitLFSFile(ctx, rel, oid, size); err != nil {
		return driver.UploadResult{}, err
	}
	f.invalidateAfterWrite(norm)
	return driver.UploadResult{StoragePath: norm}, nil
}

func (f *Fs) invalidateAfterWrite(p string) {
	f.treeCache.InvalidatePrefix("tree:")
	f.pathsCache.InvalidatePrefix("pathsinfo:")
}

// lfsBatchUpload requests a single-object "basic" LFS upload action
// (spec.md §4.3.4). A nil action with alreadyUploaded==true means the
// server deduped the object server-side; the caller must skip the PUT.
func (f *Fs) lfsBatchUpload(ctx context.Context, oid string, size int64) (*lfsAction, bool, error) {
	var resp lfsBatchResponse
	_, err := f.client.CallJSON(ctx, &rest.Opts{
		Method: "POST",
		Path:   fmt.Sprintf("/api/datasets/%s.git/info/lfs/objects/batch", f.opt.Repo),
	}, lfsBatchRequest{
		Operation: "upload",
		Transfers: []string{"basic"},
		Objects:   []lfsBatchItem{{OID: oid, Size: size}},
	}, &resp)
	if err != nil {
		return nil, false, err
	}
	if len(resp.Objects) == 0 {
		return nil, false, driver.NewError(driver.CodeInvalidResponse, "hubdataset: empty LFS batch response")
	}
	obj := resp.Objects[0]
	if obj.AlreadyUploaded || obj.Actions.Upload == nil {
		return nil, true, nil
	}
	return obj.Actions.Upload, false, nil
}

func (f *Fs) putToAction(ctx context.Context, action *lfsAction, body []byte) error {
	opts := &rest.Opts{
		Method:  "PUT",
		RootURL: action.Href,
		Body:    strings.NewReader(string(body)),
	}
	for k, v := range action.Header {
		if opts.ExtraHeaders == nil {
			opts.ExtraHeaders = map[string]string{}
		}
		opts.ExtraHeaders[k] = v
	}
	opts.NoResponse = true
	_, err := f.client.Call(ctx, opts)
	return err
}

func (f *Fs) commitLFSFile(ctx context.Context, path, oid string, size int64) error {
	return f.commitLines(ctx, fmt.Sprintf("Upload %s", path), []commitLine{
		rawCommitLine("lfsFile", commitLFSFile{Path: path, Algo: "sha256", OID: oid, Size: size}),
	})
}

func (f *Fs) commitPlainFile(ctx context.Context, path string, body []byte) error {
	return f.commitLines(ctx, fmt.Sprintf("Upload %s", path), []commitLine{
		rawCommitLine("file", commitPlainFile{Path: path, Content: base64.StdEncoding.EncodeToString(body)}),
	})
}

// commitLines POSTs an NDJSON commit stream: a header line followed by
// the caller's entries (spec.md §4.3.4, §4.3.5, §6).
func (f *Fs) commitLines(ctx context.Context, summary string, entries []commitLine) error {
	lines := make([]json.RawMessage, 0, len(entries)+1)
	lines = append(lines, rawJSON(commitLine{Key: "header", Value: rawJSON(commitHeader{Summary: summary})}))
	for _, e := range entries {
		lines = append(lines, rawJSON(e))
	}
	var resp commitResponse
	_, err := f.client.CallNDJSON(ctx, &rest.Opts{
		Method: "POST",
		Path:   fmt.Sprintf("/api/datasets/%s/commit/%s", f.opt.Repo, f.opt.Revision),
	}, lines, &resp)
	return err
}

func rawCommitLine(key string, value any) commitLine {
	return commitLine{Key: key, Value: rawJSON(value)}
}

func rawJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Only reachable if one of this package's own wire types fails
		// to marshal, which would be a programming error, not a runtime
		// condition callers can act on.
		panic(fmt.Sprintf("hubdataset: marshal commit line: %v", err))
	}
	return b
}

// --- rename/copy: server-side LFS reuse where possible (spec.md §4.3.4's
// "server-side LFS copy" route), falling back to read-and-rewrite for
// non-LFS files. ---

func (f *Fs) RenameItem(ctx context.Context, src, dst string) (driver.OpResult, error) {
	return f.renameOrCopy(ctx, src, dst, true, false)
}

func (f *Fs) CopyItem(ctx context.Context, src, dst string, skipExisting bool) (driver.OpResult, error) {
	return f.renameOrCopy(ctx, src, dst, false, skipExisting)
}

func (f *Fs) renameOrCopy(ctx context.Context, src, dst string, isMove, skipExisting bool) (driver.OpResult, error) {
	if err := driver.RequireCapability(f.caps, driver.Writer, driver.Atomic); err != nil {
		return driver.OpResult{}, err
	}
	normSrc, err := driver.NormalizePath(src, false)
	if err != nil {
		return driver.OpResult{}, driver.Wrap(driver.CodeInvalidPath, err, "hubdataset: invalid source path")
	}
	normDst, err := driver.NormalizePath(dst, false)
	if err != nil {
		return driver.OpResult{}, driver.Wrap(driver.CodeInvalidPath, err, "hubdataset: invalid destination path")
	}
	if err := f.requireWritableRef(ctx); err != nil {
		return driver.OpResult{}, err
	}

	if skipExisting {
		if exists, _ := f.Exists(ctx, normDst); exists {
			return driver.OpResult{Status: driver.OpSkipped}, nil
		}
	}

	infos, err := f.pathsInfo(ctx, []string{f.repoPath(normSrc)}, true, "copy")
	if err != nil {
		return driver.OpResult{}, err
	}
	info, ok := infos[f.repoPath(normSrc)]
	if !ok {
		return driver.OpResult{}, driver.NewError(driver.CodeNotFound, "hubdataset: source path not found")
	}

	var entries []commitLine
	if info.LFS != nil {
		entries = append(entries, rawCommitLine("lfsFile", commitLFSFile{
			Path: f.repoPath(normDst), Algo: "sha256", OID: info.LFS.OID, Size: info.LFS.Size,
		}))
	} else {
		desc, err := f.DownloadFile(ctx, normSrc)
		if err != nil {
			return driver.OpResult{}, err
		}
		resp, err := desc.OpenFull(ctx)
		if err != nil {
			return driver.OpResult{}, err
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return driver.OpResult{}, driver.Wrap(driver.CodeInvalidResponse, err, "hubdataset: reading source for copy")
		}
		entries = append(entries, rawCommitLine("file", commitPlainFile{
			Path: f.repoPath(normDst), Content: base64.StdEncoding.EncodeToString(body),
		}))
	}
	if isMove {
		entries = append(entries, rawCommitLine("deletedFile", commitDeletedFile{Path: f.repoPath(normSrc)}))
	}

	summary := fmt.Sprintf("Copy %s to %s", normSrc, normDst)
	if isMove {
		summary = fmt.Sprintf("Rename %s to %s", normSrc, normDst)
	}
	if err := f.commitLines(ctx, summary, entries); err != nil {
		return driver.OpResult{Status: driver.OpFailed}, err
	}
	f.invalidateAfterWrite(normSrc)
	f.invalidateAfterWrite(normDst)
	return driver.OpResult{Status: driver.OpSuccess}, nil
}

// --- MultipartUploader (spec.md §4.3.4's front-end multipart route) ---

type multipartMeta struct {
	OID         string            `json:"oid"`
	Path        string            `json:"path"`
	Size        int64             `json:"size"`
	CompletionURL string          `json:"completion_url"`
	PartURLs    map[string]string `json:"part_urls"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

func (f *Fs) InitializeFrontendMultipartUpload(ctx context.Context, path string, size int64, contentType string) (driver.Session, error) {
	if err := driver.RequireCapability(f.caps, driver.Multipart); err != nil {
		return driver.Session{}, err
	}
	norm, err := driver.NormalizePath(path, false)
	if err != nil {
		return driver.Session{}, driver.Wrap(driver.CodeInvalidPath, err, "hubdataset: invalid path")
	}
	if err := f.requireWritableRef(ctx); err != nil {
		return driver.Session{}, err
	}
	if err := f.checkXetRuntime(); err != nil {
		return driver.Session{}, err
	}

	// The real OID isn't known until the content is hashed; a
	// placeholder is used for the presign-only batch call, same as the
	// teacher's large-file upload flow needs a file id before any bytes
	// are known.
	oid := fmt.Sprintf("pending-%d", time.Now().UnixNano())

	var resp lfsBatchResponse
	_, err = f.client.CallJSON(ctx, &rest.Opts{
		Method: "POST",
		Path:   fmt.Sprintf("/api/datasets/%s.git/info/lfs/objects/batch", f.opt.Repo),
	}, lfsBatchRequest{
		Operation: "upload",
		Transfers: []string{"basic", "multipart"},
		Objects:   []lfsBatchItem{{OID: oid, Size: size}},
	}, &resp)
	if err != nil {
		return driver.Session{}, err
	}
	if len(resp.Objects) == 0 || resp.Objects[0].Actions.Upload == nil {
		return driver.Session{}, driver.NewError(driver.CodePresignRequiresMP, "hubdataset: backend did not offer a multipart upload action")
	}
	action := resp.Objects[0].Actions.Upload
	if action.ChunkSize <= 0 || len(action.Parts) == 0 {
		return driver.Session{}, driver.NewError(driver.CodePresignRequiresMP, "hubdataset: backend did not return multipart part URLs")
	}
	wantParts := int(math.Ceil(float64(size) / float64(action.ChunkSize)))
	if wantParts != len(action.Parts) {
		return driver.Session{}, driver.NewError(driver.CodePartsMismatch,
			fmt.Sprintf("hubdataset: expected %d parts, backend returned %d", wantParts, len(action.Parts)))
	}

	var expiresAt time.Time
	for _, u := range action.Parts {
		if secs := parseExpires(u); secs > 0 {
			expiresAt = time.Now().Add(time.Duration(secs) * time.Second)
			break
		}
	}

	meta := multipartMeta{
		OID: oid, Path: f.repoPath(norm), Size: size,
		CompletionURL: action.Href, PartURLs: action.Parts, ExpiresAt: expiresAt,
	}
	encoded, err := driver.EncodeMeta(meta)
	if err != nil {
		return driver.Session{}, driver.Wrap(driver.CodeInvalidResponse, err, "hubdataset: encoding session metadata")
	}
	rec := driver.Session{
		Strategy:     driver.StrategyPerPartURL,
		PartSize:     action.ChunkSize,
		TotalParts:   wantParts,
		Mode:         driver.ModeMultipart,
		Status:       driver.StatusInitiated,
		ProviderMeta: encoded,
	}
	if !expiresAt.IsZero() {
		rec.ExpiresAt = &expiresAt
	}
	id, err := f.sessions.Create(ctx, rec)
	if err != nil {
		return driver.Session{}, driver.Wrap(driver.CodeInvalidResponse, err, "hubdataset: creating upload session")
	}
	rec.ID = id
	return rec, nil
}

// SignMultipartParts re-signs presigned URLs when the session's cached
// ones have expired or are missing (spec.md §4.3.4's "on sign-refresh").
func (f *Fs) SignMultipartParts(ctx context.Context, sessionID string, partNumbers []int) (driver.Session, error) {
	rec, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		return driver.Session{}, driver.Wrap(driver.CodeNotFound, err, "hubdataset: unknown upload session")
	}
	var meta multipartMeta
	if err := rec.DecodeMeta(&meta); err != nil {
		return driver.Session{}, driver.Wrap(driver.CodeInvalidResponse, err, "hubdataset: decoding session metadata")
	}

	needsRefresh := meta.ExpiresAt.IsZero() || time.Now().After(meta.ExpiresAt)
	for _, n := range partNumbers {
		if _, ok := meta.PartURLs[partKey(n)]; !ok {
			needsRefresh = true
		}
	}
	if !needsRefresh {
		return rec, nil
	}

	var resp lfsBatchResponse
	_, err = f.client.CallJSON(ctx, &rest.Opts{
		Method: "POST",
		Path:   fmt.Sprintf("/api/datasets/%s.git/info/lfs/objects/batch", f.opt.Repo),
	}, lfsBatchRequest{
		Operation: "upload",
		Transfers: []string{"basic", "multipart"},
		Objects:   []lfsBatchItem{{OID: meta.OID, Size: meta.Size}},
	}, &resp)
	if err != nil {
		return driver.Session{}, err
	}
	if len(resp.Objects) == 0 || resp.Objects[0].Actions.Upload == nil {
		return driver.Session{}, driver.NewError(driver.CodePresignRequiresMP, "hubdataset: sign-refresh got no multipart action")
	}
	action := resp.Objects[0].Actions.Upload
	meta.PartURLs = action.Parts
	meta.CompletionURL = action.Href
	if action.ExpiresIn > 0 {
		meta.ExpiresAt = time.Now().Add(time.Duration(action.ExpiresIn) * time.Second)
	}
	encoded, err := driver.EncodeMeta(meta)
	if err != nil {
		return driver.Session{}, driver.Wrap(driver.CodeInvalidResponse, err, "hubdataset: encoding refreshed session metadata")
	}

	err = f.sessions.Update(ctx, sessionID, func(s driver.Session) driver.Session {
		s.ProviderMeta = encoded
		if !meta.ExpiresAt.IsZero() {
			s.ExpiresAt = &meta.ExpiresAt
		}
		return s
	})
	if err != nil {
		return driver.Session{}, driver.Wrap(driver.CodeInvalidResponse, err, "hubdataset: persisting refreshed session")
	}
	return f.sessions.Get(ctx, sessionID)
}

func (f *Fs) ListMultipartParts(ctx context.Context, sessionID string) ([]driver.PartInfo, error) {
	rec, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, driver.Wrap(driver.CodeNotFound, err, "hubdataset: unknown upload session")
	}
	var meta multipartMeta
	if err := rec.DecodeMeta(&meta); err != nil {
		return nil, driver.Wrap(driver.CodeInvalidResponse, err, "hubdataset: decoding session metadata")
	}
	out := make([]driver.PartInfo, 0, len(meta.PartURLs))
	for key, u := range meta.PartURLs {
		n, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		out = append(out, driver.PartInfo{PartNumber: n, URL: u})
	}
	return out, nil
}

func (f *Fs) ListMultipartUploads(ctx context.Context, filter map[string]string) ([]driver.Session, error) {
	return f.sessions.ListActive(ctx, filter)
}

// CompleteFrontendMultipartUpload posts the part ETags to the
// provider's completion URL, then commits the assembled LFS file
// (spec.md §4.3.4).
func (f *Fs) CompleteFrontendMultipartUpload(ctx context.Context, sessionID string, parts []driver.PartCompletion) (driver.UploadResult, error) {
	rec, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		return driver.UploadResult{}, driver.Wrap(driver.CodeNotFound, err, "hubdataset: unknown upload session")
	}
	var meta multipartMeta
	if err := rec.DecodeMeta(&meta); err != nil {
		return driver.UploadResult{}, driver.Wrap(driver.CodeInvalidResponse, err, "hubdataset: decoding session metadata")
	}
	if len(parts) != rec.TotalParts {
		return driver.UploadResult{}, driver.NewError(driver.CodePartsMismatch,
			fmt.Sprintf("hubdataset: completing with %d parts, session expects %d", len(parts), rec.TotalParts))
	}

	type completionPart struct {
		PartNumber int    `json:"partNumber"`
		ETag       string `json:"etag"`
	}
	type completionBody struct {
		OID   string           `json:"oid"`
		Parts []completionPart `json:"parts"`
	}
	body := completionBody{OID: meta.OID}
	for _, p := range parts {
		body.Parts = append(body.Parts, completionPart{PartNumber: p.PartNumber, ETag: p.ETag})
	}
	_, err = f.client.CallJSON(ctx, &rest.Opts{Method: "POST", RootURL: meta.CompletionURL, NoResponse: true}, body, nil)
	if err != nil {
		return driver.UploadResult{}, err
	}

	if err := f.commitLFSFile(ctx, meta.Path, meta.OID, meta.Size); err != nil {
		return driver.UploadResult{}, err
	}
	if err := f.sessions.Update(ctx, sessionID, func(s driver.Session) driver.Session {
		s.Status = driver.StatusCompleted
		return s
	}); err != nil {
		return driver.UploadResult{}, driver.Wrap(driver.CodeInvalidResponse, err, "hubdataset: marking session complete")
	}
	f.invalidateAfterWrite("/" + meta.Path)
	return driver.UploadResult{StoragePath: "/" + meta.Path}, nil
}

func (f *Fs) AbortFrontendMultipartUpload(ctx context.Context, sessionID string) error {
	return f.sessions.Update(ctx, sessionID, func(s driver.Session) driver.Session {
		s.Status = driver.StatusAborted
		return s
	})
}

// ProxyFrontendMultipartChunk relays one client-uploaded chunk to its
// presigned part URL, returning the upstream's ETag (spec.md §4.1's
// multipart session shape).
func (f *Fs) ProxyFrontendMultipartChunk(ctx context.Context, sessionID string, partNumber int, body io.Reader, size int64) (driver.PartInfo, error) {
	rec, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		return driver.PartInfo{}, driver.Wrap(driver.CodeNotFound, err, "hubdataset: unknown upload session")
	}
	var meta multipartMeta
	if err := rec.DecodeMeta(&meta); err != nil {
		return driver.PartInfo{}, driver.Wrap(driver.CodeInvalidResponse, err, "hubdataset: decoding session metadata")
	}
	u, ok := meta.PartURLs[partKey(partNumber)]
	if !ok {
		return driver.PartInfo{}, driver.NewError(driver.CodeNotFound, "hubdataset: unknown part number")
	}
	cl := size
	resp, err := f.client.Call(ctx, &rest.Opts{
		Method:        "PUT",
		RootURL:       u,
		Body:          body,
		ContentLength: &cl,
	})
	if err != nil {
		return driver.PartInfo{}, err
	}
	resp.Body.Close()
	return driver.PartInfo{PartNumber: partNumber, ETag: strings.Trim(resp.Header.Get("ETag"), `"`), Size: size, URL: u}, nil
}

func partKey(n int) string {
	return fmt.Sprintf("%05d", n)
}
