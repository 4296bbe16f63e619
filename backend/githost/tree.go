package githost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/hubdrive/drivercore/driver"
	"github.com/hubdrive/drivercore/internal/rest"
)

// submoduleMimetype marks a tree entry of type "commit" (a Git
// submodule) the way spec.md §4.4 asks: surfaced read-only with a
// distinct mimetype, never downloadable or mutable.
const submoduleMimetype = "application/x-git-submodule"

// ListDirectory lists a directory via the Contents API, switching to a
// single non-recursive Git-DB trees call once the directory holds at
// least largeListThreshold entries (spec.md §4.4). ".gitkeep" sentinels
// are never surfaced.
func (f *Fs) ListDirectory(ctx context.Context, p string, opts driver.ListOptions) (driver.ListPage, error) {
	norm, err := driver.NormalizePath(p, true)
	if err != nil {
		return driver.ListPage{}, driver.Wrap(driver.CodeInvalidPath, err, "githost: invalid path")
	}
	rel := f.repoPath(norm)

	var entries []contentsEntry
	urlPath := fmt.Sprintf("/api/repos/%s/contents", f.opt.Repo)
	if rel != "" {
		urlPath += "/" + rest.URLPathEscape(rel)
	}
	urlPath += "?ref=" + rest.URLPathEscape(f.opt.Revision)

	_, err = f.doGet(ctx, urlPath, &entries)
	if err != nil {
		return driver.ListPage{}, err
	}

	if len(entries) >= largeListThreshold {
		return f.listViaTree(ctx, norm, rel)
	}

	items := make([]driver.Stat, 0, len(entries))
	for _, e := range entries {
		if e.Name == gitkeepName {
			continue
		}
		items = append(items, f.statFromContentsEntry(norm, e))
	}
	return driver.ListPage{Items: items, IsRoot: norm == "/"}, nil
}

// listViaTree handles the "≥1000 entries" fallback (spec.md §4.4): a
// single non-recursive Git-DB trees call using the directory's tree
// sha, avoiding the Contents API's per-entry overhead at scale.
func (f *Fs) listViaTree(ctx context.Context, norm, rel string) (driver.ListPage, error) {
	_, headTree, err := f.resolveHead(ctx)
	if err != nil {
		return driver.ListPage{}, err
	}
	dirSHA := headTree
	if rel != "" {
		dirSHA, err = f.treeSHAForPath(ctx, headTree, rel)
		if err != nil {
			return driver.ListPage{}, err
		}
	}

	var tr treeResponse
	_, err = f.doGet(ctx, fmt.Sprintf("/api/repos/%s/git/trees/%s", f.opt.Repo, dirSHA), &tr)
	if err != nil {
		return driver.ListPage{}, err
	}
	if tr.Truncated {
		return driver.ListPage{}, driver.NewError(driver.CodeTreeTruncated,
			"githost: directory tree listing truncated").WithDetails("path", norm)
	}

	items := make([]driver.Stat, 0, len(tr.Tree))
	for _, e := range tr.Tree {
		name := path.Base(e.Path)
		if name == gitkeepName {
			continue
		}
		child := driver.Join(norm, name)
		st := driver.Stat{
			Path:           child,
			Name:           name,
			IsDirectory:    e.Type == "tree",
			StorageBackend: "githost",
			ETag:           e.SHA,
		}
		if e.Type == "blob" {
			st.Size = driver.WithSize(e.Size)
		}
		if e.Type == "commit" {
			st.Mimetype = submoduleMimetype
		}
		items = append(items, st)
	}
	return driver.ListPage{Items: items, IsRoot: norm == "/"}, nil
}

// treeSHAForPath walks from the repo's head tree down to the tree sha
// of a nested directory, one non-recursive trees call per path
// segment, caching results (spec.md §3's tree_sha cache).
func (f *Fs) treeSHAForPath(ctx context.Context, headTreeSHA, rel string) (string, error) {
	cacheKey := fmt.Sprintf("%s@%s:%s", f.opt.Repo, f.opt.Revision, rel)
	if sha, ok := f.treeShaCache.Get(cacheKey); ok {
		return sha, nil
	}
	segs := strings.Split(strings.Trim(rel, "/"), "/")
	sha := headTreeSHA
	for i, seg := range segs {
		var tr treeResponse
		_, err := f.doGet(ctx, fmt.Sprintf("/api/repos/%s/git/trees/%s", f.opt.Repo, sha), &tr)
		if err != nil {
			return "", err
		}
		found := false
		for _, e := range tr.Tree {
			if e.Path == seg && e.Type == "tree" {
				sha = e.SHA
				found = true
				break
			}
			if e.Path == seg && e.Type == "commit" {
				return "", driver.NewError(driver.CodeSubmoduleUnsup,
					"githost: path traverses a submodule").WithDetails("path", strings.Join(segs[:i+1], "/"))
			}
		}
		if !found {
			return "", driver.NewError(driver.CodeNotFound, "githost: path not found")
		}
	}
	f.treeShaCache.Add(cacheKey, sha)
	return sha, nil
}

func (f *Fs) statFromContentsEntry(parent string, e contentsEntry) driver.Stat {
	child := driver.Join(parent, e.Name)
	st := driver.Stat{
		Path:           child,
		Name:           e.Name,
		IsDirectory:    e.Type == "dir",
		StorageBackend: "githost",
		ETag:           e.SHA,
	}
	switch e.Type {
	case "file", "symlink":
		st.Size = driver.WithSize(e.Size)
	case "submodule":
		st.Mimetype = submoduleMimetype
	}
	return st
}

// Stat resolves a single path via the Contents API (a single-entry
// response when the path names a file, or a directory listing when it
// names a directory — only the former is meaningful for Stat, so a
// directory hit reports the path as such with no size).
func (f *Fs) Stat(ctx context.Context, p string) (driver.Stat, error) {
	norm, err := driver.NormalizePath(p, false)
	if err != nil {
		return driver.Stat{}, driver.Wrap(driver.CodeInvalidPath, err, "githost: invalid path")
	}
	if norm == "/" {
		return driver.Stat{Path: "/", IsDirectory: true, StorageBackend: "githost"}, nil
	}
	rel := f.repoPath(norm)
	urlPath := fmt.Sprintf("/api/repos/%s/contents/%s?ref=%s", f.opt.Repo, rest.URLPathEscape(rel), rest.URLPathEscape(f.opt.Revision))

	var raw json.RawMessage
	_, err = f.doGet(ctx, urlPath, &raw)
	if err != nil {
		return driver.Stat{}, err
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		return driver.Stat{Path: norm, Name: driver.Name(norm), IsDirectory: true, StorageBackend: "githost"}, nil
	}
	var single contentsEntry
	if err := json.Unmarshal(raw, &single); err != nil {
		return driver.Stat{}, driver.Wrap(driver.CodeInvalidResponse, err, "githost: decoding contents entry")
	}
	st := f.statFromContentsEntry(driver.Parent(norm), single)
	if !st.IsDirectory && single.Type != "submodule" {
		if mod, ok := f.lastModified(ctx, rel); ok {
			st.Modified = &mod
		}
	}
	return st, nil
}

// lastModified is the best-effort per-file mtime lookup (spec.md
// §4.4: "commits?path=…&sha=ref&per_page=1, cached FIFO ≤1000");
// listings never call this per-entry to avoid N+1 rate-limit pressure.
func (f *Fs) lastModified(ctx context.Context, rel string) (time.Time, bool) {
	cacheKey := fmt.Sprintf("%s@%s:%s", f.opt.Repo, f.opt.Revision, rel)
	if t, ok := f.modifiedCache.Get(cacheKey); ok {
		return t, true
	}
	var commits []commitsListEntry
	urlPath := fmt.Sprintf("/api/repos/%s/commits?path=%s&sha=%s&per_page=1",
		f.opt.Repo, rest.URLPathEscape(rel), rest.URLPathEscape(f.opt.Revision))
	_, err := f.doGet(ctx, urlPath, &commits)
	if err != nil || len(commits) == 0 {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, commits[0].Commit.Committer.Date)
	if err != nil {
		return time.Time{}, false
	}
	f.modifiedCache.Add(cacheKey, t)
	return t, true
}
