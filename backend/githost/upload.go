package githost

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/hubdrive/drivercore/driver"
	"github.com/hubdrive/drivercore/internal/rest"
)

// pendingChange is one entry of a tree-composition pass (spec.md
// §4.4's "for each {path, sha|bytes|delete}"): either a blob already
// created (sha set), new content to blob first, or a deletion.
type pendingChange struct {
	path    string
	sha     string // reuse an existing blob (rename/copy, or pre-hashed upload)
	src     io.Reader
	size    int64
	hasBlob bool // true once sha is a real blob sha, false if this is a delete
	delete  bool
}

// UploadFile creates (or overwrites) a single blob and commits it
// (spec.md §4.4, §4.4.1). Empty repositories are bootstrapped via the
// Contents API on first write (spec.md §4.4.2).
func (f *Fs) UploadFile(ctx context.Context, p string, src io.Reader, info driver.UploadInfo) (driver.UploadResult, error) {
	if err := driver.RequireCapability(f.caps, driver.Writer); err != nil {
		return driver.UploadResult{}, err
	}
	norm, err := driver.NormalizePath(p, false)
	if err != nil {
		return driver.UploadResult{}, driver.Wrap(driver.CodeInvalidPath, err, "githost: invalid path")
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := f.throttleWrite(ctx); err != nil {
		return driver.UploadResult{}, err
	}

	rel := f.repoPath(norm)
	bootstrapped, err := f.bootstrapIfEmpty(ctx, rel, src)
	if err != nil {
		return driver.UploadResult{}, err
	}
	if bootstrapped {
		f.invalidateAfterWrite(rel)
		return driver.UploadResult{StoragePath: norm}, nil
	}

	sha, err := f.createBlob(ctx, info.ContentLength, src)
	if err != nil {
		return driver.UploadResult{}, err
	}
	if _, err := f.commitChanges(ctx, fmt.Sprintf("Upload %s", rel), []pendingChange{
		{path: rel, sha: sha, hasBlob: true},
	}); err != nil {
		return driver.UploadResult{}, err
	}
	f.invalidateAfterWrite(rel)
	return driver.UploadResult{StoragePath: norm}, nil
}

func (f *Fs) UpdateFile(ctx context.Context, p string, src io.Reader) (string, error) {
	res, err := f.UploadFile(ctx, p, src, driver.UploadInfo{ContentLength: -1})
	if err != nil {
		return "", err
	}
	return res.StoragePath, nil
}

// bootstrapIfEmpty seeds the first commit via a Contents-API PUT
// whenever resolving the configured branch head reports not-found
// (spec.md §4.4.2); it does not check separately whether the
// repository has any commits. It reports bootstrapped=false (and leaves
// src untouched) whenever the head resolves normally, so the caller
// falls through to the standard Git-DB path.
func (f *Fs) bootstrapIfEmpty(ctx context.Context, rel string, src io.Reader) (bool, error) {
	_, _, err := f.resolveHead(ctx)
	if err == nil {
		return false, nil
	}
	if !driver.Is(err, driver.CodeNotFound) {
		return false, err
	}

	body, err := io.ReadAll(src)
	if err != nil {
		return false, driver.Wrap(driver.CodeInvalidResponse, err, "githost: reading bootstrap upload source")
	}
	req := contentsPutRequest{
		Message: fmt.Sprintf("Initialize %s", rel),
		Content: base64.StdEncoding.EncodeToString(body),
		Branch:  f.opt.Revision,
	}
	_, err = f.client.CallJSON(ctx, &rest.Opts{
		Method:     "PUT",
		Path:       fmt.Sprintf("/api/repos/%s/contents/%s", f.opt.Repo, rest.URLPathEscape(rel)),
		NoResponse: true,
	}, req, nil)
	if err != nil {
		return false, err
	}
	return true, nil
}

// commitChanges runs the standard write sequence (spec.md §4.4):
// resolve HEAD, compose tree entries, create tree with base_tree,
// create commit, patch ref (force:false). Writes never retry on
// network error or 5xx (spec.md §4.4.5) — a single attempt only.
func (f *Fs) commitChanges(ctx context.Context, summary string, changes []pendingChange) (string, error) {
	headCommit, headTree, err := f.resolveHead(ctx)
	if err != nil {
		return "", err
	}

	entries := make([]newTreeRefEntry, 0, len(changes))
	for _, c := range changes {
		if c.delete {
			entries = append(entries, newTreeRefEntry{Path: c.path, Mode: "100644", Type: "blob", SHA: nil})
			continue
		}
		sha := c.sha
		if !c.hasBlob {
			sha, err = f.createBlob(ctx, c.size, c.src)
			if err != nil {
				return "", err
			}
		}
		shaCopy := sha
		entries = append(entries, newTreeRefEntry{Path: c.path, Mode: "100644", Type: "blob", SHA: &shaCopy})
	}

	var newTree newTreeResponse
	_, err = f.client.CallJSON(ctx, &rest.Opts{
		Method: "POST",
		Path:   fmt.Sprintf("/api/repos/%s/git/trees", f.opt.Repo),
	}, newTreeRequest{BaseTree: headTree, Tree: entries}, &newTree)
	if err != nil {
		return "", err
	}

	var newCommit newCommitResponse
	_, err = f.client.CallJSON(ctx, &rest.Opts{
		Method: "POST",
		Path:   fmt.Sprintf("/api/repos/%s/git/commits", f.opt.Repo),
	}, newCommitRequest{Message: summary, Tree: newTree.SHA, Parents: []string{headCommit}}, &newCommit)
	if err != nil {
		return "", err
	}

	_, err = f.client.CallJSON(ctx, &rest.Opts{
		Method:     "PATCH",
		Path:       fmt.Sprintf("/api/repos/%s/git/refs/heads/%s", f.opt.Repo, rest.URLPathEscape(f.opt.Revision)),
		NoResponse: true,
	}, patchRefRequest{SHA: newCommit.SHA, Force: false}, nil)
	if err != nil {
		return "", err
	}
	return newCommit.SHA, nil
}

// rejectSubmoduleTargets fetches the repo's recursive tree once and
// refuses with CodeSubmoduleUnsup if any of the given (already
// normalized) paths is, or sits above, a "commit"-type entry — the
// same check renameOrCopy runs before composing its tree (rename.go).
func (f *Fs) rejectSubmoduleTargets(ctx context.Context, norms []string) error {
	if len(norms) == 0 {
		return nil
	}
	_, headTree, err := f.resolveHead(ctx)
	if err != nil {
		return err
	}
	var tr treeResponse
	_, err = f.client.CallJSON(ctx, &rest.Opts{
		Method: "GET",
		Path:   fmt.Sprintf("/api/repos/%s/git/trees/%s?recursive=1", f.opt.Repo, headTree),
	}, nil, &tr)
	if err != nil {
		return err
	}
	if tr.Truncated {
		return driver.NewError(driver.CodeTreeTruncated,
			"githost: recursive tree listing truncated; delete aborted")
	}

	rels := make([]string, len(norms))
	for i, p := range norms {
		rels[i] = strings.Trim(f.repoPath(p), "/")
	}
	for _, e := range tr.Tree {
		if e.Type != "commit" {
			continue
		}
		for _, rel := range rels {
			if e.Path == rel || strings.HasPrefix(e.Path, rel+"/") {
				return driver.NewError(driver.CodeSubmoduleUnsup,
					"githost: target includes a submodule").WithDetails("path", e.Path)
			}
		}
	}
	return nil
}

func (f *Fs) invalidateAfterWrite(rel string) {
	f.modifiedCache.Remove(fmt.Sprintf("%s@%s:%s", f.opt.Repo, f.opt.Revision, rel))
	parent := rel
	if idx := strings.LastIndexByte(rel, '/'); idx >= 0 {
		parent = rel[:idx]
	}
	f.treeShaCache.Remove(fmt.Sprintf("%s@%s:%s", f.opt.Repo, f.opt.Revision, parent))
}

// CreateDirectory writes a .gitkeep sentinel blob, since a Git tree has
// no directory objects of its own (same approach as the hub dataset
// driver's CreateDirectory).
func (f *Fs) CreateDirectory(ctx context.Context, p string) (driver.CreateDirResult, error) {
	if err := driver.RequireCapability(f.caps, driver.Writer); err != nil {
		return driver.CreateDirResult{}, err
	}
	norm, err := driver.NormalizePath(p, true)
	if err != nil {
		return driver.CreateDirResult{}, driver.Wrap(driver.CodeInvalidPath, err, "githost: invalid path")
	}
	keep := driver.Join(norm, gitkeepName)
	if exists, _ := f.Exists(ctx, keep); exists {
		return driver.CreateDirResult{Path: norm, AlreadyExisted: true}, nil
	}
	_, err = f.UploadFile(ctx, keep, strings.NewReader(""), driver.UploadInfo{ContentLength: 0})
	if err != nil {
		return driver.CreateDirResult{}, err
	}
	return driver.CreateDirResult{Path: norm, AlreadyExisted: false}, nil
}

// BatchRemoveItems commits a batch of deletions in one tree-composition
// pass, refusing the whole batch if any targeted path is, or contains,
// a submodule (spec.md shared invariant (e): submodule entries never
// participate in copy/move/delete).
func (f *Fs) BatchRemoveItems(ctx context.Context, paths []string, displayPaths []string) (driver.BatchRemoveResult, error) {
	if err := driver.RequireCapability(f.caps, driver.Writer); err != nil {
		return driver.BatchRemoveResult{}, err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := f.throttleWrite(ctx); err != nil {
		return driver.BatchRemoveResult{}, err
	}

	seen := map[string]bool{}
	var unique []string
	for _, p := range paths {
		norm, err := driver.NormalizePath(p, false)
		if err != nil {
			continue
		}
		if !seen[norm] {
			seen[norm] = true
			unique = append(unique, norm)
		}
	}

	if err := f.rejectSubmoduleTargets(ctx, unique); err != nil {
		return driver.BatchRemoveResult{}, err
	}

	changes := make([]pendingChange, 0, len(unique))
	for _, p := range unique {
		changes = append(changes, pendingChange{path: f.repoPath(p), delete: true})
	}

	result := driver.BatchRemoveResult{}
	if _, err := f.commitChanges(ctx, fmt.Sprintf("Delete %d path(s)", len(unique)), changes); err != nil {
		de, _ := driver.AsError(err)
		for _, p := range unique {
			result.Failed = append(result.Failed, driver.PathError{Path: p, Error: de})
		}
		return result, nil
	}
	result.Success = unique
	for _, p := range unique {
		f.invalidateAfterWrite(f.repoPath(p))
	}
	return result, nil
}
