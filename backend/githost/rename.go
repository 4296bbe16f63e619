package githost

import (
	"context"
	"fmt"
	"strings"

	"github.com/hubdrive/drivercore/driver"
	"github.com/hubdrive/drivercore/internal/rest"
)

func (f *Fs) RenameItem(ctx context.Context, src, dst string) (driver.OpResult, error) {
	return f.renameOrCopy(ctx, src, dst, true, false)
}

func (f *Fs) CopyItem(ctx context.Context, src, dst string, skipExisting bool) (driver.OpResult, error) {
	return f.renameOrCopy(ctx, src, dst, false, skipExisting)
}

// renameOrCopy fetches the repo's recursive tree once and turns every
// blob under src into a `reuse` action at the renamed path (spec.md
// §4.4.3), rejecting the whole operation if a submodule sits anywhere
// in the affected subtree.
func (f *Fs) renameOrCopy(ctx context.Context, src, dst string, isMove, skipExisting bool) (driver.OpResult, error) {
	if err := driver.RequireCapability(f.caps, driver.Writer, driver.Atomic); err != nil {
		return driver.OpResult{}, err
	}
	normSrc, err := driver.NormalizePath(src, false)
	if err != nil {
		return driver.OpResult{}, driver.Wrap(driver.CodeInvalidPath, err, "githost: invalid source path")
	}
	normDst, err := driver.NormalizePath(dst, false)
	if err != nil {
		return driver.OpResult{}, driver.Wrap(driver.CodeInvalidPath, err, "githost: invalid destination path")
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := f.throttleWrite(ctx); err != nil {
		return driver.OpResult{}, err
	}

	if skipExisting {
		if exists, _ := f.Exists(ctx, normDst); exists {
			return driver.OpResult{Status: driver.OpSkipped}, nil
		}
	}

	_, headTree, err := f.resolveHead(ctx)
	if err != nil {
		return driver.OpResult{}, err
	}
	var tr treeResponse
	_, err = f.client.CallJSON(ctx, &rest.Opts{
		Method: "GET",
		Path:   fmt.Sprintf("/api/repos/%s/git/trees/%s?recursive=1", f.opt.Repo, headTree),
	}, nil, &tr)
	if err != nil {
		return driver.OpResult{}, err
	}
	if tr.Truncated {
		return driver.OpResult{}, driver.NewError(driver.CodeTreeTruncated,
			"githost: recursive tree listing truncated; rename/copy aborted")
	}

	srcRel := strings.Trim(f.repoPath(normSrc), "/")
	dstRel := strings.Trim(f.repoPath(normDst), "/")

	var changes []pendingChange
	var matched bool
	for _, e := range tr.Tree {
		if e.Path != srcRel && !strings.HasPrefix(e.Path, srcRel+"/") {
			continue
		}
		matched = true
		if e.Type == "commit" {
			return driver.OpResult{}, driver.NewError(driver.CodeSubmoduleUnsup,
				"githost: source subtree includes a submodule").WithDetails("path", e.Path)
		}
		if e.Type != "blob" {
			continue
		}
		newPath := dstRel + strings.TrimPrefix(e.Path, srcRel)
		sha := e.SHA
		changes = append(changes, pendingChange{path: newPath, sha: sha, hasBlob: true})
		if isMove {
			changes = append(changes, pendingChange{path: e.Path, delete: true})
		}
	}
	if !matched {
		return driver.OpResult{}, driver.NewError(driver.CodeNotFound, "githost: source path not found")
	}

	summary := fmt.Sprintf("Copy %s to %s", normSrc, normDst)
	if isMove {
		summary = fmt.Sprintf("Rename %s to %s", normSrc, normDst)
	}
	if _, err := f.commitChanges(ctx, summary, changes); err != nil {
		return driver.OpResult{Status: driver.OpFailed}, err
	}
	f.invalidateAfterWrite(srcRel)
	f.invalidateAfterWrite(dstRel)
	return driver.OpResult{Status: driver.OpSuccess}, nil
}
