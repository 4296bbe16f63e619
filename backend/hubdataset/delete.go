package hubdataset

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hubdrive/drivercore/driver"
	"github.com/hubdrive/drivercore/internal/rest"
)

const lfsFilesPageSize = 100
const lfsDeleteBatchSize = 1000

// BatchRemoveItems commits a batch delete (spec.md §4.3.5). When
// delete_lfs_on_remove is set, LFS oids are collected before the
// commit and the corresponding storage blobs are cleaned up after a
// successful commit. Cleanup failures never fail the delete itself;
// they are discarded, and are neither returned in the result nor logged.
func (f *Fs) BatchRemoveItems(ctx context.Context, paths []string, displayPaths []string) (driver.BatchRemoveResult, error) {
	if err := driver.RequireCapability(f.caps, driver.Writer); err != nil {
		return driver.BatchRemoveResult{}, err
	}
	if err := f.requireWritableRef(ctx); err != nil {
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

	var wantOIDs []string
	if f.opt.DeleteLFSOnRemove {
		rels := make([]string, len(unique))
		for i, p := range unique {
			rels[i] = f.repoPath(p)
		}
		infos, err := f.pathsInfo(ctx, rels, true, "delete")
		if err == nil {
			for _, info := range infos {
				if info.LFS != nil {
					wantOIDs = append(wantOIDs, info.LFS.OID)
				}
			}
		}
	}

	entries := make([]commitLine, 0, len(unique))
	for _, p := range unique {
		entries = append(entries, rawCommitLine("deletedFile", commitDeletedFile{Path: f.repoPath(p)}))
	}

	result := driver.BatchRemoveResult{}
	if err := f.commitLines(ctx, "Delete "+fmt.Sprint(len(unique))+" path(s)", entries); err != nil {
		de, _ := driver.AsError(err)
		for _, p := range unique {
			result.Failed = append(result.Failed, driver.PathError{Path: p, Error: de})
		}
		return result, nil
	}
	result.Success = unique
	f.invalidateAfterWrite("/")

	if len(wantOIDs) > 0 {
		// Cleanup failures never fail the delete (spec.md §4.3.5). The
		// error is discarded here: BatchRemoveResult has no warnings
		// field, and nothing logs it.
		_ = f.cleanupLFSBlobs(ctx, wantOIDs)
	}

	return result, nil
}

// cleanupLFSBlobs maps wanted LFS oids to their storage fileOids by
// scanning the repo's LFS-files listing (paginated, stopping as soon
// as every wanted oid has been found), then issues the destructive
// batch-delete call in groups of at most 1000 (spec.md §4.3.5).
func (f *Fs) cleanupLFSBlobs(ctx context.Context, wantOIDs []string) error {
	want := map[string]bool{}
	for _, oid := range wantOIDs {
		want[oid] = true
	}

	fileOIDs := make([]string, 0, len(wantOIDs))
	cursor := ""
	for len(want) > 0 {
		urlPath := fmt.Sprintf("/api/datasets/%s/lfs-files?limit=%d", f.opt.Repo, lfsFilesPageSize)
		if cursor != "" {
			urlPath += "&cursor=" + cursor
		}
		var page lfsFilesPage
		opts := &rest.Opts{Method: "GET", Path: urlPath}
		var resp *http.Response
		err := f.pacer.Call(func() (bool, error) {
			var callErr error
			resp, callErr = f.client.CallJSON(ctx, opts, nil, &page)
			return shouldRetry(ctx, resp, callErr)
		})
		if err != nil {
			return err
		}
		for _, entry := range page.Files {
			if want[entry.OID] {
				fileOIDs = append(fileOIDs, entry.FileOID)
				delete(want, entry.OID)
			}
		}
		next := ""
		if resp != nil {
			next = rest.ParseLinkNext(resp.Header)
			if u, err := url.Parse(next); err == nil && u.Query().Get("cursor") != "" {
				next = u.Query().Get("cursor")
			}
		}
		if next == "" || next == cursor || len(page.Files) == 0 {
			break
		}
		cursor = next
	}

	for i := 0; i < len(fileOIDs); i += lfsDeleteBatchSize {
		end := i + lfsDeleteBatchSize
		if end > len(fileOIDs) {
			end = len(fileOIDs)
		}
		_, err := f.client.CallJSON(ctx, &rest.Opts{
			Method:     "POST",
			Path:       fmt.Sprintf("/api/datasets/%s/lfs-files/batch", f.opt.Repo),
			NoResponse: true,
		}, lfsBatchDeleteRequest{FileOIDs: fileOIDs[i:end], RewriteHistory: false}, nil)
		if err != nil {
			return err
		}
	}
	return nil
}
