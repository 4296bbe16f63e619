package hubdataset

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hubdrive/drivercore/internal/rest"
)

const pathsInfoBatchSize = 200
const pathsInfoConcurrency = 2

// pathsInfo resolves metadata for a set of paths via the batched
// paths-info endpoint (spec.md §4.3.3): up to 200 paths per batch,
// concurrency 2 (grounded on the teacher's backend/b2 errgroup-based
// parallel part upload, here fanning out over batches instead of
// parts), each result cached 30s keyed by (repo@rev, purpose, expand,
// auth-mode).
func (f *Fs) pathsInfo(ctx context.Context, paths []string, expand bool, purpose string) (map[string]pathInfo, error) {
	out := make(map[string]pathInfo, len(paths))
	var toFetch []string
	for _, p := range paths {
		key := f.pathsInfoCacheKey(p, expand, purpose)
		if v, ok := f.pathsCache.Get(key); ok {
			out[p] = v.(pathInfo)
			continue
		}
		toFetch = append(toFetch, p)
	}
	if len(toFetch) == 0 {
		return out, nil
	}

	var batches [][]string
	for i := 0; i < len(toFetch); i += pathsInfoBatchSize {
		end := i + pathsInfoBatchSize
		if end > len(toFetch) {
			end = len(toFetch)
		}
		batches = append(batches, toFetch[i:end])
	}

	results := make([]map[string]pathInfo, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pathsInfoConcurrency)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			m, err := f.pathsInfoBatch(gctx, batch, expand, purpose)
			if err != nil {
				return err
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, m := range results {
		for p, info := range m {
			out[p] = info
			f.pathsCache.SetWithTTL(f.pathsInfoCacheKey(p, expand, purpose), info, pathsInfoTTL)
		}
	}
	return out, nil
}

func (f *Fs) pathsInfoBatch(ctx context.Context, paths []string, expand bool, purpose string) (map[string]pathInfo, error) {
	var resp []pathInfo
	opts := &rest.Opts{
		Method: "POST",
		Path:   fmt.Sprintf("/api/datasets/%s/paths-info/%s", f.opt.Repo, f.opt.Revision),
	}
	body := pathsInfoRequest{Paths: paths, Expand: expand, Purpose: purpose}
	err := f.pacer.Call(func() (bool, error) {
		resp2, callErr := f.client.CallJSON(ctx, opts, body, &resp)
		return shouldRetry(ctx, resp2, callErr)
	})
	if err != nil {
		return nil, err
	}
	m := make(map[string]pathInfo, len(resp))
	for _, pi := range resp {
		m[pi.Path] = pi
	}
	return m, nil
}

func (f *Fs) pathsInfoCacheKey(path string, expand bool, purpose string) string {
	authMode := "anon"
	if f.opt.Token != "" {
		authMode = "auth"
	}
	return fmt.Sprintf("pathsinfo:%s@%s:%s:%v:%s", f.opt.Repo, f.opt.Revision, purpose, expand, authMode) + ":" + path
}
