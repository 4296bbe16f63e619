package hubdataset

import (
	"context"
	"fmt"

	"github.com/hubdrive/drivercore/driver"
	"github.com/hubdrive/drivercore/internal/rest"
)

const refsCacheKey = "refs"

// refSets is what the refs cache stores: the known branch/tag names
// used by driver.ClassifyRef.
type refSets struct {
	branches map[string]bool
	tags     map[string]bool
}

func (f *Fs) loadRefs(ctx context.Context) (refSets, error) {
	v, err := f.refsCache.GetOrLoad(ctx, refsCacheKey, func(ctx context.Context) (any, error) {
		var resp refsResponse
		opts := &rest.Opts{
			Method: "GET",
			Path:   fmt.Sprintf("/api/datasets/%s/refs", f.opt.Repo),
		}
		err := f.pacer.Call(func() (bool, error) {
			resp2, callErr := f.client.CallJSON(ctx, opts, nil, &resp)
			return shouldRetry(ctx, resp2, callErr)
		})
		if err != nil {
			return nil, err
		}
		sets := refSets{branches: map[string]bool{}, tags: map[string]bool{}}
		for _, b := range resp.Branches {
			sets.branches[b.Name] = true
		}
		for _, t := range resp.Tags {
			sets.tags[t.Name] = true
		}
		return sets, nil
	})
	if err != nil {
		return refSets{}, err
	}
	return v.(refSets), nil
}

// classifyRevision classifies f.opt.Revision, consulting the refs
// cache when it isn't trivially a 40-hex commit id. A non-nil error
// means the refs probe itself failed (network error, backend hiccup);
// callers must not treat that the same as a successful classification
// that came back RefUnknown.
func (f *Fs) classifyRevision(ctx context.Context) (driver.RefKind, error) {
	if kind := driver.ClassifyRef(f.opt.Revision, nil, nil); kind == driver.RefCommit {
		return kind, nil
	}
	sets, err := f.loadRefs(ctx)
	if err != nil {
		return driver.RefUnknown, err
	}
	return driver.ClassifyRef(f.opt.Revision, sets.branches, sets.tags), nil
}

// requireWritableRef enforces spec.md §4.3.2: before any write, if a
// credential is present and the ref isn't already known to be a
// commit id, the ref must classify as a branch. A refs-probe failure
// does not block the write (spec.md §4.3.2: "the backend will reject
// if truly unwritable"); only a successful classification that comes
// back non-branch does.
func (f *Fs) requireWritableRef(ctx context.Context) error {
	if f.opt.Token == "" {
		return nil
	}
	if driver.ClassifyRef(f.opt.Revision, nil, nil) == driver.RefCommit {
		return nil
	}
	kind, err := f.classifyRevision(ctx)
	if err != nil {
		return nil
	}
	if kind == driver.RefBranch {
		return nil
	}
	return driver.NewError(driver.CodeRevisionNotWrite,
		fmt.Sprintf("hubdataset: revision %q is not a writable branch", f.opt.Revision))
}
