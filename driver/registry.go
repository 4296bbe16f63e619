package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// registry is the process-wide set of known backend kinds, filled by
// each backend package's init() calling Register — the same shape as
// the teacher's fs.Register/fs.Find.
var (
	registryMu sync.RWMutex
	registry   = map[string]*RegInfo{}
)

// Register makes a backend kind available to NewDriver. Called from a
// backend package's init().
func Register(info *RegInfo) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[info.Name] = info
}

// Find looks up a registered backend kind by name.
func Find(name string) (*RegInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := registry[name]
	return info, ok
}

// Registered lists every registered backend kind name, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New constructs and initializes a driver of the named kind. This is
// the single entry point the orchestrator (outside this module) needs:
// it never has to import a backend package directly.
func New(ctx context.Context, kind, name, root string, raw map[string]string, collab Collaborators) (Driver, error) {
	info, ok := Find(kind)
	if !ok {
		return nil, NewError(CodeInvalidConfig, fmt.Sprintf("unknown driver kind %q", kind))
	}
	d, err := info.NewDriver(ctx, name, root, raw, collab)
	if err != nil {
		return nil, err
	}
	if err := d.Initialize(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// RequireCapability is a helper every driver operation should call
// before touching the network, so that "capability honesty" (spec.md
// §8: a write operation on a driver without WRITER raises a semantic
// refusal before any network call) is enforced uniformly.
func RequireCapability(caps Capabilities, want ...Capability) error {
	if caps.Has(want...) {
		return nil
	}
	for _, w := range want {
		if !caps.Has(w) {
			return NewError(CodeCapabilityMissing, fmt.Sprintf("driver does not advertise capability %s", w)).
				WithDetails("capability", w.String())
		}
	}
	return nil
}
