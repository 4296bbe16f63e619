package driver

import "time"

// Stat is the uniform stat record every driver returns from Stat and
// embeds in directory listings (spec.md §3). Size and Modified are
// pointers so "unknown" (nil) is distinguishable from zero.
type Stat struct {
	Path            string
	Name            string
	IsDirectory     bool
	Size            *int64
	Modified        *time.Time
	Mimetype        string
	ETag            string
	StorageBackend  string
}

// WithSize is a convenience constructor helper.
func WithSize(n int64) *int64 { return &n }

// ListPage is the result of one call to ListDirectory (spec.md §4.1).
type ListPage struct {
	Items      []Stat
	IsRoot     bool
	HasMore    bool
	NextCursor string
}

// ListOptions parametrizes ListDirectory for drivers that advertise
// PagedList.
type ListOptions struct {
	Paged   bool
	Cursor  string
	Limit   int
	Refresh bool
}
